package storage

import (
	"context"
	"strings"

	"github.com/georgysavva/scany/v2/sqlscan"
)

const messageColumns = `id, chat_id, turn_id, message_order, role, content, tool_name, tool_call_id, status, created_ts, updated_ts`

// CreateMessage inserts a message and sets its generated id. MessageOrder must come from
// the sequence allocator.
func CreateMessage(ctx context.Context, db ExecQuerier, message *Message) error {
	if message.Status == "" {
		message.Status = MessagePending
	}
	now := NowMillis()
	if message.CreatedTs == 0 {
		message.CreatedTs = now
	}
	if message.UpdatedTs == 0 {
		message.UpdatedTs = message.CreatedTs
	}

	query := `INSERT INTO chat_messages (chat_id, turn_id, message_order, role, content, tool_name, tool_call_id, status, created_ts, updated_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	args := []any{
		message.ChatID,
		message.TurnID,
		message.MessageOrder,
		message.Role,
		message.Content,
		message.ToolName,
		message.ToolCallID,
		message.Status,
		message.CreatedTs,
		message.UpdatedTs,
	}

	if db.Dialect() == DialectPostgres {
		return db.QueryRowContext(ctx, query+` RETURNING id`, args...).Scan(&message.ID)
	}

	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	message.ID, err = res.LastInsertId()
	return err
}

// UpdateMessage changes the content and/or status of a message
func UpdateMessage(ctx context.Context, db ExecQuerier, update *MessageUpdate) error {
	if update.UpdatedTs == 0 {
		update.UpdatedTs = NowMillis()
	}
	set, args := []string{"updated_ts = ?"}, []any{update.UpdatedTs}
	if v := update.Content; v != nil {
		set, args = append(set, "content = ?"), append(args, *v)
	}
	if v := update.Status; v != nil {
		set, args = append(set, "status = ?"), append(args, *v)
	}
	args = append(args, update.ID)

	res, err := db.ExecContext(ctx, `UPDATE chat_messages SET `+strings.Join(set, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// ListMessages returns the messages of one turn ordered by message_order
func ListMessages(ctx context.Context, db ExecQuerier, chatID string, turnID int64) ([]Message, error) {
	query := `SELECT ` + messageColumns + ` FROM chat_messages WHERE chat_id = ? AND turn_id = ? ORDER BY message_order`
	var messages []Message
	if err := sqlscan.Select(ctx, db, &messages, query, chatID, turnID); err != nil {
		return nil, err
	}
	return messages, nil
}

// ListChatMessages returns every message of a chat ordered by turn and message_order
func ListChatMessages(ctx context.Context, db ExecQuerier, chatID string) ([]Message, error) {
	query := `SELECT ` + messageColumns + ` FROM chat_messages WHERE chat_id = ? ORDER BY turn_id, message_order`
	var messages []Message
	if err := sqlscan.Select(ctx, db, &messages, query, chatID); err != nil {
		return nil, err
	}
	return messages, nil
}
