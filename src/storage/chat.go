package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/georgysavva/scany/v2/sqlscan"
)

const chatColumns = `id, title, user_id, metadata, created_ts, updated_ts`

// EnsureChat inserts the chat unless a row with its id already exists. It reports whether
// a row was created.
func EnsureChat(ctx context.Context, db ExecQuerier, chat *Chat) (bool, error) {
	if chat.ID == "" {
		chat.ID = NewChatID()
	}
	if chat.Metadata == nil {
		chat.Metadata = JSONMap{}
	}
	now := NowMillis()
	if chat.CreatedTs == 0 {
		chat.CreatedTs = now
	}
	if chat.UpdatedTs == 0 {
		chat.UpdatedTs = chat.CreatedTs
	}

	query := `INSERT INTO chats (` + chatColumns + `) VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT (id) DO NOTHING`
	if db.Dialect() == DialectMySQL {
		query = `INSERT IGNORE INTO chats (` + chatColumns + `) VALUES (?, ?, ?, ?, ?, ?)`
	}

	res, err := db.ExecContext(ctx, query, chat.ID, chat.Title, chat.UserID, chat.Metadata, chat.CreatedTs, chat.UpdatedTs)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetChatByID retrieves a chat by its ID
func GetChatByID(ctx context.Context, db ExecQuerier, chatID string) (*Chat, error) {
	query := `SELECT ` + chatColumns + ` FROM chats WHERE id = ?`
	var c Chat
	err := sqlscan.Get(ctx, db, &c, query, chatID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, err
	}
	return &c, nil
}

// ChatFilter narrows ListChats.
type ChatFilter struct {
	UserID *string
	Limit  int
}

// ListChats returns chats ordered by most recent activity
func ListChats(ctx context.Context, db ExecQuerier, filter ChatFilter) ([]Chat, error) {
	where, args := []string{"1 = 1"}, []any{}
	if v := filter.UserID; v != nil {
		where, args = append(where, "user_id = ?"), append(args, *v)
	}
	query := `SELECT ` + chatColumns + ` FROM chats WHERE ` + strings.Join(where, " AND ") + ` ORDER BY updated_ts DESC, id`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	var chats []Chat
	if err := sqlscan.Select(ctx, db, &chats, query, args...); err != nil {
		return nil, err
	}
	return chats, nil
}

// TouchChat bumps the chat's updated timestamp
func TouchChat(ctx context.Context, db ExecQuerier, chatID string, ts int64) error {
	_, err := db.ExecContext(ctx, `UPDATE chats SET updated_ts = ? WHERE id = ?`, ts, chatID)
	return err
}
