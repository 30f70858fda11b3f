package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/georgysavva/scany/v2/sqlscan"
)

const turnColumns = `chat_id, turn_id, model, temperature, top_p, status, finish_reason, latency_ms, warnings, errors, metadata, created_ts, finished_ts`

// CreateTurn inserts a new turn row. The turn id must already be allocated.
func CreateTurn(ctx context.Context, db ExecQuerier, turn *Turn) error {
	if turn.Status == "" {
		turn.Status = TurnPending
	}
	if turn.Metadata == nil {
		turn.Metadata = JSONMap{}
	}
	if turn.CreatedTs == 0 {
		turn.CreatedTs = NowMillis()
	}

	var warnings, errs any
	if len(turn.Warnings) > 0 {
		warnings = turn.Warnings
	}
	if len(turn.Errors) > 0 {
		errs = turn.Errors
	}

	query := `INSERT INTO chat_turns (` + turnColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := db.ExecContext(ctx, query,
		turn.ChatID,
		turn.TurnID,
		turn.Model,
		turn.Temperature,
		turn.TopP,
		turn.Status,
		turn.FinishReason,
		turn.LatencyMs,
		warnings,
		errs,
		turn.Metadata,
		turn.CreatedTs,
		turn.FinishedTs,
	)
	return err
}

// FinishTurn writes the terminal state of a turn. It returns ErrTurnNotFound when no row matches.
func FinishTurn(ctx context.Context, db ExecQuerier, c *TurnCompletion) error {
	n, err := completeTurn(ctx, db, c, false)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrTurnNotFound
	}
	return nil
}

// FailPendingTurn writes the terminal state only if the turn is still pending. It reports
// whether a row was updated.
func FailPendingTurn(ctx context.Context, db ExecQuerier, c *TurnCompletion) (bool, error) {
	n, err := completeTurn(ctx, db, c, true)
	return n > 0, err
}

func completeTurn(ctx context.Context, db ExecQuerier, c *TurnCompletion, onlyPending bool) (int64, error) {
	if c.FinishedTs == 0 {
		c.FinishedTs = NowMillis()
	}
	var warnings, errs any
	if len(c.Warnings) > 0 {
		warnings = c.Warnings
	}
	if len(c.Errors) > 0 {
		errs = c.Errors
	}

	query := `UPDATE chat_turns
		SET status = ?, finish_reason = ?, latency_ms = ?, warnings = ?, errors = ?, finished_ts = ?
		WHERE chat_id = ? AND turn_id = ?`
	args := []any{c.Status, c.FinishReason, c.LatencyMs, warnings, errs, c.FinishedTs, c.ChatID, c.TurnID}
	if onlyPending {
		query += ` AND status = ?`
		args = append(args, TurnPending)
	}

	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// GetTurn retrieves a turn, returning nil when it does not exist
func GetTurn(ctx context.Context, db ExecQuerier, chatID string, turnID int64) (*Turn, error) {
	query := `SELECT ` + turnColumns + ` FROM chat_turns WHERE chat_id = ? AND turn_id = ?`
	var t Turn
	err := sqlscan.Get(ctx, db, &t, query, chatID, turnID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

// ListTurns returns the turns of a chat in turn order
func ListTurns(ctx context.Context, db ExecQuerier, chatID string) ([]Turn, error) {
	query := `SELECT ` + turnColumns + ` FROM chat_turns WHERE chat_id = ? ORDER BY turn_id`
	var turns []Turn
	if err := sqlscan.Select(ctx, db, &turns, query, chatID); err != nil {
		return nil, err
	}
	return turns, nil
}
