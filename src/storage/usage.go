package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/georgysavva/scany/v2/sqlscan"
)

// CreateTokenUsage inserts the usage row of a turn. A second row for the same turn violates
// the unique constraint.
func CreateTokenUsage(ctx context.Context, db ExecQuerier, usage *TokenUsage) error {
	if usage.CreatedTs == 0 {
		usage.CreatedTs = NowMillis()
	}

	query := `INSERT INTO token_usage (chat_id, turn_id, prompt_tokens, completion_tokens, total_tokens, created_ts)
		VALUES (?, ?, ?, ?, ?, ?)`
	args := []any{usage.ChatID, usage.TurnID, usage.PromptTokens, usage.CompletionTokens, usage.TotalTokens, usage.CreatedTs}

	if db.Dialect() == DialectPostgres {
		return db.QueryRowContext(ctx, query+` RETURNING id`, args...).Scan(&usage.ID)
	}

	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	usage.ID, err = res.LastInsertId()
	return err
}

// GetTokenUsage returns the usage row of a turn, or nil when none was recorded
func GetTokenUsage(ctx context.Context, db ExecQuerier, chatID string, turnID int64) (*TokenUsage, error) {
	query := `SELECT id, chat_id, turn_id, prompt_tokens, completion_tokens, total_tokens, created_ts
		FROM token_usage WHERE chat_id = ? AND turn_id = ?`
	var u TokenUsage
	err := sqlscan.Get(ctx, db, &u, query, chatID, turnID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

// UsageFilter narrows SumTokenUsage. Zero values match everything.
type UsageFilter struct {
	ChatID  string
	SinceTs int64
}

// SumTokenUsage totals recorded usage
func SumTokenUsage(ctx context.Context, db ExecQuerier, filter UsageFilter) (*UsageTotals, error) {
	where, args := []string{"1 = 1"}, []any{}
	if filter.ChatID != "" {
		where, args = append(where, "chat_id = ?"), append(args, filter.ChatID)
	}
	if filter.SinceTs > 0 {
		where, args = append(where, "created_ts >= ?"), append(args, filter.SinceTs)
	}

	query := `SELECT COUNT(*) AS turns,
			COALESCE(SUM(prompt_tokens), 0) AS prompt_tokens,
			COALESCE(SUM(completion_tokens), 0) AS completion_tokens,
			COALESCE(SUM(total_tokens), 0) AS total_tokens
		FROM token_usage WHERE ` + strings.Join(where, " AND ")

	var totals UsageTotals
	if err := sqlscan.Get(ctx, db, &totals, query, args...); err != nil {
		return nil, err
	}
	return &totals, nil
}
