// Package sequence allocates unique, increasing ordinals scoped to a (table, chat, turn)
// triple. Allocation is a single atomic upsert on the sequence_counters table so concurrent
// writers in any number of processes never receive the same value.
//
// Ordinals are unique and increasing but not contiguous. A block allocated in its own
// transaction stays consumed even if the rows meant to use it are never written.
package sequence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/elee1766/chathistory/src/storage"
)

// ErrInvalidRequest is returned for requests with a non-positive count or a missing scope.
var ErrInvalidRequest = errors.New("invalid sequence request")

// Request describes one allocation.
type Request struct {
	Table  string
	ChatID string
	TurnID int64
	Count  int

	// Tx, when set, makes the allocation part of the caller's transaction so the ordinals and
	// the rows that consume them commit together.
	Tx *storage.Tx
}

// Range is an inclusive block of allocated ordinals.
type Range struct {
	First int64
	Last  int64
}

// Len returns the number of ordinals in the range.
func (r Range) Len() int {
	return int(r.Last - r.First + 1)
}

// Allocator hands out ordinals from the sequence_counters table.
type Allocator struct {
	db     *storage.DB
	logger *slog.Logger
}

// NewAllocator creates an allocator backed by db.
func NewAllocator(db *storage.DB, logger *slog.Logger) *Allocator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Allocator{db: db, logger: logger.With("component", "sequence")}
}

// Allocate reserves req.Count ordinals. Errors are never masked by a cached value.
func (a *Allocator) Allocate(ctx context.Context, req Request) (Range, error) {
	if req.Count <= 0 || req.Table == "" || req.ChatID == "" {
		return Range{}, fmt.Errorf("%w: table=%q chat=%q count=%d", ErrInvalidRequest, req.Table, req.ChatID, req.Count)
	}

	var watermark int64
	var err error
	if req.Tx != nil {
		watermark, err = bump(ctx, req.Tx, req)
	} else {
		err = a.db.InTx(ctx, func(tx *storage.Tx) error {
			var txErr error
			watermark, txErr = bump(ctx, tx, req)
			return txErr
		})
	}
	if err != nil {
		return Range{}, fmt.Errorf("allocate %d from %s/%s/%d: %w", req.Count, req.Table, req.ChatID, req.TurnID, err)
	}

	r := Range{First: watermark - int64(req.Count) + 1, Last: watermark}
	a.logger.Debug("allocated ordinals",
		"table", req.Table,
		"chat_id", req.ChatID,
		"turn_id", req.TurnID,
		"first", r.First,
		"last", r.Last)
	return r, nil
}

// bump advances the watermark by req.Count and returns the new watermark.
func bump(ctx context.Context, db storage.ExecQuerier, req Request) (int64, error) {
	var watermark int64

	switch db.Dialect() {
	case storage.DialectMySQL:
		// LAST_INSERT_ID(expr) stores expr for the connection; the tx pins the connection.
		_, err := db.ExecContext(ctx, `INSERT INTO sequence_counters (table_name, chat_id, turn_id, next_value)
			VALUES (?, ?, ?, LAST_INSERT_ID(?))
			ON DUPLICATE KEY UPDATE next_value = LAST_INSERT_ID(next_value + VALUES(next_value))`,
			req.Table, req.ChatID, req.TurnID, req.Count)
		if err != nil {
			return 0, err
		}
		if err := db.QueryRowContext(ctx, `SELECT LAST_INSERT_ID()`).Scan(&watermark); err != nil {
			return 0, err
		}
	default:
		err := db.QueryRowContext(ctx, `INSERT INTO sequence_counters (table_name, chat_id, turn_id, next_value)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (table_name, chat_id, turn_id)
			DO UPDATE SET next_value = sequence_counters.next_value + excluded.next_value
			RETURNING next_value`,
			req.Table, req.ChatID, req.TurnID, req.Count).Scan(&watermark)
		if err != nil {
			return 0, err
		}
	}

	return watermark, nil
}
