package chatlog

import (
	"context"

	"github.com/elee1766/chathistory/src/sequence"
	"github.com/elee1766/chathistory/src/storage"
)

// Sequence scopes used by the recorder.
const (
	tableMessages = "chat_messages"
	tableTurns    = "chat_turns"
)

// Store is the transactional store the router writes through. Every handler step opens
// exactly one transaction.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx StoreTx) error) error
}

// StoreTx is the set of writes available inside a transaction.
type StoreTx interface {
	AllocateOrder(ctx context.Context, chatID string, turnID int64, count int) (sequence.Range, error)
	AllocateTurn(ctx context.Context, chatID string) (int64, error)
	EnsureChat(ctx context.Context, chat *storage.Chat) (bool, error)
	TouchChat(ctx context.Context, chatID string, ts int64) error
	CreateTurn(ctx context.Context, turn *storage.Turn) error
	FinishTurn(ctx context.Context, c *storage.TurnCompletion) error
	FailPendingTurn(ctx context.Context, c *storage.TurnCompletion) (bool, error)
	CreateMessage(ctx context.Context, m *storage.Message) error
	UpdateMessage(ctx context.Context, u *storage.MessageUpdate) error
	CreateTokenUsage(ctx context.Context, u *storage.TokenUsage) error
}

// SQLStore implements Store on a storage.DB, allocating ordinals inside the same transaction
// as the rows that consume them.
type SQLStore struct {
	db    *storage.DB
	alloc *sequence.Allocator
}

var _ Store = (*SQLStore)(nil)

// NewSQLStore creates a store over db. alloc must be backed by the same database.
func NewSQLStore(db *storage.DB, alloc *sequence.Allocator) *SQLStore {
	return &SQLStore{db: db, alloc: alloc}
}

func (s *SQLStore) InTx(ctx context.Context, fn func(ctx context.Context, tx StoreTx) error) error {
	return s.db.InTx(ctx, func(tx *storage.Tx) error {
		return fn(ctx, &sqlTx{tx: tx, alloc: s.alloc})
	})
}

type sqlTx struct {
	tx    *storage.Tx
	alloc *sequence.Allocator
}

func (t *sqlTx) AllocateOrder(ctx context.Context, chatID string, turnID int64, count int) (sequence.Range, error) {
	return t.alloc.Allocate(ctx, sequence.Request{Table: tableMessages, ChatID: chatID, TurnID: turnID, Count: count, Tx: t.tx})
}

func (t *sqlTx) AllocateTurn(ctx context.Context, chatID string) (int64, error) {
	r, err := t.alloc.Allocate(ctx, sequence.Request{Table: tableTurns, ChatID: chatID, Count: 1, Tx: t.tx})
	if err != nil {
		return 0, err
	}
	return r.Last, nil
}

func (t *sqlTx) EnsureChat(ctx context.Context, chat *storage.Chat) (bool, error) {
	return storage.EnsureChat(ctx, t.tx, chat)
}

func (t *sqlTx) TouchChat(ctx context.Context, chatID string, ts int64) error {
	return storage.TouchChat(ctx, t.tx, chatID, ts)
}

func (t *sqlTx) CreateTurn(ctx context.Context, turn *storage.Turn) error {
	return storage.CreateTurn(ctx, t.tx, turn)
}

func (t *sqlTx) FinishTurn(ctx context.Context, c *storage.TurnCompletion) error {
	return storage.FinishTurn(ctx, t.tx, c)
}

func (t *sqlTx) FailPendingTurn(ctx context.Context, c *storage.TurnCompletion) (bool, error) {
	return storage.FailPendingTurn(ctx, t.tx, c)
}

func (t *sqlTx) CreateMessage(ctx context.Context, m *storage.Message) error {
	return storage.CreateMessage(ctx, t.tx, m)
}

func (t *sqlTx) UpdateMessage(ctx context.Context, u *storage.MessageUpdate) error {
	return storage.UpdateMessage(ctx, t.tx, u)
}

func (t *sqlTx) CreateTokenUsage(ctx context.Context, u *storage.TokenUsage) error {
	return storage.CreateTokenUsage(ctx, t.tx, u)
}
