package chatlog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/elee1766/chathistory/src/sequence"
	"github.com/elee1766/chathistory/src/storage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memData struct {
	chats    map[string]storage.Chat
	turns    map[Key]storage.Turn
	messages []storage.Message
	usage    []storage.TokenUsage
	counters map[string]int64
	nextID   int64
}

func (d memData) clone() memData {
	out := memData{
		chats:    make(map[string]storage.Chat, len(d.chats)),
		turns:    make(map[Key]storage.Turn, len(d.turns)),
		messages: append([]storage.Message(nil), d.messages...),
		usage:    append([]storage.TokenUsage(nil), d.usage...),
		counters: make(map[string]int64, len(d.counters)),
		nextID:   d.nextID,
	}
	for k, v := range d.chats {
		out.chats[k] = v
	}
	for k, v := range d.turns {
		out.turns[k] = v
	}
	for k, v := range d.counters {
		out.counters[k] = v
	}
	return out
}

// memStore is an in-memory Store with transaction rollback and failure injection.
type memStore struct {
	mu   sync.Mutex
	data memData

	txCount int
	commits int

	// failTx makes InTx fail without running the transaction body.
	failTx error
	// failOps makes the named StoreTx method fail.
	failOps map[string]error
	// stallOps makes the named StoreTx method block until its context ends.
	stallOps map[string]bool
}

func newMemStore() *memStore {
	return &memStore{
		data: memData{
			chats:    map[string]storage.Chat{},
			turns:    map[Key]storage.Turn{},
			counters: map[string]int64{},
		},
		failOps:  map[string]error{},
		stallOps: map[string]bool{},
	}
}

// withTurn seeds a chat and a pending turn.
func (s *memStore) withTurn(chatID string, turnID int64) *memStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.chats[chatID] = storage.Chat{ID: chatID}
	s.data.turns[Key{ChatID: chatID, TurnID: turnID}] = storage.Turn{ChatID: chatID, TurnID: turnID, Status: storage.TurnPending}
	s.data.counters[counterKey(tableTurns, chatID, 0)] = turnID
	return s
}

func (s *memStore) fail(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failOps[op] = err
}

func (s *memStore) stall(op string, on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stallOps[op] = on
}

func (s *memStore) setFailTx(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failTx = err
}

func (s *memStore) InTx(ctx context.Context, fn func(ctx context.Context, tx StoreTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txCount++
	if s.failTx != nil {
		return s.failTx
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	work := s.data.clone()
	if err := fn(ctx, &memTx{store: s, data: &work}); err != nil {
		return err
	}
	s.data = work
	s.commits++
	return nil
}

// gatedStore holds every transaction until release is closed or the step's context ends.
type gatedStore struct {
	*memStore
	release chan struct{}
}

func newGatedStore() *gatedStore {
	return &gatedStore{memStore: newMemStore(), release: make(chan struct{})}
}

func (s *gatedStore) InTx(ctx context.Context, fn func(ctx context.Context, tx StoreTx) error) error {
	select {
	case <-s.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.memStore.InTx(ctx, fn)
}

func (s *memStore) messages() []storage.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]storage.Message(nil), s.data.messages...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *memStore) usageRows() []storage.TokenUsage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]storage.TokenUsage(nil), s.data.usage...)
}

func (s *memStore) turn(chatID string, turnID int64) (storage.Turn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.data.turns[Key{ChatID: chatID, TurnID: turnID}]
	return t, ok
}

func (s *memStore) transactions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txCount
}

func counterKey(table, chatID string, turnID int64) string {
	return fmt.Sprintf("%s|%s|%d", table, chatID, turnID)
}

type memTx struct {
	store *memStore
	data  *memData
}

var _ StoreTx = (*memTx)(nil)

func (t *memTx) check(ctx context.Context, op string) error {
	if t.store.stallOps[op] {
		<-ctx.Done()
		return ctx.Err()
	}
	return t.store.failOps[op]
}

func (t *memTx) bump(table, chatID string, turnID int64, count int) sequence.Range {
	k := counterKey(table, chatID, turnID)
	t.data.counters[k] += int64(count)
	last := t.data.counters[k]
	return sequence.Range{First: last - int64(count) + 1, Last: last}
}

func (t *memTx) AllocateOrder(ctx context.Context, chatID string, turnID int64, count int) (sequence.Range, error) {
	if err := t.check(ctx, "AllocateOrder"); err != nil {
		return sequence.Range{}, err
	}
	return t.bump(tableMessages, chatID, turnID, count), nil
}

func (t *memTx) AllocateTurn(ctx context.Context, chatID string) (int64, error) {
	if err := t.check(ctx, "AllocateTurn"); err != nil {
		return 0, err
	}
	return t.bump(tableTurns, chatID, 0, 1).Last, nil
}

func (t *memTx) EnsureChat(ctx context.Context, chat *storage.Chat) (bool, error) {
	if err := t.check(ctx, "EnsureChat"); err != nil {
		return false, err
	}
	if _, ok := t.data.chats[chat.ID]; ok {
		return false, nil
	}
	t.data.chats[chat.ID] = *chat
	return true, nil
}

func (t *memTx) TouchChat(ctx context.Context, chatID string, ts int64) error {
	if err := t.check(ctx, "TouchChat"); err != nil {
		return err
	}
	c := t.data.chats[chatID]
	c.UpdatedTs = ts
	t.data.chats[chatID] = c
	return nil
}

func (t *memTx) CreateTurn(ctx context.Context, turn *storage.Turn) error {
	if err := t.check(ctx, "CreateTurn"); err != nil {
		return err
	}
	k := Key{ChatID: turn.ChatID, TurnID: turn.TurnID}
	if _, ok := t.data.turns[k]; ok {
		return fmt.Errorf("duplicate turn %v", k)
	}
	t.data.turns[k] = *turn
	return nil
}

func (t *memTx) FinishTurn(ctx context.Context, c *storage.TurnCompletion) error {
	if err := t.check(ctx, "FinishTurn"); err != nil {
		return err
	}
	k := Key{ChatID: c.ChatID, TurnID: c.TurnID}
	turn, ok := t.data.turns[k]
	if !ok {
		return storage.ErrTurnNotFound
	}
	turn.Status = c.Status
	turn.FinishReason = c.FinishReason
	turn.LatencyMs = c.LatencyMs
	turn.Warnings = append(storage.JSONStringArray(nil), c.Warnings...)
	turn.Errors = append(storage.JSONStringArray(nil), c.Errors...)
	turn.FinishedTs = &c.FinishedTs
	t.data.turns[k] = turn
	return nil
}

func (t *memTx) FailPendingTurn(ctx context.Context, c *storage.TurnCompletion) (bool, error) {
	if err := t.check(ctx, "FailPendingTurn"); err != nil {
		return false, err
	}
	turn, ok := t.data.turns[Key{ChatID: c.ChatID, TurnID: c.TurnID}]
	if !ok || turn.Status != storage.TurnPending {
		return false, nil
	}
	return true, t.FinishTurn(ctx, c)
}

func (t *memTx) CreateMessage(ctx context.Context, m *storage.Message) error {
	if err := t.check(ctx, "CreateMessage"); err != nil {
		return err
	}
	for _, existing := range t.data.messages {
		if existing.ChatID == m.ChatID && existing.TurnID == m.TurnID && existing.MessageOrder == m.MessageOrder {
			return fmt.Errorf("duplicate message_order %d", m.MessageOrder)
		}
	}
	t.data.nextID++
	m.ID = t.data.nextID
	cp := *m
	if m.Content != nil {
		content := *m.Content
		cp.Content = &content
	}
	t.data.messages = append(t.data.messages, cp)
	return nil
}

func (t *memTx) UpdateMessage(ctx context.Context, u *storage.MessageUpdate) error {
	if err := t.check(ctx, "UpdateMessage"); err != nil {
		return err
	}
	for i := range t.data.messages {
		if t.data.messages[i].ID != u.ID {
			continue
		}
		if u.Content != nil {
			content := *u.Content
			t.data.messages[i].Content = &content
		}
		if u.Status != nil {
			t.data.messages[i].Status = *u.Status
		}
		t.data.messages[i].UpdatedTs = u.UpdatedTs
		return nil
	}
	return storage.ErrMessageNotFound
}

func (t *memTx) CreateTokenUsage(ctx context.Context, u *storage.TokenUsage) error {
	if err := t.check(ctx, "CreateTokenUsage"); err != nil {
		return err
	}
	for _, existing := range t.data.usage {
		if existing.ChatID == u.ChatID && existing.TurnID == u.TurnID {
			return fmt.Errorf("duplicate usage for turn %d", u.TurnID)
		}
	}
	t.data.nextID++
	u.ID = t.data.nextID
	t.data.usage = append(t.data.usage, *u)
	return nil
}
