package chatlog

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/elee1766/chathistory/src/aisdk"
	"github.com/elee1766/chathistory/src/storage"
)

// Router dispatches stream chunks to their handlers. It holds no per-stream state; every
// call takes the current State and returns the next one.
type Router struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewRouter creates a router writing through store.
func NewRouter(store Store, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		store:  store,
		logger: logger.With("component", "chatlog"),
		now:    time.Now,
	}
}

// ProcessChunk applies one chunk to in and returns the resulting state. in is never
// modified. Persistence failures are logged and reported through State.Success only.
func (r *Router) ProcessChunk(ctx context.Context, chunk *aisdk.Chunk, in State) State {
	if chunk == nil {
		return r.noop(in)
	}

	switch chunk.Type {
	case aisdk.ChunkTextStart:
		return r.handleTextStart(in, chunk)
	case aisdk.ChunkTextDelta:
		return r.handleTextDelta(ctx, in, chunk)
	case aisdk.ChunkTextEnd:
		return r.handleTextEnd(ctx, in, chunk)
	case aisdk.ChunkToolInputStart, aisdk.ChunkToolInputDelta, aisdk.ChunkToolInputEnd:
		return r.handleToolInput(in, chunk)
	case aisdk.ChunkToolCall:
		return r.handleToolCall(ctx, in, chunk)
	case aisdk.ChunkToolResult:
		return r.handleToolResult(ctx, in, chunk)
	case aisdk.ChunkFinish:
		return r.handleFinish(ctx, in, chunk)
	case aisdk.ChunkError:
		return r.handleError(in, chunk)
	case aisdk.ChunkStreamStart:
		out := r.noop(in)
		out.Warnings = append(out.Warnings, chunk.Warnings...)
		return out
	case aisdk.ChunkResponseMetadata:
		out := r.noop(in)
		if chunk.ModelID != "" {
			out.ResponseModel = chunk.ModelID
		}
		return out
	default:
		return r.handleUnknown(in, chunk)
	}
}

func (r *Router) noop(in State) State {
	out := in.Clone()
	out.Success = true
	return out
}

// fail returns in unchanged apart from Success.
func (r *Router) fail(in State, source string, err error) State {
	r.logFailure(in, source, err)
	out := in.Clone()
	out.Success = false
	return out
}

func (r *Router) logFailure(s State, source string, err error) {
	attrs := []any{
		"source", source,
		"chat_id", s.ChatID,
		"turn_id", s.TurnID,
		"error", err,
	}
	var pe *PersistError
	if errors.As(err, &pe) {
		attrs = append(attrs, "kind", pe.Kind.String())
		if pe.Kind == KindMissingTurn {
			r.logger.Debug("chunk not recorded", attrs...)
			return
		}
	}
	r.logger.Error("chat history persistence failed", attrs...)
}

func (r *Router) persistErr(s State, source string, kind ErrorKind, err error) *PersistError {
	if errors.Is(err, storage.ErrTurnNotFound) {
		kind = KindMissingTurn
	}
	return &PersistError{Kind: kind, Source: source, ChatID: s.ChatID, TurnID: s.TurnID, Err: err}
}

func (r *Router) missingTurn(s State, source string) *PersistError {
	return r.persistErr(s, source, KindMissingTurn, ErrMissingTurn)
}

// inTx runs fn in one store transaction. Begin and commit failures become persistence errors.
func (r *Router) inTx(ctx context.Context, s State, source string, fn func(ctx context.Context, tx StoreTx) error) error {
	err := r.store.InTx(ctx, fn)
	if err == nil {
		return nil
	}
	var pe *PersistError
	if errors.As(err, &pe) {
		return err
	}
	return r.persistErr(s, source, KindPersistence, err)
}

// createMessage allocates the next ordinal for the turn and inserts m with it.
func (r *Router) createMessage(ctx context.Context, tx StoreTx, s State, source string, m *storage.Message) error {
	rng, err := tx.AllocateOrder(ctx, s.ChatID, s.TurnID, 1)
	if err != nil {
		return r.persistErr(s, source, KindAllocation, err)
	}
	now := r.nowMillis()
	m.ChatID = s.ChatID
	m.TurnID = s.TurnID
	m.MessageOrder = rng.Last
	m.CreatedTs = now
	m.UpdatedTs = now
	if err := tx.CreateMessage(ctx, m); err != nil {
		return r.persistErr(s, source, KindPersistence, err)
	}
	return nil
}

// writeSpan inserts the span's message if it was never written, otherwise updates it.
// It reports whether a new ordinal was consumed.
func (r *Router) writeSpan(ctx context.Context, tx StoreTx, s State, source string, span TextSpan, status storage.MessageStatus) (TextSpan, bool, error) {
	if span.MessageID == 0 {
		text := span.Text
		m := &storage.Message{Role: storage.RoleAssistant, Content: &text, Status: status}
		if err := r.createMessage(ctx, tx, s, source, m); err != nil {
			return span, false, err
		}
		span.MessageID = m.ID
		span.Order = m.MessageOrder
		return span, true, nil
	}

	text := span.Text
	err := tx.UpdateMessage(ctx, &storage.MessageUpdate{
		ID:        span.MessageID,
		Content:   &text,
		Status:    &status,
		UpdatedTs: r.nowMillis(),
	})
	if err != nil {
		return span, false, r.persistErr(s, source, KindPersistence, err)
	}
	return span, false, nil
}

func (r *Router) nowMillis() int64 {
	return r.now().UnixMilli()
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
