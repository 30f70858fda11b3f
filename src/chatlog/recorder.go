package chatlog

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/elee1766/chathistory/src/aisdk"
	"github.com/elee1766/chathistory/src/storage"
)

// MetadataChatID is the CallOptions metadata key that selects the chat for one call.
const MetadataChatID = "chat_id"

// DefaultStoreTimeout bounds each persistence step when RecorderConfig.StoreTimeout is unset.
const DefaultStoreTimeout = 10 * time.Second

// callSeq numbers calls across recorders so that recorders sharing a queue never share a key.
var callSeq atomic.Uint64

// RecorderConfig holds configuration for creating a Recorder
type RecorderConfig struct {
	Store  Store
	Logger *slog.Logger

	// Queue may be shared between recorders. When nil the recorder owns a private queue.
	Queue *Queue

	// ChatID is used when a call carries no chat_id metadata. When both are empty an id is
	// generated on first use and reused for the recorder's lifetime.
	ChatID string
	UserID string
	Title  string

	// RecordPrompt stores the prompt's final user message as the first message of each turn.
	RecordPrompt bool

	StoreTimeout time.Duration
	Now          func() time.Time
}

// Recorder is an aisdk.Middleware that records every call into the chat history store
// without altering what the caller receives.
type Recorder struct {
	router       *Router
	queue        *Queue
	ownsQueue    bool
	logger       *slog.Logger
	chatID       string
	userID       string
	title        string
	recordPrompt bool
	timeout      time.Duration
	now          func() time.Time

	mu          sync.Mutex
	generatedID string
}

var _ aisdk.Middleware = (*Recorder)(nil)

// NewRecorder validates cfg and creates a recorder. Configuration problems are returned as
// *ConfigError.
func NewRecorder(cfg RecorderConfig) (*Recorder, error) {
	if cfg.Store == nil {
		return nil, &ConfigError{Field: "Store", Message: "is required"}
	}
	if cfg.StoreTimeout < 0 {
		return nil, &ConfigError{Field: "StoreTimeout", Message: "must not be negative"}
	}
	if cfg.StoreTimeout == 0 {
		cfg.StoreTimeout = DefaultStoreTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	rec := &Recorder{
		router:       NewRouter(cfg.Store, cfg.Logger),
		queue:        cfg.Queue,
		logger:       cfg.Logger.With("component", "chatlog.recorder"),
		chatID:       cfg.ChatID,
		userID:       cfg.UserID,
		title:        cfg.Title,
		recordPrompt: cfg.RecordPrompt,
		timeout:      cfg.StoreTimeout,
		now:          cfg.Now,
	}
	rec.router.now = cfg.Now
	if rec.queue == nil {
		rec.queue = NewQueue(cfg.Logger)
		rec.ownsQueue = true
	}
	return rec, nil
}

// ChatID returns the chat the recorder writes to when calls carry no chat_id, or "" if
// none has been configured or generated yet.
func (r *Recorder) ChatID() string {
	if r.chatID != "" {
		return r.chatID
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.generatedID
}

func (r *Recorder) resolveChatID(params *aisdk.CallOptions) string {
	if id := params.MetadataString(MetadataChatID); id != "" {
		return id
	}
	if r.chatID != "" {
		return r.chatID
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.generatedID == "" {
		r.generatedID = storage.NewChatID()
	}
	return r.generatedID
}

// TransformParams returns params unchanged.
func (r *Recorder) TransformParams(ctx context.Context, params *aisdk.CallOptions) (*aisdk.CallOptions, error) {
	return params, nil
}

// WrapGenerate returns the wrapped call's result unchanged and records it asynchronously
// through the same handlers as the streaming path.
func (r *Recorder) WrapGenerate(ctx context.Context, call aisdk.GenerateCall) (*aisdk.GenerateResult, error) {
	run := r.beginTurn(ctx, call.Model, call.Params, "generate")

	res, err := call.DoGenerate(ctx)
	if err != nil {
		r.enqueueAbort(ctx, run, err)
		return nil, err
	}

	chunks := aisdk.ResultChunks(res)
	for i, c := range chunks {
		chunks[i] = c.Clone()
	}
	r.enqueue(ctx, run, "generate", func(ctx context.Context) error {
		ok := true
		for _, c := range chunks {
			ok = r.step(ctx, run, func(ctx context.Context, s State) State {
				return r.router.ProcessChunk(ctx, c, s)
			}) && ok
		}
		if !run.state.Finished {
			r.step(ctx, run, func(ctx context.Context, s State) State {
				return r.router.Abort(ctx, s, io.ErrUnexpectedEOF)
			})
		}
		if !ok {
			return ErrNotPersisted
		}
		return nil
	})
	return res, nil
}

// WrapStream returns a stream that yields exactly the wrapped stream's chunks and records
// a copy of each in the background.
func (r *Recorder) WrapStream(ctx context.Context, call aisdk.StreamCall) (*aisdk.StreamResult, error) {
	run := r.beginTurn(ctx, call.Model, call.Params, "stream")

	res, err := call.DoStream(ctx)
	if err != nil {
		r.enqueueAbort(ctx, run, err)
		return nil, err
	}

	out := *res
	out.Stream = &recordingStream{
		inner: res.Stream,
		rec:   r,
		run:   run,
		ctx:   context.WithoutCancel(ctx),
	}
	return &out, nil
}

// Wait blocks until all recorded work has been persisted or ctx ends.
func (r *Recorder) Wait(ctx context.Context) error {
	return r.queue.Wait(ctx)
}

// Close drains pending work. A private queue is closed; a shared one is only waited on.
func (r *Recorder) Close(ctx context.Context) error {
	if r.ownsQueue {
		return r.queue.Close(ctx)
	}
	return r.queue.Wait(ctx)
}

// turnRun carries the state of one call. It is only touched by tasks queued under its key,
// which never overlap.
type turnRun struct {
	key   Key
	state State
}

// beginTurn resolves the chat and queues the creation of the turn row as the call's first
// task, so the provider is called without waiting on the store. Every later task of the call
// runs under the same key after it.
func (r *Recorder) beginTurn(ctx context.Context, model aisdk.LanguageModel, params *aisdk.CallOptions, mode string) *turnRun {
	chatID := r.resolveChatID(params)
	run := &turnRun{
		key:   Key{ChatID: chatID, Call: callSeq.Add(1)},
		state: State{ChatID: chatID, TurnStartedAt: r.now(), Success: true},
	}

	turn := &storage.Turn{
		ChatID:    chatID,
		Status:    storage.TurnPending,
		Metadata:  storage.JSONMap{"mode": mode},
		CreatedTs: run.state.TurnStartedAt.UnixMilli(),
	}
	if model != nil {
		turn.Model = model.ModelID()
	}
	var prompt *string
	if params != nil {
		turn.Temperature = params.Temperature
		turn.TopP = params.TopP
		if m := params.LastUserMessage(); r.recordPrompt && m != nil {
			content := m.Content
			prompt = &content
		}
	}

	r.enqueue(ctx, run, "begin-turn", func(ctx context.Context) error {
		ok := r.step(ctx, run, func(ctx context.Context, s State) State {
			return r.startTurn(ctx, s, turn, prompt)
		})
		if !ok {
			return ErrNotPersisted
		}
		return nil
	})
	return run
}

// startTurn ensures the chat, allocates the turn id and writes the pending turn row, plus the
// prompt message when one is given. On failure the state keeps no turn and the rest of the
// call goes unrecorded.
func (r *Recorder) startTurn(ctx context.Context, in State, turn *storage.Turn, prompt *string) State {
	const source = "begin-turn"

	var turnID, order int64
	err := r.router.inTx(ctx, in, source, func(ctx context.Context, tx StoreTx) error {
		_, err := tx.EnsureChat(ctx, &storage.Chat{
			ID:        in.ChatID,
			Title:     nullable(r.title),
			UserID:    r.userID,
			CreatedTs: turn.CreatedTs,
		})
		if err != nil {
			return r.router.persistErr(in, source, KindPersistence, err)
		}

		turnID, err = tx.AllocateTurn(ctx, in.ChatID)
		if err != nil {
			return r.router.persistErr(in, source, KindAllocation, err)
		}

		row := *turn
		row.TurnID = turnID
		if err := tx.CreateTurn(ctx, &row); err != nil {
			return r.router.persistErr(in, source, KindPersistence, err)
		}

		if prompt == nil {
			return nil
		}
		withTurn := in
		withTurn.TurnID = turnID
		content := *prompt
		m := &storage.Message{Role: storage.RoleUser, Content: &content, Status: storage.MessageComplete}
		if err := r.router.createMessage(ctx, tx, withTurn, source, m); err != nil {
			return err
		}
		order = m.MessageOrder
		return nil
	})
	if err != nil {
		return r.router.fail(in, source, err)
	}

	out := r.router.noop(in)
	out.TurnID = turnID
	out.CurrentMessageOrder = order
	r.logger.Debug("turn started", "chat_id", in.ChatID, "turn_id", turnID, "model", turn.Model, "mode", turn.Metadata["mode"])
	return out
}

// step applies one router step to run under the per-operation timeout and reports whether
// it persisted.
func (r *Recorder) step(ctx context.Context, run *turnRun, fn func(ctx context.Context, s State) State) bool {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	run.state = fn(ctx, run.state)
	return run.state.Success
}

func (r *Recorder) enqueue(ctx context.Context, run *turnRun, source string, fn TaskFunc) *Task {
	task, err := r.queue.Enqueue(context.WithoutCancel(ctx), run.key, fn)
	if err != nil {
		r.logger.Warn("dropping chat history work", "source", source, "chat_id", run.key.ChatID, "call", run.key.Call, "error", err)
		return nil
	}
	return task
}

func (r *Recorder) enqueueAbort(ctx context.Context, run *turnRun, cause error) *Task {
	return r.enqueue(ctx, run, "abort", func(ctx context.Context) error {
		ok := r.step(ctx, run, func(ctx context.Context, s State) State {
			return r.router.Abort(ctx, s, cause)
		})
		if !ok {
			return ErrNotPersisted
		}
		return nil
	})
}
