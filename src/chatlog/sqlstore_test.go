package chatlog_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/elee1766/chathistory/src/aisdk"
	"github.com/elee1766/chathistory/src/chatlog"
	"github.com/elee1766/chathistory/src/sequence"
	"github.com/elee1766/chathistory/src/storage"
	"github.com/elee1766/chathistory/src/storage/storagetest"
)

func newSQLStore(db *storage.DB) *chatlog.SQLStore {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return chatlog.NewSQLStore(db, sequence.NewAllocator(db, logger))
}

func TestRecorderWithDatabase(t *testing.T) {
	storagetest.ForEachDialect(t, func(t *testing.T, db *storage.DB) {
		ctx := context.Background()
		rec, err := chatlog.NewRecorder(chatlog.RecorderConfig{
			Store:        newSQLStore(db),
			Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
			ChatID:       "db-chat",
			UserID:       "u1",
			Title:        "integration",
			RecordPrompt: true,
		})
		require.NoError(t, err)

		chunks := []*aisdk.Chunk{
			{Type: aisdk.ChunkTextStart, ID: "t0"},
			{Type: aisdk.ChunkTextDelta, ID: "t0", Delta: "Hello"},
			{Type: aisdk.ChunkTextDelta, ID: "t0", Delta: " world"},
			{Type: aisdk.ChunkTextEnd, ID: "t0"},
			{Type: aisdk.ChunkToolCall, ToolCallID: "call_1", ToolName: "clock", Input: "{}"},
			{Type: aisdk.ChunkToolResult, ToolCallID: "call_1", ToolName: "clock", Result: []byte(`"12:00"`)},
			{Type: aisdk.ChunkFinish, FinishReason: aisdk.FinishStop, Usage: &aisdk.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}},
		}
		model := aisdk.WrapLanguageModel(aisdk.NewStaticModel("test-model", chunks), rec)
		params := &aisdk.CallOptions{Prompt: []*aisdk.Message{{Role: "user", Content: "what time is it?"}}}

		res, err := model.DoStream(ctx, params)
		require.NoError(t, err)
		text, err := aisdk.CollectText(res.Stream)
		require.NoError(t, err)
		assert.Equal(t, "Hello world", text)
		require.NoError(t, rec.Close(ctx))

		chat, err := storage.GetChatByID(ctx, db, "db-chat")
		require.NoError(t, err)
		require.NotNil(t, chat)
		assert.Equal(t, "integration", *chat.Title)
		assert.NotZero(t, chat.UpdatedTs)

		turn, err := storage.GetTurn(ctx, db, "db-chat", 1)
		require.NoError(t, err)
		assert.Equal(t, storage.TurnComplete, turn.Status)
		assert.Equal(t, "stop", turn.FinishReason)

		msgs, err := storage.ListMessages(ctx, db, "db-chat", 1)
		require.NoError(t, err)
		require.Len(t, msgs, 4)
		assert.Equal(t, storage.RoleUser, msgs[0].Role)
		assert.Equal(t, "Hello world", *msgs[1].Content)
		assert.Equal(t, storage.MessageComplete, msgs[2].Status)
		assert.Equal(t, `"12:00"`, *msgs[3].Content)

		usage, err := storage.GetTokenUsage(ctx, db, "db-chat", 1)
		require.NoError(t, err)
		require.NotNil(t, usage)
		assert.Equal(t, int64(15), usage.TotalTokens)
	})
}

func TestConcurrentToolCallsGetDistinctOrders(t *testing.T) {
	storagetest.ForEachDialect(t, func(t *testing.T, db *storage.DB) {
		ctx := context.Background()
		_, err := storage.EnsureChat(ctx, db, &storage.Chat{ID: "c"})
		require.NoError(t, err)
		require.NoError(t, storage.CreateTurn(ctx, db, &storage.Turn{ChatID: "c", TurnID: 1, Status: storage.TurnPending}))

		router := chatlog.NewRouter(newSQLStore(db), slog.New(slog.NewTextHandler(io.Discard, nil)))
		queue := chatlog.NewQueue(nil)
		key := chatlog.Key{ChatID: "c", TurnID: 1}
		state := chatlog.State{ChatID: "c", TurnID: 1, Success: true}

		start := make(chan struct{})
		var wg sync.WaitGroup
		for _, id := range []string{"call_a", "call_b"} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, err := queue.Enqueue(ctx, key, func(ctx context.Context) error {
					state = router.ProcessChunk(ctx, &aisdk.Chunk{Type: aisdk.ChunkToolCall, ToolCallID: id, ToolName: "t"}, state)
					return nil
				})
				assert.NoError(t, err)
			}()
		}
		close(start)
		wg.Wait()
		require.NoError(t, queue.Close(ctx))

		assert.True(t, state.Success)
		msgs, err := storage.ListMessages(ctx, db, "c", 1)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Less(t, msgs[0].MessageOrder, msgs[1].MessageOrder)
		assert.Equal(t, msgs[1].MessageOrder, state.CurrentMessageOrder)
	})
}

func TestConcurrentRecordersShareChat(t *testing.T) {
	storagetest.ForEachDialect(t, func(t *testing.T, db *storage.DB) {
		ctx := context.Background()
		store := newSQLStore(db)
		queue := chatlog.NewQueue(nil)

		chunks := []*aisdk.Chunk{
			{Type: aisdk.ChunkTextStart, ID: "t0"},
			{Type: aisdk.ChunkTextDelta, ID: "t0", Delta: "ok"},
			{Type: aisdk.ChunkTextEnd, ID: "t0"},
			{Type: aisdk.ChunkFinish, FinishReason: aisdk.FinishStop, Usage: &aisdk.Usage{InputTokens: 1, OutputTokens: 1, TotalTokens: 2}},
		}

		const calls = 8
		var g errgroup.Group
		for i := 0; i < calls; i++ {
			g.Go(func() error {
				rec, err := chatlog.NewRecorder(chatlog.RecorderConfig{Store: store, Queue: queue, ChatID: "shared"})
				if err != nil {
					return err
				}
				res, err := aisdk.WrapLanguageModel(aisdk.NewStaticModel("m", chunks), rec).DoStream(ctx, &aisdk.CallOptions{})
				if err != nil {
					return err
				}
				_, err = aisdk.CollectText(res.Stream)
				return err
			})
		}
		require.NoError(t, g.Wait())
		require.NoError(t, queue.Close(ctx))

		turns, err := storage.ListTurns(ctx, db, "shared")
		require.NoError(t, err)
		require.Len(t, turns, calls)
		for i, turn := range turns {
			assert.Equal(t, int64(i+1), turn.TurnID)
			assert.Equal(t, storage.TurnComplete, turn.Status)
		}

		totals, err := storage.SumTokenUsage(ctx, db, storage.UsageFilter{ChatID: "shared"})
		require.NoError(t, err)
		assert.Equal(t, int64(calls), totals.Turns)
		assert.Equal(t, int64(2*calls), totals.TotalTokens)
	})
}
