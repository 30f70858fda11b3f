package storage_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elee1766/chathistory/src/storage"
	"github.com/elee1766/chathistory/src/storage/storagetest"
)

func seedTurn(t *testing.T, ctx context.Context, db *storage.DB, chatID string, turnID int64) {
	t.Helper()
	_, err := storage.EnsureChat(ctx, db, &storage.Chat{ID: chatID, UserID: "u1"})
	require.NoError(t, err)
	require.NoError(t, storage.CreateTurn(ctx, db, &storage.Turn{ChatID: chatID, TurnID: turnID, Model: "test-model"}))
}

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := storagetest.NewSQLite(t)

	ran, err := db.Migrate(ctx)
	require.NoError(t, err)
	assert.Empty(t, ran)

	status, err := db.MigrationStatus(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, status)
	for _, s := range status {
		assert.True(t, s.Applied)
		assert.NotNil(t, s.AppliedTs)
	}
}

func TestChats(t *testing.T) {
	storagetest.ForEachDialect(t, func(t *testing.T, db *storage.DB) {
		ctx := context.Background()

		chat := &storage.Chat{ID: "chat-1", UserID: "alice", Title: storage.Ptr("first"), Metadata: storage.JSONMap{"k": "v"}}
		created, err := storage.EnsureChat(ctx, db, chat)
		require.NoError(t, err)
		assert.True(t, created)

		created, err = storage.EnsureChat(ctx, db, &storage.Chat{ID: "chat-1", UserID: "bob"})
		require.NoError(t, err)
		assert.False(t, created)

		got, err := storage.GetChatByID(ctx, db, "chat-1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "alice", got.UserID)
		assert.Equal(t, "first", *got.Title)
		assert.Equal(t, "v", got.Metadata["k"])

		missing, err := storage.GetChatByID(ctx, db, "nope")
		require.NoError(t, err)
		assert.Nil(t, missing)

		_, err = storage.EnsureChat(ctx, db, &storage.Chat{ID: "chat-2", UserID: "alice", CreatedTs: 1})
		require.NoError(t, err)
		require.NoError(t, storage.TouchChat(ctx, db, "chat-2", got.UpdatedTs+1000))

		chats, err := storage.ListChats(ctx, db, storage.ChatFilter{UserID: storage.Ptr("alice")})
		require.NoError(t, err)
		require.Len(t, chats, 2)
		assert.Equal(t, "chat-2", chats[0].ID)

		chats, err = storage.ListChats(ctx, db, storage.ChatFilter{Limit: 1})
		require.NoError(t, err)
		assert.Len(t, chats, 1)
	})
}

func TestTurnLifecycle(t *testing.T) {
	storagetest.ForEachDialect(t, func(t *testing.T, db *storage.DB) {
		ctx := context.Background()
		_, err := storage.EnsureChat(ctx, db, &storage.Chat{ID: "c"})
		require.NoError(t, err)

		turn := &storage.Turn{ChatID: "c", TurnID: 1, Model: "gpt", Temperature: storage.Ptr(0.2)}
		require.NoError(t, storage.CreateTurn(ctx, db, turn))

		got, err := storage.GetTurn(ctx, db, "c", 1)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, storage.TurnPending, got.Status)
		assert.InDelta(t, 0.2, *got.Temperature, 1e-9)
		assert.Nil(t, got.TopP)
		assert.Empty(t, got.Warnings)

		err = storage.FinishTurn(ctx, db, &storage.TurnCompletion{
			ChatID:       "c",
			TurnID:       1,
			Status:       storage.TurnComplete,
			FinishReason: "stop",
			LatencyMs:    storage.Ptr(int64(42)),
			Warnings:     storage.JSONStringArray{"w1"},
		})
		require.NoError(t, err)

		got, err = storage.GetTurn(ctx, db, "c", 1)
		require.NoError(t, err)
		assert.Equal(t, storage.TurnComplete, got.Status)
		assert.Equal(t, "stop", got.FinishReason)
		assert.Equal(t, int64(42), *got.LatencyMs)
		assert.Equal(t, storage.JSONStringArray{"w1"}, got.Warnings)
		assert.NotNil(t, got.FinishedTs)

		// Only pending turns are failed.
		updated, err := storage.FailPendingTurn(ctx, db, &storage.TurnCompletion{ChatID: "c", TurnID: 1, Status: storage.TurnError, FinishReason: "aborted"})
		require.NoError(t, err)
		assert.False(t, updated)

		err = storage.FinishTurn(ctx, db, &storage.TurnCompletion{ChatID: "c", TurnID: 99, Status: storage.TurnComplete})
		assert.ErrorIs(t, err, storage.ErrTurnNotFound)

		turns, err := storage.ListTurns(ctx, db, "c")
		require.NoError(t, err)
		assert.Len(t, turns, 1)
	})
}

func TestMessages(t *testing.T) {
	storagetest.ForEachDialect(t, func(t *testing.T, db *storage.DB) {
		ctx := context.Background()
		seedTurn(t, ctx, db, "c", 1)

		first := &storage.Message{ChatID: "c", TurnID: 1, MessageOrder: 2, Role: storage.RoleAssistant, Content: storage.Ptr("hel"), Status: storage.MessageStreaming}
		second := &storage.Message{ChatID: "c", TurnID: 1, MessageOrder: 1, Role: storage.RoleUser, Content: storage.Ptr("hi")}
		require.NoError(t, storage.CreateMessage(ctx, db, first))
		require.NoError(t, storage.CreateMessage(ctx, db, second))
		assert.NotZero(t, first.ID)
		assert.NotEqual(t, first.ID, second.ID)

		dup := &storage.Message{ChatID: "c", TurnID: 1, MessageOrder: 2, Role: storage.RoleTool}
		assert.Error(t, storage.CreateMessage(ctx, db, dup), "message_order must be unique per turn")

		status := storage.MessageComplete
		require.NoError(t, storage.UpdateMessage(ctx, db, &storage.MessageUpdate{ID: first.ID, Content: storage.Ptr("hello"), Status: &status}))
		assert.ErrorIs(t, storage.UpdateMessage(ctx, db, &storage.MessageUpdate{ID: 987654, Status: &status}), storage.ErrMessageNotFound)

		msgs, err := storage.ListMessages(ctx, db, "c", 1)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, "hi", *msgs[0].Content)
		assert.Equal(t, "hello", *msgs[1].Content)
		assert.Equal(t, storage.MessageComplete, msgs[1].Status)

		all, err := storage.ListChatMessages(ctx, db, "c")
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})
}

func TestTokenUsage(t *testing.T) {
	storagetest.ForEachDialect(t, func(t *testing.T, db *storage.DB) {
		ctx := context.Background()
		seedTurn(t, ctx, db, "c", 1)
		seedTurn(t, ctx, db, "c", 2)

		u := &storage.TokenUsage{ChatID: "c", TurnID: 1, PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}
		require.NoError(t, storage.CreateTokenUsage(ctx, db, u))
		assert.NotZero(t, u.ID)
		assert.Error(t, storage.CreateTokenUsage(ctx, db, &storage.TokenUsage{ChatID: "c", TurnID: 1}))
		require.NoError(t, storage.CreateTokenUsage(ctx, db, &storage.TokenUsage{ChatID: "c", TurnID: 2, PromptTokens: 1, CompletionTokens: 1, TotalTokens: 2}))

		got, err := storage.GetTokenUsage(ctx, db, "c", 1)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, int64(15), got.TotalTokens)

		none, err := storage.GetTokenUsage(ctx, db, "c", 3)
		require.NoError(t, err)
		assert.Nil(t, none)

		totals, err := storage.SumTokenUsage(ctx, db, storage.UsageFilter{ChatID: "c"})
		require.NoError(t, err)
		assert.Equal(t, storage.UsageTotals{Turns: 2, PromptTokens: 11, CompletionTokens: 6, TotalTokens: 17}, *totals)

		empty, err := storage.SumTokenUsage(ctx, db, storage.UsageFilter{ChatID: "other"})
		require.NoError(t, err)
		assert.Zero(t, empty.TotalTokens)
	})
}

func TestInTxRollback(t *testing.T) {
	ctx := context.Background()
	db := storagetest.NewSQLite(t)

	err := db.InTx(ctx, func(tx *storage.Tx) error {
		if _, err := storage.EnsureChat(ctx, tx, &storage.Chat{ID: "rolled-back"}); err != nil {
			return err
		}
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	got, err := storage.GetChatByID(ctx, db, "rolled-back")
	require.NoError(t, err)
	assert.Nil(t, got)

	assert.Panics(t, func() {
		_ = db.InTx(ctx, func(tx *storage.Tx) error {
			_, _ = storage.EnsureChat(ctx, tx, &storage.Chat{ID: "panicked"})
			panic("boom")
		})
	})
	got, err = storage.GetChatByID(ctx, db, "panicked")
	require.NoError(t, err)
	assert.Nil(t, got)
}
