package app

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elee1766/chathistory/src/aisdk"
	"github.com/elee1766/chathistory/src/config"
	"github.com/elee1766/chathistory/src/storage"
)

func testConfig(t *testing.T) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Database.DSN = filepath.Join(t.TempDir(), "nested", "state", "history.db")
	cfg.API.APIKey = "sk-test"
	return cfg
}

func TestNewRecordsThroughSharedQueue(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Recorder.RecordPrompt = true

	a, err := New(ctx, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	rec, err := a.NewRecorder(RecorderOptions{ChatID: "app-chat", Title: "from app"})
	require.NoError(t, err)

	model := Record(aisdk.NewStaticModel("static", []*aisdk.Chunk{
		{Type: aisdk.ChunkTextStart, ID: "t0"},
		{Type: aisdk.ChunkTextDelta, ID: "t0", Delta: "Hi there"},
		{Type: aisdk.ChunkTextEnd, ID: "t0"},
		{Type: aisdk.ChunkFinish, FinishReason: aisdk.FinishStop, Usage: &aisdk.Usage{InputTokens: 4, OutputTokens: 2, TotalTokens: 6}},
	}), rec)

	res, err := model.DoStream(ctx, &aisdk.CallOptions{Prompt: []*aisdk.Message{{Role: "user", Content: "Hello"}}})
	require.NoError(t, err)
	text, err := aisdk.CollectText(res.Stream)
	require.NoError(t, err)
	assert.Equal(t, "Hi there", text)

	require.NoError(t, a.Close(ctx))

	db, err := storage.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	require.NoError(t, err)
	defer db.Close()

	msgs, err := storage.ListChatMessages(ctx, db, "app-chat")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, storage.RoleUser, msgs[0].Role)
	assert.Equal(t, "Hello", *msgs[0].Content)
	assert.Equal(t, "Hi there", *msgs[1].Content)

	chat, err := storage.GetChatByID(ctx, db, "app-chat")
	require.NoError(t, err)
	require.NotNil(t, chat.Title)
	assert.Equal(t, "from app", *chat.Title)

	totals, err := storage.SumTokenUsage(ctx, db, storage.UsageFilter{ChatID: "app-chat"})
	require.NoError(t, err)
	assert.Equal(t, int64(6), totals.TotalTokens)
}

func TestNewWithoutMigrations(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	off := false
	cfg.Database.AutoMigrate = &off

	a, err := New(ctx, cfg, nil)
	require.NoError(t, err)
	defer a.Close(ctx)

	status, err := a.DB.MigrationStatus(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, status)
	for _, m := range status {
		assert.False(t, m.Applied, "migration %d", m.Version)
	}
}

func TestNewProvider(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig(t), nil)
	require.NoError(t, err)
	defer a.Close(ctx)

	client, err := a.NewProvider()
	require.NoError(t, err)
	assert.Equal(t, a.Config.API.Model, client.ModelID())

	a.Config.API.APIKey = ""
	_, err = a.NewProvider()
	assert.Error(t, err)
}

func TestNewRequiresConfig(t *testing.T) {
	_, err := New(context.Background(), nil, nil)
	assert.Error(t, err)
}
