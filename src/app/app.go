// Package app wires configuration, storage, the recording middleware and the provider
// client into one place for the CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/elee1766/chathistory/src/aisdk"
	"github.com/elee1766/chathistory/src/chatlog"
	"github.com/elee1766/chathistory/src/config"
	"github.com/elee1766/chathistory/src/oaiclient"
	"github.com/elee1766/chathistory/src/sequence"
	"github.com/elee1766/chathistory/src/storage"
)

// App represents the main application with all services
type App struct {
	Config *config.Config
	DB     *storage.DB
	Store  *chatlog.SQLStore
	Queue  *chatlog.Queue
	Logger *slog.Logger
}

// New opens the configured database, applies migrations when enabled and prepares the
// shared persistence queue.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := ensureSQLiteDir(cfg.Database); err != nil {
		return nil, err
	}

	db, err := storage.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	if cfg.Database.ShouldMigrate() {
		applied, err := db.Migrate(ctx)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to migrate storage: %w", err)
		}
		if len(applied) > 0 {
			logger.Info("applied migrations", "versions", applied, "dialect", db.Dialect())
		}
	}

	alloc := sequence.NewAllocator(db, logger)
	return &App{
		Config: cfg,
		DB:     db,
		Store:  chatlog.NewSQLStore(db, alloc),
		Queue:  chatlog.NewQueue(logger),
		Logger: logger,
	}, nil
}

func ensureSQLiteDir(cfg config.DatabaseConfig) error {
	dialect, err := storage.ParseDialect(cfg.Driver)
	if err != nil || dialect != storage.DialectSQLite {
		return err
	}
	path := cfg.DSN
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	path = strings.TrimPrefix(path, "file:")
	if path == "" || path == ":memory:" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}
	return nil
}

// RecorderOptions overrides per-session recorder settings.
type RecorderOptions struct {
	ChatID string
	Title  string
}

// NewRecorder creates a recorder on the shared queue using the configured recorder settings.
func (a *App) NewRecorder(opts RecorderOptions) (*chatlog.Recorder, error) {
	return chatlog.NewRecorder(chatlog.RecorderConfig{
		Store:        a.Store,
		Logger:       a.Logger,
		Queue:        a.Queue,
		ChatID:       opts.ChatID,
		UserID:       a.Config.Recorder.UserID,
		Title:        opts.Title,
		RecordPrompt: a.Config.Recorder.RecordPrompt,
		StoreTimeout: a.Config.Recorder.StoreTimeout,
	})
}

// NewProvider creates the OpenAI-compatible client described by the API configuration.
func (a *App) NewProvider() (*oaiclient.Client, error) {
	api := a.Config.API
	return oaiclient.NewClient(oaiclient.Config{
		APIKey:     api.APIKey,
		BaseURL:    api.BaseURL,
		Model:      api.Model,
		Logger:     a.Logger,
		Timeout:    api.Timeout,
		RetryCount: api.RetryCount,
		RetryDelay: api.RetryDelay,
	})
}

// Record wraps model so that every call through it is recorded by rec.
func Record(model aisdk.LanguageModel, rec *chatlog.Recorder) aisdk.LanguageModel {
	return aisdk.WrapLanguageModel(model, rec)
}

// Close drains queued persistence work and then closes the database.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Queue != nil {
		if err := a.Queue.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to drain recorder queue: %w", err))
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
