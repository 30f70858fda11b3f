package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/elee1766/chathistory/src/aisdk"
	"github.com/elee1766/chathistory/src/app"
)

// ReplayCmd feeds recorded chunk logs through the recorder as if a model had produced them
type ReplayCmd struct {
	Files       []string `arg:"" help:"JSONL chunk logs" type:"path"`
	ChatID      string   `help:"Record every file into this chat instead of one chat per file"`
	Model       string   `help:"Model id stored on replayed turns" default:"replay"`
	Concurrency int      `help:"Files replayed at once" default:"4"`
	Generate    bool     `help:"Replay through the non-streaming path"`
}

// Run executes the replay command
func (c *ReplayCmd) Run(ctx context.Context, cli *CLI) error {
	a, logger, err := cli.openApp(ctx, nil)
	if err != nil {
		return err
	}
	defer closeApp(a, logger)

	n, err := c.replay(ctx, afero.NewOsFs(), a, logger)
	if err != nil {
		return err
	}
	fmt.Printf("Replayed %d chunks from %d files\n", n, len(c.Files))
	return nil
}

func (c *ReplayCmd) replay(ctx context.Context, fs afero.Fs, a *app.App, logger *slog.Logger) (int64, error) {
	limit := c.Concurrency
	if limit <= 0 {
		limit = 1
	}

	var total atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, path := range c.Files {
		g.Go(func() error {
			n, err := c.replayFile(gctx, fs, a, path)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			logger.Debug("replayed chunk log", "file", path, "chunks", n)
			total.Add(int64(n))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return total.Load(), err
	}
	return total.Load(), a.Queue.Wait(ctx)
}

func (c *ReplayCmd) replayFile(ctx context.Context, fs afero.Fs, a *app.App, path string) (int, error) {
	f, err := fs.Open(path)
	if err != nil {
		return 0, err
	}
	chunks, err := aisdk.ReadChunkLog(f)
	f.Close()
	if err != nil {
		return 0, err
	}

	chatID := c.ChatID
	if chatID == "" {
		chatID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	rec, err := a.NewRecorder(app.RecorderOptions{ChatID: chatID})
	if err != nil {
		return 0, err
	}
	model := app.Record(aisdk.NewStaticModel(c.Model, chunks), rec)
	params := &aisdk.CallOptions{}

	if c.Generate {
		if _, err := model.DoGenerate(ctx, params); err != nil {
			return 0, err
		}
		return len(chunks), nil
	}

	res, err := model.DoStream(ctx, params)
	if err != nil {
		return 0, err
	}
	n := 0
	err = aisdk.StreamToCallback(res.Stream, func(*aisdk.Chunk) error {
		n++
		return nil
	})
	return n, err
}
