package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/elee1766/chathistory/src/aisdk"
	"github.com/elee1766/chathistory/src/app"
	"github.com/elee1766/chathistory/src/config"
	"github.com/elee1766/chathistory/src/storage"
	"github.com/elee1766/chathistory/src/transcript"
)

// ChatCmd sends one prompt and records the turn
type ChatCmd struct {
	Prompt      []string `arg:"" help:"Prompt text"`
	ChatID      string   `help:"Continue an existing chat; its text history is sent as context"`
	Title       string   `help:"Title stored on a newly created chat"`
	System      string   `help:"System prompt"`
	Model       string   `help:"Override the configured model"`
	Temperature *float64 `help:"Sampling temperature"`
	MaxTokens   *int     `help:"Maximum output tokens"`
	NoStream    bool     `help:"Use a single non-streaming request"`
	SaveChunks  string   `help:"Write the streamed chunks to this JSONL file for later replay" type:"path"`
}

// Run executes the chat command
func (c *ChatCmd) Run(ctx context.Context, cli *CLI) error {
	a, logger, err := cli.openApp(ctx, func(cfg *config.Config) {
		if c.Model != "" {
			cfg.API.Model = c.Model
		}
	})
	if err != nil {
		return err
	}
	defer closeApp(a, logger)

	provider, err := a.NewProvider()
	if err != nil {
		return err
	}

	var prompt []*aisdk.Message
	if c.System != "" {
		prompt = append(prompt, &aisdk.Message{Role: storage.RoleSystem, Content: c.System})
	}
	if c.ChatID != "" {
		prior, err := priorMessages(ctx, a, c.ChatID)
		if err != nil {
			return err
		}
		prompt = append(prompt, prior...)
	}
	prompt = append(prompt, &aisdk.Message{Role: storage.RoleUser, Content: strings.Join(c.Prompt, " ")})

	rec, err := a.NewRecorder(app.RecorderOptions{ChatID: c.ChatID, Title: c.Title})
	if err != nil {
		return err
	}
	model := app.Record(provider, rec)
	params := &aisdk.CallOptions{
		Prompt:          prompt,
		Temperature:     c.Temperature,
		MaxOutputTokens: c.MaxTokens,
	}

	if c.NoStream {
		res, err := model.DoGenerate(ctx, params)
		if err != nil {
			return err
		}
		fmt.Println(res.Text())
	} else {
		var chunkLog *aisdk.ChunkLogWriter
		if c.SaveChunks != "" {
			f, err := os.Create(c.SaveChunks)
			if err != nil {
				return fmt.Errorf("failed to create chunk log: %w", err)
			}
			defer f.Close()
			chunkLog = aisdk.NewChunkLogWriter(f)
		}

		res, err := model.DoStream(ctx, params)
		if err != nil {
			return err
		}
		err = aisdk.StreamToCallback(res.Stream, func(chunk *aisdk.Chunk) error {
			if chunkLog != nil {
				if err := chunkLog.Write(chunk); err != nil {
					return err
				}
			}
			switch chunk.Type {
			case aisdk.ChunkTextDelta:
				fmt.Print(chunk.Delta)
			case aisdk.ChunkToolCall:
				fmt.Fprintf(os.Stderr, "\n[tool call %s %s]\n", chunk.ToolName, chunk.Input)
			case aisdk.ChunkError:
				return errors.New(chunk.Error)
			}
			return nil
		})
		fmt.Println()
		if err != nil {
			return err
		}
	}

	logger.Info("recorded turn", "chat_id", rec.ChatID(), "model", provider.ModelID())
	return nil
}

// priorMessages converts the recorded text of a chat back into prompt messages. Tool rows
// are skipped because their calls cannot be replayed without the tool.
func priorMessages(ctx context.Context, a *app.App, chatID string) ([]*aisdk.Message, error) {
	tr, err := transcript.Load(ctx, a.DB, chatID)
	if errors.Is(err, transcript.ErrChatNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var out []*aisdk.Message
	for _, turn := range tr.Turns {
		for _, m := range turn.Messages {
			if m.ToolCallID != nil || m.Content == nil || *m.Content == "" {
				continue
			}
			out = append(out, &aisdk.Message{Role: m.Role, Content: *m.Content})
		}
	}
	return out, nil
}
