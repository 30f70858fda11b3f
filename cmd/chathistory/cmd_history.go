package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/elee1766/chathistory/src/storage"
	"github.com/elee1766/chathistory/src/theme"
	"github.com/elee1766/chathistory/src/transcript"
)

// HistoryCmd prints a recorded chat, or lists recent chats when no id is given
type HistoryCmd struct {
	ChatID string `arg:"" optional:"" help:"Chat to print"`
	User   string `help:"Only list chats of this user"`
	Limit  int    `help:"Chats to list" default:"20"`
	JSON   bool   `help:"Print JSON" name:"json"`
	Width  int    `help:"Truncate lines to this many cells (0 disables)"`
	Color  string `help:"Color output (auto, always, never)" enum:"auto,always,never" default:"auto"`
}

// Run executes the history command
func (c *HistoryCmd) Run(ctx context.Context, cli *CLI) error {
	a, logger, err := cli.openApp(ctx, nil)
	if err != nil {
		return err
	}
	defer closeApp(a, logger)

	if c.ChatID == "" {
		return c.listChats(ctx, a.DB, os.Stdout)
	}

	tr, err := transcript.Load(ctx, a.DB, c.ChatID)
	if err != nil {
		return err
	}
	if c.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(tr)
	}
	return transcript.Render(os.Stdout, tr, transcript.Options{
		Width: c.Width,
		Color: useColor(c.Color, os.Stdout),
		Theme: theme.Default(),
	})
}

func (c *HistoryCmd) listChats(ctx context.Context, db storage.ExecQuerier, out io.Writer) error {
	filter := storage.ChatFilter{Limit: c.Limit}
	if c.User != "" {
		filter.UserID = &c.User
	}
	chats, err := storage.ListChats(ctx, db, filter)
	if err != nil {
		return fmt.Errorf("failed to list chats: %w", err)
	}

	if c.JSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(chats)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tUSER\tUPDATED")
	for _, chat := range chats {
		title := ""
		if chat.Title != nil {
			title = *chat.Title
		}
		updated := time.UnixMilli(chat.UpdatedTs).Format(time.RFC3339)
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", chat.ID, title, chat.UserID, updated)
	}
	return w.Flush()
}

func useColor(mode string, f *os.File) bool {
	switch mode {
	case "always":
		return true
	case "never":
		return false
	}
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	info, err := f.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}
