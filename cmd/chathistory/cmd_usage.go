package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/elee1766/chathistory/src/storage"
)

// UsageCmd totals recorded token usage
type UsageCmd struct {
	ChatID string        `help:"Only count this chat"`
	Since  time.Duration `help:"Only count usage recorded within this duration, e.g. 24h"`
	JSON   bool          `help:"Print JSON" name:"json"`
}

// Run executes the usage command
func (c *UsageCmd) Run(ctx context.Context, cli *CLI) error {
	a, logger, err := cli.openApp(ctx, nil)
	if err != nil {
		return err
	}
	defer closeApp(a, logger)

	filter := storage.UsageFilter{ChatID: c.ChatID}
	if c.Since > 0 {
		filter.SinceTs = time.Now().Add(-c.Since).UnixMilli()
	}
	totals, err := storage.SumTokenUsage(ctx, a.DB, filter)
	if err != nil {
		return fmt.Errorf("failed to sum usage: %w", err)
	}

	if c.JSON {
		return json.NewEncoder(os.Stdout).Encode(totals)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TURNS\tPROMPT\tCOMPLETION\tTOTAL")
	fmt.Fprintf(w, "%d\t%d\t%d\t%d\n", totals.Turns, totals.PromptTokens, totals.CompletionTokens, totals.TotalTokens)
	return w.Flush()
}
