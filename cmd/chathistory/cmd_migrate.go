package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/elee1766/chathistory/src/app"
	"github.com/elee1766/chathistory/src/config"
)

// MigrateCmd manages database migrations
type MigrateCmd struct {
	Up     MigrateUpCmd     `cmd:"" help:"Run pending migrations"`
	Status MigrateStatusCmd `cmd:"" help:"Show migration status"`
}

// openStorage connects without applying migrations
func openStorage(ctx context.Context, cli *CLI) (*app.App, error) {
	a, _, err := cli.openApp(ctx, func(cfg *config.Config) {
		off := false
		cfg.Database.AutoMigrate = &off
	})
	return a, err
}

// MigrateUpCmd runs pending migrations
type MigrateUpCmd struct{}

// Run executes the migrate up command
func (c *MigrateUpCmd) Run(ctx context.Context, cli *CLI) error {
	a, err := openStorage(ctx, cli)
	if err != nil {
		return err
	}
	defer a.Close(ctx)
	db := a.DB

	ran, err := db.Migrate(ctx)
	if err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	if len(ran) == 0 {
		fmt.Println("Database is up to date")
		return nil
	}
	for _, v := range ran {
		fmt.Printf("Applied migration %d\n", v)
	}
	return nil
}

// MigrateStatusCmd shows migration status
type MigrateStatusCmd struct{}

// Run executes the migrate status command
func (c *MigrateStatusCmd) Run(ctx context.Context, cli *CLI) error {
	a, err := openStorage(ctx, cli)
	if err != nil {
		return err
	}
	defer a.Close(ctx)
	db := a.DB

	status, err := db.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("failed to read migration status: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tNAME\tAPPLIED")
	for _, m := range status {
		applied := "pending"
		if m.AppliedTs != nil {
			applied = time.UnixMilli(*m.AppliedTs).Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\n", m.Version, m.Name, applied)
	}
	return w.Flush()
}
