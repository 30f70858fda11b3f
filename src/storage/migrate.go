package storage

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/georgysavva/scany/v2/sqlscan"
)

//go:embed migrations
var migrationsFS embed.FS

// Migration is one embedded goose-format migration file.
type Migration struct {
	Version    int
	Name       string
	Statements []string
}

// MigrationInfo reports whether a migration has been applied.
type MigrationInfo struct {
	Version   int    `json:"version"`
	Name      string `json:"name"`
	Applied   bool   `json:"applied"`
	AppliedTs *int64 `json:"applied_ts,omitempty"`
}

// Migrations returns the embedded migrations for a dialect ordered by version.
func Migrations(dialect Dialect) ([]Migration, error) {
	dir := path.Join("migrations", string(dialect))
	entries, err := fs.ReadDir(migrationsFS, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations for %s: %w", dialect, err)
	}

	var migrations []Migration
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		prefix, _, ok := strings.Cut(name, "_")
		if !ok {
			return nil, fmt.Errorf("migration %s has no version prefix", name)
		}
		version, err := strconv.Atoi(prefix)
		if err != nil {
			return nil, fmt.Errorf("migration %s has invalid version: %w", name, err)
		}
		content, err := fs.ReadFile(migrationsFS, path.Join(dir, name))
		if err != nil {
			return nil, err
		}
		migrations = append(migrations, Migration{
			Version:    version,
			Name:       strings.TrimSuffix(name, ".sql"),
			Statements: extractUpMigration(string(content)),
		})
	}

	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	return migrations, nil
}

func (d *DB) createMigrationsTable(ctx context.Context) error {
	createMigrationsTable := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version    BIGINT NOT NULL PRIMARY KEY,
		applied_ts BIGINT NOT NULL
	)`

	if _, err := d.ExecContext(ctx, createMigrationsTable); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

type appliedMigration struct {
	Version   int   `db:"version"`
	AppliedTs int64 `db:"applied_ts"`
}

func (d *DB) appliedMigrations(ctx context.Context) (map[int]int64, error) {
	var rows []appliedMigration
	err := sqlscan.Select(ctx, d, &rows, "SELECT version, applied_ts FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("failed to query migrations: %w", err)
	}
	applied := make(map[int]int64, len(rows))
	for _, r := range rows {
		applied[r.Version] = r.AppliedTs
	}
	return applied, nil
}

// Migrate applies pending migrations and returns the versions it applied.
func (d *DB) Migrate(ctx context.Context) ([]int, error) {
	if err := d.createMigrationsTable(ctx); err != nil {
		return nil, err
	}

	applied, err := d.appliedMigrations(ctx)
	if err != nil {
		return nil, err
	}

	migrations, err := Migrations(d.dialect)
	if err != nil {
		return nil, err
	}

	var ran []int
	for _, migration := range migrations {
		if _, ok := applied[migration.Version]; ok {
			continue
		}

		// mysql commits DDL implicitly; the IF NOT EXISTS guards make a partial run safe to repeat.
		err := d.InTx(ctx, func(tx *Tx) error {
			for _, stmt := range migration.Statements {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
				}
			}
			if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version, applied_ts) VALUES (?, ?)", migration.Version, NowMillis()); err != nil {
				return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
			}
			return nil
		})
		if err != nil {
			return ran, err
		}
		ran = append(ran, migration.Version)
	}

	return ran, nil
}

// MigrationStatus lists every embedded migration with its applied state.
func (d *DB) MigrationStatus(ctx context.Context) ([]MigrationInfo, error) {
	if err := d.createMigrationsTable(ctx); err != nil {
		return nil, err
	}
	applied, err := d.appliedMigrations(ctx)
	if err != nil {
		return nil, err
	}
	migrations, err := Migrations(d.dialect)
	if err != nil {
		return nil, err
	}

	infos := make([]MigrationInfo, 0, len(migrations))
	for _, m := range migrations {
		info := MigrationInfo{Version: m.Version, Name: m.Name}
		if ts, ok := applied[m.Version]; ok {
			info.Applied = true
			info.AppliedTs = &ts
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// extractUpMigration extracts the statements of the UP section of a goose migration.
// Each StatementBegin/StatementEnd block becomes one statement.
func extractUpMigration(content string) []string {
	lines := strings.Split(content, "\n")
	var statements []string
	var current []string
	inUp := false
	inStatement := false

	for _, line := range lines {
		if strings.Contains(line, "-- +goose Up") {
			inUp = true
			continue
		}
		if strings.Contains(line, "-- +goose Down") {
			break
		}
		if strings.Contains(line, "-- +goose StatementBegin") {
			inStatement = true
			current = current[:0]
			continue
		}
		if strings.Contains(line, "-- +goose StatementEnd") {
			inStatement = false
			stmt := strings.TrimSpace(strings.Join(current, "\n"))
			stmt = strings.TrimSuffix(stmt, ";")
			if stmt != "" {
				statements = append(statements, stmt)
			}
			continue
		}
		if inUp && inStatement {
			current = append(current, line)
		}
	}

	return statements
}
