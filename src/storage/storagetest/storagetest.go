// Package storagetest opens migrated databases for tests: a temporary sqlite file, and
// postgres or mysql in containers when docker is available.
package storagetest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcmysql "github.com/testcontainers/testcontainers-go/modules/mysql"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/elee1766/chathistory/src/storage"
)

// NewSQLite returns a migrated sqlite database in the test's temp dir.
func NewSQLite(t testing.TB) *storage.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "chathistory.db")
	return open(t, "sqlite", dsn)
}

// NewPostgres starts a postgres container and returns a migrated database.
// The test is skipped in -short mode or when no container runtime is reachable.
func NewPostgres(t *testing.T) *storage.DB {
	t.Helper()
	skipContainers(t)
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("chathistory"),
		tcpostgres.WithUsername("chathistory"),
		tcpostgres.WithPassword("chathistory"),
		tcpostgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err)

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return open(t, "postgres", dsn)
}

// NewMySQL starts a mysql container and returns a migrated database.
// The test is skipped in -short mode or when no container runtime is reachable.
func NewMySQL(t *testing.T) *storage.DB {
	t.Helper()
	skipContainers(t)
	ctx := context.Background()

	container, err := tcmysql.Run(ctx, "mysql:8.0",
		tcmysql.WithDatabase("chathistory"),
		tcmysql.WithUsername("chathistory"),
		tcmysql.WithPassword("chathistory"),
	)
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err)

	dsn, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	return open(t, "mysql", dsn)
}

// ForEachDialect runs fn against sqlite and, when containers are available, postgres and mysql.
func ForEachDialect(t *testing.T, fn func(t *testing.T, db *storage.DB)) {
	t.Run("sqlite", func(t *testing.T) {
		fn(t, NewSQLite(t))
	})
	t.Run("postgres", func(t *testing.T) {
		fn(t, NewPostgres(t))
	})
	t.Run("mysql", func(t *testing.T) {
		fn(t, NewMySQL(t))
	})
}

func skipContainers(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)
}

func open(t testing.TB, driver, dsn string) *storage.DB {
	t.Helper()
	ctx := context.Background()
	db, err := storage.Open(ctx, driver, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Migrate(ctx)
	require.NoError(t, err)
	return db
}
