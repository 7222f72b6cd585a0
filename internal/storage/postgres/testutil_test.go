package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupTestDB creates a PostgreSQL container for testing and applies migrations.
// Returns a cleanup function that must be called after tests complete.
func setupTestDB(t *testing.T) (*Pool, func()) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("testdb"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "failed to get connection string")

	pool, err := NewPool(ctx, dsn)
	require.NoError(t, err, "failed to create pool")

	// Apply embedded migrations. Done through raw SQL here instead of the
	// migrations package to avoid an import cycle with this package.
	for _, stmt := range testSchema {
		_, err := pool.Exec(ctx, stmt)
		require.NoError(t, err, "failed to apply test schema")
	}

	cleanup := func() {
		pool.Close()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}

	return pool, cleanup
}

// testSchema mirrors internal/storage/migrations/postgres/*.sql.
var testSchema = []string{
	`CREATE TABLE IF NOT EXISTS stream_cache (
		stream_id  TEXT PRIMARY KEY,
		payload    JSONB NOT NULL,
		fetched_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS scan_progress (
		account    TEXT PRIMARY KEY,
		block      BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
}
