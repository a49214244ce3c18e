package storage

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"token-indexer/internal/config"
)

// setupTestDB starts a PostgreSQL container and applies the embedded migrations.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres integration test skipped in -short mode")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("indexer"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "failed to get connection string")

	pool, err := NewPool(ctx, config.DatabaseConfig{DSN: dsn, MaxOpenConns: 4})
	require.NoError(t, err, "failed to create pool")
	t.Cleanup(pool.Close)

	applied, err := Migrate(ctx, pool)
	require.NoError(t, err, "failed to migrate")
	require.NotEmpty(t, applied)

	return pool
}

// insertAt writes a sample with an explicit timestamp.
func insertAt(t *testing.T, pool *pgxpool.Pool, table Table, address, value string, at time.Time) {
	t.Helper()
	_, err := pool.Exec(context.Background(),
		"INSERT INTO "+string(table)+" (source, address, "+table.ValueColumn()+", created_at) VALUES ('raydium', $1, $2, $3)",
		address, value, at)
	require.NoError(t, err)
}
