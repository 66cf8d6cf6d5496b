package postgres

import (
	"context"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

// setupTestDB starts a throwaway Postgres with the result schema loaded as init
// scripts. Container and pool are released by t.Cleanup.
func setupTestDB(t *testing.T) *Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}
	ctx := context.Background()

	// The migrations package imports this one, so the schema files are picked
	// up from disk instead of its embedded FS.
	scripts, err := filepath.Glob(filepath.Join("..", "migrations", "postgres", "*.sql"))
	require.NoError(t, err)
	require.NotEmpty(t, scripts, "no postgres schema files found")
	sort.Strings(scripts)

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("troves"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		postgres.WithInitScripts(scripts...),
		postgres.BasicWaitStrategies(),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := NewPool(ctx, dsn, 4)
	require.NoError(t, err, "failed to create pool")
	t.Cleanup(pool.Close)

	return pool
}

// truncate clears all result tables between subtests.
func truncate(t *testing.T, ctx context.Context, pool *Pool) {
	t.Helper()
	_, err := pool.Exec(ctx, "TRUNCATE redemption_records, branch_states, active_troves")
	require.NoError(t, err, "failed to truncate tables")
}

func ptr[T any](v T) *T {
	return &v
}
