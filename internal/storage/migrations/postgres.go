package migrations

import (
	"context"
	"fmt"
	"io/fs"

	"go.uber.org/zap"

	"trove-capacity-lab/internal/logging"
	"trove-capacity-lab/internal/storage/postgres"
)

const createSchemaMigrations = `CREATE TABLE IF NOT EXISTS schema_migrations (
    file       TEXT        PRIMARY KEY,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// RunPostgresMigrations applies the embedded schema files that are not yet
// recorded in schema_migrations, each in its own transaction. Returns the
// number of files applied.
func RunPostgresMigrations(ctx context.Context, pool *postgres.Pool, logger *zap.Logger) (int, error) {
	logger = logging.OrNop(logger)

	if _, err := pool.Exec(ctx, createSchemaMigrations); err != nil {
		return 0, fmt.Errorf("create schema_migrations: %w", err)
	}

	applied, err := appliedPostgresMigrations(ctx, pool)
	if err != nil {
		return 0, err
	}

	files, err := sqlFiles(PostgresFS, "postgres")
	if err != nil {
		return 0, err
	}

	n := 0
	for _, file := range files {
		if _, ok := applied[file]; ok {
			continue
		}
		data, err := fs.ReadFile(PostgresFS, "postgres/"+file)
		if err != nil {
			return n, fmt.Errorf("read migration %s: %w", file, err)
		}
		if err := applyPostgresMigration(ctx, pool, file, string(data)); err != nil {
			return n, err
		}
		n++
		logger.Info("applied migration", zap.String("database", "postgres"), zap.String("file", file))
	}
	return n, nil
}

func appliedPostgresMigrations(ctx context.Context, pool *postgres.Pool) (map[string]struct{}, error) {
	rows, err := pool.Query(ctx, "SELECT file FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("query schema_migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]struct{})
	for rows.Next() {
		var file string
		if err := rows.Scan(&file); err != nil {
			return nil, err
		}
		applied[file] = struct{}{}
	}
	return applied, rows.Err()
}

func applyPostgresMigration(ctx context.Context, pool *postgres.Pool, file, sql string) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin migration %s: %w", file, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, sql); err != nil {
		return fmt.Errorf("apply migration %s: %w", file, err)
	}
	if _, err := tx.Exec(ctx, "INSERT INTO schema_migrations (file) VALUES ($1)", file); err != nil {
		return fmt.Errorf("record migration %s: %w", file, err)
	}
	return tx.Commit(ctx)
}
