package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"trove-capacity-lab/internal/logging"
	chstore "trove-capacity-lab/internal/storage/clickhouse"
)

const createClickhouseMigrations = `CREATE TABLE IF NOT EXISTS schema_migrations (
    file       String,
    applied_at DateTime64(3, 'UTC') DEFAULT now64(3)
) ENGINE = ReplacingMergeTree
ORDER BY file`

// RunClickhouseMigrations creates the database named in dsn and applies the
// embedded schema files not yet recorded in schema_migrations. Returns a
// connection to that database and the number of files applied.
//
// ClickHouse DDL is not transactional: a file is recorded only after all of
// its statements succeed, so its statements must be safe to rerun.
func RunClickhouseMigrations(ctx context.Context, dsn string, logger *zap.Logger) (*chstore.Conn, int, error) {
	logger = logging.OrNop(logger)

	dbName, err := databaseFromDSN(dsn)
	if err != nil {
		return nil, 0, err
	}
	if err := createClickhouseDatabase(ctx, dsn, dbName); err != nil {
		return nil, 0, err
	}

	conn, err := chstore.NewConnWithDatabase(ctx, dsn, dbName)
	if err != nil {
		return nil, 0, fmt.Errorf("connect clickhouse db: %w", err)
	}

	n, err := applyClickhouseMigrations(ctx, conn, logger)
	if err != nil {
		conn.Close()
		return nil, n, err
	}
	return conn, n, nil
}

func createClickhouseDatabase(ctx context.Context, dsn, dbName string) error {
	admin, err := chstore.NewConnWithDatabase(ctx, dsn, "")
	if err != nil {
		return fmt.Errorf("connect clickhouse admin: %w", err)
	}
	defer admin.Close()

	if err := admin.Exec(ctx, "CREATE DATABASE IF NOT EXISTS "+dbName); err != nil {
		return fmt.Errorf("create database %s: %w", dbName, err)
	}
	return nil
}

func applyClickhouseMigrations(ctx context.Context, conn *chstore.Conn, logger *zap.Logger) (int, error) {
	if err := conn.Exec(ctx, createClickhouseMigrations); err != nil {
		return 0, fmt.Errorf("create schema_migrations: %w", err)
	}

	applied, err := appliedClickhouseMigrations(ctx, conn)
	if err != nil {
		return 0, err
	}

	files, err := sqlFiles(ClickhouseFS, "clickhouse")
	if err != nil {
		return 0, err
	}

	n := 0
	for _, file := range files {
		if _, ok := applied[file]; ok {
			continue
		}
		data, err := fs.ReadFile(ClickhouseFS, "clickhouse/"+file)
		if err != nil {
			return n, fmt.Errorf("read migration %s: %w", file, err)
		}
		stmts, err := statements(string(data))
		if err != nil {
			return n, fmt.Errorf("parse migration %s: %w", file, err)
		}

		// The native protocol runs one statement per Exec.
		for i, stmt := range stmts {
			if err := conn.Exec(ctx, stmt); err != nil {
				return n, fmt.Errorf("apply migration %s statement %d: %w", file, i+1, err)
			}
		}
		if err := conn.Exec(ctx, "INSERT INTO schema_migrations (file) VALUES (?)", file); err != nil {
			return n, fmt.Errorf("record migration %s: %w", file, err)
		}
		n++
		logger.Info("applied migration", zap.String("database", "clickhouse"), zap.String("file", file))
	}
	return n, nil
}

func appliedClickhouseMigrations(ctx context.Context, conn *chstore.Conn) (map[string]struct{}, error) {
	rows, err := conn.Query(ctx, "SELECT file FROM schema_migrations FINAL")
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

// statements splits a script on semicolons outside single-quoted literals
// and drops -- comments. Quotes escape as '' or \'.
func statements(script string) ([]string, error) {
	var (
		stmts   []string
		current strings.Builder
		quoted  bool
	)
	flush := func() {
		if stmt := strings.TrimSpace(current.String()); stmt != "" {
			stmts = append(stmts, stmt)
		}
		current.Reset()
	}

	for i := 0; i < len(script); i++ {
		ch := script[i]
		switch {
		case quoted:
			current.WriteByte(ch)
			switch {
			case ch == '\\' && i+1 < len(script):
				i++
				current.WriteByte(script[i])
			case ch == '\'' && i+1 < len(script) && script[i+1] == '\'':
				i++
				current.WriteByte(script[i])
			case ch == '\'':
				quoted = false
			}
		case ch == '\'':
			quoted = true
			current.WriteByte(ch)
		case ch == '-' && i+1 < len(script) && script[i+1] == '-':
			for i < len(script) && script[i] != '\n' {
				i++
			}
			current.WriteByte('\n')
		case ch == ';':
			flush()
		default:
			current.WriteByte(ch)
		}
	}
	if quoted {
		return nil, fmt.Errorf("unterminated string literal")
	}
	flush()
	return stmts, nil
}

func databaseFromDSN(dsn string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("parse clickhouse dsn: %w", err)
	}
	db := strings.TrimPrefix(u.Path, "/")
	if db == "" {
		return "", fmt.Errorf("clickhouse dsn missing database")
	}
	return db, nil
}
