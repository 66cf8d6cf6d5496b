// Package postgres stores result tables in PostgreSQL.
package postgres

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool is the connection pool shared by the result stores.
type Pool struct {
	*pgxpool.Pool
}

// NewPool connects and pings. maxConns <= 0 keeps the pgxpool default.
// Sessions run in UTC so TIMESTAMPTZ columns scan back as UTC instants.
func NewPool(ctx context.Context, dsn string, maxConns int32) (*Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	params := cfg.ConnConfig.RuntimeParams
	params["timezone"] = "UTC"
	if params["application_name"] == "" {
		params["application_name"] = "trove-capacity-lab"
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Pool{Pool: pool}, nil
}

// Close releases all connections.
func (p *Pool) Close() {
	p.Pool.Close()
}

// upsertSQL builds an INSERT of columns that overwrites every non-key column
// when a row with the same keys exists.
func upsertSQL(table string, columns []string, keys ...string) string {
	isKey := make(map[string]bool, len(keys))
	for _, k := range keys {
		isKey[k] = true
	}

	placeholders := make([]string, len(columns))
	var updates []string
	for i, c := range columns {
		placeholders[i] = "$" + strconv.Itoa(i+1)
		if !isKey[c] {
			updates = append(updates, c+" = EXCLUDED."+c)
		}
	}

	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		table,
		strings.Join(columns, ", "),
		strings.Join(placeholders, ", "),
		strings.Join(keys, ", "),
		strings.Join(updates, ", "),
	)
}

// sendBatch queues one statement per row on tx and reports the first failure.
func sendBatch[T any](ctx context.Context, tx pgx.Tx, query string, rows []T, args func(T) []any) error {
	if len(rows) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(query, args(row)...)
	}
	return tx.SendBatch(ctx, batch).Close()
}
