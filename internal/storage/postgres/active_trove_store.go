package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"trove-capacity-lab/internal/domain"
	"trove-capacity-lab/internal/storage"
)

// ActiveTroveStore implements storage.ActiveTroveStore using PostgreSQL.
type ActiveTroveStore struct {
	pool *Pool
}

// NewActiveTroveStore creates a new ActiveTroveStore.
func NewActiveTroveStore(pool *Pool) *ActiveTroveStore {
	return &ActiveTroveStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ActiveTroveStore = (*ActiveTroveStore)(nil)

var activeTroveColumns = []string{
	"branch_id", "trove_id", "bucket", "branch_name", "mcr", "ccr",
	"coll", "debt", "filled",
	"entire_coll", "entire_debt", "price", "tcr",
	"icr", "tcr_if_closed", "tcr_delta", "closeable", "ccr_buffer",
	"tcr_threshold", "mcr_debt_cap", "mcr_coll_cap", "mcr_debt_cap_reserve", "mcr_coll_cap_reserve",
}

var (
	activeTroveSelect = `SELECT ` + strings.Join(activeTroveColumns, ", ") + ` FROM active_troves`
	activeTroveUpsert = upsertSQL("active_troves", activeTroveColumns, "branch_id", "trove_id", "bucket")
)

func activeTroveArgs(r *domain.ActiveTroveRecord) []any {
	return []any{
		r.Branch.ID, r.TroveID, r.Bucket.UTC(), r.Branch.Name, r.Branch.MCR, r.Branch.CCR,
		r.Coll, r.Debt, r.Filled,
		r.EntireColl, r.EntireDebt, r.Price, r.TCR,
		r.ICR, r.TCRIfClosed, r.TCRDelta, r.Closeable, r.CCRBuffer,
		r.TCRThreshold, r.MCRDebtCap, r.MCRCollCap, r.MCRDebtCapReserve, r.MCRCollCapReserve,
	}
}

// UpsertBulk writes rows in one transaction, replacing rows with the same
// (branch_id, trove_id, bucket).
func (s *ActiveTroveStore) UpsertBulk(ctx context.Context, rows []*domain.ActiveTroveRecord) error {
	if err := storage.ValidateActiveTroves(rows); err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return upsertActiveTroves(ctx, tx, rows)
	})
}

func upsertActiveTroves(ctx context.Context, tx pgx.Tx, rows []*domain.ActiveTroveRecord) error {
	if err := sendBatch(ctx, tx, activeTroveUpsert, rows, activeTroveArgs); err != nil {
		return fmt.Errorf("upsert active troves: %w", err)
	}
	return nil
}

// GetByBranch retrieves all rows of a branch, ordered by trove_id ASC, bucket ASC.
func (s *ActiveTroveStore) GetByBranch(ctx context.Context, branchName string) ([]*domain.ActiveTroveRecord, error) {
	query := activeTroveSelect + `
		WHERE branch_name = $1
		ORDER BY trove_id COLLATE "C" ASC, bucket ASC`

	rows, err := s.pool.Query(ctx, query, branchName)
	if err != nil {
		return nil, fmt.Errorf("get active troves by branch: %w", err)
	}
	defer rows.Close()

	return scanActiveTroves(rows)
}

// GetByBucket retrieves all rows of a bucket, ordered by branch ASC, trove_id ASC.
func (s *ActiveTroveStore) GetByBucket(ctx context.Context, bucket time.Time) ([]*domain.ActiveTroveRecord, error) {
	query := activeTroveSelect + `
		WHERE bucket = $1
		ORDER BY branch_name COLLATE "C" ASC, trove_id COLLATE "C" ASC`

	rows, err := s.pool.Query(ctx, query, bucket.UTC())
	if err != nil {
		return nil, fmt.Errorf("get active troves by bucket: %w", err)
	}
	defer rows.Close()

	return scanActiveTroves(rows)
}

// GetAll retrieves all rows.
func (s *ActiveTroveStore) GetAll(ctx context.Context) ([]*domain.ActiveTroveRecord, error) {
	query := activeTroveSelect + `
		ORDER BY branch_name COLLATE "C" ASC, trove_id COLLATE "C" ASC, bucket ASC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("get all active troves: %w", err)
	}
	defer rows.Close()

	return scanActiveTroves(rows)
}

func scanActiveTroves(rows pgx.Rows) ([]*domain.ActiveTroveRecord, error) {
	var result []*domain.ActiveTroveRecord

	for rows.Next() {
		var r domain.ActiveTroveRecord

		err := rows.Scan(
			&r.Branch.ID, &r.TroveID, &r.Bucket, &r.Branch.Name, &r.Branch.MCR, &r.Branch.CCR,
			&r.Coll, &r.Debt, &r.Filled,
			&r.EntireColl, &r.EntireDebt, &r.Price, &r.TCR,
			&r.ICR, &r.TCRIfClosed, &r.TCRDelta, &r.Closeable, &r.CCRBuffer,
			&r.TCRThreshold, &r.MCRDebtCap, &r.MCRCollCap, &r.MCRDebtCapReserve, &r.MCRCollCapReserve,
		)
		if err != nil {
			return nil, fmt.Errorf("scan active trove row: %w", err)
		}

		r.Bucket = r.Bucket.UTC()
		result = append(result, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate active trove rows: %w", err)
	}

	return result, nil
}
