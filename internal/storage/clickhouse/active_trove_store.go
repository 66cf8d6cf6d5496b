package clickhouse

import (
	"context"
	"fmt"
	"time"

	"trove-capacity-lab/internal/domain"
	"trove-capacity-lab/internal/storage"
)

// ActiveTroveStore implements storage.ActiveTroveStore using ClickHouse.
type ActiveTroveStore struct {
	conn *Conn
}

// NewActiveTroveStore creates a new ActiveTroveStore.
func NewActiveTroveStore(conn *Conn) *ActiveTroveStore {
	return &ActiveTroveStore{conn: conn}
}

// Compile-time interface check.
var _ storage.ActiveTroveStore = (*ActiveTroveStore)(nil)

const activeTroveColumns = `
	branch_id, trove_id, bucket, branch_name, mcr, ccr,
	coll, debt, filled,
	entire_coll, entire_debt, price, tcr,
	icr, tcr_if_closed, tcr_delta, closeable, ccr_buffer,
	tcr_threshold, mcr_debt_cap, mcr_coll_cap, mcr_debt_cap_reserve, mcr_coll_cap_reserve`

func activeTroveValues(r *domain.ActiveTroveRecord) []any {
	return []any{
		r.Branch.ID, r.TroveID, r.Bucket.UTC(), r.Branch.Name, r.Branch.MCR, r.Branch.CCR,
		r.Coll, r.Debt, r.Filled,
		r.EntireColl, r.EntireDebt, r.Price, r.TCR,
		r.ICR, r.TCRIfClosed, r.TCRDelta, r.Closeable, r.CCRBuffer,
		r.TCRThreshold, r.MCRDebtCap, r.MCRCollCap, r.MCRDebtCapReserve, r.MCRCollCapReserve,
	}
}

// UpsertBulk writes rows in one insert block. Key is (branch_id, trove_id, bucket).
// Rows replace any stored under the same key once parts merge; reads use FINAL.
func (s *ActiveTroveStore) UpsertBulk(ctx context.Context, rows []*domain.ActiveTroveRecord) error {
	if err := storage.ValidateActiveTroves(rows); err != nil {
		return err
	}
	return insertBatch(ctx, s.conn, "active_troves", activeTroveColumns, rows, activeTroveValues)
}

// GetByBranch retrieves all rows of a branch, ordered by trove_id ASC, bucket ASC.
func (s *ActiveTroveStore) GetByBranch(ctx context.Context, branchName string) ([]*domain.ActiveTroveRecord, error) {
	query := `SELECT ` + activeTroveColumns + `
		FROM active_troves FINAL
		WHERE branch_name = ?
		ORDER BY trove_id ASC, bucket ASC`

	rows, err := s.conn.Query(ctx, query, branchName)
	if err != nil {
		return nil, fmt.Errorf("query by branch: %w", err)
	}
	defer rows.Close()

	return scanActiveTroves(rows)
}

// GetByBucket retrieves all rows of a bucket, ordered by branch ASC, trove_id ASC.
func (s *ActiveTroveStore) GetByBucket(ctx context.Context, bucket time.Time) ([]*domain.ActiveTroveRecord, error) {
	query := `SELECT ` + activeTroveColumns + `
		FROM active_troves FINAL
		WHERE toUnixTimestamp64Milli(bucket) = ?
		ORDER BY branch_name ASC, trove_id ASC`

	rows, err := s.conn.Query(ctx, query, bucket.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("query by bucket: %w", err)
	}
	defer rows.Close()

	return scanActiveTroves(rows)
}

// GetAll retrieves all rows.
func (s *ActiveTroveStore) GetAll(ctx context.Context) ([]*domain.ActiveTroveRecord, error) {
	query := `SELECT ` + activeTroveColumns + `
		FROM active_troves FINAL
		ORDER BY branch_name ASC, trove_id ASC, bucket ASC`

	rows, err := s.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query all: %w", err)
	}
	defer rows.Close()

	return scanActiveTroves(rows)
}

func scanActiveTroves(rows chRows) ([]*domain.ActiveTroveRecord, error) {
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
