package clickhouse

import (
	"context"
	"fmt"

	"trove-capacity-lab/internal/domain"
	"trove-capacity-lab/internal/storage"
)

// RedemptionRecordStore implements storage.RedemptionRecordStore using ClickHouse.
type RedemptionRecordStore struct {
	conn *Conn
}

// NewRedemptionRecordStore creates a new RedemptionRecordStore.
func NewRedemptionRecordStore(conn *Conn) *RedemptionRecordStore {
	return &RedemptionRecordStore{conn: conn}
}

// Compile-time interface check.
var _ storage.RedemptionRecordStore = (*RedemptionRecordStore)(nil)

const redemptionColumns = `
	branch_id, id, branch_name, mcr, ccr, ts, tx_hash,
	price, coll_decrease, debt_decrease, attempted_debt, redemption_price,
	entire_coll, entire_debt, entire_coll_0, entire_debt_0,
	tcr, tcr_0, tcr_delta,
	mcr_debt_cap, mcr_debt_cap_0, mcr_coll_cap, mcr_coll_cap_0,
	mcr_debt_cap_delta, mcr_coll_cap_delta,
	tcr_delta_pct, mcr_debt_cap_delta_pct,
	reserve_coll, mcr_debt_cap_reserved, mcr_coll_cap_reserved`

func redemptionValues(r *domain.RedemptionRecord) []any {
	return []any{
		r.Branch.ID, r.ID, r.Branch.Name, r.Branch.MCR, r.Branch.CCR, r.Timestamp.UTC(), r.TxHash,
		r.Price, r.CollDecrease, r.DebtDecrease, r.AttemptedDebt, r.RedemptionPrice,
		r.EntireColl, r.EntireDebt, r.EntireColl0, r.EntireDebt0,
		r.TCR, r.TCR0, r.TCRDelta,
		r.MCRDebtCap, r.MCRDebtCap0, r.MCRCollCap, r.MCRCollCap0,
		r.MCRDebtCapDelta, r.MCRCollCapDelta,
		r.TCRDeltaPct, r.MCRDebtCapDeltaPct,
		r.ReserveColl, r.MCRDebtCapReserved, r.MCRCollCapReserved,
	}
}

// UpsertBulk writes rows in one insert block. Key is (branch_id, id).
// Rows replace any stored under the same key once parts merge; reads use FINAL.
func (s *RedemptionRecordStore) UpsertBulk(ctx context.Context, rows []*domain.RedemptionRecord) error {
	if err := storage.ValidateRedemptions(rows); err != nil {
		return err
	}
	return insertBatch(ctx, s.conn, "redemption_records", redemptionColumns, rows, redemptionValues)
}

// GetByBranch retrieves all records of a branch, ordered by timestamp ASC.
func (s *RedemptionRecordStore) GetByBranch(ctx context.Context, branchName string) ([]*domain.RedemptionRecord, error) {
	query := `SELECT ` + redemptionColumns + `
		FROM redemption_records FINAL
		WHERE branch_name = ?
		ORDER BY ts ASC, id ASC`

	rows, err := s.conn.Query(ctx, query, branchName)
	if err != nil {
		return nil, fmt.Errorf("query by branch: %w", err)
	}
	defer rows.Close()

	return scanRedemptionRecords(rows)
}

// GetAll retrieves all records.
func (s *RedemptionRecordStore) GetAll(ctx context.Context) ([]*domain.RedemptionRecord, error) {
	query := `SELECT ` + redemptionColumns + `
		FROM redemption_records FINAL
		ORDER BY ts ASC, branch_name ASC, id ASC`

	rows, err := s.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query all: %w", err)
	}
	defer rows.Close()

	return scanRedemptionRecords(rows)
}

func scanRedemptionRecords(rows chRows) ([]*domain.RedemptionRecord, error) {
	var records []*domain.RedemptionRecord

	for rows.Next() {
		var r domain.RedemptionRecord

		err := rows.Scan(
			&r.Branch.ID, &r.ID, &r.Branch.Name, &r.Branch.MCR, &r.Branch.CCR, &r.Timestamp, &r.TxHash,
			&r.Price, &r.CollDecrease, &r.DebtDecrease, &r.AttemptedDebt, &r.RedemptionPrice,
			&r.EntireColl, &r.EntireDebt, &r.EntireColl0, &r.EntireDebt0,
			&r.TCR, &r.TCR0, &r.TCRDelta,
			&r.MCRDebtCap, &r.MCRDebtCap0, &r.MCRCollCap, &r.MCRCollCap0,
			&r.MCRDebtCapDelta, &r.MCRCollCapDelta,
			&r.TCRDeltaPct, &r.MCRDebtCapDeltaPct,
			&r.ReserveColl, &r.MCRDebtCapReserved, &r.MCRCollCapReserved,
		)
		if err != nil {
			return nil, fmt.Errorf("scan redemption record row: %w", err)
		}

		r.Timestamp = r.Timestamp.UTC()
		records = append(records, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate redemption record rows: %w", err)
	}

	return records, nil
}
