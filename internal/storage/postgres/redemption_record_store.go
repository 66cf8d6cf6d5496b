package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"trove-capacity-lab/internal/domain"
	"trove-capacity-lab/internal/storage"
)

// RedemptionRecordStore implements storage.RedemptionRecordStore using PostgreSQL.
type RedemptionRecordStore struct {
	pool *Pool
}

// NewRedemptionRecordStore creates a new RedemptionRecordStore.
func NewRedemptionRecordStore(pool *Pool) *RedemptionRecordStore {
	return &RedemptionRecordStore{pool: pool}
}

// Compile-time interface check.
var _ storage.RedemptionRecordStore = (*RedemptionRecordStore)(nil)

var redemptionColumns = []string{
	"branch_id", "id", "branch_name", "mcr", "ccr", "ts", "tx_hash",
	"price", "coll_decrease", "debt_decrease", "attempted_debt", "redemption_price",
	"entire_coll", "entire_debt", "entire_coll_0", "entire_debt_0",
	"tcr", "tcr_0", "tcr_delta",
	"mcr_debt_cap", "mcr_debt_cap_0", "mcr_coll_cap", "mcr_coll_cap_0",
	"mcr_debt_cap_delta", "mcr_coll_cap_delta",
	"tcr_delta_pct", "mcr_debt_cap_delta_pct",
	"reserve_coll", "mcr_debt_cap_reserved", "mcr_coll_cap_reserved",
}

var (
	redemptionSelect = `SELECT ` + strings.Join(redemptionColumns, ", ") + ` FROM redemption_records`
	redemptionUpsert = upsertSQL("redemption_records", redemptionColumns, "branch_id", "id")
)

func redemptionArgs(r *domain.RedemptionRecord) []any {
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

// UpsertBulk writes records in one transaction, replacing rows with the same (branch_id, id).
func (s *RedemptionRecordStore) UpsertBulk(ctx context.Context, records []*domain.RedemptionRecord) error {
	if err := storage.ValidateRedemptions(records); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return upsertRedemptions(ctx, tx, records)
	})
}

func upsertRedemptions(ctx context.Context, tx pgx.Tx, records []*domain.RedemptionRecord) error {
	if err := sendBatch(ctx, tx, redemptionUpsert, records, redemptionArgs); err != nil {
		return fmt.Errorf("upsert redemption records: %w", err)
	}
	return nil
}

// GetByBranch retrieves all records of a branch, ordered by timestamp ASC.
func (s *RedemptionRecordStore) GetByBranch(ctx context.Context, branchName string) ([]*domain.RedemptionRecord, error) {
	query := redemptionSelect + `
		WHERE branch_name = $1
		ORDER BY ts ASC, id COLLATE "C" ASC`

	rows, err := s.pool.Query(ctx, query, branchName)
	if err != nil {
		return nil, fmt.Errorf("get redemption records by branch: %w", err)
	}
	defer rows.Close()

	return scanRedemptionRecords(rows)
}

// GetAll retrieves all records. Text keys sort bytewise, as in every backend.
func (s *RedemptionRecordStore) GetAll(ctx context.Context) ([]*domain.RedemptionRecord, error) {
	query := redemptionSelect + `
		ORDER BY ts ASC, branch_name COLLATE "C" ASC, id COLLATE "C" ASC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("get all redemption records: %w", err)
	}
	defer rows.Close()

	return scanRedemptionRecords(rows)
}

// scanRedemptionRecords scans multiple rows. NULL metrics scan to nil pointers.
func scanRedemptionRecords(rows pgx.Rows) ([]*domain.RedemptionRecord, error) {
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
