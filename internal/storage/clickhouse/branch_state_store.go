package clickhouse

import (
	"context"
	"fmt"

	"trove-capacity-lab/internal/domain"
	"trove-capacity-lab/internal/storage"
)

// BranchStateStore implements storage.BranchStateStore using ClickHouse.
type BranchStateStore struct {
	conn *Conn
}

// NewBranchStateStore creates a new BranchStateStore.
func NewBranchStateStore(conn *Conn) *BranchStateStore {
	return &BranchStateStore{conn: conn}
}

// Compile-time interface check.
var _ storage.BranchStateStore = (*BranchStateStore)(nil)

const branchStateColumns = `
	branch_id, bucket, branch_name, mcr, ccr,
	entire_coll, entire_debt, price, tcr`

func branchStateValues(st *domain.BranchDailyState) []any {
	return []any{
		st.Branch.ID, st.Bucket.UTC(), st.Branch.Name, st.Branch.MCR, st.Branch.CCR,
		st.EntireColl, st.EntireDebt, st.Price, st.TCR,
	}
}

// UpsertBulk writes rows in one insert block. Key is (branch_id, bucket).
// Rows replace any stored under the same key once parts merge; reads use FINAL.
func (s *BranchStateStore) UpsertBulk(ctx context.Context, rows []*domain.BranchDailyState) error {
	if err := storage.ValidateBranchStates(rows); err != nil {
		return err
	}
	return insertBatch(ctx, s.conn, "branch_states", branchStateColumns, rows, branchStateValues)
}

// GetByBranch retrieves all states of a branch, ordered by bucket ASC.
func (s *BranchStateStore) GetByBranch(ctx context.Context, branchName string) ([]*domain.BranchDailyState, error) {
	query := `SELECT ` + branchStateColumns + `
		FROM branch_states FINAL
		WHERE branch_name = ?
		ORDER BY bucket ASC`

	rows, err := s.conn.Query(ctx, query, branchName)
	if err != nil {
		return nil, fmt.Errorf("query by branch: %w", err)
	}
	defer rows.Close()

	return scanBranchStates(rows)
}

// GetAll retrieves all states.
func (s *BranchStateStore) GetAll(ctx context.Context) ([]*domain.BranchDailyState, error) {
	query := `SELECT ` + branchStateColumns + `
		FROM branch_states FINAL
		ORDER BY branch_name ASC, bucket ASC`

	rows, err := s.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query all: %w", err)
	}
	defer rows.Close()

	return scanBranchStates(rows)
}

func scanBranchStates(rows chRows) ([]*domain.BranchDailyState, error) {
	var states []*domain.BranchDailyState

	for rows.Next() {
		var st domain.BranchDailyState

		err := rows.Scan(
			&st.Branch.ID, &st.Bucket, &st.Branch.Name, &st.Branch.MCR, &st.Branch.CCR,
			&st.EntireColl, &st.EntireDebt, &st.Price, &st.TCR,
		)
		if err != nil {
			return nil, fmt.Errorf("scan branch state row: %w", err)
		}

		st.Bucket = st.Bucket.UTC()
		states = append(states, &st)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate branch state rows: %w", err)
	}

	return states, nil
}
