package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"trove-capacity-lab/internal/domain"
	"trove-capacity-lab/internal/storage"
)

// BranchStateStore implements storage.BranchStateStore using PostgreSQL.
type BranchStateStore struct {
	pool *Pool
}

// NewBranchStateStore creates a new BranchStateStore.
func NewBranchStateStore(pool *Pool) *BranchStateStore {
	return &BranchStateStore{pool: pool}
}

// Compile-time interface check.
var _ storage.BranchStateStore = (*BranchStateStore)(nil)

var branchStateColumns = []string{
	"branch_id", "bucket", "branch_name", "mcr", "ccr",
	"entire_coll", "entire_debt", "price", "tcr",
}

var (
	branchStateSelect = `SELECT ` + strings.Join(branchStateColumns, ", ") + ` FROM branch_states`
	branchStateUpsert = upsertSQL("branch_states", branchStateColumns, "branch_id", "bucket")
)

func branchStateArgs(st *domain.BranchDailyState) []any {
	return []any{
		st.Branch.ID, st.Bucket.UTC(), st.Branch.Name, st.Branch.MCR, st.Branch.CCR,
		st.EntireColl, st.EntireDebt, st.Price, st.TCR,
	}
}

// UpsertBulk writes states in one transaction, replacing rows with the same (branch_id, bucket).
func (s *BranchStateStore) UpsertBulk(ctx context.Context, states []*domain.BranchDailyState) error {
	if err := storage.ValidateBranchStates(states); err != nil {
		return err
	}
	if len(states) == 0 {
		return nil
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return upsertBranchStates(ctx, tx, states)
	})
}

func upsertBranchStates(ctx context.Context, tx pgx.Tx, states []*domain.BranchDailyState) error {
	if err := sendBatch(ctx, tx, branchStateUpsert, states, branchStateArgs); err != nil {
		return fmt.Errorf("upsert branch states: %w", err)
	}
	return nil
}

// GetByBranch retrieves all states of a branch, ordered by bucket ASC.
func (s *BranchStateStore) GetByBranch(ctx context.Context, branchName string) ([]*domain.BranchDailyState, error) {
	query := branchStateSelect + `
		WHERE branch_name = $1
		ORDER BY bucket ASC`

	rows, err := s.pool.Query(ctx, query, branchName)
	if err != nil {
		return nil, fmt.Errorf("get branch states by branch: %w", err)
	}
	defer rows.Close()

	return scanBranchStates(rows)
}

// GetAll retrieves all states.
func (s *BranchStateStore) GetAll(ctx context.Context) ([]*domain.BranchDailyState, error) {
	query := branchStateSelect + `
		ORDER BY branch_name COLLATE "C" ASC, bucket ASC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("get all branch states: %w", err)
	}
	defer rows.Close()

	return scanBranchStates(rows)
}

func scanBranchStates(rows pgx.Rows) ([]*domain.BranchDailyState, error) {
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
