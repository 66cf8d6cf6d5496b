package storage

import (
	"context"
	"fmt"
	"time"

	"trove-capacity-lab/internal/domain"
)

// RedemptionRecordStore provides access to redemption_records storage.
type RedemptionRecordStore interface {
	// UpsertBulk writes records, replacing any stored under the same (branch_id, id).
	// Fails the entire batch on an invalid row or a key repeated within it.
	UpsertBulk(ctx context.Context, records []*domain.RedemptionRecord) error

	// GetByBranch retrieves all records of a branch, ordered by timestamp ASC, id ASC.
	GetByBranch(ctx context.Context, branchName string) ([]*domain.RedemptionRecord, error)

	// GetAll retrieves every record, ordered by timestamp ASC, branch ASC, id ASC.
	GetAll(ctx context.Context) ([]*domain.RedemptionRecord, error)
}

// BranchStateStore provides access to branch_states storage.
type BranchStateStore interface {
	// UpsertBulk writes states, replacing any stored under the same (branch_id, bucket).
	UpsertBulk(ctx context.Context, states []*domain.BranchDailyState) error

	// GetByBranch retrieves all states of a branch, ordered by bucket ASC.
	GetByBranch(ctx context.Context, branchName string) ([]*domain.BranchDailyState, error)

	// GetAll retrieves every state, ordered by branch ASC, bucket ASC.
	GetAll(ctx context.Context) ([]*domain.BranchDailyState, error)
}

// ActiveTroveStore provides access to active_troves storage.
type ActiveTroveStore interface {
	// UpsertBulk writes rows, replacing any stored under the same (branch_id, trove_id, bucket).
	UpsertBulk(ctx context.Context, rows []*domain.ActiveTroveRecord) error

	// GetByBranch retrieves all rows of a branch, ordered by trove_id ASC, bucket ASC.
	GetByBranch(ctx context.Context, branchName string) ([]*domain.ActiveTroveRecord, error)

	// GetByBucket retrieves all rows of a bucket, ordered by branch ASC, trove_id ASC.
	GetByBucket(ctx context.Context, bucket time.Time) ([]*domain.ActiveTroveRecord, error)

	// GetAll retrieves every row, ordered by branch ASC, trove_id ASC, bucket ASC.
	GetAll(ctx context.Context) ([]*domain.ActiveTroveRecord, error)
}

// AtomicSaver writes all result tables of a run in one transaction.
type AtomicSaver interface {
	SaveResults(ctx context.Context, redemptions []*domain.RedemptionRecord, branches []*domain.BranchDailyState, active []*domain.ActiveTroveRecord) error
}

// ResultStore groups the stores one analysis run writes to.
type ResultStore struct {
	Backend      string // memory, postgres or clickhouse; labels query metrics
	Redemptions  RedemptionRecordStore
	BranchStates BranchStateStore
	ActiveTroves ActiveTroveStore

	// Atomic is set by backends with multi-table transactions.
	Atomic AtomicSaver
}

// Save upserts all result tables of a run, so rerunning over the same or a
// longer history converges on the latest results. Every batch is validated
// before any table is touched. With Atomic set the write is all-or-nothing;
// otherwise tables are written in order and a failed save is repaired by
// saving again.
func (s *ResultStore) Save(ctx context.Context, redemptions []*domain.RedemptionRecord, branches []*domain.BranchDailyState, active []*domain.ActiveTroveRecord) error {
	if s.Redemptions == nil || s.BranchStates == nil || s.ActiveTroves == nil {
		return ErrInvalidInput
	}
	if err := ValidateRedemptions(redemptions); err != nil {
		return fmt.Errorf("redemption_records: %w", err)
	}
	if err := ValidateBranchStates(branches); err != nil {
		return fmt.Errorf("branch_states: %w", err)
	}
	if err := ValidateActiveTroves(active); err != nil {
		return fmt.Errorf("active_troves: %w", err)
	}

	if s.Atomic != nil {
		return s.Atomic.SaveResults(ctx, redemptions, branches, active)
	}
	if err := s.Redemptions.UpsertBulk(ctx, redemptions); err != nil {
		return err
	}
	if err := s.BranchStates.UpsertBulk(ctx, branches); err != nil {
		return err
	}
	return s.ActiveTroves.UpsertBulk(ctx, active)
}
