package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"trove-capacity-lab/internal/domain"
	"trove-capacity-lab/internal/storage"
)

// ResultSaver writes all three result tables of a run in one transaction.
type ResultSaver struct {
	pool *Pool
}

// NewResultSaver creates a new ResultSaver.
func NewResultSaver(pool *Pool) *ResultSaver {
	return &ResultSaver{pool: pool}
}

// Compile-time interface check.
var _ storage.AtomicSaver = (*ResultSaver)(nil)

// SaveResults upserts every table or none of them.
func (s *ResultSaver) SaveResults(ctx context.Context, redemptions []*domain.RedemptionRecord, branches []*domain.BranchDailyState, active []*domain.ActiveTroveRecord) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := upsertRedemptions(ctx, tx, redemptions); err != nil {
			return err
		}
		if err := upsertBranchStates(ctx, tx, branches); err != nil {
			return err
		}
		return upsertActiveTroves(ctx, tx, active)
	})
}

// NewResultStore wires the postgres stores into a ResultStore with atomic saves.
func NewResultStore(pool *Pool) *storage.ResultStore {
	return &storage.ResultStore{
		Backend:      "postgres",
		Redemptions:  NewRedemptionRecordStore(pool),
		BranchStates: NewBranchStateStore(pool),
		ActiveTroves: NewActiveTroveStore(pool),
		Atomic:       NewResultSaver(pool),
	}
}
