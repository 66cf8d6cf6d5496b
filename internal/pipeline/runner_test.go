package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trove-capacity-lab/internal/config"
	"trove-capacity-lab/internal/domain"
	"trove-capacity-lab/internal/normalization"
	"trove-capacity-lab/internal/observability"
	"trove-capacity-lab/internal/redemption"
	"trove-capacity-lab/internal/storage/memory"
	"trove-capacity-lab/internal/timeseries"
)

// fakeSource serves fixed events, optionally failing one stream.
type fakeSource struct {
	events         *Events
	redemptionsErr error
	updatesErr     error
	inFlight       atomic.Int32
	maxInFlight    atomic.Int32
	delay          time.Duration
}

func (f *fakeSource) enter() func() {
	n := f.inFlight.Add(1)
	for {
		m := f.maxInFlight.Load()
		if n <= m || f.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}
	return func() { f.inFlight.Add(-1) }
}

func (f *fakeSource) wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(f.delay):
		return nil
	}
}

func (f *fakeSource) Redemptions(ctx context.Context) ([]domain.RawRedemption, error) {
	defer f.enter()()
	if f.redemptionsErr != nil {
		return nil, f.redemptionsErr
	}
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	return f.events.Redemptions, nil
}

func (f *fakeSource) TroveUpdates(ctx context.Context) ([]domain.RawTroveUpdated, error) {
	defer f.enter()()
	if f.updatesErr != nil {
		return nil, f.updatesErr
	}
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	return f.events.TroveUpdates, nil
}

func loadFixture(t *testing.T) *Events {
	t.Helper()
	ev, err := LoadEvents(filepath.Join("testdata", "events.json"))
	require.NoError(t, err)
	return ev
}

func defaultBranches(t *testing.T) *config.BranchTable {
	t.Helper()
	table, err := config.NewBranchTable(config.DefaultBranches)
	require.NoError(t, err)
	return table
}

func day(d int) time.Time {
	return time.Date(2025, 6, d, 0, 0, 0, 0, time.UTC)
}

func TestRunWithEvents_Fixture(t *testing.T) {
	runner := NewRunner(nil, defaultBranches(t))

	res, err := runner.RunWithEvents(context.Background(), loadFixture(t))
	require.NoError(t, err)

	// Redemption path
	require.Len(t, res.Redemptions, 2)
	r1 := res.Redemptions[0]
	assert.Equal(t, "sUSDS", r1.Branch.Name)
	assert.InDelta(t, 1050.0, r1.EntireColl0, 1e-9)
	assert.InDelta(t, 500.0, r1.EntireDebt0, 1e-9)
	require.NotNil(t, r1.TCR0)
	assert.InDelta(t, 2.1, *r1.TCR0, 1e-12)
	require.NotNil(t, r1.TCR)
	assert.InDelta(t, 2.375, *r1.TCR, 1e-12)
	require.NotNil(t, r1.MCRDebtCap0)
	assert.InDelta(t, 4500.0, *r1.MCRDebtCap0, 1e-6)
	require.NotNil(t, r1.MCRDebtCap)
	assert.InDelta(t, 4700.0, *r1.MCRDebtCap, 1e-6)
	assert.InDelta(t, 100.0, r1.AttemptedDebt, 1e-9)
	assert.InDelta(t, 1.0, r1.RedemptionPrice, 1e-12)

	// Trove 3 was emptied by tx 0xaa and holds 50 collateral back.
	require.Len(t, res.FullyRedeemed, 1)
	assert.Equal(t, "3", res.FullyRedeemed[0].TroveID)
	assert.InDelta(t, 50.0, r1.ReserveColl, 1e-9)
	require.NotNil(t, r1.MCRDebtCapReserved)
	assert.InDelta(t, 4200.0, *r1.MCRDebtCapReserved, 1e-6)

	r2 := res.Redemptions[1]
	assert.Equal(t, "WBTC", r2.Branch.Name)
	assert.Zero(t, r2.ReserveColl)
	assert.Equal(t, r2.MCRDebtCap, r2.MCRDebtCapReserved)
	require.Len(t, res.ReserveRedemptions, 1)
	assert.Same(t, r1, res.ReserveRedemptions[0])

	// Trove path
	assert.Equal(t, timeseries.Day, res.Bucket)
	assert.Equal(t, []time.Time{day(14), day(15), day(16)}, res.Series.Buckets)
	assert.Len(t, res.Series.Branches, 4)
	assert.Len(t, res.Series.Positions, 11)
	require.Len(t, res.Active, 8)
	assert.Equal(t, 1, res.Series.Stats.NoBranchState)

	// One WBTC row: its trove carries all branch debt, so closing is undefined.
	assert.Equal(t, 1, UndefinedActive(res.Active))
	assert.Len(t, res.Thresholds, 3)
	for _, row := range res.Thresholds {
		assert.Equal(t, "sUSDS", row.Branch.Name)
		assert.Equal(t, "1", row.TroveID)
	}
}

func TestRunWithEvents_Deterministic(t *testing.T) {
	runner := NewRunner(nil, defaultBranches(t))
	ev := loadFixture(t)

	a, err := runner.RunWithEvents(context.Background(), ev)
	require.NoError(t, err)
	b, err := runner.RunWithEvents(context.Background(), ev)
	require.NoError(t, err)

	assert.Equal(t, a.Redemptions, b.Redemptions)
	assert.Equal(t, a.Active, b.Active)
	assert.Equal(t, a.Series.Positions, b.Series.Positions)
}

func TestRunWithEvents_UnknownBranchFails(t *testing.T) {
	ev := loadFixture(t)
	ev.TroveUpdates[0].TroveManager = "0xdeadbeef"

	_, err := NewRunner(nil, defaultBranches(t)).RunWithEvents(context.Background(), ev)
	require.Error(t, err)
	assert.ErrorIs(t, err, normalization.ErrUnknownBranch)
}

func TestRunWithEvents_Empty(t *testing.T) {
	res, err := NewRunner(nil, defaultBranches(t)).RunWithEvents(context.Background(), &Events{})
	require.NoError(t, err)
	assert.Empty(t, res.Redemptions)
	assert.Empty(t, res.Active)
}

func TestRunWithEvents_Persists(t *testing.T) {
	rs := memory.NewResultStore()
	metrics := observability.NewMetrics("test", prometheus.NewRegistry())
	runner := NewRunner(nil, defaultBranches(t), WithStore(rs), WithMetrics(metrics))

	_, err := runner.RunWithEvents(context.Background(), loadFixture(t))
	require.NoError(t, err)

	ctx := context.Background()
	redemptions, _ := rs.Redemptions.GetAll(ctx)
	assert.Len(t, redemptions, 2)
	states, _ := rs.BranchStates.GetByBranch(ctx, "sUSDS")
	assert.Len(t, states, 3)
	active, _ := rs.ActiveTroves.GetByBucket(ctx, day(15))
	assert.Len(t, active, 3)

	assert.Equal(t, 8.0, testutil.ToFloat64(metrics.RowsProduced.WithLabelValues("active_troves")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.UndefinedRows.WithLabelValues("active_troves")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PipelineRunsTotal.WithLabelValues("persist", "success")))

	// A rerun over the same events replaces rows instead of adding them.
	_, err = runner.RunWithEvents(ctx, loadFixture(t))
	require.NoError(t, err)
	redemptions, _ = rs.Redemptions.GetAll(ctx)
	assert.Len(t, redemptions, 2)
	states, _ = rs.BranchStates.GetByBranch(ctx, "sUSDS")
	assert.Len(t, states, 3)
	active, _ = rs.ActiveTroves.GetAll(ctx)
	assert.Len(t, active, 8)
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.PipelineRunsTotal.WithLabelValues("persist", "success")))
	assert.Zero(t, testutil.ToFloat64(metrics.DBQueryErrors.WithLabelValues("memory", "save")))
}

func TestRunWithEvents_DeltaPctRelative(t *testing.T) {
	runner := NewRunner(nil, defaultBranches(t), WithDeltaPct(redemption.DeltaPctRelative))

	res, err := runner.RunWithEvents(context.Background(), loadFixture(t))
	require.NoError(t, err)

	r1 := res.Redemptions[0]
	require.NotNil(t, r1.MCRDebtCapDeltaPct)
	assert.InDelta(t, (4700.0-4500.0)/4500.0, *r1.MCRDebtCapDeltaPct, 1e-9)
}

func TestRun_FetchesConcurrently(t *testing.T) {
	src := &fakeSource{events: loadFixture(t), delay: 50 * time.Millisecond}

	res, err := NewRunner(src, defaultBranches(t)).Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, res.Redemptions, 2)
	assert.Equal(t, int32(2), src.maxInFlight.Load())
}

func TestRun_FetchErrorAborts(t *testing.T) {
	boom := errors.New("subgraph down")
	src := &fakeSource{events: loadFixture(t), updatesErr: boom, delay: time.Second}

	start := time.Now()
	res, err := NewRunner(src, defaultBranches(t)).Run(context.Background())
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "troveUpdateds")
	// The sibling fetch is cancelled rather than waited out.
	assert.Less(t, time.Since(start), 900*time.Millisecond)
}

func TestRun_NoSource(t *testing.T) {
	_, err := NewRunner(nil, defaultBranches(t)).Run(context.Background())
	assert.Error(t, err)
}
