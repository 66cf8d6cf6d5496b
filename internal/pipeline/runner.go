// Package pipeline wires the fetcher, normalizer and both analytic paths into
// one batch run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"

	"trove-capacity-lab/internal/config"
	"trove-capacity-lab/internal/domain"
	"trove-capacity-lab/internal/logging"
	"trove-capacity-lab/internal/normalization"
	"trove-capacity-lab/internal/observability"
	"trove-capacity-lab/internal/redemption"
	"trove-capacity-lab/internal/storage"
	"trove-capacity-lab/internal/subgraph"
	"trove-capacity-lab/internal/timeseries"
	"trove-capacity-lab/internal/withdrawal"
)

// Runner executes a full analysis run.
type Runner struct {
	source        subgraph.EventSource
	normalizer    *normalization.Normalizer
	reconstructor *timeseries.Reconstructor
	metricsOpts   redemption.Options
	store         *storage.ResultStore   // optional
	metrics       *observability.Metrics // optional
	logger        *zap.Logger
	clock         func() time.Time
}

// Option configures Runner.
type Option func(*Runner)

// WithStore persists results after each run.
func WithStore(s *storage.ResultStore) Option {
	return func(r *Runner) {
		r.store = s
	}
}

// WithMetrics records run metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(r *Runner) {
		r.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) {
		r.logger = logging.OrNop(l)
	}
}

// WithBucket sets the time-series bucket granularity.
func WithBucket(g timeseries.Granularity) Option {
	return func(r *Runner) {
		r.reconstructor = timeseries.NewReconstructor(g)
	}
}

// WithDeltaPct sets the MCR debt cap delta pct formula.
func WithDeltaPct(f redemption.DeltaPctFormula) Option {
	return func(r *Runner) {
		r.metricsOpts.DeltaPct = f
	}
}

// NewRunner creates a runner. source may be nil when only RunWithEvents is used.
func NewRunner(source subgraph.EventSource, branches *config.BranchTable, opts ...Option) *Runner {
	r := &Runner{
		source:        source,
		normalizer:    normalization.NewNormalizer(branches),
		reconstructor: timeseries.NewReconstructor(timeseries.Day),
		metricsOpts:   redemption.Options{DeltaPct: redemption.DeltaPctAsSource},
		logger:        zap.NewNop(),
		clock:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Result holds every table of one run.
type Result struct {
	// Redemptions are all redemption records with the reserve adjustment applied.
	Redemptions []*domain.RedemptionRecord
	// FullyRedeemed are the trove updates that emptied a trove in a redemption tx.
	FullyRedeemed []*domain.TroveUpdatedEvent
	// Reserves is the collateral of emptied troves per (branch, tx).
	Reserves []redemption.Reserve
	// ReserveRedemptions are the redemptions whose tx emptied at least one trove.
	ReserveRedemptions []*domain.RedemptionRecord

	Series *timeseries.Result
	// Active are the live trove rows with withdrawal metrics.
	Active []*domain.ActiveTroveRecord
	// Thresholds are the closeable rows whose closing lowers TCR.
	Thresholds []*domain.ActiveTroveRecord

	Bucket   timeseries.Granularity
	Duration time.Duration
}

// Run fetches both event streams concurrently, then analyzes them. A failure
// of either stream fails the run.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	events, err := r.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	return r.RunWithEvents(ctx, events)
}

// Fetch downloads both event streams without analyzing them.
func (r *Runner) Fetch(ctx context.Context) (*Events, error) {
	if r.source == nil {
		return nil, errors.New("pipeline: no event source configured")
	}

	start := r.clock()
	events, err := r.fetch(ctx)
	if err != nil {
		r.recordRun("fetch", "error", start)
		return nil, err
	}
	r.recordRun("fetch", "success", start)
	return events, nil
}

// fetch runs both paginated fetches on a two-worker pool. The group is the
// barrier: nothing downstream starts until both streams are complete.
func (r *Runner) fetch(ctx context.Context) (*Events, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		events         Events
		redemptionsErr error
		updatesErr     error
	)

	pool := pond.NewPool(2)
	defer pool.StopAndWait()

	group := pool.NewGroupContext(ctx)
	groupCtx := group.Context()

	group.Submit(func() {
		if err := groupCtx.Err(); err != nil {
			return
		}
		events.Redemptions, redemptionsErr = r.source.Redemptions(groupCtx)
		if redemptionsErr != nil {
			cancel()
		}
	})

	group.Submit(func() {
		if err := groupCtx.Err(); err != nil {
			return
		}
		events.TroveUpdates, updatesErr = r.source.TroveUpdates(groupCtx)
		if updatesErr != nil {
			cancel()
		}
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		r.logger.Warn("parallel fetch encountered error", zap.Error(err))
	}

	// Report the stream that failed first, not the one cancelled after it.
	if redemptionsErr != nil && !errors.Is(redemptionsErr, context.Canceled) {
		return nil, fmt.Errorf("fetch %s: %w", subgraph.CollectionRedemptions, redemptionsErr)
	}
	if updatesErr != nil && !errors.Is(updatesErr, context.Canceled) {
		return nil, fmt.Errorf("fetch %s: %w", subgraph.CollectionTroveUpdateds, updatesErr)
	}
	if redemptionsErr != nil {
		return nil, fmt.Errorf("fetch %s: %w", subgraph.CollectionRedemptions, redemptionsErr)
	}
	if updatesErr != nil {
		return nil, fmt.Errorf("fetch %s: %w", subgraph.CollectionTroveUpdateds, updatesErr)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.logger.Info("fetched events",
		zap.Int("redemptions", len(events.Redemptions)),
		zap.Int("trove_updates", len(events.TroveUpdates)),
	)
	return &events, nil
}

// RunWithEvents analyzes already fetched events.
func (r *Runner) RunWithEvents(ctx context.Context, events *Events) (*Result, error) {
	start := r.clock()

	res, err := r.analyze(events)
	if err != nil {
		r.recordRun("analyze", "error", start)
		return nil, err
	}
	res.Duration = r.clock().Sub(start)
	r.recordRun("analyze", "success", start)
	r.recordRows(res)

	if r.store != nil {
		saveStart := r.clock()
		err := r.store.Save(ctx, res.Redemptions, res.Series.Branches, res.Active)
		if r.metrics != nil {
			r.metrics.RecordDBQuery(r.store.Backend, "save", r.clock().Sub(saveStart).Seconds(), err)
		}
		if err != nil {
			r.recordRun("persist", "error", saveStart)
			return nil, fmt.Errorf("persist results: %w", err)
		}
		r.recordRun("persist", "success", saveStart)
		r.logger.Info("persisted results")
	}

	if r.metrics != nil {
		r.metrics.LastSuccessfulPipeline.Set(float64(r.clock().Unix()))
	}
	return res, nil
}

func (r *Runner) analyze(events *Events) (*Result, error) {
	if events == nil {
		events = &Events{}
	}

	redemptions, err := r.normalizer.Redemptions(events.Redemptions)
	if err != nil {
		return nil, fmt.Errorf("normalize redemptions: %w", err)
	}
	updates, err := r.normalizer.TroveUpdates(events.TroveUpdates)
	if err != nil {
		return nil, fmt.Errorf("normalize trove updates: %w", err)
	}

	res := &Result{Bucket: r.reconstructor.Bucket()}

	// Redemption path
	records := redemption.ComputeMetrics(redemptions, r.metricsOpts)
	adj := redemption.Adjust(records, updates)
	res.Redemptions = adj.Records
	res.FullyRedeemed = adj.FullyRedeemed
	res.Reserves = adj.Reserves
	res.ReserveRedemptions = redemption.WithReserve(res.Redemptions)

	r.logger.Info("computed redemption metrics",
		zap.Int("records", len(res.Redemptions)),
		zap.Int("fully_redeemed", len(res.FullyRedeemed)),
		zap.Int("reserve_groups", len(res.Reserves)),
		zap.Int("reserve_redemptions", len(res.ReserveRedemptions)),
	)

	// Trove path
	res.Series = r.reconstructor.Build(updates)
	res.Active = withdrawal.Compute(res.Series.Active)
	res.Thresholds = withdrawal.Thresholds(res.Active)

	st := res.Series.Stats
	r.logger.Info("reconstructed trove time series",
		zap.String("bucket", string(res.Bucket)),
		zap.Int("buckets", len(res.Series.Buckets)),
		zap.Int("troves", st.Troves),
		zap.Int("positions", len(res.Series.Positions)),
		zap.Int("filled", st.FilledRows),
		zap.Int("closed", st.ClosedRows),
		zap.Int("no_branch_state", st.NoBranchState),
		zap.Int("active", st.ActiveRows),
		zap.Int("thresholds", len(res.Thresholds)),
	)

	return res, nil
}

func (r *Runner) recordRun(phase, status string, start time.Time) {
	if r.metrics == nil {
		return
	}
	r.metrics.RecordPipelineRun(phase, status, r.clock().Sub(start).Seconds())
}

func (r *Runner) recordRows(res *Result) {
	if r.metrics == nil {
		return
	}
	r.metrics.RecordRows("redemption_records", len(res.Redemptions), UndefinedRedemptions(res.Redemptions))
	r.metrics.RecordRows("branch_states", len(res.Series.Branches), UndefinedBranchStates(res.Series.Branches))
	r.metrics.RecordRows("active_troves", len(res.Active), UndefinedActive(res.Active))
}

// UndefinedRedemptions counts records with an undefined core metric.
func UndefinedRedemptions(records []*domain.RedemptionRecord) int {
	n := 0
	for _, rec := range records {
		if rec.Undefined() {
			n++
		}
	}
	return n
}

// UndefinedBranchStates counts states with an undefined TCR.
func UndefinedBranchStates(states []*domain.BranchDailyState) int {
	n := 0
	for _, st := range states {
		if st.TCR == nil {
			n++
		}
	}
	return n
}

// UndefinedActive counts rows whose closeability is undefined.
func UndefinedActive(rows []*domain.ActiveTroveRecord) int {
	n := 0
	for _, row := range rows {
		if row.Closeable == nil {
			n++
		}
	}
	return n
}
