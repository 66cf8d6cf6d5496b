// Package timeseries rebuilds dense per-trove and per-branch state from sparse
// TroveUpdated events.
package timeseries

import (
	"sort"
	"time"

	"trove-capacity-lab/internal/capacity"
	"trove-capacity-lab/internal/domain"
	"trove-capacity-lab/internal/normalization"
)

// Reconstructor builds the bucketed time series.
type Reconstructor struct {
	bucket Granularity
}

// NewReconstructor creates a reconstructor with the given bucket width.
func NewReconstructor(bucket Granularity) *Reconstructor {
	if bucket == "" {
		bucket = Day
	}
	return &Reconstructor{bucket: bucket}
}

// Bucket returns the bucket granularity.
func (r *Reconstructor) Bucket() Granularity {
	return r.bucket
}

// Stats counts rows removed while building the active set.
type Stats struct {
	Events        int
	Troves        int
	FilledRows    int // grid rows carried forward from an earlier bucket
	ClosedRows    int // coll <= 0 or debt <= 0
	NoBranchState int // branch had no event in the bucket
	ActiveRows    int
}

// Result holds every table the reconstruction produces.
type Result struct {
	Buckets   []time.Time                  // every observed bucket, ascending
	Branches  []*domain.BranchDailyState   // sorted by (branch, bucket)
	Positions []*domain.PositionDailyState // forward-filled, sorted by (branch, trove, bucket)
	Active    []*domain.ActiveTroveRecord  // live troves with branch state, same order
	Stats     Stats
}

// troveKey identifies a trove. Trove ids are only unique within a branch.
type troveKey struct {
	branch string
	trove  string
}

type branchBucket struct {
	branch string
	bucket int64
}

// trove is one position with its last state per bucket, ascending.
type trove struct {
	key    troveKey
	branch domain.Branch
	states []*domain.PositionDailyState
}

// Build reconstructs the time series. The input is not modified and the
// output is identical for identical input.
func (r *Reconstructor) Build(updates []*domain.TroveUpdatedEvent) *Result {
	res := &Result{Stats: Stats{Events: len(updates)}}
	if len(updates) == 0 {
		return res
	}

	sorted := make([]*domain.TroveUpdatedEvent, len(updates))
	copy(sorted, updates)
	normalization.SortTroveUpdates(sorted)

	troves := r.lastPerTrove(sorted)
	branchStates := r.lastPerBranch(sorted)
	res.Stats.Troves = len(troves)

	res.Buckets = observedBuckets(troves)
	res.Branches = sortedBranchStates(branchStates)

	for _, tr := range troves {
		forwardFill(tr, res.Buckets, func(p *domain.PositionDailyState) {
			res.Positions = append(res.Positions, p)
			if p.Filled {
				res.Stats.FilledRows++
			}

			if p.Coll <= 0 || p.Debt <= 0 {
				res.Stats.ClosedRows++
				return
			}
			bs, ok := branchStates[branchBucket{p.Branch.Name, p.Bucket.UnixNano()}]
			if !ok {
				res.Stats.NoBranchState++
				return
			}
			res.Active = append(res.Active, &domain.ActiveTroveRecord{
				TroveID:    p.TroveID,
				Branch:     p.Branch,
				Bucket:     p.Bucket,
				Coll:       p.Coll,
				Debt:       p.Debt,
				Filled:     p.Filled,
				EntireColl: bs.EntireColl,
				EntireDebt: bs.EntireDebt,
				Price:      bs.Price,
				TCR:        bs.TCR,
			})
		})
	}
	res.Stats.ActiveRows = len(res.Active)
	return res
}

// lastPerTrove reduces events to one state per (trove, bucket), last event wins.
// Events must be sorted. Troves are returned sorted by (branch, trove id).
func (r *Reconstructor) lastPerTrove(sorted []*domain.TroveUpdatedEvent) []*trove {
	byKey := make(map[troveKey]*trove)
	for _, e := range sorted {
		k := troveKey{branch: e.Branch.Name, trove: e.TroveID}
		tr, ok := byKey[k]
		if !ok {
			tr = &trove{key: k, branch: e.Branch}
			byKey[k] = tr
		}

		bucket := r.bucket.Truncate(e.Timestamp)
		state := &domain.PositionDailyState{
			TroveID: e.TroveID,
			Branch:  e.Branch,
			Bucket:  bucket,
			Coll:    e.Coll,
			Debt:    e.Debt,
		}
		// Events are ascending, so a repeated bucket can only be the last one.
		if n := len(tr.states); n > 0 && tr.states[n-1].Bucket.Equal(bucket) {
			tr.states[n-1] = state
			continue
		}
		tr.states = append(tr.states, state)
	}

	out := make([]*trove, 0, len(byKey))
	for _, tr := range byKey {
		out = append(out, tr)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].key.branch != out[j].key.branch {
			return out[i].key.branch < out[j].key.branch
		}
		return out[i].key.trove < out[j].key.trove
	})
	return out
}

// lastPerBranch keeps the last branch aggregate per (branch, bucket).
func (r *Reconstructor) lastPerBranch(sorted []*domain.TroveUpdatedEvent) map[branchBucket]*domain.BranchDailyState {
	states := make(map[branchBucket]*domain.BranchDailyState)
	for _, e := range sorted {
		bucket := r.bucket.Truncate(e.Timestamp)
		states[branchBucket{e.Branch.Name, bucket.UnixNano()}] = &domain.BranchDailyState{
			Branch:     e.Branch,
			Bucket:     bucket,
			EntireColl: e.EntireColl,
			EntireDebt: e.EntireDebt,
			Price:      e.Price,
			TCR:        capacity.Value(capacity.TCR(e.EntireColl, e.EntireDebt, e.Price)),
		}
	}
	return states
}

// observedBuckets returns the union of all trove buckets, ascending.
func observedBuckets(troves []*trove) []time.Time {
	seen := make(map[int64]time.Time)
	for _, tr := range troves {
		for _, s := range tr.states {
			seen[s.Bucket.UnixNano()] = s.Bucket
		}
	}
	out := make([]time.Time, 0, len(seen))
	for _, b := range seen {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func sortedBranchStates(states map[branchBucket]*domain.BranchDailyState) []*domain.BranchDailyState {
	out := make([]*domain.BranchDailyState, 0, len(states))
	for _, s := range states {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Branch.Name != out[j].Branch.Name {
			return out[i].Branch.Name < out[j].Branch.Name
		}
		return out[i].Bucket.Before(out[j].Bucket)
	})
	return out
}

// forwardFill walks the grid buckets for one trove and emits its state at each
// bucket from its first observation on. A bucket without an event for the trove
// takes the most recent earlier state. Buckets before the first observation are
// skipped, never zero-filled.
func forwardFill(tr *trove, buckets []time.Time, emit func(*domain.PositionDailyState)) {
	if len(tr.states) == 0 {
		return
	}
	first := tr.states[0].Bucket
	start := sort.Search(len(buckets), func(i int) bool { return !buckets[i].Before(first) })

	next := 0
	var last *domain.PositionDailyState
	for _, b := range buckets[start:] {
		for next < len(tr.states) && !tr.states[next].Bucket.After(b) {
			last = tr.states[next]
			next++
		}
		row := *last
		row.Bucket = b
		row.Filled = !last.Bucket.Equal(b)
		emit(&row)
	}
}
