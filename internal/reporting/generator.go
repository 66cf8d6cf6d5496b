package reporting

import (
	"context"
	"fmt"
	"sort"
	"time"

	"trove-capacity-lab/internal/domain"
	"trove-capacity-lab/internal/storage"
)

// Generator produces reports from stored results.
type Generator struct {
	redemptions  storage.RedemptionRecordStore
	branchStates storage.BranchStateStore
	activeTroves storage.ActiveTroveStore
	now          func() time.Time // Injectable clock for deterministic output
}

// NewGenerator creates a new report generator over the result stores.
func NewGenerator(rs *storage.ResultStore) *Generator {
	return &Generator{
		redemptions:  rs.Redemptions,
		branchStates: rs.BranchStates,
		activeTroves: rs.ActiveTroves,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// WithClock sets a custom clock function for deterministic output.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Generate builds the summary report from everything in the stores.
func (g *Generator) Generate(ctx context.Context) (*Report, error) {
	records, err := g.redemptions.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load redemption records: %w", err)
	}
	states, err := g.branchStates.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load branch states: %w", err)
	}
	active, err := g.activeTroves.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load active troves: %w", err)
	}

	return Summarize(records, states, active, g.now()), nil
}

// Summarize builds the report from in-memory tables.
func Summarize(records []*domain.RedemptionRecord, states []*domain.BranchDailyState, active []*domain.ActiveTroveRecord, now time.Time) *Report {
	r := &Report{GeneratedAt: now}
	rows := make(map[string]*BranchSummaryRow)

	row := func(b domain.Branch) *BranchSummaryRow {
		if br, ok := rows[b.Name]; ok {
			return br
		}
		br := &BranchSummaryRow{Branch: b.Name, MCR: b.MCR, CCR: b.CCR}
		rows[b.Name] = br
		return br
	}

	for _, rec := range records {
		br := row(rec.Branch)
		br.Redemptions++
		r.Totals.Redemptions++
		if rec.ReserveColl > 0 {
			br.RedemptionsReserved++
			br.ReserveColl += rec.ReserveColl
			r.Totals.RedemptionsReserved++
		}
		if rec.Undefined() {
			br.UndefinedRedemptions++
			r.Totals.UndefinedRedemptions++
		}
		if !rec.Timestamp.Before(br.LatestRedemption) {
			br.LatestRedemption = rec.Timestamp
			br.LatestTCR = rec.TCR
			br.LatestMCRDebtCap = rec.MCRDebtCap
			br.LatestMCRDebtCapReserved = rec.MCRDebtCapReserved
		}
		r.FirstRedemption = minTime(r.FirstRedemption, rec.Timestamp)
		r.LastRedemption = maxTime(r.LastRedemption, rec.Timestamp)
	}

	for _, st := range states {
		br := row(st.Branch)
		r.Totals.BranchStates++
		if !st.Bucket.Before(br.LatestBucket) {
			br.LatestBucket = st.Bucket
			br.LatestBucketTCR = st.TCR
		}
		r.FirstBucket = minTime(r.FirstBucket, st.Bucket)
		r.LastBucket = maxTime(r.LastBucket, st.Bucket)
	}

	for _, a := range active {
		br := row(a.Branch)
		r.Totals.ActiveRows++
		if a.Closeable == nil {
			br.UndefinedActive++
			r.Totals.UndefinedActiveRows++
		}
		if a.TCRDelta != nil && *a.TCRDelta < 0 && a.IsCloseable() {
			br.ThresholdRows++
			r.Totals.ThresholdRows++
		}
		if a.Bucket.Equal(br.LatestBucket) {
			br.ActiveTroves++
			if a.IsCloseable() {
				br.CloseableTroves++
			}
		}
	}

	for _, br := range rows {
		r.Branches = append(r.Branches, *br)
	}
	sort.Slice(r.Branches, func(i, j int) bool {
		return r.Branches[i].Branch < r.Branches[j].Branch
	})
	return r
}

func minTime(cur, t time.Time) time.Time {
	if cur.IsZero() || t.Before(cur) {
		return t
	}
	return cur
}

func maxTime(cur, t time.Time) time.Time {
	if t.After(cur) {
		return t
	}
	return cur
}
