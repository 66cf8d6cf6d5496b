// Package withdrawal computes closeability and reserved borrowing capacity for
// every live trove of the reconstructed time series.
package withdrawal

import (
	"trove-capacity-lab/internal/capacity"
	"trove-capacity-lab/internal/domain"
)

// Compute returns new rows with the withdrawal metrics filled in.
// Input rows are not modified.
func Compute(rows []*domain.ActiveTroveRecord) []*domain.ActiveTroveRecord {
	out := make([]*domain.ActiveTroveRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, computeRow(r))
	}
	return out
}

func computeRow(in *domain.ActiveTroveRecord) *domain.ActiveTroveRecord {
	r := *in
	b := r.Branch

	r.ICR = capacity.Value(capacity.ICR(r.Coll, r.Debt, r.Price))
	r.TCRIfClosed = capacity.Value(capacity.TCRIfClosed(r.EntireColl, r.EntireDebt, r.Coll, r.Debt, r.Price))
	r.TCRDelta = capacity.Sub(r.TCRIfClosed, r.TCR)

	r.Closeable = nil
	if closeable, ok := capacity.Greater(r.TCRIfClosed, b.CCR); ok {
		r.Closeable = &closeable
	}

	ccr := b.CCR
	r.CCRBuffer = capacity.Sub(r.TCR, &ccr)
	r.TCRThreshold = capacity.Sub(&ccr, r.TCRDelta)

	r.MCRDebtCap = capacity.Value(capacity.MCRDebtCap(r.EntireColl, r.EntireDebt, r.Price, b.MCR, b.CCR))
	r.MCRCollCap = capacity.CollCapOf(r.MCRDebtCap, b.MCR, r.Price)

	// Reserve room for this trove's withdrawal by raising the target ratio
	// from CCR to CCR - TCR_delta.
	r.MCRDebtCapReserve = nil
	if r.TCRThreshold != nil {
		r.MCRDebtCapReserve = capacity.Value(capacity.MCRDebtCap(r.EntireColl, r.EntireDebt, r.Price, b.MCR, *r.TCRThreshold))
	}
	r.MCRCollCapReserve = capacity.CollCapOf(r.MCRDebtCapReserve, b.MCR, r.Price)
	return &r
}

// Thresholds returns rows whose closure lowers the branch TCR but is still allowed.
func Thresholds(rows []*domain.ActiveTroveRecord) []*domain.ActiveTroveRecord {
	var out []*domain.ActiveTroveRecord
	for _, r := range rows {
		if r.TCRDelta != nil && *r.TCRDelta < 0 && r.IsCloseable() {
			out = append(out, r)
		}
	}
	return out
}
