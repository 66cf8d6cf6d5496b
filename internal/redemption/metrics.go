// Package redemption derives per-redemption capacity metrics and the
// reserve adjustment for fully redeemed troves.
package redemption

import (
	"trove-capacity-lab/internal/capacity"
	"trove-capacity-lab/internal/config"
	"trove-capacity-lab/internal/domain"
	"trove-capacity-lab/internal/normalization"
)

// DeltaPctFormula selects how MCRDebtCapDeltaPct is derived.
type DeltaPctFormula string

const (
	// DeltaPctAsSource is (MCR_debt_cap_delta - MCR_debt_cap_0) / MCR_debt_cap_0,
	// the formula historical reports were produced with.
	DeltaPctAsSource DeltaPctFormula = config.DeltaPctAsSource

	// DeltaPctRelative is (MCR_debt_cap - MCR_debt_cap_0) / MCR_debt_cap_0.
	DeltaPctRelative DeltaPctFormula = config.DeltaPctRelative
)

// Options configures ComputeMetrics.
type Options struct {
	DeltaPct DeltaPctFormula
}

// ComputeMetrics builds one record per redemption, ordered by (timestamp, seq).
// The input slice is not modified. No event is skipped: degenerate rows carry
// nil metrics instead.
func ComputeMetrics(events []*domain.RedemptionEvent, opts Options) []*domain.RedemptionRecord {
	if len(events) == 0 {
		return nil
	}
	if opts.DeltaPct == "" {
		opts.DeltaPct = DeltaPctAsSource
	}

	sorted := make([]*domain.RedemptionEvent, len(events))
	copy(sorted, events)
	normalization.SortRedemptions(sorted)

	records := make([]*domain.RedemptionRecord, 0, len(sorted))
	for _, e := range sorted {
		records = append(records, computeRecord(e, opts))
	}
	return records
}

func computeRecord(e *domain.RedemptionEvent, opts Options) *domain.RedemptionRecord {
	b := e.Branch
	r := &domain.RedemptionRecord{
		ID:              e.ID,
		Timestamp:       e.Timestamp,
		Branch:          b,
		TxHash:          e.TxHash,
		Price:           e.Price,
		CollDecrease:    e.CollDecrease,
		DebtDecrease:    e.DebtDecrease,
		AttemptedDebt:   e.AttemptedDebt,
		RedemptionPrice: e.RedemptionPrice,
		EntireColl:      e.EntireColl,
		EntireDebt:      e.EntireDebt,
		EntireColl0:     e.EntireColl + e.CollDecrease,
		EntireDebt0:     e.EntireDebt + e.DebtDecrease,
	}

	r.TCR = capacity.Value(capacity.TCR(r.EntireColl, r.EntireDebt, r.Price))
	r.TCR0 = capacity.Value(capacity.TCR(r.EntireColl0, r.EntireDebt0, r.Price))
	r.TCRDelta = capacity.Sub(r.TCR, r.TCR0)
	r.TCRDeltaPct = capacity.Scale(r.TCRDelta, 100)

	r.MCRDebtCap = capacity.Value(capacity.MCRDebtCap(r.EntireColl, r.EntireDebt, r.Price, b.MCR, b.CCR))
	r.MCRDebtCap0 = capacity.Value(capacity.MCRDebtCap(r.EntireColl0, r.EntireDebt0, r.Price, b.MCR, b.CCR))
	r.MCRCollCap = capacity.CollCapOf(r.MCRDebtCap, b.MCR, r.Price)
	r.MCRCollCap0 = capacity.CollCapOf(r.MCRDebtCap0, b.MCR, r.Price)
	r.MCRDebtCapDelta = capacity.Sub(r.MCRDebtCap, r.MCRDebtCap0)
	r.MCRCollCapDelta = capacity.Sub(r.MCRCollCap, r.MCRCollCap0)
	r.MCRDebtCapDeltaPct = debtCapDeltaPct(r, opts.DeltaPct)

	// Until a reserve is applied the reserved capacity equals the plain one.
	r.MCRDebtCapReserved = r.MCRDebtCap
	r.MCRCollCapReserved = r.MCRCollCap
	return r
}

func debtCapDeltaPct(r *domain.RedemptionRecord, formula DeltaPctFormula) *float64 {
	if r.MCRDebtCap0 == nil || *r.MCRDebtCap0 == 0 {
		return nil
	}
	var num *float64
	switch formula {
	case DeltaPctRelative:
		num = capacity.Sub(r.MCRDebtCap, r.MCRDebtCap0)
	default:
		num = capacity.Sub(r.MCRDebtCapDelta, r.MCRDebtCap0)
	}
	if num == nil {
		return nil
	}
	v := *num / *r.MCRDebtCap0
	return &v
}
