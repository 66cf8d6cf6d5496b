package domain

import "time"

// RedemptionRecord is one Redemption augmented with pre-state and capacity metrics.
// Nil metric pointers mean the value is undefined for this row
// (zero debt, non-positive price or CCR <= MCR).
// Corresponds to redemption_records table.
type RedemptionRecord struct {
	ID           string
	Timestamp    time.Time
	Branch       Branch
	TxHash       string
	Price        float64
	CollDecrease float64
	DebtDecrease float64
	EntireColl   float64
	EntireDebt   float64

	AttemptedDebt   float64 // requested amount; zero when not indexed
	RedemptionPrice float64 // zero when not indexed

	// Pre-redemption aggregates
	EntireColl0 float64
	EntireDebt0 float64

	TCR      *float64
	TCR0     *float64
	TCRDelta *float64

	MCRDebtCap      *float64
	MCRDebtCap0     *float64
	MCRCollCap      *float64
	MCRCollCap0     *float64
	MCRDebtCapDelta *float64
	MCRCollCapDelta *float64

	TCRDeltaPct        *float64 // TCR_delta * 100
	MCRDebtCapDeltaPct *float64 // see redemption.DeltaPctFormula

	// Set by the reserve adjustment; zero reserve when no trove was emptied.
	ReserveColl        float64
	MCRDebtCapReserved *float64
	MCRCollCapReserved *float64
}

// Undefined reports whether any core metric of the record is undefined.
func (r *RedemptionRecord) Undefined() bool {
	return r.TCR == nil || r.TCR0 == nil || r.MCRDebtCap == nil || r.MCRDebtCap0 == nil
}
