package domain

import "time"

// BranchDailyState is the last known branch aggregate per (branch, bucket).
// Corresponds to branch_states table.
type BranchDailyState struct {
	Branch     Branch
	Bucket     time.Time
	EntireColl float64
	EntireDebt float64
	Price      float64
	TCR        *float64 // nil when EntireDebt <= 0 or Price <= 0
}

// PositionDailyState is the last known trove state per (trove, bucket).
// Filled is true when the bucket had no event and the state was carried forward.
type PositionDailyState struct {
	TroveID string
	Branch  Branch
	Bucket  time.Time
	Coll    float64
	Debt    float64
	Filled  bool
}

// ActiveTroveRecord is a live trove at a bucket with the branch state of that bucket
// and its withdrawal metrics.
// Corresponds to active_troves table.
type ActiveTroveRecord struct {
	TroveID string
	Branch  Branch
	Bucket  time.Time
	Coll    float64
	Debt    float64
	Filled  bool

	EntireColl float64
	EntireDebt float64
	Price      float64
	TCR        *float64

	ICR         *float64
	TCRIfClosed *float64
	TCRDelta    *float64
	Closeable   *bool // nil when TCRIfClosed is undefined
	CCRBuffer   *float64

	TCRThreshold      *float64
	MCRDebtCap        *float64
	MCRCollCap        *float64
	MCRDebtCapReserve *float64
	MCRCollCapReserve *float64
}

// IsCloseable reports a defined, true closeable flag.
func (r *ActiveTroveRecord) IsCloseable() bool {
	return r.Closeable != nil && *r.Closeable
}
