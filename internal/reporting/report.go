// Package reporting renders analysis results as CSV tables and a markdown summary.
package reporting

import "time"

// Report is the per-branch summary of one analysis run.
type Report struct {
	GeneratedAt time.Time

	// Time span of the redemption and trove tables
	FirstRedemption time.Time
	LastRedemption  time.Time
	FirstBucket     time.Time
	LastBucket      time.Time

	Totals   Totals
	Branches []BranchSummaryRow // sorted by branch name
}

// Totals are counts across all branches.
type Totals struct {
	Redemptions          int
	RedemptionsReserved  int
	UndefinedRedemptions int
	BranchStates         int
	ActiveRows           int
	UndefinedActiveRows  int
	ThresholdRows        int
}

// BranchSummaryRow is one branch of the summary table.
// Nil metrics were undefined at the latest observation.
type BranchSummaryRow struct {
	Branch string
	MCR    float64
	CCR    float64

	Redemptions          int
	RedemptionsReserved  int // redemptions whose tx emptied a trove
	UndefinedRedemptions int
	ReserveColl          float64 // collateral of all emptied troves

	// Latest redemption
	LatestRedemption         time.Time
	LatestTCR                *float64
	LatestMCRDebtCap         *float64
	LatestMCRDebtCapReserved *float64

	// Latest bucket with branch state
	LatestBucket    time.Time
	LatestBucketTCR *float64
	ActiveTroves    int // live troves at LatestBucket
	CloseableTroves int // of which closeable
	UndefinedActive int // rows of any bucket with undefined closeability
	ThresholdRows   int // closeable rows whose closure lowers TCR
}
