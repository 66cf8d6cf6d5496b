package domain

import "time"

// RawRedemption is a Redemption record as returned by the indexer.
// Amounts are fixed-point integers scaled by 1e18, timestamp is epoch seconds.
type RawRedemption struct {
	ID                  string `json:"id"`
	Timestamp           string `json:"timestamp"`
	TroveManager        string `json:"troveManager"`
	TransactionHash     string `json:"transactionHash"`
	Price               string `json:"price"`
	CollDecrease        string `json:"collDecrease"`
	DebtDecrease        string `json:"debtDecrease"`
	EntireColl          string `json:"entireColl"`
	EntireDebt          string `json:"entireDebt"`
	AttemptedBoldAmount string `json:"attemptedBoldAmount,omitempty"`
	RedemptionPrice     string `json:"redemptionPrice,omitempty"`
}

// RawTroveUpdated is a TroveUpdated record as returned by the indexer.
type RawTroveUpdated struct {
	ID              string `json:"id"`
	Timestamp       string `json:"timestamp"`
	TroveManager    string `json:"troveManager"`
	TransactionHash string `json:"transactionHash"`
	TroveID         string `json:"troveId"`
	Coll            string `json:"coll"`
	Debt            string `json:"debt"`
	EntireColl      string `json:"entireColl"`
	EntireDebt      string `json:"entireDebt"`
	Price           string `json:"price"`
}

// RedemptionEvent is a normalized Redemption.
// EntireColl/EntireDebt are branch aggregates after the redemption.
type RedemptionEvent struct {
	ID           string
	Seq          int // ingestion order, breaks timestamp ties
	Timestamp    time.Time
	Branch       Branch
	TxHash       string
	Price        float64 // collateral price in debt units
	CollDecrease float64
	DebtDecrease float64
	EntireColl   float64
	EntireDebt   float64

	AttemptedDebt   float64 // zero when not indexed
	RedemptionPrice float64 // zero when not indexed
}

// TroveUpdatedEvent is a normalized TroveUpdated.
// Debt == 0 with Coll > 0 marks a fully redeemed trove.
type TroveUpdatedEvent struct {
	ID         string
	Seq        int
	Timestamp  time.Time
	Branch     Branch
	TxHash     string
	TroveID    string
	Coll       float64 // this trove's collateral after the update
	Debt       float64 // this trove's debt after the update
	EntireColl float64 // branch aggregate at update time
	EntireDebt float64
	Price      float64
}

// FullyRedeemed reports whether the update left residual collateral with no debt.
func (e *TroveUpdatedEvent) FullyRedeemed() bool {
	return e.Coll > 0 && e.Debt == 0
}
