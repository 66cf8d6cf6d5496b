package redemption

import (
	"sort"

	"trove-capacity-lab/internal/capacity"
	"trove-capacity-lab/internal/domain"
)

// ReserveKey identifies a redemption transaction within a branch.
type ReserveKey struct {
	Branch string // branch name
	TxHash string
}

// Reserve is the collateral left in troves emptied by one redemption transaction.
type Reserve struct {
	Key         ReserveKey
	ReserveColl float64
	Troves      int
}

// FullyRedeemed returns the trove updates emitted by a redemption transaction that
// left the trove with collateral but no debt. Input order is preserved.
func FullyRedeemed(records []*domain.RedemptionRecord, updates []*domain.TroveUpdatedEvent) []*domain.TroveUpdatedEvent {
	txs := make(map[string]struct{}, len(records))
	for _, r := range records {
		txs[r.TxHash] = struct{}{}
	}

	var out []*domain.TroveUpdatedEvent
	for _, u := range updates {
		if !u.FullyRedeemed() {
			continue
		}
		if _, ok := txs[u.TxHash]; !ok {
			continue
		}
		out = append(out, u)
	}
	return out
}

// ReserveByTx sums residual collateral per (branch, transaction).
// Result is sorted by (branch, tx hash).
func ReserveByTx(fullyRedeemed []*domain.TroveUpdatedEvent) []Reserve {
	sums := make(map[ReserveKey]*Reserve)
	for _, u := range fullyRedeemed {
		k := ReserveKey{Branch: u.Branch.Name, TxHash: u.TxHash}
		r, ok := sums[k]
		if !ok {
			r = &Reserve{Key: k}
			sums[k] = r
		}
		r.ReserveColl += u.Coll
		r.Troves++
	}

	out := make([]Reserve, 0, len(sums))
	for _, r := range sums {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key.Branch != out[j].Key.Branch {
			return out[i].Key.Branch < out[j].Key.Branch
		}
		return out[i].Key.TxHash < out[j].Key.TxHash
	})
	return out
}

// ApplyReserve returns new records with the reserve joined by (tx hash, branch)
// and the capacity recomputed with that collateral held back:
//
//	((entireColl - reserve) * price - CCR * entireDebt) / (CCR - MCR)
//
// Records without a matching reserve get zero reserve and unchanged capacity.
func ApplyReserve(records []*domain.RedemptionRecord, reserves []Reserve) []*domain.RedemptionRecord {
	byKey := make(map[ReserveKey]float64, len(reserves))
	for _, r := range reserves {
		byKey[r.Key] += r.ReserveColl
	}

	out := make([]*domain.RedemptionRecord, 0, len(records))
	for _, rec := range records {
		next := *rec
		b := next.Branch
		next.ReserveColl = byKey[ReserveKey{Branch: b.Name, TxHash: next.TxHash}]
		if next.ReserveColl == 0 {
			next.MCRDebtCapReserved = rec.MCRDebtCap
		} else {
			next.MCRDebtCapReserved = capacity.Value(capacity.MCRDebtCap(
				next.EntireColl-next.ReserveColl, next.EntireDebt, next.Price, b.MCR, b.CCR))
		}
		next.MCRCollCapReserved = capacity.CollCapOf(next.MCRDebtCapReserved, b.MCR, next.Price)
		out = append(out, &next)
	}
	return out
}

// Adjustment is the outcome of the reserve adjustment.
type Adjustment struct {
	Records       []*domain.RedemptionRecord
	FullyRedeemed []*domain.TroveUpdatedEvent
	Reserves      []Reserve
}

// Adjust runs the full reserve adjustment: filter, group and join.
func Adjust(records []*domain.RedemptionRecord, updates []*domain.TroveUpdatedEvent) Adjustment {
	fully := FullyRedeemed(records, updates)
	reserves := ReserveByTx(fully)
	return Adjustment{
		Records:       ApplyReserve(records, reserves),
		FullyRedeemed: fully,
		Reserves:      reserves,
	}
}

// WithReserve returns the records whose transaction emptied at least one trove.
func WithReserve(records []*domain.RedemptionRecord) []*domain.RedemptionRecord {
	var out []*domain.RedemptionRecord
	for _, r := range records {
		if r.ReserveColl > 0 {
			out = append(out, r)
		}
	}
	return out
}
