// Package capacity holds the solvency and borrowing capacity formulas.
//
// Every function returns (value, ok). ok is false when a denominator is not
// strictly positive or the result is not finite; callers store such results as
// nil so they can never be mistaken for zero or flow into later arithmetic.
package capacity

import "math"

// Value converts a formula result into an optional metric.
func Value(v float64, ok bool) *float64 {
	if !ok {
		return nil
	}
	return &v
}

// div divides num by den, undefined unless den > 0.
func div(num, den float64) (float64, bool) {
	if den <= 0 || math.IsNaN(den) {
		return 0, false
	}
	v := num / den
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// TCR returns coll * price / debt.
// Used for both the branch total ratio and a trove's individual ratio (ICR).
func TCR(coll, debt, price float64) (float64, bool) {
	if price <= 0 {
		return 0, false
	}
	return div(coll*price, debt)
}

// ICR is TCR applied to a single trove.
func ICR(coll, debt, price float64) (float64, bool) {
	return TCR(coll, debt, price)
}

// MCRDebtCap returns the debt mintable at MCR before the branch TCR falls to ccr:
//
//	(coll * price - ccr * debt) / (ccr - mcr)
//
// The result is negative when the branch is already below ccr.
func MCRDebtCap(coll, debt, price, mcr, ccr float64) (float64, bool) {
	if price <= 0 {
		return 0, false
	}
	return div(coll*price-ccr*debt, ccr-mcr)
}

// MCRCollCap returns the collateral side of a debtCap borrow at MCR.
func MCRCollCap(debtCap, mcr, price float64) (float64, bool) {
	return div(debtCap*mcr, price)
}

// TCRIfClosed returns the branch TCR after removing one trove from the aggregates:
//
//	(entireColl - coll) * price / (entireDebt - debt)
//
// Undefined when the trove holds all remaining branch debt.
func TCRIfClosed(entireColl, entireDebt, coll, debt, price float64) (float64, bool) {
	if price <= 0 {
		return 0, false
	}
	return div((entireColl-coll)*price, entireDebt-debt)
}

// Sub returns a - b, undefined if either side is.
func Sub(a, b *float64) *float64 {
	if a == nil || b == nil {
		return nil
	}
	v := *a - *b
	return &v
}

// Scale returns a * k, undefined if a is.
func Scale(a *float64, k float64) *float64 {
	if a == nil {
		return nil
	}
	v := *a * k
	return &v
}

// CollCapOf applies MCRCollCap to an optional debt cap.
func CollCapOf(debtCap *float64, mcr, price float64) *float64 {
	if debtCap == nil {
		return nil
	}
	return Value(MCRCollCap(*debtCap, mcr, price))
}

// Greater reports a > b. ok is false if either side is undefined.
func Greater(a *float64, b float64) (result, ok bool) {
	if a == nil {
		return false, false
	}
	return *a > b, true
}
