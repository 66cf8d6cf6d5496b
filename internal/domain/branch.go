package domain

// Branch is an independent lending market with its own thresholds.
// Defined by static configuration, never mutated.
type Branch struct {
	ID   string  // trove manager address, lower-cased
	Name string  // display name, e.g. "sUSDS"
	MCR  float64 // minimum collateral ratio, e.g. 1.10
	CCR  float64 // critical collateral ratio, e.g. 1.20
}

// Buffer returns CCR - MCR, the denominator of the MCR capacity formula.
func (b Branch) Buffer() float64 {
	return b.CCR - b.MCR
}
