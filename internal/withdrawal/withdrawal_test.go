package withdrawal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trove-capacity-lab/internal/capacity"
	"trove-capacity-lab/internal/domain"
)

var branchX = domain.Branch{ID: "0xx", Name: "X", MCR: 1.1, CCR: 1.2}

func row(coll, debt, entireColl, entireDebt, price float64) *domain.ActiveTroveRecord {
	return &domain.ActiveTroveRecord{
		TroveID:    "1",
		Branch:     branchX,
		Bucket:     time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		Coll:       coll,
		Debt:       debt,
		EntireColl: entireColl,
		EntireDebt: entireDebt,
		Price:      price,
		TCR:        capacity.Value(capacity.TCR(entireColl, entireDebt, price)),
	}
}

func TestCompute_Formulas(t *testing.T) {
	// TCR = 100*2/50 = 4; closing (10, 10): 90*2/40 = 4.5
	out := Compute([]*domain.ActiveTroveRecord{row(10, 10, 100, 50, 2)})
	require.Len(t, out, 1)
	r := out[0]

	require.NotNil(t, r.ICR)
	assert.Equal(t, 2.0, *r.ICR)
	require.NotNil(t, r.TCRIfClosed)
	assert.Equal(t, 4.5, *r.TCRIfClosed)
	require.NotNil(t, r.TCRDelta)
	assert.Equal(t, 0.5, *r.TCRDelta)
	require.NotNil(t, r.Closeable)
	assert.True(t, *r.Closeable)
	require.NotNil(t, r.CCRBuffer)
	assert.InDelta(t, 2.8, *r.CCRBuffer, 1e-12)
	require.NotNil(t, r.TCRThreshold)
	assert.InDelta(t, 0.7, *r.TCRThreshold, 1e-12)

	require.NotNil(t, r.MCRDebtCap)
	assert.InDelta(t, 1400.0, *r.MCRDebtCap, 1e-9)
	require.NotNil(t, r.MCRCollCap)
	assert.Equal(t, *r.MCRDebtCap*branchX.MCR/2, *r.MCRCollCap)

	// CCR' = 0.7 is below MCR: the reserved formula has a negative denominator.
	assert.Nil(t, r.MCRDebtCapReserve)
	assert.Nil(t, r.MCRCollCapReserve)
}

func TestCompute_NegativeDeltaReserve(t *testing.T) {
	// ICR 3 trove in a branch at TCR 100/70: closing leaves 70/60.
	out := Compute([]*domain.ActiveTroveRecord{row(30, 10, 100, 70, 1)})
	r := out[0]

	require.NotNil(t, r.TCRDelta)
	assert.Less(t, *r.TCRDelta, 0.0)
	require.NotNil(t, r.TCRThreshold)
	assert.Equal(t, branchX.CCR-*r.TCRDelta, *r.TCRThreshold)

	// TCR_if_closed = 70/60 = 1.1667 < CCR
	require.NotNil(t, r.Closeable)
	assert.False(t, *r.Closeable)

	require.NotNil(t, r.MCRDebtCapReserve)
	want, ok := capacity.MCRDebtCap(100, 70, 1, branchX.MCR, *r.TCRThreshold)
	require.True(t, ok)
	assert.Equal(t, want, *r.MCRDebtCapReserve)
	// reserving for the withdrawal lowers capacity
	assert.Less(t, *r.MCRDebtCapReserve, *r.MCRDebtCap)
}

func TestCompute_LastDebtUndefined(t *testing.T) {
	// The trove is the whole branch: TCR if closed is undefined.
	out := Compute([]*domain.ActiveTroveRecord{row(100, 50, 100, 50, 2)})
	r := out[0]

	assert.Nil(t, r.TCRIfClosed)
	assert.Nil(t, r.TCRDelta)
	assert.Nil(t, r.Closeable)
	assert.Nil(t, r.TCRThreshold)
	assert.Nil(t, r.MCRDebtCapReserve)
	assert.False(t, r.IsCloseable())

	// Metrics that do not depend on closing stay defined.
	require.NotNil(t, r.ICR)
	require.NotNil(t, r.MCRDebtCap)
	require.NotNil(t, r.CCRBuffer)
}

func TestCompute_CloseableConsistency(t *testing.T) {
	rows := []*domain.ActiveTroveRecord{
		row(10, 10, 100, 50, 2),
		row(30, 10, 100, 70, 1),
		row(1, 1, 12, 10, 1),
		row(5, 2, 12.1, 10, 1),
		row(100, 50, 100, 50, 2),
	}

	for _, r := range Compute(rows) {
		if r.TCRIfClosed == nil {
			assert.Nil(t, r.Closeable)
			continue
		}
		require.NotNil(t, r.Closeable)
		assert.Equal(t, *r.TCRIfClosed > r.Branch.CCR, *r.Closeable)
	}
}

func TestCompute_DoesNotMutateInput(t *testing.T) {
	in := row(10, 10, 100, 50, 2)
	out := Compute([]*domain.ActiveTroveRecord{in})

	assert.Nil(t, in.ICR)
	assert.NotSame(t, in, out[0])
}

func TestThresholds(t *testing.T) {
	rows := Compute([]*domain.ActiveTroveRecord{
		row(10, 10, 100, 50, 2),  // improves TCR
		row(30, 10, 100, 70, 1),  // lowers TCR, not closeable
		row(50, 10, 300, 100, 1), // lowers TCR from 3 to 2.78, closeable
	})

	got := Thresholds(rows)
	require.Len(t, got, 1)
	assert.Equal(t, 50.0, got[0].Coll)
	for _, r := range got {
		require.NotNil(t, r.TCRDelta)
		assert.Less(t, *r.TCRDelta, 0.0)
		assert.True(t, r.IsCloseable())
	}
}
