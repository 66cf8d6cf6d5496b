package redemption

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trove-capacity-lab/internal/domain"
)

func redemptionAt(id, tx string, sec int64) *domain.RedemptionEvent {
	return &domain.RedemptionEvent{
		ID: id, Timestamp: ts(sec), Branch: branchX, TxHash: tx,
		Price: 2, CollDecrease: 10, DebtDecrease: 5, EntireColl: 100, EntireDebt: 50,
	}
}

func update(tx, trove string, coll, debt float64) *domain.TroveUpdatedEvent {
	return &domain.TroveUpdatedEvent{
		ID: tx + "-" + trove, Timestamp: ts(1000), Branch: branchX, TxHash: tx, TroveID: trove,
		Coll: coll, Debt: debt, EntireColl: 100, EntireDebt: 50, Price: 2,
	}
}

func TestFullyRedeemed_Filter(t *testing.T) {
	records := ComputeMetrics([]*domain.RedemptionEvent{redemptionAt("r1", "0xtx", 1000)}, Options{})
	updates := []*domain.TroveUpdatedEvent{
		update("0xtx", "1", 5, 0),    // fully redeemed
		update("0xtx", "2", 5, 1),    // partially redeemed
		update("0xtx", "3", 0, 0),    // closed, nothing owed
		update("0xother", "4", 5, 0), // emptied outside a redemption
	}

	got := FullyRedeemed(records, updates)
	require.Len(t, got, 1)
	assert.Equal(t, "1", got[0].TroveID)
}

func TestAdjust_ScenarioC(t *testing.T) {
	records := ComputeMetrics([]*domain.RedemptionEvent{redemptionAt("r1", "0xtx", 1000)}, Options{})

	adj := Adjust(records, []*domain.TroveUpdatedEvent{update("0xtx", "1", 5, 0)})
	adjusted, reserves := adj.Records, adj.Reserves
	require.Len(t, adj.FullyRedeemed, 1)
	require.Len(t, reserves, 1)
	assert.Equal(t, 5.0, reserves[0].ReserveColl)
	assert.Equal(t, 5.0, adjusted[0].ReserveColl)

	adj = Adjust(records, []*domain.TroveUpdatedEvent{
		update("0xtx", "1", 5, 0),
		update("0xtx", "2", 3, 0),
	})
	adjusted, reserves = adj.Records, adj.Reserves
	require.Len(t, reserves, 1)
	assert.Equal(t, 8.0, reserves[0].ReserveColl)
	assert.Equal(t, 2, reserves[0].Troves)
	assert.Equal(t, 8.0, adjusted[0].ReserveColl)

	// ((100 - 8) * 2 - 1.2 * 50) / 0.1 = 1240
	require.NotNil(t, adjusted[0].MCRDebtCapReserved)
	assert.InDelta(t, 1240.0, *adjusted[0].MCRDebtCapReserved, 1e-9)
	require.NotNil(t, adjusted[0].MCRCollCapReserved)
	assert.Equal(t, *adjusted[0].MCRDebtCapReserved*branchX.MCR/2, *adjusted[0].MCRCollCapReserved)
}

func TestApplyReserve_NoReserveUnaffected(t *testing.T) {
	records := ComputeMetrics([]*domain.RedemptionEvent{redemptionAt("r1", "0xtx", 1000)}, Options{})

	adj := Adjust(records, nil)
	adjusted := adj.Records
	assert.Empty(t, adj.Reserves)
	assert.Empty(t, adj.FullyRedeemed)
	require.Len(t, adjusted, 1)
	assert.Equal(t, 0.0, adjusted[0].ReserveColl)
	require.NotNil(t, adjusted[0].MCRDebtCapReserved)
	assert.Equal(t, *adjusted[0].MCRDebtCap, *adjusted[0].MCRDebtCapReserved)
	assert.Equal(t, *adjusted[0].MCRCollCap, *adjusted[0].MCRCollCapReserved)
	assert.Empty(t, WithReserve(adjusted))
}

func TestApplyReserve_Monotonic(t *testing.T) {
	records := ComputeMetrics([]*domain.RedemptionEvent{
		redemptionAt("r1", "0xa", 1),
		redemptionAt("r2", "0xb", 2),
		redemptionAt("r3", "0xc", 3),
	}, Options{})
	updates := []*domain.TroveUpdatedEvent{
		update("0xa", "1", 0.5, 0),
		update("0xb", "2", 40, 0),
	}

	adjusted := Adjust(records, updates).Records
	for _, r := range adjusted {
		require.NotNil(t, r.MCRDebtCapReserved)
		assert.LessOrEqual(t, *r.MCRDebtCapReserved, *r.MCRDebtCap)
		if r.ReserveColl == 0 {
			assert.Equal(t, *r.MCRDebtCap, *r.MCRDebtCapReserved)
		}
	}
	assert.Len(t, WithReserve(adjusted), 2)
}

func TestApplyReserve_DoesNotMutateInput(t *testing.T) {
	records := ComputeMetrics([]*domain.RedemptionEvent{redemptionAt("r1", "0xtx", 1000)}, Options{})

	adjusted := Adjust(records, []*domain.TroveUpdatedEvent{update("0xtx", "1", 5, 0)}).Records
	assert.Equal(t, 0.0, records[0].ReserveColl)
	assert.NotSame(t, records[0], adjusted[0])
}

func TestReserveByTx_SeparatesBranches(t *testing.T) {
	other := domain.Branch{ID: "0xy", Name: "Y", MCR: 1.2, CCR: 1.5}
	u := update("0xtx", "9", 4, 0)
	u.Branch = other

	reserves := ReserveByTx([]*domain.TroveUpdatedEvent{update("0xtx", "1", 5, 0), u})
	require.Len(t, reserves, 2)
	assert.Equal(t, "X", reserves[0].Key.Branch)
	assert.Equal(t, 5.0, reserves[0].ReserveColl)
	assert.Equal(t, "Y", reserves[1].Key.Branch)
	assert.Equal(t, 4.0, reserves[1].ReserveColl)
}
