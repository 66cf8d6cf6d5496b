package memory

import "trove-capacity-lab/internal/storage"

// NewResultStore wires fresh in-memory stores into a ResultStore.
func NewResultStore() *storage.ResultStore {
	return &storage.ResultStore{
		Backend:      "memory",
		Redemptions:  NewRedemptionRecordStore(),
		BranchStates: NewBranchStateStore(),
		ActiveTroves: NewActiveTroveStore(),
	}
}
