package normalization

import (
	"sort"

	"trove-capacity-lab/internal/domain"
)

// SortRedemptions orders redemptions by (timestamp ASC, seq ASC).
// Seq is the ingestion order, so ties keep page order.
func SortRedemptions(events []*domain.RedemptionEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		return compareEvents(events[i].Timestamp.UnixNano(), events[i].Seq,
			events[j].Timestamp.UnixNano(), events[j].Seq) < 0
	})
}

// SortTroveUpdates orders trove updates by (timestamp ASC, seq ASC).
func SortTroveUpdates(events []*domain.TroveUpdatedEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		return compareEvents(events[i].Timestamp.UnixNano(), events[i].Seq,
			events[j].Timestamp.UnixNano(), events[j].Seq) < 0
	})
}

// compareEvents returns:
//   - negative if a < b
//   - zero if a == b
//   - positive if a > b
func compareEvents(aTs int64, aSeq int, bTs int64, bSeq int) int {
	if aTs != bTs {
		if aTs < bTs {
			return -1
		}
		return 1
	}
	if aSeq != bSeq {
		if aSeq < bSeq {
			return -1
		}
		return 1
	}
	return 0
}
