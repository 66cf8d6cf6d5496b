package storage

import (
	"strconv"

	"trove-capacity-lab/internal/domain"
)

// RedemptionKey is the (branch_id, id) key of a redemption record.
func RedemptionKey(r *domain.RedemptionRecord) string {
	return r.Branch.ID + "|" + r.ID
}

// BranchStateKey is the (branch_id, bucket) key of a branch state.
func BranchStateKey(s *domain.BranchDailyState) string {
	return s.Branch.ID + "|" + strconv.FormatInt(s.Bucket.UnixNano(), 10)
}

// ActiveTroveKey is the (branch_id, trove_id, bucket) key of an active trove row.
func ActiveTroveKey(r *domain.ActiveTroveRecord) string {
	return r.Branch.ID + "|" + r.TroveID + "|" + strconv.FormatInt(r.Bucket.UnixNano(), 10)
}

// ValidateRedemptions rejects nil or keyless records and keys repeated in the batch.
func ValidateRedemptions(records []*domain.RedemptionRecord) error {
	return validateBatch(records, func(r *domain.RedemptionRecord) (string, bool) {
		if r == nil || r.ID == "" || r.Branch.ID == "" {
			return "", false
		}
		return RedemptionKey(r), true
	})
}

// ValidateBranchStates rejects nil or keyless states and keys repeated in the batch.
func ValidateBranchStates(states []*domain.BranchDailyState) error {
	return validateBatch(states, func(s *domain.BranchDailyState) (string, bool) {
		if s == nil || s.Branch.ID == "" || s.Bucket.IsZero() {
			return "", false
		}
		return BranchStateKey(s), true
	})
}

// ValidateActiveTroves rejects nil or keyless rows and keys repeated in the batch.
func ValidateActiveTroves(rows []*domain.ActiveTroveRecord) error {
	return validateBatch(rows, func(r *domain.ActiveTroveRecord) (string, bool) {
		if r == nil || r.TroveID == "" || r.Branch.ID == "" || r.Bucket.IsZero() {
			return "", false
		}
		return ActiveTroveKey(r), true
	})
}

func validateBatch[T any](items []T, key func(T) (string, bool)) error {
	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		k, ok := key(it)
		if !ok {
			return ErrInvalidInput
		}
		if _, dup := seen[k]; dup {
			return ErrDuplicateKey
		}
		seen[k] = struct{}{}
	}
	return nil
}
