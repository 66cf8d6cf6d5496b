package memory

import (
	"context"
	"sort"
	"sync"

	"trove-capacity-lab/internal/domain"
	"trove-capacity-lab/internal/storage"
)

// RedemptionRecordStore is an in-memory implementation of storage.RedemptionRecordStore.
type RedemptionRecordStore struct {
	mu   sync.RWMutex
	data map[string]*domain.RedemptionRecord
}

// NewRedemptionRecordStore creates a new in-memory redemption record store.
func NewRedemptionRecordStore() *RedemptionRecordStore {
	return &RedemptionRecordStore{
		data: make(map[string]*domain.RedemptionRecord),
	}
}

// UpsertBulk writes records, replacing any with the same key.
// Fails entire batch on an invalid row or a key repeated within it.
func (s *RedemptionRecordStore) UpsertBulk(_ context.Context, records []*domain.RedemptionRecord) error {
	if err := storage.ValidateRedemptions(records); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range records {
		recordCopy := *r
		s.data[storage.RedemptionKey(r)] = &recordCopy
	}
	return nil
}

// GetByBranch retrieves all records of a branch, ordered by timestamp ASC.
func (s *RedemptionRecordStore) GetByBranch(_ context.Context, branchName string) ([]*domain.RedemptionRecord, error) {
	return s.collect(func(r *domain.RedemptionRecord) bool { return r.Branch.Name == branchName }), nil
}

// GetAll retrieves every record.
func (s *RedemptionRecordStore) GetAll(_ context.Context) ([]*domain.RedemptionRecord, error) {
	return s.collect(func(*domain.RedemptionRecord) bool { return true }), nil
}

func (s *RedemptionRecordStore) collect(match func(*domain.RedemptionRecord) bool) []*domain.RedemptionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.RedemptionRecord
	for _, r := range s.data {
		if match(r) {
			recordCopy := *r
			result = append(result, &recordCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		if a.Branch.Name != b.Branch.Name {
			return a.Branch.Name < b.Branch.Name
		}
		return a.ID < b.ID
	})

	return result
}

var _ storage.RedemptionRecordStore = (*RedemptionRecordStore)(nil)
