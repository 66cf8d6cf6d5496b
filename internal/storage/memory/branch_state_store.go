package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"trove-capacity-lab/internal/domain"
	"trove-capacity-lab/internal/storage"
)

// BranchStateStore is an in-memory implementation of storage.BranchStateStore.
type BranchStateStore struct {
	mu   sync.RWMutex
	data map[string]*domain.BranchDailyState
}

// NewBranchStateStore creates a new in-memory branch state store.
func NewBranchStateStore() *BranchStateStore {
	return &BranchStateStore{
		data: make(map[string]*domain.BranchDailyState),
	}
}

// UpsertBulk writes states, replacing any with the same key.
func (s *BranchStateStore) UpsertBulk(_ context.Context, states []*domain.BranchDailyState) error {
	if err := storage.ValidateBranchStates(states); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, st := range states {
		stCopy := *st
		s.data[storage.BranchStateKey(st)] = &stCopy
	}
	return nil
}

// GetByBranch retrieves all states of a branch, ordered by bucket ASC.
func (s *BranchStateStore) GetByBranch(_ context.Context, branchName string) ([]*domain.BranchDailyState, error) {
	return s.collect(func(st *domain.BranchDailyState) bool { return st.Branch.Name == branchName }), nil
}

// GetAll retrieves every state, ordered by branch ASC, bucket ASC.
func (s *BranchStateStore) GetAll(_ context.Context) ([]*domain.BranchDailyState, error) {
	return s.collect(func(*domain.BranchDailyState) bool { return true }), nil
}

func (s *BranchStateStore) collect(match func(*domain.BranchDailyState) bool) []*domain.BranchDailyState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.BranchDailyState
	for _, st := range s.data {
		if match(st) {
			stCopy := *st
			result = append(result, &stCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Branch.Name != result[j].Branch.Name {
			return result[i].Branch.Name < result[j].Branch.Name
		}
		return result[i].Bucket.Before(result[j].Bucket)
	})

	return result
}

// bucketsEqual compares buckets by instant, ignoring location.
func bucketsEqual(a, b time.Time) bool {
	return a.Equal(b)
}

var _ storage.BranchStateStore = (*BranchStateStore)(nil)
