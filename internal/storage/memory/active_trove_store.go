package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"trove-capacity-lab/internal/domain"
	"trove-capacity-lab/internal/storage"
)

// ActiveTroveStore is an in-memory implementation of storage.ActiveTroveStore.
type ActiveTroveStore struct {
	mu   sync.RWMutex
	data map[string]*domain.ActiveTroveRecord
}

// NewActiveTroveStore creates a new in-memory active trove store.
func NewActiveTroveStore() *ActiveTroveStore {
	return &ActiveTroveStore{
		data: make(map[string]*domain.ActiveTroveRecord),
	}
}

// UpsertBulk writes rows, replacing any with the same key.
func (s *ActiveTroveStore) UpsertBulk(_ context.Context, rows []*domain.ActiveTroveRecord) error {
	if err := storage.ValidateActiveTroves(rows); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range rows {
		rowCopy := *r
		s.data[storage.ActiveTroveKey(r)] = &rowCopy
	}
	return nil
}

// GetByBranch retrieves all rows of a branch, ordered by trove_id ASC, bucket ASC.
func (s *ActiveTroveStore) GetByBranch(_ context.Context, branchName string) ([]*domain.ActiveTroveRecord, error) {
	return s.collect(func(r *domain.ActiveTroveRecord) bool { return r.Branch.Name == branchName }), nil
}

// GetByBucket retrieves all rows of a bucket.
func (s *ActiveTroveStore) GetByBucket(_ context.Context, bucket time.Time) ([]*domain.ActiveTroveRecord, error) {
	return s.collect(func(r *domain.ActiveTroveRecord) bool { return bucketsEqual(r.Bucket, bucket) }), nil
}

// GetAll retrieves every row.
func (s *ActiveTroveStore) GetAll(_ context.Context) ([]*domain.ActiveTroveRecord, error) {
	return s.collect(func(*domain.ActiveTroveRecord) bool { return true }), nil
}

func (s *ActiveTroveStore) collect(match func(*domain.ActiveTroveRecord) bool) []*domain.ActiveTroveRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.ActiveTroveRecord
	for _, r := range s.data {
		if match(r) {
			rowCopy := *r
			result = append(result, &rowCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if a.Branch.Name != b.Branch.Name {
			return a.Branch.Name < b.Branch.Name
		}
		if a.TroveID != b.TroveID {
			return a.TroveID < b.TroveID
		}
		return a.Bucket.Before(b.Bucket)
	})

	return result
}

var _ storage.ActiveTroveStore = (*ActiveTroveStore)(nil)
