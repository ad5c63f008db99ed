package conductor

import (
	"context"
	"fmt"
	"sync"
)

// ResultStore persists compiled research results. Implementations live under
// store/ (sqlite, postgres); NewMemoryResultStore is the in-process default.
type ResultStore interface {
	SaveResult(ctx context.Context, res ResearchResult) error
	// GetResult returns ErrNotFound for unknown plan IDs.
	GetResult(ctx context.Context, planID string) (ResearchResult, error)
	// DeleteExpired removes results whose ExpiresAt is before now (Unix
	// seconds) and returns how many were removed.
	DeleteExpired(ctx context.Context, now int64) (int, error)
	Close() error
}

// memoryResultStore is a map-backed ResultStore for single-process use.
type memoryResultStore struct {
	mu      sync.RWMutex
	results map[string]ResearchResult
}

// NewMemoryResultStore creates an empty in-memory result store.
func NewMemoryResultStore() ResultStore {
	return &memoryResultStore{results: make(map[string]ResearchResult)}
}

func (s *memoryResultStore) SaveResult(_ context.Context, res ResearchResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[res.PlanID] = res
	return nil
}

func (s *memoryResultStore) GetResult(_ context.Context, planID string) (ResearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res, ok := s.results[planID]
	if !ok {
		return ResearchResult{}, fmt.Errorf("%w: plan %q", ErrNotFound, planID)
	}
	return res, nil
}

func (s *memoryResultStore) DeleteExpired(_ context.Context, now int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, res := range s.results {
		if res.ExpiresAt > 0 && res.ExpiresAt < now {
			delete(s.results, id)
			n++
		}
	}
	return n, nil
}

func (s *memoryResultStore) Close() error { return nil }

var _ ResultStore = (*memoryResultStore)(nil)
