package progress

import (
	"context"
	"sync"
	"time"

	"github.com/cuongbtq/intern-crm/internal/domain"
)

// MemoryStore is a process-local Store
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]domain.JobProgress
}

// NewMemoryStore creates a new in-memory progress store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]domain.JobProgress),
	}
}

func (s *MemoryStore) Get(_ context.Context, jobID string) (domain.JobProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.entries[jobID]
	if !ok {
		return domain.JobProgress{}, ErrNotFound
	}
	return p, nil
}

func (s *MemoryStore) Set(_ context.Context, p domain.JobProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entries[p.JobID]; ok && existing.Phase.IsTerminal() && existing.Phase != p.Phase {
		return ErrTerminal
	}
	s.entries[p.JobID] = p
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, jobID)
	return nil
}

func (s *MemoryStore) Cleanup(_ context.Context, maxAge time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for jobID, p := range s.entries {
		if p.Phase.IsTerminal() && p.UpdatedAt.Before(cutoff) {
			delete(s.entries, jobID)
			removed++
		}
	}
	return removed, nil
}
