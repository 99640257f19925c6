package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dunamismax/kirkproxy/internal/domain"
)

type MemoryRunStore struct {
	mu   sync.RWMutex
	runs map[string]domain.Run
}

func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{
		runs: make(map[string]domain.Run),
	}
}

func (s *MemoryRunStore) Create(_ context.Context, run domain.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	s.runs[run.ID] = run
	return nil
}

func (s *MemoryRunStore) Get(_ context.Context, id string) (domain.Run, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	return run, ok, nil
}

func (s *MemoryRunStore) Update(_ context.Context, id string, update domain.RunUpdate) (domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return domain.Run{}, ErrRunNotFound
	}

	run.Status = update.Status
	run.FailureKind = update.FailureKind
	run.Error = update.Error
	run.OutputKey = update.OutputKey
	run.OutputBytes = update.OutputBytes
	run.UpdatedAt = time.Now().UTC()
	s.runs[id] = run
	return run, nil
}

func (s *MemoryRunStore) Close() error {
	return nil
}
