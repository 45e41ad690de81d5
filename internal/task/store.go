// Package task tracks units of work through the submitted/working/terminal
// lifecycle and persists their snapshots.
package task

import (
	"context"
	"errors"
	"sync"

	"github.com/nextlevelbuilder/agentgate/internal/a2a"
)

// ErrNotFound is returned when a task id is unknown to the store.
var ErrNotFound = errors.New("task not found")

// Store persists task snapshots. Save overwrites the previous snapshot for
// the same id.
type Store interface {
	Save(ctx context.Context, t *a2a.Task) error
	Get(ctx context.Context, id string) (*a2a.Task, error)
	Close() error
}

// MemoryStore keeps tasks in a process-local map. This is the default store.
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[string]*a2a.Task
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]*a2a.Task)}
}

// Save stores a copy of the task snapshot.
func (s *MemoryStore) Save(_ context.Context, t *a2a.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.ID] = snapshot(t)
	return nil
}

// Get returns a copy of the stored task, or ErrNotFound.
func (s *MemoryStore) Get(_ context.Context, id string) (*a2a.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return snapshot(t), nil
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error { return nil }

// snapshot deep-copies the mutable parts of a task so callers cannot race on
// the stored value.
func snapshot(t *a2a.Task) *a2a.Task {
	cp := *t
	if t.History != nil {
		cp.History = make([]a2a.Message, len(t.History))
		copy(cp.History, t.History)
	}
	return &cp
}
