// Package session maps stable conversation contexts to remote backend
// threads. One session per context id, created lazily, single-flight on the
// first request.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// Session binds a context id to its remote thread. It also records the
// messages exchanged on the thread so tasks/get can expose history.
type Session struct {
	ContextID string
	ThreadID  string
	CreatedAt time.Time

	mu       sync.Mutex
	messages []string
}

// Append records messages exchanged on the session's thread.
func (s *Session) Append(msgs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msgs...)
}

// History returns a copy of the recorded messages in order.
func (s *Session) History() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.messages))
	copy(out, s.messages)
	return out
}

// ThreadCreator opens remote conversation threads. Satisfied by the backend
// adapter.
type ThreadCreator interface {
	CreateConversation(ctx context.Context, credential string) (string, error)
}

// Registry owns all sessions. By default it grows for the process lifetime;
// WithLRU caps it and evicts the least recently used entry.
type Registry struct {
	creator ThreadCreator
	group   singleflight.Group

	mu       sync.RWMutex
	sessions map[string]*Session        // nil when lru is active
	lru      *lru.Cache[string, *Session]
}

// NewRegistry creates an unbounded registry.
func NewRegistry(creator ThreadCreator) *Registry {
	return &Registry{
		creator:  creator,
		sessions: make(map[string]*Session),
	}
}

// NewRegistryLRU creates a registry capped at cap sessions. An evicted
// session means the next request for that context opens a fresh thread.
func NewRegistryLRU(creator ThreadCreator, cap int) (*Registry, error) {
	cache, err := lru.NewWithEvict(cap, func(contextID string, s *Session) {
		slog.Info("session evicted", "context", contextID, "thread", s.ThreadID)
	})
	if err != nil {
		return nil, fmt.Errorf("create session cache: %w", err)
	}
	return &Registry{creator: creator, lru: cache}, nil
}

// GetOrCreate returns the session for contextID, creating the remote thread
// on first sight. Concurrent first requests for the same context share a
// single creation; later callers observe the winner's thread.
func (r *Registry) GetOrCreate(ctx context.Context, contextID, credential string) (*Session, error) {
	if s, ok := r.Get(contextID); ok {
		return s, nil
	}

	v, err, _ := r.group.Do(contextID, func() (any, error) {
		// Re-check under the flight: a previous winner may have stored it.
		if s, ok := r.Get(contextID); ok {
			return s, nil
		}

		threadID, err := r.creator.CreateConversation(ctx, credential)
		if err != nil {
			return nil, fmt.Errorf("create thread for context %s: %w", contextID, err)
		}

		s := &Session{
			ContextID: contextID,
			ThreadID:  threadID,
			CreatedAt: time.Now(),
		}
		r.put(contextID, s)
		slog.Info("session created", "context", contextID, "thread", threadID)
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

// Get returns the session for contextID without creating one.
func (r *Registry) Get(contextID string) (*Session, bool) {
	if r.lru != nil {
		return r.lru.Get(contextID)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[contextID]
	return s, ok
}

func (r *Registry) put(contextID string, s *Session) {
	if r.lru != nil {
		r.lru.Add(contextID, s)
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[contextID] = s
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	if r.lru != nil {
		return r.lru.Len()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
