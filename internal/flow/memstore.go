package flow

import (
	"context"
	"sync"
)

// Compile-time assertion that MemStore satisfies the Store interface.
var _ Store = (*MemStore)(nil)

// MemStore is a thread-safe, in-memory implementation of [Store].
// It is suitable for development and testing. The zero value is ready to use.
type MemStore struct {
	mu       sync.RWMutex
	sessions map[string]State
}

// NewMemStore returns an initialised [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{
		sessions: make(map[string]State),
	}
}

// Put implements [Store.Put]. The stored state is a deep copy, so later
// mutations of the caller's value never leak into the store.
func (s *MemStore) Put(ctx context.Context, state State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sessions == nil {
		s.sessions = make(map[string]State)
	}
	s.sessions[state.SessionID] = state.Clone()
	return nil
}

// Get implements [Store.Get]. The returned state is a deep copy.
func (s *MemStore) Get(ctx context.Context, sessionID string) (State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.sessions[sessionID]
	if !ok {
		return State{}, ErrNotFound
	}
	return state.Clone(), nil
}

// Delete implements [Store.Delete].
func (s *MemStore) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return ErrNotFound
	}
	delete(s.sessions, sessionID)
	return nil
}

// Len reports the number of stored sessions.
func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
