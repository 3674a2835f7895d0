package session

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Session is the logical isolation unit for one agent's tool usage. It
// owns a filesystem workspace and the variable state carried across code
// execution turns.
type Session struct {
	ID            string
	WorkspaceRoot string
	CreatedAt     time.Time

	// slot serializes operations against this session. Operations on
	// different sessions run fully in parallel; two operations on the
	// same session never interleave.
	slot *semaphore.Weighted

	mu             sync.Mutex
	lastAccessed   time.Time
	variables      map[string]string
	executionCount int64
}

func newSession(id, workspaceRoot string, now time.Time) *Session {
	return &Session{
		ID:            id,
		WorkspaceRoot: workspaceRoot,
		CreatedAt:     now,
		slot:          semaphore.NewWeighted(1),
		lastAccessed:  now,
		variables:     make(map[string]string),
	}
}

// Acquire claims the session's exclusive slot, blocking until the slot is
// free or ctx is done. Every state-mutating operation must hold the slot
// for its full duration.
func (s *Session) Acquire(ctx context.Context) error {
	return s.slot.Acquire(ctx, 1)
}

// Release frees the session's exclusive slot.
func (s *Session) Release() {
	s.slot.Release(1)
}

// Touch updates the last-accessed timestamp.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastAccessed = time.Now()
	s.mu.Unlock()
}

// LastAccessed returns the last-accessed timestamp.
func (s *Session) LastAccessed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAccessed
}

// ExecutionCount returns the number of completed executions.
func (s *Session) ExecutionCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.executionCount
}

// RecordExecution increments the execution counter.
func (s *Session) RecordExecution() {
	s.mu.Lock()
	s.executionCount++
	s.mu.Unlock()
}

// Variables returns a copy of the session's variable state.
func (s *Session) Variables() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.variables))
	for k, v := range s.variables {
		out[k] = v
	}
	return out
}

// MergeVariables applies updates atomically. Either every entry lands or,
// on an empty update, nothing changes; a partially merged state is never
// observable.
func (s *Session) MergeVariables(updates map[string]string) {
	if len(updates) == 0 {
		return
	}
	s.mu.Lock()
	for k, v := range updates {
		s.variables[k] = v
	}
	s.mu.Unlock()
}

// clearVariables destroys the variable state. Called on eviction.
func (s *Session) clearVariables() {
	s.mu.Lock()
	s.variables = make(map[string]string)
	s.mu.Unlock()
}
