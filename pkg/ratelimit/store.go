package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Store persists ThrottleState. Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the current state, or a zero-block state if none is stored.
	Get(ctx context.Context) (*ThrottleState, error)

	// Block extends BlockedUntil to until. An earlier until never shortens
	// an existing block.
	Block(ctx context.Context, until time.Time) error

	// SetRemaining records the last observed remaining-request budget.
	SetRemaining(ctx context.Context, remaining int) error
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu    sync.Mutex
	state ThrottleState
	now   func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state: *defaultState(),
		now:   time.Now,
	}
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context) (*ThrottleState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.state
	return &s, nil
}

// Block implements Store.
func (m *MemoryStore) Block(_ context.Context, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if until.After(m.state.BlockedUntil) {
		m.state.BlockedUntil = until
	}
	m.state.LastUpdate = m.now()
	return nil
}

// SetRemaining implements Store.
func (m *MemoryStore) SetRemaining(_ context.Context, remaining int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Remaining = remaining
	m.state.LastUpdate = m.now()
	return nil
}
