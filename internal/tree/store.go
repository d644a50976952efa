package tree

import (
	"log/slog"
	"sync"
)

// Store is the explicitly passed handle to the tree. The client's apply loop
// is its only writer; readers may take snapshots from any goroutine.
type Store struct {
	mu      sync.RWMutex
	state   State
	version uint64
	logger  *slog.Logger
}

// NewStore creates a store holding initial.
func NewStore(initial State, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{state: initial, logger: logger}
}

// Dispatch reduces a into the current state and returns the new snapshot.
func (s *Store) Dispatch(a Action) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := Reduce(s.state, a)
	s.state = next
	s.version++
	s.logger.Debug("tree: dispatched", slog.String("action", actionName(a)))
	return next
}

// State returns the current snapshot.
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Version counts dispatched actions.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}
