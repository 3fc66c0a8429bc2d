package flow

import "sync"

// VariableStore is the execution-scoped key/value space nodes read from and
// write to. A single execution owns its store exclusively: node executors get
// read-only snapshots, and only the engine commits outputs, one node at a
// time, so concurrently running siblings never observe uncommitted values.
type VariableStore struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewVariableStore creates an empty variable store.
func NewVariableStore() *VariableStore {
	return &VariableStore{values: make(map[string]any)}
}

// Seed writes initial variables into the store.
func (s *VariableStore) Seed(vars map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for name, value := range vars {
		s.values[name] = value
	}
}

// Commit atomically writes a node's output variables.
func (s *VariableStore) Commit(outputs map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for name, value := range outputs {
		s.values[name] = value
	}
}

// Get returns a single variable.
func (s *VariableStore) Get(name string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.values[name]

	return value, ok
}

// Snapshot returns a copy of the committed values. Executors receive
// snapshots, never the store itself.
func (s *VariableStore) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := make(map[string]any, len(s.values))
	for name, value := range s.values {
		snapshot[name] = value
	}

	return snapshot
}

// Len returns the number of stored variables.
func (s *VariableStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.values)
}
