package runtime

import "sync"

// State is a per-run key/value store. It is safe for concurrent use; by
// convention members of a concurrent batch only read it until they rejoin.
type State struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewState creates an empty store.
func NewState() *State {
	return &State{values: make(map[string]any)}
}

// Set stores value under key.
func (s *State) Set(key string, value any) {
	s.mu.Lock()
	s.values[key] = value
	s.mu.Unlock()
}

// Get returns the value stored under key.
func (s *State) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// Lookup returns the value under key converted to T. A missing key or a
// value of another type yields the zero value and false.
func Lookup[T any](s *State, key string) (T, bool) {
	var zero T
	if s == nil {
		return zero, false
	}
	raw, ok := s.Get(key)
	if !ok {
		return zero, false
	}
	v, ok := raw.(T)
	if !ok {
		return zero, false
	}
	return v, true
}
