package expiring

import "time"

// Set is an expiring set of keys with a fixed window and no eviction callback
type Set[K comparable] struct {
	m *Map[K, struct{}]
}

// NewSet creates a set whose entries live for window
func NewSet[K comparable](window time.Duration) *Set[K] {
	return &Set[K]{m: NewMap[K, struct{}](window, nil)}
}

// Window returns the TTL applied to every entry
func (s *Set[K]) Window() time.Duration {
	return s.m.DefaultTTL()
}

// Add inserts key or re-arms it if present. Returns true if key was not present.
func (s *Set[K]) Add(key K) bool {
	_, replaced := s.m.Put(key, struct{}{})
	return !replaced
}

// AddIfAbsent inserts key only if it is not present. Returns true if it was inserted.
// The check and the insert happen atomically.
func (s *Set[K]) AddIfAbsent(key K) bool {
	_, loaded := s.m.PutIfAbsent(key, struct{}{}, 0)
	return !loaded
}

// Touch re-arms the window of an existing key
func (s *Set[K]) Touch(key K) bool {
	return s.m.Refresh(key)
}

// Remove deletes key
func (s *Set[K]) Remove(key K) bool {
	_, ok := s.m.Remove(key)
	return ok
}

// Contains reports whether key is present
func (s *Set[K]) Contains(key K) bool {
	return s.m.Contains(key)
}

// Len returns the number of live keys
func (s *Set[K]) Len() int {
	return s.m.Len()
}

// AddedAt returns when key was inserted
func (s *Set[K]) AddedAt(key K) (time.Time, bool) {
	return s.m.AddedAt(key)
}

// TimeLeft returns how long key has left
func (s *Set[K]) TimeLeft(key K) (time.Duration, bool) {
	return s.m.TimeLeft(key)
}

// Clear removes every key
func (s *Set[K]) Clear() {
	s.m.Drain()
}
