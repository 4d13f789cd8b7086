package expiring

import (
	"sync"
	"time"
)

// DefaultTTL is used when a container is created without a positive TTL
const DefaultTTL = 5 * time.Second

// EvictFunc is called with the key and value of an entry whose TTL elapsed
type EvictFunc[K comparable, V any] func(key K, value V)

type entry[V any] struct {
	value     V
	ttl       time.Duration
	addedAt   time.Time
	expiresAt time.Time
	timer     *time.Timer
}

// Map is a concurrency-safe map whose entries expire individually
type Map[K comparable, V any] struct {
	mu         sync.Mutex
	entries    map[K]*entry[V]
	defaultTTL time.Duration
	onEvict    EvictFunc[K, V]
}

// NewMap creates a map with the given default TTL. onEvict may be nil.
func NewMap[K comparable, V any](defaultTTL time.Duration, onEvict EvictFunc[K, V]) *Map[K, V] {
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}

	return &Map[K, V]{
		entries:    make(map[K]*entry[V]),
		defaultTTL: defaultTTL,
		onEvict:    onEvict,
	}
}

// DefaultTTL returns the TTL applied when none is given
func (m *Map[K, V]) DefaultTTL() time.Duration {
	return m.defaultTTL
}

// Put stores the entry with the default TTL
func (m *Map[K, V]) Put(key K, value V) (V, bool) {
	return m.PutWithTTL(key, value, m.defaultTTL)
}

// PutWithTTL stores the entry and schedules its eviction. An existing timer for key
// is cancelled first so TTLs never stack. Returns the replaced value, if any.
func (m *Map[K, V]) PutWithTTL(key K, value V, ttl time.Duration) (previous V, replaced bool) {
	if ttl <= 0 {
		ttl = m.defaultTTL
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.entries[key]; ok {
		old.timer.Stop()
		previous, replaced = old.value, true
	}

	m.arm(key, &entry[V]{value: value, ttl: ttl, addedAt: time.Now()})
	return previous, replaced
}

// PutIfAbsent stores the entry only if key is not present. It returns the value now
// stored under key and whether it was already there.
func (m *Map[K, V]) PutIfAbsent(key K, value V, ttl time.Duration) (actual V, loaded bool) {
	if ttl <= 0 {
		ttl = m.defaultTTL
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.entries[key]; ok {
		return existing.value, true
	}

	m.arm(key, &entry[V]{value: value, ttl: ttl, addedAt: time.Now()})
	return value, false
}

// Remove cancels the pending eviction and removes the entry. Removing an absent key
// is a no-op. At most one of Remove and the eviction callback observes a given entry.
func (m *Map[K, V]) Remove(key K) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		var zero V
		return zero, false
	}

	delete(m.entries, key)
	e.timer.Stop()
	return e.value, true
}

// Refresh re-arms the entry's TTL without changing its value
func (m *Map[K, V]) Refresh(key K) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return false
	}

	e.timer.Stop()
	// a new entry makes the old timer stale even if it already fired
	m.arm(key, &entry[V]{value: e.value, ttl: e.ttl, addedAt: e.addedAt})
	return true
}

// Get returns the value for key
func (m *Map[K, V]) Get(key K) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Contains reports whether key is present
func (m *Map[K, V]) Contains(key K) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.entries[key]
	return ok
}

// Len returns the number of live entries
func (m *Map[K, V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Keys returns a snapshot of the live keys
func (m *Map[K, V]) Keys() []K {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]K, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	return keys
}

// AddedAt returns when the entry was inserted
func (m *Map[K, V]) AddedAt(key K) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return time.Time{}, false
	}
	return e.addedAt, true
}

// ExpiresAt returns when the entry is scheduled to expire
func (m *Map[K, V]) ExpiresAt(key K) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return time.Time{}, false
	}
	return e.expiresAt, true
}

// TimeLeft returns the remaining TTL of the entry
func (m *Map[K, V]) TimeLeft(key K) (time.Duration, bool) {
	expiresAt, ok := m.ExpiresAt(key)
	if !ok {
		return 0, false
	}

	left := time.Until(expiresAt)
	if left < 0 {
		left = 0
	}
	return left, true
}

// Drain removes every entry without invoking the eviction callback and returns them
func (m *Map[K, V]) Drain() map[K]V {
	m.mu.Lock()
	defer m.mu.Unlock()

	drained := make(map[K]V, len(m.entries))
	for k, e := range m.entries {
		e.timer.Stop()
		drained[k] = e.value
	}
	m.entries = make(map[K]*entry[V])

	return drained
}

// arm schedules eviction for e and stores it. Caller holds m.mu.
func (m *Map[K, V]) arm(key K, e *entry[V]) {
	e.expiresAt = time.Now().Add(e.ttl)
	e.timer = time.AfterFunc(e.ttl, func() {
		m.expire(key, e)
	})
	m.entries[key] = e
}

func (m *Map[K, V]) expire(key K, e *entry[V]) {
	m.mu.Lock()
	current, ok := m.entries[key]
	if !ok || current != e {
		m.mu.Unlock()
		return
	}
	delete(m.entries, key)
	m.mu.Unlock()

	if m.onEvict != nil {
		m.onEvict(key, e.value)
	}
}
