// Package store holds generic in-memory maps whose entries expire.
package store

import (
	"sync"
	"time"
)

// Entry is a stored value and its deadline.
type Entry[V any] struct {
	Value     V
	ExpiresAt time.Time
}

func (e *Entry[V]) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// TTL returns the time left before the entry expires, or zero.
func (e *Entry[V]) TTL() time.Duration {
	if e.ExpiresAt.IsZero() {
		return 0
	}
	return max(time.Until(e.ExpiresAt), 0)
}

// TTLStore is a concurrency-safe map with per-entry expiry. A background
// sweep removes expired entries and reports them to the eviction callback.
// A zero TTL never expires.
type TTLStore[K comparable, V any] struct {
	mu      sync.RWMutex
	items   map[K]*Entry[V]
	onEvict func(key K, value V)

	interval  time.Duration
	stopCh    chan struct{}
	closeOnce sync.Once
}

// NewTTLStore starts a store swept every interval. onEvict may be nil; it is
// only called for entries removed by the sweep, never for Delete.
func NewTTLStore[K comparable, V any](interval time.Duration, onEvict func(key K, value V)) *TTLStore[K, V] {
	s := &TTLStore[K, V]{
		items:    make(map[K]*Entry[V]),
		onEvict:  onEvict,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
	go s.sweepLoop()
	return s
}

// Set stores value for ttl.
func (s *TTLStore[K, V]) Set(key K, value V, ttl time.Duration) {
	var expires time.Time
	if ttl > 0 {
		expires = time.Now().Add(ttl)
	}
	s.mu.Lock()
	s.items[key] = &Entry[V]{Value: value, ExpiresAt: expires}
	s.mu.Unlock()
}

// SetIfAbsent stores value unless a live entry exists. It reports whether
// the value was stored.
func (s *TTLStore[K, V]) SetIfAbsent(key K, value V, ttl time.Duration) bool {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.items[key]; ok && !e.expired(now) {
		return false
	}
	var expires time.Time
	if ttl > 0 {
		expires = now.Add(ttl)
	}
	s.items[key] = &Entry[V]{Value: value, ExpiresAt: expires}
	return true
}

// Get returns the live value for key.
func (s *TTLStore[K, V]) Get(key K) (V, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.items[key]
	if !ok || e.expired(time.Now()) {
		var zero V
		return zero, false
	}
	return e.Value, true
}

// GetEntry returns the live entry for key.
func (s *TTLStore[K, V]) GetEntry(key K) (Entry[V], bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.items[key]
	if !ok || e.expired(time.Now()) {
		return Entry[V]{}, false
	}
	return *e, true
}

// Delete removes key and returns the removed value.
func (s *TTLStore[K, V]) Delete(key K) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	delete(s.items, key)
	return e.Value, true
}

// Len returns the number of live entries.
func (s *TTLStore[K, V]) Len() int {
	now := time.Now()
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, e := range s.items {
		if !e.expired(now) {
			n++
		}
	}
	return n
}

// Values returns the live values in no particular order.
func (s *TTLStore[K, V]) Values() []V {
	now := time.Now()
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]V, 0, len(s.items))
	for _, e := range s.items {
		if !e.expired(now) {
			out = append(out, e.Value)
		}
	}
	return out
}

// ForEach calls fn for live entries until it returns false. fn must not
// modify the store.
func (s *TTLStore[K, V]) ForEach(fn func(key K, value V) bool) {
	now := time.Now()
	s.mu.RLock()
	defer s.mu.RUnlock()

	for k, e := range s.items {
		if e.expired(now) {
			continue
		}
		if !fn(k, e.Value) {
			return
		}
	}
}

// Close stops the sweep. Entries are kept.
func (s *TTLStore[K, V]) Close() {
	s.closeOnce.Do(func() { close(s.stopCh) })
}

func (s *TTLStore[K, V]) sweepLoop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sweep()
		case <-s.stopCh:
			return
		}
	}
}

type evicted[K comparable, V any] struct {
	key   K
	value V
}

// Sweep removes expired entries now. The eviction callback runs after the
// lock is released.
func (s *TTLStore[K, V]) Sweep() {
	now := time.Now()
	var gone []evicted[K, V]

	s.mu.Lock()
	for k, e := range s.items {
		if e.expired(now) {
			gone = append(gone, evicted[K, V]{key: k, value: e.Value})
			delete(s.items, k)
		}
	}
	s.mu.Unlock()

	if s.onEvict == nil {
		return
	}
	for _, g := range gone {
		s.onEvict(g.key, g.value)
	}
}
