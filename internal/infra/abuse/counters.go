package abuse

import (
	"sync"
	"time"
)

// ─── Counter Store ──────────────────────────────────────────────────────────

// CounterStore tracks TTL-bounded abuse counters: fingerprint/IP reuse
// indices and subnet-velocity buckets. The scorer only ever talks to this
// interface, so a single-process map and a shared store (the SQLite
// implementation, or something distributed) are interchangeable without
// touching the scoring logic.
type CounterStore interface {
	// Increment bumps the counter and returns the new count. An expired
	// counter restarts at 1 with the fresh expiry.
	Increment(key string, now, expiresAt time.Time) (int64, error)

	// Count returns the current value, treating expired counters as zero.
	Count(key string, now time.Time) (int64, error)

	// Purge removes expired counters and returns how many were dropped.
	Purge(now time.Time) (int, error)
}

// ─── In-Memory Store ────────────────────────────────────────────────────────

// MemoryCounterStore is the single-process CounterStore. Under
// multi-instance deployment its counts are per-process and detection
// accuracy degrades; swap in a shared implementation there.
// Thread-safe via RWMutex.
type MemoryCounterStore struct {
	mu       sync.RWMutex
	counters map[string]memCounter
}

type memCounter struct {
	count     int64
	expiresAt time.Time
}

// NewMemoryCounterStore creates an empty in-memory store.
func NewMemoryCounterStore() *MemoryCounterStore {
	return &MemoryCounterStore{counters: make(map[string]memCounter)}
}

// Increment bumps the counter for key, restarting expired counters at 1.
func (m *MemoryCounterStore) Increment(key string, now, expiresAt time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.counters[key]
	if !ok || !c.expiresAt.After(now) {
		c = memCounter{count: 1, expiresAt: expiresAt}
	} else {
		c.count++
	}
	m.counters[key] = c
	return c.count, nil
}

// Count returns the live value for key, or zero when missing or expired.
func (m *MemoryCounterStore) Count(key string, now time.Time) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.counters[key]
	if !ok || !c.expiresAt.After(now) {
		return 0, nil
	}
	return c.count, nil
}

// Purge drops expired counters, bounding the map's growth.
func (m *MemoryCounterStore) Purge(now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	purged := 0
	for key, c := range m.counters {
		if !c.expiresAt.After(now) {
			delete(m.counters, key)
			purged++
		}
	}
	return purged, nil
}

// Len returns the number of stored counters (live and expired).
func (m *MemoryCounterStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.counters)
}
