package cache

import (
	"context"
	"sync"
	"time"

	"aprsrelay/internal/metrics"
)

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// Memory is an in-process Cache. Entries are shared by every worker of the
// process but not across processes.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
	metrics *metrics.Registry
}

// NewMemory creates an empty in-process cache
func NewMemory(registry *metrics.Registry) *Memory {
	return &Memory{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
		metrics: registry,
	}
}

// Get returns the value stored under namespace/key if it has not expired
func (m *Memory) Get(_ context.Context, namespace, key string) (string, bool) {
	k := Key(namespace, key)

	m.mu.Lock()
	entry, ok := m.entries[k]
	if ok && !m.now().Before(entry.expiresAt) {
		delete(m.entries, k)
		ok = false
	}
	m.mu.Unlock()

	if !ok {
		m.metrics.IncrementCounter("cache_misses", nil, "Cache lookups without a live entry")
		return "", false
	}
	m.metrics.IncrementCounter("cache_hits", nil, "Cache lookups answered from the cache")
	return entry.value, true
}

// Put stores value under namespace/key for ttl and reports success
func (m *Memory) Put(_ context.Context, namespace, key, value string, ttl time.Duration) bool {
	if ttl <= 0 {
		return false
	}

	m.mu.Lock()
	m.entries[Key(namespace, key)] = memoryEntry{value: value, expiresAt: m.now().Add(ttl)}
	m.mu.Unlock()

	m.metrics.IncrementCounter("cache_stores", nil, "Cache entries written")
	return true
}

// Len returns the number of stored entries, expired ones included
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
