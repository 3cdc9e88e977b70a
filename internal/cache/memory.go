package cache

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	fields    map[string][]byte
	expiresAt time.Time
}

// Memory is an in-process Cache for single-instance deployments and tests.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemory returns an empty cache. A non-zero ttl counts from the first view
// stored under a key and is not extended by later views, so no view outlives it.
// A zero ttl keeps entries until deleted.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{entries: make(map[string]*memoryEntry), ttl: ttl, now: time.Now}
}

func (m *Memory) Get(_ context.Context, ns Namespace, userID int64, field string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.entries[Key(ns, userID)]
	if !ok || m.expired(entry) {
		return nil, false, nil
	}
	value, ok := entry.fields[field]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), value...), true, nil
}

func (m *Memory) Set(_ context.Context, ns Namespace, userID int64, field string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := Key(ns, userID)
	entry, ok := m.entries[key]
	if !ok || m.expired(entry) {
		entry = &memoryEntry{fields: make(map[string][]byte)}
		if m.ttl > 0 {
			entry.expiresAt = m.now().Add(m.ttl)
		}
		m.entries[key] = entry
	}
	entry.fields[field] = append([]byte(nil), value...)
	return nil
}

func (m *Memory) Delete(_ context.Context, ns Namespace, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, Key(ns, userID))
	return nil
}

// Len reports the number of live keys.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, entry := range m.entries {
		if !m.expired(entry) {
			n++
		}
	}
	return n
}

func (m *Memory) expired(entry *memoryEntry) bool {
	return !entry.expiresAt.IsZero() && !m.now().Before(entry.expiresAt)
}
