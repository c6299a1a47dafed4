package cache

import (
	"sync"
	"time"
)

type memoryEntry struct {
	value   []byte
	expires time.Time
}

type pendingWrite struct {
	key   string
	value []byte
	ttl   time.Duration
	tags  []string
}

// MemoryCache is an in-memory Provider with full tag, prune and clear
// support. It is suitable for tests and single-process deployments.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	// tags maps a tag to the set of keys written with it.
	tags    map[string]map[string]struct{}
	pending []pendingWrite
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		tags:    make(map[string]map[string]struct{}),
	}
}

func (m *MemoryCache) Get(key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !entry.expires.IsZero() && time.Now().After(entry.expires) {
		delete(m.entries, key)
		return nil, false, nil
	}
	return entry.value, true, nil
}

func (m *MemoryCache) Set(key string, value []byte, ttl time.Duration, tags []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, pendingWrite{key, value, ttl, tags})
	return nil
}

func (m *MemoryCache) Commit() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.pending {
		var expires time.Time
		if w.ttl > 0 {
			expires = time.Now().Add(w.ttl)
		}
		m.entries[w.key] = memoryEntry{w.value, expires}
		for _, tag := range w.tags {
			keys, ok := m.tags[tag]
			if !ok {
				keys = make(map[string]struct{})
				m.tags[tag] = keys
			}
			keys[w.key] = struct{}{}
		}
	}
	m.pending = nil
	return nil
}

func (m *MemoryCache) Delete(key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[key]
	delete(m.entries, key)
	return ok, nil
}

func (m *MemoryCache) InvalidateTags(tags []string) (bool, error) {
	if len(tags) == 0 {
		return false, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tag := range tags {
		for key := range m.tags[tag] {
			delete(m.entries, key)
		}
		delete(m.tags, tag)
	}
	return true, nil
}

func (m *MemoryCache) Prune() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for key, entry := range m.entries {
		if !entry.expires.IsZero() && now.After(entry.expires) {
			delete(m.entries, key)
		}
	}
	return nil
}

func (m *MemoryCache) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]memoryEntry)
	m.tags = make(map[string]map[string]struct{})
	m.pending = nil
	return nil
}
