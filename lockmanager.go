package cachestore

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/toflar/http-cache-store/lock"
)

// Reserved maintenance lock names. The md/en/bf key prefixes guarantee
// these can never collide with a derived cache or digest key.
const (
	pruneLockName = "prune-lock"
	clearLockName = "cleanup-lock"
)

// lockManager tracks the locks this store instance currently holds on
// top of a lock backend. The backend owns cross-process lock state; the
// manager only guards against the same instance acquiring a name twice
// and remembers what must be released on cleanup.
type lockManager struct {
	locker lock.Locker
	mu     sync.Mutex
	held   map[string]struct{}
}

func newLockManager(locker lock.Locker) *lockManager {
	return &lockManager{locker: locker, held: make(map[string]struct{})}
}

// tryLock attempts to acquire the named lock. It fails fast if this
// instance already holds the name.
func (m *lockManager) tryLock(name string) bool {
	m.mu.Lock()
	if _, ok := m.held[name]; ok {
		m.mu.Unlock()
		return false
	}
	m.mu.Unlock()

	granted, err := m.locker.Acquire(name)
	if err != nil {
		log.Warn().Err(err).Str("lock", name).Msg("Could not acquire lock")
		return false
	}
	if granted {
		m.mu.Lock()
		m.held[name] = struct{}{}
		m.mu.Unlock()
	}
	return granted
}

// unlock releases the named lock. The local record is cleared even when
// the backend release fails (the lock expired or was lost), in which
// case unlock returns false.
func (m *lockManager) unlock(name string) bool {
	m.mu.Lock()
	_, ok := m.held[name]
	delete(m.held, name)
	m.mu.Unlock()
	if !ok {
		return false
	}
	if err := m.locker.Release(name); err != nil {
		log.Debug().Err(err).Str("lock", name).Msg("Lock was already gone at release")
		return false
	}
	return true
}

// isLocked reports whether this instance holds the named lock.
func (m *lockManager) isLocked(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.held[name]
	return ok
}

// releaseAll best-effort releases every held lock and clears the local
// table unconditionally. Called at end-of-request cleanup so locks never
// outlive the scope that took them.
func (m *lockManager) releaseAll() {
	m.mu.Lock()
	names := make([]string, 0, len(m.held))
	for name := range m.held {
		names = append(names, name)
	}
	m.held = make(map[string]struct{})
	m.mu.Unlock()

	for _, name := range names {
		if err := m.locker.Release(name); err != nil {
			log.Debug().Err(err).Str("lock", name).Msg("Lock was already gone at release")
		}
	}
}
