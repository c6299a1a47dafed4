package lock

import "sync"

// MemoryLocker is a process-local Locker for tests and single-instance
// deployments.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]struct{})}
}

func (m *MemoryLocker) Acquire(name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.held[name]; ok {
		return false, nil
	}
	m.held[name] = struct{}{}
	return true, nil
}

func (m *MemoryLocker) Release(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.held[name]; !ok {
		return ErrNotHeld
	}
	delete(m.held, name)
	return nil
}
