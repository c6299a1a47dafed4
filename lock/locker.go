// Package lock provides the distributed lock backends used by the
// cache store for per-resource and maintenance locks.
package lock

import "errors"

// ErrNotHeld is returned by Release when the backend has no record of
// the lock, typically because it expired or was lost.
var ErrNotHeld = errors.New("lock: not held")

// Locker acquires and releases named locks.
// Acquire reports whether the lock was granted; a refusal is not an
// error. Implementations must be thread-safe.
type Locker interface {
	Acquire(name string) (bool, error)
	Release(name string) error
}
