// Package cache provides the key-value backends the store persists to.
package cache

import "time"

// Provider is the key-value backend behind the cache store.
// It stores opaque []byte values under string keys with an optional
// time-to-live and an optional set of invalidation tags.
//
// Writes are deferred: Set queues the write and Commit flushes every
// queued write in one batch. Implementations must be thread-safe.
type Provider interface {
	// Get returns the value for the given key, if it exists.
	// It also returns a boolean indicating whether retrieval was
	// successful. If the entry has expired, the boolean should be
	// false. (In this case, the provider should also purge the entry.)
	Get(key string) ([]byte, bool, error)
	// Set queues a write for the given key. A non-positive ttl means
	// the entry never expires. The write is not visible until Commit.
	Set(key string, value []byte, ttl time.Duration, tags []string) error
	// Commit flushes all queued writes.
	Commit() error
	// Delete removes the entry for the given key and reports whether
	// an entry existed.
	Delete(key string) (bool, error)
}

// TagInvalidator is implemented by providers that can invalidate
// entries by tag. The boolean result is false when the backend rejected
// the tags as invalid.
type TagInvalidator interface {
	InvalidateTags(tags []string) (bool, error)
}

// Pruner is implemented by providers that can remove expired entries.
type Pruner interface {
	Prune() error
}

// Clearer is implemented by providers that can drop every entry.
type Clearer interface {
	Clear() error
}
