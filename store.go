// Package cachestore implements a pluggable cache store for an HTTP
// reverse-proxy cache layer: Vary-aware variant storage under
// scheme-independent cache keys, content-addressed body deduplication,
// tag-based invalidation, per-resource locking and write-triggered
// pruning, all on top of interchangeable key-value and lock backends.
package cachestore

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/toflar/http-cache-store/cache"
)

// writeCounterKey stores the number of writes since the last automatic
// prune pass. The name cannot collide with derived keys, which always
// carry an md/en/bf prefix.
const writeCounterKey = "write-operations-counter"

var (
	// ErrNoMaxAge is returned by Write for a response without a
	// max-age. The calling engine must only forward cacheable
	// responses.
	ErrNoMaxAge = errors.New("cachestore: response has no max-age and cannot be stored")

	// ErrTagsUnsupported is returned by InvalidateTags when the
	// configured cache provider has no tag support. This is a
	// deployment mistake and is never silently ignored.
	ErrTagsUnsupported = errors.New("cachestore: cache provider does not support tag invalidation")
)

// Store is the cache store façade consumed by an HTTP cache engine.
// All operations are synchronous; the store runs no background work of
// its own.
type Store struct {
	cache   cache.Provider
	keyer   Keyer
	locks   *lockManager
	content *contentStore

	// capabilities, resolved once at construction
	tags    cache.TagInvalidator
	pruner  cache.Pruner
	clearer cache.Clearer

	tagHeader      string
	pruneThreshold int
}

// New validates the configuration and builds a store.
func New(cfg Config) (*Store, error) {
	provider, locker, err := cfg.build()
	if err != nil {
		return nil, err
	}

	s := &Store{
		cache: provider,
		locks: newLockManager(locker),
		content: &contentStore{
			cache:          provider,
			disableDigests: cfg.DisableDigests,
			gzipLevel:      cfg.GzipLevel,
		},
		tagHeader:      cfg.tagHeader(),
		pruneThreshold: cfg.pruneThreshold(),
	}
	s.tags, _ = provider.(cache.TagInvalidator)
	s.pruner, _ = provider.(cache.Pruner)
	s.clearer, _ = provider.(cache.Clearer)
	return s, nil
}

// Lookup returns the stored response variant matching the request, or
// nil on a miss. Backend and decoding failures degrade to a miss so the
// engine can always fall through to the origin.
func (s *Store) Lookup(r *http.Request) *Response {
	key := s.keyer.CacheKey(r)
	raw, ok, err := s.cache.Get(key)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Could not read from cache")
		return nil
	}
	if !ok {
		return nil
	}
	variants, err := decodeVariants(raw)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Could not decode cache entry")
		return nil
	}

	// A non-varying record is the only record for its key and matches
	// every request.
	if rec, ok := variants[NonVaryingKey]; ok {
		return s.content.Restore(rec, r)
	}
	for varyKey, rec := range variants {
		if s.keyer.VaryKey(rec.Vary, r) == varyKey {
			return s.content.Restore(rec, r)
		}
	}
	return nil
}

// Write stores the response as a variant of the request's cache key and
// returns that key. The response must carry a max-age; its body is
// deduplicated through the content store unless digesting is disabled.
func (s *Store) Write(r *http.Request, res *Response) (string, error) {
	maxAge, ok := res.MaxAge()
	if !ok || maxAge <= 0 {
		return "", ErrNoMaxAge
	}

	digest, err := s.content.EnsureStored(res, maxAge)
	if err != nil {
		return "", err
	}

	key := s.keyer.CacheKey(r)
	variants := make(map[string]*VariantRecord)
	if raw, ok, err := s.cache.Get(key); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Could not read existing entry, replacing")
	} else if ok {
		if existing, err := decodeVariants(raw); err == nil {
			variants = existing
		}
	}

	names := varyNames(res.Header)
	varyKey := s.keyer.VaryKey(names, r)

	headers := cloneHeader(res.Header)
	headers.Del("Age")
	rec := &VariantRecord{
		Vary:    names,
		Headers: headers,
		Status:  res.Status,
		URI:     r.URL.String(),
	}
	if digest == "" && res.File == "" {
		// Digesting disabled: the body travels inline with the record.
		rec.Content = res.Body
	}

	// A non-varying record is mutually exclusive with varying ones.
	if varyKey == NonVaryingKey {
		variants = make(map[string]*VariantRecord)
	} else {
		delete(variants, NonVaryingKey)
	}
	variants[varyKey] = rec

	s.autoPrune()

	raw, err := encodeVariants(variants)
	if err != nil {
		return "", err
	}
	tags := extractTags(res.Header, s.tagHeader)
	if err := s.cache.Set(key, raw, maxAge, tags); err != nil {
		return "", err
	}
	if err := s.cache.Commit(); err != nil {
		return "", err
	}
	log.Trace().Str("key", key).Str("vary", varyKey).Msg("Cache write")
	return key, nil
}

// Invalidate removes the metadata entry for the request's cache key.
// Shared content digest entries are left alone: they may still be
// referenced by other URLs and expire on their own.
func (s *Store) Invalidate(r *http.Request) {
	s.deleteKey(s.keyer.CacheKey(r))
}

// Purge removes the metadata entry for a literal URL and reports
// whether one existed.
func (s *Store) Purge(url string) bool {
	return s.deleteKey(s.keyer.CacheKeyForURL(url))
}

func (s *Store) deleteKey(key string) bool {
	existed, err := s.cache.Delete(key)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Could not delete cache entry")
		return false
	}
	return existed
}

// InvalidateTags removes every entry written with any of the given
// tags. It returns ErrTagsUnsupported when the provider has no tag
// support; tags the backend rejects yield false without an error.
func (s *Store) InvalidateTags(tags []string) (bool, error) {
	if s.tags == nil {
		return false, ErrTagsUnsupported
	}
	ok, err := s.tags.InvalidateTags(tags)
	if err != nil {
		log.Warn().Err(err).Strs("tags", tags).Msg("Could not invalidate tags")
		return false, nil
	}
	return ok, nil
}

// TagHeader returns the header name invalidation tags are read from.
func (s *Store) TagHeader() string {
	return s.tagHeader
}

// Lock acquires the per-resource lock for the request's cache key.
// The lock is advisory: the engine uses it to serialize revalidation of
// one resource across concurrent requests.
func (s *Store) Lock(r *http.Request) bool {
	return s.locks.tryLock(s.keyer.CacheKey(r))
}

// Unlock releases the per-resource lock for the request's cache key.
// It returns false when the lock was not held or was already gone at
// the backend; local bookkeeping is cleared either way.
func (s *Store) Unlock(r *http.Request) bool {
	return s.locks.unlock(s.keyer.CacheKey(r))
}

// IsLocked reports whether this store instance holds the per-resource
// lock for the request's cache key.
func (s *Store) IsLocked(r *http.Request) bool {
	return s.locks.isLocked(s.keyer.CacheKey(r))
}

// Cleanup releases every lock this instance still holds. Call it before
// the request scope that created the locks ends.
func (s *Store) Cleanup() {
	s.locks.releaseAll()
}

// Close releases held locks. It exists so a store can be tied to a
// scope with defer.
func (s *Store) Close() error {
	s.Cleanup()
	return nil
}

// Prune runs a backend prune pass, if the provider supports pruning and
// no other instance is pruning right now. A pass already in flight
// elsewhere is skipped silently.
func (s *Store) Prune() {
	if s.pruner == nil {
		return
	}
	s.withMaintenanceLock(pruneLockName, s.pruner.Prune)
}

// Clear drops the entire cache, with the same locking discipline as
// Prune.
func (s *Store) Clear() {
	if s.clearer == nil {
		return
	}
	s.withMaintenanceLock(clearLockName, s.clearer.Clear)
}

// withMaintenanceLock runs fn under the named maintenance lock and
// skips it silently when another pass holds the lock.
func (s *Store) withMaintenanceLock(name string, fn func() error) {
	if !s.locks.tryLock(name) {
		return
	}
	defer s.locks.unlock(name)
	if err := fn(); err != nil {
		log.Warn().Err(err).Str("lock", name).Msg("Maintenance pass failed")
	}
}

// autoPrune advances the write counter and triggers a prune pass when
// it passes the threshold. The counter write is queued and flushed with
// the rest of the write's batch.
func (s *Store) autoPrune() {
	if s.pruneThreshold == 0 {
		return
	}
	count := 0
	if raw, ok, err := s.cache.Get(writeCounterKey); err == nil && ok {
		count, _ = strconv.Atoi(string(raw))
	}
	if count > s.pruneThreshold {
		s.Prune()
		count = 0
	} else {
		count++
	}
	if err := s.cache.Set(writeCounterKey, []byte(strconv.Itoa(count)), 0, nil); err != nil {
		log.Warn().Err(err).Msg("Could not update write counter")
	}
}
