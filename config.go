package cachestore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/toflar/http-cache-store/cache"
	"github.com/toflar/http-cache-store/lock"
)

const (
	// DefaultPruneThreshold is the number of writes between automatic
	// prune passes when none is configured.
	DefaultPruneThreshold = 500
	// DefaultTagHeader is the response header tags are read from.
	DefaultTagHeader = "Cache-Tags"

	// cacheDBFilename is the database file created inside CacheDir.
	cacheDBFilename = "cache-store.db"
)

// Config configures a Store. Either a cache provider or a cache
// directory must be given; a directory selects the SQLite provider with
// a database file inside it. The lock backend substitutes the same way,
// falling back to lock files in the cache directory.
type Config struct {
	// Cache is the key-value backend. Leave nil to use CacheDir.
	Cache cache.Provider
	// CacheDir is where the default SQLite backend keeps its database.
	CacheDir string

	// Locker is the lock backend. Leave nil to use LockDir.
	Locker lock.Locker
	// LockDir is where the default file locker keeps its lock files.
	// Defaults to CacheDir.
	LockDir string

	// PruneThreshold is the number of writes between automatic prune
	// passes. Non-positive values select DefaultPruneThreshold.
	PruneThreshold int

	// DisableAutoPrune turns off write-triggered pruning and the write
	// counter entirely. Explicit Prune calls still work.
	DisableAutoPrune bool

	// TagHeader is the response header holding invalidation tags.
	// Defaults to DefaultTagHeader.
	TagHeader string

	// DisableDigests turns off content-addressed body storage; bodies
	// are then stored inline with each variant.
	DisableDigests bool

	// GzipLevel is the compression level (1-9) applied to stored
	// bodies. Zero disables compression.
	GzipLevel int
}

var (
	errNoCache  = errors.New("cachestore: a cache provider or cache directory is required")
	errNoLocker = errors.New("cachestore: a lock backend or lock directory is required")
)

// build validates the configuration and constructs the missing backends.
func (c Config) build() (cache.Provider, lock.Locker, error) {
	if c.GzipLevel < 0 || c.GzipLevel > 9 {
		return nil, nil, fmt.Errorf("cachestore: gzip level %d out of range 0-9", c.GzipLevel)
	}

	provider := c.Cache
	if provider == nil {
		if c.CacheDir == "" {
			return nil, nil, errNoCache
		}
		if err := os.MkdirAll(c.CacheDir, 0o700); err != nil {
			return nil, nil, fmt.Errorf("creating cache directory: %w", err)
		}
		sqlite, err := cache.NewSQLiteCache(filepath.Join(c.CacheDir, cacheDBFilename))
		if err != nil {
			return nil, nil, err
		}
		provider = sqlite
	}

	locker := c.Locker
	if locker == nil {
		lockDir := c.LockDir
		if lockDir == "" {
			lockDir = c.CacheDir
		}
		if lockDir == "" {
			return nil, nil, errNoLocker
		}
		fileLocker, err := lock.NewFileLocker(lockDir)
		if err != nil {
			return nil, nil, err
		}
		locker = fileLocker
	}

	return provider, locker, nil
}

func (c Config) pruneThreshold() int {
	if c.DisableAutoPrune {
		return 0
	}
	if c.PruneThreshold <= 0 {
		return DefaultPruneThreshold
	}
	return c.PruneThreshold
}

func (c Config) tagHeader() string {
	if c.TagHeader == "" {
		return DefaultTagHeader
	}
	return c.TagHeader
}
