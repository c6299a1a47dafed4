package cache

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// SQLiteCache is a Provider backed by a local SQLite database.
// It supports tags, pruning and clearing, and flushes queued writes in
// a single transaction on Commit.
type SQLiteCache struct {
	db      *sql.DB
	mu      sync.Mutex
	pending []pendingWrite
}

// NewSQLiteCache opens (or creates) the database at the given path.
// Use "file::memory:?cache=shared" for an in-memory database.
func NewSQLiteCache(filename string) (*SQLiteCache, error) {
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return nil, err
	}
	stmts := []string{
		"CREATE TABLE IF NOT EXISTS cache (key TEXT PRIMARY KEY, expires INTEGER, value BLOB)",
		"CREATE INDEX IF NOT EXISTS expires_idx ON cache (expires)",
		"CREATE TABLE IF NOT EXISTS cache_tags (tag TEXT NOT NULL, key TEXT NOT NULL, PRIMARY KEY (tag, key))",
		"PRAGMA journal_mode=WAL",
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("initializing cache db: %w", err)
		}
	}
	return &SQLiteCache{db: db}, nil
}

func (s *SQLiteCache) Get(key string) ([]byte, bool, error) {
	var expires int64
	var value []byte
	err := s.db.QueryRow("SELECT expires, value FROM cache WHERE key = ?", key).Scan(&expires, &value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if expires > 0 && time.Now().Unix() > expires {
		s.db.Exec("DELETE FROM cache WHERE key = ?", key)
		return nil, false, nil
	}
	return value, true, nil
}

func (s *SQLiteCache) Set(key string, value []byte, ttl time.Duration, tags []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, pendingWrite{key, value, ttl, tags})
	return nil
}

func (s *SQLiteCache) Commit() error {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()
	if len(pending) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, w := range pending {
		var expires int64
		if w.ttl > 0 {
			expires = time.Now().Add(w.ttl).Unix()
		}
		if _, err := tx.Exec("INSERT OR REPLACE INTO cache (key, expires, value) VALUES (?, ?, ?)",
			w.key, expires, w.value); err != nil {
			return err
		}
		if _, err := tx.Exec("DELETE FROM cache_tags WHERE key = ?", w.key); err != nil {
			return err
		}
		for _, tag := range w.tags {
			if _, err := tx.Exec("INSERT OR IGNORE INTO cache_tags (tag, key) VALUES (?, ?)",
				tag, w.key); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

func (s *SQLiteCache) Delete(key string) (bool, error) {
	result, err := s.db.Exec("DELETE FROM cache WHERE key = ?", key)
	if err != nil {
		return false, err
	}
	s.db.Exec("DELETE FROM cache_tags WHERE key = ?", key)
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (s *SQLiteCache) InvalidateTags(tags []string) (bool, error) {
	if len(tags) == 0 {
		return false, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(tags)), ",")
	args := make([]any, len(tags))
	for i, tag := range tags {
		args[i] = tag
	}
	if _, err := s.db.Exec(
		"DELETE FROM cache WHERE key IN (SELECT key FROM cache_tags WHERE tag IN ("+placeholders+"))",
		args...); err != nil {
		return false, err
	}
	if _, err := s.db.Exec("DELETE FROM cache_tags WHERE tag IN ("+placeholders+")", args...); err != nil {
		return false, err
	}
	return true, nil
}

func (s *SQLiteCache) Prune() error {
	if _, err := s.db.Exec("DELETE FROM cache WHERE expires > 0 AND expires <= ?", time.Now().Unix()); err != nil {
		return err
	}
	_, err := s.db.Exec("DELETE FROM cache_tags WHERE key NOT IN (SELECT key FROM cache)")
	return err
}

func (s *SQLiteCache) Clear() error {
	if _, err := s.db.Exec("DELETE FROM cache"); err != nil {
		return err
	}
	_, err := s.db.Exec("DELETE FROM cache_tags")
	return err
}

// Close closes the underlying database.
func (s *SQLiteCache) Close() error {
	return s.db.Close()
}
