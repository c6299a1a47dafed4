package cache

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// tagSetPrefix namespaces the Redis sets holding tag memberships so
// they cannot collide with entry keys.
const tagSetPrefix = "tags:"

// RedisCache is a Provider backed by a shared Redis instance.
// Queued writes are flushed in one pipeline on Commit and tags are kept
// in Redis sets. It deliberately implements no Prune operation: Redis
// expires keys on its own, so there is nothing to prune.
type RedisCache struct {
	client  *redis.Client
	mu      sync.Mutex
	pending []pendingWrite
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (r *RedisCache) Get(key string) ([]byte, bool, error) {
	value, err := r.client.Get(context.Background(), key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (r *RedisCache) Set(key string, value []byte, ttl time.Duration, tags []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ttl < 0 {
		ttl = 0
	}
	r.pending = append(r.pending, pendingWrite{key, value, ttl, tags})
	return nil
}

func (r *RedisCache) Commit() error {
	r.mu.Lock()
	pending := r.pending
	r.pending = nil
	r.mu.Unlock()
	if len(pending) == 0 {
		return nil
	}

	ctx := context.Background()
	pipe := r.client.Pipeline()
	for _, w := range pending {
		pipe.Set(ctx, w.key, w.value, w.ttl)
		for _, tag := range w.tags {
			pipe.SAdd(ctx, tagSetPrefix+tag, w.key)
		}
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisCache) Delete(key string) (bool, error) {
	removed, err := r.client.Unlink(context.Background(), key).Result()
	if err != nil {
		return false, err
	}
	return removed > 0, nil
}

func (r *RedisCache) InvalidateTags(tags []string) (bool, error) {
	if len(tags) == 0 {
		return false, nil
	}
	ctx := context.Background()
	for _, tag := range tags {
		keys, err := r.client.SMembers(ctx, tagSetPrefix+tag).Result()
		if err != nil {
			return false, err
		}
		pipe := r.client.Pipeline()
		for _, key := range keys {
			pipe.Unlink(ctx, key)
		}
		pipe.Unlink(ctx, tagSetPrefix+tag)
		if _, err := pipe.Exec(ctx); err != nil {
			return false, err
		}
	}
	return true, nil
}

// Clear removes every key in the database the store writes to, in
// SCAN-sized batches.
func (r *RedisCache) Clear() error {
	ctx := context.Background()
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, "*", 1000).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			pipe := r.client.Pipeline()
			for _, key := range keys {
				pipe.Unlink(ctx, key)
			}
			if _, err := pipe.Exec(ctx); err != nil {
				return err
			}
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	return nil
}
