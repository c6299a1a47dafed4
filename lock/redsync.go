package lock

import (
	"errors"
	"sync"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

// RedsyncLocker implements Locker with Redlock mutexes over Redis,
// coordinating lock ownership across every instance sharing the same
// Redis. Acquisition never blocks: a taken lock is reported as not
// granted.
type RedsyncLocker struct {
	rs *redsync.Redsync
	mu sync.Mutex
	// mutexes holds the redsync mutex for every lock this instance
	// currently has acquired, keyed by lock name.
	mutexes map[string]*redsync.Mutex
}

func NewRedsyncLocker(client *redis.Client) *RedsyncLocker {
	return &RedsyncLocker{
		rs:      redsync.New(goredis.NewPool(client)),
		mutexes: make(map[string]*redsync.Mutex),
	}
}

func (l *RedsyncLocker) Acquire(name string) (bool, error) {
	mutex := l.rs.NewMutex(name, redsync.WithTries(1))
	if err := mutex.TryLock(); err != nil {
		var taken *redsync.ErrTaken
		if errors.As(err, &taken) || errors.Is(err, redsync.ErrFailed) {
			return false, nil
		}
		return false, err
	}
	l.mu.Lock()
	l.mutexes[name] = mutex
	l.mu.Unlock()
	return true, nil
}

func (l *RedsyncLocker) Release(name string) error {
	l.mu.Lock()
	mutex, ok := l.mutexes[name]
	delete(l.mutexes, name)
	l.mu.Unlock()
	if !ok {
		return ErrNotHeld
	}
	released, err := mutex.Unlock()
	if err != nil {
		return err
	}
	if !released {
		return ErrNotHeld
	}
	return nil
}
