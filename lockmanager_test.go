package cachestore

import (
	"errors"
	"testing"

	"github.com/toflar/http-cache-store/lock"
)

// failingLocker grants every acquire but fails every release, emulating
// a backend whose locks expired underneath us.
type failingLocker struct{}

func (failingLocker) Acquire(name string) (bool, error) { return true, nil }
func (failingLocker) Release(name string) error         { return errors.New("lock expired") }

func TestTryLockIsExclusivePerName(t *testing.T) {
	m := newLockManager(lock.NewMemoryLocker())

	if !m.tryLock("a") {
		t.Fatal("First tryLock failed")
	}
	if m.tryLock("a") {
		t.Fatal("Second tryLock on held name succeeded")
	}
	if !m.tryLock("b") {
		t.Fatal("tryLock on a different name failed")
	}
}

func TestUnlockCycle(t *testing.T) {
	m := newLockManager(lock.NewMemoryLocker())

	if m.unlock("a") {
		t.Fatal("Unlock of never-held lock reported success")
	}
	m.tryLock("a")
	if !m.isLocked("a") {
		t.Fatal("isLocked false for held lock")
	}
	if !m.unlock("a") {
		t.Fatal("Unlock of held lock failed")
	}
	if m.isLocked("a") {
		t.Fatal("isLocked true after unlock")
	}
	if !m.tryLock("a") {
		t.Fatal("Re-lock after unlock failed")
	}
}

func TestUnlockClearsBookkeepingOnReleaseFailure(t *testing.T) {
	m := newLockManager(failingLocker{})

	m.tryLock("a")
	if m.unlock("a") {
		t.Fatal("Failed release reported as clean unlock")
	}
	if m.isLocked("a") {
		t.Fatal("Lock still tracked after failed release")
	}
	if !m.tryLock("a") {
		t.Fatal("Could not re-acquire after failed release")
	}
}

func TestReleaseAll(t *testing.T) {
	backend := lock.NewMemoryLocker()
	m := newLockManager(backend)

	m.tryLock("a")
	m.tryLock("b")
	m.releaseAll()

	if m.isLocked("a") || m.isLocked("b") {
		t.Fatal("Locks still tracked after releaseAll")
	}
	if ok, _ := backend.Acquire("a"); !ok {
		t.Fatal("Backend still holds lock a after releaseAll")
	}
}

func TestReleaseAllSwallowsFailures(t *testing.T) {
	m := newLockManager(failingLocker{})
	m.tryLock("a")
	m.tryLock("b")
	m.releaseAll()
	if m.isLocked("a") || m.isLocked("b") {
		t.Fatal("Locks still tracked after releaseAll with failing backend")
	}
}
