// Package filelock provides exclusive write locks on cache paths.
//
// A lock is held both in-process, so goroutines of one driver queue up
// without touching the filesystem, and across processes through an advisory
// lock file next to the guarded path ("<path>.lock").
package filelock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/juju/fslock"
)

// Suffix is appended to a guarded path to name its lock file
const Suffix = ".lock"

// ErrTimeout is returned when a lock could not be acquired in time
var ErrTimeout = errors.New("timed out waiting for lock")

// Locker hands out exclusive locks keyed by absolute path.
type Locker struct {
	timeout time.Duration

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

// New creates a Locker. A zero timeout waits forever.
func New(timeout time.Duration) *Locker {
	return &Locker{
		timeout: timeout,
		locks:   make(map[string]*entryLock),
	}
}

// Lock acquires the write lock for path and returns the function releasing
// it. The parent directory is created when missing.
func (l *Locker) Lock(path string) (func() error, error) {
	key, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	if err := os.MkdirAll(filepath.Dir(key), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory for %s: %w", key, err)
	}

	unlockLocal, err := l.lockLocal(key)
	if err != nil {
		return nil, err
	}

	lck := fslock.New(key + Suffix)
	if l.timeout > 0 {
		err = lck.LockWithTimeout(l.timeout)
	} else {
		err = lck.Lock()
	}
	if err != nil {
		unlockLocal()
		if errors.Is(err, fslock.ErrTimeout) {
			return nil, fmt.Errorf("lock %s: %w", key, ErrTimeout)
		}
		return nil, fmt.Errorf("failed to lock %s: %w", key, err)
	}

	return func() error {
		defer unlockLocal()
		if err := lck.Unlock(); err != nil {
			return fmt.Errorf("failed to unlock %s: %w", key, err)
		}
		return nil
	}, nil
}

// With runs fn while holding the lock for path
func (l *Locker) With(path string, fn func() error) (err error) {
	unlock, err := l.Lock(path)
	if err != nil {
		return err
	}
	defer func() {
		if uerr := unlock(); uerr != nil && err == nil {
			err = uerr
		}
	}()
	return fn()
}

// lockLocal serializes goroutines of this process. The in-process wait
// honours the timeout too, so a stuck holder cannot block callers forever.
func (l *Locker) lockLocal(key string) (func(), error) {
	l.mu.Lock()
	lock := l.locks[key]
	if lock == nil {
		lock = &entryLock{}
		l.locks[key] = lock
	}
	lock.refs++
	l.mu.Unlock()

	release := func() {
		l.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}

	if l.timeout <= 0 {
		lock.mu.Lock()
	} else if !tryLockFor(&lock.mu, l.timeout) {
		release()
		return nil, fmt.Errorf("lock %s: %w", key, ErrTimeout)
	}

	return func() {
		lock.mu.Unlock()
		release()
	}, nil
}

// tryLockFor polls mu until it is acquired or d elapses.
func tryLockFor(mu *sync.Mutex, d time.Duration) bool {
	deadline := time.Now().Add(d)
	backoff := time.Millisecond
	for {
		if mu.TryLock() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(backoff)
		if backoff < 20*time.Millisecond {
			backoff *= 2
		}
	}
}

// IsLockFile reports whether path names a lock file created by a Locker
func IsLockFile(path string) bool {
	return filepath.Ext(path) == Suffix
}
