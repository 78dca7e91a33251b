// Package lockfree provides the optimistic concurrency primitives used to
// share columns between goroutines.
package lockfree

import (
	"sync"
	"sync/atomic"
)

// StampedLock is a reader/writer lock with an optimistic read mode.
//
// Optimistic readers take a stamp, do their work without blocking and then
// validate the stamp. A stamp is invalidated by any write lock acquired after
// it was issued. Writers bump an even/odd version around the exclusive
// section, so a stamp is simply the version observed while no writer held the
// lock.
//
// The zero value is not ready for use; call NewStampedLock.
type StampedLock struct {
	version  atomic.Uint64
	_padding [7]uint64 //nolint:unused // keep version on its own cache line

	mu sync.RWMutex
}

// NewStampedLock returns an unlocked StampedLock.
func NewStampedLock() *StampedLock {
	l := &StampedLock{}
	// Stamps must never be 0, which TryOptimisticRead reserves for "invalid".
	l.version.Store(2)
	return l
}

// TryOptimisticRead returns a stamp for a later Validate, or 0 when a writer
// currently holds the lock. It never blocks.
func (l *StampedLock) TryOptimisticRead() uint64 {
	v := l.version.Load()
	if v&1 != 0 {
		return 0
	}
	return v
}

// Validate reports whether no write lock has been acquired since stamp was
// issued. A zero stamp never validates.
func (l *StampedLock) Validate(stamp uint64) bool {
	return stamp != 0 && l.version.Load() == stamp
}

// Lock acquires the exclusive write lock, invalidating outstanding stamps.
func (l *StampedLock) Lock() {
	l.mu.Lock()
	l.version.Add(1)
}

// Unlock releases the write lock.
func (l *StampedLock) Unlock() {
	l.version.Add(1)
	l.mu.Unlock()
}

// RLock acquires a shared read lock. Read locks do not invalidate stamps.
func (l *StampedLock) RLock() {
	l.mu.RLock()
}

// RUnlock releases a shared read lock.
func (l *StampedLock) RUnlock() {
	l.mu.RUnlock()
}

// Version returns the current version. Even values mean unlocked.
func (l *StampedLock) Version() uint64 {
	return l.version.Load()
}
