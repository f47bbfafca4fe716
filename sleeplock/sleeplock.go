// Package sleeplock implements the long-held lock guarding a buffer's
// content bytes. Unlike spinlock.Lock, a Lock may legitimately block its
// holder for the duration of a disk read or write, so it is built directly
// on sync.Mutex, which already parks the waiting goroutine instead of
// spinning.
package sleeplock

import (
	"sync"
	"sync/atomic"
)

// Lock is a blocking mutual exclusion primitive that additionally tracks
// whether it is currently held, so callers can enforce "must be holding
// this lock" preconditions (bufcache.Write, bufcache.Release) the way the
// original design's holdingsleep check does.
type Lock struct {
	mu     sync.Mutex
	locked atomic.Bool
}

// Acquire blocks until the lock is held.
func (l *Lock) Acquire() {
	l.mu.Lock()
	l.locked.Store(true)
}

// Release unlocks a previously acquired Lock.
func (l *Lock) Release() {
	l.locked.Store(false)
	l.mu.Unlock()
}

// Held reports whether the lock is currently held by some caller. It does
// not distinguish which goroutine holds it: a buffer's content lock only
// ever has one live holder by construction of Cache.Get, so "is it locked
// at all" is exactly the precondition Write and Release need to check.
func (l *Lock) Held() bool {
	return l.locked.Load()
}
