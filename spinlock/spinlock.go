// Package spinlock implements the short-held, non-sleeping lock the buffer
// cache uses for bucket chains and the eviction lock. No corpus dependency
// supplies a dedicated spin-lock primitive distinct from sync.Mutex (see
// DESIGN.md); this is built directly on sync/atomic, following the
// compare-and-swap retry loops used for lock-free structures elsewhere in
// the pack.
//
// A Lock must never be held across anything that can block the calling
// goroutine: channel receives, mutex acquisition, or a sleeplock.Lock.
package spinlock

import (
	"runtime"
	"sync/atomic"
)

// Lock is a busy-wait mutual exclusion primitive. The zero value is an
// unlocked Lock, ready to use.
type Lock struct {
	held atomic.Bool
}

// Acquire blocks the calling goroutine, spinning, until the lock is held.
func (l *Lock) Acquire() {
	for !l.held.CompareAndSwap(false, true) {
		runtime.Gosched()
	}
}

// Release unlocks a previously acquired Lock.
func (l *Lock) Release() {
	l.held.Store(false)
}

// TryAcquire attempts to acquire the lock without spinning, reporting
// whether it succeeded.
func (l *Lock) TryAcquire() bool {
	return l.held.CompareAndSwap(false, true)
}
