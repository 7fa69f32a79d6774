// Package sync provides the locks used by kernel code. There is no scheduler
// to park a waiting task on, so every lock busy-waits.
package sync

import "sync/atomic"

// yieldEvery is the number of failed attempts between calls to yieldFn.
const yieldEvery = 64

// yieldFn, when set, lets a spinning task give up the CPU. The kernel leaves
// it nil; hosted tests use runtime.Gosched.
var yieldFn func()

// Spinlock is a test-and-set lock. The zero value is unlocked. Spinlocks are
// not reentrant: acquiring a lock the caller already holds never returns.
type Spinlock struct {
	state uint32
}

// Acquire spins until the lock is taken by the caller.
func (l *Spinlock) Acquire() {
	for !archAcquireSpinlock(&l.state, yieldEvery) {
		if yieldFn != nil {
			yieldFn()
		}
	}
}

// TryToAcquire takes the lock if it is free and reports whether it did.
func (l *Spinlock) TryToAcquire() bool {
	return atomic.SwapUint32(&l.state, 1) == 0
}

// Release frees the lock. Releasing a free lock has no effect.
func (l *Spinlock) Release() {
	atomic.StoreUint32(&l.state, 0)
}
