//go:build race || !amd64

package sync

import "sync/atomic"

// archAcquireSpinlock makes up to attempts tries to take the lock at state
// and reports whether the lock was taken. Race builds use it instead of the
// assembly version so the detector observes lock handoffs.
func archAcquireSpinlock(state *uint32, attempts uint32) bool {
	for ; attempts > 0; attempts-- {
		if atomic.LoadUint32(state) == 0 && atomic.CompareAndSwapUint32(state, 0, 1) {
			return true
		}
	}
	return false
}
