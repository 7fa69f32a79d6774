//go:build !race

package sync

// archAcquireSpinlock makes up to attempts tries to take the lock at state,
// pausing between them, and reports whether the lock was taken.
func archAcquireSpinlock(state *uint32, attempts uint32) bool
