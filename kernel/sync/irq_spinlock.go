package sync

import "github.com/Codetector1374/mini-kern/kernel/cpu"

var (
	// saveAndDisableFn and restoreFn mask and unmask interrupts on the
	// executing core. They are replaced via SetInterruptControl when the
	// code runs in user mode where cli/sti fault.
	saveAndDisableFn = cpu.SaveFlagsAndDisableInterrupts
	restoreFn        = cpu.RestoreFlags
)

// SetInterruptControl overrides the functions used by IRQSpinlock to save the
// interrupt state and disable interrupts (save) and to restore a previously
// saved state (restore). Passing nil for either argument installs the
// default cpu implementation.
func SetInterruptControl(save func() uint64, restore func(uint64)) {
	if save == nil {
		save = cpu.SaveFlagsAndDisableInterrupts
	}
	if restore == nil {
		restore = cpu.RestoreFlags
	}

	saveAndDisableFn, restoreFn = save, restore
}

// IRQSpinlock is a Spinlock that also disables interrupts on the executing
// core for as long as it is held. It must guard any state that interrupt
// handlers may touch; otherwise a handler that tries to acquire the lock on a
// core which already holds it would spin forever.
type IRQSpinlock struct {
	lock Spinlock

	// savedFlags holds the interrupt state of the core that owns the lock.
	savedFlags uint64
}

// Acquire disables interrupts and then spins until the lock is acquired.
func (l *IRQSpinlock) Acquire() {
	flags := saveAndDisableFn()
	l.lock.Acquire()
	l.savedFlags = flags
}

// TryToAcquire attempts to acquire the lock without spinning. If the lock is
// busy, the interrupt state of the core is restored and false is returned.
func (l *IRQSpinlock) TryToAcquire() bool {
	flags := saveAndDisableFn()
	if !l.lock.TryToAcquire() {
		restoreFn(flags)
		return false
	}

	l.savedFlags = flags
	return true
}

// Release relinquishes the lock and restores the interrupt state that was
// active when the lock was acquired.
func (l *IRQSpinlock) Release() {
	flags := l.savedFlags
	l.lock.Release()
	restoreFn(flags)
}
