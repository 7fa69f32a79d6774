// Package cpu exposes the privileged amd64 instructions used by the memory
// subsystem. All functions are implemented in assembly; executing them outside
// ring 0 faults, so kernel packages call them through function variables that
// hosted tests replace.
package cpu

// rflagsIF is the interrupt-enable bit of the RFLAGS register.
const rflagsIF = 1 << 9

// EnableInterrupts enables interrupt handling.
func EnableInterrupts()

// DisableInterrupts disables interrupt handling.
func DisableInterrupts()

// SaveFlagsAndDisableInterrupts returns the current RFLAGS value and then
// disables interrupts on the executing core.
func SaveFlagsAndDisableInterrupts() uint64

// RestoreFlags loads a value previously returned by
// SaveFlagsAndDisableInterrupts back into RFLAGS.
func RestoreFlags(flags uint64)

// InterruptsEnabled reports whether the supplied RFLAGS value has the
// interrupt-enable bit set.
func InterruptsEnabled(flags uint64) bool {
	return flags&rflagsIF != 0
}

// Halt stops instruction execution.
func Halt()

// FlushTLBEntry flushes a TLB entry for a particular virtual address.
func FlushTLBEntry(virtAddr uintptr)

// ActivePDT returns the physical address of the currently active page table.
func ActivePDT() uintptr
