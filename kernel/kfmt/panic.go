package kfmt

import (
	"github.com/Codetector1374/mini-kern/kernel"
	"github.com/Codetector1374/mini-kern/kernel/cpu"
)

// The privileged instructions fault in user mode so tests replace them.
var (
	disableInterruptsFn = cpu.DisableInterrupts
	cpuHaltFn           = cpu.Halt
)

const panicRule = "\n-----------------------------------\n"

// Panic masks interrupts on the executing core, reports e to the active
// output sink and halts the CPU. The value may be a *kernel.Error, an error,
// a string or nil; errors that do not originate from a kernel module are
// reported against the "rt" module. Calls to Panic never return.
//
// In the kernel image calls to panic() are redirected here.
//
//go:redirect-from runtime.gopanic
func Panic(e interface{}) {
	disableInterruptsFn()

	module, msg, ok := panicCause(e)

	Printf(panicRule)
	if ok {
		Printf("[%s] unrecoverable error: %s\n", module, msg)
	}
	Printf("*** kernel panic: system halted ***")
	Printf(panicRule)

	cpuHaltFn()
}

func panicCause(e interface{}) (module, msg string, ok bool) {
	switch t := e.(type) {
	case nil:
		return "", "", false
	case *kernel.Error:
		if t == nil {
			return "", "", false
		}
		return t.Module, t.Message, true
	case error:
		return "rt", t.Error(), true
	case string:
		return "rt", t, true
	default:
		return "rt", "unknown cause", true
	}
}
