package kfmt

import (
	"bytes"
	"errors"
	"testing"

	"github.com/Codetector1374/mini-kern/kernel"
	"github.com/Codetector1374/mini-kern/kernel/cpu"
	"github.com/stretchr/testify/require"
)

func TestPanic(t *testing.T) {
	defer func() {
		cpuHaltFn = cpu.Halt
		disableInterruptsFn = cpu.DisableInterrupts
		SetOutputSink(nil)
	}()

	var cpuHaltCalled, interruptsDisabled bool
	cpuHaltFn = func() {
		require.True(t, interruptsDisabled, "expected interrupts to be disabled before halting")
		cpuHaltCalled = true
	}
	disableInterruptsFn = func() {
		interruptsDisabled = true
	}

	specs := []struct {
		desc string
		arg  interface{}
		exp  string
	}{
		{
			"with *kernel.Error",
			&kernel.Error{Module: "heap", Message: "alignment gap is not bin sized"},
			"\n-----------------------------------\n[heap] unrecoverable error: alignment gap is not bin sized\n*** kernel panic: system halted ***\n-----------------------------------\n",
		},
		{
			"with error",
			errors.New("go error"),
			"\n-----------------------------------\n[rt] unrecoverable error: go error\n*** kernel panic: system halted ***\n-----------------------------------\n",
		},
		{
			"with string",
			"string error",
			"\n-----------------------------------\n[rt] unrecoverable error: string error\n*** kernel panic: system halted ***\n-----------------------------------\n",
		},
		{
			"with unsupported value",
			42,
			"\n-----------------------------------\n[rt] unrecoverable error: unknown cause\n*** kernel panic: system halted ***\n-----------------------------------\n",
		},
		{
			"with nil *kernel.Error",
			(*kernel.Error)(nil),
			"\n-----------------------------------\n*** kernel panic: system halted ***\n-----------------------------------\n",
		},
		{
			"without error",
			nil,
			"\n-----------------------------------\n*** kernel panic: system halted ***\n-----------------------------------\n",
		},
	}

	for _, spec := range specs {
		t.Run(spec.desc, func(t *testing.T) {
			var buf bytes.Buffer
			SetOutputSink(&buf)
			cpuHaltCalled, interruptsDisabled = false, false

			Panic(spec.arg)

			require.Equal(t, spec.exp, buf.String())
			require.True(t, cpuHaltCalled, "expected cpu.Halt() to be called by Panic")
		})
	}
}
