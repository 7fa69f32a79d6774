// Package pmm defines physical frames and the interface of the allocators
// that hand them out.
package pmm

import (
	"github.com/Codetector1374/mini-kern/kernel"
	"github.com/Codetector1374/mini-kern/kernel/mem"
)

// Frame is the index of a page-sized block of physical memory.
type Frame uintptr

// InvalidFrame is returned together with an error when no frame could be
// allocated.
const InvalidFrame = ^Frame(0)

// Valid reports whether f refers to a real frame.
func (f Frame) Valid() bool {
	return f != InvalidFrame
}

// Address returns the physical address of the first byte in f.
func (f Frame) Address() uintptr {
	return uintptr(f) << mem.PageShift
}

// FrameFromAddress returns the frame containing physAddr.
func FrameFromAddress(physAddr uintptr) Frame {
	return Frame(physAddr >> mem.PageShift)
}

// FrameAllocator is implemented by types that hand out physical frames.
// A frame returned by AllocFrame belongs to the caller for good.
type FrameAllocator interface {
	AllocFrame() (Frame, *kernel.Error)
}

// FrameAllocatorFn lets a plain function serve as a FrameAllocator.
type FrameAllocatorFn func() (Frame, *kernel.Error)

// AllocFrame implements FrameAllocator.
func (fn FrameAllocatorFn) AllocFrame() (Frame, *kernel.Error) {
	return fn()
}
