package heap

import (
	"io"

	"github.com/Codetector1374/mini-kern/kernel"
	"github.com/Codetector1374/mini-kern/kernel/mem/pmm"
)

var (
	// kernelHeap serves the kernel's dynamic allocations once Init
	// succeeds.
	kernelHeap  Allocator
	initialized bool

	// ErrHeapNotInitialized is returned by Alloc and Free before Init is
	// called.
	ErrHeapNotInitialized = &kernel.Error{Module: "heap", Message: "kernel heap is not initialized"}

	// ErrHeapAlreadyInitialized is returned by repeated calls to Init.
	ErrHeapAlreadyInitialized = &kernel.Error{Module: "heap", Message: "kernel heap is already initialized"}
)

// Init sets up the kernel heap for the virtual range [start, end). It must be
// called exactly once, before any other CPU runs.
func Init(start, end uintptr, frames pmm.FrameAllocator, mapper PageMapper) *kernel.Error {
	if initialized {
		return ErrHeapAlreadyInitialized
	}

	if err := kernelHeap.init(start, end, frames, mapper); err != nil {
		return err
	}

	initialized = true
	return nil
}

// Alloc allocates size bytes aligned to align from the kernel heap.
func Alloc(size, align uintptr) (uintptr, *kernel.Error) {
	if !initialized {
		return 0, ErrHeapNotInitialized
	}

	return kernelHeap.Alloc(size, align)
}

// Free returns a block obtained by Alloc to the kernel heap.
func Free(ptr, size uintptr) *kernel.Error {
	if !initialized {
		return ErrHeapNotInitialized
	}

	return kernelHeap.Dealloc(ptr, size)
}

// PrintStats writes the kernel heap statistics to w.
func PrintStats(w io.Writer) {
	if !initialized {
		return
	}

	kernelHeap.PrintStats(w)
}
