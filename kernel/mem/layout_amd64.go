package mem

const (
	// PageShift is log2 of the page size.
	PageShift = 12

	// PageSize is the size of a page and of a physical frame.
	PageSize = Size(1 << PageShift)

	// PointerShift is log2 of the size of a pointer (and of a page table
	// entry).
	PointerShift = 3
)

// Kernel virtual address space layout.
const (
	// KernelVirtualOffset is the virtual address where the kernel image
	// is linked; physical = virtual - KernelVirtualOffset for kernel symbols.
	KernelVirtualOffset = uintptr(0xffffffff80000000)

	// PhysMapBase is the start of the window that maps all physical memory
	// 1:1 (physical address p is visible at PhysMapBase + p).
	PhysMapBase = uintptr(0xffff800000000000)

	// KernelHeapBase and KernelHeapTop bound the virtual range reserved
	// for the kernel heap.
	KernelHeapBase = uintptr(0xffffc00000000000)
	KernelHeapTop  = uintptr(0xffffe00000000000)

	// LowMemoryLimit is the end of the physical range reserved for the
	// early (low-memory) frame allocator. Frames below it are used while
	// the kernel page tables are being built.
	LowMemoryLimit = uintptr(16 * Mb)
)
