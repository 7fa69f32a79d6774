package kmain

import (
	"github.com/Codetector1374/mini-kern/kernel"
	"github.com/Codetector1374/mini-kern/kernel/cpu"
	"github.com/Codetector1374/mini-kern/kernel/hal/multiboot"
	"github.com/Codetector1374/mini-kern/kernel/kfmt"
	"github.com/Codetector1374/mini-kern/kernel/mem"
	"github.com/Codetector1374/mini-kern/kernel/mem/heap"
	"github.com/Codetector1374/mini-kern/kernel/mem/pmm"
	"github.com/Codetector1374/mini-kern/kernel/mem/pmm/allocator"
	"github.com/Codetector1374/mini-kern/kernel/mem/vmm"
)

// heapLimitArg is the boot command line argument that caps the size of the
// kernel heap, e.g. kheap.limit=64M.
const heapLimitArg = "kheap.limit"

var (
	errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}
	errNoHeapMemory  = &kernel.Error{Module: "kmain", Message: "no physical memory available for the kernel heap"}

	// The following functions are mocked by tests.
	allocatorInitFn = allocator.Init
	activePDTFn     = cpu.ActivePDT
	heapInitFn      = heap.Init
	visitCmdLineFn  = multiboot.VisitBootCmdLine
	panicFn         = kfmt.Panic

	// kernelPDT is the page table the kernel heap maps its pages through.
	kernelPDT vmm.PageTable

	// cmdHeapLimit receives the heapLimitArg value while the command line
	// is scanned.
	cmdHeapLimit mem.Size
)

// Kmain is the only Go symbol that is visible (exported) from the rt0 initialization
// code. This function is invoked by the rt0 assembly code after setting up the GDT
// and setting up a a minimal g0 struct that allows Go code using the 4K stack
// allocated by the assembly code.
//
// The rt0 code passes the address of the multiboot info payload provided by the
// bootloader as well as the physical addresses for the kernel start/end.
//
// Kmain is not expected to return. If it does, the rt0 code will halt the CPU.
//
//go:noinline
func Kmain(multibootInfoPtr, kernelStart, kernelEnd uintptr) {
	multiboot.SetInfoPtr(multibootInfoPtr)

	var err *kernel.Error
	if err = allocatorInitFn(kernelStart, kernelEnd); err != nil {
		panicFn(err)
		return
	}

	// Page tables come from low memory which the boot page tables keep
	// mapped in the physmap.
	kernelPDT.Init(
		pmm.FrameFromAddress(activePDTFn()),
		&allocator.EarlyAllocator,
		physToVirt,
	)

	start, end, err := heapWindow(allocator.FrameAllocator.FreeSpace(), heapLimit())
	if err != nil {
		panicFn(err)
		return
	}

	if err = heapInitFn(start, end, &allocator.FrameAllocator, &kernelPDT); err != nil {
		panicFn(err)
		return
	}
	kfmt.Printf("[kmain] kernel heap: 0x%16x - 0x%16x\n", start, end)

	panicFn(errKmainReturned)
}

// physToVirt returns the physmap address for a physical address.
func physToVirt(physAddr uintptr) uintptr {
	return physAddr + mem.PhysMapBase
}

// heapWindow returns the virtual range reserved for the kernel heap. The
// range starts at mem.KernelHeapBase and spans as much memory as the frame
// allocator can back, up to limit bytes (if non-zero) and mem.KernelHeapTop.
func heapWindow(free, limit mem.Size) (uintptr, uintptr, *kernel.Error) {
	size := uintptr(free)
	if limit != 0 && uintptr(limit) < size {
		size = uintptr(limit)
	}

	if maxSize := mem.KernelHeapTop - mem.KernelHeapBase; size > maxSize {
		size = maxSize
	}

	size = mem.AlignDown(size, uintptr(mem.PageSize))
	if size == 0 {
		return 0, 0, errNoHeapMemory
	}

	return mem.KernelHeapBase, mem.KernelHeapBase + size, nil
}

// heapLimit returns the heap size cap requested on the boot command line or
// 0 if none was requested.
func heapLimit() mem.Size {
	cmdHeapLimit = 0
	visitCmdLineFn(visitHeapLimitArg)
	return cmdHeapLimit
}

func visitHeapLimitArg(key, value []byte) bool {
	if string(key) != heapLimitArg {
		return true
	}

	size, ok := mem.ParseSize(value)
	if !ok {
		kfmt.Printf("[kmain] ignoring invalid %s value: %s\n", heapLimitArg, value)
		return false
	}

	cmdHeapLimit = size
	return false
}
