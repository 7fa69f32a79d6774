package allocator

import (
	"github.com/Codetector1374/mini-kern/kernel"
	"github.com/Codetector1374/mini-kern/kernel/hal/multiboot"
	"github.com/Codetector1374/mini-kern/kernel/kfmt"
	"github.com/Codetector1374/mini-kern/kernel/mem"
)

var (
	// EarlyAllocator serves frames from the low memory region that sits
	// between the end of the kernel image and mem.LowMemoryLimit. It is used
	// while paging is still being set up.
	EarlyAllocator SegmentAllocator

	// FrameAllocator serves frames from all available memory above
	// mem.LowMemoryLimit. The kernel heap draws its frames from here.
	FrameAllocator SegmentAllocator

	errKernelOutsideLowMemory = &kernel.Error{Module: "pmm", Message: "kernel image extends past the low memory limit"}

	visitMemRegionsFn = multiboot.VisitMemRegions
)

// Memory map scan state. Init runs once on the boot CPU before the Go heap
// is usable so the visitors below keep their state here instead of
// capturing it.
var (
	scanKernelEnd uintptr
	scanErr       *kernel.Error
	scanFreeMem   mem.Size
)

// Init populates EarlyAllocator and FrameAllocator from the memory map
// reported by the bootloader. The kernel image occupies the physical range
// [kernelStart, kernelEnd) and is excluded from both allocators.
func Init(kernelStart, kernelEnd uintptr) *kernel.Error {
	if kernelEnd > mem.LowMemoryLimit {
		return errKernelOutsideLowMemory
	}

	printMemoryMap(kernelStart, kernelEnd)

	scanKernelEnd, scanErr = kernelEnd, nil
	visitMemRegionsFn(addAvailableRegion)
	if scanErr != nil {
		return scanErr
	}

	EarlyAllocator.PrintSegments(nil, "early")
	FrameAllocator.PrintSegments(nil, "frame")
	return nil
}

// addAvailableRegion hands the available part of region to EarlyAllocator
// and FrameAllocator.
func addAvailableRegion(region *multiboot.MemoryMapEntry) bool {
	if region.Type != multiboot.MemAvailable || region.Length == 0 {
		return true
	}

	lowLimit := mem.LowMemoryLimit
	start := uintptr(region.PhysAddress)
	end := start + uintptr(region.Length)
	if end < start {
		// Region wraps around the address space
		end = ^uintptr(0)
	}

	// Low memory above the kernel image goes to the early allocator.
	if lowStart, lowEnd := max(start, scanKernelEnd), min(end, lowLimit); lowStart < lowEnd {
		if scanErr = EarlyAllocator.AddSegment(lowStart, lowEnd-lowStart); scanErr != nil {
			return false
		}
	}

	// Anything above the limit goes to the general allocator.
	if highStart := max(start, lowLimit); highStart < end {
		if scanErr = FrameAllocator.AddSegment(highStart, end-highStart); scanErr != nil {
			return false
		}
	}

	return true
}

// printMemoryMap prints the system memory map reported by the bootloader and
// the location of the kernel image.
func printMemoryMap(kernelStart, kernelEnd uintptr) {
	kfmt.Printf("[pmm] system memory map:\n")
	scanFreeMem = 0
	visitMemRegionsFn(printRegion)
	kfmt.Printf("[pmm] available memory: %dKb\n", uint64(scanFreeMem/mem.Kb))
	kfmt.Printf("[pmm] kernel loaded at 0x%x - 0x%x\n", kernelStart, kernelEnd)
}

func printRegion(region *multiboot.MemoryMapEntry) bool {
	kfmt.Printf("\t[0x%10x - 0x%10x], size: %10d, type: %s\n", region.PhysAddress, region.PhysAddress+region.Length, region.Length, region.Type.String())

	if region.Type == multiboot.MemAvailable {
		scanFreeMem += mem.Size(region.Length)
	}
	return true
}
