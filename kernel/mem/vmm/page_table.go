// Package vmm manages the x86_64 page tables that back the kernel's virtual
// address space.
package vmm

import (
	"unsafe"

	"github.com/Codetector1374/mini-kern/kernel"
	"github.com/Codetector1374/mini-kern/kernel/cpu"
	"github.com/Codetector1374/mini-kern/kernel/mem"
	"github.com/Codetector1374/mini-kern/kernel/mem/pmm"
	"github.com/Codetector1374/mini-kern/kernel/sync"
)

var (
	// flushTLBEntryFn is used by tests to override calls to
	// cpu.FlushTLBEntry which will cause a fault if called in user-mode.
	flushTLBEntryFn = cpu.FlushTLBEntry

	// ErrInvalidMapping is returned when trying to lookup or unmap a virtual
	// address that is not mapped.
	ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "virtual address does not point to a mapped physical page"}

	// ErrMappingExists is returned by Map when the page is already mapped.
	ErrMappingExists = &kernel.Error{Module: "vmm", Message: "virtual page is already mapped"}

	// ErrNoHugePageSupport is returned when a walk encounters a huge page
	// entry.
	ErrNoHugePageSupport = &kernel.Error{Module: "vmm", Message: "huge pages are not supported"}
)

// pageTableWalker is invoked by walk with the entry that corresponds to each
// page table level. If it returns false the walk is aborted.
type pageTableWalker func(level uint8, pte *pageTableEntry) bool

// PageTable is a 4-level page table hierarchy rooted at a P4 frame.
//
// Tables are accessed through a physical to virtual address translation
// function; in the kernel this points into the physical memory map.
//
// Map allocates physical frames for missing intermediate tables. These
// allocations happen while the page table lock is released so callers that
// hold the frame allocator lock never wait on a page table lock holder that
// needs a frame.
type PageTable struct {
	lock sync.Spinlock

	root       pmm.Frame
	frames     pmm.FrameAllocator
	physToVirt func(uintptr) uintptr

	// spare holds zeroed frames allocated by Map but not used yet.
	spare      [pageLevels - 1]pmm.Frame
	spareCount int
}

// Init points pt at the P4 table stored at root. Frames for new intermediate
// tables are obtained from frames. Init must be called before any other
// method and before pt is shared.
func (pt *PageTable) Init(root pmm.Frame, frames pmm.FrameAllocator, physToVirt func(uintptr) uintptr) {
	*pt = PageTable{
		root:       root,
		frames:     frames,
		physToVirt: physToVirt,
	}
}

// Root returns the frame that holds the P4 table.
func (pt *PageTable) Root() pmm.Frame {
	return pt.root
}

// Map establishes a mapping between a virtual page and a physical frame and
// flushes the TLB entry for the page. Missing intermediate tables are
// allocated, cleared and mapped as present and writable. Map fails with
// ErrMappingExists if the page is already mapped.
func (pt *PageTable) Map(page Page, frame pmm.Frame, flags PageTableEntryFlag) *kernel.Error {
	for {
		pt.lock.Acquire()
		missing, err := pt.missingTables(page)
		if err == nil && missing <= pt.spareCount {
			err = pt.install(page, frame, flags)
			pt.lock.Release()
			return err
		}
		missing -= pt.spareCount
		pt.lock.Release()

		if err != nil {
			return err
		}

		for ; missing > 0; missing-- {
			tableFrame, err := pt.frames.AllocFrame()
			if err != nil {
				return err
			}
			mem.Memset(pt.physToVirt(tableFrame.Address()), 0, mem.PageSize)

			// A frame that no longer fits in the cache is dropped.
			pt.lock.Acquire()
			if pt.spareCount < len(pt.spare) {
				pt.spare[pt.spareCount] = tableFrame
				pt.spareCount++
			}
			pt.lock.Release()
		}
	}
}

// Unmap removes the mapping for page and flushes its TLB entry.
func (pt *PageTable) Unmap(page Page) *kernel.Error {
	pt.lock.Acquire()
	defer pt.lock.Release()

	var err *kernel.Error
	pt.walk(page.Address(), func(level uint8, pte *pageTableEntry) bool {
		switch {
		case !pte.has(FlagPresent):
			err = ErrInvalidMapping
			return false
		case level == pageLevels-1:
			*pte = 0
			flushTLBEntryFn(page.Address())
			return false
		case pte.has(FlagHugePage):
			err = ErrNoHugePageSupport
			return false
		}
		return true
	})

	return err
}

// Translate returns the physical address that corresponds to virtAddr or
// ErrInvalidMapping if virtAddr is not mapped.
func (pt *PageTable) Translate(virtAddr uintptr) (uintptr, *kernel.Error) {
	pt.lock.Acquire()
	defer pt.lock.Release()

	var (
		physAddr uintptr
		err      = ErrInvalidMapping
	)
	pt.walk(virtAddr, func(level uint8, pte *pageTableEntry) bool {
		switch {
		case !pte.has(FlagPresent):
			return false
		case level == pageLevels-1:
			physAddr, err = pte.frame().Address()+PageOffset(virtAddr), nil
			return false
		case pte.has(FlagHugePage):
			err = ErrNoHugePageSupport
			return false
		}
		return true
	})

	return physAddr, err
}

// missingTables returns the number of intermediate tables that need to be
// allocated before page can be mapped.
func (pt *PageTable) missingTables(page Page) (int, *kernel.Error) {
	var (
		missing int
		err     *kernel.Error
	)

	pt.walk(page.Address(), func(level uint8, pte *pageTableEntry) bool {
		switch {
		case level == pageLevels-1:
			if pte.has(FlagPresent) {
				err = ErrMappingExists
			}
			return false
		case !pte.has(FlagPresent):
			// Every level below this one is missing too.
			missing = pageLevels - 1 - int(level)
			return false
		case pte.has(FlagHugePage):
			err = ErrNoHugePageSupport
			return false
		}
		return true
	})

	return missing, err
}

// install writes the leaf entry for page, taking frames for any missing
// tables from the spare cache. The caller must hold the lock and ensure that
// enough spare frames are available.
func (pt *PageTable) install(page Page, frame pmm.Frame, flags PageTableEntryFlag) *kernel.Error {
	pt.walk(page.Address(), func(level uint8, pte *pageTableEntry) bool {
		if level == pageLevels-1 {
			*pte = 0
			pte.point(frame)
			pte.set(flags)
			flushTLBEntryFn(page.Address())
			return false
		}

		if !pte.has(FlagPresent) {
			pt.spareCount--
			*pte = 0
			pte.point(pt.spare[pt.spareCount])
			pte.set(FlagPresent | FlagRW)
		}
		return true
	})

	return nil
}

// walk performs a page table walk for virtAddr invoking walkFn with the entry
// at each level. The table for the next level is located through the frame
// stored in the current entry.
func (pt *PageTable) walk(virtAddr uintptr, walkFn pageTableWalker) {
	tableFrame := pt.root
	for level := uint8(0); level < pageLevels; level++ {
		entryIndex := (virtAddr >> pageLevelShifts[level]) & (entriesPerTable - 1)
		entryAddr := pt.physToVirt(tableFrame.Address()) + (entryIndex << mem.PointerShift)
		pte := (*pageTableEntry)(unsafe.Pointer(entryAddr))

		if !walkFn(level, pte) {
			return
		}

		tableFrame = pte.frame()
	}
}
