// Package heap implements the kernel's general purpose heap allocator.
//
// The heap serves requests from NumBins segregated free lists whose chunk
// sizes are consecutive powers of two starting at 8 bytes. Requests that can
// not be served from a free list are carved out of a frontier that advances
// through a reserved virtual address range; physical frames are mapped behind
// the frontier on demand. Freed chunks return to the free list of their size
// class and are never coalesced.
package heap

import (
	"github.com/Codetector1374/mini-kern/kernel"
	"github.com/Codetector1374/mini-kern/kernel/kfmt"
	"github.com/Codetector1374/mini-kern/kernel/mem"
	"github.com/Codetector1374/mini-kern/kernel/mem/pmm"
	"github.com/Codetector1374/mini-kern/kernel/mem/vmm"
	"github.com/Codetector1374/mini-kern/kernel/sync"
)

var (
	// ErrOversizeRequest is returned by Alloc for requests larger than
	// MaxAllocSize.
	ErrOversizeRequest = &kernel.Error{Module: "heap", Message: "requested size exceeds the largest bin"}

	// ErrHeapExhausted is returned by Alloc when the request can not be
	// served from a free list, the frontier can not grow and no larger
	// chunk can be split.
	ErrHeapExhausted = &kernel.Error{Module: "heap", Message: "out of memory"}

	// ErrInvalidHeapRegion is returned when the heap bounds are not page
	// aligned or describe an empty range.
	ErrInvalidHeapRegion = &kernel.Error{Module: "heap", Message: "heap region must be a non-empty, page-aligned range"}

	// ErrFreeListFull is returned when every run descriptor is in use and
	// a free chunk can not be recorded without one.
	ErrFreeListFull = &kernel.Error{Module: "heap", Message: "free list run table is full"}

	errFrontierOutOfRange = &kernel.Error{Module: "heap", Message: "frontier would exceed the heap region"}

	panicFn = kfmt.Panic
)

const (
	// mapFlags are the flags used for pages that back the heap.
	mapFlags = vmm.FlagPresent | vmm.FlagRW

	// splitRuns is the number of run descriptors a split may consume.
	splitRuns = 3
)

// PageMapper is implemented by types that can map a virtual page to a
// physical frame. A successful Map must leave the translation visible to the
// calling core.
type PageMapper interface {
	Map(page vmm.Page, frame pmm.Frame, flags vmm.PageTableEntryFlag) *kernel.Error
}

// Allocator is a heap allocator for the virtual range [start, end).
//
// All operations are serialized by an IRQSpinlock so the allocator can be
// used from interrupt handlers. While growing the frontier the allocator
// calls into its frame allocator and page mapper with the heap lock held;
// neither may allocate from the heap.
//
// Free list bookkeeping lives in a fixed table inside the Allocator; the
// allocator never touches the memory it manages and never uses the Go heap.
type Allocator struct {
	lock sync.IRQSpinlock

	bins [NumBins]freeList
	runs runTable

	blockStart   uintptr
	blockCurrent uintptr
	blockEnd     uintptr

	// mappedEnd marks the end of the pages that are backed by a frame. It
	// is page aligned and never below blockCurrent.
	mappedEnd uintptr

	frames pmm.FrameAllocator
	mapper PageMapper
}

// New returns an Allocator that manages the virtual range [start, end) and
// backs it with frames obtained from frames and mapped through mapper.
func New(start, end uintptr, frames pmm.FrameAllocator, mapper PageMapper) (*Allocator, *kernel.Error) {
	a := &Allocator{}
	if err := a.init(start, end, frames, mapper); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Allocator) init(start, end uintptr, frames pmm.FrameAllocator, mapper PageMapper) *kernel.Error {
	pageSize := uintptr(mem.PageSize)
	if start >= end || !mem.IsAligned(start, pageSize) || !mem.IsAligned(end, pageSize) {
		return ErrInvalidHeapRegion
	}

	a.blockStart, a.blockCurrent, a.blockEnd = start, start, end
	a.mappedEnd = start
	a.frames, a.mapper = frames, mapper
	return nil
}

// Alloc returns the address of a block of at least size bytes that is a
// multiple of align. The align argument must be a power of two.
//
// Alloc first looks for a suitably aligned chunk in the size class of the
// request. It then tries to carve a new chunk at the frontier and finally
// splits the first larger chunk that contains an aligned piece. If all three
// fail because no run descriptor is left, Alloc returns ErrFreeListFull.
func (a *Allocator) Alloc(size, align uintptr) (uintptr, *kernel.Error) {
	bin := BinNumber(size)
	if bin >= NumBins {
		return 0, ErrOversizeRequest
	}

	a.lock.Acquire()
	defer a.lock.Release()

	chunkSize := BinSize(bin)
	if addr, ok := a.bins[bin].popAligned(&a.runs, chunkSize, align); ok {
		return addr, nil
	}

	addr, err := a.grow(bin, align)
	if err == nil {
		return addr, nil
	}

	if addr, ok := a.split(bin, align); ok {
		return addr, nil
	}

	if err == ErrFreeListFull || a.runs.available() < splitRuns {
		return 0, ErrFreeListFull
	}
	return 0, ErrHeapExhausted
}

// Dealloc returns the block at ptr, previously obtained by a call to Alloc
// with the same size, to the free list of its size class. Dealloc does not
// validate its arguments; releasing a block twice or with a different size
// corrupts the heap. Sizes above MaxAllocSize are ignored.
//
// Dealloc returns ErrFreeListFull if the block does not extend the most
// recently freed run of its bin and no run descriptor is left. The block is
// then leaked.
func (a *Allocator) Dealloc(ptr, size uintptr) *kernel.Error {
	bin := BinNumber(size)
	if bin >= NumBins {
		return nil
	}

	a.lock.Acquire()
	defer a.lock.Release()

	if !a.bins[bin].push(&a.runs, ptr, BinSize(bin)) {
		return ErrFreeListFull
	}
	return nil
}

// grow carves a chunk for the given bin at the frontier. The frontier is only
// advanced if every page behind the new chunk was mapped; pages mapped before
// a failure stay mapped and are used by the next successful call.
func (a *Allocator) grow(bin int, align uintptr) (uintptr, *kernel.Error) {
	start, ok := mem.AlignUp(a.blockCurrent, align)
	if !ok || start >= a.blockEnd {
		return 0, errFrontierOutOfRange
	}

	end := start + BinSize(bin)
	if end < start || end > a.blockEnd {
		return 0, errFrontierOutOfRange
	}

	if gapPieces(a.blockCurrent, start) > a.runs.available() {
		return 0, ErrFreeListFull
	}

	if err := a.mapUpTo(end); err != nil {
		kfmt.Printf("[heap] frontier growth failed: %s\n", err.Message)
		return 0, err
	}

	a.releaseGap(a.blockCurrent, start)
	a.blockCurrent = end
	return start, nil
}

// mapUpTo backs every page in [mappedEnd, limit) with a fresh frame.
func (a *Allocator) mapUpTo(limit uintptr) *kernel.Error {
	pageSize := uintptr(mem.PageSize)
	for a.mappedEnd < limit {
		frame, err := a.frames.AllocFrame()
		if err != nil {
			return err
		}

		if err = a.mapper.Map(vmm.PageFromAddress(a.mappedEnd), frame, mapFlags); err != nil {
			return err
		}

		a.mappedEnd += pageSize
	}

	return nil
}

// releaseGap pushes the range [from, to) skipped by aligning the frontier
// onto the free lists. This departs from pushing the gap as one chunk of the
// exactly matching bin and panicking when no bin matches: the range is split
// into the largest power of two pieces that keep each piece aligned to its
// own size, so any gap that is a multiple of the minimum chunk size is kept.
// The caller must ensure that the run table can hold gapPieces(from, to)
// new runs.
func (a *Allocator) releaseGap(from, to uintptr) {
	if (to-from)&(BinSize(0)-1) != 0 {
		panicFn(&kernel.Error{Module: "heap", Message: "alignment gap is not a multiple of the minimum chunk size"})
		return
	}

	for from < to {
		piece := nextGapPiece(from, to)
		if !a.bins[BinNumber(piece)].push(&a.runs, from, piece) {
			panicFn(ErrFreeListFull)
			return
		}
		from += piece
	}
}

// nextGapPiece returns the size of the largest chunk that starts at from,
// fits in [from, to) and is aligned to its own size.
func nextGapPiece(from, to uintptr) uintptr {
	piece := from & -from
	for piece > to-from || piece > MaxAllocSize {
		piece >>= 1
	}
	return piece
}

// gapPieces returns the number of chunks releaseGap creates for [from, to).
func gapPieces(from, to uintptr) int {
	var count int
	for ; from < to; count++ {
		from += nextGapPiece(from, to)
	}
	return count
}

// split takes the first chunk from the bins above bin that contains an
// aligned child of bin's size, moves its children to bin and returns the
// aligned child. Each bin is searched from its most recently freed run.
func (a *Allocator) split(bin int, align uintptr) (uintptr, bool) {
	if a.runs.available() < splitRuns {
		return 0, false
	}

	childSize := BinSize(bin)
	children := &a.bins[bin]

	for parentBin := bin + 1; parentBin < NumBins; parentBin++ {
		parents := &a.bins[parentBin]
		parentSize := BinSize(parentBin)
		ratio := parentSize / childSize

		var prev runRef
		for ref := parents.top; ref != 0; prev, ref = ref, a.runs.slots[ref].next {
			run := a.runs.slots[ref]

			// Treat the run as a sequence of child-sized chunks.
			childIdx, ok := firstAligned(run.base, run.count*ratio, childSize, align)
			if !ok {
				continue
			}

			parentIdx := childIdx / ratio
			parent, _ := parents.remove(&a.runs, prev, ref, parentIdx, parentSize)
			children.pushRun(&a.runs, parent, ratio, childSize)
			addr, _ := children.remove(&a.runs, 0, children.top, childIdx-parentIdx*ratio, childSize)
			return addr, true
		}
	}

	return 0, false
}
