package allocator

import (
	"io"

	"github.com/Codetector1374/mini-kern/kernel"
	"github.com/Codetector1374/mini-kern/kernel/kfmt"
	"github.com/Codetector1374/mini-kern/kernel/mem"
	"github.com/Codetector1374/mini-kern/kernel/mem/pmm"
	"github.com/Codetector1374/mini-kern/kernel/sync"
)

// maxSegments is the capacity of the segment table of a SegmentAllocator.
// Bootloader memory maps rarely report more than a couple dozen regions.
const maxSegments = 64

var (
	// ErrFrameExhausted is returned by AllocFrame when every registered
	// segment has been consumed.
	ErrFrameExhausted = &kernel.Error{Module: "pmm", Message: "out of physical frames"}

	// ErrTooManySegments is returned when the segment table is full.
	ErrTooManySegments = &kernel.Error{Module: "pmm", Message: "segment table is full"}
)

// SegmentAllocator is a physical frame allocator that hands out frames from a
// list of disjoint segments registered via AddSegment.
//
// Frames are consumed from the head of the oldest segment that still has
// capacity, lowest address first. Exhausted segments are dropped and frames
// are never returned to the allocator. The segment table is a fixed-size
// array so the allocator can be used before any Go heap exists; the zero value
// is an empty allocator ready for use.
type SegmentAllocator struct {
	lock sync.Spinlock

	// segments[head:count] holds the segments that still have frames.
	// Entries are shrunk in place as frames get allocated.
	segments    [maxSegments]Segment
	head, count int

	// freeBytes tracks the bytes that remain in segments[head:count].
	freeBytes uintptr
}

// AddSegment registers the physical range [base, base+length) with the
// allocator. The range is trimmed to whole frames; a range that does not
// contain a whole frame is accepted but adds no capacity. Registered segments
// must not overlap; the allocator does not check this.
func (alloc *SegmentAllocator) AddSegment(base, length uintptr) *kernel.Error {
	seg, err := NewSegment(base, length)
	if err != nil {
		return err
	}

	usable, ok := seg.frames()
	if !ok {
		return nil
	}

	alloc.lock.Acquire()
	defer alloc.lock.Release()

	if alloc.count == len(alloc.segments) {
		if alloc.head == 0 {
			return ErrTooManySegments
		}

		// Reclaim the slots of dropped segments.
		copy(alloc.segments[:], alloc.segments[alloc.head:alloc.count])
		alloc.count -= alloc.head
		alloc.head = 0
	}

	alloc.segments[alloc.count] = usable
	alloc.count++
	alloc.freeBytes += usable.Length
	return nil
}

// AllocFrame reserves and returns the next available frame. It returns
// pmm.InvalidFrame and ErrFrameExhausted once all segments are consumed.
func (alloc *SegmentAllocator) AllocFrame() (pmm.Frame, *kernel.Error) {
	alloc.lock.Acquire()
	defer alloc.lock.Release()

	if alloc.head == alloc.count {
		return pmm.InvalidFrame, ErrFrameExhausted
	}

	pageSize := uintptr(mem.PageSize)
	seg := &alloc.segments[alloc.head]
	frame := seg.firstFrame()

	seg.Base += pageSize
	seg.Length -= pageSize
	if seg.Length == 0 {
		alloc.head++
	}
	alloc.freeBytes -= pageSize

	return frame, nil
}

// FreeSpace returns the number of bytes that can still be allocated.
func (alloc *SegmentAllocator) FreeSpace() mem.Size {
	alloc.lock.Acquire()
	defer alloc.lock.Release()

	return mem.Size(alloc.freeBytes)
}

// VisitSegments invokes visitor for each segment that still has free frames,
// in allocation order. The visitor must not call back into the allocator.
func (alloc *SegmentAllocator) VisitSegments(visitor func(Segment) bool) {
	alloc.lock.Acquire()
	defer alloc.lock.Release()

	for i := alloc.head; i < alloc.count; i++ {
		if !visitor(alloc.segments[i]) {
			return
		}
	}
}

// PrintSegments writes the remaining segments and free space to w.
func (alloc *SegmentAllocator) PrintSegments(w io.Writer, name string) {
	alloc.VisitSegments(func(seg Segment) bool {
		kfmt.Fprintf(w, "[pmm] %s: [0x%10x - 0x%10x] %d frames\n", name, seg.Base, seg.End(), uint64(seg.Length>>mem.PageShift))
		return true
	})
	kfmt.Fprintf(w, "[pmm] %s: free memory: %dKb\n", name, uint64(alloc.FreeSpace()/mem.Kb))
}
