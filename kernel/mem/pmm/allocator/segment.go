package allocator

import (
	"github.com/Codetector1374/mini-kern/kernel"
	"github.com/Codetector1374/mini-kern/kernel/mem"
	"github.com/Codetector1374/mini-kern/kernel/mem/pmm"
)

var (
	// ErrInvalidSegment is returned when registering a zero-length segment
	// or one whose end does not fit in the physical address space.
	ErrInvalidSegment = &kernel.Error{Module: "pmm", Message: "invalid memory segment"}
)

// Segment describes a contiguous range of physical memory.
type Segment struct {
	// Base is the physical address of the first byte in the segment.
	Base uintptr

	// Length is the segment size in bytes.
	Length uintptr
}

// NewSegment returns a Segment for [base, base+length) or ErrInvalidSegment if
// length is zero or the range overflows the address space.
func NewSegment(base, length uintptr) (Segment, *kernel.Error) {
	if length == 0 || base+length < base {
		return Segment{}, ErrInvalidSegment
	}

	return Segment{Base: base, Length: length}, nil
}

// End returns the address of the first byte past the segment.
func (s Segment) End() uintptr {
	return s.Base + s.Length
}

// frames returns the frame-aligned portion of the segment. The start is
// rounded up and the end rounded down to a frame boundary; ok is false if the
// segment does not contain a whole frame.
func (s Segment) frames() (Segment, bool) {
	pageSize := uintptr(mem.PageSize)

	start, inRange := mem.AlignUp(s.Base, pageSize)
	end := mem.AlignDown(s.End(), pageSize)
	if !inRange || end <= start {
		return Segment{}, false
	}

	return Segment{Base: start, Length: end - start}, true
}

// firstFrame returns the frame at the start of a frame-aligned segment.
func (s Segment) firstFrame() pmm.Frame {
	return pmm.FrameFromAddress(s.Base)
}
