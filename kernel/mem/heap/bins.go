package heap

import "math/bits"

const (
	// NumBins is the number of size classes served by the heap.
	NumBins = 30

	// minChunkShift is log2 of the chunk size of bin 0.
	minChunkShift = 3

	// MaxAllocSize is the chunk size of the largest bin.
	MaxAllocSize = uintptr(1) << (NumBins - 1 + minChunkShift)
)

// BinNumber returns the index of the smallest bin whose chunks can hold size
// bytes. Requests up to 8 bytes map to bin 0. The returned value is NumBins or
// larger if size exceeds MaxAllocSize.
func BinNumber(size uintptr) int {
	if size <= 1<<minChunkShift {
		return 0
	}

	return bits.Len(uint(size-1)) - minChunkShift
}

// BinSize returns the chunk size of the given bin.
func BinSize(bin int) uintptr {
	return uintptr(1) << (uint(bin) + minChunkShift)
}
