package heap

import (
	"io"

	"github.com/Codetector1374/mini-kern/kernel/kfmt"
)

// BinStats describes the free chunks held by a single bin.
type BinStats struct {
	// ChunkSize is the size of each chunk in the bin.
	ChunkSize uintptr

	// Chunks is the number of free chunks.
	Chunks uintptr

	// Runs is the number of contiguous chunk runs used to track them.
	Runs int
}

// Stats is a snapshot of the allocator state.
type Stats struct {
	// Start and End are the bounds of the heap region.
	Start, End uintptr

	// Frontier is the end of the memory that has been carved into chunks.
	Frontier uintptr

	// MappedEnd is the end of the memory that is backed by frames.
	MappedEnd uintptr

	Bins [NumBins]BinStats

	// FreeRunSlots is the number of unused run descriptors.
	FreeRunSlots int
}

// FreeBytes returns the number of bytes held in free lists.
func (s Stats) FreeBytes() uintptr {
	var total uintptr
	for _, bin := range s.Bins {
		total += bin.Chunks * bin.ChunkSize
	}
	return total
}

// Stats returns a snapshot of the allocator state.
func (a *Allocator) Stats() Stats {
	a.lock.Acquire()
	defer a.lock.Release()

	stats := Stats{
		Start:     a.blockStart,
		End:       a.blockEnd,
		Frontier:  a.blockCurrent,
		MappedEnd: a.mappedEnd,

		FreeRunSlots: a.runs.available(),
	}

	for bin := range a.bins {
		stats.Bins[bin] = BinStats{
			ChunkSize: BinSize(bin),
			Chunks:    a.bins[bin].chunks,
			Runs:      a.bins[bin].runs,
		}
	}

	return stats
}

// PrintStats writes the allocator bounds, frontier and the non-empty bins to
// w. A nil w selects the kfmt output sink.
func (a *Allocator) PrintStats(w io.Writer) {
	stats := a.Stats()

	kfmt.Fprintf(w, "[heap] region: 0x%16x - 0x%16x\n", stats.Start, stats.End)
	kfmt.Fprintf(w, "[heap] frontier: 0x%16x, mapped up to: 0x%16x\n", stats.Frontier, stats.MappedEnd)
	for bin, binStats := range stats.Bins {
		if binStats.Chunks == 0 {
			continue
		}
		kfmt.Fprintf(w, "[heap] bin %2d (%10d bytes): %d free chunks in %d runs\n", bin, binStats.ChunkSize, binStats.Chunks, binStats.Runs)
	}
	kfmt.Fprintf(w, "[heap] free run slots: %d\n", stats.FreeRunSlots)
	kfmt.Fprintf(w, "[heap] used: %dKb, free: %dKb\n", uint64((stats.Frontier-stats.Start-stats.FreeBytes())>>10), uint64(stats.FreeBytes()>>10))
}
