package heap

import (
	"bytes"
	"io"
	"math/rand"
	"sort"
	gosync "sync"
	"testing"

	"github.com/Codetector1374/mini-kern/kernel"
	"github.com/Codetector1374/mini-kern/kernel/kfmt"
	"github.com/Codetector1374/mini-kern/kernel/mem"
	"github.com/Codetector1374/mini-kern/kernel/mem/vmm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewInvalidRegion(t *testing.T) {
	pageSize := uintptr(mem.PageSize)
	specs := []struct {
		start, end uintptr
	}{
		{testHeapBase, testHeapBase},
		{testHeapBase + pageSize, testHeapBase},
		{testHeapBase + 8, testHeapBase + pageSize},
		{testHeapBase, testHeapBase + pageSize + 8},
	}

	for specIndex, spec := range specs {
		a, err := New(spec.start, spec.end, &fakeFrames{}, newFakeMapper())
		assert.Equal(t, ErrInvalidHeapRegion, err, "[spec %d]", specIndex)
		assert.Nil(t, a, "[spec %d]", specIndex)
	}
}

func TestAllocFromFrontier(t *testing.T) {
	a, frames, mapper := newTestAllocator(t, 4, -1)

	p1, err := a.Alloc(64, 8)
	require.Nil(t, err)
	assert.Equal(t, testHeapBase, p1)

	p2, err := a.Alloc(64, 8)
	require.Nil(t, err)
	assert.Equal(t, testHeapBase+64, p2)

	// Both chunks live in the first page.
	assert.Equal(t, 1, frames.calls)
	assert.Equal(t, 1, mapper.count())
	assert.Contains(t, mapper.mapped, vmm.PageFromAddress(testHeapBase))

	stats := a.Stats()
	assert.Equal(t, testHeapBase+128, stats.Frontier)
	assert.Equal(t, testHeapBase+uintptr(mem.PageSize), stats.MappedEnd)
	assert.Zero(t, stats.FreeBytes())
}

func TestAllocLIFOReuse(t *testing.T) {
	a, _, _ := newTestAllocator(t, 4, -1)

	p, err := a.Alloc(64, 8)
	require.Nil(t, err)
	_, err = a.Alloc(64, 8)
	require.Nil(t, err)

	require.Nil(t, a.Dealloc(p, 64))
	got, err := a.Alloc(64, 8)
	require.Nil(t, err)
	assert.Equal(t, p, got)

	// Sizes in the same class share chunks.
	a.Dealloc(got, 40)
	got, err = a.Alloc(33, 8)
	require.Nil(t, err)
	assert.Equal(t, p, got)
}

func TestAllocAlignmentGap(t *testing.T) {
	a, frames, _ := newTestAllocator(t, 4, -1)

	p, err := a.Alloc(8, 8)
	require.Nil(t, err)
	assert.Equal(t, testHeapBase, p)

	p, err = a.Alloc(16, 4096)
	require.Nil(t, err)
	assert.Equal(t, testHeapBase+4096, p)
	assert.Equal(t, 2, frames.calls)

	// The gap [base+8, base+4096) is split into one chunk for each of
	// bins 0 to 8.
	stats := a.Stats()
	assert.Equal(t, uintptr(4096-8), stats.FreeBytes())
	for bin := 0; bin <= 8; bin++ {
		assert.Equal(t, uintptr(1), stats.Bins[bin].Chunks, "bin %d", bin)
	}
	assert.Zero(t, stats.Bins[9].Chunks)

	p, err = a.Alloc(8, 8)
	require.Nil(t, err)
	assert.Equal(t, testHeapBase+8, p)

	p, err = a.Alloc(2048, 2048)
	require.Nil(t, err)
	assert.Equal(t, testHeapBase+2048, p)
	assert.Equal(t, testHeapBase+4096+16, a.Stats().Frontier)
}

func TestAllocSizeZero(t *testing.T) {
	a, _, _ := newTestAllocator(t, 1, -1)

	p, err := a.Alloc(0, 1)
	require.Nil(t, err)
	assert.Equal(t, testHeapBase, p)
	assert.Equal(t, testHeapBase+8, a.Stats().Frontier)
}

func TestAllocOversize(t *testing.T) {
	a, frames, _ := newTestAllocator(t, 4, -1)

	_, err := a.Alloc(MaxAllocSize+1, 8)
	assert.Equal(t, ErrOversizeRequest, err)

	_, err = a.Alloc(MaxAllocSize, 8)
	assert.Equal(t, ErrHeapExhausted, err)
	assert.Zero(t, frames.calls)

	// Oversize blocks are never tracked.
	assert.Nil(t, a.Dealloc(testHeapBase, MaxAllocSize+1))
	assert.Zero(t, a.Stats().FreeBytes())
}

func TestAllocAlignmentOutOfRange(t *testing.T) {
	a, _, _ := newTestAllocator(t, 4, -1)

	_, err := a.Alloc(8, 8)
	require.Nil(t, err)

	_, err = a.Alloc(8, 1<<40)
	assert.Equal(t, ErrHeapExhausted, err)
	assert.Equal(t, testHeapBase+8, a.Stats().Frontier)
}

func TestAllocSplitsLargerChunk(t *testing.T) {
	a, frames, _ := newTestAllocator(t, 2, -1)

	chunk, err := a.Alloc(8192, 8)
	require.Nil(t, err)
	a.Dealloc(chunk, 8192)
	callsBefore := frames.calls

	p, err := a.Alloc(4096, 8)
	require.Nil(t, err)
	assert.Equal(t, chunk, p)

	stats := a.Stats()
	assert.Zero(t, stats.Bins[10].Chunks)
	assert.Equal(t, uintptr(1), stats.Bins[9].Chunks)

	p, err = a.Alloc(4096, 8)
	require.Nil(t, err)
	assert.Equal(t, chunk+4096, p)
	assert.Equal(t, callsBefore, frames.calls)

	_, err = a.Alloc(4096, 8)
	assert.Equal(t, ErrHeapExhausted, err)
}

func TestAllocSplitPicksAlignedChild(t *testing.T) {
	a, _, _ := newTestAllocator(t, 1, -1)

	// Fill the page: a 2048 byte chunk at base+2048 is all that is freed.
	_, err := a.Alloc(2048, 8)
	require.Nil(t, err)
	big, err := a.Alloc(2048, 8)
	require.Nil(t, err)
	a.Dealloc(big, 2048)

	// The chunk is split into 128 children; the first one aligned to 1024
	// is the one at base+2048.
	p, err := a.Alloc(16, 1024)
	require.Nil(t, err)
	assert.Equal(t, big, p)

	// A child in the middle of the split chunk.
	p, err = a.Alloc(16, 512)
	require.Nil(t, err)
	assert.Equal(t, big+512, p)

	stats := a.Stats()
	assert.Equal(t, uintptr(126), stats.Bins[1].Chunks)
	assert.Equal(t, 2, stats.Bins[1].Runs)
	assert.Equal(t, uintptr(2048-32), stats.FreeBytes())
}

func TestAllocSplitSkipsChunksWithoutAlignedChild(t *testing.T) {
	a, _, _ := newTestAllocator(t, 1, -1)

	p1, err := a.Alloc(32, 8)
	require.Nil(t, err)
	_, err = a.Alloc(8, 8)
	require.Nil(t, err)
	p3, err := a.Alloc(32, 8)
	require.Nil(t, err)
	require.Equal(t, testHeapBase+40, p3)

	// Use up the rest of the page so the frontier can not grow.
	for {
		if _, err := a.Alloc(8, 8); err != nil {
			break
		}
	}

	a.Dealloc(p1, 32)
	a.Dealloc(p3, 32)

	// p3 is on top but none of its 16 byte children is 32-byte aligned.
	p, err := a.Alloc(16, 32)
	require.Nil(t, err)
	assert.Equal(t, p1, p)
}

func TestAllocFrameExhaustion(t *testing.T) {
	a, frames, _ := newTestAllocator(t, 4, 1)

	p, err := a.Alloc(4096, 8)
	require.Nil(t, err)
	assert.Equal(t, testHeapBase, p)

	_, err = a.Alloc(8, 8)
	assert.Equal(t, ErrHeapExhausted, err)

	stats := a.Stats()
	assert.Equal(t, testHeapBase+4096, stats.Frontier)
	assert.Equal(t, testHeapBase+4096, stats.MappedEnd)

	// A retry observes the same state once frames become available.
	frames.budget = 1
	p, err = a.Alloc(8, 8)
	require.Nil(t, err)
	assert.Equal(t, testHeapBase+4096, p)
}

func TestAllocKeepsPartiallyMappedGrowth(t *testing.T) {
	a, frames, mapper := newTestAllocator(t, 4, 1)

	_, err := a.Alloc(8192, 8)
	assert.Equal(t, ErrHeapExhausted, err)

	stats := a.Stats()
	assert.Equal(t, testHeapBase, stats.Frontier)
	assert.Equal(t, testHeapBase+4096, stats.MappedEnd)

	frames.budget = -1
	p, err := a.Alloc(8192, 8)
	require.Nil(t, err)
	assert.Equal(t, testHeapBase, p)

	// The page mapped by the failed call is not mapped again.
	assert.Equal(t, 2, mapper.count())
	assert.Equal(t, 3, frames.calls)
}

func TestAllocMapperFailure(t *testing.T) {
	var buf bytes.Buffer
	kfmt.SetOutputSink(&buf)
	defer kfmt.SetOutputSink(io.Discard)

	a, frames, mapper := newTestAllocator(t, 4, -1)
	mapper.failAt[vmm.PageFromAddress(testHeapBase)] = true

	_, err := a.Alloc(8, 8)
	assert.Equal(t, ErrHeapExhausted, err)
	assert.Equal(t, "[heap] frontier growth failed: mapper failure\n", buf.String())
	assert.Equal(t, testHeapBase, a.Stats().MappedEnd)

	delete(mapper.failAt, vmm.PageFromAddress(testHeapBase))
	p, err := a.Alloc(8, 8)
	require.Nil(t, err)
	assert.Equal(t, testHeapBase, p)
	assert.Equal(t, 2, frames.calls)
}

func TestReleaseGapPanicsOnInvalidGap(t *testing.T) {
	defer func() { panicFn = kfmt.Panic }()

	var panicErr interface{}
	panicFn = func(e interface{}) { panicErr = e }

	a, _, _ := newTestAllocator(t, 1, -1)
	a.releaseGap(testHeapBase, testHeapBase+4)

	require.NotNil(t, panicErr)
	assert.Equal(t, "heap", panicErr.(*kernel.Error).Module)
	assert.Zero(t, a.Stats().FreeBytes())
}

func TestAllocAlignmentProperty(t *testing.T) {
	a, _, _ := newTestAllocator(t, 256, -1)
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 2000; i++ {
		size := uintptr(1 + rng.Intn(4096))
		align := uintptr(1) << uint(rng.Intn(13))

		p, err := a.Alloc(size, align)
		if err != nil {
			require.Equal(t, ErrHeapExhausted, err)
			continue
		}

		require.Zero(t, p%align, "alloc(%d, %d) = %x", size, align, p)
		require.True(t, p >= testHeapBase && p < testHeapBase+256*4096)
		require.LessOrEqual(t, p+size, testHeapBase+256*4096)

		if rng.Intn(3) == 0 {
			a.Dealloc(p, size)
		}
	}
}

func TestAllocConcurrent(t *testing.T) {
	const (
		workers    = 8
		iterations = 300
	)

	a, _, _ := newTestAllocator(t, 1024, -1)

	type block struct{ addr, size uintptr }
	var (
		wg   gosync.WaitGroup
		mu   gosync.Mutex
		live []block
	)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()

			rng := rand.New(rand.NewSource(seed))
			var mine []block
			for i := 0; i < iterations; i++ {
				size := uintptr(1 + rng.Intn(1024))
				p, err := a.Alloc(size, uintptr(1)<<uint(rng.Intn(7)))
				if err != nil {
					continue
				}
				mine = append(mine, block{p, size})

				if rng.Intn(2) == 0 {
					idx := rng.Intn(len(mine))
					a.Dealloc(mine[idx].addr, mine[idx].size)
					mine = append(mine[:idx], mine[idx+1:]...)
				}
			}

			mu.Lock()
			live = append(live, mine...)
			mu.Unlock()
		}(int64(w))
	}
	wg.Wait()

	sort.Slice(live, func(i, j int) bool { return live[i].addr < live[j].addr })
	for i := 1; i < len(live); i++ {
		prev := live[i-1]
		require.LessOrEqual(t, prev.addr+prev.size, live[i].addr, "blocks at %x and %x overlap", prev.addr, live[i].addr)
	}
}

func TestPrintStats(t *testing.T) {
	a, _, _ := newTestAllocator(t, 4, -1)

	_, err := a.Alloc(8, 8)
	require.Nil(t, err)
	_, err = a.Alloc(16, 4096)
	require.Nil(t, err)

	var buf bytes.Buffer
	a.PrintStats(&buf)

	out := buf.String()
	assert.Contains(t, out, "[heap] region: 0xffffc00000000000 - 0xffffc00000004000\n")
	assert.Contains(t, out, "[heap] frontier: 0xffffc00000001010, mapped up to: 0xffffc00000002000\n")
	assert.Contains(t, out, "[heap] bin  0 (         8 bytes): 1 free chunks in 1 runs\n")
	assert.Contains(t, out, "[heap] bin  8 (      2048 bytes): 1 free chunks in 1 runs\n")
	assert.NotContains(t, out, "[heap] bin  9")
	assert.Contains(t, out, "[heap] free run slots: 8182\n")
	assert.Contains(t, out, "[heap] used: 0Kb, free: 3Kb\n")
}

func TestStatsFreeBytes(t *testing.T) {
	specs := []struct {
		bins [NumBins]BinStats
		exp  uintptr
	}{
		{[NumBins]BinStats{}, 0},
		{[NumBins]BinStats{{ChunkSize: 8, Chunks: 3}}, 24},
		{[NumBins]BinStats{0: {ChunkSize: 8, Chunks: 1}, 9: {ChunkSize: 4096, Chunks: 2}}, 8200},
	}

	for specIndex, spec := range specs {
		assert.Equal(t, spec.exp, Stats{Bins: spec.bins}.FreeBytes(), "[spec %d]", specIndex)
	}
}

func TestGapPieces(t *testing.T) {
	specs := []struct {
		from, to uintptr
		exp      int
	}{
		{testHeapBase, testHeapBase, 0},
		{testHeapBase + 8, testHeapBase + 16, 1},
		{testHeapBase + 0x18, testHeapBase + 0x40, 2},
		{testHeapBase + 8, testHeapBase + 4096, 9},
		{testHeapBase, testHeapBase + 4*MaxAllocSize, 4},
	}

	for specIndex, spec := range specs {
		assert.Equal(t, spec.exp, gapPieces(spec.from, spec.to), "[spec %d]", specIndex)
	}
}

func TestDeallocRunTableFull(t *testing.T) {
	a, _, _ := newTestAllocator(t, 40, -1)

	// Chunk i sits at testHeapBase+8*i. The extra chunk leaves the frontier
	// unaligned.
	const chunkCount = 2*maxRuns + 1
	for i := 0; i < chunkCount; i++ {
		p, err := a.Alloc(8, 8)
		require.Nil(t, err)
		require.Equal(t, testHeapBase+8*uintptr(i), p)
	}

	// Freeing every other chunk in ascending order needs one run per chunk.
	var i uintptr
	for ; i < maxRuns-1; i++ {
		require.Nil(t, a.Dealloc(testHeapBase+8*(2*i+1), 8), "dealloc %d", i)
	}
	leaked := testHeapBase + 8*(2*i+1)
	assert.Equal(t, ErrFreeListFull, a.Dealloc(leaked, 8))

	stats := a.Stats()
	assert.Zero(t, stats.FreeRunSlots)
	assert.Equal(t, uintptr(maxRuns-1), stats.Bins[0].Chunks)

	// The frontier can not grow without recording the alignment gap.
	_, err := a.Alloc(8, 4096)
	assert.Equal(t, ErrFreeListFull, err)
	assert.Equal(t, stats.Frontier, a.Stats().Frontier)
	assert.Equal(t, stats.MappedEnd, a.Stats().MappedEnd)

	// A chunk that extends the top run needs no descriptor.
	require.Nil(t, a.Dealloc(leaked-3*8, 8))

	// Popping a single chunk run releases its descriptor.
	p, err := a.Alloc(8, 8)
	require.Nil(t, err)
	assert.Equal(t, leaked-3*8, p)
	p, err = a.Alloc(8, 8)
	require.Nil(t, err)
	assert.Equal(t, leaked-2*8, p)
	assert.Equal(t, 1, a.Stats().FreeRunSlots)

	require.Nil(t, a.Dealloc(leaked, 8))
}

func TestAllocDoesNotUseGoHeap(t *testing.T) {
	a, _, _ := newTestAllocator(t, 16, -1)

	var blocks [200]uintptr
	allocs := testing.AllocsPerRun(10, func() {
		for i := range blocks {
			blocks[i], _ = a.Alloc(64, 8)
		}
		for i := 0; i < len(blocks); i += 2 {
			_ = a.Dealloc(blocks[i], 64)
		}
		for i := 0; i < len(blocks); i += 2 {
			blocks[i], _ = a.Alloc(64, 8)
		}
		for i := range blocks {
			_ = a.Dealloc(blocks[i], 64)
		}
	})

	assert.Zero(t, allocs)
	assert.Equal(t, uintptr(len(blocks)), a.Stats().Bins[BinNumber(64)].Chunks)
}
