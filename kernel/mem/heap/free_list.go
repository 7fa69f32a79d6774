package heap

// maxRuns is the number of run descriptors owned by an Allocator and shared
// by all of its bins.
const maxRuns = 8192

// runRef is the index of a descriptor in a runTable. The zero value is the
// empty reference.
type runRef uint32

// chunkRun describes count contiguous free chunks starting at base.
type chunkRun struct {
	base  uintptr
	count uintptr

	// next is the run below this one in the same free list, or the next
	// unused descriptor for descriptors on the recycled list.
	next runRef
}

// runTable is a fixed pool of run descriptors. Slot 0 is never handed out so
// that a zero runRef terminates every list.
type runTable struct {
	slots [maxRuns]chunkRun

	// recycled heads the list of released descriptors. Descriptors above
	// highWater have never been used.
	recycled  runRef
	highWater runRef
	inUse     int
}

// get reserves a descriptor. It returns 0 when the table is full.
func (t *runTable) get() runRef {
	var ref runRef
	switch {
	case t.recycled != 0:
		ref = t.recycled
		t.recycled = t.slots[ref].next
	case int(t.highWater) < maxRuns-1:
		t.highWater++
		ref = t.highWater
	default:
		return 0
	}

	t.inUse++
	return ref
}

// put releases a descriptor obtained by get.
func (t *runTable) put(ref runRef) {
	t.slots[ref] = chunkRun{next: t.recycled}
	t.recycled = ref
	t.inUse--
}

// available returns the number of descriptors that get can still hand out.
func (t *runTable) available() int {
	return maxRuns - 1 - t.inUse
}

// freeList tracks the free chunks of a single bin. Chunks are stored as runs
// of contiguous addresses so that splitting a large chunk into thousands of
// children costs a single descriptor.
//
// The list behaves as a LIFO stack: top is the most recently pushed run and
// its base is the most recently released chunk.
type freeList struct {
	top    runRef
	chunks uintptr
	runs   int
}

// push adds the chunk at addr to the top of the list. It returns false if a
// new run is needed and t is full.
func (l *freeList) push(t *runTable, addr, size uintptr) bool {
	return l.pushRun(t, addr, 1, size)
}

// pushRun adds count contiguous chunks starting at addr to the top of the
// list. The chunk at addr becomes the top. Chunks that end where the top run
// starts extend it instead of using a new descriptor.
func (l *freeList) pushRun(t *runTable, addr, count, size uintptr) bool {
	if l.top != 0 && addr+count*size == t.slots[l.top].base {
		top := &t.slots[l.top]
		top.base = addr
		top.count += count
		l.chunks += count
		return true
	}

	ref := t.get()
	if ref == 0 {
		return false
	}

	t.slots[ref] = chunkRun{base: addr, count: count, next: l.top}
	l.top = ref
	l.chunks += count
	l.runs++
	return true
}

// popAligned removes and returns the chunk closest to the top of the list
// whose address is a multiple of align.
func (l *freeList) popAligned(t *runTable, size, align uintptr) (uintptr, bool) {
	var prev runRef
	for ref := l.top; ref != 0; prev, ref = ref, t.slots[ref].next {
		run := &t.slots[ref]
		idx, ok := firstAligned(run.base, run.count, size, align)
		if !ok {
			continue
		}

		if addr, ok := l.remove(t, prev, ref, idx, size); ok {
			return addr, true
		}
	}

	return 0, false
}

// remove deletes the chunk at position idx of run ref and returns its
// address; prev is the run above ref or 0 if ref is the top. Taking a chunk
// out of the middle of a run needs a spare descriptor and fails without one.
func (l *freeList) remove(t *runTable, prev, ref runRef, idx, size uintptr) (uintptr, bool) {
	run := &t.slots[ref]
	addr := run.base + idx*size

	switch {
	case run.count == 1:
		l.link(t, prev, run.next)
		t.put(ref)
		l.runs--
	case idx == 0:
		run.base += size
		run.count--
	case idx == run.count-1:
		run.count--
	default:
		// The lower half keeps the descriptor and stays above the upper
		// half.
		upper := t.get()
		if upper == 0 {
			return 0, false
		}

		t.slots[upper] = chunkRun{base: addr + size, count: run.count - idx - 1, next: run.next}
		run.count = idx
		run.next = upper
		l.runs++
	}

	l.chunks--
	return addr, true
}

func (l *freeList) link(t *runTable, prev, next runRef) {
	if prev == 0 {
		l.top = next
		return
	}
	t.slots[prev].next = next
}

// firstAligned returns the index of the first chunk in a run of count chunks
// of the given size starting at base whose address is a multiple of align.
func firstAligned(base, count, size, align uintptr) (uintptr, bool) {
	if count == 0 {
		return 0, false
	}

	misalign := base & (align - 1)
	if align <= size {
		// Every chunk in the run shares the alignment of the first one.
		return 0, misalign == 0
	}

	// Chunk addresses step by size so only runs whose base is a multiple of
	// size can ever reach an align boundary.
	if base&(size-1) != 0 {
		return 0, false
	}

	idx := ((align - misalign) & (align - 1)) / size
	return idx, idx < count
}
