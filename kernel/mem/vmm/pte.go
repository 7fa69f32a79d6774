package vmm

import (
	"github.com/Codetector1374/mini-kern/kernel/mem/pmm"
)

// PageTableEntryFlag is a bit in an amd64 page table entry.
type PageTableEntryFlag uintptr

const (
	// FlagPresent is set when the page is available in memory and not swapped out.
	FlagPresent PageTableEntryFlag = 1 << iota

	// FlagRW is set if the page can be written to.
	FlagRW

	// FlagUserAccessible is set if user-mode processes can access this page. If
	// not set only kernel code can access this page.
	FlagUserAccessible

	// FlagWriteThroughCaching implies write-through caching when set and write-back
	// caching if cleared.
	FlagWriteThroughCaching

	// FlagDoNotCache prevents this page from being cached if set.
	FlagDoNotCache

	// FlagAccessed is set by the CPU when this page is accessed.
	FlagAccessed

	// FlagDirty is set by the CPU when this page is modified.
	FlagDirty

	// FlagHugePage is set when an intermediate entry maps a 2M or 1G page.
	FlagHugePage

	// FlagGlobal prevents the TLB entry for this page from being flushed
	// when CR3 is reloaded.
	FlagGlobal

	// FlagNoExecute marks the page contents as non-executable.
	FlagNoExecute PageTableEntryFlag = 1 << 63
)

// pageTableEntry is a single slot of a page table. Bits 12-51 hold the
// physical address of the next table or of the mapped frame; the remaining
// bits are flags.
type pageTableEntry uintptr

func (pte pageTableEntry) has(flags PageTableEntryFlag) bool {
	return PageTableEntryFlag(pte)&flags == flags
}

func (pte *pageTableEntry) set(flags PageTableEntryFlag) {
	*pte |= pageTableEntry(flags)
}

func (pte pageTableEntry) frame() pmm.Frame {
	return pmm.FrameFromAddress(uintptr(pte) & ptePhysPageMask)
}

// point replaces the address bits of the entry, leaving its flags intact.
func (pte *pageTableEntry) point(frame pmm.Frame) {
	*pte = *pte&^pageTableEntry(ptePhysPageMask) | pageTableEntry(frame.Address())
}
