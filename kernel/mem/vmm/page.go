package vmm

import "github.com/Codetector1374/mini-kern/kernel/mem"

// Page describes a virtual memory page index.
type Page uintptr

// Address returns the virtual address of the first byte in this page.
func (p Page) Address() uintptr {
	return uintptr(p << mem.PageShift)
}

// PageFromAddress returns the Page that contains the given virtual address.
func PageFromAddress(virtAddr uintptr) Page {
	return Page(mem.AlignDown(virtAddr, uintptr(mem.PageSize)) >> mem.PageShift)
}

// PageOffset returns the offset of a virtual address within its page.
func PageOffset(virtAddr uintptr) uintptr {
	return virtAddr & uintptr(mem.PageSize-1)
}
