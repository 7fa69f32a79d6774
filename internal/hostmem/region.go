//go:build linux || darwin || freebsd

// Package hostmem provides page-granular virtual memory for running the
// kernel allocators as a regular user-space process.
//
// A Region reserves a range of address space with no access rights. Pages
// become accessible only once they are mapped, so touching memory that the
// heap never backed faults just like it would in the kernel.
package hostmem

import (
	"fmt"
	gosync "sync"
	"unsafe"

	"github.com/Codetector1374/mini-kern/kernel"
	"github.com/Codetector1374/mini-kern/kernel/mem"
	"github.com/Codetector1374/mini-kern/kernel/mem/pmm"
	"github.com/Codetector1374/mini-kern/kernel/mem/vmm"
	"golang.org/x/sys/unix"
)

var (
	// ErrOutOfRegion is returned by Map for pages outside the region.
	ErrOutOfRegion = &kernel.Error{Module: "hostmem", Message: "page is outside the reserved region"}

	errNotPresent  = &kernel.Error{Module: "hostmem", Message: "mapping flags must include FlagPresent"}
	errProtectPage = &kernel.Error{Module: "hostmem", Message: "mprotect failed"}
)

// Region is a reserved range of host virtual memory. It implements the page
// mapper interface used by the kernel heap.
type Region struct {
	mu     gosync.Mutex
	data   []byte
	frames map[vmm.Page]pmm.Frame
}

// Reserve reserves size bytes of address space. The size must be a non-zero
// multiple of mem.PageSize and the host page size must match mem.PageSize.
func Reserve(size uintptr) (*Region, error) {
	if hostPageSize := unix.Getpagesize(); hostPageSize != int(mem.PageSize) {
		return nil, fmt.Errorf("hostmem: host page size %d does not match kernel page size %d", hostPageSize, mem.PageSize)
	}

	if size == 0 || !mem.IsAligned(size, uintptr(mem.PageSize)) {
		return nil, fmt.Errorf("hostmem: region size %d is not a non-zero multiple of the page size", size)
	}

	data, err := unix.Mmap(-1, 0, int(size), unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("hostmem: reserve %d bytes: %w", size, err)
	}

	return &Region{
		data:   data,
		frames: make(map[vmm.Page]pmm.Frame),
	}, nil
}

// Base returns the address of the first byte in the region.
func (r *Region) Base() uintptr {
	return uintptr(unsafe.Pointer(&r.data[0]))
}

// Size returns the region size in bytes.
func (r *Region) Size() uintptr {
	return uintptr(len(r.data))
}

// Contains returns true if [addr, addr+size) lies inside the region.
func (r *Region) Contains(addr, size uintptr) bool {
	base := r.Base()
	return addr >= base && size <= r.Size() && addr-base <= r.Size()-size
}

// Map makes page accessible. The frame is recorded but otherwise unused since
// the host kernel supplies the backing memory. Pages mapped without FlagRW
// are read-only.
func (r *Region) Map(page vmm.Page, frame pmm.Frame, flags vmm.PageTableEntryFlag) *kernel.Error {
	if flags&vmm.FlagPresent == 0 {
		return errNotPresent
	}

	addr := page.Address()
	if !r.Contains(addr, uintptr(mem.PageSize)) {
		return ErrOutOfRegion
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.frames[page]; exists {
		return vmm.ErrMappingExists
	}

	prot := unix.PROT_READ
	if flags&vmm.FlagRW != 0 {
		prot |= unix.PROT_WRITE
	}

	off := addr - r.Base()
	if err := unix.Mprotect(r.data[off:off+uintptr(mem.PageSize)], prot); err != nil {
		return errProtectPage
	}

	r.frames[page] = frame
	return nil
}

// Frame returns the frame recorded for page and whether the page is mapped.
func (r *Region) Frame(page vmm.Page) (pmm.Frame, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	frame, ok := r.frames[page]
	return frame, ok
}

// Mapped returns the number of mapped pages.
func (r *Region) Mapped() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.frames)
}

// Bytes returns the memory at [addr, addr+size). The range must lie inside
// the region; accessing pages that are not mapped faults.
func (r *Region) Bytes(addr, size uintptr) []byte {
	if !r.Contains(addr, size) {
		panic(fmt.Sprintf("hostmem: range [%#x, %#x) is outside the region", addr, addr+size))
	}

	off := addr - r.Base()
	return r.data[off : off+size : off+size]
}

// Close releases the region. The region must not be used afterwards.
func (r *Region) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.data == nil {
		return nil
	}

	err := unix.Munmap(r.data)
	r.data, r.frames = nil, nil
	return err
}
