// Package multiboot provides read-only access to the multiboot2 information
// structure that the bootloader passes to the kernel entrypoint.
package multiboot

import (
	"bytes"
	"unsafe"
)

type tagType uint32

// nolint
const (
	tagMbSectionEnd tagType = iota
	tagBootCmdLine
	tagBootLoaderName
	tagModules
	tagBasicMemoryInfo
	tagBiosBootDevice
	tagMemoryMap
)

// tagHeader precedes the contents of each tag. Size includes the header but
// not the padding that keeps the next tag 8-byte aligned.
type tagHeader struct {
	tagType tagType
	size    uint32
}

// mmapHeader precedes the entries of the memory map tag.
type mmapHeader struct {
	entrySize    uint32
	entryVersion uint32
}

// MemoryEntryType defines the type of a MemoryMapEntry.
type MemoryEntryType uint32

const (
	// MemAvailable indicates that the memory region is available for use.
	MemAvailable MemoryEntryType = iota + 1

	// MemReserved indicates that the memory region is not available for use.
	MemReserved

	// MemAcpiReclaimable indicates a memory region that holds ACPI info that
	// can be reused by the OS.
	MemAcpiReclaimable

	// MemNvs indicates memory that must be preserved when hibernating.
	MemNvs

	// Any value >= memUnknown is reported as MemReserved.
	memUnknown
)

var memEntryTypeNames = [...]string{
	MemAvailable:       "available",
	MemReserved:        "reserved",
	MemAcpiReclaimable: "ACPI (reclaimable)",
	MemNvs:             "NVS",
}

// String implements fmt.Stringer for MemoryEntryType.
func (t MemoryEntryType) String() string {
	if t == 0 || t >= memUnknown {
		return "unknown"
	}

	return memEntryTypeNames[t]
}

// MemoryMapEntry describes a physical memory region reported by the
// bootloader.
type MemoryMapEntry struct {
	// The physical address for this memory region.
	PhysAddress uint64

	// The length of the memory region.
	Length uint64

	// The type of this entry.
	Type MemoryEntryType
}

var infoData uintptr

// MemRegionVisitor is invoked by VisitMemRegions for each memory region. The
// visitor returns false to abort the scan.
type MemRegionVisitor func(entry *MemoryMapEntry) bool

// CmdLineVisitor is invoked by VisitBootCmdLine for each key/value pair on the
// kernel command line. Arguments without a '=' are reported with an empty
// value. The slices alias the multiboot data and must not be retained.
type CmdLineVisitor func(key, value []byte) bool

// SetInfoPtr sets the address of the multiboot info structure. It must be
// invoked before any other function exported by this package.
func SetInfoPtr(ptr uintptr) {
	infoData = ptr
}

// VisitMemRegions invokes visitor for each memory region defined by the
// bootloader memory map. Entries with an unknown type are reported as
// MemReserved.
func VisitMemRegions(visitor MemRegionVisitor) {
	curPtr, size := findTagByType(tagMemoryMap)
	if size < uint32(unsafe.Sizeof(mmapHeader{})) {
		return
	}

	hdr := (*mmapHeader)(unsafe.Pointer(curPtr))
	if hdr.entrySize == 0 {
		return
	}

	endPtr := curPtr + uintptr(size)
	curPtr += unsafe.Sizeof(mmapHeader{})

	for ; curPtr+uintptr(hdr.entrySize) <= endPtr; curPtr += uintptr(hdr.entrySize) {
		entry := (*MemoryMapEntry)(unsafe.Pointer(curPtr))
		if entry.Type == 0 || entry.Type >= memUnknown {
			entry.Type = MemReserved
		}

		if !visitor(entry) {
			return
		}
	}
}

// VisitBootCmdLine splits the kernel command line on spaces and invokes
// visitor with each key=value pair.
func VisitBootCmdLine(visitor CmdLineVisitor) {
	cmdLine := cString(findTagByType(tagBootCmdLine))

	for len(cmdLine) != 0 {
		var arg []byte
		if idx := bytes.IndexByte(cmdLine, ' '); idx == -1 {
			arg, cmdLine = cmdLine, nil
		} else {
			arg, cmdLine = cmdLine[:idx], cmdLine[idx+1:]
		}

		if len(arg) == 0 {
			continue
		}

		key, value := arg, []byte(nil)
		if idx := bytes.IndexByte(arg, '='); idx != -1 {
			key, value = arg[:idx], arg[idx+1:]
		}

		if !visitor(key, value) {
			return
		}
	}
}

// BootLoaderName returns the name of the bootloader or nil if the bootloader
// did not report it. The returned slice aliases the multiboot data.
func BootLoaderName() []byte {
	return cString(findTagByType(tagBootLoaderName))
}

// findTagByType scans the multiboot info data for a tag of the given type. It
// returns the address of the tag contents and the content length excluding
// the tag header or (0, 0) if the tag is missing.
func findTagByType(tagType tagType) (uintptr, uint32) {
	if infoData == 0 {
		return 0, 0
	}

	hdrSize := uint32(unsafe.Sizeof(tagHeader{}))
	curPtr := infoData + 8
	for {
		hdr := (*tagHeader)(unsafe.Pointer(curPtr))
		if hdr.tagType == tagMbSectionEnd || hdr.size < hdrSize {
			return 0, 0
		}

		if hdr.tagType == tagType {
			return curPtr + uintptr(hdrSize), hdr.size - hdrSize
		}

		curPtr += uintptr((hdr.size + 7) &^ 7)
	}
}

// cString returns the NUL-terminated string stored at [ptr, ptr+size).
func cString(ptr uintptr, size uint32) []byte {
	if size == 0 {
		return nil
	}

	data := unsafe.Slice((*byte)(unsafe.Pointer(ptr)), size)
	if idx := bytes.IndexByte(data, 0); idx != -1 {
		data = data[:idx]
	}
	return data
}
