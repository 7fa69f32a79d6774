package vmm

const (
	// pageLevels indicates the number of page levels supported by the amd64 architecture.
	pageLevels = 4

	// ptePhysPageMask is a mask that allows us to extract the physical memory
	// address pointed to by a page table entry. For this particular architecture,
	// bits 12-51 contain the physical memory address.
	ptePhysPageMask = uintptr(0x000ffffffffff000)

	// entriesPerTable is the number of 8-byte entries in each page table.
	entriesPerTable = 512
)

// pageLevelShifts defines the shift required to access each page table
// component of a virtual address. Each level is indexed by 9 bits.
var pageLevelShifts = [pageLevels]uint8{39, 30, 21, 12}
