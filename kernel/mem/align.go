package mem

// IsPowerOfTwo returns true if v is a non-zero power of two.
func IsPowerOfTwo(v uintptr) bool {
	return v != 0 && v&(v-1) == 0
}

// IsAligned returns true if addr is a multiple of align. The align argument
// must be a power of two.
func IsAligned(addr, align uintptr) bool {
	return addr&(align-1) == 0
}

// AlignDown rounds addr down to a multiple of align. The align argument must
// be a power of two.
func AlignDown(addr, align uintptr) uintptr {
	return addr &^ (align - 1)
}

// AlignUp rounds addr up to a multiple of align. The align argument must be a
// power of two. The second result is false if the rounded address does not
// fit in a uintptr.
func AlignUp(addr, align uintptr) (uintptr, bool) {
	aligned := (addr + align - 1) &^ (align - 1)
	return aligned, aligned >= addr
}
