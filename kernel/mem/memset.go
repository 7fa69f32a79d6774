package mem

import "unsafe"

// Memset fills the size bytes at addr with value. The caller must own the
// whole range.
func Memset(addr uintptr, value byte, size Size) {
	if size == 0 {
		return
	}

	buf := unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)
	if value == 0 {
		clear(buf)
		return
	}

	// Double the filled prefix on every pass.
	buf[0] = value
	for filled := 1; filled < len(buf); filled *= 2 {
		copy(buf[filled:], buf[:filled])
	}
}
