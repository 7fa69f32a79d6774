package mem

// Size is a length of memory in bytes.
type Size uint64

// Common sizes.
const (
	Byte Size = 1 << (10 * iota)
	Kb
	Mb
	Gb
)

// Pages returns the number of whole pages needed to hold s bytes.
func (s Size) Pages() uint64 {
	pages := uint64(s >> PageShift)
	if s&(PageSize-1) != 0 {
		pages++
	}
	return pages
}
