package mem

import "math"

// ParseSize parses a decimal byte count with an optional K, M or G suffix
// (case-insensitive), e.g. 4096, 64K or 2G. It returns false if value is
// malformed or the result does not fit in a Size.
func ParseSize(value []byte) (Size, bool) {
	if len(value) == 0 {
		return 0, false
	}

	unit := Byte
	switch value[len(value)-1] {
	case 'K', 'k':
		unit = Kb
	case 'M', 'm':
		unit = Mb
	case 'G', 'g':
		unit = Gb
	}
	if unit != Byte {
		value = value[:len(value)-1]
	}

	if len(value) == 0 {
		return 0, false
	}

	var size Size
	for _, ch := range value {
		if ch < '0' || ch > '9' {
			return 0, false
		}

		digit := Size(ch - '0')
		if size > (math.MaxUint64-digit)/10 {
			return 0, false
		}
		size = size*10 + digit
	}

	if size > math.MaxUint64/unit {
		return 0, false
	}

	return size * unit, true
}
