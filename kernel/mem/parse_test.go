package mem

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseSize(t *testing.T) {
	specs := []struct {
		input string
		exp   Size
		expOK bool
	}{
		{"4096", 4096, true},
		{"0", 0, true},
		{"64K", 64 * Kb, true},
		{"64k", 64 * Kb, true},
		{"128M", 128 * Mb, true},
		{"2G", 2 * Gb, true},
		{"", 0, false},
		{"M", 0, false},
		{"12X", 0, false},
		{"-1", 0, false},
		{"1.5G", 0, false},
		{"18446744073709551615", Size(18446744073709551615), true},
		{"18446744073709551616", 0, false},
		{"17179869183G", 17179869183 * Gb, true},
		{"17179869184G", 0, false},
	}

	for specIndex, spec := range specs {
		got, ok := ParseSize([]byte(spec.input))
		assert.Equal(t, spec.expOK, ok, "[spec %d] %q", specIndex, spec.input)
		assert.Equal(t, spec.exp, got, "[spec %d] %q", specIndex, spec.input)
	}
}
