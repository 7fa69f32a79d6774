package vmm

import (
	"testing"

	"github.com/Codetector1374/mini-kern/kernel/mem"
	"github.com/Codetector1374/mini-kern/kernel/mem/pmm"
	"github.com/stretchr/testify/assert"
)

func TestPageMethods(t *testing.T) {
	for pageIndex := uint64(0); pageIndex < 128; pageIndex++ {
		page := Page(pageIndex)
		assert.Equal(t, uintptr(pageIndex<<mem.PageShift), page.Address(), "page %d", pageIndex)
	}
}

func TestPageFromAddress(t *testing.T) {
	specs := []struct {
		input     uintptr
		expPage   Page
		expOffset uintptr
	}{
		{0, Page(0), 0},
		{4095, Page(0), 4095},
		{4096, Page(1), 0},
		{4123, Page(1), 27},
		{0xffffc00000001008, Page(0xffffc00000001), 8},
	}

	for specIndex, spec := range specs {
		assert.Equal(t, spec.expPage, PageFromAddress(spec.input), "[spec %d]", specIndex)
		assert.Equal(t, spec.expOffset, PageOffset(spec.input), "[spec %d]", specIndex)
	}
}

func TestPageTableEntry(t *testing.T) {
	pte := pageTableEntry(FlagPresent | FlagNoExecute)
	assert.True(t, pte.has(FlagPresent|FlagNoExecute))
	assert.False(t, pte.has(FlagPresent|FlagRW))

	pte.set(FlagRW)
	assert.True(t, pte.has(FlagPresent|FlagRW))

	pte.point(pmm.Frame(123))
	assert.Equal(t, pmm.Frame(123), pte.frame())
	assert.True(t, pte.has(FlagPresent|FlagRW|FlagNoExecute), "pointing the entry elsewhere must keep its flags")

	pte.point(pmm.Frame(7))
	assert.Equal(t, pmm.Frame(7), pte.frame())
	assert.Equal(t, uintptr(7<<12), uintptr(pte)&ptePhysPageMask)
}
