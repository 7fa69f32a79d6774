// Package kfmt implements the kernel's formatted output. Its Printf variant
// does not allocate, so it can be used before the Go runtime or the kernel
// heap are available.
package kfmt

import (
	"io"
	"unsafe"

	"github.com/Codetector1374/mini-kern/kernel/sync"
)

// printBufSize is the size of the stack buffer used to batch writes to the sink.
const printBufSize = 128

var (
	errMissingArg   = "(MISSING)"
	errWrongArgType = "%!(WRONGTYPE)"
	errNoVerb       = "%!(NOVERB)"
	errExtraArg     = "%!(EXTRA)"

	// earlyPrintBuffer stores Printf output until an output sink is
	// installed via SetOutputSink.
	earlyPrintBuffer ringBuffer
	earlyPrintLock   sync.Spinlock

	// outputSink is the io.Writer where Printf sends its output. While
	// nil, output is captured by earlyPrintBuffer.
	outputSink io.Writer
)

// SetOutputSink sets the default target for calls to Printf to w and copies
// any data accumulated in the early print buffer to it.
func SetOutputSink(w io.Writer) {
	outputSink = w
	if w == nil {
		return
	}

	earlyPrintLock.Acquire()
	io.Copy(w, &earlyPrintBuffer)
	earlyPrintLock.Release()
}

// Printf formats according to a format specifier and writes to the active
// output sink. The following subset of the fmt verbs is supported:
//
//	%s  string or []byte
//	%d  base 10 integer
//	%x  base 16 integer, lower-case a-f
//	%o  base 8 integer
//	%t  boolean
//	%%  a literal percent sign
//
// A decimal width may precede the verb. Strings and base 10 integers are
// left-padded with spaces; base 8 and base 16 integers are left-padded with
// zeroes. Arguments must be built-in integer, string, []byte or bool values;
// Stringer and error values are not inspected.
func Printf(format string, args ...interface{}) {
	Fprintf(nil, format, args...)
}

// Fprintf behaves like Printf but writes the formatted output to w. A nil w
// selects the active output sink.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	if w == nil {
		w = outputSink
	}

	var (
		p       = printer{w: w}
		argIdx  int
		width   int
		fmtLen  = len(format)
		inVerb  bool
		pending byte
	)

	for i := 0; i < fmtLen; i++ {
		pending = format[i]
		if !inVerb {
			if pending == '%' {
				inVerb, width = true, 0
				continue
			}
			p.writeByte(pending)
			continue
		}

		switch {
		case pending == '%':
			p.writeByte('%')
		case pending >= '0' && pending <= '9':
			width = width*10 + int(pending-'0')
			continue
		case pending == 'd' || pending == 'x' || pending == 'o' || pending == 's' || pending == 't':
			if argIdx >= len(args) {
				p.writeString(errMissingArg)
				break
			}

			switch pending {
			case 'd':
				p.fmtInt(args[argIdx], 10, width)
			case 'x':
				p.fmtInt(args[argIdx], 16, width)
			case 'o':
				p.fmtInt(args[argIdx], 8, width)
			case 's':
				p.fmtString(args[argIdx], width)
			case 't':
				p.fmtBool(args[argIdx])
			}
			argIdx++
		default:
			p.writeString(errNoVerb)
		}
		inVerb = false
	}

	if inVerb {
		p.writeString(errNoVerb)
	}

	for ; argIdx < len(args); argIdx++ {
		p.writeString(errExtraArg)
	}

	p.flush()
}

// printer batches output bytes in a fixed buffer that lives on the caller's
// stack.
type printer struct {
	w   io.Writer
	buf [printBufSize]byte
	n   int
}

func (p *printer) writeByte(b byte) {
	if p.n == len(p.buf) {
		p.flush()
	}
	p.buf[p.n] = b
	p.n++
}

func (p *printer) writeString(s string) {
	for i := 0; i < len(s); i++ {
		p.writeByte(s[i])
	}
}

func (p *printer) pad(ch byte, count int) {
	for ; count > 0; count-- {
		p.writeByte(ch)
	}
}

func (p *printer) flush() {
	if p.n == 0 {
		return
	}
	doWrite(p.w, p.buf[:p.n])
	p.n = 0
}

func (p *printer) fmtBool(v interface{}) {
	b, ok := v.(bool)
	switch {
	case !ok:
		p.writeString(errWrongArgType)
	case b:
		p.writeString("true")
	default:
		p.writeString("false")
	}
}

func (p *printer) fmtString(v interface{}, width int) {
	switch s := v.(type) {
	case string:
		p.pad(' ', width-len(s))
		p.writeString(s)
	case []byte:
		p.pad(' ', width-len(s))
		for _, b := range s {
			p.writeByte(b)
		}
	default:
		p.writeString(errWrongArgType)
	}
}

// fmtInt prints v in the requested base. All built-in signed and unsigned
// integer types are supported.
func (p *printer) fmtInt(v interface{}, base uint64, width int) {
	var (
		uval   uint64
		neg    bool
		digits [24]byte
		end    = len(digits)
	)

	switch n := v.(type) {
	case uint8:
		uval = uint64(n)
	case uint16:
		uval = uint64(n)
	case uint32:
		uval = uint64(n)
	case uint64:
		uval = n
	case uint:
		uval = uint64(n)
	case uintptr:
		uval = uint64(n)
	case int8:
		uval, neg = absInt(int64(n))
	case int16:
		uval, neg = absInt(int64(n))
	case int32:
		uval, neg = absInt(int64(n))
	case int64:
		uval, neg = absInt(n)
	case int:
		uval, neg = absInt(int64(n))
	default:
		p.writeString(errWrongArgType)
		return
	}

	start := end
	for {
		digit := byte(uval % base)
		if digit < 10 {
			digit += '0'
		} else {
			digit += 'a' - 10
		}
		start--
		digits[start] = digit

		if uval /= base; uval == 0 {
			break
		}
	}

	numLen := end - start
	if neg {
		numLen++
	}

	if base == 10 {
		p.pad(' ', width-numLen)
		if neg {
			p.writeByte('-')
		}
	} else {
		if neg {
			p.writeByte('-')
		}
		p.pad('0', width-numLen)
	}

	for ; start < end; start++ {
		p.writeByte(digits[start])
	}
}

func absInt(v int64) (uint64, bool) {
	if v < 0 {
		return uint64(-v), true
	}
	return uint64(v), false
}

// doWrite hides p from the compiler's escape analysis. Passing p to the
// io.Writer interface directly would force the printer buffer onto the heap.
func doWrite(w io.Writer, p []byte) {
	doRealWrite(w, noEscape(unsafe.Pointer(&p)))
}

func doRealWrite(w io.Writer, bufPtr unsafe.Pointer) {
	p := *(*[]byte)(bufPtr)
	if w != nil {
		w.Write(p)
		return
	}

	earlyPrintLock.Acquire()
	earlyPrintBuffer.Write(p)
	earlyPrintLock.Release()
}

// noEscape hides a pointer from escape analysis. This function is copied over
// from runtime/stubs.go
//
//go:nosplit
func noEscape(p unsafe.Pointer) unsafe.Pointer {
	x := uintptr(p)
	return unsafe.Pointer(x ^ 0)
}
