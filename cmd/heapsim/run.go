//go:build linux || darwin || freebsd

package main

import (
	"fmt"
	"io"
	"math/bits"
	"math/rand"
	"os"
	"strconv"
	"strings"

	"github.com/Codetector1374/mini-kern/internal/hostmem"
	"github.com/Codetector1374/mini-kern/kernel/kfmt"
	"github.com/Codetector1374/mini-kern/kernel/mem"
	"github.com/Codetector1374/mini-kern/kernel/mem/heap"
	"github.com/Codetector1374/mini-kern/kernel/mem/pmm/allocator"
	"github.com/spf13/cobra"
)

const defaultSegment = "0x1000000:64M"

// runOptions controls a simulated workload.
type runOptions struct {
	seed     int64
	ops      int
	segments []string
	window   string
	maxSize  string
	maxAlign uint
	freePct  int
}

// runReport summarizes a finished workload.
type runReport struct {
	allocs    int
	frees     int
	leaked    int
	failures  int
	live      int
	liveBytes uint64
	peakBytes uint64
	pages     int
	framesOut mem.Size
	stats     heap.Stats
}

// block is a live allocation and the tag byte its contents were filled with.
type block struct {
	addr, size uintptr
	tag        byte
}

func init() {
	rootCmd.AddCommand(newRunCmd())
}

func newRunCmd() *cobra.Command {
	opts := runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a random allocation workload against the heap",
		Long: `The run command builds a frame allocator from the given physical
segments and a heap over a window of protected host memory, then performs a
random mix of allocations and frees. Every allocation is filled with a tag
byte that is verified when the block is freed, so overlapping chunks are
reported as corruption.

Examples:
  heapsim run --ops 100000
  heapsim run --segment 0x100000:1M --segment 0x4000000:16M --window 8M
  heapsim run --seed 42 --max-size 64K --max-align 4096 -v`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if verbose {
				kfmt.SetOutputSink(&kfmt.PrefixWriter{Sink: os.Stderr, Prefix: []byte("heapsim: ")})
			} else {
				kfmt.SetOutputSink(io.Discard)
			}

			report, err := runWorkload(opts)
			if err != nil {
				return err
			}
			printReport(cmd.OutOrStdout(), report)
			return nil
		},
	}

	cmd.Flags().Int64Var(&opts.seed, "seed", 1, "Seed for the random workload")
	cmd.Flags().IntVar(&opts.ops, "ops", 10000, "Number of operations to perform")
	cmd.Flags().StringArrayVar(&opts.segments, "segment", nil, "Physical segment as base:length (repeatable, default "+defaultSegment+")")
	cmd.Flags().StringVar(&opts.window, "window", "16M", "Size of the heap's virtual window")
	cmd.Flags().StringVar(&opts.maxSize, "max-size", "4K", "Largest request size")
	cmd.Flags().UintVar(&opts.maxAlign, "max-align", 64, "Largest request alignment (power of two)")
	cmd.Flags().IntVar(&opts.freePct, "free-percent", 45, "Chance that an operation frees a live block")

	return cmd
}

// parseSegment parses a "base:length" pair. The base accepts any integer
// literal understood by strconv; the length also accepts K, M and G suffixes.
func parseSegment(s string) (base, length uintptr, err error) {
	baseStr, lenStr, ok := strings.Cut(s, ":")
	if !ok {
		return 0, 0, fmt.Errorf("segment %q: expected base:length", s)
	}

	b, err := strconv.ParseUint(baseStr, 0, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("segment %q: invalid base: %w", s, err)
	}

	l, err := parseSize(lenStr)
	if err != nil {
		return 0, 0, fmt.Errorf("segment %q: invalid length: %w", s, err)
	}

	return uintptr(b), l, nil
}

func parseSize(s string) (uintptr, error) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err := strconv.ParseUint(s, 0, 64)
		return uintptr(v), err
	}

	v, ok := mem.ParseSize([]byte(s))
	if !ok {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	return uintptr(v), nil
}

func runWorkload(opts runOptions) (*runReport, error) {
	if opts.maxAlign == 0 || opts.maxAlign&(opts.maxAlign-1) != 0 {
		return nil, fmt.Errorf("max-align %d is not a power of two", opts.maxAlign)
	}
	if opts.freePct < 0 || opts.freePct > 100 {
		return nil, fmt.Errorf("free-percent %d out of range", opts.freePct)
	}

	maxSize, err := parseSize(opts.maxSize)
	if err != nil {
		return nil, fmt.Errorf("max-size: %w", err)
	}
	if maxSize == 0 || maxSize > heap.MaxAllocSize {
		return nil, fmt.Errorf("max-size must be between 1 and %d bytes", uint64(heap.MaxAllocSize))
	}

	window, err := parseSize(opts.window)
	if err != nil {
		return nil, fmt.Errorf("window: %w", err)
	}

	segments := opts.segments
	if len(segments) == 0 {
		segments = []string{defaultSegment}
	}

	frames := &allocator.SegmentAllocator{}
	for _, s := range segments {
		base, length, err := parseSegment(s)
		if err != nil {
			return nil, err
		}
		if kerr := frames.AddSegment(base, length); kerr != nil {
			return nil, fmt.Errorf("segment %q: %s", s, kerr.Message)
		}
	}
	framesIn := frames.FreeSpace()

	region, err := hostmem.Reserve(window)
	if err != nil {
		return nil, err
	}
	defer region.Close()

	h, kerr := heap.New(region.Base(), region.Base()+region.Size(), frames, region)
	if kerr != nil {
		return nil, fmt.Errorf("heap: %s", kerr.Message)
	}

	var (
		rng    = rand.New(rand.NewSource(opts.seed))
		live   []block
		report = &runReport{}
		tag    byte
	)

	for i := 0; i < opts.ops; i++ {
		if len(live) > 0 && rng.Intn(100) < opts.freePct {
			j := rng.Intn(len(live))
			b := live[j]
			if err := verifyBlock(region, b); err != nil {
				return nil, err
			}
			if kerr := h.Dealloc(b.addr, b.size); kerr != nil {
				if kerr != heap.ErrFreeListFull {
					return nil, fmt.Errorf("dealloc(%#x, %d): %s", b.addr, b.size, kerr.Message)
				}
				report.leaked++
			}

			live[j] = live[len(live)-1]
			live = live[:len(live)-1]
			report.liveBytes -= uint64(b.size)
			report.frees++
			continue
		}

		size := uintptr(rng.Int63n(int64(maxSize))) + 1
		align := uintptr(1) << uint(rng.Intn(bits.Len(opts.maxAlign)))

		addr, kerr := h.Alloc(size, align)
		if kerr != nil {
			if kerr != heap.ErrHeapExhausted && kerr != heap.ErrFreeListFull {
				return nil, fmt.Errorf("alloc(%d, %d): %s", size, align, kerr.Message)
			}
			report.failures++
			continue
		}
		if addr&(align-1) != 0 {
			return nil, fmt.Errorf("alloc(%d, %d) returned misaligned address %#x", size, align, addr)
		}
		if !region.Contains(addr, size) {
			return nil, fmt.Errorf("alloc(%d, %d) returned %#x outside the heap window", size, align, addr)
		}

		tag++
		if tag == 0 {
			tag = 1
		}
		b := block{addr: addr, size: size, tag: tag}
		fillBlock(region, b)
		live = append(live, b)

		report.allocs++
		report.liveBytes += uint64(size)
		if report.liveBytes > report.peakBytes {
			report.peakBytes = report.liveBytes
		}
	}

	for _, b := range live {
		if err := verifyBlock(region, b); err != nil {
			return nil, err
		}
	}

	report.live = len(live)
	report.pages = region.Mapped()
	report.framesOut = framesIn - frames.FreeSpace()
	report.stats = h.Stats()

	if verbose {
		frames.PrintSegments(nil, "frames")
		h.PrintStats(nil)
	}

	return report, nil
}

func fillBlock(r *hostmem.Region, b block) {
	data := r.Bytes(b.addr, b.size)
	for i := range data {
		data[i] = b.tag
	}
}

func verifyBlock(r *hostmem.Region, b block) error {
	for i, v := range r.Bytes(b.addr, b.size) {
		if v != b.tag {
			return fmt.Errorf("block %#x (%d bytes) corrupted at offset %d: want tag %#x, got %#x",
				b.addr, b.size, i, b.tag, v)
		}
	}
	return nil
}

func printReport(w io.Writer, r *runReport) {
	p := newPrinter()

	p.Fprintf(w, "allocations:      %d\n", r.allocs)
	p.Fprintf(w, "frees:            %d\n", r.frees)
	p.Fprintf(w, "leaked frees:     %d\n", r.leaked)
	p.Fprintf(w, "failed:           %d\n", r.failures)
	p.Fprintf(w, "live blocks:      %d (%d bytes)\n", r.live, r.liveBytes)
	p.Fprintf(w, "peak live bytes:  %d\n", r.peakBytes)
	p.Fprintf(w, "mapped pages:     %d\n", r.pages)
	p.Fprintf(w, "frames consumed:  %d bytes\n", uint64(r.framesOut))
	p.Fprintf(w, "heap free bytes:  %d\n", uint64(r.stats.FreeBytes()))
	p.Fprintf(w, "frontier:         %#x\n", uint64(r.stats.Frontier))
}
