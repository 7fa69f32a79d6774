package main

import (
	"fmt"
	"os"

	"github.com/Codetector1374/mini-kern/kernel/sync"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var (
	// Global flags
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "heapsim",
	Short: "Exercise the kernel frame and heap allocators in user space",
	Long: `heapsim drives the kernel's physical frame allocator and bin heap
allocator with synthetic workloads. Heap pages are backed by host memory that
only becomes accessible once the allocator maps it, so stray accesses fault
the same way they would inside the kernel.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		// cli/sti are privileged instructions.
		sync.SetInterruptControl(func() uint64 { return 0 }, func(uint64) {})
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Show allocator log output")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// newPrinter returns a printer that groups digits in large numbers.
func newPrinter() *message.Printer {
	return message.NewPrinter(language.English)
}
