package main

import (
	"github.com/Codetector1374/mini-kern/kernel/mem/heap"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newBinsCmd())
}

func newBinsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bins",
		Short: "Print the heap size classes",
		Long: `The bins command prints the chunk size of every heap bin together
with the range of request sizes it serves.

Example:
  heapsim bins`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p := newPrinter()
			out := cmd.OutOrStdout()

			p.Fprintf(out, "%-4s %16s   %s\n", "BIN", "CHUNK SIZE", "REQUEST SIZES")
			for bin := 0; bin < heap.NumBins; bin++ {
				low := uint64(1)
				if bin > 0 {
					low = uint64(heap.BinSize(bin-1)) + 1
				}
				high := uint64(heap.BinSize(bin))
				p.Fprintf(out, "%-4d %16d   %d - %d\n", bin, high, low, high)
			}
			return nil
		},
	}
}
