// Command redirects counts the go:redirect-from directives in the kernel
// sources and populates the redirect table of a linked kernel image.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "[redirects] error: %s\n", err)
		os.Exit(1)
	}
}
