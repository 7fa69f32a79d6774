package main

import "github.com/Codetector1374/mini-kern/kernel/kmain"

var (
	multibootInfoPtr uintptr
	kernelStart      uintptr
	kernelEnd        uintptr
)

// main makes a dummy call to the actual kernel main entrypoint function. It
// is intentionally defined to prevent the Go compiler from optimizing away the
// real kernel code.
//
// Global variables are passed as arguments to Kmain to prevent the compiler
// from inlining the actual call and removing Kmain from the generated .o file.
// The rt0 code fills them in before jumping to the real entrypoint.
func main() {
	kmain.Kmain(multibootInfoPtr, kernelStart, kernelEnd)
}
