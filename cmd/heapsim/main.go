// Command heapsim runs the kernel memory allocators as a user-space process
// against real, page-protected host memory.
package main

func main() {
	execute()
}
