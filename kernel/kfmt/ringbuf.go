package kfmt

import "io"

// ringBufferSize defines the capacity of the early print buffer. It must be a
// power of 2.
const ringBufferSize = 4096

// ringBuffer is a fixed-size byte FIFO. Once full, new writes overwrite the
// oldest unread bytes.
type ringBuffer struct {
	buffer         [ringBufferSize]byte
	rIndex, wIndex int
}

// Write appends p to the buffer, discarding the oldest data if required.
func (rb *ringBuffer) Write(p []byte) (int, error) {
	for _, b := range p {
		rb.buffer[rb.wIndex] = b
		rb.wIndex = (rb.wIndex + 1) & (ringBufferSize - 1)
		if rb.wIndex == rb.rIndex {
			rb.rIndex = (rb.rIndex + 1) & (ringBufferSize - 1)
		}
	}

	return len(p), nil
}

// Read drains up to len(p) bytes. It returns io.EOF once the buffer is empty.
func (rb *ringBuffer) Read(p []byte) (int, error) {
	if rb.rIndex == rb.wIndex {
		return 0, io.EOF
	}

	// Reads never wrap; a wrapped buffer is drained by two calls.
	avail := rb.wIndex - rb.rIndex
	if rb.rIndex > rb.wIndex {
		avail = ringBufferSize - rb.rIndex
	}

	n := copy(p, rb.buffer[rb.rIndex:rb.rIndex+avail])
	rb.rIndex = (rb.rIndex + n) & (ringBufferSize - 1)
	return n, nil
}
