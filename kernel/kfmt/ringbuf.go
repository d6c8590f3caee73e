package kfmt

import "io"

// ringBufferSize is the number of bytes the ring buffer retains. It must be
// a power of 2 so index wrapping reduces to a mask operation.
const ringBufferSize = 2048

// ringBuffer is a fixed-size, allocation-free circular buffer. When the
// buffer fills up, new writes overwrite the oldest data.
type ringBuffer struct {
	data [ringBufferSize]byte

	rIndex, wIndex int
}

// Write copies p into the ring buffer. It never fails; if p is larger than
// the available space the oldest buffered bytes are dropped.
func (rb *ringBuffer) Write(p []byte) (int, error) {
	for _, b := range p {
		rb.data[rb.wIndex] = b
		rb.wIndex = (rb.wIndex + 1) & (ringBufferSize - 1)

		// on overflow push the read index forward so reads start at
		// the oldest surviving byte
		if rb.rIndex == rb.wIndex {
			rb.rIndex = (rb.rIndex + 1) & (ringBufferSize - 1)
		}
	}

	return len(p), nil
}

// Read drains buffered bytes into p, returning the count of bytes copied.
// An empty buffer reports io.EOF; the buffer becomes readable again after
// the next Write.
func (rb *ringBuffer) Read(p []byte) (int, error) {
	switch {
	case rb.rIndex < rb.wIndex:
		// data is contiguous between the two indices
		n := copy(p, rb.data[rb.rIndex:rb.wIndex])
		rb.rIndex = (rb.rIndex + n) & (ringBufferSize - 1)
		return n, nil
	case rb.rIndex > rb.wIndex:
		// data wraps around the end of the buffer
		n := copy(p, rb.data[rb.rIndex:])
		rb.rIndex = (rb.rIndex + n) & (ringBufferSize - 1)

		if n < len(p) {
			extra := copy(p[n:], rb.data[rb.rIndex:rb.wIndex])
			rb.rIndex = (rb.rIndex + extra) & (ringBufferSize - 1)
			n += extra
		}
		return n, nil
	default:
		return 0, io.EOF
	}
}
