package tailbuffer

import (
	"strings"
	"sync"
)

// Buffer accumulates process output. When a capacity is set, only the most
// recent capacity bytes are retained. Reads never consume the contents.
type Buffer struct {
	lock     sync.Mutex
	buf      []byte
	capacity int
	// dropped counts bytes discarded from the front of the buffer.
	dropped int64
}

// New creates a buffer holding at most capacity bytes. A capacity of zero
// or less means the buffer grows without bound.
func New(capacity int) *Buffer {
	if capacity < 0 {
		capacity = 0
	}
	return &Buffer{capacity: capacity}
}

func (b *Buffer) Write(p []byte) (int, error) {
	b.lock.Lock()
	defer b.lock.Unlock()

	b.buf = append(b.buf, p...)
	if b.capacity > 0 && len(b.buf) > b.capacity {
		excess := len(b.buf) - b.capacity
		n := copy(b.buf, b.buf[excess:])
		b.buf = b.buf[:n]
		b.dropped += int64(excess)
	}
	return len(p), nil
}

// String returns a snapshot of the retained output.
func (b *Buffer) String() string {
	b.lock.Lock()
	defer b.lock.Unlock()
	return string(b.buf)
}

// Contains reports whether the retained output contains s.
func (b *Buffer) Contains(s string) bool {
	return strings.Contains(b.String(), s)
}

// Len returns the number of retained bytes.
func (b *Buffer) Len() int {
	b.lock.Lock()
	defer b.lock.Unlock()
	return len(b.buf)
}

// Dropped returns how many bytes have been discarded to honor the capacity.
func (b *Buffer) Dropped() int64 {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.dropped
}

// Reset empties the buffer.
func (b *Buffer) Reset() {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.buf = b.buf[:0]
	b.dropped = 0
}
