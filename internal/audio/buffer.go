package audio

import (
	"sync"
)

// RingBuffer is a mutex-guarded byte ring sized for playback audio. The
// session side fills it at whatever pace replies arrive; the device side
// drains it in fixed periods from the realtime callback, and Clear drops
// everything queued when the speaker is cut off mid-reply. Every byte of
// the configured capacity is usable.
type RingBuffer struct {
	mu    sync.Mutex
	buf   []byte
	head  int // index of the oldest unread byte
	count int // readable bytes
}

// NewRingBuffer creates a ring holding up to size bytes
func NewRingBuffer(size int) *RingBuffer {
	return &RingBuffer{buf: make([]byte, size)}
}

// Write copies as much of data as fits and returns the number of bytes
// accepted. It never blocks; the caller decides whether to wait and retry.
func (rb *RingBuffer) Write(data []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	n := len(rb.buf) - rb.count
	if n > len(data) {
		n = len(data)
	}
	if n == 0 {
		return 0
	}

	tail := (rb.head + rb.count) % len(rb.buf)
	written := copy(rb.buf[tail:], data[:n])
	if written < n {
		copy(rb.buf, data[written:n])
	}
	rb.count += n
	return n
}

// Read copies up to len(data) buffered bytes into data and returns the
// number copied. It never blocks; a short read means the ring ran dry.
func (rb *RingBuffer) Read(data []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	n := rb.count
	if n > len(data) {
		n = len(data)
	}
	if n == 0 {
		return 0
	}

	read := copy(data[:n], rb.buf[rb.head:])
	if read < n {
		copy(data[read:n], rb.buf)
	}
	rb.head = (rb.head + n) % len(rb.buf)
	rb.count -= n
	return n
}

// Available returns the number of buffered bytes
func (rb *RingBuffer) Available() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.count
}

// Space returns the number of bytes Write would currently accept
func (rb *RingBuffer) Space() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return len(rb.buf) - rb.count
}

// Clear drops all buffered data
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.head = 0
	rb.count = 0
}

// IsEmpty reports whether the ring holds no data
func (rb *RingBuffer) IsEmpty() bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.count == 0
}

// IsFull reports whether Write would accept nothing
func (rb *RingBuffer) IsFull() bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.count == len(rb.buf)
}
