package audio

import (
	"sync"
)

// RingBuffer is a thread-safe ring buffer that keeps the most recent bytes
// written to it. It holds the pre-roll audio captured just before the VAD
// marks the start of speech.
type RingBuffer struct {
	buffer []byte
	size   int
	start  int
	length int
	mu     sync.RWMutex
}

// NewRingBuffer creates a new ring buffer with the specified size
func NewRingBuffer(size int) *RingBuffer {
	if size < 1 {
		size = 1
	}
	return &RingBuffer{
		buffer: make([]byte, size),
		size:   size,
	}
}

// Write appends data, overwriting the oldest bytes once the buffer is full.
// It always reports len(data) as written.
func (rb *RingBuffer) Write(data []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	// Only the tail of an oversized write can survive
	if len(data) >= rb.size {
		copy(rb.buffer, data[len(data)-rb.size:])
		rb.start = 0
		rb.length = rb.size
		return len(data)
	}

	for _, b := range data {
		end := (rb.start + rb.length) % rb.size
		rb.buffer[end] = b
		if rb.length == rb.size {
			rb.start = (rb.start + 1) % rb.size
		} else {
			rb.length++
		}
	}

	return len(data)
}

// Bytes returns a copy of the buffered data, oldest first
func (rb *RingBuffer) Bytes() []byte {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	out := make([]byte, rb.length)
	for i := 0; i < rb.length; i++ {
		out[i] = rb.buffer[(rb.start+i)%rb.size]
	}
	return out
}

// Drain returns the buffered data and empties the buffer
func (rb *RingBuffer) Drain() []byte {
	out := rb.Bytes()
	rb.Clear()
	return out
}

// Clear clears the buffer
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.start = 0
	rb.length = 0
}
