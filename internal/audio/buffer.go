package audio

import (
	"sync"
)

// SampleBuffer is a thread-safe FIFO of float32 samples. It sits between a
// network source and the render clock, absorbing arrival jitter. When full,
// the oldest samples are discarded to keep latency bounded.
type SampleBuffer struct {
	buffer  []float32
	size    int
	read    int
	count   int
	dropped uint64
	mu      sync.Mutex
}

// NewSampleBuffer creates a new sample buffer holding up to size samples
func NewSampleBuffer(size int) *SampleBuffer {
	if size < 1 {
		size = 1
	}
	return &SampleBuffer{
		buffer: make([]float32, size),
		size:   size,
	}
}

// Write appends samples, evicting the oldest ones when there is no room.
// Returns the number of samples evicted.
func (sb *SampleBuffer) Write(samples []float32) int {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	evicted := 0
	if len(samples) > sb.size {
		evicted = len(samples) - sb.size
		samples = samples[evicted:]
	}
	if over := sb.count + len(samples) - sb.size; over > 0 {
		sb.read = (sb.read + over) % sb.size
		sb.count -= over
		evicted += over
	}

	write := (sb.read + sb.count) % sb.size
	n := copy(sb.buffer[write:], samples)
	copy(sb.buffer, samples[n:])
	sb.count += len(samples)

	sb.dropped += uint64(evicted)
	return evicted
}

// Read copies up to len(dst) samples out of the buffer
// Returns the number of samples read
func (sb *SampleBuffer) Read(dst []float32) int {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	n := min(len(dst), sb.count)
	if n == 0 {
		return 0
	}

	first := copy(dst[:n], sb.buffer[sb.read:])
	copy(dst[first:n], sb.buffer)
	sb.read = (sb.read + n) % sb.size
	sb.count -= n
	return n
}

// Available returns the number of samples ready to read
func (sb *SampleBuffer) Available() int {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return sb.count
}

// Dropped returns the total number of samples evicted
func (sb *SampleBuffer) Dropped() uint64 {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return sb.dropped
}

// Clear empties the buffer
func (sb *SampleBuffer) Clear() {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	sb.read = 0
	sb.count = 0
}
