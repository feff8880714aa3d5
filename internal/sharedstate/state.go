package sharedstate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// Field names a slot in the shared state block
type Field int

const (
	RequestRender Field = iota
	InputFramesAvailable
	InputReadIndex
	InputWriteIndex
	OutputFramesAvailable
	OutputReadIndex
	OutputWriteIndex
	RingBufferLength
	KernelLength

	fieldCount
)

var fieldNames = [fieldCount]string{
	"request_render",
	"input_frames_available",
	"input_read_index",
	"input_write_index",
	"output_frames_available",
	"output_read_index",
	"output_write_index",
	"ring_buffer_length",
	"kernel_length",
}

func (f Field) String() string {
	if f < 0 || f >= fieldCount {
		return fmt.Sprintf("field(%d)", int(f))
	}
	return fieldNames[f]
}

var (
	// ErrInvalidGeometry is returned when the ring or kernel length cannot back a pipeline.
	ErrInvalidGeometry = errors.New("sharedstate: invalid ring buffer geometry")

	// ErrClosed is returned by Wait once the block has been torn down.
	ErrClosed = errors.New("sharedstate: state block closed")
)

// slot keeps every field on its own cache line so the producer and
// consumer cursors never share one.
type slot struct {
	v atomic.Int32
	_ cpu.CacheLinePad
}

// State is the coordination block shared between the render context and the
// producer. Every field is accessed atomically; the render-request flag is
// the only synchronization edge between the two sides.
type State struct {
	slots [fieldCount]slot

	// wake carries at most one pending notification for a blocked Wait.
	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New allocates a state block for the given geometry. The kernel length must
// be a power of two and the ring length a positive multiple of it.
func New(ringBufferLength, kernelLength int) (*State, error) {
	if err := ValidateGeometry(ringBufferLength, kernelLength); err != nil {
		return nil, err
	}

	s := &State{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	s.Store(RingBufferLength, int32(ringBufferLength))
	s.Store(KernelLength, int32(kernelLength))
	return s, nil
}

// ValidateGeometry reports whether a ring/kernel pair is usable.
func ValidateGeometry(ringBufferLength, kernelLength int) error {
	switch {
	case kernelLength <= 0:
		return fmt.Errorf("%w: kernel length %d must be positive", ErrInvalidGeometry, kernelLength)
	case kernelLength&(kernelLength-1) != 0:
		return fmt.Errorf("%w: kernel length %d is not a power of two", ErrInvalidGeometry, kernelLength)
	case ringBufferLength <= 0:
		return fmt.Errorf("%w: ring buffer length %d must be positive", ErrInvalidGeometry, ringBufferLength)
	case ringBufferLength%kernelLength != 0:
		return fmt.Errorf("%w: ring buffer length %d is not a multiple of kernel length %d",
			ErrInvalidGeometry, ringBufferLength, kernelLength)
	case ringBufferLength > 1<<30:
		return fmt.Errorf("%w: ring buffer length %d too large", ErrInvalidGeometry, ringBufferLength)
	}
	return nil
}

// Load atomically reads a field.
func (s *State) Load(f Field) int32 {
	return s.slots[f].v.Load()
}

// Store atomically writes a field.
func (s *State) Store(f Field, v int32) {
	s.slots[f].v.Store(v)
}

// Add atomically adds delta to a field and returns the new value.
func (s *State) Add(f Field, delta int32) int32 {
	return s.slots[f].v.Add(delta)
}

// CompareAndSwap atomically replaces old with new if the field still holds old.
func (s *State) CompareAndSwap(f Field, old, new int32) bool {
	return s.slots[f].v.CompareAndSwap(old, new)
}

// RingLength returns the configured ring buffer length.
func (s *State) RingLength() int {
	return int(s.Load(RingBufferLength))
}

// KernelLength returns the configured kernel length.
func (s *State) KernelLength() int {
	return int(s.Load(KernelLength))
}

// Signal sets the render-request flag and wakes the producer. It never blocks.
func (s *State) Signal() {
	s.Store(RequestRender, 1)
	select {
	case s.wake <- struct{}{}:
	default:
		// a notification is already pending
	}
}

// Pending reports whether the render-request flag is set.
func (s *State) Pending() bool {
	return s.Load(RequestRender) != 0
}

// Ack clears the render-request flag.
func (s *State) Ack() {
	s.Store(RequestRender, 0)
}

// Wait blocks until the render-request flag is set, the block is closed or
// ctx is done.
func (s *State) Wait(ctx context.Context) error {
	for {
		select {
		case <-s.done:
			return ErrClosed
		default:
		}

		if s.Pending() {
			return nil
		}

		select {
		case <-s.wake:
		case <-s.done:
			return ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close tears the block down and releases a blocked Wait. Safe to call more than once.
func (s *State) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

// Closed reports whether Close has been called.
func (s *State) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Snapshot returns the current value of every field, keyed by field name.
// Fields are loaded one at a time, so the result is not a consistent cut.
func (s *State) Snapshot() map[string]int32 {
	out := make(map[string]int32, fieldCount)
	for f := Field(0); f < fieldCount; f++ {
		out[f.String()] = s.Load(f)
	}
	return out
}
