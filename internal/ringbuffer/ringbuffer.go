// Package ringbuffer implements the fixed-length sample rings that carry
// audio between the render context and the producer.
//
// A Ring keeps its cursors in a sharedstate.State so both sides observe them
// through the same atomic block. Each ring has exactly one writer and one
// reader; nothing here takes a lock.
package ringbuffer

import (
	"math"
	"sync/atomic"

	"github.com/lexiqai/spectral-pipeline/internal/sharedstate"
)

// Cursors names the state fields a ring uses for its bookkeeping.
type Cursors struct {
	Available sharedstate.Field
	Read      sharedstate.Field
	Write     sharedstate.Field
}

var (
	// InputCursors are written by the render context and read by the producer.
	InputCursors = Cursors{
		Available: sharedstate.InputFramesAvailable,
		Read:      sharedstate.InputReadIndex,
		Write:     sharedstate.InputWriteIndex,
	}

	// OutputCursors are written by the producer and read by the render context.
	OutputCursors = Cursors{
		Available: sharedstate.OutputFramesAvailable,
		Read:      sharedstate.OutputReadIndex,
		Write:     sharedstate.OutputWriteIndex,
	}
)

// Ring is a circular float32 buffer.
//
// Push overwrites unread samples when the writer outruns the reader; the lost
// frames are counted, never reported as errors. Samples are stored as atomic
// words so a lossy overwrite racing a read is still well defined.
type Ring struct {
	state  *sharedstate.State
	cur    Cursors
	data   []atomic.Uint32
	length int32

	dropped   atomic.Uint64
	underruns atomic.Uint64
}

// New creates a ring sized from the state's ring buffer length.
func New(state *sharedstate.State, cur Cursors) *Ring {
	n := state.RingLength()
	return &Ring{
		state:  state,
		cur:    cur,
		data:   make([]atomic.Uint32, n),
		length: int32(n),
	}
}

// Len returns the ring capacity in samples.
func (r *Ring) Len() int {
	return int(r.length)
}

// Available returns the number of unread samples.
func (r *Ring) Available() int {
	return int(r.state.Load(r.cur.Available))
}

// ReadIndex returns the read cursor.
func (r *Ring) ReadIndex() int {
	return int(r.state.Load(r.cur.Read))
}

// WriteIndex returns the write cursor.
func (r *Ring) WriteIndex() int {
	return int(r.state.Load(r.cur.Write))
}

// Dropped returns the total number of samples overwritten before being read.
func (r *Ring) Dropped() uint64 {
	return r.dropped.Load()
}

// Underruns returns how many reads asked for more samples than were available.
func (r *Ring) Underruns() uint64 {
	return r.underruns.Load()
}

// Push writes chunk at the write cursor, wrapping at most once, and returns
// the number of unread samples it overwrote. Writer side only.
func (r *Ring) Push(chunk []float32) int {
	lost := 0
	if len(chunk) > int(r.length) {
		lost = len(chunk) - int(r.length)
		chunk = chunk[lost:]
	}
	n := int32(len(chunk))
	if n == 0 {
		return lost
	}

	write := r.state.Load(r.cur.Write)
	if write+n < r.length {
		r.store(write, chunk)
		r.state.Store(r.cur.Write, write+n)
	} else {
		split := r.length - write
		r.store(write, chunk[:split])
		r.store(0, chunk[split:])
		r.state.Store(r.cur.Write, n-split)
	}

	lost += r.addAvailable(n)
	if lost > 0 {
		r.dropped.Add(uint64(lost))
	}
	return lost
}

// Pop reads count samples from the read cursor into a new slice.
func (r *Ring) Pop(count int) []float32 {
	if count > int(r.length) {
		count = int(r.length)
	}
	if count <= 0 {
		return nil
	}
	out := make([]float32, count)
	r.PopInto(out)
	return out
}

// PopInto fills dst from the read cursor, wrapping at most once. The cursor
// always advances by len(dst); a short read is counted as an underrun and
// returns whatever the ring currently holds. Reader side only.
func (r *Ring) PopInto(dst []float32) {
	if len(dst) > int(r.length) {
		dst = dst[:r.length]
	}
	count := int32(len(dst))
	if count == 0 {
		return
	}

	read := r.state.Load(r.cur.Read)
	if read+count < r.length {
		r.load(dst, read)
		r.state.Store(r.cur.Read, read+count)
	} else {
		overflow := read + count - r.length
		tail := count - overflow
		r.load(dst[:tail], read)
		r.load(dst[tail:], 0)
		r.state.Store(r.cur.Read, overflow)
	}

	if r.takeAvailable(count) < count {
		r.underruns.Add(1)
	}
}

// Snapshot returns the last n samples ending at the write cursor, oldest
// first. Cursors are left untouched.
func (r *Ring) Snapshot(n int) []float32 {
	if n > int(r.length) {
		n = int(r.length)
	}
	if n <= 0 {
		return nil
	}

	out := make([]float32, n)
	start := (r.state.Load(r.cur.Write) - int32(n) + r.length) % r.length
	if start+int32(n) <= r.length {
		r.load(out, start)
	} else {
		first := r.length - start
		r.load(out[:first], start)
		r.load(out[first:], 0)
	}
	return out
}

// addAvailable raises the available counter by n, clamped to the ring
// length, and returns the excess.
func (r *Ring) addAvailable(n int32) int {
	for {
		old := r.state.Load(r.cur.Available)
		next := old + n
		excess := int32(0)
		if next > r.length {
			excess = next - r.length
			next = r.length
		}
		if r.state.CompareAndSwap(r.cur.Available, old, next) {
			return int(excess)
		}
	}
}

// takeAvailable lowers the available counter by up to n and returns how many
// were actually taken.
func (r *Ring) takeAvailable(n int32) int32 {
	for {
		old := r.state.Load(r.cur.Available)
		take := min(n, old)
		if r.state.CompareAndSwap(r.cur.Available, old, old-take) {
			return take
		}
	}
}

func (r *Ring) store(at int32, src []float32) {
	for i, v := range src {
		r.data[int(at)+i].Store(math.Float32bits(v))
	}
}

func (r *Ring) load(dst []float32, at int32) {
	for i := range dst {
		dst[i] = math.Float32frombits(r.data[int(at)+i].Load())
	}
}
