package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/spectral-pipeline/internal/kernel"
	"github.com/lexiqai/spectral-pipeline/internal/observability"
	"github.com/lexiqai/spectral-pipeline/internal/ringbuffer"
	"github.com/lexiqai/spectral-pipeline/internal/sharedstate"
)

// MessageKind identifies a handshake message
type MessageKind string

// MessageReady is sent by each side once it can touch the buffers
const MessageReady MessageKind = "ready"

// Handles are the shared resources handed to the render side at handshake
type Handles struct {
	State  *sharedstate.State
	Input  *ringbuffer.Ring
	Output *ringbuffer.Ring
}

// Message is one step of the ready handshake
type Message struct {
	Kind    MessageKind
	Handles *Handles
}

// ErrHandshake is returned when the render side answers with something other than ready
var ErrHandshake = errors.New("worker: unexpected handshake message")

// Stats are the producer's diagnostic counters
type Stats struct {
	Cycles        uint64
	SkippedCycles uint64
	OutputDropped uint64
}

// Producer owns the shared state block and both rings. It blocks on the
// render-request flag and turns one kernel of input into one kernel of
// output per signal.
type Producer struct {
	state     *sharedstate.State
	input     *ringbuffer.Ring
	output    *ringbuffer.Ring
	transform kernel.Transform
	logger    zerolog.Logger

	src []float32
	dst []float32

	cycles  atomic.Uint64
	skipped atomic.Uint64
}

// New allocates the shared state block and rings for the given geometry
func New(ringBufferLength, kernelLength int, transform kernel.Transform, logger zerolog.Logger) (*Producer, error) {
	state, err := sharedstate.New(ringBufferLength, kernelLength)
	if err != nil {
		return nil, err
	}
	if transform == nil {
		transform = kernel.Identity{}
	}

	return &Producer{
		state:     state,
		input:     ringbuffer.New(state, ringbuffer.InputCursors),
		output:    ringbuffer.New(state, ringbuffer.OutputCursors),
		transform: transform,
		logger:    logger.With().Str("component", "producer").Str("transform", transform.Name()).Logger(),
		src:       make([]float32, kernelLength),
		dst:       make([]float32, kernelLength),
	}, nil
}

// Handles returns the shared resources for the render side
func (p *Producer) Handles() *Handles {
	return &Handles{State: p.state, Input: p.input, Output: p.output}
}

// Run announces readiness on toRender, waits for the render side's ready
// reply on fromRender, then processes kernels until ctx is done or the state
// block is closed.
func (p *Producer) Run(ctx context.Context, toRender chan<- Message, fromRender <-chan Message) error {
	select {
	case toRender <- Message{Kind: MessageReady, Handles: p.Handles()}:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case msg := <-fromRender:
		if msg.Kind != MessageReady {
			return fmt.Errorf("%w: %q", ErrHandshake, msg.Kind)
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	p.logger.Info().
		Int("ring_buffer_length", p.state.RingLength()).
		Int("kernel_length", p.state.KernelLength()).
		Msg("Producer ready")

	for {
		if err := p.state.Wait(ctx); err != nil {
			if errors.Is(err, sharedstate.ErrClosed) {
				p.logger.Info().Msg("Producer stopped: state block closed")
				return nil
			}
			return err
		}
		p.Cycle()
	}
}

// Cycle handles one render request: pop a kernel of input, transform it,
// push the result to the output ring, then clear the request flag. A request
// with less than a kernel of input pending is acknowledged and skipped.
func (p *Producer) Cycle() bool {
	defer p.state.Ack()

	kernelLength := p.state.KernelLength()
	if p.input.Available() < kernelLength {
		p.skipped.Add(1)
		observability.RecordProducerSkip()
		return false
	}

	start := time.Now()
	p.input.PopInto(p.src)
	p.transform.Process(p.dst, p.src)
	if lost := p.output.Push(p.dst); lost > 0 {
		observability.RecordDroppedFrames("output", lost)
	}

	p.cycles.Add(1)
	observability.RecordProducerCycle(time.Since(start))
	return true
}

// Stats returns the producer's counters
func (p *Producer) Stats() Stats {
	return Stats{
		Cycles:        p.cycles.Load(),
		SkippedCycles: p.skipped.Load(),
		OutputDropped: p.output.Dropped(),
	}
}

// Close tears down the shared state block, releasing a blocked Run
func (p *Producer) Close() {
	p.state.Close()
}
