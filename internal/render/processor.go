// Package render is the real-time side of the pipeline. A Processor is
// driven once per render quantum and never blocks: it pushes the quantum into
// the input ring, raises the render request, and pulls whatever output the
// producer has already made available.
package render

import (
	"errors"
	"sync/atomic"

	"github.com/lexiqai/spectral-pipeline/internal/observability"
	"github.com/lexiqai/spectral-pipeline/internal/ringbuffer"
	"github.com/lexiqai/spectral-pipeline/internal/sharedstate"
	"github.com/lexiqai/spectral-pipeline/internal/worker"
)

// ErrMissingHandles is returned when the handshake carried no shared resources
var ErrMissingHandles = errors.New("render: handshake carried no handles")

// Stats are the render side's diagnostic counters
type Stats struct {
	Quanta        uint64
	Underruns     uint64
	InputDropped  uint64
	OutputDropped uint64
}

// Processor is the consumer of the output ring and producer of the input ring
type Processor struct {
	state  *sharedstate.State
	input  *ringbuffer.Ring
	output *ringbuffer.Ring

	quanta    atomic.Uint64
	underruns atomic.Uint64
}

// New builds a processor over the handles received at handshake
func New(h *worker.Handles) (*Processor, error) {
	if h == nil || h.State == nil || h.Input == nil || h.Output == nil {
		return nil, ErrMissingHandles
	}
	return &Processor{state: h.State, input: h.Input, output: h.Output}, nil
}

// Process handles one render quantum. out is filled from the output ring
// when enough samples are ready and zeroed otherwise; the result reports
// which.
func (p *Processor) Process(in, out []float32) bool {
	p.quanta.Add(1)

	if len(in) > 0 {
		if lost := p.input.Push(in); lost > 0 {
			observability.RecordDroppedFrames("input", lost)
		}
		p.state.Signal()
	}
	observability.RecordRenderQuantum(len(in) > 0)

	if len(out) == 0 {
		return false
	}
	if p.output.Available() < len(out) {
		clear(out)
		p.underruns.Add(1)
		observability.RecordUnderrun("output")
		return false
	}
	p.output.PopInto(out)

	observability.SetRingFill("input", p.input.Available())
	observability.SetRingFill("output", p.output.Available())
	return true
}

// Stats returns the render side's counters
func (p *Processor) Stats() Stats {
	return Stats{
		Quanta:        p.quanta.Load(),
		Underruns:     p.underruns.Load(),
		InputDropped:  p.input.Dropped(),
		OutputDropped: p.output.Dropped(),
	}
}
