// Package pipeline wires the producer and the render processor together.
// It performs the two-message ready handshake, drives the render processor
// from a clock at the configured quantum cadence, and reassembles the
// producer's output into kernel-length frames for a Sink.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/spectral-pipeline/internal/audio"
	"github.com/lexiqai/spectral-pipeline/internal/config"
	"github.com/lexiqai/spectral-pipeline/internal/kernel"
	"github.com/lexiqai/spectral-pipeline/internal/observability"
	"github.com/lexiqai/spectral-pipeline/internal/render"
	"github.com/lexiqai/spectral-pipeline/internal/worker"
)

var (
	// ErrHandshakeTimeout is returned when the producer does not announce itself in time
	ErrHandshakeTimeout = errors.New("pipeline: handshake timed out")

	// ErrAlreadyStarted is returned by a second call to Start
	ErrAlreadyStarted = errors.New("pipeline: already started")
)

// Source supplies input samples to the render clock. Read must not block
// and returns the number of samples written to dst.
type Source interface {
	Read(dst []float32) int
}

// Frame is one kernel of producer output
type Frame struct {
	Sequence    uint64
	StartSample uint64
	SampleRate  int
	Transform   string
	RMS         float64 // level of the input fed during this frame's window
	Active      bool
	Data        []float32
}

// Sink receives completed frames on the render goroutine. It must not block.
type Sink interface {
	Publish(Frame)
}

// SinkFunc adapts a function to a Sink
type SinkFunc func(Frame)

func (f SinkFunc) Publish(fr Frame) { f(fr) }

// Stats are the pipeline's combined diagnostic counters
type Stats struct {
	Cycles        uint64
	SkippedCycles uint64
	Quanta        uint64
	Underruns     uint64
	InputDropped  uint64
	OutputDropped uint64
	Frames        uint64
}

// Pipeline owns both execution contexts of one producer/render pair
type Pipeline struct {
	cfg       *config.Config
	transform kernel.Transform
	source    Source
	sink      Sink
	logger    zerolog.Logger

	producer  *worker.Producer
	processor atomic.Pointer[render.Processor]
	detector  *audio.ActivityDetector

	handshakeTimeout time.Duration
	interval         time.Duration

	started   atomic.Bool
	ready     atomic.Bool
	frames    atomic.Uint64
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New allocates the producer side for cfg's geometry. Nothing runs until Start.
func New(cfg *config.Config, transform kernel.Transform, source Source, sink Sink, logger zerolog.Logger) (*Pipeline, error) {
	if transform == nil {
		transform = kernel.Identity{}
	}
	producer, err := worker.New(cfg.RingBufferLength, cfg.KernelLength, transform, logger)
	if err != nil {
		return nil, fmt.Errorf("create producer: %w", err)
	}
	if sink == nil {
		sink = SinkFunc(func(Frame) {})
	}

	return &Pipeline{
		cfg:       cfg,
		transform: transform,
		source:    source,
		sink:      sink,
		logger:    logger.With().Str("component", "pipeline").Logger(),
		producer:  producer,
		detector: audio.NewActivityDetector(&audio.ActivityConfig{
			Threshold:     cfg.ActivityThreshold,
			SilenceFrames: cfg.ActivitySilenceFrames,
		}),
		handshakeTimeout: time.Duration(cfg.HandshakeTimeout) * time.Second,
		interval:         cfg.QuantumInterval(),
	}, nil
}

// Start launches the producer, completes the handshake and starts the render
// clock. It returns once both sides are ready.
func (p *Pipeline) Start(ctx context.Context) error {
	if !p.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	toRender := make(chan worker.Message, 1)
	fromRender := make(chan worker.Message, 1)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.producer.Run(ctx, toRender, fromRender); err != nil && !errors.Is(err, context.Canceled) {
			p.logger.Error().Err(err).Msg("Producer stopped with error")
			observability.RecordError("producer", "pipeline")
		}
	}()

	processor, err := p.handshake(ctx, toRender, fromRender)
	if err != nil {
		p.Close()
		return err
	}
	p.processor.Store(processor)
	p.ready.Store(true)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.renderLoop(ctx)
	}()

	p.logger.Info().
		Int("ring_buffer_length", p.cfg.RingBufferLength).
		Int("kernel_length", p.cfg.KernelLength).
		Int("render_quantum", p.cfg.RenderQuantum).
		Dur("quantum_interval", p.interval).
		Str("transform", p.transform.Name()).
		Msg("Pipeline started")
	return nil
}

// handshake waits for the producer's ready message, builds the render
// processor from the handles it carries, and answers ready.
func (p *Pipeline) handshake(ctx context.Context, toRender <-chan worker.Message, fromRender chan<- worker.Message) (*render.Processor, error) {
	timer := time.NewTimer(p.handshakeTimeout)
	defer timer.Stop()

	var msg worker.Message
	select {
	case msg = <-toRender:
	case <-timer.C:
		return nil, ErrHandshakeTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if msg.Kind != worker.MessageReady {
		return nil, fmt.Errorf("%w: %q", worker.ErrHandshake, msg.Kind)
	}

	processor, err := render.New(msg.Handles)
	if err != nil {
		return nil, err
	}

	select {
	case fromRender <- worker.Message{Kind: worker.MessageReady}:
	case <-timer.C:
		return nil, ErrHandshakeTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return processor, nil
}

// renderLoop plays the role of the audio engine: one Process call per tick.
func (p *Pipeline) renderLoop(ctx context.Context) {
	quantum := p.cfg.RenderQuantum
	kernelLength := p.cfg.KernelLength

	in := make([]float32, quantum)
	out := make([]float32, quantum)
	frame := make([]float32, 0, kernelLength)
	var energy float64
	var fed int

	processor := p.processor.Load()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		n := 0
		if p.source != nil {
			n = p.source.Read(in)
		}
		clear(in[n:])

		for _, s := range in {
			energy += float64(s) * float64(s)
		}
		fed += len(in)

		if !processor.Process(in, out) {
			continue
		}

		frame = append(frame, out...)
		if len(frame) < kernelLength {
			continue
		}

		rms := 0.0
		if fed > 0 {
			rms = math.Sqrt(energy / float64(fed))
		}
		p.emit(frame, rms)
		frame = frame[:0]
		energy, fed = 0, 0
	}
}

func (p *Pipeline) emit(data []float32, rms float64) {
	active, started, ended := p.detector.ProcessLevel(rms)
	seq := p.frames.Add(1) - 1
	switch {
	case started:
		p.logger.Info().Uint64("sequence", seq).Float64("rms", rms).Msg("Activity started")
	case ended:
		p.logger.Info().Uint64("sequence", seq).Msg("Activity ended")
	}

	fr := Frame{
		Sequence:    seq,
		StartSample: seq * uint64(p.cfg.KernelLength),
		SampleRate:  p.cfg.SampleRate,
		Transform:   p.transform.Name(),
		RMS:         rms,
		Active:      active,
		Data:        append([]float32(nil), data...),
	}
	p.sink.Publish(fr)
	observability.RecordFrameEmitted(fr.Transform)
}

// Ready reports whether the handshake has completed
func (p *Pipeline) Ready() bool {
	return p.ready.Load()
}

// Stats returns the current counters of both sides
func (p *Pipeline) Stats() Stats {
	ps := p.producer.Stats()
	s := Stats{
		Cycles:        ps.Cycles,
		SkippedCycles: ps.SkippedCycles,
		OutputDropped: ps.OutputDropped,
		Frames:        p.frames.Load(),
	}
	if processor := p.processor.Load(); processor != nil {
		rs := processor.Stats()
		s.Quanta = rs.Quanta
		s.Underruns = rs.Underruns
		s.InputDropped = rs.InputDropped
	}
	return s
}

// Close stops the render clock, releases the blocked producer and waits for
// both goroutines. Safe to call more than once.
func (p *Pipeline) Close() {
	p.closeOnce.Do(func() {
		p.ready.Store(false)
		if p.cancel != nil {
			p.cancel()
		}
		p.producer.Close()
		p.wg.Wait()
		p.logger.Info().Uint64("frames", p.frames.Load()).Msg("Pipeline closed")
	})
}
