package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/spectral-pipeline/internal/config"
	"github.com/lexiqai/spectral-pipeline/internal/kernel"
	"github.com/lexiqai/spectral-pipeline/internal/sharedstate"
	"github.com/lexiqai/spectral-pipeline/internal/worker"
)

type constSource float32

func (c constSource) Read(dst []float32) int {
	for i := range dst {
		dst[i] = float32(c)
	}
	return len(dst)
}

func testConfig() *config.Config {
	return &config.Config{
		RingBufferLength:      256,
		KernelLength:          64,
		RenderQuantum:         16,
		SampleRate:            16000,
		Transform:             kernel.NameIdentity,
		HandshakeTimeout:      1,
		ActivityThreshold:     0.02,
		ActivitySilenceFrames: 2,
	}
}

func collect(frames chan Frame) Sink {
	return SinkFunc(func(f Frame) {
		select {
		case frames <- f:
		default:
		}
	})
}

func waitFrames(t *testing.T, frames chan Frame, n int) []Frame {
	t.Helper()
	var got []Frame
	timeout := time.After(3 * time.Second)
	for len(got) < n {
		select {
		case f := <-frames:
			got = append(got, f)
		case <-timeout:
			t.Fatalf("Timed out after %d of %d frames", len(got), n)
		}
	}
	return got
}

func TestNew_InvalidGeometry(t *testing.T) {
	cfg := testConfig()
	cfg.KernelLength = 48

	_, err := New(cfg, nil, nil, nil, zerolog.Nop())
	if !errors.Is(err, sharedstate.ErrInvalidGeometry) {
		t.Errorf("Expected ErrInvalidGeometry, got %v", err)
	}
}

func TestPipeline_PassThroughFrames(t *testing.T) {
	frames := make(chan Frame, 16)
	p, err := New(testConfig(), kernel.Identity{}, constSource(0.5), collect(frames), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if p.Ready() {
		t.Error("Expected pipeline not to be ready before Start")
	}

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer p.Close()

	if !p.Ready() {
		t.Error("Expected pipeline to be ready after Start")
	}

	got := waitFrames(t, frames, 3)
	for i, f := range got {
		if f.Sequence != uint64(i) {
			t.Errorf("Frame %d: expected sequence %d, got %d", i, i, f.Sequence)
		}
		if f.StartSample != uint64(i*64) {
			t.Errorf("Frame %d: expected start sample %d, got %d", i, i*64, f.StartSample)
		}
		if len(f.Data) != 64 {
			t.Fatalf("Frame %d: expected 64 samples, got %d", i, len(f.Data))
		}
		for j, v := range f.Data {
			if v != 0.5 {
				t.Fatalf("Frame %d sample %d: expected 0.5, got %f", i, j, v)
			}
		}
		if f.Transform != kernel.NameIdentity || f.SampleRate != 16000 {
			t.Errorf("Frame %d: unexpected metadata %+v", i, f)
		}
		if !f.Active {
			t.Errorf("Frame %d: expected activity at RMS %f", i, f.RMS)
		}
	}

	s := p.Stats()
	if s.Cycles == 0 || s.Quanta == 0 || s.Frames < 3 {
		t.Errorf("Unexpected stats: %+v", s)
	}
}

func TestPipeline_SpectrumFrames(t *testing.T) {
	cfg := testConfig()
	cfg.Transform = kernel.NameFFT
	tr, err := kernel.New(cfg.Transform, cfg.KernelLength, kernel.WindowNone)
	if err != nil {
		t.Fatal(err)
	}

	frames := make(chan Frame, 16)
	p, err := New(cfg, tr, constSource(1), collect(frames), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	f := waitFrames(t, frames, 1)[0]
	if f.Transform != kernel.NameFFT {
		t.Errorf("Expected fft frame, got %s", f.Transform)
	}
	if f.Data[0] < 63.9 || f.Data[0] > 64.1 {
		t.Errorf("Expected DC magnitude 64, got %f", f.Data[0])
	}
}

func TestPipeline_SilentSourceIsInactive(t *testing.T) {
	frames := make(chan Frame, 16)
	p, err := New(testConfig(), nil, nil, collect(frames), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	f := waitFrames(t, frames, 1)[0]
	if f.Active || f.RMS != 0 {
		t.Errorf("Expected silent inactive frame, got RMS %f active %v", f.RMS, f.Active)
	}
}

func TestPipeline_StartTwice(t *testing.T) {
	p, err := New(testConfig(), nil, nil, nil, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	if err := p.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("Expected ErrAlreadyStarted, got %v", err)
	}
}

func TestPipeline_CloseIsIdempotent(t *testing.T) {
	p, err := New(testConfig(), nil, constSource(0.1), nil, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		p.Close()
		p.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}
	if p.Ready() {
		t.Error("Expected pipeline not ready after Close")
	}
}

func TestHandshake_Timeout(t *testing.T) {
	p, err := New(testConfig(), nil, nil, nil, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	p.handshakeTimeout = 20 * time.Millisecond

	_, err = p.handshake(context.Background(), make(chan worker.Message), make(chan worker.Message))
	if !errors.Is(err, ErrHandshakeTimeout) {
		t.Errorf("Expected ErrHandshakeTimeout, got %v", err)
	}
}

func TestHandshake_UnexpectedMessage(t *testing.T) {
	p, err := New(testConfig(), nil, nil, nil, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	toRender := make(chan worker.Message, 1)
	toRender <- worker.Message{Kind: "hello"}
	_, err = p.handshake(context.Background(), toRender, make(chan worker.Message, 1))
	if !errors.Is(err, worker.ErrHandshake) {
		t.Errorf("Expected ErrHandshake, got %v", err)
	}
}

func TestHandshake_RepliesReady(t *testing.T) {
	p, err := New(testConfig(), nil, nil, nil, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	toRender := make(chan worker.Message, 1)
	fromRender := make(chan worker.Message, 1)
	toRender <- worker.Message{Kind: worker.MessageReady, Handles: p.producer.Handles()}

	processor, err := p.handshake(context.Background(), toRender, fromRender)
	if err != nil {
		t.Fatalf("handshake failed: %v", err)
	}
	if processor == nil {
		t.Fatal("Expected a render processor")
	}
	if reply := <-fromRender; reply.Kind != worker.MessageReady {
		t.Errorf("Expected ready reply, got %q", reply.Kind)
	}
}
