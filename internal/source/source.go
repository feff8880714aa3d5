// Package source supplies mono float32 audio to the render clock.
package source

import (
	"context"

	"github.com/lexiqai/spectral-pipeline/internal/audio"
)

// Source is an audio input. Read is called from the render goroutine and
// must not block; Run does whatever background work the source needs until
// ctx ends.
type Source interface {
	Read(dst []float32) int
	Run(ctx context.Context) error
	Close() error
	Check(ctx context.Context) (bool, error)
}

// Tone is a synthetic sine source. It never runs dry.
type Tone struct {
	gen *audio.ToneGenerator
}

// NewTone creates a tone source
func NewTone(frequency float64, amplitude float32, sampleRate int) *Tone {
	return &Tone{gen: audio.NewToneGenerator(frequency, amplitude, sampleRate)}
}

func (t *Tone) Read(dst []float32) int {
	t.gen.Fill(dst)
	return len(dst)
}

// Run blocks until ctx is done
func (t *Tone) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (t *Tone) Close() error { return nil }

func (t *Tone) Check(ctx context.Context) (bool, error) { return true, nil }
