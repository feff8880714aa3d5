package kernel

import (
	"errors"
	"fmt"
	"math"

	"github.com/lexiqai/spectral-pipeline/internal/fft"
)

// Transform names
const (
	NameIdentity = "identity"
	NameFFT      = "fft"
)

// Window names
const (
	WindowNone = "none"
	WindowHann = "hann"
)

// ErrUnknownTransform is returned for a transform or window name that is not recognized
var ErrUnknownTransform = errors.New("kernel: unknown transform")

// Transform turns one kernel of input samples into one kernel of output.
// Process is called from the producer goroutine only and must not allocate.
type Transform interface {
	Name() string
	Process(dst, src []float32)
}

// New resolves a transform by name for the given kernel length
func New(name string, kernelLength int, window string) (Transform, error) {
	switch name {
	case NameIdentity, "":
		return Identity{}, nil
	case NameFFT:
		return NewSpectrum(kernelLength, window)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransform, name)
	}
}

// Identity copies its input unchanged
type Identity struct{}

func (Identity) Name() string { return NameIdentity }

func (Identity) Process(dst, src []float32) {
	copy(dst, src)
}

// Spectrum writes the magnitude of every FFT bin of the (optionally
// windowed) input kernel.
type Spectrum struct {
	fft    *fft.FFT
	window []float64
	in     []float64
	out    []float64
}

// NewSpectrum builds a magnitude-spectrum transform for kernelLength samples
func NewSpectrum(kernelLength int, window string) (*Spectrum, error) {
	f, err := fft.New(kernelLength)
	if err != nil {
		return nil, fmt.Errorf("create fft: %w", err)
	}

	var coeffs []float64
	switch window {
	case WindowNone, "":
	case WindowHann:
		coeffs = Hann(kernelLength)
	default:
		return nil, fmt.Errorf("%w: window %q", ErrUnknownTransform, window)
	}

	return &Spectrum{
		fft:    f,
		window: coeffs,
		in:     make([]float64, kernelLength),
		out:    f.CreateComplexArray(),
	}, nil
}

func (s *Spectrum) Name() string { return NameFFT }

func (s *Spectrum) Process(dst, src []float32) {
	n := len(s.in)
	for i := 0; i < n; i++ {
		v := 0.0
		if i < len(src) {
			v = float64(src[i])
		}
		if s.window != nil {
			v *= s.window[i]
		}
		s.in[i] = v
	}

	if err := s.fft.RealTransform(s.out, s.in); err != nil {
		panic(err)
	}

	for k := 0; k < n && k < len(dst); k++ {
		dst[k] = float32(math.Hypot(s.out[2*k], s.out[2*k+1]))
	}
}

// Hann returns the coefficients of a Hann window of length n
func Hann(n int) []float64 {
	w := make([]float64, n)
	if n == 1 {
		w[0] = 1
		return w
	}
	for i := range w {
		w[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
	}
	return w
}
