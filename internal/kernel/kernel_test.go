package kernel

import (
	"errors"
	"math"
	"testing"

	"github.com/lexiqai/spectral-pipeline/internal/fft"
)

func TestNew_ResolvesNames(t *testing.T) {
	tr, err := New(NameIdentity, 1024, WindowNone)
	if err != nil {
		t.Fatalf("New(identity) failed: %v", err)
	}
	if tr.Name() != NameIdentity {
		t.Errorf("Expected identity, got %s", tr.Name())
	}

	tr, err = New(NameFFT, 1024, WindowHann)
	if err != nil {
		t.Fatalf("New(fft) failed: %v", err)
	}
	if tr.Name() != NameFFT {
		t.Errorf("Expected fft, got %s", tr.Name())
	}
}

func TestNew_Errors(t *testing.T) {
	if _, err := New("wavelet", 1024, WindowNone); !errors.Is(err, ErrUnknownTransform) {
		t.Errorf("Expected ErrUnknownTransform, got %v", err)
	}
	if _, err := New(NameFFT, 1024, "blackman"); !errors.Is(err, ErrUnknownTransform) {
		t.Errorf("Expected ErrUnknownTransform for window, got %v", err)
	}

	_, err := New(NameFFT, 1000, WindowNone)
	var sizeErr *fft.InvalidSizeError
	if !errors.As(err, &sizeErr) {
		t.Errorf("Expected InvalidSizeError, got %v", err)
	}
}

func TestIdentity_Copies(t *testing.T) {
	src := []float32{1, 2, 3, 4}
	dst := make([]float32, 4)
	Identity{}.Process(dst, src)
	for i := range src {
		if dst[i] != src[i] {
			t.Errorf("Expected %f at %d, got %f", src[i], i, dst[i])
		}
	}
}

func TestSpectrum_SinePeak(t *testing.T) {
	const n = 256
	const bin = 16
	s, err := NewSpectrum(n, WindowNone)
	if err != nil {
		t.Fatal(err)
	}

	src := make([]float32, n)
	for i := range src {
		src[i] = float32(math.Sin(2 * math.Pi * bin * float64(i) / n))
	}
	dst := make([]float32, n)
	s.Process(dst, src)

	// A pure tone on an exact bin has magnitude n/2 at k and n-k.
	if math.Abs(float64(dst[bin])-n/2) > 1e-2 {
		t.Errorf("Expected magnitude %d at bin %d, got %f", n/2, bin, dst[bin])
	}
	if math.Abs(float64(dst[n-bin])-n/2) > 1e-2 {
		t.Errorf("Expected mirrored magnitude at bin %d, got %f", n-bin, dst[n-bin])
	}
	if dst[bin+5] > 1e-2 {
		t.Errorf("Expected near-zero leakage at bin %d, got %f", bin+5, dst[bin+5])
	}
}

func TestSpectrum_DCWithHann(t *testing.T) {
	const n = 64
	s, _ := NewSpectrum(n, WindowHann)

	src := make([]float32, n)
	for i := range src {
		src[i] = 1
	}
	dst := make([]float32, n)
	s.Process(dst, src)

	var sum float64
	for _, w := range Hann(n) {
		sum += w
	}
	if math.Abs(float64(dst[0])-sum) > 1e-3 {
		t.Errorf("Expected DC magnitude %f, got %f", sum, dst[0])
	}
}

func TestHann(t *testing.T) {
	w := Hann(5)
	if w[0] != 0 || math.Abs(w[4]) > 1e-12 {
		t.Errorf("Expected zero endpoints, got %v", w)
	}
	if math.Abs(w[2]-1) > 1e-12 {
		t.Errorf("Expected peak 1 at centre, got %f", w[2])
	}
}
