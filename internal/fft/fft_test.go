package fft

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/dsp/fourier"
)

var testSizes = []int{2, 4, 8, 16, 32, 64, 128, 256, 1024}

// naiveDFT computes the unnormalized forward DFT of an interleaved complex array.
func naiveDFT(in []float64) []float64 {
	n := len(in) / 2
	out := make([]float64, len(in))
	for k := 0; k < n; k++ {
		var re, im float64
		for j := 0; j < n; j++ {
			phase := -2 * math.Pi * float64(k) * float64(j) / float64(n)
			c, s := math.Cos(phase), math.Sin(phase)
			re += in[2*j]*c - in[2*j+1]*s
			im += in[2*j]*s + in[2*j+1]*c
		}
		out[2*k] = re
		out[2*k+1] = im
	}
	return out
}

func randomComplex(rng *rand.Rand, n int) []float64 {
	out := make([]float64, 2*n)
	for i := range out {
		out[i] = rng.Float64()*2 - 1
	}
	return out
}

func randomReal(rng *rand.Rand, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = rng.Float64()*2 - 1
	}
	return out
}

func assertClose(t *testing.T, name string, got, want []float64, tol float64) {
	t.Helper()
	if len(got) < len(want) {
		t.Fatalf("%s: length %d < %d", name, len(got), len(want))
	}
	for i := range want {
		if math.Abs(got[i]-want[i]) > tol*(1+math.Abs(want[i])) {
			t.Fatalf("%s: index %d: expected %g, got %g", name, i, want[i], got[i])
		}
	}
}

func TestNew_InvalidSizes(t *testing.T) {
	for _, size := range []int{0, 1, 3, -2, 6, 1000} {
		_, err := New(size)
		var sizeErr *InvalidSizeError
		if !errors.As(err, &sizeErr) {
			t.Errorf("New(%d): expected InvalidSizeError, got %v", size, err)
			continue
		}
		if sizeErr.Size != size {
			t.Errorf("New(%d): error carries size %d", size, sizeErr.Size)
		}
	}
}

func TestNew_ValidSize(t *testing.T) {
	f, err := New(1024)
	if err != nil {
		t.Fatalf("New(1024) failed: %v", err)
	}
	if f.Size() != 1024 {
		t.Errorf("Expected size 1024, got %d", f.Size())
	}
	if len(f.table) != 2048 {
		t.Errorf("Expected twiddle table of 2048, got %d", len(f.table))
	}
	// log2(1024) = 10 is even, so width = 9
	if len(f.bitrev) != 1<<9 {
		t.Errorf("Expected bit-reversal table of %d, got %d", 1<<9, len(f.bitrev))
	}
}

func TestTransform_MatchesNaiveDFT(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, n := range testSizes {
		if n > 256 {
			continue
		}
		f, _ := New(n)
		in := randomComplex(rng, n)
		out := f.CreateComplexArray()
		if err := f.Transform(out, in); err != nil {
			t.Fatalf("size %d: Transform failed: %v", n, err)
		}
		assertClose(t, "naive", out, naiveDFT(in), 1e-9)
	}
}

func TestTransform_MatchesGonum(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	for _, n := range testSizes {
		f, _ := New(n)
		in := randomComplex(rng, n)
		out := f.CreateComplexArray()
		if err := f.Transform(out, in); err != nil {
			t.Fatalf("size %d: Transform failed: %v", n, err)
		}

		seq := make([]complex128, n)
		for i := range seq {
			seq[i] = complex(in[2*i], in[2*i+1])
		}
		coeffs := fourier.NewCmplxFFT(n).Coefficients(nil, seq)

		want := make([]float64, 2*n)
		for i, c := range coeffs {
			want[2*i] = real(c)
			want[2*i+1] = imag(c)
		}
		assertClose(t, "gonum", out, want, 1e-9)
	}
}

func TestRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for _, n := range testSizes {
		f, _ := New(n)
		in := f.ToComplexArray(randomReal(rng, n), nil)

		spectrum := f.CreateComplexArray()
		back := f.CreateComplexArray()
		if err := f.Transform(spectrum, in); err != nil {
			t.Fatal(err)
		}
		if err := f.InverseTransform(back, spectrum); err != nil {
			t.Fatal(err)
		}
		assertClose(t, "round trip", back, in, 1e-6)
	}
}

func TestLinearity(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	const a, b = 2.5, -0.75
	for _, n := range []int{8, 64, 512} {
		f, _ := New(n)
		x := randomComplex(rng, n)
		y := randomComplex(rng, n)

		mix := make([]float64, 2*n)
		for i := range mix {
			mix[i] = a*x[i] + b*y[i]
		}

		fx, fy, fmix := f.CreateComplexArray(), f.CreateComplexArray(), f.CreateComplexArray()
		f.Transform(fx, x)
		f.Transform(fy, y)
		f.Transform(fmix, mix)

		want := make([]float64, 2*n)
		for i := range want {
			want[i] = a*fx[i] + b*fy[i]
		}
		assertClose(t, "linearity", fmix, want, 1e-9)
	}
}

func TestRealTransform_MatchesComplexTransform(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	for _, n := range testSizes {
		f, _ := New(n)
		x := randomReal(rng, n)

		want := f.CreateComplexArray()
		if err := f.Transform(want, f.ToComplexArray(x, nil)); err != nil {
			t.Fatal(err)
		}

		got := f.CreateComplexArray()
		if err := f.RealTransform(got, x); err != nil {
			t.Fatalf("size %d: RealTransform failed: %v", n, err)
		}
		assertClose(t, "real", got, want, 1e-9)
	}
}

func TestRealTransform_MatchesGonum(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	n := 256
	f, _ := New(n)
	x := randomReal(rng, n)

	got := f.CreateComplexArray()
	if err := f.RealTransform(got, x); err != nil {
		t.Fatal(err)
	}

	coeffs := fourier.NewFFT(n).Coefficients(nil, x)
	for k, c := range coeffs {
		if math.Abs(got[2*k]-real(c)) > 1e-9 || math.Abs(got[2*k+1]-imag(c)) > 1e-9 {
			t.Fatalf("bin %d: expected %v, got (%g, %g)", k, c, got[2*k], got[2*k+1])
		}
	}
}

func TestRealTransform_HermitianSymmetry(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for _, n := range testSizes {
		f, _ := New(n)
		out := f.CreateComplexArray()
		if err := f.RealTransform(out, randomReal(rng, n)); err != nil {
			t.Fatal(err)
		}
		for k := 1; k < n/2; k++ {
			if out[2*(n-k)] != out[2*k] || out[2*(n-k)+1] != -out[2*k+1] {
				t.Fatalf("size %d bin %d: spectrum[N-k] is not the conjugate of spectrum[k]", n, k)
			}
		}
	}
}

func TestRealTransform_Impulse(t *testing.T) {
	f, _ := New(4)
	out := f.CreateComplexArray()
	if err := f.RealTransform(out, []float64{0, 1, 0, 0}); err != nil {
		t.Fatal(err)
	}
	// DFT of a delayed impulse: e^{-i*pi*k/2}
	want := []float64{1, 0, 0, -1, -1, 0, 0, 1}
	assertClose(t, "impulse", out, want, 1e-12)
}

func TestTransform_AliasedBuffers(t *testing.T) {
	f, _ := New(8)
	buf := f.CreateComplexArray()

	if err := f.Transform(buf, buf); !errors.Is(err, ErrAliasedBuffers) {
		t.Errorf("Transform: expected ErrAliasedBuffers, got %v", err)
	}
	if err := f.InverseTransform(buf, buf); !errors.Is(err, ErrAliasedBuffers) {
		t.Errorf("InverseTransform: expected ErrAliasedBuffers, got %v", err)
	}

	big := make([]float64, 32)
	if err := f.RealTransform(big[4:20], big[:8]); !errors.Is(err, ErrAliasedBuffers) {
		t.Errorf("RealTransform with partial overlap: expected ErrAliasedBuffers, got %v", err)
	}
	if err := f.RealTransform(big[16:32], big[:8]); err != nil {
		t.Errorf("RealTransform with disjoint views: expected nil, got %v", err)
	}
}

func TestTransform_ShortBuffers(t *testing.T) {
	f, _ := New(8)
	if err := f.Transform(make([]float64, 8), make([]float64, 16)); !errors.Is(err, ErrBufferLength) {
		t.Errorf("Expected ErrBufferLength, got %v", err)
	}
	if err := f.RealTransform(make([]float64, 16), make([]float64, 4)); !errors.Is(err, ErrBufferLength) {
		t.Errorf("Expected ErrBufferLength, got %v", err)
	}
}

func TestComplexArrayHelpers(t *testing.T) {
	f, _ := New(4)
	c := f.ToComplexArray([]float64{1, 2, 3, 4}, nil)
	want := []float64{1, 0, 2, 0, 3, 0, 4, 0}
	assertClose(t, "to complex", c, want, 0)

	back := f.FromComplexArray(c, nil)
	assertClose(t, "from complex", back, []float64{1, 2, 3, 4}, 0)
}

func BenchmarkRealTransform1024(b *testing.B) {
	f, _ := New(1024)
	in := randomReal(rand.New(rand.NewSource(1)), 1024)
	out := f.CreateComplexArray()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.RealTransform(out, in)
	}
}
