// Package fft implements a fixed-size radix-4 Cooley-Tukey transform over
// interleaved complex arrays ([re0, im0, re1, im1, ...]).
//
// Tables are built once in New and never modified, so an *FFT may be shared
// by goroutines as long as each call uses its own buffers.
package fft

import (
	"errors"
	"fmt"
	"math"
	"unsafe"
)

var (
	// ErrAliasedBuffers is returned when input and output share storage.
	ErrAliasedBuffers = errors.New("fft: input and output buffers must not overlap")

	// ErrBufferLength is returned when a buffer is too short for the transform size.
	ErrBufferLength = errors.New("fft: buffer too short for transform size")
)

// InvalidSizeError reports a transform size that is not a power of two greater than one.
type InvalidSizeError struct {
	Size int
}

func (e *InvalidSizeError) Error() string {
	return fmt.Sprintf("fft: size %d must be a power of two and bigger than 1", e.Size)
}

// FFT holds the precomputed tables for one transform size.
type FFT struct {
	size  int
	csize int // floats in a complex array of size points

	// table holds cos(pi*i/size), -sin(pi*i/size) pairs for even i.
	table  []float64
	width  int
	bitrev []int

	// half drives RealTransform; nil when size == 2.
	half *FFT
}

// New builds a transform of the given size.
func New(size int) (*FFT, error) {
	if size <= 1 || size&(size-1) != 0 {
		return nil, &InvalidSizeError{Size: size}
	}

	f := &FFT{
		size:  size,
		csize: size << 1,
		table: make([]float64, size*2),
	}
	for i := 0; i < len(f.table); i += 2 {
		angle := math.Pi * float64(i) / float64(size)
		f.table[i] = math.Cos(angle)
		f.table[i+1] = -math.Sin(angle)
	}

	power := 0
	for t := 1; size > t; t <<= 1 {
		power++
	}

	// An even power starts with a radix-4 pass, an odd one with radix-2.
	f.width = power
	if power%2 == 0 {
		f.width = power - 1
	}
	f.bitrev = make([]int, 1<<f.width)
	for j := range f.bitrev {
		for shift := 0; shift < f.width; shift += 2 {
			revShift := f.width - shift - 2
			if revShift < 0 {
				continue
			}
			f.bitrev[j] |= ((j >> shift) & 3) << revShift
		}
	}

	if size > 2 {
		half, err := New(size / 2)
		if err != nil {
			return nil, err
		}
		f.half = half
	}
	return f, nil
}

// Size returns the number of complex points per transform.
func (f *FFT) Size() int {
	return f.size
}

// CreateComplexArray allocates a zeroed interleaved array for this size.
func (f *FFT) CreateComplexArray() []float64 {
	return make([]float64, f.csize)
}

// ToComplexArray interleaves real samples with zero imaginary parts. dst is
// allocated when nil.
func (f *FFT) ToComplexArray(input []float64, dst []float64) []float64 {
	if dst == nil {
		dst = f.CreateComplexArray()
	}
	for i := 0; i < len(dst); i += 2 {
		dst[i] = 0
		if i/2 < len(input) {
			dst[i] = input[i/2]
		}
		dst[i+1] = 0
	}
	return dst
}

// FromComplexArray extracts the real parts of an interleaved array. dst is
// allocated when nil.
func (f *FFT) FromComplexArray(complexArray []float64, dst []float64) []float64 {
	if dst == nil {
		dst = make([]float64, len(complexArray)/2)
	}
	for i := 0; i < len(complexArray) && i/2 < len(dst); i += 2 {
		dst[i/2] = complexArray[i]
	}
	return dst
}

// CompleteSpectrum fills bins size/2+1 .. size-1 with the conjugates of the
// lower half, as produced for a real input.
func (f *FFT) CompleteSpectrum(spectrum []float64) {
	size := f.csize
	half := size >> 1
	for i := 2; i < half; i += 2 {
		spectrum[size-i] = spectrum[i]
		spectrum[size-i+1] = -spectrum[i+1]
	}
}

// Transform computes the forward complex FFT of data into out.
func (f *FFT) Transform(out, data []float64) error {
	if err := f.checkBuffers(out, data, f.csize); err != nil {
		return err
	}
	f.transform4(out, data, 1)
	return nil
}

// InverseTransform computes the inverse complex FFT of data into out,
// scaled by 1/size.
func (f *FFT) InverseTransform(out, data []float64) error {
	if err := f.checkBuffers(out, data, f.csize); err != nil {
		return err
	}
	f.transform4(out, data, -1)
	scale := float64(f.size)
	for i := 0; i < f.csize; i++ {
		out[i] /= scale
	}
	return nil
}

// RealTransform computes the spectrum of size real samples into the
// interleaved array out. Only bins 0..size/2 are computed directly; the rest
// are mirrored by CompleteSpectrum.
func (f *FFT) RealTransform(out, data []float64) error {
	if err := f.checkBuffers(out, data, f.size); err != nil {
		return err
	}

	if f.half == nil {
		out[0], out[1] = data[0]+data[1], 0
		out[2], out[3] = data[0]-data[1], 0
		return nil
	}

	// Consecutive real samples read as size/2 complex points z[m] = x[2m] + i*x[2m+1].
	// Z lands in the upper half of out and is untangled into the lower half.
	n := f.size
	z := out[n : 2*n]
	f.half.transform4(z, data[:n], 1)

	m := n / 2
	z0r, z0i := z[0], z[1]
	for k := 0; k < m; k++ {
		zr, zi := z[2*k], z[2*k+1]
		j := (m - k) % m
		ar, ai := z[2*j], z[2*j+1]

		er := (zr + ar) / 2
		ei := (zi - ai) / 2
		or := (zi + ai) / 2
		oi := -(zr - ar) / 2

		wr, wi := f.table[2*k], f.table[2*k+1]
		out[2*k] = er + wr*or - wi*oi
		out[2*k+1] = ei + wr*oi + wi*or
	}
	out[n] = z0r - z0i
	out[n+1] = 0

	f.CompleteSpectrum(out)
	return nil
}

func (f *FFT) checkBuffers(out, data []float64, inputLen int) error {
	if len(out) < f.csize || len(data) < inputLen {
		return fmt.Errorf("%w: size %d needs out >= %d and input >= %d, got %d and %d",
			ErrBufferLength, f.size, f.csize, inputLen, len(out), len(data))
	}
	if overlaps(out[:f.csize], data[:inputLen]) {
		return ErrAliasedBuffers
	}
	return nil
}

func overlaps(a, b []float64) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	const w = unsafe.Sizeof(float64(0))
	aStart := uintptr(unsafe.Pointer(unsafe.SliceData(a)))
	bStart := uintptr(unsafe.Pointer(unsafe.SliceData(b)))
	aEnd := aStart + uintptr(len(a))*w
	bEnd := bStart + uintptr(len(b))*w
	return aStart < bEnd && bStart < aEnd
}

// transform4 runs the permuted first pass and the radix-4 butterfly stages.
// inv is 1 for the forward transform and -1 for the inverse.
func (f *FFT) transform4(out, data []float64, inv float64) {
	size := f.csize

	step := 1 << f.width
	length := (size / step) << 1

	if length == 4 {
		for outOff, t := 0, 0; outOff < size; outOff, t = outOff+length, t+1 {
			singleTransform2(out, data, outOff, f.bitrev[t], step)
		}
	} else {
		for outOff, t := 0, 0; outOff < size; outOff, t = outOff+length, t+1 {
			singleTransform4(out, data, outOff, f.bitrev[t], step, inv)
		}
	}

	table := f.table
	for step >>= 2; step >= 2; step >>= 2 {
		length = (size / step) << 1
		quarterLen := length >> 2

		for outOff := 0; outOff < size; outOff += length {
			limit := outOff + quarterLen
			for i, k := outOff, 0; i < limit; i, k = i+2, k+step {
				a := i
				b := a + quarterLen
				c := b + quarterLen
				d := c + quarterLen

				ar, ai := out[a], out[a+1]
				br, bi := out[b], out[b+1]
				cr, ci := out[c], out[c+1]
				dr, di := out[d], out[d+1]

				tbr, tbi := table[k], inv*table[k+1]
				mbr := br*tbr - bi*tbi
				mbi := br*tbi + bi*tbr

				tcr, tci := table[2*k], inv*table[2*k+1]
				mcr := cr*tcr - ci*tci
				mci := cr*tci + ci*tcr

				tdr, tdi := table[3*k], inv*table[3*k+1]
				mdr := dr*tdr - di*tdi
				mdi := dr*tdi + di*tdr

				t0r, t0i := ar+mcr, ai+mci
				t1r, t1i := ar-mcr, ai-mci
				t2r, t2i := mbr+mdr, mbi+mdi
				t3r, t3i := inv*(mbr-mdr), inv*(mbi-mdi)

				out[a], out[a+1] = t0r+t2r, t0i+t2i
				out[b], out[b+1] = t1r+t3i, t1i-t3r
				out[c], out[c+1] = t0r-t2r, t0i-t2i
				out[d], out[d+1] = t1r-t3i, t1i+t3r
			}
		}
	}
}

// singleTransform2 is the radix-2 first pass over points off and off+step.
func singleTransform2(out, data []float64, outOff, off, step int) {
	evenR, evenI := data[off], data[off+1]
	oddR, oddI := data[off+step], data[off+step+1]

	out[outOff] = evenR + oddR
	out[outOff+1] = evenI + oddI
	out[outOff+2] = evenR - oddR
	out[outOff+3] = evenI - oddI
}

// singleTransform4 is the radix-4 first pass over four points spaced by step.
func singleTransform4(out, data []float64, outOff, off, step int, inv float64) {
	step2 := step * 2
	step3 := step * 3

	ar, ai := data[off], data[off+1]
	br, bi := data[off+step], data[off+step+1]
	cr, ci := data[off+step2], data[off+step2+1]
	dr, di := data[off+step3], data[off+step3+1]

	t0r, t0i := ar+cr, ai+ci
	t1r, t1i := ar-cr, ai-ci
	t2r, t2i := br+dr, bi+di
	t3r, t3i := inv*(br-dr), inv*(bi-di)

	out[outOff], out[outOff+1] = t0r+t2r, t0i+t2i
	out[outOff+2], out[outOff+3] = t1r+t3i, t1i-t3r
	out[outOff+4], out[outOff+5] = t0r-t2r, t0i-t2i
	out[outOff+6], out[outOff+7] = t1r-t3i, t1i+t3r
}
