package audio

import "math"

// ToneGenerator produces a continuous sine wave. Phase carries across calls
// so consecutive buffers join without discontinuity.
type ToneGenerator struct {
	step      float64
	phase     float64
	amplitude float32
}

// NewToneGenerator creates a generator for frequency Hz at sampleRate
func NewToneGenerator(frequency float64, amplitude float32, sampleRate int) *ToneGenerator {
	return &ToneGenerator{
		step:      2 * math.Pi * frequency / float64(sampleRate),
		amplitude: amplitude,
	}
}

// Fill writes the next len(dst) samples of the tone
func (g *ToneGenerator) Fill(dst []float32) {
	for i := range dst {
		dst[i] = g.amplitude * float32(math.Sin(g.phase))
		g.phase += g.step
		if g.phase >= 2*math.Pi {
			g.phase -= 2 * math.Pi
		}
	}
}
