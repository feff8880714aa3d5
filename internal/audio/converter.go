package audio

import (
	"errors"
	"fmt"
	"math"
)

// ErrEmptyAudio is returned when a decode is asked to convert no data
var ErrEmptyAudio = errors.New("audio: empty audio data")

const pcm16Scale = 32768.0

// DecodePCM16 converts 16-bit signed little-endian PCM to float32 samples in [-1, 1)
func DecodePCM16(data []byte) ([]float32, error) {
	if len(data) == 0 {
		return nil, ErrEmptyAudio
	}
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("audio: PCM data length %d is not a whole number of 16-bit samples", len(data))
	}

	samples := make([]float32, len(data)/2)
	for i := range samples {
		v := int16(data[i*2]) | int16(data[i*2+1])<<8
		samples[i] = float32(v) / pcm16Scale
	}
	return samples, nil
}

// DecodeMulaw converts G.711 PCMU (μ-law) bytes to float32 samples
func DecodeMulaw(data []byte) ([]float32, error) {
	if len(data) == 0 {
		return nil, ErrEmptyAudio
	}
	samples := make([]float32, len(data))
	for i, b := range data {
		samples[i] = float32(mulawToLinear(b)) / pcm16Scale
	}
	return samples, nil
}

// Resample performs linear interpolation resampling from inputRate to outputRate
func Resample(samples []float32, inputRate, outputRate int) []float32 {
	if inputRate == outputRate || inputRate <= 0 || outputRate <= 0 || len(samples) == 0 {
		return samples
	}

	ratio := float64(outputRate) / float64(inputRate)
	output := make([]float32, int(float64(len(samples))*ratio))
	last := len(samples) - 1

	for i := range output {
		pos := float64(i) / ratio
		idx0 := int(pos)
		idx1 := min(idx0+1, last)
		frac := float32(pos - float64(idx0))
		output[i] = samples[idx0]*(1-frac) + samples[idx1]*frac
	}
	return output
}

// RMS calculates the root mean square level of samples
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	sum := 0.0
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

func mulawToLinear(b byte) int16 {
	b = ^b
	sign := b & 0x80
	segment := int32((b >> 4) & 0x07)
	mantissa := int32(b & 0x0F)

	magnitude := (mantissa<<(segment+1) + int32(0x21)<<segment - 0x21) << 2
	if sign != 0 {
		return int16(-magnitude)
	}
	return int16(magnitude)
}
