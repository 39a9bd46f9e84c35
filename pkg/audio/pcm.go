package audio

import (
	"encoding/binary"
	"math"
)

// EncodeSample clamps to [-1, 1] and scales asymmetrically: negative samples
// by 32768, non-negative by 32767. Fractions truncate toward zero.
func EncodeSample(s float32) int16 {
	v := float64(s)
	if math.IsNaN(v) {
		return 0
	}
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	if v < 0 {
		return int16(v * 0x8000)
	}
	return int16(v * 0x7fff)
}

// EncodePCM16 encodes samples as little-endian 16-bit PCM.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(EncodeSample(s)))
	}
	return out
}

// DecodePCM16 converts little-endian PCM16 bytes back to float samples.
func DecodePCM16(data []byte) []float32 {
	out := make([]float32, len(data)/2)
	for i := range out {
		v := int16(binary.LittleEndian.Uint16(data[i*2:]))
		if v < 0 {
			out[i] = float32(v) / 0x8000
		} else {
			out[i] = float32(v) / 0x7fff
		}
	}
	return out
}

// Level is the root-mean-square of the frame.
func Level(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Resample converts mono samples between rates using linear interpolation.
func Resample(samples []float32, fromRate, toRate int) []float32 {
	if fromRate == toRate || fromRate <= 0 || toRate <= 0 || len(samples) == 0 {
		return samples
	}
	ratio := float64(fromRate) / float64(toRate)
	n := int(float64(len(samples)) / ratio)
	out := make([]float32, n)
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := float32(pos - float64(idx))
		if idx >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}
		out[i] = samples[idx] + frac*(samples[idx+1]-samples[idx])
	}
	return out
}
