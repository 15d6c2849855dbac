// Package pcm holds helpers for little-endian signed 16-bit PCM.
package pcm

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Samples converts PCM16 bytes to samples. A trailing odd byte is dropped.
func Samples(data []byte) []int16 {
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out
}

func Bytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// Resample converts interleaved samples between rates by linear
// interpolation. Speech does not need a better filter.
func Resample(input []int16, inputRate, outputRate, channels int) ([]int16, error) {
	if inputRate <= 0 || outputRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate: input=%d, output=%d", inputRate, outputRate)
	}
	if channels <= 0 {
		return nil, fmt.Errorf("invalid channels: %d", channels)
	}
	inputFrames := len(input) / channels
	if inputFrames == 0 {
		return []int16{}, nil
	}
	if inputRate == outputRate {
		out := make([]int16, inputFrames*channels)
		copy(out, input)
		return out, nil
	}

	ratio := float64(inputRate) / float64(outputRate)
	outputFrames := int(math.Ceil(float64(inputFrames) / ratio))
	output := make([]int16, outputFrames*channels)

	for outFrame := 0; outFrame < outputFrames; outFrame++ {
		position := float64(outFrame) * ratio
		inFrame := int(position)
		frac := position - float64(inFrame)
		if inFrame >= inputFrames-1 {
			inFrame = inputFrames - 1
			frac = 0
		}

		for ch := 0; ch < channels; ch++ {
			a := float64(input[inFrame*channels+ch])
			b := a
			if inFrame+1 < inputFrames {
				b = float64(input[(inFrame+1)*channels+ch])
			}
			output[outFrame*channels+ch] = clamp(a*(1-frac) + b*frac)
		}
	}
	return output, nil
}

// Scale multiplies every sample by gain, clipping at the int16 range.
func Scale(samples []int16, gain float64) {
	if gain == 1 {
		return
	}
	for i, s := range samples {
		samples[i] = clamp(float64(s) * gain)
	}
}

func clamp(v float64) int16 {
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	default:
		return int16(v)
	}
}
