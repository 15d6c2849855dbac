package tts

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/liuscraft/orion-reader/internal/audio/pcm"
)

// synthesizeFunc renders a whole text and returns PCM16 at the given rate
// and channel count.
type synthesizeFunc func(ctx context.Context, text string) (data []byte, rate, channels int, err error)

// batchStream adapts engines that synthesize a complete text in one call.
// Chunks are collected until Close, then the audio is converted to the
// stream's advertised format and published at once.
type batchStream struct {
	synth      synthesizeFunc
	sampleRate int
	channels   int
	gain       float64

	mu     sync.Mutex
	parts  []string
	closed bool
	audio  *bufferedPipe
}

func newBatchStream(synth synthesizeFunc, sampleRate, channels int, gain float64) *batchStream {
	return &batchStream{
		synth:      synth,
		sampleRate: sampleRate,
		channels:   channels,
		gain:       gain,
		audio:      newBufferedPipe(256 * 1024),
	}
}

func (s *batchStream) WriteTextChunk(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrBadRequest
	}
	s.parts = append(s.parts, strings.TrimSpace(text))
	return nil
}

func (s *batchStream) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	text := strings.Join(s.parts, " ")
	s.mu.Unlock()

	if text == "" {
		return s.audio.Close()
	}

	data, rate, channels, err := s.synth(ctx, text)
	if err == nil {
		data, err = s.convert(data, rate, channels)
	}
	if err != nil {
		_ = s.audio.CloseWithError(err)
		return err
	}
	if _, err := s.audio.Write(data); err != nil {
		return err
	}
	return s.audio.Close()
}

func (s *batchStream) convert(data []byte, rate, channels int) ([]byte, error) {
	samples := pcm.Samples(data)
	if channels != s.channels {
		samples = remix(samples, channels, s.channels)
	}
	if rate != s.sampleRate {
		var err error
		samples, err = pcm.Resample(samples, rate, s.sampleRate, s.channels)
		if err != nil {
			return nil, err
		}
	}
	pcm.Scale(samples, s.gain)
	return pcm.Bytes(samples), nil
}

// remix handles the mono/stereo cases the providers produce.
func remix(samples []int16, from, to int) []int16 {
	frames := len(samples) / from
	out := make([]int16, frames*to)
	for f := 0; f < frames; f++ {
		var sum int
		for c := 0; c < from; c++ {
			sum += int(samples[f*from+c])
		}
		v := int16(sum / from)
		for c := 0; c < to; c++ {
			out[f*to+c] = v
		}
	}
	return out
}

func (s *batchStream) AudioReader() io.ReadCloser { return s.audio }
func (s *batchStream) SampleRate() int            { return s.sampleRate }
func (s *batchStream) Channels() int              { return s.channels }
