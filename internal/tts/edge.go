package tts

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"
	"github.com/wujunwei928/edge-tts-go/edge_tts"
)

const (
	edgeSampleRate   = 24000
	defaultEdgeVoice = "en-US-AriaNeural"
)

// EdgeProvider uses the Microsoft Edge read-aloud service, which returns
// MP3 that is decoded locally.
type EdgeProvider struct {
	Voice string

	fetch func(voice, text string) ([]byte, error)
}

func NewEdgeProvider(voice string) *EdgeProvider {
	if voice == "" {
		voice = defaultEdgeVoice
	}
	return &EdgeProvider{Voice: voice, fetch: fetchEdgeMP3}
}

func (p *EdgeProvider) Name() string { return "edge" }

func (p *EdgeProvider) Start(ctx context.Context, cfg Config) (Stream, error) {
	voice := cfg.Voice
	if voice == "" {
		voice = p.Voice
	}
	rate := cfg.SampleRate
	if rate <= 0 {
		rate = edgeSampleRate
	}
	gain := cfg.Volume
	if gain <= 0 || gain > 1 {
		gain = 1
	}

	synth := func(ctx context.Context, text string) ([]byte, int, int, error) {
		type fetched struct {
			data []byte
			err  error
		}
		done := make(chan fetched, 1)
		go func() {
			data, err := p.fetch(voice, text)
			done <- fetched{data, err}
		}()

		var data []byte
		select {
		case <-ctx.Done():
			return nil, 0, 0, ctx.Err()
		case f := <-done:
			if f.err != nil {
				return nil, 0, 0, fmt.Errorf("%w: edge synthesis: %v", ErrTransient, f.err)
			}
			data = f.data
		}
		return decodeMP3(data)
	}

	return newBatchStream(synth, rate, 1, gain), nil
}

func fetchEdgeMP3(voice, text string) ([]byte, error) {
	communicate, err := edge_tts.New(voice)
	if err != nil {
		return nil, err
	}
	defer communicate.Close()
	return communicate.Output(text)
}

// decodeMP3 always yields interleaved stereo PCM16.
func decodeMP3(data []byte) ([]byte, int, int, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("%w: decode mp3: %v", ErrBadRequest, err)
	}
	out, err := io.ReadAll(dec)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("decode mp3: %w", err)
	}
	return out, dec.SampleRate(), 2, nil
}
