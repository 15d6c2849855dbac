// Package tts turns text into PCM16 audio. Providers stream little-endian
// signed 16-bit samples through Stream.AudioReader at the rate and channel
// count the stream reports.
package tts

import (
	"context"
	"errors"
	"io"
)

type Config struct {
	APIKey    string
	Endpoint  string
	Workspace string
	Model     string
	Voice     string
	// SampleRate is a request; the stream reports what it actually produces.
	SampleRate int
	// Rate is a speed multiplier where 1.0 is the voice's normal pace.
	Rate float64
	// Volume ranges over [0, 1].
	Volume float64
}

type Provider interface {
	Name() string
	Start(ctx context.Context, cfg Config) (Stream, error)
}

type Stream interface {
	WriteTextChunk(ctx context.Context, text string) error
	// Close ends text input and waits for synthesis to finish. The audio
	// reader reaches EOF afterwards.
	Close(ctx context.Context) error
	AudioReader() io.ReadCloser
	SampleRate() int
	Channels() int
}

var (
	ErrTransient  = errors.New("tts transient error")
	ErrAuth       = errors.New("tts auth error")
	ErrBadRequest = errors.New("tts bad request")
)
