// Package audio plays synthesized speech on the default output device.
package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/liuscraft/orion-reader/internal/logging"
)

const framesPerBuffer = 1024

// Player plays PCM16 audio until the reader is drained or ctx ends.
type Player interface {
	Play(ctx context.Context, r io.Reader, sampleRate, channels int) error
}

// output is the slice of a portaudio blocking stream the player drives.
type output interface {
	Start() error
	Write() error
	Stop() error
	Close() error
}

type openFunc func(sampleRate, channels int, buf []float32) (output, error)

type PortAudioPlayer struct {
	mu     sync.Mutex
	open   openFunc
	closed bool
	// terminate is nil when portaudio was never initialized.
	terminate func() error
}

func NewPortAudioPlayer() (*PortAudioPlayer, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}
	return &PortAudioPlayer{
		open:      openDefaultStream,
		terminate: portaudio.Terminate,
	}, nil
}

func openDefaultStream(sampleRate, channels int, buf []float32) (output, error) {
	return portaudio.OpenDefaultStream(0, channels, float64(sampleRate), len(buf)/channels, &buf)
}

// Play holds the device for the whole utterance; concurrent calls queue.
func (p *PortAudioPlayer) Play(ctx context.Context, r io.Reader, sampleRate, channels int) error {
	if sampleRate <= 0 || channels <= 0 {
		return fmt.Errorf("invalid audio format: rate=%d channels=%d", sampleRate, channels)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.New("audio player closed")
	}

	buf := make([]float32, framesPerBuffer*channels)
	stream, err := p.open(sampleRate, channels, buf)
	if err != nil {
		return fmt.Errorf("open output stream: %w", err)
	}
	defer func() {
		if err := stream.Close(); err != nil {
			logging.Errorf("AudioPlayer: failed to close stream: %v", err)
		}
	}()

	if err := stream.Start(); err != nil {
		return fmt.Errorf("start output stream: %w", err)
	}
	defer func() {
		if err := stream.Stop(); err != nil {
			logging.Errorf("AudioPlayer: failed to stop stream: %v", err)
		}
	}()

	raw := make([]byte, len(buf)*2)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		eof, err := fill(r, raw, buf)
		if err != nil {
			return err
		}
		if err := stream.Write(); err != nil && !errors.Is(err, portaudio.OutputUnderflowed) {
			return fmt.Errorf("write output stream: %w", err)
		}
		if eof {
			return nil
		}
	}
}

func (p *PortAudioPlayer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.terminate != nil {
		return p.terminate()
	}
	return nil
}

// fill reads one buffer of PCM16 from r into buf, zero-padding the tail
// when the reader ends.
func fill(r io.Reader, raw []byte, buf []float32) (bool, error) {
	n, err := io.ReadFull(r, raw)
	eof := false
	switch {
	case err == nil:
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		eof = true
	default:
		return false, err
	}

	samples := n / 2
	for i := range buf {
		if i >= samples {
			buf[i] = 0
			continue
		}
		s := int16(raw[i*2]) | int16(raw[i*2+1])<<8
		buf[i] = float32(s) / 32768.0
	}
	return eof, nil
}
