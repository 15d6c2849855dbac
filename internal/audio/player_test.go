package audio

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/liuscraft/orion-reader/internal/audio/pcm"
)

type fakeOutput struct {
	buf     []float32
	written [][]float32
	started bool
	stopped bool
	closed  bool
	onWrite func()
}

func (f *fakeOutput) Start() error { f.started = true; return nil }
func (f *fakeOutput) Stop() error  { f.stopped = true; return nil }
func (f *fakeOutput) Close() error { f.closed = true; return nil }

func (f *fakeOutput) Write() error {
	f.written = append(f.written, append([]float32(nil), f.buf...))
	if f.onWrite != nil {
		f.onWrite()
	}
	return nil
}

func newTestPlayer(out *fakeOutput) *PortAudioPlayer {
	return &PortAudioPlayer{
		open: func(sampleRate, channels int, buf []float32) (output, error) {
			out.buf = buf
			return out, nil
		},
	}
}

func TestPlayDrainsReader(t *testing.T) {
	out := &fakeOutput{}
	p := newTestPlayer(out)

	samples := make([]int16, framesPerBuffer+10)
	samples[0] = 16384
	samples[framesPerBuffer] = -32768

	if err := p.Play(context.Background(), bytes.NewReader(pcm.Bytes(samples)), 22050, 1); err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	if len(out.written) != 2 {
		t.Fatalf("writes = %d, want 2", len(out.written))
	}
	if out.written[0][0] != 0.5 || out.written[1][0] != -1 {
		t.Fatalf("unexpected samples %v %v", out.written[0][0], out.written[1][0])
	}
	if out.written[1][10] != 0 {
		t.Fatalf("tail was not zero padded")
	}
	if !out.started || !out.stopped || !out.closed {
		t.Fatalf("stream lifecycle incomplete: %+v", out)
	}
}

type endlessReader struct{}

func (endlessReader) Read(p []byte) (int, error) { return len(p), nil }

func TestPlayStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	out := &fakeOutput{}
	out.onWrite = func() {
		if len(out.written) == 3 {
			cancel()
		}
	}
	p := newTestPlayer(out)

	err := p.Play(ctx, endlessReader{}, 16000, 2)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Play() error = %v, want context.Canceled", err)
	}
	if !out.closed {
		t.Fatal("stream not closed after cancel")
	}
}

func TestPlayReaderError(t *testing.T) {
	boom := errors.New("synthesis failed")
	p := newTestPlayer(&fakeOutput{})
	err := p.Play(context.Background(), io.MultiReader(bytes.NewReader([]byte{1, 2}), errReader{boom}), 16000, 1)
	if !errors.Is(err, boom) {
		t.Fatalf("Play() error = %v", err)
	}
}

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }

func TestPlayRejectsBadFormat(t *testing.T) {
	p := newTestPlayer(&fakeOutput{})
	if err := p.Play(context.Background(), bytes.NewReader(nil), 0, 1); err == nil {
		t.Fatal("expected error for zero sample rate")
	}
	p.Close()
	if err := p.Play(context.Background(), bytes.NewReader(nil), 16000, 1); err == nil {
		t.Fatal("expected error after Close")
	}
}
