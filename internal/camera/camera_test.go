package camera

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/liuscraft/orion-reader/internal/apperrors"
)

type fakeDevice struct {
	mu      sync.Mutex
	frames  int
	failAt  int
	closed  int
	closeCh chan struct{}
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{closeCh: make(chan struct{})}
}

func (d *fakeDevice) ReadFrame(ctx context.Context) (image.Image, error) {
	d.mu.Lock()
	d.frames++
	n := d.frames
	d.mu.Unlock()

	if d.failAt > 0 && n >= d.failAt {
		return nil, errors.New("device unplugged")
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-d.closeCh:
		return nil, io.EOF
	case <-time.After(2 * time.Millisecond):
	}
	img := image.NewGray(image.Rect(0, 0, 4, 4))
	img.Pix[0] = uint8(n)
	return img, nil
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed++
	if d.closed == 1 {
		close(d.closeCh)
	}
	return nil
}

func (d *fakeDevice) Closed() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func openerFor(d *fakeDevice) Opener {
	return OpenerFunc(func(ctx context.Context) (Device, error) { return d, nil })
}

func TestRunCapture(t *testing.T) {
	dev := newFakeDevice()
	previews := make(chan struct{}, 100)
	s := NewSession(openerFor(dev), func(image.Image) { previews <- struct{}{} })

	events := make(chan Event, 1)
	go func() {
		<-previews
		<-previews
		events <- EventCapture
	}()

	img, err := s.Run(context.Background(), events)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if img == nil {
		t.Fatal("Run() returned no frame")
	}
	if s.State() != StateCaptured {
		t.Fatalf("state = %s, want Captured", s.State())
	}
	if dev.Closed() != 1 {
		t.Fatalf("device closed %d times, want 1", dev.Closed())
	}
}

func TestRunCaptureBeforeFirstFrame(t *testing.T) {
	dev := newFakeDevice()
	events := make(chan Event, 1)
	events <- EventCapture

	img, err := NewSession(openerFor(dev), nil).Run(context.Background(), events)
	if err != nil || img == nil {
		t.Fatalf("Run() = %v, %v", img, err)
	}
	if dev.Closed() != 1 {
		t.Fatalf("device closed %d times", dev.Closed())
	}
}

func TestRunReleasesDeviceOnEveryPath(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(dev *fakeDevice, events chan Event, cancel context.CancelFunc)
		wantState State
		check     func(t *testing.T, err error)
	}{
		{
			name:      "cancel key",
			setup:     func(_ *fakeDevice, events chan Event, _ context.CancelFunc) { events <- EventCancel },
			wantState: StateCancelled,
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrCancelled) {
					t.Fatalf("err = %v, want ErrCancelled", err)
				}
			},
		},
		{
			name:      "events closed",
			setup:     func(_ *fakeDevice, events chan Event, _ context.CancelFunc) { close(events) },
			wantState: StateCancelled,
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrCancelled) {
					t.Fatalf("err = %v, want ErrCancelled", err)
				}
			},
		},
		{
			name:      "context cancelled",
			setup:     func(_ *fakeDevice, _ chan Event, cancel context.CancelFunc) { cancel() },
			wantState: StateCancelled,
			check: func(t *testing.T, err error) {
				if !errors.Is(err, context.Canceled) {
					t.Fatalf("err = %v, want context.Canceled", err)
				}
			},
		},
		{
			name:      "device failure",
			setup:     func(dev *fakeDevice, _ chan Event, _ context.CancelFunc) { dev.failAt = 3 },
			wantState: StateFailed,
			check: func(t *testing.T, err error) {
				if !apperrors.IsKind(err, apperrors.KindCamera) {
					t.Fatalf("err = %v, want camera error", err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := newFakeDevice()
			events := make(chan Event, 1)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			tt.setup(dev, events, cancel)

			s := NewSession(openerFor(dev), nil)
			img, err := s.Run(ctx, events)
			if img != nil {
				t.Fatalf("unexpected frame on %s", tt.name)
			}
			tt.check(t, err)
			if s.State() != tt.wantState {
				t.Fatalf("state = %s, want %s", s.State(), tt.wantState)
			}
			if dev.Closed() != 1 {
				t.Fatalf("device closed %d times, want 1", dev.Closed())
			}
		})
	}
}

func TestRunOpenFailure(t *testing.T) {
	s := NewSession(OpenerFunc(func(ctx context.Context) (Device, error) {
		return nil, errors.New("no such device /dev/video0")
	}), nil)

	_, err := s.Run(context.Background(), make(chan Event))
	if !apperrors.IsKind(err, apperrors.KindCamera) {
		t.Fatalf("err = %v, want camera error", err)
	}
	if s.State() != StateFailed {
		t.Fatalf("state = %s, want Failed", s.State())
	}
}

func TestSessionIsSingleUse(t *testing.T) {
	dev := newFakeDevice()
	s := NewSession(openerFor(dev), nil)
	events := make(chan Event, 1)
	events <- EventCancel
	s.Run(context.Background(), events)

	if _, err := s.Run(context.Background(), events); !apperrors.IsKind(err, apperrors.KindCamera) {
		t.Fatalf("second Run() error = %v", err)
	}
}

func TestKeyEvents(t *testing.T) {
	var got []Event
	for ev := range KeyEvents(strings.NewReader("x \nq\x1bz")) {
		got = append(got, ev)
	}
	want := []Event{EventCapture, EventCapture, EventCancel, EventCancel}
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}
}

func encodeJPEG(t *testing.T, shade uint8) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 8, 8))
	for i := range img.Pix {
		img.Pix[i] = shade
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestMJPEGReader(t *testing.T) {
	a := encodeJPEG(t, 10)
	b := encodeJPEG(t, 240)
	stream := append(append([]byte("garbage"), a...), b...)
	r := NewMJPEGReader(bytes.NewReader(stream))

	for i, want := range [][]byte{a, b} {
		frame, err := r.Next()
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if !bytes.Equal(frame, want) {
			t.Fatalf("frame %d differs from the encoded image", i)
		}
		img, err := jpeg.Decode(bytes.NewReader(frame))
		if err != nil {
			t.Fatalf("decode frame %d: %v", i, err)
		}
		if c := color.GrayModel.Convert(img.At(4, 4)).(color.Gray); (i == 0) != (c.Y < 128) {
			t.Fatalf("frame %d has wrong shade %d", i, c.Y)
		}
	}
	if _, err := r.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("Next() at end = %v, want EOF", err)
	}

	truncated := NewMJPEGReader(bytes.NewReader(a[:len(a)-5]))
	if _, err := truncated.Next(); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("truncated Next() = %v", err)
	}
}

func TestFFmpegOpenerArgs(t *testing.T) {
	o := FFmpegOpener{Device: "/dev/video2"}
	got := strings.Join(o.args(), " ")
	want := "-hide_banner -loglevel error -f v4l2 -framerate 10 -i /dev/video2 -f image2pipe -vcodec mjpeg -q:v 3 -"
	if got != want {
		t.Fatalf("args = %q, want %q", got, want)
	}

	if _, err := (FFmpegOpener{Binary: "/nonexistent/ffmpeg"}).Open(context.Background()); err == nil {
		t.Fatal("expected error for missing ffmpeg")
	}
}
