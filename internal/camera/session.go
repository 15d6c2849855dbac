// Package camera captures a single still frame from a live video device.
package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"slices"
	"sync"

	"github.com/liuscraft/orion-reader/internal/apperrors"
	"github.com/liuscraft/orion-reader/internal/logging"
)

// ErrCancelled is returned when the user leaves the preview without
// capturing.
var ErrCancelled = errors.New("camera: capture cancelled")

type State int

const (
	StateIdle State = iota
	StateCapturing
	StateCaptured
	StateCancelled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateCapturing:
		return "Capturing"
	case StateCaptured:
		return "Captured"
	case StateCancelled:
		return "Cancelled"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

var validTransitions = map[State][]State{
	StateIdle:      {StateCapturing},
	StateCapturing: {StateCaptured, StateCancelled, StateFailed},
}

type Event int

const (
	EventCapture Event = iota
	EventCancel
)

// Device is an open video source.
type Device interface {
	ReadFrame(ctx context.Context) (image.Image, error)
	Close() error
}

type Opener interface {
	Open(ctx context.Context) (Device, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context) (Device, error)

func (f OpenerFunc) Open(ctx context.Context) (Device, error) { return f(ctx) }

// PreviewFunc is shown every frame while the session waits for the user.
type PreviewFunc func(frame image.Image)

// Session is single use: one Run per Session.
type Session struct {
	opener  Opener
	preview PreviewFunc

	mu    sync.Mutex
	state State
}

func NewSession(opener Opener, preview PreviewFunc) *Session {
	if preview == nil {
		preview = func(image.Image) {}
	}
	return &Session{opener: opener, preview: preview}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) transition(to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !slices.Contains(validTransitions[s.state], to) {
		return fmt.Errorf("camera: invalid transition %s -> %s", s.state, to)
	}
	s.state = to
	return nil
}

// Run opens the device, previews frames until events delivers a capture or
// cancel, and returns the last frame seen. The device is closed on every
// return path. A closed events channel counts as cancel.
func (s *Session) Run(ctx context.Context, events <-chan Event) (image.Image, error) {
	if err := s.transition(StateCapturing); err != nil {
		return nil, apperrors.Camera("run", err)
	}

	dev, err := s.opener.Open(ctx)
	if err != nil {
		s.transition(StateFailed)
		return nil, apperrors.Camera("open", err)
	}

	readCtx, stopReading := context.WithCancel(ctx)
	frames := make(chan image.Image)
	readErr := make(chan error, 1)
	var wg sync.WaitGroup
	defer func() {
		stopReading()
		if err := dev.Close(); err != nil {
			logging.Warnf("Camera: close device: %v", err)
		}
		wg.Wait()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			frame, err := dev.ReadFrame(readCtx)
			if err != nil {
				if readCtx.Err() == nil {
					readErr <- err
				}
				return
			}
			select {
			case frames <- frame:
			case <-readCtx.Done():
				return
			}
		}
	}()

	var last image.Image
	pending := false
	for {
		select {
		case <-ctx.Done():
			s.transition(StateCancelled)
			return nil, ctx.Err()
		case err := <-readErr:
			s.transition(StateFailed)
			return nil, apperrors.Camera("read frame", err)
		case frame := <-frames:
			last = frame
			s.preview(frame)
			if pending {
				s.transition(StateCaptured)
				return last, nil
			}
		case ev, ok := <-events:
			if !ok || ev == EventCancel {
				s.transition(StateCancelled)
				return nil, ErrCancelled
			}
			if last != nil {
				s.transition(StateCaptured)
				return last, nil
			}
			// Capture pressed before the first frame arrived.
			pending = true
		}
	}
}
