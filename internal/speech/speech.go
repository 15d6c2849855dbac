// Package speech announces text through a pluggable synthesis backend.
//
// The Announcer guarantees last-request-wins: a new announcement cancels
// whatever is being spoken before the new text starts.
package speech

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/liuscraft/orion-reader/internal/apperrors"
	"github.com/liuscraft/orion-reader/internal/logging"
)

const (
	NoticeInfo  = "info"
	NoticeError = "error"

	DefaultNothingToRead = "No text to read."
)

// ErrNoListener means the backend had nowhere to deliver the utterance.
var ErrNoListener = errors.New("speech: no listener connected")

// Utterance is one request to speak. It is never stored.
type Utterance struct {
	Text   string
	Rate   float64
	Volume float64
}

type Backend interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	// Cancel stops the current utterance. It is a no-op when idle.
	Cancel() error
	Speak(ctx context.Context, u Utterance) error
	// Blocking reports whether Speak returns only after the audio ends.
	Blocking() bool
}

// NotifyFunc receives user-visible messages.
type NotifyFunc func(level, message string)

type AnnouncerConfig struct {
	Rate          float64
	Volume        float64
	NothingToRead string
	// Timeout bounds each utterance. Zero means no bound.
	Timeout time.Duration
	Notify  NotifyFunc
}

type Announcer struct {
	backend Backend
	cfg     AnnouncerConfig

	mu      sync.Mutex
	started bool
	seq     uint64
	cancel  context.CancelFunc
}

func NewAnnouncer(backend Backend, cfg AnnouncerConfig) *Announcer {
	if cfg.Rate <= 0 {
		cfg.Rate = 1
	}
	if cfg.Volume <= 0 || cfg.Volume > 1 {
		cfg.Volume = 1
	}
	if cfg.NothingToRead == "" {
		cfg.NothingToRead = DefaultNothingToRead
	}
	if cfg.Notify == nil {
		cfg.Notify = func(string, string) {}
	}
	return &Announcer{backend: backend, cfg: cfg}
}

func (a *Announcer) Backend() Backend { return a.backend }

func (a *Announcer) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return nil
	}
	if err := a.backend.Start(ctx); err != nil {
		return apperrors.SpeechBackend("start", err)
	}
	a.started = true
	logging.Infof("Announcer: started with %s backend", a.backend.Name())
	return nil
}

func (a *Announcer) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.started {
		return nil
	}
	a.started = false
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if err := a.backend.Stop(); err != nil {
		return apperrors.SpeechBackend("stop", err)
	}
	return nil
}

// Cancel silences the current utterance, if any.
func (a *Announcer) Cancel() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cancelLocked()
}

func (a *Announcer) cancelLocked() error {
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if err := a.backend.Cancel(); err != nil {
		return apperrors.SpeechBackend("cancel", err)
	}
	return nil
}

// Announce speaks text after cancelling anything in progress. Blank text
// only produces the nothing-to-read notice. An utterance superseded by a
// later Announce returns nil.
func (a *Announcer) Announce(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		a.cfg.Notify(NoticeInfo, a.cfg.NothingToRead)
		return nil
	}

	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		err := apperrors.New(apperrors.KindSpeechBackend, "announce", "announcer not started")
		a.cfg.Notify(NoticeError, "Speech is unavailable.")
		return err
	}
	if err := a.cancelLocked(); err != nil {
		logging.Warnf("Announcer: cancel before speak failed: %v", err)
	}

	uctx, cancel := context.WithCancel(ctx)
	if a.cfg.Timeout > 0 {
		uctx, cancel = withTimeout(uctx, cancel, a.cfg.Timeout)
	}
	a.seq++
	seq := a.seq
	a.cancel = cancel

	u := Utterance{Text: text, Rate: a.cfg.Rate, Volume: a.cfg.Volume}
	var err error
	if a.backend.Blocking() {
		a.mu.Unlock()
		err = a.backend.Speak(uctx, u)
		a.mu.Lock()
	} else {
		// Non-blocking backends return at once; holding the lock keeps a
		// concurrent cancel from landing between their cancel and speak.
		err = a.backend.Speak(uctx, u)
	}
	superseded := a.seq != seq
	if !superseded {
		a.cancel = nil
	}
	a.mu.Unlock()
	cancel()

	if err == nil {
		return nil
	}
	if superseded && errors.Is(err, context.Canceled) {
		logging.Debugf("Announcer: utterance %d superseded", seq)
		return nil
	}
	if errors.Is(err, context.Canceled) && ctx.Err() == nil {
		// Cancelled through Cancel or Stop.
		return nil
	}

	logging.Errorf("Announcer: %s backend failed: %v", a.backend.Name(), err)
	a.cfg.Notify(NoticeError, failureNotice(err))
	return apperrors.SpeechBackend("speak", err)
}

func withTimeout(ctx context.Context, parent context.CancelFunc, d time.Duration) (context.Context, context.CancelFunc) {
	tctx, tcancel := context.WithTimeout(ctx, d)
	return tctx, func() {
		tcancel()
		parent()
	}
}

func failureNotice(err error) string {
	if errors.Is(err, ErrNoListener) {
		return "Speech failed: no page is connected to play audio."
	}
	return "Speech failed: " + err.Error()
}
