// Package reader runs the image-to-speech pipeline: decode, normalize,
// recognize and announce, plus the typed-text and read-aloud paths.
package reader

import (
	"context"
	"errors"
	"image"
	"strings"
	"sync"

	"github.com/liuscraft/orion-reader/internal/apperrors"
	"github.com/liuscraft/orion-reader/internal/camera"
	"github.com/liuscraft/orion-reader/internal/config"
	"github.com/liuscraft/orion-reader/internal/imaging"
	"github.com/liuscraft/orion-reader/internal/logging"
	"github.com/liuscraft/orion-reader/internal/speech"
	"github.com/liuscraft/orion-reader/internal/text"
)

// Source names what triggered a run.
type Source int

const (
	SourceUpload Source = iota
	SourceCapture
	SourceTyped
	SourceManual
)

func (s Source) String() string {
	switch s {
	case SourceUpload:
		return "upload"
	case SourceCapture:
		return "capture"
	case SourceTyped:
		return "typed"
	case SourceManual:
		return "manual"
	default:
		return "unknown"
	}
}

const (
	LevelInfo    = speech.NoticeInfo
	LevelWarning = "warning"
	LevelError   = speech.NoticeError
)

// Notice is a message meant for the user, not for the log.
type Notice struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// Outcome describes a finished image run.
type Outcome struct {
	RequestID string     `json:"request_id"`
	Source    string     `json:"source"`
	Language  string     `json:"language"`
	Text      string     `json:"text"`
	Empty     bool       `json:"empty"`
	Stats     text.Stats `json:"stats"`
	Announced bool       `json:"announced"`
	Trail     []State    `json:"-"`
}

type Announcer interface {
	Announce(ctx context.Context, text string) error
}

type Extractor interface {
	CheckLanguage(lang string) error
	Languages() []string
	Extract(ctx context.Context, img image.Image, lang string) (string, error)
}

type Normalizer interface {
	Normalize(img image.Image) *image.Gray
}

type Orchestrator interface {
	ReadImage(ctx context.Context, src Source, data []byte, lang string) (Outcome, error)
	ReadCapture(ctx context.Context, img image.Image, lang string) (Outcome, error)
	ReadFromCamera(ctx context.Context, opener camera.Opener, events <-chan camera.Event, lang string) (Outcome, error)
	ReadTyped(ctx context.Context, typed string) error
	ReadAloud(ctx context.Context) error

	SetText(s string)
	Text() string
	Stats() text.Stats

	AutoRead() bool
	SetAutoRead(enabled bool)
	Language() string
	SetLanguage(lang string) error
	Languages() []string

	EventBus() EventBus
}

type Deps struct {
	Normalizer Normalizer
	Extractor  Extractor
	Announcer  Announcer
	// Bus defaults to a fresh bus.
	Bus     EventBus
	Preview camera.PreviewFunc
	// Notify, when set, sees every notice synchronously, before the bus
	// delivers it.
	Notify func(Notice)
}

type Options struct {
	AutoRead bool
	Language string
	Phrases  config.PhrasesConfig
}

type orchestratorImpl struct {
	normalizer Normalizer
	extractor  Extractor
	announcer  Announcer
	bus        EventBus
	preview    camera.PreviewFunc
	notify     func(Notice)
	phrases    config.PhrasesConfig

	// extractMu keeps one recognition running at a time; announcing
	// happens outside it so a newer request can cut speech short.
	extractMu sync.Mutex

	mu       sync.RWMutex
	text     string
	autoRead bool
	language string
}

func NewOrchestrator(deps Deps, opts Options) Orchestrator {
	bus := deps.Bus
	if bus == nil {
		bus = NewEventBus()
	}
	phrases := config.DefaultConfig().Reader.Phrases
	mergePhrases(&phrases, opts.Phrases)

	return &orchestratorImpl{
		normalizer: deps.Normalizer,
		extractor:  deps.Extractor,
		announcer:  deps.Announcer,
		bus:        bus,
		preview:    deps.Preview,
		notify:     deps.Notify,
		phrases:    phrases,
		autoRead:   opts.AutoRead,
		language:   opts.Language,
	}
}

func mergePhrases(dst *config.PhrasesConfig, src config.PhrasesConfig) {
	set := func(d *string, s string) {
		if s != "" {
			*d = s
		}
	}
	set(&dst.Upload, src.Upload)
	set(&dst.Capture, src.Capture)
	set(&dst.Typed, src.Typed)
	set(&dst.NoText, src.NoText)
	set(&dst.NothingToRead, src.NothingToRead)
	set(&dst.CameraOpen, src.CameraOpen)
	set(&dst.CameraError, src.CameraError)
}

func (o *orchestratorImpl) EventBus() EventBus { return o.bus }

// run is the per-request state machine plus the request id used in logs
// and events.
type run struct {
	o     *orchestratorImpl
	id    string
	sm    *StateMachine
	trail []State
}

func (o *orchestratorImpl) newRun(src Source) *run {
	return &run{o: o, id: logging.StartRequest(src.String()), sm: NewStateMachine(), trail: []State{StateIdle}}
}

func (r *run) to(s State) {
	from := r.sm.GetCurrentState()
	if !r.sm.Transition(s) {
		logging.Warnf("Reader: invalid transition %s -> %s", from, s)
		return
	}
	r.trail = append(r.trail, s)
	logging.Debugf("Reader: state %s -> %s", from, s)
	r.o.bus.Publish(NewStateChangedEvent(r.id, from, s))
}

func (r *run) finish() {
	if r.sm.GetCurrentState() != StateIdle {
		r.to(StateIdle)
		logging.Infof("Reader: run %s finished in %s", r.id, logging.RequestElapsed())
	}
}

func (o *orchestratorImpl) notice(level, message string) {
	switch level {
	case LevelError:
		logging.Errorf("Reader: notice: %s", message)
	case LevelWarning:
		logging.Warnf("Reader: notice: %s", message)
	default:
		logging.Infof("Reader: notice: %s", message)
	}
	n := Notice{Level: level, Message: message}
	if o.notify != nil {
		o.notify(n)
	}
	o.bus.Publish(NewNoticeEvent(n))
}

func (o *orchestratorImpl) ReadImage(ctx context.Context, src Source, data []byte, lang string) (Outcome, error) {
	return o.process(ctx, src, lang, func() (image.Image, error) {
		return imaging.Decode(data)
	})
}

func (o *orchestratorImpl) ReadCapture(ctx context.Context, img image.Image, lang string) (Outcome, error) {
	return o.process(ctx, SourceCapture, lang, func() (image.Image, error) {
		if err := imaging.Validate(img); err != nil {
			return nil, err
		}
		return img, nil
	})
}

func (o *orchestratorImpl) process(ctx context.Context, src Source, lang string, load func() (image.Image, error)) (Outcome, error) {
	r := o.newRun(src)
	defer r.finish()

	if lang == "" {
		lang = o.Language()
	}
	out := Outcome{RequestID: r.id, Source: src.String(), Language: lang}

	fail := func(err error) (Outcome, error) {
		o.notice(LevelError, o.describe(err))
		r.finish()
		out.Trail = r.trail
		return out, err
	}

	r.to(StateNormalizing)
	if err := o.extractor.CheckLanguage(lang); err != nil {
		return fail(err)
	}

	o.extractMu.Lock()
	img, err := load()
	if err != nil {
		o.extractMu.Unlock()
		return fail(err)
	}
	gray := o.normalizer.Normalize(img)

	r.to(StateExtracting)
	extracted, err := o.extractor.Extract(ctx, gray, lang)
	o.extractMu.Unlock()
	if err != nil {
		return fail(err)
	}

	o.SetText(extracted)
	out.Text = extracted
	out.Stats = text.Count(extracted)
	o.bus.Publish(NewTextExtractedEvent(r.id, src, lang, extracted))

	var utterance string
	if strings.TrimSpace(extracted) == "" {
		out.Empty = true
		r.to(StateEmpty)
		o.notice(LevelWarning, o.phrases.NoText)
		utterance = o.phrases.NoText
	} else {
		r.to(StateHasText)
		utterance = o.prefixFor(src) + " " + strings.TrimSpace(extracted)
	}

	if o.AutoRead() {
		r.to(StateAnnouncing)
		if err := o.announcer.Announce(ctx, utterance); err != nil {
			r.finish()
			out.Trail = r.trail
			return out, err
		}
		out.Announced = true
	}

	r.finish()
	out.Trail = r.trail
	return out, nil
}

func (o *orchestratorImpl) prefixFor(src Source) string {
	switch src {
	case SourceCapture:
		return o.phrases.Capture
	case SourceTyped:
		return o.phrases.Typed
	default:
		return o.phrases.Upload
	}
}

// ReadFromCamera speaks the camera prompt, runs one capture session and
// reads the captured frame. A failed camera leaves the rest usable.
func (o *orchestratorImpl) ReadFromCamera(ctx context.Context, opener camera.Opener, events <-chan camera.Event, lang string) (Outcome, error) {
	if err := o.announcer.Announce(ctx, o.phrases.CameraOpen); err != nil {
		logging.Warnf("Reader: camera prompt not spoken: %v", err)
	}

	frame, err := camera.NewSession(opener, o.preview).Run(ctx, events)
	switch {
	case errors.Is(err, camera.ErrCancelled):
		o.notice(LevelInfo, "Capture cancelled.")
		return Outcome{Source: SourceCapture.String()}, err
	case err != nil:
		o.notice(LevelError, o.describe(err))
		if aerr := o.announcer.Announce(ctx, o.phrases.CameraError); aerr != nil {
			logging.Warnf("Reader: camera error not spoken: %v", aerr)
		}
		return Outcome{Source: SourceCapture.String()}, err
	}
	return o.ReadCapture(ctx, frame, lang)
}

// ReadTyped announces typed text behind its prefix without touching OCR
// or the editable text.
func (o *orchestratorImpl) ReadTyped(ctx context.Context, typed string) error {
	return o.announceDirect(ctx, SourceTyped, typed, o.phrases.Typed)
}

// ReadAloud speaks the current, possibly edited, text as is.
func (o *orchestratorImpl) ReadAloud(ctx context.Context) error {
	return o.announceDirect(ctx, SourceManual, o.Text(), "")
}

func (o *orchestratorImpl) announceDirect(ctx context.Context, src Source, body, prefix string) error {
	if strings.TrimSpace(body) == "" {
		o.notice(LevelInfo, o.phrases.NothingToRead)
		return nil
	}

	r := o.newRun(src)
	defer r.finish()

	utterance := strings.TrimSpace(body)
	if prefix != "" {
		utterance = prefix + " " + utterance
	}
	r.to(StateAnnouncing)
	return o.announcer.Announce(ctx, utterance)
}

// describe turns an error into the notice shown to the user. Speech
// failures are reported by the announcer itself.
func (o *orchestratorImpl) describe(err error) string {
	switch apperrors.KindOf(err) {
	case apperrors.KindImageDecode:
		return "Could not read the image. Use a PNG, JPEG, BMP or TIFF file."
	case apperrors.KindOCREngine:
		return "Text recognition failed. Check that Tesseract and the selected language data are installed."
	case apperrors.KindConfiguration:
		var aerr *apperrors.Error
		if errors.As(err, &aerr) && aerr.Message != "" {
			return aerr.Message
		}
		return "Configuration error."
	case apperrors.KindCamera:
		return o.phrases.CameraError
	default:
		return "Something went wrong: " + err.Error()
	}
}

func (o *orchestratorImpl) SetText(s string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.text = s
}

func (o *orchestratorImpl) Text() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.text
}

func (o *orchestratorImpl) Stats() text.Stats {
	return text.Count(o.Text())
}

func (o *orchestratorImpl) AutoRead() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.autoRead
}

func (o *orchestratorImpl) SetAutoRead(enabled bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.autoRead = enabled
}

func (o *orchestratorImpl) Language() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.language
}

func (o *orchestratorImpl) SetLanguage(lang string) error {
	if err := o.extractor.CheckLanguage(lang); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.language = lang
	return nil
}

func (o *orchestratorImpl) Languages() []string {
	return o.extractor.Languages()
}
