// Package ocr extracts plain text from a normalized page image. Engines are
// external (Tesseract); this package only validates the request, hands the
// image over and returns what the engine read, verbatim.
package ocr

import (
	"context"
	"fmt"
	"image"
	"slices"
	"time"

	"github.com/liuscraft/orion-reader/internal/apperrors"
	"github.com/liuscraft/orion-reader/internal/imaging"
	"github.com/liuscraft/orion-reader/internal/logging"
)

const (
	// PageSegSingleBlock asks the engine to assume one uniform block of text.
	PageSegSingleBlock = 6
	// EngineModeLSTM selects the neural recognizer only.
	EngineModeLSTM = 1
)

// Input is a single PNG-encoded image submitted for recognition.
type Input struct {
	Image    []byte
	Language string
}

// Result captures the engine output. An empty Text is a successful
// recognition of a page without characters.
type Result struct {
	Text     string
	Language string
	Engine   string
}

// Engine is the recognition backend contract: one image in, one result out.
type Engine interface {
	Name() string
	Recognize(ctx context.Context, in Input) (Result, error)
}

// Extractor runs an Engine against normalized images for one of the
// installed language packs.
type Extractor struct {
	engine    Engine
	languages []string
	timeout   time.Duration
}

func NewExtractor(engine Engine, languages []string) *Extractor {
	return &Extractor{
		engine:    engine,
		languages: slices.Clone(languages),
	}
}

// SetTimeout bounds every Extract call. Zero disables the bound.
func (e *Extractor) SetTimeout(d time.Duration) {
	e.timeout = d
}

func (e *Extractor) Languages() []string {
	return slices.Clone(e.languages)
}

// CheckLanguage reports a configuration error for codes outside the
// installed set.
func (e *Extractor) CheckLanguage(lang string) error {
	if !slices.Contains(e.languages, lang) {
		return apperrors.New(apperrors.KindConfiguration, "language",
			fmt.Sprintf("unsupported OCR language %q (installed: %v)", lang, e.languages))
	}
	return nil
}

// Extract returns the text the engine recognized in img.
func (e *Extractor) Extract(ctx context.Context, img image.Image, lang string) (string, error) {
	if err := e.CheckLanguage(lang); err != nil {
		return "", err
	}
	if err := imaging.Validate(img); err != nil {
		return "", err
	}

	data, err := imaging.EncodePNG(img)
	if err != nil {
		return "", err
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	start := time.Now()
	res, err := e.engine.Recognize(ctx, Input{Image: data, Language: lang})
	if err != nil {
		logging.Errorf("OCR: %s failed after %s: %v", e.engine.Name(), time.Since(start), err)
		return "", apperrors.OCREngine("recognize", err)
	}
	logging.Infof("OCR: %s recognized %d bytes of text (lang=%s, took=%s)",
		e.engine.Name(), len(res.Text), lang, time.Since(start))
	return res.Text, nil
}
