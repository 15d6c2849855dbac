// Package tesseract is the libtesseract-backed OCR engine.
package tesseract

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/otiai10/gosseract/v2"

	"github.com/liuscraft/orion-reader/internal/apperrors"
	"github.com/liuscraft/orion-reader/internal/ocr"
)

// engineModeConfig is handed to the engine at init time; the engine mode is
// an init-only variable and cannot be set after the client is created.
var engineModeConfig = fmt.Sprintf("tessedit_ocr_engine_mode %d\n", ocr.EngineModeLSTM)

// Engine implements ocr.Engine using one gosseract client per request.
type Engine struct {
	clientFactory  func() *gosseract.Client
	tessdataPrefix string

	configOnce sync.Once
	configPath string
	configErr  error
}

func NewEngine(tessdataPrefix string) *Engine {
	return &Engine{
		clientFactory:  gosseract.NewClient,
		tessdataPrefix: strings.TrimSpace(tessdataPrefix),
	}
}

func (e *Engine) Name() string { return "tesseract" }

// Recognize runs in its own goroutine so a cancelled ctx returns promptly;
// the goroutine keeps the client until the engine call finishes.
func (e *Engine) Recognize(ctx context.Context, in ocr.Input) (ocr.Result, error) {
	configPath, err := e.engineConfig()
	if err != nil {
		return ocr.Result{}, apperrors.OCREngine("config", err)
	}

	type outcome struct {
		res ocr.Result
		err error
	}
	done := make(chan outcome, 1)

	go func() {
		c := e.clientFactory()
		defer c.Close()
		res, err := e.recognizeWithClient(c, configPath, in)
		done <- outcome{res, err}
	}()

	select {
	case <-ctx.Done():
		return ocr.Result{}, apperrors.OCREngine("recognize", ctx.Err())
	case out := <-done:
		return out.res, out.err
	}
}

func (e *Engine) recognizeWithClient(c *gosseract.Client, configPath string, in ocr.Input) (ocr.Result, error) {
	if e.tessdataPrefix != "" {
		if err := c.SetTessdataPrefix(e.tessdataPrefix); err != nil {
			return ocr.Result{}, apperrors.OCREngine("tessdata", err)
		}
	}
	if err := c.SetConfigFile(configPath); err != nil {
		return ocr.Result{}, apperrors.OCREngine("engine mode", err)
	}
	if err := c.SetLanguage(in.Language); err != nil {
		return ocr.Result{}, apperrors.OCREngine("language", err)
	}
	if err := c.SetPageSegMode(gosseract.PSM_SINGLE_BLOCK); err != nil {
		return ocr.Result{}, apperrors.OCREngine("page segmentation", err)
	}
	if err := c.SetImageFromBytes(in.Image); err != nil {
		return ocr.Result{}, apperrors.ImageDecode("set image", err)
	}

	text, err := c.Text()
	if err != nil {
		return ocr.Result{}, apperrors.OCREngine("recognize text", err)
	}
	return ocr.Result{Text: text, Language: in.Language, Engine: e.Name()}, nil
}

func (e *Engine) engineConfig() (string, error) {
	e.configOnce.Do(func() {
		dir, err := os.MkdirTemp("", "orion-reader-tess-")
		if err != nil {
			e.configErr = err
			return
		}
		path := filepath.Join(dir, "lstm-only")
		if err := os.WriteFile(path, []byte(engineModeConfig), 0o600); err != nil {
			e.configErr = err
			return
		}
		e.configPath = path
	})
	return e.configPath, e.configErr
}
