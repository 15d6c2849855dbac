package ocr

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/liuscraft/orion-reader/internal/apperrors"
)

// CLIEngine runs the tesseract binary with the image on stdin. It serves
// hosts where libtesseract headers are unavailable for the cgo engine.
type CLIEngine struct {
	Binary         string
	TessdataPrefix string
}

func NewCLIEngine(binary, tessdataPrefix string) *CLIEngine {
	if strings.TrimSpace(binary) == "" {
		binary = "tesseract"
	}
	return &CLIEngine{Binary: binary, TessdataPrefix: tessdataPrefix}
}

func (e *CLIEngine) Name() string { return "tesseract-cli" }

func (e *CLIEngine) Recognize(ctx context.Context, in Input) (Result, error) {
	path, err := exec.LookPath(e.Binary)
	if err != nil {
		return Result{}, apperrors.OCREngine("lookup", err)
	}

	cmd := exec.CommandContext(ctx, path, e.args(in.Language)...)
	cmd.Stdin = bytes.NewReader(in.Image)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, apperrors.OCREngine("run", ctxErr)
		}
		return Result{}, classifyCLIError(err, stderr.String())
	}

	return Result{Text: stdout.String(), Language: in.Language, Engine: e.Name()}, nil
}

func (e *CLIEngine) args(lang string) []string {
	args := []string{"stdin", "stdout", "-l", lang,
		"--oem", strconv.Itoa(EngineModeLSTM),
		"--psm", strconv.Itoa(PageSegSingleBlock),
	}
	if e.TessdataPrefix != "" {
		args = append(args, "--tessdata-dir", e.TessdataPrefix)
	}
	return args
}

func classifyCLIError(err error, stderr string) error {
	msg := strings.TrimSpace(stderr)
	wrapped := fmt.Errorf("%w: %s", err, msg)
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "pixreadmem") || strings.Contains(lower, "unsupported image") {
		return apperrors.ImageDecode("run", wrapped)
	}
	return apperrors.OCREngine("run", wrapped)
}
