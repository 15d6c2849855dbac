// Package apperrors classifies failures of the reading pipeline so the
// orchestrator can turn them into user notices instead of crashing.
package apperrors

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindImageDecode   Kind = "image_decode"
	KindOCREngine     Kind = "ocr_engine"
	KindSpeechBackend Kind = "speech_backend"
	KindConfiguration Kind = "configuration"
	KindCamera        Kind = "camera"
	KindUnknown       Kind = "unknown"
)

type Error struct {
	Kind    Kind
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Kind, e.Op, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Kind, e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Wrap attaches a kind to err. An error that already carries a kind keeps it.
func Wrap(kind Kind, op, message string, err error) error {
	if err == nil {
		return nil
	}

	var typed *Error
	if errors.As(err, &typed) {
		return err
	}

	return &Error{
		Kind:    kind,
		Op:      op,
		Message: message,
		Cause:   err,
	}
}

func New(kind Kind, op, message string) error {
	return &Error{
		Kind:    kind,
		Op:      op,
		Message: message,
	}
}

// IsKind checks whether the first classified error in the chain has kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// KindOf returns the kind of the first classified error in the chain.
func KindOf(err error) Kind {
	var target *Error
	if errors.As(err, &target) {
		return target.Kind
	}
	return KindUnknown
}

func ImageDecode(op string, err error) error {
	return Wrap(KindImageDecode, op, "image could not be read", err)
}

func OCREngine(op string, err error) error {
	return Wrap(KindOCREngine, op, "text recognition failed", err)
}

func SpeechBackend(op string, err error) error {
	return Wrap(KindSpeechBackend, op, "speech output failed", err)
}

func Configuration(op string, err error) error {
	return Wrap(KindConfiguration, op, "invalid configuration", err)
}

func Camera(op string, err error) error {
	return Wrap(KindCamera, op, "camera unavailable", err)
}
