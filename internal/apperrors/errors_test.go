package apperrors

import (
	"errors"
	"fmt"
	"io"
	"testing"
)

func TestWrapKeepsFirstKind(t *testing.T) {
	inner := OCREngine("recognize", io.ErrUnexpectedEOF)
	outer := Wrap(KindSpeechBackend, "announce", "outer", fmt.Errorf("pipeline: %w", inner))

	if got := KindOf(outer); got != KindOCREngine {
		t.Fatalf("KindOf() = %s, want %s", got, KindOCREngine)
	}
	if !errors.Is(outer, io.ErrUnexpectedEOF) {
		t.Fatalf("expected cause to be preserved")
	}
}

func TestWrapNil(t *testing.T) {
	if err := Wrap(KindCamera, "open", "msg", nil); err != nil {
		t.Fatalf("Wrap(nil) = %v, want nil", err)
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"image", ImageDecode("decode", io.EOF), KindImageDecode},
		{"ocr", OCREngine("init", io.EOF), KindOCREngine},
		{"speech", SpeechBackend("speak", io.EOF), KindSpeechBackend},
		{"config", New(KindConfiguration, "lang", "unsupported"), KindConfiguration},
		{"camera", Camera("open", io.EOF), KindCamera},
		{"wrapped", fmt.Errorf("outer: %w", Configuration("lang", io.EOF)), KindConfiguration},
		{"plain", io.EOF, KindUnknown},
		{"nil", nil, KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %s, want %s", got, tt.want)
			}
			if tt.want != KindUnknown && !IsKind(tt.err, tt.want) {
				t.Errorf("IsKind(%s) = false", tt.want)
			}
		})
	}
}

func TestErrorString(t *testing.T) {
	err := New(KindConfiguration, "language", "unsupported language \"xx\"")
	want := "[configuration:language] unsupported language \"xx\""
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
}
