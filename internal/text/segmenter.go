package text

import "strings"

// Segmenter cuts text into sentence-sized pieces for synthesizers that
// accept text incrementally.
type Segmenter struct {
	MaxRunes int
	buffer   []rune
}

func NewSegmenter(maxRunes int) *Segmenter {
	return &Segmenter{MaxRunes: maxRunes}
}

// Split segments a complete text in one call.
func Split(text string, maxRunes int) []string {
	seg := NewSegmenter(maxRunes)
	out := seg.Feed(text)
	if last := seg.Flush(); last != "" {
		out = append(out, last)
	}
	return out
}

func (s *Segmenter) Feed(text string) []string {
	if text == "" {
		return nil
	}

	var outputs []string
	for _, r := range text {
		s.buffer = append(s.buffer, r)
		if isSentenceBoundary(r) || (s.MaxRunes > 0 && len(s.buffer) >= s.MaxRunes) {
			if sentence := s.flushBuffer(); sentence != "" {
				outputs = append(outputs, sentence)
			}
		}
	}
	return outputs
}

func (s *Segmenter) Flush() string {
	return s.flushBuffer()
}

func (s *Segmenter) flushBuffer() string {
	if len(s.buffer) == 0 {
		return ""
	}
	sentence := strings.TrimSpace(string(s.buffer))
	s.buffer = s.buffer[:0]
	return sentence
}

// OCR output keeps the page's line breaks, so a newline also ends a piece.
// The danda marks end sentences in Hindi and other Indic scripts.
func isSentenceBoundary(r rune) bool {
	switch r {
	case '\n', '.', '!', '?', ';', '।', '॥', '…':
		return true
	default:
		return false
	}
}
