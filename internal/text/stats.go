package text

import (
	"strings"
	"unicode/utf8"
)

// Stats is the word and character count shown under the editable text.
type Stats struct {
	Words      int `json:"words"`
	Characters int `json:"characters"`
}

// Count treats any run of whitespace as a word separator and counts every
// character, whitespace included.
func Count(s string) Stats {
	return Stats{
		Words:      len(strings.Fields(s)),
		Characters: utf8.RuneCountInString(s),
	}
}

// Flatten joins the lines of s with single spaces so a synthesizer reads it
// as running text.
func Flatten(s string) string {
	return strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(s)
}
