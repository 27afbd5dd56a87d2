// Package transcript joins recognized speech segments into one utterance.
package transcript

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Options controls utterance assembly.
type Options struct {
	// CapitalizeFirst upper-cases the first letter of the utterance.
	CapitalizeFirst bool
}

// Assemble joins final segments in arrival order and collapses whitespace.
// It returns "" when every segment is blank.
func Assemble(segments []string, opts Options) string {
	if len(segments) == 0 {
		return ""
	}

	normalized := strings.Join(strings.Fields(strings.Join(segments, " ")), " ")
	if normalized == "" {
		return ""
	}

	if opts.CapitalizeFirst {
		r, size := utf8.DecodeRuneInString(normalized)
		if unicode.IsLower(r) {
			normalized = string(unicode.ToUpper(r)) + normalized[size:]
		}
	}
	return normalized
}

// Blank reports whether text contains nothing but whitespace.
func Blank(text string) bool {
	return strings.TrimSpace(text) == ""
}
