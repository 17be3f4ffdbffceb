package onnxocr

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// cleanText applies NFKC, strips zero-width and control runes and
// collapses whitespace.
func cleanText(s string) string {
	if s == "" {
		return s
	}
	s = norm.NFKC.String(s)
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		switch {
		case r == '\u200B' || r == '\u200C' || r == '\u200D' || r == '\uFEFF':
			continue
		case unicode.IsSpace(r):
			space = true
			continue
		case unicode.IsControl(r):
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}
	return b.String()
}
