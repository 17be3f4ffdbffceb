package testutil

import (
	"strings"

	"github.com/MeKo-Tech/invoxtract/internal/invoice"
)

// basicfont.Face7x13 metrics.
const (
	glyphAdvance = 7
	glyphAscent  = 11
	glyphDescent = 2
)

// LineTokens splits rendered lines into word tokens with the boxes the
// glyphs occupy at the given scale, as a perfect OCR engine would report
// them.
func LineTokens(lines []TextLine, scale int, confidence float64) []invoice.Token {
	s := float64(max(1, scale))
	var tokens []invoice.Token
	for _, l := range lines {
		col := 0
		for f := range strings.SplitSeq(l.Text, " ") {
			if f == "" {
				col++
				continue
			}
			x0 := float64(l.X + col*glyphAdvance)
			x1 := x0 + float64(len(f)*glyphAdvance)
			tokens = append(tokens, invoice.Token{
				Text:       f,
				Confidence: confidence,
				BBox: invoice.BBox{
					XMin: x0 * s,
					YMin: float64(l.Y-glyphAscent) * s,
					XMax: x1 * s,
					YMax: float64(l.Y+glyphDescent) * s,
				},
			})
			col += len(f) + 1
		}
	}
	return tokens
}

// InvoiceTokens returns LineTokens for InvoiceLines.
func InvoiceTokens(scale int, confidence float64) []invoice.Token {
	return LineTokens(InvoiceLines(), scale, confidence)
}

// FindToken returns the first token with the given text.
func FindToken(tokens []invoice.Token, text string) (invoice.Token, bool) {
	for _, t := range tokens {
		if t.Text == text {
			return t, true
		}
	}
	return invoice.Token{}, false
}
