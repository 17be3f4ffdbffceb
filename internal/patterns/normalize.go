package patterns

import (
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"
)

// ParseMoney reads an amount written as 1,234.56, 1.234,56, 100,00, 12 or
// with a currency prefix. clean reports whether it carried exactly two
// decimal digits.
func ParseMoney(s string) (d decimal.Decimal, clean bool, ok bool) {
	s = strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) || r == '.' || r == ',' || r == '-' {
			return r
		}
		return -1
	}, s)
	s = strings.Trim(s, ".,")
	if s == "" || s == "-" {
		return decimal.Zero, false, false
	}

	lastDot := strings.LastIndexByte(s, '.')
	lastComma := strings.LastIndexByte(s, ',')
	sep := max(lastDot, lastComma)

	var intPart, frac string
	switch {
	case sep < 0:
		intPart = s
	case len(s)-sep-1 == 3 && (lastDot < 0 || lastComma < 0):
		// "1,234" or "1.234.567": a lone separator kind followed by three
		// digits groups thousands.
		intPart = s
	default:
		intPart, frac = s[:sep], s[sep+1:]
	}
	intPart = strings.NewReplacer(".", "", ",", "").Replace(intPart)
	if intPart == "" || intPart == "-" {
		intPart += "0"
	}
	num := intPart
	if frac != "" {
		num += "." + frac
	}
	d, err := decimal.NewFromString(num)
	if err != nil {
		return decimal.Zero, false, false
	}
	return d, len(frac) == 2, true
}

// FormatMoney renders d as $D.DD.
func FormatMoney(d decimal.Decimal) string {
	return "$" + d.Round(2).StringFixed(2)
}

// NormalizeMoney parses s and renders it as $D.DD.
func NormalizeMoney(s string) (string, bool) {
	d, _, ok := ParseMoney(s)
	if !ok {
		return "", false
	}
	return FormatMoney(d), true
}

// NormalizeIdentifier keeps digits only.
func NormalizeIdentifier(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}

var dateLayouts = []string{
	"2/1/2006",
	"2006-01-02",
	"2-1-2006",
	"January 2, 2006",
	"January 2 2006",
	"Jan 2, 2006",
	"Jan 2 2006",
	"Jan. 2, 2006",
	"2 January 2006",
	"2 Jan 2006",
}

// NormalizeDate renders a recognized date as dd/mm/yyyy. Slash and dash
// forms are read day first.
func NormalizeDate(s string) (string, bool) {
	s = strings.Join(strings.Fields(s), " ")
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, titleMonth(s)); err == nil {
			return t.Format("02/01/2006"), true
		}
	}
	return s, false
}

// titleMonth capitalises month words so "MARCH 5, 2024" parses.
func titleMonth(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		if w == "" || !unicode.IsLetter(rune(w[0])) {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	}
	return strings.Join(words, " ")
}

// NormalizeText applies NFKC and collapses whitespace.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(norm.NFKC.String(s)), " ")
}

// cleanInput applies NFKC per line, keeping line breaks for anchored
// patterns.
func cleanInput(s string) string {
	s = norm.NFKC.String(s)
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.Join(strings.Fields(l), " ")
	}
	return strings.Join(lines, "\n")
}
