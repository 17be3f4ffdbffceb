package patterns

import (
	"cmp"
	"math"
	"slices"
	"strings"

	"github.com/MeKo-Tech/invoxtract/internal/invoice"
)

// Scoring constants.
const (
	BaseScore     = 0.7
	KeywordBonus  = 0.2
	MoneyBonus    = 0.2
	DateBonus     = 0.2
	DefaultWindow = 30
	maxMatchScore = 1.0
)

// Match is one scored occurrence of a family pattern.
type Match struct {
	Field   string
	Value   string
	Raw     string
	Score   float64
	Pattern int
	Start   int
	End     int
}

// Extractor runs a registry over text.
type Extractor struct {
	registry *Registry
	// ContextWindow is how many characters either side of a value are
	// searched for keywords.
	ContextWindow int
}

// NewExtractor returns an extractor over reg, or the default registry
// when reg is nil.
func NewExtractor(reg *Registry) *Extractor {
	if reg == nil {
		reg = DefaultRegistry()
	}
	return &Extractor{registry: reg, ContextWindow: DefaultWindow}
}

// Registry returns the families in use.
func (e *Extractor) Registry() *Registry { return e.registry }

// Matches returns every scored match, families in precedence order, each
// family's matches by pattern then position.
func (e *Extractor) Matches(text string) []Match {
	text = cleanInput(text)
	var out []Match
	for _, fam := range e.registry.families {
		for pi, re := range fam.Patterns {
			for _, loc := range re.FindAllStringSubmatchIndex(text, -1) {
				start, end := loc[0], loc[1]
				if len(loc) >= 4 && loc[2] >= 0 {
					start, end = loc[2], loc[3]
				}
				raw := text[start:end]
				value, shaped, ok := normalizeValue(fam.Kind, raw)
				if !ok {
					continue
				}
				score := BaseScore
				if e.keywordNear(text, start, end, fam.Keywords) {
					score += KeywordBonus
				}
				if shaped {
					switch fam.Kind {
					case KindMoney:
						score += MoneyBonus
					case KindDate:
						score += DateBonus
					}
				}
				out = append(out, Match{
					Field:   fam.Field,
					Value:   value,
					Raw:     raw,
					Score:   math.Min(score, maxMatchScore),
					Pattern: pi,
					Start:   start,
					End:     end,
				})
			}
		}
	}
	return out
}

// ExtractFields returns the best candidate per field: highest score, then
// earlier pattern, then earlier position.
func (e *Extractor) ExtractFields(text string) []invoice.FieldCandidate {
	best := make(map[string]Match)
	var order []string
	for _, m := range e.Matches(text) {
		cur, seen := best[m.Field]
		if !seen {
			order = append(order, m.Field)
			best[m.Field] = m
			continue
		}
		if better(m, cur) {
			best[m.Field] = m
		}
	}
	out := make([]invoice.FieldCandidate, 0, len(order))
	for _, f := range order {
		m := best[f]
		out = append(out, invoice.FieldCandidate{
			Field:      m.Field,
			Value:      m.Value,
			Confidence: m.Score,
			Source:     invoice.SourcePattern,
		})
	}
	return out
}

func better(a, b Match) bool {
	return cmp.Or(
		-cmp.Compare(a.Score, b.Score),
		cmp.Compare(a.Pattern, b.Pattern),
		cmp.Compare(a.Start, b.Start),
	) < 0
}

func (e *Extractor) keywordNear(text string, start, end int, keywords []string) bool {
	if len(keywords) == 0 {
		return false
	}
	w := e.ContextWindow
	before := strings.ToLower(text[max(0, start-w):start])
	after := strings.ToLower(text[end:min(len(text), end+w)])
	return slices.ContainsFunc(keywords, func(k string) bool {
		k = strings.ToLower(k)
		return strings.Contains(before, k) || strings.Contains(after, k)
	})
}

// normalizeValue converts a raw match per kind. shaped reports a clean
// two-decimal amount or a recognized date.
func normalizeValue(kind Kind, raw string) (value string, shaped, ok bool) {
	switch kind {
	case KindIdentifier:
		v := NormalizeIdentifier(raw)
		return v, false, v != ""
	case KindMoney:
		d, clean, ok := ParseMoney(raw)
		if !ok {
			return "", false, false
		}
		return FormatMoney(d), clean, true
	case KindDate:
		v, shaped := NormalizeDate(raw)
		return v, shaped, v != ""
	default:
		v := strings.TrimSpace(raw)
		return v, false, v != ""
	}
}
