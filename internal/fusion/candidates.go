package fusion

import (
	"regexp"
	"slices"
	"strings"

	"github.com/MeKo-Tech/invoxtract/internal/invoice"
	"github.com/MeKo-Tech/invoxtract/internal/layout"
	"github.com/MeKo-Tech/invoxtract/internal/patterns"
)

// summaryRows maps a row description prefix to the summary field it names.
// Subtotal comes first since it also starts with a total-like word.
var summaryRows = []struct {
	field string
	re    *regexp.Regexp
}{
	{invoice.FieldSubtotal, regexp.MustCompile(`(?i)^\s*(?:sub\s*-?\s*total|base\s+imponible)\b`)},
	{invoice.FieldTax, regexp.MustCompile(`(?i)^\s*(?:i\.?v\.?a\b|(?:sales\s+)?tax\b|impuesto)`)},
	{invoice.FieldTotal, regexp.MustCompile(`(?i)^\s*(?:total|valor\s+total|importe\s+total|amount\s+due|balance\s+due|grand\s+total)\b`)},
}

// SummaryField returns the summary field a row description names.
func SummaryField(description string) (string, bool) {
	for _, s := range summaryRows {
		if s.re.MatchString(description) {
			return s.field, true
		}
	}
	return "", false
}

// detectorCandidates turns header detections into candidates from the
// tokens whose centers fall inside each box.
func (e *Engine) detectorCandidates(in Input) []invoice.FieldCandidate {
	var out []invoice.FieldCandidate
	for _, d := range in.Detections {
		field, ok := invoice.FieldForClass(d.Class)
		if !ok {
			continue
		}
		var inside []invoice.Token
		sum := 0.0
		for _, t := range in.Tokens {
			if d.BBox.Contains(t.BBox.Center()) {
				inside = append(inside, t)
				sum += t.Confidence
			}
		}
		if len(inside) == 0 {
			continue
		}
		value := fieldValue(field, inside, e.grouper.ReadingOrderText(inside, in.ImageHeight))
		if value == "" {
			continue
		}
		out = append(out, invoice.FieldCandidate{
			Field:      field,
			Value:      value,
			Confidence: d.Confidence * sum / float64(len(inside)),
			Source:     invoice.SourceDetector,
		})
	}
	return out
}

// fieldValue cleans the text found inside a detection so it compares with
// pattern values: money and dates in their normal form, identifiers as
// digits, labels dropped where the value has a recognisable shape.
func fieldValue(field string, tokens []invoice.Token, text string) string {
	text = strings.Join(strings.Fields(text), " ")
	switch field {
	case invoice.FieldSubtotal, invoice.FieldTax, invoice.FieldTotal:
		for i := len(tokens) - 1; i >= 0; i-- {
			if !layout.IsPrice(tokens[i].Text) {
				continue
			}
			if v, ok := patterns.NormalizeMoney(tokens[i].Text); ok {
				return v
			}
		}
		return ""
	case invoice.FieldRUC:
		best := ""
		for _, t := range tokens {
			if d := patterns.NormalizeIdentifier(t.Text); len(d) > len(best) {
				best = d
			}
		}
		return best
	case invoice.FieldDate:
		if v, ok := patterns.NormalizeDate(text); ok {
			return v
		}
		for _, t := range tokens {
			if v, ok := patterns.NormalizeDate(t.Text); ok {
				return v
			}
		}
		return text
	case invoice.FieldInvoiceNumber:
		for _, f := range slices.Backward(strings.Fields(text)) {
			if strings.ContainsAny(f, "0123456789") {
				return f
			}
		}
		return text
	default:
		return text
	}
}

// structuralCandidates splits summary rows off the line items.
func structuralCandidates(rows []invoice.RowRecord) ([]invoice.FieldCandidate, []invoice.RowRecord) {
	var cands []invoice.FieldCandidate
	items := make([]invoice.RowRecord, 0, len(rows))
	for _, r := range rows {
		if field, ok := SummaryField(r.Description); ok {
			if v, ok := patterns.NormalizeMoney(r.TotalPrice); ok && r.TotalPrice != invoice.NotDetected {
				cands = append(cands, invoice.FieldCandidate{
					Field:      field,
					Value:      v,
					Confidence: r.Confidence,
					Source:     invoice.SourceStructural,
				})
			}
			continue
		}
		if r.TotalPrice == invoice.NotDetected {
			continue
		}
		items = append(items, r)
	}
	return cands, items
}
