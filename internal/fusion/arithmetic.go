package fusion

import (
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/MeKo-Tech/invoxtract/internal/invoice"
	"github.com/MeKo-Tech/invoxtract/internal/patterns"
)

// TotalsConsistent reports whether |subtotal + tax - total| <= tolerance*total
// for a positive total.
func TotalsConsistent(subtotal, tax, total decimal.Decimal, tolerance float64) bool {
	if !total.IsPositive() {
		return false
	}
	diff := total.Sub(subtotal.Add(tax)).Abs()
	return diff.LessThanOrEqual(total.Mul(decimal.NewFromFloat(tolerance)))
}

func moneyOf(fields map[string]invoice.FieldValue, field string) (decimal.Decimal, bool) {
	fv, ok := fields[field]
	if !ok || fv.Value == "" {
		return decimal.Zero, false
	}
	d, _, ok := patterns.ParseMoney(fv.Value)
	return d, ok
}

func (e *Engine) checkTotals(fields map[string]invoice.FieldValue) bool {
	s, okS := moneyOf(fields, invoice.FieldSubtotal)
	t, okT := moneyOf(fields, invoice.FieldTax)
	tot, okTotal := moneyOf(fields, invoice.FieldTotal)
	if !okS || !okT || !okTotal {
		return false
	}
	return TotalsConsistent(s, t, tot, e.cfg.Tolerance)
}

// validate runs the arithmetic check. When it fails, a single missing
// money field is completed from the other two; otherwise the fields that
// are missing or disagree with the line item totals are derived from them.
// Page values that agree are kept.
func (e *Engine) validate(fields map[string]invoice.FieldValue, items []invoice.RowRecord, tracer *invoice.Tracer) bool {
	if e.checkTotals(fields) {
		tracer.Record(invoice.StageValidate, "totals_match",
			"subtotal", fields[invoice.FieldSubtotal].Value,
			"iva", fields[invoice.FieldTax].Value,
			"total", fields[invoice.FieldTotal].Value)
		return true
	}

	if e.completeTotals(fields, tracer) {
		return true
	}

	sum := decimal.Zero
	conf := 1.0
	n := 0
	for _, r := range items {
		d, _, ok := patterns.ParseMoney(r.TotalPrice)
		if !ok || r.TotalPrice == invoice.NotDetected {
			continue
		}
		sum = sum.Add(d)
		conf = min(conf, r.Confidence)
		n++
	}
	if n == 0 || !sum.IsPositive() {
		tracer.Record(invoice.StageValidate, "totals_mismatch", "reason", "no line item totals to derive from")
		return false
	}

	rate := decimal.NewFromFloat(e.cfg.TaxRate)
	subtotal := sum.Div(decimal.NewFromInt(1).Add(rate)).Round(2)
	tax := subtotal.Mul(rate).Round(2)
	total := sum.Round(2)

	derived := map[string]decimal.Decimal{
		invoice.FieldSubtotal: subtotal,
		invoice.FieldTax:      tax,
		invoice.FieldTotal:    total,
	}
	tolerance := decimal.NewFromFloat(e.cfg.Tolerance)
	var overridden []string
	for _, f := range invoice.MoneyFields {
		slack := derived[f].Abs().Mul(tolerance)
		if cur, ok := moneyOf(fields, f); ok && cur.Sub(derived[f]).Abs().LessThanOrEqual(slack) {
			continue
		}
		prev := fields[f].Value
		fields[f] = invoice.FieldValue{
			Value:      patterns.FormatMoney(derived[f]),
			Confidence: conf,
			Source:     invoice.SourceStructural,
			Derived:    true,
		}
		overridden = append(overridden, f)
		slog.Warn("Arithmetic override",
			"field", f,
			"previous", prev,
			"derived", fields[f].Value,
			"line_item_sum", sum.StringFixed(2))
	}
	tracer.Record(invoice.StageValidate, "derived_from_line_items",
		"line_item_sum", sum.StringFixed(2),
		"tax_rate", rate.String(),
		"overridden", strings.Join(overridden, ","),
		"subtotal", fields[invoice.FieldSubtotal].Value,
		"iva", fields[invoice.FieldTax].Value,
		"total", fields[invoice.FieldTotal].Value)

	return e.checkTotals(fields)
}

// completeTotals fills the one missing money field from the other two:
// tax = total - subtotal, subtotal = total - tax, total = subtotal + tax.
// It reports whether the completed fields pass the arithmetic check.
func (e *Engine) completeTotals(fields map[string]invoice.FieldValue, tracer *invoice.Tracer) bool {
	s, okS := moneyOf(fields, invoice.FieldSubtotal)
	t, okT := moneyOf(fields, invoice.FieldTax)
	tot, okTotal := moneyOf(fields, invoice.FieldTotal)

	var field string
	var value decimal.Decimal
	var from [2]string
	switch {
	case okS && okTotal && !okT:
		field, value, from = invoice.FieldTax, tot.Sub(s), [2]string{invoice.FieldSubtotal, invoice.FieldTotal}
	case okT && okTotal && !okS:
		field, value, from = invoice.FieldSubtotal, tot.Sub(t), [2]string{invoice.FieldTax, invoice.FieldTotal}
	case okS && okT && !okTotal:
		field, value, from = invoice.FieldTotal, s.Add(t), [2]string{invoice.FieldSubtotal, invoice.FieldTax}
	default:
		return false
	}
	if value.IsNegative() {
		return false
	}

	fields[field] = invoice.FieldValue{
		Value:      patterns.FormatMoney(value.Round(2)),
		Confidence: min(fields[from[0]].Confidence, fields[from[1]].Confidence),
		Source:     fields[from[1]].Source,
		Derived:    true,
	}
	slog.Warn("Arithmetic completion",
		"field", field,
		"derived", fields[field].Value,
		"from", from[0]+","+from[1])
	tracer.Record(invoice.StageValidate, "derived_from_totals",
		"field", field,
		"subtotal", fields[invoice.FieldSubtotal].Value,
		"iva", fields[invoice.FieldTax].Value,
		"total", fields[invoice.FieldTotal].Value)
	return e.checkTotals(fields)
}
