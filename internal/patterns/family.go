// Package patterns extracts field candidates from reading-order text with
// ordered regex families and keyword context scoring.
package patterns

import (
	"fmt"
	"regexp"
	"slices"

	"github.com/MeKo-Tech/invoxtract/internal/invoice"
)

// Kind selects how a family's matches are normalized and scored.
type Kind string

const (
	KindIdentifier Kind = "identifier"
	KindText       Kind = "text"
	KindMoney      Kind = "money"
	KindDate       Kind = "date"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindIdentifier, KindText, KindMoney, KindDate:
		return true
	}
	return false
}

// Family is the ordered set of alternatives for one field, most specific
// first. A pattern's first capture group is the value; without groups the
// whole match is.
type Family struct {
	Field    string
	Kind     Kind
	Keywords []string
	Patterns []*regexp.Regexp
}

// Building blocks for money labels. Summary labels are anchored at the
// start of a line so "Total" never matches inside "Sub Total" and "IVA"
// never matches inside "SUBTOTAL NO OBJETO DE IVA".
const (
	// lineLabel opens a label that must start its line.
	lineLabel = `(?im)^[ \t]*`
	// rate skips an optional percentage after a label: "12%", "(8%)", "10.5 %".
	rate = `(?:[ \t]*\(?[ \t]*\d{1,2}(?:[.,]\d+)?[ \t]?%[ \t]*\)?)?`
	// amount captures a money token after a label on the same line.
	amount = `[^\d$€\n]*([$€]?\s?\d[\d.,]*\d)`
	// separated captures a money token after at most a colon, dots or a
	// dash, so words following the label ("Tax ID") do not match.
	separated = `[ \t:.\-]*([$€]?[ \t]?\d[\d.,]*\d)`
)

func compile(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(e)
	}
	return out
}

// EcuadorFamilies covers Ecuadorian invoices: 13-digit RUC, establishment
// and emission point invoice numbers, IVA.
func EcuadorFamilies() []Family {
	return []Family{
		{
			Field:    invoice.FieldRUC,
			Kind:     KindIdentifier,
			Keywords: []string{"ruc", "r.u.c", "ci/ruc"},
			Patterns: compile(
				`(?i)\bR\.?\s?U\.?\s?C\.?\s*(?:No\.?|N[°º])?\s*[:#]?\s*(\d{13})\b`,
				`\b(\d{10}001)\b`,
			),
		},
		{
			Field:    invoice.FieldCompanyName,
			Kind:     KindText,
			Keywords: []string{"razón social", "razon social", "proveedor"},
			Patterns: compile(
				`(?im)raz[oó]n\s+social\s*[:]\s*([^\n]{3,80})`,
				`(?m)^\s*([A-ZÁÉÍÓÚÑ][A-Za-zÁÉÍÓÚÑáéíóúñ0-9&.,' -]{1,60}?\s(?:S\.A\.S\.?|S\.A\.?|C[IÍ]A\.?\s*LTDA\.?|LTDA\.?))\s*$`,
			),
		},
		{
			Field:    invoice.FieldInvoiceNumber,
			Kind:     KindText,
			Keywords: []string{"factura", "no.", "nro", "número", "numero"},
			Patterns: compile(
				`\b(\d{3}-\d{3}-\d{9})\b`,
				`(?i)factura\s*(?:No\.?|N[°º]|Nro\.?|#)?\s*[:#]?\s*(\d{3}-?\d{3}-?\d{6,9})\b`,
			),
		},
		{
			Field:    invoice.FieldDate,
			Kind:     KindDate,
			Keywords: []string{"fecha", "emisión", "emision"},
			Patterns: compile(
				`\b(\d{1,2}/\d{1,2}/\d{4})\b`,
				`\b(\d{4}-\d{2}-\d{2})\b`,
				`\b(\d{1,2}-\d{1,2}-\d{4})\b`,
			),
		},
		{
			Field:    invoice.FieldSubtotal,
			Kind:     KindMoney,
			Keywords: []string{"subtotal", "sub total", "base imponible"},
			Patterns: compile(
				lineLabel + `sub[ \t]*-?[ \t]*total\b` + rate + amount,
				lineLabel + `base[ \t]+imponible\b` + rate + amount,
			),
		},
		{
			Field:    invoice.FieldTax,
			Kind:     KindMoney,
			Keywords: []string{"iva", "i.v.a", "impuesto"},
			Patterns: compile(
				lineLabel + `(?:valor[ \t]+)?I\.?V\.?A\b\.?` + rate + amount,
			),
		},
		{
			Field:    invoice.FieldTotal,
			Kind:     KindMoney,
			Keywords: []string{"total", "a pagar", "valor total"},
			Patterns: compile(
				lineLabel + `(?:valor[ \t]+total|total[ \t]+a[ \t]+pagar|importe[ \t]+total)\b` + amount,
				lineLabel + `total\b` + rate + amount,
			),
		},
	}
}

// EnglishFamilies covers English-language invoices.
func EnglishFamilies() []Family {
	return []Family{
		{
			Field:    invoice.FieldRUC,
			Kind:     KindIdentifier,
			Keywords: []string{"tax id", "vat", "ein"},
			Patterns: compile(`(?i)\b(?:tax\s*id|vat\s*(?:no\.?|number)?|ein)\s*[:#]?\s*([0-9][0-9 -]{5,18}[0-9])`),
		},
		{
			Field:    invoice.FieldCompanyName,
			Kind:     KindText,
			Keywords: []string{"company", "vendor", "sold by", "from"},
			Patterns: compile(
				`(?im)(?:company|vendor|sold\s+by)\s*[:]\s*([^\n]{3,80})`,
				`(?m)^\s*([A-Z][A-Za-z0-9&.,' -]{1,60}?\s(?:Inc\.?|INC\.?|LLC|Ltd\.?|LTD\.?|Corp\.?|CORP\.?|GmbH))\s*$`,
			),
		},
		{
			Field:    invoice.FieldInvoiceNumber,
			Kind:     KindText,
			Keywords: []string{"invoice"},
			Patterns: compile(`(?i)\binvoice\s*(?:#|no\.?|number|num\.?)\s*[:#]?\s*([A-Z0-9][A-Z0-9-]{2,19})\b`),
		},
		{
			Field:    invoice.FieldDate,
			Kind:     KindDate,
			Keywords: []string{"date", "issued"},
			Patterns: compile(
				`(?i)\b((?:jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?\s+\d{1,2},?\s+\d{4})\b`,
				`(?i)\b(\d{1,2}\s+(?:jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?\s+\d{4})\b`,
			),
		},
		{
			Field:    invoice.FieldTax,
			Kind:     KindMoney,
			Keywords: []string{"tax", "vat"},
			Patterns: compile(lineLabel + `(?:sales[ \t]+)?tax(?:[ \t]+amount)?\b` + rate + separated),
		},
		{
			Field:    invoice.FieldTotal,
			Kind:     KindMoney,
			Keywords: []string{"amount due", "balance due", "grand total"},
			Patterns: compile(lineLabel + `(?:amount[ \t]+due|balance[ \t]+due|grand[ \t]+total|total[ \t]+due)\b` + rate + amount),
		},
	}
}

// Registry is the ordered, unified list of families. Order is precedence.
type Registry struct {
	families []Family
}

// NewRegistry builds a registry, folding families for the same field into
// the first one: its keywords are unioned and patterns appended.
func NewRegistry(sets ...[]Family) *Registry {
	r := &Registry{}
	for _, set := range sets {
		for _, f := range set {
			r.fold(f)
		}
	}
	return r
}

// DefaultRegistry returns the Ecuadorian families followed by the English
// ones.
func DefaultRegistry() *Registry {
	return NewRegistry(EcuadorFamilies(), EnglishFamilies())
}

func (r *Registry) fold(f Family) {
	i := r.index(f.Field)
	if i < 0 {
		r.families = append(r.families, cloneFamily(f))
		return
	}
	dst := &r.families[i]
	for _, k := range f.Keywords {
		if !slices.Contains(dst.Keywords, k) {
			dst.Keywords = append(dst.Keywords, k)
		}
	}
	dst.Patterns = append(dst.Patterns, f.Patterns...)
}

func (r *Registry) index(field string) int {
	return slices.IndexFunc(r.families, func(f Family) bool { return f.Field == field })
}

// Override replaces families with the same field and appends new ones.
func (r *Registry) Override(families ...Family) error {
	for _, f := range families {
		if f.Field == "" || !f.Kind.Valid() || len(f.Patterns) == 0 {
			return fmt.Errorf("invalid family for field %q", f.Field)
		}
		if i := r.index(f.Field); i >= 0 {
			r.families[i] = cloneFamily(f)
			continue
		}
		r.families = append(r.families, cloneFamily(f))
	}
	return nil
}

// Families returns the families in precedence order.
func (r *Registry) Families() []Family {
	out := make([]Family, len(r.families))
	for i, f := range r.families {
		out[i] = cloneFamily(f)
	}
	return out
}

// Family returns the family for field.
func (r *Registry) Family(field string) (Family, bool) {
	i := r.index(field)
	if i < 0 {
		return Family{}, false
	}
	return cloneFamily(r.families[i]), true
}

func cloneFamily(f Family) Family {
	f.Keywords = slices.Clone(f.Keywords)
	f.Patterns = slices.Clone(f.Patterns)
	return f
}
