// Package layout reconstructs text rows and line-item columns from token
// positions.
package layout

import (
	"cmp"
	"math"
	"regexp"
	"slices"
	"strings"

	"github.com/MeKo-Tech/invoxtract/internal/invoice"
)

// Column roles inside a row.
const (
	ColumnDescription = "description"
	ColumnQuantity    = "quantity"
	ColumnPrice       = "price"
)

var (
	priceRe    = regexp.MustCompile(`^(?:[$€£]\s?\d[\d.,]*|\d{1,3}(?:[.,]\d{3})*[.,]\d{2}|\d+[.,]\d{2})$`)
	quantityRe = regexp.MustCompile(`^\d{1,3}$`)
)

// Grouper clusters tokens into rows and columns.
type Grouper struct {
	// ToleranceRatio and MinTolerance set the row band: max(ratio*H, min).
	ToleranceRatio float64 `mapstructure:"tolerance_ratio" yaml:"tolerance_ratio"`
	MinTolerance   float64 `mapstructure:"min_tolerance" yaml:"min_tolerance"`
	// Boundaries split description|quantity|price as fractions of the
	// page width.
	Boundaries [2]float64 `mapstructure:"boundaries" yaml:"boundaries"`
	// HeaderClasses are detection classes whose tokens never form items.
	HeaderClasses []string `mapstructure:"header_classes" yaml:"header_classes"`
	// PageWidth is the reference width for Boundaries; zero uses the
	// right edge of the rightmost token.
	PageWidth float64 `mapstructure:"-" yaml:"-"`
}

// NewGrouper returns a grouper with the standard settings.
func NewGrouper() *Grouper {
	return &Grouper{
		ToleranceRatio: 0.008,
		MinTolerance:   15,
		Boundaries:     [2]float64{0.55, 0.75},
		HeaderClasses: []string{
			invoice.ClassIdentifier, invoice.ClassCompanyName, invoice.ClassInvoiceNumber,
			invoice.ClassDate, invoice.ClassSubtotal, invoice.ClassTax,
		},
	}
}

// Tolerance returns the row band for a page of the given height.
func (g *Grouper) Tolerance(imageHeight int) float64 {
	return math.Max(g.ToleranceRatio*float64(imageHeight), g.MinTolerance)
}

// Group builds one row record per clustered row, top to bottom.
func (g *Grouper) Group(tokens []invoice.Token, imageHeight int) []invoice.RowRecord {
	kept := make([]invoice.Token, 0, len(tokens))
	for _, t := range tokens {
		if t.SourceClass != "" && slices.Contains(g.HeaderClasses, t.SourceClass) {
			continue
		}
		kept = append(kept, t)
	}
	if len(kept) == 0 {
		return []invoice.RowRecord{}
	}

	width := g.PageWidth
	if width <= 0 {
		for _, t := range kept {
			width = math.Max(width, t.BBox.XMax)
		}
	}

	rows := ClusterRows(kept, g.Tolerance(imageHeight))
	out := make([]invoice.RowRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, g.buildRow(row, width))
	}
	return out
}

// ClusterRows sorts tokens by vertical center (then x, then text) and
// groups them: a token joins the open row while its center lies within
// tolerance of the row's running mean center. Tokens in each row are
// returned left to right.
func ClusterRows(tokens []invoice.Token, tolerance float64) [][]invoice.Token {
	sorted := slices.Clone(tokens)
	slices.SortStableFunc(sorted, func(a, b invoice.Token) int {
		return cmp.Or(
			cmp.Compare(a.BBox.CenterY(), b.BBox.CenterY()),
			cmp.Compare(a.BBox.XMin, b.BBox.XMin),
			cmp.Compare(a.Text, b.Text),
		)
	})

	var (
		rows [][]invoice.Token
		cur  []invoice.Token
		sum  float64
	)
	for _, t := range sorted {
		cy := t.BBox.CenterY()
		if len(cur) > 0 && math.Abs(cy-sum/float64(len(cur))) > tolerance {
			rows = append(rows, cur)
			cur, sum = nil, 0
		}
		cur = append(cur, t)
		sum += cy
	}
	if len(cur) > 0 {
		rows = append(rows, cur)
	}
	for _, r := range rows {
		slices.SortStableFunc(r, func(a, b invoice.Token) int {
			return cmp.Or(cmp.Compare(a.BBox.XMin, b.BBox.XMin), cmp.Compare(a.Text, b.Text))
		})
	}
	return rows
}

// Classify returns the column role of a token: content first, then the
// horizontal position of its center against the boundaries.
func (g *Grouper) Classify(t invoice.Token, width float64) string {
	text := strings.TrimSpace(t.Text)
	switch {
	case priceRe.MatchString(text):
		return ColumnPrice
	case quantityRe.MatchString(text):
		return ColumnQuantity
	}
	if width <= 0 {
		return ColumnDescription
	}
	x := t.BBox.CenterX() / width
	switch {
	case x < g.Boundaries[0]:
		return ColumnDescription
	case x < g.Boundaries[1]:
		return ColumnQuantity
	default:
		return ColumnPrice
	}
}

func (g *Grouper) buildRow(row []invoice.Token, width float64) invoice.RowRecord {
	var desc, qty, prices []string
	conf := 1.0
	top := math.Inf(1)
	classes := make(map[string]int)
	for _, t := range row {
		switch g.Classify(t, width) {
		case ColumnPrice:
			prices = append(prices, t.Text)
		case ColumnQuantity:
			qty = append(qty, t.Text)
		default:
			desc = append(desc, t.Text)
		}
		conf = math.Min(conf, t.Confidence)
		top = math.Min(top, t.BBox.YMin)
		if t.SourceClass != "" {
			classes[t.SourceClass]++
		}
	}

	rec := invoice.RowRecord{
		Description: joinOr(desc),
		Quantity:    joinOr(qty),
		UnitPrice:   invoice.NotDetected,
		TotalPrice:  invoice.NotDetected,
		Confidence:  conf,
		SourceClass: majority(classes),
		Top:         top,
	}
	// Rightmost price is the line total, the one before it the unit price;
	// earlier prices are ignored.
	if n := len(prices); n > 0 {
		rec.TotalPrice = prices[n-1]
		if n > 1 {
			rec.UnitPrice = prices[n-2]
		}
	}
	return rec
}

func joinOr(parts []string) string {
	if len(parts) == 0 {
		return invoice.NotDetected
	}
	return strings.Join(parts, " ")
}

func majority(counts map[string]int) string {
	best, n := "", 0
	for class, c := range counts {
		if c > n || (c == n && class < best) {
			best, n = class, c
		}
	}
	return best
}

// ReadingOrderText renders all tokens as text: rows top to bottom joined
// by newlines, tokens left to right joined by spaces.
func (g *Grouper) ReadingOrderText(tokens []invoice.Token, imageHeight int) string {
	rows := ClusterRows(tokens, g.Tolerance(imageHeight))
	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		words := make([]string, 0, len(row))
		for _, t := range row {
			if s := strings.TrimSpace(t.Text); s != "" {
				words = append(words, s)
			}
		}
		if len(words) > 0 {
			lines = append(lines, strings.Join(words, " "))
		}
	}
	return strings.Join(lines, "\n")
}

// IsPrice reports whether text looks like a money amount.
func IsPrice(text string) bool { return priceRe.MatchString(strings.TrimSpace(text)) }
