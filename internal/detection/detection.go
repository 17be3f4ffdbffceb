// Package detection adapts region proposals from an external object detector
// to the invoice class vocabulary.
package detection

import (
	"cmp"
	"context"
	"image"
	"math"
	"slices"
	"strings"
	"unicode"

	"github.com/MeKo-Tech/invoxtract/internal/invoice"
)

// DefaultFloor is the minimum detector confidence kept by the adapter.
const DefaultFloor = 0.25

// RawDetection is a proposal as produced by a detector: a free-form label,
// a confidence and an [x1, y1, x2, y2] box in pixels.
type RawDetection struct {
	Label      string     `json:"label" yaml:"label"`
	Confidence float64    `json:"confidence" yaml:"confidence"`
	Box        [4]float64 `json:"box" yaml:"box"`
}

// Detector proposes labelled regions on a page.
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]RawDetection, error)
}

// SourceSpace is implemented by detectors whose boxes refer to the original
// page rather than the normalized image they are handed.
type SourceSpace interface {
	InSourceSpace() bool
}

// BoxMapper maps a box into normalized page coordinates.
type BoxMapper interface {
	MapBox(b invoice.BBox, bounds image.Rectangle) invoice.BBox
}

// defaultAliases maps canonical label keys to vocabulary classes.
var defaultAliases = map[string]string{
	"identifier":     invoice.ClassIdentifier,
	"ruc":            invoice.ClassIdentifier,
	"taxid":          invoice.ClassIdentifier,
	"vatnumber":      invoice.ClassIdentifier,
	"nit":            invoice.ClassIdentifier,
	"rfc":            invoice.ClassIdentifier,
	"companyname":    invoice.ClassCompanyName,
	"company":        invoice.ClassCompanyName,
	"razonsocial":    invoice.ClassCompanyName,
	"vendor":         invoice.ClassCompanyName,
	"supplier":       invoice.ClassCompanyName,
	"emisor":         invoice.ClassCompanyName,
	"invoicenumber":  invoice.ClassInvoiceNumber,
	"invoiceno":      invoice.ClassInvoiceNumber,
	"invoicenum":     invoice.ClassInvoiceNumber,
	"factura":        invoice.ClassInvoiceNumber,
	"facturano":      invoice.ClassInvoiceNumber,
	"numerofactura":  invoice.ClassInvoiceNumber,
	"date":           invoice.ClassDate,
	"fecha":          invoice.ClassDate,
	"invoicedate":    invoice.ClassDate,
	"issuedate":      invoice.ClassDate,
	"fechaemision":   invoice.ClassDate,
	"description":    invoice.ClassDescription,
	"descripcion":    invoice.ClassDescription,
	"detalle":        invoice.ClassDescription,
	"concepto":       invoice.ClassDescription,
	"item":           invoice.ClassDescription,
	"quantity":       invoice.ClassQuantity,
	"qty":            invoice.ClassQuantity,
	"cantidad":       invoice.ClassQuantity,
	"cant":           invoice.ClassQuantity,
	"unitprice":      invoice.ClassUnitPrice,
	"preciounitario": invoice.ClassUnitPrice,
	"punit":          invoice.ClassUnitPrice,
	"totalprice":     invoice.ClassTotalPrice,
	"preciototal":    invoice.ClassTotalPrice,
	"linetotal":      invoice.ClassTotalPrice,
	"importe":        invoice.ClassTotalPrice,
	"subtotal":       invoice.ClassSubtotal,
	"tax":            invoice.ClassTax,
	"iva":            invoice.ClassTax,
	"vat":            invoice.ClassTax,
	"impuesto":       invoice.ClassTax,
	"taxamount":      invoice.ClassTax,
}

// CanonicalLabel lowercases a label and strips separators and punctuation,
// so "Invoice No.", "invoice_no" and "INVOICE-NO" compare equal.
func CanonicalLabel(label string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(label) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Adapter filters and normalizes raw proposals.
type Adapter struct {
	Floor   float64
	aliases map[string]string
}

// NewAdapter creates an adapter. extra aliases map labels to vocabulary
// classes and take precedence over the built-in synonyms; entries naming an
// unknown class are ignored.
func NewAdapter(floor float64, extra map[string]string) *Adapter {
	if floor <= 0 {
		floor = DefaultFloor
	}
	aliases := make(map[string]string, len(defaultAliases)+len(extra))
	for k, v := range defaultAliases {
		aliases[k] = v
	}
	for k, v := range extra {
		if class := ClassFor(v, nil); class != "" {
			aliases[CanonicalLabel(k)] = class
		}
	}
	return &Adapter{Floor: floor, aliases: aliases}
}

// ClassFor resolves label to a vocabulary class using aliases (or the
// built-in synonyms when nil). It returns "" for unknown labels.
func ClassFor(label string, aliases map[string]string) string {
	if aliases == nil {
		aliases = defaultAliases
	}
	key := CanonicalLabel(label)
	if class, ok := aliases[key]; ok {
		return class
	}
	for _, c := range invoice.Vocabulary {
		if CanonicalLabel(c) == key {
			return c
		}
	}
	return ""
}

// Adapt keeps proposals at or above the floor with a known label and a
// valid box, clipped to bounds, in top-left-class order.
func (a *Adapter) Adapt(raw []RawDetection, bounds image.Rectangle) []invoice.Detection {
	return a.AdaptMapped(raw, bounds, nil)
}

// AdaptMapped is Adapt with boxes mapped through m before clipping.
func (a *Adapter) AdaptMapped(raw []RawDetection, bounds image.Rectangle, m BoxMapper) []invoice.Detection {
	out := make([]invoice.Detection, 0, len(raw))
	for _, r := range raw {
		conf := r.Confidence
		if math.IsNaN(conf) || conf < a.Floor {
			continue
		}
		class := ClassFor(r.Label, a.aliases)
		if class == "" {
			continue
		}
		if slices.ContainsFunc(r.Box[:], func(v float64) bool { return math.IsNaN(v) || math.IsInf(v, 0) }) {
			continue
		}
		var box invoice.BBox
		if m != nil {
			box = m.MapBox(invoice.NewBBox(r.Box[0], r.Box[1], r.Box[2], r.Box[3], image.Rectangle{}), bounds)
		} else {
			box = invoice.NewBBox(r.Box[0], r.Box[1], r.Box[2], r.Box[3], bounds)
		}
		if !box.Valid() {
			continue
		}
		out = append(out, invoice.Detection{Class: class, Confidence: min(conf, 1), BBox: box})
	}
	SortDetections(out)
	return out
}

// SortDetections orders detections by top, then left, then class.
func SortDetections(ds []invoice.Detection) {
	slices.SortStableFunc(ds, func(a, b invoice.Detection) int {
		return cmp.Or(
			cmp.Compare(a.BBox.YMin, b.BBox.YMin),
			cmp.Compare(a.BBox.XMin, b.BBox.XMin),
			cmp.Compare(a.Class, b.Class),
			cmp.Compare(b.Confidence, a.Confidence),
		)
	})
}
