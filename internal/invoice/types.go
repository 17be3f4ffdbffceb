package invoice

import (
	"image"
	"math"
	"time"
)

// SchemaVersion identifies the shape of Result, FieldCandidate and RowRecord.
const SchemaVersion = "1"

// NotDetected marks a row column that was inspected but had no token.
const NotDetected = "not detected"

// BBox is an axis-aligned box in image pixel coordinates.
type BBox struct {
	XMin float64 `json:"xmin" yaml:"xmin"`
	YMin float64 `json:"ymin" yaml:"ymin"`
	XMax float64 `json:"xmax" yaml:"xmax"`
	YMax float64 `json:"ymax" yaml:"ymax"`
}

// NewBBox creates a box from two corners and clips it to bounds.
// An empty bounds rectangle disables clipping.
func NewBBox(x1, y1, x2, y2 float64, bounds image.Rectangle) BBox {
	b := BBox{
		XMin: math.Min(x1, x2),
		YMin: math.Min(y1, y2),
		XMax: math.Max(x1, x2),
		YMax: math.Max(y1, y2),
	}
	if bounds.Empty() {
		return b
	}
	return b.Clip(bounds)
}

// Clip restricts the box to bounds.
func (b BBox) Clip(bounds image.Rectangle) BBox {
	return BBox{
		XMin: clamp(b.XMin, float64(bounds.Min.X), float64(bounds.Max.X)),
		YMin: clamp(b.YMin, float64(bounds.Min.Y), float64(bounds.Max.Y)),
		XMax: clamp(b.XMax, float64(bounds.Min.X), float64(bounds.Max.X)),
		YMax: clamp(b.YMax, float64(bounds.Min.Y), float64(bounds.Max.Y)),
	}
}

// Valid reports whether the box has positive width and height.
func (b BBox) Valid() bool { return b.XMax > b.XMin && b.YMax > b.YMin }

// Width returns the box width.
func (b BBox) Width() float64 { return b.XMax - b.XMin }

// Height returns the box height.
func (b BBox) Height() float64 { return b.YMax - b.YMin }

// Area returns the box area, zero for invalid boxes.
func (b BBox) Area() float64 {
	if !b.Valid() {
		return 0
	}
	return b.Width() * b.Height()
}

// Center returns the box center.
func (b BBox) Center() (float64, float64) {
	return (b.XMin + b.XMax) / 2, (b.YMin + b.YMax) / 2
}

// CenterY returns the vertical center.
func (b BBox) CenterY() float64 { return (b.YMin + b.YMax) / 2 }

// CenterX returns the horizontal center.
func (b BBox) CenterX() float64 { return (b.XMin + b.XMax) / 2 }

// Contains reports whether the point lies inside the box.
func (b BBox) Contains(x, y float64) bool {
	return x >= b.XMin && x <= b.XMax && y >= b.YMin && y <= b.YMax
}

// Offset translates the box.
func (b BBox) Offset(dx, dy float64) BBox {
	return BBox{XMin: b.XMin + dx, YMin: b.YMin + dy, XMax: b.XMax + dx, YMax: b.YMax + dy}
}

// Scale multiplies all coordinates by s.
func (b BBox) Scale(s float64) BBox {
	return BBox{XMin: b.XMin * s, YMin: b.YMin * s, XMax: b.XMax * s, YMax: b.YMax * s}
}

// IoU computes intersection over union with another box.
func (b BBox) IoU(o BBox) float64 {
	ix1 := math.Max(b.XMin, o.XMin)
	iy1 := math.Max(b.YMin, o.YMin)
	ix2 := math.Min(b.XMax, o.XMax)
	iy2 := math.Min(b.YMax, o.YMax)
	if ix2 <= ix1 || iy2 <= iy1 {
		return 0
	}
	inter := (ix2 - ix1) * (iy2 - iy1)
	union := b.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// Rect converts the box to an integer rectangle clamped to bounds.
func (b BBox) Rect(bounds image.Rectangle) image.Rectangle {
	r := image.Rect(
		int(math.Floor(b.XMin)), int(math.Floor(b.YMin)),
		int(math.Ceil(b.XMax)), int(math.Ceil(b.YMax)),
	)
	return r.Intersect(bounds)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Detection is a normalized object-detector proposal.
type Detection struct {
	Class      string  `json:"class" yaml:"class"`
	Confidence float64 `json:"confidence" yaml:"confidence"`
	BBox       BBox    `json:"bbox" yaml:"bbox"`
}

// Token is one OCR-recognized text unit.
type Token struct {
	Text        string  `json:"text" yaml:"text"`
	Confidence  float64 `json:"confidence" yaml:"confidence"`
	BBox        BBox    `json:"bbox" yaml:"bbox"`
	EngineID    string  `json:"engine_id" yaml:"engine_id"`
	VariantID   string  `json:"variant_id" yaml:"variant_id"`
	SourceClass string  `json:"source_class,omitempty" yaml:"source_class,omitempty"`
}

// RowRecord is one reconstructed line item.
type RowRecord struct {
	Description string  `json:"description" yaml:"description"`
	Quantity    string  `json:"quantity" yaml:"quantity"`
	UnitPrice   string  `json:"unit_price" yaml:"unit_price"`
	TotalPrice  string  `json:"total_price" yaml:"total_price"`
	Confidence  float64 `json:"confidence" yaml:"confidence"`
	SourceClass string  `json:"source_class,omitempty" yaml:"source_class,omitempty"`
	Top         float64 `json:"top" yaml:"top"`
}

// Source identifies which evidence produced a candidate.
type Source string

const (
	SourcePattern    Source = "pattern"
	SourceDetector   Source = "detector"
	SourceStructural Source = "structural"
)

// Priority orders sources for tie-breaking; higher wins.
func (s Source) Priority() int {
	switch s {
	case SourcePattern:
		return 3
	case SourceDetector:
		return 2
	case SourceStructural:
		return 1
	default:
		return 0
	}
}

// FieldCandidate is one proposal for a named field.
type FieldCandidate struct {
	Field      string  `json:"field" yaml:"field"`
	Value      string  `json:"value" yaml:"value"`
	Confidence float64 `json:"confidence" yaml:"confidence"`
	Source     Source  `json:"source" yaml:"source"`
}

// FieldValue is the selected value for a field.
type FieldValue struct {
	Value      string  `json:"value" yaml:"value"`
	Confidence float64 `json:"confidence" yaml:"confidence"`
	Source     Source  `json:"source" yaml:"source"`
	Derived    bool    `json:"derived,omitempty" yaml:"derived,omitempty"`
}

// Status describes the overall outcome of a run.
type Status string

const (
	StatusOK               Status = "ok"
	StatusInsufficientText Status = "insufficient_text"
	StatusFailed           Status = "failed"
)

// Stats summarizes candidate confidences.
type Stats struct {
	CandidateCount   int            `json:"candidate_count" yaml:"candidate_count"`
	MeanConfidence   float64        `json:"mean_confidence" yaml:"mean_confidence"`
	MinConfidence    float64        `json:"min_confidence" yaml:"min_confidence"`
	MaxConfidence    float64        `json:"max_confidence" yaml:"max_confidence"`
	BySource         map[Source]int `json:"by_source" yaml:"by_source"`
	FieldFraction    float64        `json:"field_fraction" yaml:"field_fraction"`
	LineItemFraction float64        `json:"line_item_fraction" yaml:"line_item_fraction"`
	TokenCount       int            `json:"token_count" yaml:"token_count"`
}

// TaskOutcome is the per-task result of an OCR fan-out task.
type TaskOutcome struct {
	Engine   string        `json:"engine" yaml:"engine"`
	Variant  string        `json:"variant" yaml:"variant"`
	Region   string        `json:"region,omitempty" yaml:"region,omitempty"`
	Tokens   int           `json:"tokens" yaml:"tokens"`
	Duration time.Duration `json:"duration_ns" yaml:"duration_ns"`
	Err      error         `json:"-" yaml:"-"`
	Error    string        `json:"error,omitempty" yaml:"error,omitempty"`
}

// OK reports whether the task completed without error.
func (o TaskOutcome) OK() bool { return o.Err == nil }

// Result is the final output of one pipeline run.
type Result struct {
	SchemaVersion string                `json:"schema_version" yaml:"schema_version"`
	RunID         string                `json:"run_id" yaml:"run_id"`
	Status        Status                `json:"status" yaml:"status"`
	Fields        map[string]FieldValue `json:"fields" yaml:"fields"`
	LineItems     []RowRecord           `json:"line_items" yaml:"line_items"`
	Candidates    []FieldCandidate      `json:"field_candidates" yaml:"field_candidates"`
	TotalsMatch   bool                  `json:"totals_match" yaml:"totals_match"`
	Confidence    float64               `json:"confidence" yaml:"confidence"`
	Stats         Stats                 `json:"confidence_scores" yaml:"confidence_scores"`
	Trace         []TraceEntry          `json:"trace" yaml:"trace"`
	TaskOutcomes  []TaskOutcome         `json:"tasks" yaml:"tasks"`
	Error         string                `json:"error,omitempty" yaml:"error,omitempty"`
}

// Value returns the selected value for field or an empty string.
func (r *Result) Value(field string) string {
	if r == nil || r.Fields == nil {
		return ""
	}
	return r.Fields[field].Value
}
