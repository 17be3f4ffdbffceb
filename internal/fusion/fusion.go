// Package fusion reconciles field candidates from detector regions, text
// patterns and table rows into one answer per field, cross-checks the money
// fields and scores the document.
package fusion

import (
	"cmp"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strconv"
	"unicode/utf8"

	"github.com/MeKo-Tech/invoxtract/internal/invoice"
	"github.com/MeKo-Tech/invoxtract/internal/layout"
)

// Config controls selection, the arithmetic check and document scoring.
type Config struct {
	TaxRate       float64 `mapstructure:"tax_rate" yaml:"tax_rate"`
	Tolerance     float64 `mapstructure:"tolerance" yaml:"tolerance"`
	FieldWeight   float64 `mapstructure:"field_weight" yaml:"field_weight"`
	LineWeight    float64 `mapstructure:"line_weight" yaml:"line_weight"`
	MaxConfidence float64 `mapstructure:"max_confidence" yaml:"max_confidence"`
	Epsilon       float64 `mapstructure:"-" yaml:"-"`
}

// DefaultConfig returns the standard fusion settings.
func DefaultConfig() Config {
	return Config{
		TaxRate:       0.12,
		Tolerance:     0.05,
		FieldWeight:   0.7,
		LineWeight:    0.3,
		MaxConfidence: 0.95,
		Epsilon:       1e-9,
	}
}

// Validate checks ranges.
func (c Config) Validate() error {
	switch {
	case c.TaxRate < 0 || c.TaxRate >= 1:
		return invoice.NewInvalidConfigError(fmt.Sprintf("tax rate %.3f outside [0,1)", c.TaxRate), nil)
	case c.Tolerance < 0 || c.Tolerance > 1:
		return invoice.NewInvalidConfigError(fmt.Sprintf("totals tolerance %.3f outside [0,1]", c.Tolerance), nil)
	case c.FieldWeight < 0 || c.LineWeight < 0:
		return invoice.NewInvalidConfigError("confidence weights must be non-negative", nil)
	case c.MaxConfidence <= 0 || c.MaxConfidence > 1:
		return invoice.NewInvalidConfigError(fmt.Sprintf("max confidence %.3f outside (0,1]", c.MaxConfidence), nil)
	}
	return nil
}

// Input is everything fusion reconciles for one document.
type Input struct {
	Detections        []invoice.Detection
	Tokens            []invoice.Token
	PatternCandidates []invoice.FieldCandidate
	Rows              []invoice.RowRecord
	ExpectedLineItems int
	ImageHeight       int
	Tracer            *invoice.Tracer
}

// Engine performs reconciliation.
type Engine struct {
	cfg     Config
	grouper *layout.Grouper
}

// New creates a fusion engine. A nil grouper uses layout defaults for
// rendering detector region text.
func New(cfg Config, grouper *layout.Grouper) *Engine {
	if cfg.Epsilon <= 0 {
		cfg.Epsilon = 1e-9
	}
	if grouper == nil {
		grouper = layout.NewGrouper()
	}
	return &Engine{cfg: cfg, grouper: grouper}
}

// Reconcile selects one value per field, removes summary rows from the line
// items, validates the money fields and computes the document confidence.
func (e *Engine) Reconcile(in Input) *invoice.Result {
	tracer := in.Tracer
	if tracer == nil {
		tracer = invoice.NewTracer()
	}

	structural, items := structuralCandidates(in.Rows)
	candidates := make([]invoice.FieldCandidate, 0, len(in.PatternCandidates)+len(structural)+len(in.Detections))
	candidates = append(candidates, in.PatternCandidates...)
	candidates = append(candidates, e.detectorCandidates(in)...)
	candidates = append(candidates, structural...)
	slices.SortStableFunc(candidates, func(a, b invoice.FieldCandidate) int {
		return cmp.Or(compareFields(a.Field, b.Field), e.compare(a, b))
	})

	fields := make(map[string]invoice.FieldValue)
	for i := 0; i < len(candidates); {
		j := i
		for j < len(candidates) && candidates[j].Field == candidates[i].Field {
			j++
		}
		win := candidates[i]
		fields[win.Field] = invoice.FieldValue{Value: win.Value, Confidence: win.Confidence, Source: win.Source}
		tracer.Record(invoice.StageFusion, "selected",
			"field", win.Field,
			"value", win.Value,
			"source", string(win.Source),
			"confidence", strconv.FormatFloat(win.Confidence, 'f', 4, 64),
			"alternatives", strconv.Itoa(j-i-1))
		slog.Debug("Field selected", "field", win.Field, "source", win.Source, "confidence", win.Confidence, "alternatives", j-i-1)
		i = j
	}

	totalsMatch := e.validate(fields, items, tracer)

	fieldFrac := fieldFraction(fields, totalsMatch)
	lineFrac := lineFraction(items, in.ExpectedLineItems)
	conf := math.Min(e.cfg.MaxConfidence, e.cfg.FieldWeight*fieldFrac+e.cfg.LineWeight*lineFrac)

	stats := candidateStats(candidates)
	stats.FieldFraction = fieldFrac
	stats.LineItemFraction = lineFrac
	stats.TokenCount = len(in.Tokens)

	tracer.Record(invoice.StageFusion, "scored",
		"field_fraction", strconv.FormatFloat(fieldFrac, 'f', 4, 64),
		"line_item_fraction", strconv.FormatFloat(lineFrac, 'f', 4, 64),
		"confidence", strconv.FormatFloat(conf, 'f', 4, 64))

	return &invoice.Result{
		SchemaVersion: invoice.SchemaVersion,
		Status:        invoice.StatusOK,
		Fields:        fields,
		LineItems:     items,
		Candidates:    candidates,
		TotalsMatch:   totalsMatch,
		Confidence:    conf,
		Stats:         stats,
		Trace:         tracer.Entries(),
	}
}

// compare orders candidates of one field best first: confidence, source
// priority, longer text, then the smaller value.
func (e *Engine) compare(a, b invoice.FieldCandidate) int {
	if math.Abs(a.Confidence-b.Confidence) > e.cfg.Epsilon {
		return -cmp.Compare(a.Confidence, b.Confidence)
	}
	return cmp.Or(
		-cmp.Compare(a.Source.Priority(), b.Source.Priority()),
		-cmp.Compare(utf8.RuneCountInString(a.Value), utf8.RuneCountInString(b.Value)),
		cmp.Compare(a.Value, b.Value),
	)
}

// compareFields orders target fields first, in output order, then any
// other field by name.
func compareFields(a, b string) int {
	ia, ib := slices.Index(invoice.TargetFields, a), slices.Index(invoice.TargetFields, b)
	if ia < 0 {
		ia = len(invoice.TargetFields)
	}
	if ib < 0 {
		ib = len(invoice.TargetFields)
	}
	return cmp.Or(cmp.Compare(ia, ib), cmp.Compare(a, b))
}

func fieldFraction(fields map[string]invoice.FieldValue, totalsMatch bool) float64 {
	n := 0
	for _, f := range invoice.TargetFields {
		if fields[f].Value == "" {
			continue
		}
		if invoice.IsMoneyField(f) && !totalsMatch {
			continue
		}
		n++
	}
	return float64(n) / float64(len(invoice.TargetFields))
}

func lineFraction(items []invoice.RowRecord, expected int) float64 {
	denom := max(len(items), expected)
	if denom == 0 {
		return 0
	}
	complete := 0
	for _, r := range items {
		if r.Description != invoice.NotDetected && r.TotalPrice != invoice.NotDetected {
			complete++
		}
	}
	return float64(complete) / float64(denom)
}

func candidateStats(cands []invoice.FieldCandidate) invoice.Stats {
	st := invoice.Stats{CandidateCount: len(cands), BySource: make(map[invoice.Source]int)}
	if len(cands) == 0 {
		return st
	}
	st.MinConfidence = math.Inf(1)
	sum := 0.0
	for _, c := range cands {
		sum += c.Confidence
		st.MinConfidence = math.Min(st.MinConfidence, c.Confidence)
		st.MaxConfidence = math.Max(st.MaxConfidence, c.Confidence)
		st.BySource[c.Source]++
	}
	st.MeanConfidence = sum / float64(len(cands))
	return st
}
