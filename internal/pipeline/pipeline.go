// Package pipeline orchestrates one invoice extraction pass: normalize,
// detect, extract, group and match patterns, then fuse.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/MeKo-Tech/invoxtract/internal/detection"
	"github.com/MeKo-Tech/invoxtract/internal/engine"
	"github.com/MeKo-Tech/invoxtract/internal/extract"
	"github.com/MeKo-Tech/invoxtract/internal/fusion"
	"github.com/MeKo-Tech/invoxtract/internal/invoice"
	"github.com/MeKo-Tech/invoxtract/internal/layout"
	"github.com/MeKo-Tech/invoxtract/internal/metrics"
	"github.com/MeKo-Tech/invoxtract/internal/normalize"
	"github.com/MeKo-Tech/invoxtract/internal/patterns"
)

// Pipeline wires the stages together. It is safe for sequential reuse;
// each Run owns its own trace.
type Pipeline struct {
	cfg        Config
	normalizer *normalize.Normalizer
	adapter    *detection.Adapter
	detector   detection.Detector
	registry   *engine.Registry
	extractor  *extract.Extractor
	grouper    layout.Grouper
	patterns   *patterns.Extractor
	fusion     *fusion.Engine
	metrics    *metrics.Collector
}

// Config returns the effective configuration.
func (p *Pipeline) Config() Config { return p.cfg }

// Engines returns the registered engine IDs.
func (p *Pipeline) Engines() []string { return p.registry.IDs() }

// Close releases the engines and the detector.
func (p *Pipeline) Close() error {
	if p == nil {
		return nil
	}
	var errs []error
	if err := p.registry.Close(); err != nil {
		errs = append(errs, err)
	}
	if c, ok := p.detector.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// run carries per-document state through the stages.
type run struct {
	id       string
	tracer   *invoice.Tracer
	stage    string
	outcomes []invoice.TaskOutcome
	tokens   int
}

// Run extracts fields and line items from one page image. Stage failures
// and panics are reported in the result; only a nil image or a cancelled
// context produce an error.
func (p *Pipeline) Run(ctx context.Context, img image.Image) (res *invoice.Result, err error) {
	if p == nil || p.extractor == nil {
		return nil, errors.New("pipeline not initialized")
	}
	if img == nil {
		return nil, invoice.NewInvalidInputError("input image is nil")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r := &run{id: uuid.NewString(), tracer: invoice.NewTracer(), stage: invoice.StageNormalize}
	start := time.Now()
	b := img.Bounds()
	slog.Debug("Starting invoice extraction", "run_id", r.id, "width", b.Dx(), "height", b.Dy())

	defer func() {
		if rec := recover(); rec != nil {
			perr := invoice.NewPanicError(r.stage, rec)
			slog.Error("Pipeline stage panicked", "run_id", r.id, "stage", r.stage, "panic", rec)
			r.tracer.Record(r.stage, "panic", "error", perr.Error())
			res, err = p.failed(r, perr), nil
		}
		if res != nil {
			p.metrics.RecordResult(res)
			slog.Debug("Invoice extraction finished", "run_id", r.id, "status", res.Status,
				"confidence", res.Confidence, "duration", time.Since(start))
		}
	}()

	return p.process(ctx, r, img)
}

func (p *Pipeline) process(ctx context.Context, r *run, img image.Image) (*invoice.Result, error) {
	// normalize
	t0 := time.Now()
	norm, err := p.normalizer.Normalize(ctx, img)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		var pe *invoice.ProcessingError
		if !errors.As(err, &pe) {
			err = &invoice.ProcessingError{Code: invoice.ErrorNormalizeFailed, Stage: invoice.StageNormalize, Message: "normalization failed", Cause: err}
		}
		r.tracer.Record(invoice.StageNormalize, "failed", "error", err.Error())
		return p.failed(r, err), nil
	}
	p.observe(invoice.StageNormalize, t0)
	r.tracer.Record(invoice.StageNormalize, "normalized",
		"applied", strings.Join(norm.Applied, ","),
		"quarter_turns", strconv.Itoa(norm.Transform.QuarterTurns),
		"skew_degrees", strconv.FormatFloat(norm.Transform.SkewDegrees, 'f', 2, 64),
		"size", fmt.Sprintf("%dx%d", norm.Bounds().Dx(), norm.Bounds().Dy()))

	// detect
	r.stage = invoice.StageDetect
	t0 = time.Now()
	dets := p.detect(ctx, r, img, norm)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.observe(invoice.StageDetect, t0)

	// extract
	r.stage = invoice.StageExtract
	t0 = time.Now()
	out, err := p.extractor.Extract(ctx, norm.Variants, dets)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if err != nil {
		r.tracer.Record(invoice.StageExtract, "failed", "error", err.Error())
		return p.failed(r, err), nil
	}
	p.observe(invoice.StageExtract, t0)
	r.outcomes = out.Outcomes
	r.tokens = len(out.Tokens)
	for _, o := range out.Outcomes {
		if o.OK() {
			continue
		}
		slog.Warn("OCR task degraded", "run_id", r.id, "engine", o.Engine, "variant", o.Variant, "region", o.Region, "error", o.Error)
		r.tracer.Record(invoice.StageExtract, "task_failed",
			"engine", o.Engine, "variant", o.Variant, "region", o.Region, "error", o.Error)
	}
	r.tracer.Record(invoice.StageExtract, "merged",
		"tasks", strconv.Itoa(len(out.Outcomes)),
		"failed", strconv.Itoa(out.Failed()),
		"raw_tokens", strconv.Itoa(len(out.Raw)),
		"tokens", strconv.Itoa(len(out.Tokens)))

	// group and patterns
	r.stage = invoice.StageGroup
	t0 = time.Now()
	height := norm.Bounds().Dy()
	g := p.grouper
	g.PageWidth = float64(norm.Bounds().Dx())
	text := g.ReadingOrderText(out.Tokens, height)
	if n := utf8.RuneCountInString(strings.TrimSpace(text)); n < p.cfg.MinTextLength {
		r.tracer.Record(invoice.StageGroup, "insufficient_text",
			"length", strconv.Itoa(n), "min_length", strconv.Itoa(p.cfg.MinTextLength))
		return p.insufficient(r, n), nil
	}
	rows := g.Group(out.Tokens, height)
	p.observe(invoice.StageGroup, t0)
	r.tracer.Record(invoice.StageGroup, "grouped",
		"rows", strconv.Itoa(len(rows)), "text_length", strconv.Itoa(utf8.RuneCountInString(text)))

	r.stage = invoice.StagePatterns
	t0 = time.Now()
	cands := p.patterns.ExtractFields(text)
	p.observe(invoice.StagePatterns, t0)
	for _, c := range cands {
		r.tracer.Record(invoice.StagePatterns, "matched",
			"field", c.Field, "value", c.Value, "confidence", strconv.FormatFloat(c.Confidence, 'f', 2, 64))
	}

	// fuse
	r.stage = invoice.StageFusion
	t0 = time.Now()
	res := p.fusion.Reconcile(fusion.Input{
		Detections:        dets,
		Tokens:            out.Tokens,
		PatternCandidates: cands,
		Rows:              rows,
		ExpectedLineItems: p.cfg.ExpectedLineItems,
		ImageHeight:       height,
		Tracer:            r.tracer,
	})
	p.observe(invoice.StageFusion, t0)

	res.RunID = r.id
	res.TaskOutcomes = r.outcomes
	res.Trace = r.tracer.Entries()
	return res, nil
}

// detect runs the detector and adapts its proposals. Failures degrade to
// zero detections.
func (p *Pipeline) detect(ctx context.Context, r *run, img image.Image, norm *normalize.Result) []invoice.Detection {
	if p.detector == nil {
		r.tracer.Record(invoice.StageDetect, "skipped", "reason", "no detector configured")
		return nil
	}
	src, sourceSpace := p.detector.(detection.SourceSpace)
	sourceSpace = sourceSpace && src.InSourceSpace()

	input := norm.Base
	if sourceSpace {
		input = img
	}
	raw, err := p.detector.Detect(ctx, input)
	if err != nil {
		derr := invoice.NewDetectorFailedError(err)
		slog.Warn("Region detection failed, continuing without detections", "run_id", r.id, "error", err)
		r.tracer.Record(invoice.StageDetect, "failed", "error", derr.Error())
		return nil
	}

	var dets []invoice.Detection
	if sourceSpace {
		dets = p.adapter.AdaptMapped(raw, norm.Bounds(), norm.Transform)
	} else {
		dets = p.adapter.Adapt(raw, norm.Bounds())
	}
	r.tracer.Record(invoice.StageDetect, "adapted",
		"proposals", strconv.Itoa(len(raw)),
		"kept", strconv.Itoa(len(dets)),
		"source_space", strconv.FormatBool(sourceSpace))
	return dets
}

func (p *Pipeline) observe(stage string, since time.Time) {
	d := time.Since(since)
	p.metrics.ObserveStage(stage, d)
	slog.Debug("Stage completed", "stage", stage, "duration_ms", d.Milliseconds())
}

func (p *Pipeline) base(r *run, status invoice.Status) *invoice.Result {
	return &invoice.Result{
		SchemaVersion: invoice.SchemaVersion,
		RunID:         r.id,
		Status:        status,
		Fields:        map[string]invoice.FieldValue{},
		LineItems:     []invoice.RowRecord{},
		TaskOutcomes:  r.outcomes,
		Stats:         invoice.Stats{TokenCount: r.tokens, BySource: map[invoice.Source]int{}},
		Trace:         r.tracer.Entries(),
	}
}

func (p *Pipeline) insufficient(r *run, length int) *invoice.Result {
	res := p.base(r, invoice.StatusInsufficientText)
	res.Error = invoice.NewInsufficientTextError(length, p.cfg.MinTextLength).Error()
	return res
}

func (p *Pipeline) failed(r *run, err error) *invoice.Result {
	res := p.base(r, invoice.StatusFailed)
	res.Error = err.Error()
	return res
}
