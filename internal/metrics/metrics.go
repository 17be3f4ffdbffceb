// Package metrics exposes pipeline counters and histograms on a dedicated
// Prometheus registry and writes them as a node-exporter textfile.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/MeKo-Tech/invoxtract/internal/invoice"
)

// Task outcome labels.
const (
	OutcomeOK      = "ok"
	OutcomeFailed  = "failed"
	OutcomeTimeout = "timeout"
	OutcomePanic   = "panic"
)

// Collector records pipeline metrics. A nil Collector discards everything.
type Collector struct {
	registry *prometheus.Registry

	runsTotal          *prometheus.CounterVec
	stageDuration      *prometheus.HistogramVec
	ocrTasksTotal      *prometheus.CounterVec
	tokensKept         prometheus.Histogram
	overridesTotal     *prometheus.CounterVec
	documentConfidence prometheus.Histogram
}

// New creates a collector on its own registry.
func New() *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		runsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "invoxtract_pipeline_runs_total",
				Help: "Total number of pipeline runs",
			},
			[]string{"status"}, // ok, insufficient_text, failed
		),
		stageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "invoxtract_stage_duration_seconds",
				Help:    "Pipeline stage duration in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"stage"},
		),
		ocrTasksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "invoxtract_ocr_tasks_total",
				Help: "Total number of OCR tasks by engine and outcome",
			},
			[]string{"engine", "outcome"},
		),
		tokensKept: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "invoxtract_tokens_kept",
				Help:    "Number of tokens kept after merging",
				Buckets: []float64{0, 5, 10, 25, 50, 100, 250, 500, 1000},
			},
		),
		overridesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "invoxtract_arithmetic_overrides_total",
				Help: "Total number of money fields derived from line items",
			},
			[]string{"field"},
		),
		documentConfidence: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "invoxtract_document_confidence",
				Help:    "Document confidence score",
				Buckets: []float64{.1, .2, .3, .4, .5, .6, .7, .8, .9, .95},
			},
		),
	}
}

// Registry returns the registry the metrics live on.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// ObserveStage records how long a stage took.
func (c *Collector) ObserveStage(stage string, d time.Duration) {
	if c == nil {
		return
	}
	c.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordResult records a finished run: its status, confidence, OCR task
// outcomes, kept tokens and derived fields.
func (c *Collector) RecordResult(res *invoice.Result) {
	if c == nil || res == nil {
		return
	}
	c.runsTotal.WithLabelValues(string(res.Status)).Inc()
	for _, o := range res.TaskOutcomes {
		c.ocrTasksTotal.WithLabelValues(o.Engine, Outcome(o)).Inc()
	}
	if res.Status != invoice.StatusOK {
		return
	}
	c.documentConfidence.Observe(res.Confidence)
	c.tokensKept.Observe(float64(res.Stats.TokenCount))
	for field, fv := range res.Fields {
		if fv.Derived {
			c.overridesTotal.WithLabelValues(field).Inc()
		}
	}
}

// Outcome maps a task outcome to its metric label.
func Outcome(o invoice.TaskOutcome) string {
	if o.Err == nil && o.Error == "" {
		return OutcomeOK
	}
	code, _ := invoice.CodeOf(o.Err)
	switch code {
	case invoice.ErrorTaskTimeout:
		return OutcomeTimeout
	case invoice.ErrorTaskPanic:
		return OutcomePanic
	default:
		return OutcomeFailed
	}
}

// WriteTextfile writes all metrics in the text exposition format for the
// node-exporter textfile collector.
func (c *Collector) WriteTextfile(path string) error {
	if c == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, c.registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}
