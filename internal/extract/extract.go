// Package extract fans OCR engines out over page variants and detected
// regions and merges their readings into one token set.
package extract

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/MeKo-Tech/invoxtract/internal/engine"
	"github.com/MeKo-Tech/invoxtract/internal/invoice"
	"github.com/MeKo-Tech/invoxtract/internal/normalize"
)

// Limits on the task pool.
const (
	MaxWorkersCap      = 4
	MinTaskTimeout     = 10 * time.Second
	MaxTaskTimeout     = 30 * time.Second
	DefaultTaskTimeout = 20 * time.Second
	DefaultEngineFloor = 0.30
	DefaultMergeIoU    = 0.5
)

// Config controls the fan-out.
type Config struct {
	MaxWorkers  int           `mapstructure:"max_workers" yaml:"max_workers"`
	TaskTimeout time.Duration `mapstructure:"task_timeout" yaml:"task_timeout"`
	// DefaultFloor applies to engines without an entry in EngineFloors.
	DefaultFloor float64            `mapstructure:"default_floor" yaml:"default_floor"`
	EngineFloors map[string]float64 `mapstructure:"engine_floors" yaml:"engine_floors"`
	// Variants limits full-page tasks; empty means every variant given.
	Variants []normalize.Variant `mapstructure:"variants" yaml:"variants"`
	// RegionClasses get a dedicated read on their enhanced crop.
	RegionClasses []string `mapstructure:"region_classes" yaml:"region_classes"`
	RegionPadding int      `mapstructure:"region_padding" yaml:"region_padding"`
	MergeIoU      float64  `mapstructure:"merge_iou" yaml:"merge_iou"`
	Language      string   `mapstructure:"language" yaml:"language"`
}

// DefaultConfig returns the standard fan-out settings.
func DefaultConfig() Config {
	return Config{
		MaxWorkers:    MaxWorkersCap,
		TaskTimeout:   DefaultTaskTimeout,
		DefaultFloor:  DefaultEngineFloor,
		RegionClasses: []string{invoice.ClassIdentifier, invoice.ClassInvoiceNumber, invoice.ClassDate},
		RegionPadding: 4,
		MergeIoU:      DefaultMergeIoU,
	}
}

// Validate checks ranges; zero values are filled by New first.
func (c Config) Validate() error {
	if c.MaxWorkers < 1 || c.MaxWorkers > MaxWorkersCap {
		return invoice.NewInvalidConfigError(fmt.Sprintf("max_workers must be in [1, %d], got %d", MaxWorkersCap, c.MaxWorkers), nil)
	}
	if c.TaskTimeout < MinTaskTimeout || c.TaskTimeout > MaxTaskTimeout {
		return invoice.NewInvalidConfigError(fmt.Sprintf("task_timeout must be in [%s, %s], got %s", MinTaskTimeout, MaxTaskTimeout, c.TaskTimeout), nil)
	}
	if c.DefaultFloor < 0 || c.DefaultFloor > 1 {
		return invoice.NewInvalidConfigError(fmt.Sprintf("default_floor must be in [0, 1], got %g", c.DefaultFloor), nil)
	}
	for id, f := range c.EngineFloors {
		if f < 0 || f > 1 {
			return invoice.NewInvalidConfigError(fmt.Sprintf("floor for engine %s must be in [0, 1], got %g", id, f), nil)
		}
	}
	if c.MergeIoU <= 0 || c.MergeIoU > 1 {
		return invoice.NewInvalidConfigError(fmt.Sprintf("merge_iou must be in (0, 1], got %g", c.MergeIoU), nil)
	}
	for _, class := range c.RegionClasses {
		if !invoice.IsKnownClass(class) {
			return invoice.NewInvalidConfigError("unknown region class "+class, nil)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.MaxWorkers == 0 {
		c.MaxWorkers = d.MaxWorkers
	}
	c.MaxWorkers = min(c.MaxWorkers, MaxWorkersCap)
	if c.TaskTimeout == 0 {
		c.TaskTimeout = d.TaskTimeout
	}
	if c.DefaultFloor == 0 {
		c.DefaultFloor = d.DefaultFloor
	}
	if c.RegionClasses == nil {
		c.RegionClasses = d.RegionClasses
	}
	if c.RegionPadding == 0 {
		c.RegionPadding = d.RegionPadding
	}
	if c.MergeIoU == 0 {
		c.MergeIoU = d.MergeIoU
	}
}

// Floor returns the confidence floor for an engine.
func (c Config) Floor(engineID string) float64 {
	if f, ok := c.EngineFloors[engineID]; ok {
		return f
	}
	return c.DefaultFloor
}

// Extractor runs every registered engine over the page variants and the
// specialized regions.
type Extractor struct {
	cfg      Config
	registry *engine.Registry
}

// New creates an extractor over an injected registry.
func New(registry *engine.Registry, cfg Config) (*Extractor, error) {
	if registry == nil || registry.Len() == 0 {
		return nil, invoice.NewInvalidConfigError("at least one OCR engine is required", nil)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Extractor{cfg: cfg, registry: registry}, nil
}

// Config returns the effective configuration.
func (x *Extractor) Config() Config { return x.cfg }

// Output is the merged extraction result.
type Output struct {
	// Tokens are the fused tokens in reading order.
	Tokens []invoice.Token
	// Raw holds every kept token before merging.
	Raw      []invoice.Token
	Outcomes []invoice.TaskOutcome
}

// Failed counts tasks that ended with an error.
func (o Output) Failed() int {
	n := 0
	for _, oc := range o.Outcomes {
		if !oc.OK() {
			n++
		}
	}
	return n
}

// Extract builds the task list, runs it on the bounded pool and merges the
// readings. It returns ctx.Err() alongside partial output when the caller
// cancels.
func (x *Extractor) Extract(ctx context.Context, variants map[normalize.Variant]image.Image, detections []invoice.Detection) (Output, error) {
	start := time.Now()
	tasks := x.buildTasks(variants, detections)
	if len(tasks) == 0 {
		return Output{}, invoice.NewInvalidInputError("no page variants to extract from")
	}

	col := NewCollector()
	x.run(ctx, tasks, col)

	raw := col.Tokens()
	AssignClasses(raw, detections)
	out := Output{
		Tokens:   MergeTokens(raw, x.cfg.MergeIoU),
		Raw:      raw,
		Outcomes: col.Outcomes(),
	}
	slog.Debug("extraction finished", "tasks", len(tasks), "failed", out.Failed(),
		"raw_tokens", len(raw), "tokens", len(out.Tokens), "duration", time.Since(start))
	return out, ctx.Err()
}
