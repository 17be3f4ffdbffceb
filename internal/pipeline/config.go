package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/MeKo-Tech/invoxtract/internal/detection"
	"github.com/MeKo-Tech/invoxtract/internal/engine"
	"github.com/MeKo-Tech/invoxtract/internal/extract"
	"github.com/MeKo-Tech/invoxtract/internal/fusion"
	"github.com/MeKo-Tech/invoxtract/internal/layout"
	"github.com/MeKo-Tech/invoxtract/internal/metrics"
	"github.com/MeKo-Tech/invoxtract/internal/normalize"
	"github.com/MeKo-Tech/invoxtract/internal/patterns"
)

// DefaultMinTextLength is the shortest reading-order text worth fusing.
const DefaultMinTextLength = 20

// DetectionConfig controls the region proposal adapter.
type DetectionConfig struct {
	Floor   float64           `mapstructure:"floor" yaml:"floor"`
	Aliases map[string]string `mapstructure:"aliases" yaml:"aliases"`
}

// Config holds configuration for the extraction pipeline and its stages.
type Config struct {
	Normalize normalize.Config
	Detection DetectionConfig
	Extract   extract.Config
	Layout    layout.Grouper
	Fusion    fusion.Config

	// PatternsFile adds or overrides pattern families.
	PatternsFile      string
	MinTextLength     int
	ExpectedLineItems int
}

// DefaultConfig returns a default pipeline config with stage defaults.
func DefaultConfig() Config {
	return Config{
		Normalize:     normalize.DefaultConfig(),
		Detection:     DetectionConfig{Floor: detection.DefaultFloor},
		Extract:       extract.DefaultConfig(),
		Layout:        *layout.NewGrouper(),
		Fusion:        fusion.DefaultConfig(),
		MinTextLength: DefaultMinTextLength,
	}
}

// Builder constructs a Pipeline with fluent configuration.
type Builder struct {
	cfg      Config
	registry *engine.Registry
	engines  []engine.Engine
	detector detection.Detector
	metrics  *metrics.Collector
	patterns *patterns.Registry
}

// NewBuilder creates a new pipeline builder with defaults.
func NewBuilder() *Builder { return &Builder{cfg: DefaultConfig()} }

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.cfg = cfg
	return b
}

// WithRegistry injects the OCR engines.
func (b *Builder) WithRegistry(r *engine.Registry) *Builder {
	b.registry = r
	return b
}

// WithEngines registers engines in a fresh registry at Build time.
func (b *Builder) WithEngines(engines ...engine.Engine) *Builder {
	b.engines = append(b.engines, engines...)
	return b
}

// WithDetector sets the region detector; without one, runs use zero
// detections.
func (b *Builder) WithDetector(d detection.Detector) *Builder {
	b.detector = d
	return b
}

// WithMetrics sets the metrics collector.
func (b *Builder) WithMetrics(m *metrics.Collector) *Builder {
	b.metrics = m
	return b
}

// WithPatterns sets the pattern registry, taking precedence over
// Config.PatternsFile.
func (b *Builder) WithPatterns(r *patterns.Registry) *Builder {
	b.patterns = r
	return b
}

// WithPatternsFile loads extra pattern families at Build time.
func (b *Builder) WithPatternsFile(path string) *Builder {
	b.cfg.PatternsFile = path
	return b
}

// WithTaxRate sets the rate used to derive subtotal and tax.
func (b *Builder) WithTaxRate(rate float64) *Builder {
	if rate >= 0 {
		b.cfg.Fusion.TaxRate = rate
	}
	return b
}

// WithMinTextLength sets the insufficient-text threshold.
func (b *Builder) WithMinTextLength(n int) *Builder {
	if n >= 0 {
		b.cfg.MinTextLength = n
	}
	return b
}

// WithExpectedLineItems sets the expected number of line items, if known.
func (b *Builder) WithExpectedLineItems(n int) *Builder {
	if n >= 0 {
		b.cfg.ExpectedLineItems = n
	}
	return b
}

// WithTaskTimeout sets the per-task OCR deadline.
func (b *Builder) WithTaskTimeout(d time.Duration) *Builder {
	if d > 0 {
		b.cfg.Extract.TaskTimeout = d
	}
	return b
}

// WithMaxWorkers sets the extractor pool size.
func (b *Builder) WithMaxWorkers(n int) *Builder {
	if n > 0 {
		b.cfg.Extract.MaxWorkers = n
	}
	return b
}

// WithEngineFloor sets the confidence floor for one engine.
func (b *Builder) WithEngineFloor(id string, floor float64) *Builder {
	if b.cfg.Extract.EngineFloors == nil {
		b.cfg.Extract.EngineFloors = make(map[string]float64)
	}
	b.cfg.Extract.EngineFloors[id] = floor
	return b
}

// WithDetectorFloor sets the minimum detection confidence.
func (b *Builder) WithDetectorFloor(floor float64) *Builder {
	if floor > 0 {
		b.cfg.Detection.Floor = floor
	}
	return b
}

// WithOrientation enables or disables coarse orientation correction.
func (b *Builder) WithOrientation(enabled bool) *Builder {
	b.cfg.Normalize.DetectOrientation = enabled
	return b
}

// Config returns a copy of the current config.
func (b *Builder) Config() Config { return b.cfg }

// Validate checks the configuration without building.
func (b *Builder) Validate() error {
	if b.registry == nil && len(b.engines) == 0 {
		return errors.New("at least one OCR engine is required")
	}
	if b.cfg.MinTextLength < 0 {
		return fmt.Errorf("min text length must be >= 0, got %d", b.cfg.MinTextLength)
	}
	if b.cfg.Detection.Floor < 0 || b.cfg.Detection.Floor > 1 {
		return fmt.Errorf("detector floor must be in [0, 1], got %g", b.cfg.Detection.Floor)
	}
	if b.cfg.Layout.ToleranceRatio < 0 || b.cfg.Layout.MinTolerance < 0 {
		return errors.New("row tolerance must be non-negative")
	}
	return b.cfg.Fusion.Validate()
}

// Build validates the configuration and wires the stages.
func (b *Builder) Build() (*Pipeline, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}

	reg := b.registry
	if reg == nil {
		r, err := engine.NewRegistry(b.engines...)
		if err != nil {
			return nil, err
		}
		reg = r
	}
	ext, err := extract.New(reg, b.cfg.Extract)
	if err != nil {
		return nil, err
	}

	pr := b.patterns
	if pr == nil {
		pr, err = patterns.LoadRegistry(b.cfg.PatternsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load pattern families: %w", err)
		}
	}

	grouper := b.cfg.Layout
	if grouper.ToleranceRatio == 0 && grouper.MinTolerance == 0 {
		grouper = *layout.NewGrouper()
	}

	cfg := b.cfg
	cfg.Extract = ext.Config()
	return &Pipeline{
		cfg:        cfg,
		normalizer: normalize.New(cfg.Normalize),
		adapter:    detection.NewAdapter(cfg.Detection.Floor, cfg.Detection.Aliases),
		detector:   b.detector,
		registry:   reg,
		extractor:  ext,
		grouper:    grouper,
		patterns:   patterns.NewExtractor(pr),
		fusion:     fusion.New(cfg.Fusion, &grouper),
		metrics:    b.metrics,
	}, nil
}
