package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/invoxtract/internal/detection"
	"github.com/MeKo-Tech/invoxtract/internal/extract"
	"github.com/MeKo-Tech/invoxtract/internal/fusion"
	"github.com/MeKo-Tech/invoxtract/internal/invoice"
	"github.com/MeKo-Tech/invoxtract/internal/layout"
	"github.com/MeKo-Tech/invoxtract/internal/models"
	"github.com/MeKo-Tech/invoxtract/internal/normalize"
	"github.com/MeKo-Tech/invoxtract/internal/onnx"
	"github.com/MeKo-Tech/invoxtract/internal/pipeline"
)

// Output formats understood by the extract command.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	norm := normalize.DefaultConfig()
	ext := extract.DefaultConfig()
	grouper := layout.NewGrouper()
	fus := fusion.DefaultConfig()

	return Config{
		ModelsDir: models.DefaultModelsDir,
		LogLevel:  "info",
		Verbose:   false,
		Engines: EnginesConfig{
			Enabled:      pipeline.KnownEngines(),
			DefaultFloor: ext.DefaultFloor,
			Floors:       map[string]float64{},
			Languages:    []string{"spa", "eng"},
		},
		Detector: DetectorConfig{
			Floor: detection.DefaultFloor,
		},
		Normalize: NormalizeConfig{
			MinShortSide:      norm.MinShortSide,
			MaxUpscale:        norm.MaxUpscale,
			MaxSkewAngle:      norm.MaxSkewAngle,
			DetectOrientation: norm.DetectOrientation,
		},
		Extract: ExtractConfig{
			MaxWorkers:    ext.MaxWorkers,
			TaskTimeout:   ext.TaskTimeout,
			MergeIoU:      ext.MergeIoU,
			RegionClasses: ext.RegionClasses,
			RegionPadding: ext.RegionPadding,
		},
		Layout: LayoutConfig{
			ToleranceRatio: grouper.ToleranceRatio,
			MinTolerance:   grouper.MinTolerance,
			Boundaries:     grouper.Boundaries,
		},
		Fusion: FusionConfig{
			TaxRate:       fus.TaxRate,
			Tolerance:     fus.Tolerance,
			MinTextLength: pipeline.DefaultMinTextLength,
		},
		Output: OutputConfig{
			Format: FormatJSON,
		},
		GPU: GPUConfig{
			Enabled:     false,
			Device:      0,
			MemoryLimit: "auto",
		},
	}
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	validFormats := []string{FormatJSON, FormatYAML}
	if c.Output.Format != "" && !slices.Contains(validFormats, c.Output.Format) {
		return fmt.Errorf("invalid output format: %s (must be one of: %s)", c.Output.Format, strings.Join(validFormats, ", "))
	}

	if len(c.Engines.Enabled) == 0 {
		return fmt.Errorf("at least one engine must be enabled (known: %s)", strings.Join(pipeline.KnownEngines(), ", "))
	}
	for _, id := range c.Engines.Enabled {
		if !slices.Contains(pipeline.KnownEngines(), id) {
			return fmt.Errorf("unknown engine: %s (must be one of: %s)", id, strings.Join(pipeline.KnownEngines(), ", "))
		}
	}

	// Thresholds must be between 0.0 and 1.0
	if err := validateThreshold(c.Engines.DefaultFloor, "engines.default_floor"); err != nil {
		return err
	}
	for _, id := range slices.Sorted(maps.Keys(c.Engines.Floors)) {
		if err := validateThreshold(c.Engines.Floors[id], "engines.floors."+id); err != nil {
			return err
		}
	}
	if err := validateThreshold(c.Detector.Floor, "detector.floor"); err != nil {
		return err
	}
	if err := validateThreshold(c.Extract.MergeIoU, "extract.merge_iou"); err != nil {
		return err
	}
	if err := validateThreshold(c.Fusion.Tolerance, "fusion.tolerance"); err != nil {
		return err
	}
	if c.Fusion.TaxRate < 0 || c.Fusion.TaxRate >= 1 {
		return fmt.Errorf("invalid fusion.tax_rate: %.2f (must be in [0.0, 1.0))", c.Fusion.TaxRate)
	}

	if c.Extract.MaxWorkers <= 0 || c.Extract.MaxWorkers > extract.MaxWorkersCap {
		return fmt.Errorf("invalid extract max workers: %d (must be between 1 and %d)", c.Extract.MaxWorkers, extract.MaxWorkersCap)
	}
	if c.Extract.TaskTimeout < extract.MinTaskTimeout || c.Extract.TaskTimeout > extract.MaxTaskTimeout {
		return fmt.Errorf("invalid extract task timeout: %s (must be between %s and %s)",
			c.Extract.TaskTimeout, extract.MinTaskTimeout, extract.MaxTaskTimeout)
	}
	for _, class := range c.Extract.RegionClasses {
		if !invoice.IsKnownClass(class) {
			return fmt.Errorf("invalid extract region class: %s", class)
		}
	}
	if c.Fusion.MinTextLength < 0 {
		return fmt.Errorf("invalid min text length: %d (must not be negative)", c.Fusion.MinTextLength)
	}
	if c.Fusion.ExpectedLineItems < 0 {
		return fmt.Errorf("invalid expected line items: %d (must not be negative)", c.Fusion.ExpectedLineItems)
	}
	if c.Normalize.MinShortSide <= 0 {
		return fmt.Errorf("invalid normalize min short side: %d (must be positive)", c.Normalize.MinShortSide)
	}
	if c.Normalize.MaxUpscale < 1 {
		return fmt.Errorf("invalid normalize max upscale: %.2f (must be at least 1)", c.Normalize.MaxUpscale)
	}

	if c.Layout.ToleranceRatio < 0 || c.Layout.MinTolerance < 0 {
		return fmt.Errorf("invalid layout tolerance: ratio %.3f, min %.1f (must not be negative)",
			c.Layout.ToleranceRatio, c.Layout.MinTolerance)
	}
	if b := c.Layout.Boundaries; b[0] <= 0 || b[0] >= b[1] || b[1] >= 1 {
		return fmt.Errorf("invalid layout boundaries: %v (must satisfy 0 < a < b < 1)", b)
	}

	if c.GPU.MemoryLimit != "auto" && c.GPU.MemoryLimit != "" {
		if _, err := parseMemoryLimit(c.GPU.MemoryLimit); err != nil {
			return fmt.Errorf("invalid GPU memory limit: %w", err)
		}
	}
	if c.GPU.Device < 0 {
		return fmt.Errorf("invalid GPU device: %d (must not be negative)", c.GPU.Device)
	}

	return nil
}

// ToPipelineConfig converts the config to the internal pipeline configuration format.
func (c *Config) ToPipelineConfig() pipeline.Config {
	cfg := pipeline.DefaultConfig()

	cfg.Normalize.MinShortSide = c.Normalize.MinShortSide
	cfg.Normalize.MaxUpscale = c.Normalize.MaxUpscale
	cfg.Normalize.MaxSkewAngle = c.Normalize.MaxSkewAngle
	cfg.Normalize.DetectOrientation = c.Normalize.DetectOrientation

	cfg.Detection = pipeline.DetectionConfig{
		Floor:   c.Detector.Floor,
		Aliases: maps.Clone(c.Detector.Aliases),
	}

	cfg.Extract.MaxWorkers = c.Extract.MaxWorkers
	cfg.Extract.TaskTimeout = c.Extract.TaskTimeout
	cfg.Extract.DefaultFloor = c.Engines.DefaultFloor
	cfg.Extract.EngineFloors = maps.Clone(c.Engines.Floors)
	cfg.Extract.MergeIoU = c.Extract.MergeIoU
	cfg.Extract.RegionClasses = slices.Clone(c.Extract.RegionClasses)
	cfg.Extract.RegionPadding = c.Extract.RegionPadding
	cfg.Extract.Language = c.Extract.Language

	cfg.Layout.ToleranceRatio = c.Layout.ToleranceRatio
	cfg.Layout.MinTolerance = c.Layout.MinTolerance
	cfg.Layout.Boundaries = c.Layout.Boundaries

	cfg.Fusion.TaxRate = c.Fusion.TaxRate
	cfg.Fusion.Tolerance = c.Fusion.Tolerance

	cfg.PatternsFile = c.Patterns.File
	cfg.MinTextLength = c.Fusion.MinTextLength
	cfg.ExpectedLineItems = c.Fusion.ExpectedLineItems
	return cfg
}

// ToEngineOptions converts the engine, detector and GPU settings.
func (c *Config) ToEngineOptions() pipeline.EngineOptions {
	limit, _ := parseMemoryLimit(c.GPU.MemoryLimit)
	return pipeline.EngineOptions{
		ModelsDir: c.ModelsDir,
		UseServer: c.Engines.UseServer,
		Languages: slices.Clone(c.Engines.Languages),
		Session: onnx.SessionConfig{
			LibraryPath: c.Engines.LibraryPath,
			NumThreads:  c.Engines.NumThreads,
			GPU: onnx.GPUConfig{
				UseGPU:      c.GPU.Enabled,
				DeviceID:    c.GPU.Device,
				GPUMemLimit: limit,
			},
		},
		DetectionsFile: c.Detector.DetectionsFile,
		DetectorModel:  c.Detector.ModelPath,
	}
}

// validateThreshold validates that a value is between 0.0 and 1.0.
func validateThreshold(value float64, name string) error {
	if value < 0.0 || value > 1.0 {
		return fmt.Errorf("invalid %s: %.2f (must be between 0.0 and 1.0)", name, value)
	}
	return nil
}

// parseMemoryLimit converts a GPU memory limit such as "1GB" or "512MB"
// to bytes. "auto" and "" mean unlimited.
func parseMemoryLimit(limit string) (uint64, error) {
	if limit == "" || limit == "auto" {
		return 0, nil
	}

	units := []struct {
		suffix string
		factor float64
	}{
		{"GB", 1 << 30},
		{"MB", 1 << 20},
		{"KB", 1 << 10},
		{"B", 1},
	}
	upper := strings.ToUpper(strings.TrimSpace(limit))
	for _, u := range units {
		if !strings.HasSuffix(upper, u.suffix) {
			continue
		}
		n, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(upper, u.suffix)), 64)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid number in memory limit: %s", limit)
		}
		return uint64(n * u.factor), nil
	}
	return 0, errors.New("memory limit must end with one of: B, KB, MB, GB")
}
