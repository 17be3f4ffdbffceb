//nolint:lll
package config

import "time"

// Config represents the complete configuration for the invoxtract application.
// It is loaded from configuration files, environment variables and
// command-line flags.
type Config struct {
	// Global settings
	ModelsDir string `mapstructure:"models_dir" yaml:"models_dir" json:"models_dir"`
	LogLevel  string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose   bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	// OCR engines taking part in each run
	Engines EnginesConfig `mapstructure:"engines" yaml:"engines" json:"engines"`

	// Region detector
	Detector DetectorConfig `mapstructure:"detector" yaml:"detector" json:"detector"`

	// Image normalization
	Normalize NormalizeConfig `mapstructure:"normalize" yaml:"normalize" json:"normalize"`

	// OCR fan-out
	Extract ExtractConfig `mapstructure:"extract" yaml:"extract" json:"extract"`

	// Row and column reconstruction
	Layout LayoutConfig `mapstructure:"layout" yaml:"layout" json:"layout"`

	// Candidate reconciliation and arithmetic validation
	Fusion FusionConfig `mapstructure:"fusion" yaml:"fusion" json:"fusion"`

	// Field pattern families
	Patterns PatternsConfig `mapstructure:"patterns" yaml:"patterns" json:"patterns"`

	// Output configuration
	Output OutputConfig `mapstructure:"output" yaml:"output" json:"output"`

	// GPU configuration
	GPU GPUConfig `mapstructure:"gpu" yaml:"gpu" json:"gpu"`
}

// EnginesConfig selects and tunes the OCR engines.
type EnginesConfig struct {
	Enabled      []string           `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	DefaultFloor float64            `mapstructure:"default_floor" yaml:"default_floor" json:"default_floor"`
	Floors       map[string]float64 `mapstructure:"floors" yaml:"floors" json:"floors"`
	UseServer    bool               `mapstructure:"use_server" yaml:"use_server" json:"use_server"`
	Languages    []string           `mapstructure:"languages" yaml:"languages" json:"languages"`
	NumThreads   int                `mapstructure:"num_threads" yaml:"num_threads" json:"num_threads"`
	// ONNX Runtime shared library; empty searches the usual locations.
	LibraryPath string `mapstructure:"library_path" yaml:"library_path" json:"library_path"`
}

// DetectorConfig contains region detector settings.
type DetectorConfig struct {
	Floor          float64           `mapstructure:"floor" yaml:"floor" json:"floor"`
	ModelPath      string            `mapstructure:"model_path" yaml:"model_path" json:"model_path"`
	DetectionsFile string            `mapstructure:"detections_file" yaml:"detections_file" json:"detections_file"`
	Aliases        map[string]string `mapstructure:"aliases" yaml:"aliases" json:"aliases"`
}

// NormalizeConfig contains image normalization settings.
type NormalizeConfig struct {
	MinShortSide      int     `mapstructure:"min_short_side" yaml:"min_short_side" json:"min_short_side"`
	MaxUpscale        float64 `mapstructure:"max_upscale" yaml:"max_upscale" json:"max_upscale"`
	MaxSkewAngle      float64 `mapstructure:"max_skew_angle" yaml:"max_skew_angle" json:"max_skew_angle"`
	DetectOrientation bool    `mapstructure:"detect_orientation" yaml:"detect_orientation" json:"detect_orientation"`
}

// ExtractConfig contains OCR fan-out settings.
type ExtractConfig struct {
	MaxWorkers    int           `mapstructure:"max_workers" yaml:"max_workers" json:"max_workers"`
	TaskTimeout   time.Duration `mapstructure:"task_timeout" yaml:"task_timeout" json:"task_timeout"`
	MergeIoU      float64       `mapstructure:"merge_iou" yaml:"merge_iou" json:"merge_iou"`
	RegionClasses []string      `mapstructure:"region_classes" yaml:"region_classes" json:"region_classes"`
	RegionPadding int           `mapstructure:"region_padding" yaml:"region_padding" json:"region_padding"`
	Language      string        `mapstructure:"language" yaml:"language" json:"language"`
}

// LayoutConfig contains row clustering settings.
type LayoutConfig struct {
	ToleranceRatio float64    `mapstructure:"tolerance_ratio" yaml:"tolerance_ratio" json:"tolerance_ratio"`
	MinTolerance   float64    `mapstructure:"min_tolerance" yaml:"min_tolerance" json:"min_tolerance"`
	Boundaries     [2]float64 `mapstructure:"boundaries" yaml:"boundaries" json:"boundaries"`
}

// FusionConfig contains reconciliation settings.
type FusionConfig struct {
	TaxRate           float64 `mapstructure:"tax_rate" yaml:"tax_rate" json:"tax_rate"`
	Tolerance         float64 `mapstructure:"tolerance" yaml:"tolerance" json:"tolerance"`
	MinTextLength     int     `mapstructure:"min_text_length" yaml:"min_text_length" json:"min_text_length"`
	ExpectedLineItems int     `mapstructure:"expected_line_items" yaml:"expected_line_items" json:"expected_line_items"`
}

// PatternsConfig points at extra pattern families.
type PatternsConfig struct {
	File string `mapstructure:"file" yaml:"file" json:"file"`
}

// OutputConfig contains output formatting settings.
type OutputConfig struct {
	Format       string `mapstructure:"format" yaml:"format" json:"format"`
	File         string `mapstructure:"file" yaml:"file" json:"file"`
	MetricsFile  string `mapstructure:"metrics_file" yaml:"metrics_file" json:"metrics_file"`
	IncludeTrace bool   `mapstructure:"include_trace" yaml:"include_trace" json:"include_trace"`
}

// GPUConfig contains GPU acceleration settings.
type GPUConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Device      int    `mapstructure:"device" yaml:"device" json:"device"`
	MemoryLimit string `mapstructure:"memory_limit" yaml:"memory_limit" json:"memory_limit"`
}
