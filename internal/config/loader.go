package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	// ConfigFileName is the base name for configuration files (without extension).
	ConfigFileName = "invoxtract"

	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "INVOXTRACT"
)

// Loader handles loading configuration from various sources.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a loader on the global viper instance, so flags bound
// by the root command take effect.
func NewLoader() *Loader {
	return &Loader{v: viper.GetViper()}
}

// NewLoaderWithViper creates a loader on its own viper instance.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	if v == nil {
		v = viper.New()
	}
	return &Loader{v: v}
}

// Load loads configuration from files, environment variables and defaults,
// then validates it.
func (l *Loader) Load() (*Config, error) {
	return l.LoadWithFile("")
}

// LoadWithFile loads configuration from a specific file path. An empty
// path searches the standard locations and tolerates a missing file.
func (l *Loader) LoadWithFile(configFile string) (*Config, error) {
	cfg, err := l.LoadWithFileWithoutValidation(configFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// LoadWithFileWithoutValidation loads configuration without validating it.
func (l *Loader) LoadWithFileWithoutValidation(configFile string) (*Config, error) {
	if configFile != "" {
		if _, err := os.Stat(configFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file does not exist: %s", configFile)
		}
		l.v.SetConfigFile(configFile)
	} else {
		l.v.SetConfigName(ConfigFileName)
		l.v.SetConfigType("yaml")
		l.addConfigPaths()
	}

	l.setupEnvironmentVariables()
	l.setDefaults()

	if err := l.v.ReadInConfig(); err != nil {
		// A missing config file is fine when searching; defaults and env apply.
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := l.v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return &config, nil
}

// Get returns a value from the configuration.
func (l *Loader) Get(key string) any {
	return l.v.Get(key)
}

// Set sets a value in the configuration.
func (l *Loader) Set(key string, value any) {
	l.v.Set(key, value)
}

// GetConfigFileUsed returns the path of the config file used.
func (l *Loader) GetConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// GetViper returns the underlying viper instance for advanced usage.
func (l *Loader) GetViper() *viper.Viper {
	return l.v
}

// addConfigPaths adds the standard configuration search paths.
func (l *Loader) addConfigPaths() {
	for _, p := range GetConfigSearchPaths() {
		l.v.AddConfigPath(p)
	}
}

// setupEnvironmentVariables configures environment variable handling.
func (l *Loader) setupEnvironmentVariables() {
	l.v.SetEnvPrefix(EnvPrefix)
	l.v.AutomaticEnv()
	// models_dir -> INVOXTRACT_MODELS_DIR, fusion.tax_rate -> INVOXTRACT_FUSION_TAX_RATE
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

// setDefaults sets default values for all configuration options.
func (l *Loader) setDefaults() {
	d := DefaultConfig()

	l.v.SetDefault("models_dir", d.ModelsDir)
	l.v.SetDefault("log_level", d.LogLevel)
	l.v.SetDefault("verbose", d.Verbose)

	l.v.SetDefault("engines.enabled", d.Engines.Enabled)
	l.v.SetDefault("engines.default_floor", d.Engines.DefaultFloor)
	l.v.SetDefault("engines.floors", d.Engines.Floors)
	l.v.SetDefault("engines.use_server", d.Engines.UseServer)
	l.v.SetDefault("engines.languages", d.Engines.Languages)
	l.v.SetDefault("engines.num_threads", d.Engines.NumThreads)
	l.v.SetDefault("engines.library_path", d.Engines.LibraryPath)

	l.v.SetDefault("detector.floor", d.Detector.Floor)
	l.v.SetDefault("detector.model_path", d.Detector.ModelPath)
	l.v.SetDefault("detector.detections_file", d.Detector.DetectionsFile)

	l.v.SetDefault("normalize.min_short_side", d.Normalize.MinShortSide)
	l.v.SetDefault("normalize.max_upscale", d.Normalize.MaxUpscale)
	l.v.SetDefault("normalize.max_skew_angle", d.Normalize.MaxSkewAngle)
	l.v.SetDefault("normalize.detect_orientation", d.Normalize.DetectOrientation)

	l.v.SetDefault("extract.max_workers", d.Extract.MaxWorkers)
	l.v.SetDefault("extract.task_timeout", d.Extract.TaskTimeout)
	l.v.SetDefault("extract.merge_iou", d.Extract.MergeIoU)
	l.v.SetDefault("extract.region_classes", d.Extract.RegionClasses)
	l.v.SetDefault("extract.region_padding", d.Extract.RegionPadding)
	l.v.SetDefault("extract.language", d.Extract.Language)

	l.v.SetDefault("layout.tolerance_ratio", d.Layout.ToleranceRatio)
	l.v.SetDefault("layout.min_tolerance", d.Layout.MinTolerance)
	l.v.SetDefault("layout.boundaries", d.Layout.Boundaries[:])

	l.v.SetDefault("fusion.tax_rate", d.Fusion.TaxRate)
	l.v.SetDefault("fusion.tolerance", d.Fusion.Tolerance)
	l.v.SetDefault("fusion.min_text_length", d.Fusion.MinTextLength)
	l.v.SetDefault("fusion.expected_line_items", d.Fusion.ExpectedLineItems)

	l.v.SetDefault("patterns.file", d.Patterns.File)

	l.v.SetDefault("output.format", d.Output.Format)
	l.v.SetDefault("output.file", d.Output.File)
	l.v.SetDefault("output.metrics_file", d.Output.MetricsFile)
	l.v.SetDefault("output.include_trace", d.Output.IncludeTrace)

	l.v.SetDefault("gpu.enabled", d.GPU.Enabled)
	l.v.SetDefault("gpu.device", d.GPU.Device)
	l.v.SetDefault("gpu.memory_limit", d.GPU.MemoryLimit)
}

// GetResolvedConfig returns the current resolved configuration for debugging.
func (l *Loader) GetResolvedConfig() map[string]any {
	return l.v.AllSettings()
}

// WriteConfigToFile writes the current configuration to a file.
func (l *Loader) WriteConfigToFile(filename string) error {
	return l.v.WriteConfigAs(filename)
}

// GenerateDefaultConfigFile writes the defaults to filename, or to
// invoxtract.yaml when filename is empty.
func GenerateDefaultConfigFile(filename string) error {
	loader := NewLoaderWithViper(viper.New())
	loader.setDefaults()

	if filename == "" {
		filename = ConfigFileName + ".yaml"
	}
	return loader.WriteConfigToFile(filename)
}

// GetConfigSearchPaths returns the paths where configuration files are searched.
func GetConfigSearchPaths() []string {
	paths := []string{"."}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, home)
	}

	if configDir, exists := os.LookupEnv("XDG_CONFIG_HOME"); exists {
		paths = append(paths, filepath.Join(configDir, ConfigFileName))
	} else if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", ConfigFileName))
	}

	paths = append(paths, filepath.Join("/etc", ConfigFileName))

	return paths
}
