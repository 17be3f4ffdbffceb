package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

const testValue = "test_value"

// writeConfig writes content to name inside a fresh temp dir.
func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return path
}

// TestNewLoader tests loader creation.
func TestNewLoader(t *testing.T) {
	loader := NewLoader()
	if loader == nil {
		t.Fatal("NewLoader() returned nil")
	}
	if loader.v == nil {
		t.Error("Loader viper instance is nil")
	}
	if NewLoaderWithViper(nil).GetViper() == nil {
		t.Error("NewLoaderWithViper(nil) should create a viper instance")
	}
}

// TestLoadWithNoConfigFile tests loading with no config file present.
func TestLoadWithNoConfigFile(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := NewLoaderWithViper(viper.New()).Load()
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	if cfg.LogLevel != infoLevel {
		t.Errorf("Expected default log level '%s', got %s", infoLevel, cfg.LogLevel)
	}
	if cfg.Extract.TaskTimeout != 20*time.Second {
		t.Errorf("Expected default task timeout 20s, got %s", cfg.Extract.TaskTimeout)
	}
	if cfg.Layout.Boundaries != [2]float64{0.55, 0.75} {
		t.Errorf("Expected default boundaries, got %v", cfg.Layout.Boundaries)
	}
	if len(cfg.Engines.Enabled) != 2 {
		t.Errorf("Expected both engines enabled, got %v", cfg.Engines.Enabled)
	}
}

// TestLoadWithValidYAMLFile tests loading from a valid YAML file.
func TestLoadWithValidYAMLFile(t *testing.T) {
	configFile := writeConfig(t, "invoxtract.yaml", `
log_level: debug
verbose: true
models_dir: /custom/models
engines:
  enabled: [tesseract]
  floors:
    tesseract: 0.45
detector:
  aliases:
    nro_factura: invoice_number
extract:
  max_workers: 2
  task_timeout: 15s
fusion:
  tax_rate: 0.15
  expected_line_items: 4
layout:
  boundaries: [0.5, 0.8]
output:
  format: yaml
  include_trace: true
`)

	cfg, err := NewLoaderWithViper(viper.New()).LoadWithFile(configFile)
	if err != nil {
		t.Fatalf("LoadWithFile() unexpected error: %v", err)
	}

	if cfg.LogLevel != debugLevel {
		t.Errorf("Expected log level 'debug', got %s", cfg.LogLevel)
	}
	if !cfg.Verbose {
		t.Error("Expected verbose to be true")
	}
	if cfg.ModelsDir != "/custom/models" {
		t.Errorf("Expected models dir '/custom/models', got %s", cfg.ModelsDir)
	}
	if len(cfg.Engines.Enabled) != 1 || cfg.Engines.Enabled[0] != "tesseract" {
		t.Errorf("Expected only tesseract enabled, got %v", cfg.Engines.Enabled)
	}
	if cfg.Engines.Floors["tesseract"] != 0.45 {
		t.Errorf("Expected tesseract floor 0.45, got %v", cfg.Engines.Floors)
	}
	if cfg.Detector.Aliases["nro_factura"] != "invoice_number" {
		t.Errorf("Expected alias for nro_factura, got %v", cfg.Detector.Aliases)
	}
	if cfg.Extract.MaxWorkers != 2 || cfg.Extract.TaskTimeout != 15*time.Second {
		t.Errorf("Expected 2 workers and 15s timeout, got %d and %s", cfg.Extract.MaxWorkers, cfg.Extract.TaskTimeout)
	}
	if cfg.Fusion.TaxRate != 0.15 || cfg.Fusion.ExpectedLineItems != 4 {
		t.Errorf("Unexpected fusion settings: %+v", cfg.Fusion)
	}
	if cfg.Layout.Boundaries != [2]float64{0.5, 0.8} {
		t.Errorf("Expected boundaries [0.5 0.8], got %v", cfg.Layout.Boundaries)
	}
	if cfg.Output.Format != FormatYAML || !cfg.Output.IncludeTrace {
		t.Errorf("Unexpected output settings: %+v", cfg.Output)
	}
	// Unset keys keep their defaults.
	if cfg.Fusion.MinTextLength != 20 {
		t.Errorf("Expected default min text length 20, got %d", cfg.Fusion.MinTextLength)
	}
}

// TestLoadWithInvalidConfig tests that validation errors surface from Load.
func TestLoadWithInvalidConfig(t *testing.T) {
	configFile := writeConfig(t, "invoxtract.yaml", "extract:\n  task_timeout: 2s\n")

	_, err := NewLoaderWithViper(viper.New()).LoadWithFile(configFile)
	if err == nil {
		t.Fatal("Expected validation error for a 2s task timeout")
	}
	if !strings.Contains(err.Error(), "validation failed") {
		t.Errorf("Expected a validation error, got %v", err)
	}

	cfg, err := NewLoaderWithViper(viper.New()).LoadWithFileWithoutValidation(configFile)
	if err != nil {
		t.Fatalf("LoadWithFileWithoutValidation() unexpected error: %v", err)
	}
	if cfg.Extract.TaskTimeout != 2*time.Second {
		t.Errorf("Expected raw task timeout 2s, got %s", cfg.Extract.TaskTimeout)
	}
}

// TestLoadWithMissingFile tests that an explicit missing file is an error.
func TestLoadWithMissingFile(t *testing.T) {
	_, err := NewLoaderWithViper(viper.New()).LoadWithFile(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("Expected error for missing config file")
	}
	if !strings.Contains(err.Error(), "does not exist") {
		t.Errorf("Unexpected error: %v", err)
	}
}

// TestLoadWithMalformedYAML tests that a broken file is reported.
func TestLoadWithMalformedYAML(t *testing.T) {
	configFile := writeConfig(t, "invoxtract.yaml", "log_level: [debug\n")

	if _, err := NewLoaderWithViper(viper.New()).LoadWithFile(configFile); err == nil {
		t.Fatal("Expected error for malformed YAML")
	}
}

// TestEnvironmentOverrides tests INVOXTRACT_ environment variables.
func TestEnvironmentOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("INVOXTRACT_LOG_LEVEL", "warn")
	t.Setenv("INVOXTRACT_FUSION_TAX_RATE", "0.08")
	t.Setenv("INVOXTRACT_EXTRACT_MAX_WORKERS", "3")

	cfg, err := NewLoaderWithViper(viper.New()).Load()
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("Expected log level 'warn' from env, got %s", cfg.LogLevel)
	}
	if cfg.Fusion.TaxRate != 0.08 {
		t.Errorf("Expected tax rate 0.08 from env, got %v", cfg.Fusion.TaxRate)
	}
	if cfg.Extract.MaxWorkers != 3 {
		t.Errorf("Expected 3 workers from env, got %d", cfg.Extract.MaxWorkers)
	}
}

// TestEnvironmentOverridesFile tests that env wins over the config file.
func TestEnvironmentOverridesFile(t *testing.T) {
	configFile := writeConfig(t, "invoxtract.yaml", "log_level: debug\n")
	t.Setenv("INVOXTRACT_LOG_LEVEL", "error")

	cfg, err := NewLoaderWithViper(viper.New()).LoadWithFile(configFile)
	if err != nil {
		t.Fatalf("LoadWithFile() unexpected error: %v", err)
	}
	if cfg.LogLevel != "error" {
		t.Errorf("Expected env log level 'error', got %s", cfg.LogLevel)
	}
}

// TestLoaderGetSet tests direct key access.
func TestLoaderGetSet(t *testing.T) {
	loader := NewLoaderWithViper(viper.New())
	loader.Set("custom.key", testValue)
	if got := loader.Get("custom.key"); got != testValue {
		t.Errorf("Expected %s, got %v", testValue, got)
	}

	loader.Set("log_level", debugLevel)
	cfg, err := loader.LoadWithFileWithoutValidation(writeConfig(t, "invoxtract.yaml", "verbose: true\n"))
	if err != nil {
		t.Fatalf("Load unexpected error: %v", err)
	}
	if cfg.LogLevel != debugLevel {
		t.Errorf("Expected Set value to win, got %s", cfg.LogLevel)
	}
	if !strings.HasSuffix(loader.GetConfigFileUsed(), "invoxtract.yaml") {
		t.Errorf("Unexpected config file used: %s", loader.GetConfigFileUsed())
	}
	if _, ok := loader.GetResolvedConfig()["fusion"]; !ok {
		t.Error("Resolved config should contain the fusion section")
	}
}

// TestGenerateDefaultConfigFile tests writing the defaults and reading them back.
func TestGenerateDefaultConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "generated.yaml")
	if err := GenerateDefaultConfigFile(path); err != nil {
		t.Fatalf("GenerateDefaultConfigFile() unexpected error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read generated file: %v", err)
	}
	for _, key := range []string{"engines:", "fusion:", "tax_rate:", "task_timeout:"} {
		if !strings.Contains(string(data), key) {
			t.Errorf("Generated config missing %q", key)
		}
	}

	cfg, err := NewLoaderWithViper(viper.New()).LoadWithFile(path)
	if err != nil {
		t.Fatalf("Generated config does not load: %v", err)
	}
	if cfg.Fusion.TaxRate != 0.12 {
		t.Errorf("Expected default tax rate 0.12, got %v", cfg.Fusion.TaxRate)
	}
	if cfg.Extract.TaskTimeout != 20*time.Second {
		t.Errorf("Expected default task timeout 20s, got %s", cfg.Extract.TaskTimeout)
	}
}

// TestGetConfigSearchPaths tests the search path list.
func TestGetConfigSearchPaths(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	paths := GetConfigSearchPaths()

	if paths[0] != "." {
		t.Errorf("Expected current directory first, got %s", paths[0])
	}
	want := filepath.Join("/xdg", ConfigFileName)
	found := false
	for _, p := range paths {
		if p == want {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected %s in search paths %v", want, paths)
	}
	if paths[len(paths)-1] != filepath.Join("/etc", ConfigFileName) {
		t.Errorf("Expected /etc path last, got %s", paths[len(paths)-1])
	}
}
