package config

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/MeKo-Tech/invoxtract/internal/extract"
	"github.com/MeKo-Tech/invoxtract/internal/invoice"
)

const (
	infoLevel  = "info"
	debugLevel = "debug"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, infoLevel, cfg.LogLevel)
	assert.Equal(t, FormatJSON, cfg.Output.Format)
	assert.Equal(t, []string{"onnxocr", "tesseract"}, cfg.Engines.Enabled)
	assert.InDelta(t, 0.30, cfg.Engines.DefaultFloor, 1e-9)
	assert.InDelta(t, 0.25, cfg.Detector.Floor, 1e-9)
	assert.InDelta(t, 0.12, cfg.Fusion.TaxRate, 1e-9)
	assert.InDelta(t, 0.05, cfg.Fusion.Tolerance, 1e-9)
	assert.Equal(t, 20, cfg.Fusion.MinTextLength)
	assert.Equal(t, 20*time.Second, cfg.Extract.TaskTimeout)
	assert.Equal(t, extract.MaxWorkersCap, cfg.Extract.MaxWorkers)
	assert.Equal(t, 1000, cfg.Normalize.MinShortSide)
	assert.True(t, cfg.Normalize.DetectOrientation)
	assert.Equal(t, "auto", cfg.GPU.MemoryLimit)

	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"log level", func(c *Config) { c.LogLevel = "trace" }, "invalid log level"},
		{"output format", func(c *Config) { c.Output.Format = "csv" }, "invalid output format"},
		{"yaml output", func(c *Config) { c.Output.Format = FormatYAML }, ""},
		{"no engines", func(c *Config) { c.Engines.Enabled = nil }, "at least one engine"},
		{"unknown engine", func(c *Config) { c.Engines.Enabled = []string{"azure"} }, "unknown engine"},
		{"engine floor", func(c *Config) { c.Engines.Floors = map[string]float64{"onnxocr": 1.2} }, "engines.floors.onnxocr"},
		{"default floor", func(c *Config) { c.Engines.DefaultFloor = -0.1 }, "engines.default_floor"},
		{"detector floor", func(c *Config) { c.Detector.Floor = 2 }, "detector.floor"},
		{"tax rate", func(c *Config) { c.Fusion.TaxRate = 1 }, "tax_rate"},
		{"zero tax rate", func(c *Config) { c.Fusion.TaxRate = 0 }, ""},
		{"workers", func(c *Config) { c.Extract.MaxWorkers = 8 }, "max workers"},
		{"timeout low", func(c *Config) { c.Extract.TaskTimeout = 5 * time.Second }, "task timeout"},
		{"timeout high", func(c *Config) { c.Extract.TaskTimeout = time.Minute }, "task timeout"},
		{"region class", func(c *Config) { c.Extract.RegionClasses = []string{"logo"} }, "region class"},
		{"min text length", func(c *Config) { c.Fusion.MinTextLength = -1 }, "min text length"},
		{"boundaries", func(c *Config) { c.Layout.Boundaries = [2]float64{0.8, 0.5} }, "boundaries"},
		{"tolerance", func(c *Config) { c.Layout.MinTolerance = -1 }, "layout tolerance"},
		{"upscale", func(c *Config) { c.Normalize.MaxUpscale = 0.5 }, "max upscale"},
		{"gpu memory", func(c *Config) { c.GPU.MemoryLimit = "lots" }, "GPU memory limit"},
		{"gpu memory ok", func(c *Config) { c.GPU.MemoryLimit = "512MB" }, ""},
		{"gpu device", func(c *Config) { c.GPU.Device = -1 }, "GPU device"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestToPipelineConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Engines.Floors = map[string]float64{"tesseract": 0.5}
	cfg.Detector.Floor = 0.4
	cfg.Detector.Aliases = map[string]string{"nro_factura": invoice.ClassInvoiceNumber}
	cfg.Fusion.TaxRate = 0.15
	cfg.Fusion.MinTextLength = 10
	cfg.Fusion.ExpectedLineItems = 3
	cfg.Extract.TaskTimeout = 12 * time.Second
	cfg.Layout.MinTolerance = 9
	cfg.Normalize.DetectOrientation = false
	cfg.Patterns.File = "families.yaml"

	pc := cfg.ToPipelineConfig()
	assert.InDelta(t, 0.5, pc.Extract.Floor("tesseract"), 1e-9)
	assert.InDelta(t, 0.30, pc.Extract.Floor("onnxocr"), 1e-9)
	assert.InDelta(t, 0.4, pc.Detection.Floor, 1e-9)
	assert.Equal(t, invoice.ClassInvoiceNumber, pc.Detection.Aliases["nro_factura"])
	assert.InDelta(t, 0.15, pc.Fusion.TaxRate, 1e-9)
	assert.Equal(t, 10, pc.MinTextLength)
	assert.Equal(t, 3, pc.ExpectedLineItems)
	assert.Equal(t, 12*time.Second, pc.Extract.TaskTimeout)
	assert.InDelta(t, 9, pc.Layout.MinTolerance, 1e-9)
	assert.False(t, pc.Normalize.DetectOrientation)
	assert.Equal(t, "families.yaml", pc.PatternsFile)

	// The pipeline config owns its maps.
	cfg.Engines.Floors["tesseract"] = 0.9
	assert.InDelta(t, 0.5, pc.Extract.Floor("tesseract"), 1e-9)
}

func TestToEngineOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ModelsDir = "/opt/models"
	cfg.GPU = GPUConfig{Enabled: true, Device: 1, MemoryLimit: "2GB"}
	cfg.Detector.DetectionsFile = "page.json"
	cfg.Engines.NumThreads = 2

	opts := cfg.ToEngineOptions()
	assert.Equal(t, "/opt/models", opts.ModelsDir)
	assert.True(t, opts.Session.GPU.UseGPU)
	assert.Equal(t, 1, opts.Session.GPU.DeviceID)
	assert.Equal(t, uint64(2<<30), opts.Session.GPU.GPUMemLimit)
	assert.Equal(t, 2, opts.Session.NumThreads)
	assert.Equal(t, "page.json", opts.DetectionsFile)
	assert.Equal(t, []string{"spa", "eng"}, opts.Languages)
}

func TestParseMemoryLimit(t *testing.T) {
	tests := []struct {
		in      string
		want    uint64
		wantErr bool
	}{
		{"auto", 0, false},
		{"", 0, false},
		{"1GB", 1 << 30, false},
		{"512mb", 512 << 20, false},
		{"64KB", 64 << 10, false},
		{"100B", 100, false},
		{"1.5GB", 3 << 29, false},
		{"GB", 0, true},
		{"12", 0, true},
		{"-1MB", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseMemoryLimit(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConfigMarshaling(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogLevel = debugLevel
	cfg.Fusion.TaxRate = 0.15

	data, err := yaml.Marshal(cfg)
	require.NoError(t, err)
	assert.Contains(t, string(data), "tax_rate: 0.15")

	var back Config
	require.NoError(t, yaml.Unmarshal(data, &back))
	assert.Equal(t, debugLevel, back.LogLevel)
	assert.Equal(t, cfg.Layout.Boundaries, back.Layout.Boundaries)

	js, err := json.Marshal(cfg)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(js, &m))
	assert.Equal(t, debugLevel, m["log_level"])
	assert.Contains(t, m, "fusion")
}
