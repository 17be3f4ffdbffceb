package detection

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Static returns a fixed list of proposals. Detections loaded from a
// sidecar file describe the original page, so SourceCoords is set for them.
type Static struct {
	Detections   []RawDetection
	SourceCoords bool
}

// Detect returns a copy of the configured proposals.
func (s *Static) Detect(ctx context.Context, _ image.Image) ([]RawDetection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return slices.Clone(s.Detections), nil
}

// InSourceSpace reports whether the boxes refer to the original page.
func (s *Static) InSourceSpace() bool { return s.SourceCoords }

// sidecar accepts either a bare list or an object with a detections key.
type sidecar struct {
	Detections []RawDetection `json:"detections" yaml:"detections"`
}

// LoadFile reads detections produced by an external service from a JSON
// or YAML sidecar file.
func LoadFile(path string) ([]RawDetection, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: user-provided sidecar path is expected
	if err != nil {
		return nil, fmt.Errorf("failed to read detections %s: %w", path, err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".yaml" || ext == ".yml" {
		return parseYAML(data)
	}
	return ParseJSON(data)
}

// LoadJSON reads a JSON sidecar into a Static detector in source coordinates.
func LoadJSON(path string) (*Static, error) {
	dets, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	return &Static{Detections: dets, SourceCoords: true}, nil
}

// ParseJSON decodes detections from a JSON list or {"detections": [...]}.
func ParseJSON(data []byte) ([]RawDetection, error) {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var list []RawDetection
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, fmt.Errorf("failed to decode detections: %w", err)
		}
		return list, nil
	}
	var sc sidecar
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("failed to decode detections: %w", err)
	}
	return sc.Detections, nil
}

func parseYAML(data []byte) ([]RawDetection, error) {
	var list []RawDetection
	if err := yaml.Unmarshal(data, &list); err == nil {
		return list, nil
	}
	var sc sidecar
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("failed to decode detections: %w", err)
	}
	return sc.Detections, nil
}
