package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MeKo-Tech/invoxtract/internal/detection"
	"github.com/MeKo-Tech/invoxtract/internal/engine"
	"github.com/MeKo-Tech/invoxtract/internal/engine/onnxocr"
	"github.com/MeKo-Tech/invoxtract/internal/models"
	"github.com/MeKo-Tech/invoxtract/internal/onnx"
)

// EngineOptions configures the production OCR engines and the region
// detector.
type EngineOptions struct {
	ModelsDir string
	UseServer bool
	// Languages are Tesseract language packs.
	Languages []string
	Session   onnx.SessionConfig

	// DetectionsFile is a sidecar of precomputed proposals; it takes
	// precedence over DetectorModel.
	DetectionsFile string
	DetectorModel  string
}

// KnownEngines lists the engine IDs OpenEngines accepts.
func KnownEngines() []string { return []string{onnxocr.ID, engine.ClassicalID} }

// OpenEngines creates the engines named by ids. Engines that cannot be
// loaded are skipped with a warning; it fails only if none remain.
func OpenEngines(ids []string, opts EngineOptions) (*engine.Registry, error) {
	if len(ids) == 0 {
		ids = KnownEngines()
	}
	reg, _ := engine.NewRegistry()
	var errs []error
	for _, id := range ids {
		e, err := openEngine(strings.TrimSpace(strings.ToLower(id)), opts)
		if err != nil {
			slog.Warn("OCR engine unavailable", "engine", id, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
			continue
		}
		if err := reg.Register(e); err != nil {
			errs = append(errs, err)
		}
	}
	if reg.Len() == 0 {
		return nil, fmt.Errorf("no OCR engine available: %w", errors.Join(errs...))
	}
	return reg, nil
}

func openEngine(id string, opts EngineOptions) (engine.Engine, error) {
	switch id {
	case onnxocr.ID:
		e, err := onnxocr.New(onnxocr.Config{
			ModelsDir: opts.ModelsDir,
			UseServer: opts.UseServer,
			Session:   opts.Session,
		})
		if err != nil {
			return nil, err
		}
		return e, nil
	case engine.ClassicalID:
		c := engine.NewClassical(engine.ClassicalConfig{Languages: opts.Languages})
		if !c.Available() {
			return nil, engine.ErrNoBackend
		}
		return c, nil
	default:
		return nil, fmt.Errorf("%w: %s", engine.ErrUnknownEngine, id)
	}
}

// OpenDetector returns the configured region detector, or nil when none
// is available. A missing default model is not an error.
func OpenDetector(opts EngineOptions) (detection.Detector, error) {
	if opts.DetectionsFile != "" {
		d, err := detection.LoadJSON(opts.DetectionsFile)
		if err != nil {
			return nil, err
		}
		return d, nil
	}
	path := opts.DetectorModel
	explicit := path != ""
	if !explicit {
		path = models.GetRegionDetectorPath(opts.ModelsDir)
	}
	if err := models.ValidateModelExists(path); err != nil {
		if explicit {
			return nil, err
		}
		slog.Debug("No region detector model, running without detections", "path", path)
		return nil, nil
	}
	d, err := detection.NewONNXDetector(detection.ONNXConfig{ModelPath: path, Session: opts.Session})
	if err != nil {
		return nil, err
	}
	return d, nil
}
