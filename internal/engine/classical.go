package engine

import (
	"context"
	"image"

	"github.com/MeKo-Tech/invoxtract/internal/invoice"
)

// ClassicalID is the registry ID of the Tesseract engine.
const ClassicalID = "tesseract"

// ClassicalConfig configures the Tesseract engine.
type ClassicalConfig struct {
	Languages []string // default spa, eng
}

// Classical runs Tesseract through gosseract. Without the tesseract build
// tag every call fails with ErrNoBackend.
type Classical struct {
	cfg     ClassicalConfig
	backend ocrBackend
}

type ocrBackend interface {
	recognize(ctx context.Context, img image.Image, langs []string, opts Options) ([]invoice.Token, error)
	available() bool
}

// NewClassical creates the Tesseract engine.
func NewClassical(cfg ClassicalConfig) *Classical {
	if len(cfg.Languages) == 0 {
		cfg.Languages = []string{"spa", "eng"}
	}
	return &Classical{cfg: cfg, backend: newDefaultBackend()}
}

// ID returns ClassicalID.
func (c *Classical) ID() string { return ClassicalID }

// Available reports whether the native backend is linked.
func (c *Classical) Available() bool { return c.backend.available() }

// Recognize reads words with their boxes and confidences.
func (c *Classical) Recognize(ctx context.Context, img image.Image, opts Options) ([]invoice.Token, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	langs := c.cfg.Languages
	if opts.Language != "" {
		langs = []string{opts.Language}
	}
	toks, err := c.backend.recognize(ctx, img, langs, opts)
	if err != nil {
		return nil, err
	}
	out := toks[:0]
	for _, t := range toks {
		if t.Confidence < opts.MinConfidence {
			continue
		}
		t.EngineID = ClassicalID
		out = append(out, t)
	}
	return out, nil
}
