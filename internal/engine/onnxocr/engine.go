// Package onnxocr is the learned OCR engine: a DB text detector followed by
// a CTC line recognizer, both PP-OCR models run on ONNX Runtime.
package onnxocr

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"slices"
	"time"

	"github.com/MeKo-Tech/invoxtract/internal/engine"
	"github.com/MeKo-Tech/invoxtract/internal/invoice"
	"github.com/MeKo-Tech/invoxtract/internal/models"
	"github.com/MeKo-Tech/invoxtract/internal/onnx"
	"github.com/MeKo-Tech/invoxtract/internal/utils"
)

// ID is the registry ID of the learned engine.
const ID = "onnxocr"

// Config configures the engine. Empty model paths resolve from ModelsDir.
type Config struct {
	ModelsDir      string
	UseServer      bool
	DetectionModel string
	RecognizeModel string
	Dictionary     string

	DetMaxSide   int     // default 960
	DetThreshold float64 // default 0.3
	BoxThreshold float64 // default 0.6
	UnclipRatio  float64 // default 1.5
	RecHeight    int     // default 48
	RecMaxWidth  int     // default 1600
	Session      onnx.SessionConfig
}

// DefaultConfig returns PP-OCR defaults.
func DefaultConfig() Config {
	return Config{
		DetMaxSide:   960,
		DetThreshold: 0.3,
		BoxThreshold: 0.6,
		UnclipRatio:  1.5,
		RecHeight:    48,
		RecMaxWidth:  1600,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.DetMaxSide <= 0 {
		c.DetMaxSide = d.DetMaxSide
	}
	if c.DetThreshold <= 0 {
		c.DetThreshold = d.DetThreshold
	}
	if c.BoxThreshold <= 0 {
		c.BoxThreshold = d.BoxThreshold
	}
	if c.UnclipRatio <= 0 {
		c.UnclipRatio = d.UnclipRatio
	}
	if c.RecHeight <= 0 {
		c.RecHeight = d.RecHeight
	}
	if c.RecMaxWidth <= 0 {
		c.RecMaxWidth = d.RecMaxWidth
	}
	if c.DetectionModel == "" {
		c.DetectionModel = models.GetDetectionModelPath(c.ModelsDir, c.UseServer)
	}
	if c.RecognizeModel == "" {
		c.RecognizeModel = models.GetRecognitionModelPath(c.ModelsDir, c.UseServer)
	}
	if c.Dictionary == "" {
		c.Dictionary = models.GetDictionaryPath(c.ModelsDir, models.DictionaryPPOCRKeysV1)
	}
}

// Engine implements engine.Engine. Sessions serialize their own runs, so
// an Engine may be shared by concurrent tasks.
type Engine struct {
	cfg     Config
	det     *onnx.Session
	rec     *onnx.Session
	charset *Charset
}

var _ engine.Engine = (*Engine)(nil)

// New loads both models and the dictionary.
func New(cfg Config) (*Engine, error) {
	cfg.applyDefaults()
	for _, p := range []string{cfg.DetectionModel, cfg.RecognizeModel, cfg.Dictionary} {
		if err := models.ValidateModelExists(p); err != nil {
			return nil, err
		}
	}
	cs, err := LoadCharset(cfg.Dictionary)
	if err != nil {
		return nil, err
	}
	det, err := onnx.Open(cfg.DetectionModel, cfg.Session)
	if err != nil {
		return nil, fmt.Errorf("open detection model: %w", err)
	}
	rec, err := onnx.Open(cfg.RecognizeModel, cfg.Session)
	if err != nil {
		_ = det.Close()
		return nil, fmt.Errorf("open recognition model: %w", err)
	}
	return &Engine{cfg: cfg, det: det, rec: rec, charset: cs}, nil
}

// ID returns the engine ID.
func (e *Engine) ID() string { return ID }

// Recognize detects text lines, reads each one and splits the readings
// into word tokens.
func (e *Engine) Recognize(ctx context.Context, img image.Image, opts engine.Options) ([]invoice.Token, error) {
	if img == nil {
		return nil, errors.New("input image is nil")
	}
	start := time.Now()
	bounds := img.Bounds()

	in := prepareDB(img, e.cfg.DetMaxSide)
	tensor, err := onnx.NewImageTensor(in.data, 3, in.h, in.w)
	if err != nil {
		return nil, err
	}
	out, err := e.det.Run(tensor)
	if err != nil {
		return nil, fmt.Errorf("text detection: %w", err)
	}
	if len(out.Data) < in.w*in.h {
		return nil, fmt.Errorf("unexpected detection output shape %v", out.Shape)
	}
	regions := postProcessDB(out.Data[:in.w*in.h], in.w, in.h, e.cfg.DetThreshold, e.cfg.BoxThreshold, e.cfg.UnclipRatio)

	var tokens []invoice.Token
	for _, r := range regions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rect := r.pageRect(in, bounds)
		if rect.Dx() < 2 || rect.Dy() < 2 {
			continue
		}
		words, err := e.readLine(utils.CropImageRect(img, rect), rect, bounds, r.score)
		if err != nil {
			return nil, err
		}
		for _, t := range words {
			if t.Confidence >= opts.MinConfidence {
				tokens = append(tokens, t)
			}
		}
	}
	slog.Debug("onnxocr recognized", "regions", len(regions), "tokens", len(tokens),
		"variant", opts.Variant, "duration", time.Since(start))
	return slices.Clip(tokens), nil
}

func (e *Engine) readLine(crop image.Image, rect, bounds image.Rectangle, detScore float64) ([]invoice.Token, error) {
	data, tw, cw := prepareRec(crop, e.cfg.RecHeight, e.cfg.RecMaxWidth)
	tensor, err := onnx.NewImageTensor(data, 3, e.cfg.RecHeight, tw)
	if err != nil {
		return nil, err
	}
	out, err := e.rec.Run(tensor)
	if err != nil {
		return nil, fmt.Errorf("text recognition: %w", err)
	}
	line, err := decodeCTCGreedy(out.Data, out.Shape, 0)
	if err != nil {
		return nil, err
	}

	var tokens []invoice.Token
	for _, wd := range splitWords(line, e.charset) {
		x0, x1 := stepSpan(wd, line.steps, tw, cw, rect.Dx())
		ox := float64(rect.Min.X - bounds.Min.X)
		oy := float64(rect.Min.Y - bounds.Min.Y)
		box := invoice.NewBBox(ox+x0, oy, ox+x1, oy+float64(rect.Dy()), image.Rectangle{})
		if !box.Valid() {
			continue
		}
		tokens = append(tokens, invoice.Token{
			Text:       wd.text,
			Confidence: wd.confidence * min(1, detScore+0.1),
			BBox:       box,
			EngineID:   ID,
		})
	}
	return tokens, nil
}

// Close releases both sessions.
func (e *Engine) Close() error {
	return errors.Join(e.det.Close(), e.rec.Close())
}
