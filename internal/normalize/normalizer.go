// Package normalize produces a geometrically corrected page and a set of
// photometric variants for text extraction.
package normalize

import (
	"context"
	"fmt"
	"image"
	"log/slog"

	"github.com/disintegration/imaging"

	"github.com/MeKo-Tech/invoxtract/internal/invoice"
	"github.com/MeKo-Tech/invoxtract/internal/utils"
)

// Variant identifies one photometric rendition of the normalized page.
type Variant string

// Variants produced by Normalize, in the order engines are scheduled.
const (
	VariantOriginal  Variant = "original"
	VariantGrayscale Variant = "grayscale"
	VariantContrast  Variant = "contrast"
	VariantDenoised  Variant = "denoised"
	VariantBinarized Variant = "binarized"
)

// AllVariants lists every variant in scheduling order.
var AllVariants = []Variant{
	VariantOriginal, VariantGrayscale, VariantContrast, VariantDenoised, VariantBinarized,
}

// Config controls the normalization passes.
type Config struct {
	MinShortSide      int     `mapstructure:"min_short_side" yaml:"min_short_side"`
	MaxUpscale        float64 `mapstructure:"max_upscale" yaml:"max_upscale"`
	MaxSkewAngle      float64 `mapstructure:"max_skew_angle" yaml:"max_skew_angle"`
	SkewThreshold     float64 `mapstructure:"skew_threshold" yaml:"skew_threshold"`
	FineTuneThreshold float64 `mapstructure:"finetune_threshold" yaml:"finetune_threshold"`
	ContrastTiles     int     `mapstructure:"contrast_tiles" yaml:"contrast_tiles"`
	ContrastClip      float64 `mapstructure:"contrast_clip" yaml:"contrast_clip"`
	AdaptiveWindow    int     `mapstructure:"adaptive_window" yaml:"adaptive_window"`
	AdaptiveBias      int     `mapstructure:"adaptive_bias" yaml:"adaptive_bias"`
	DetectOrientation bool    `mapstructure:"detect_orientation" yaml:"detect_orientation"`
}

// DefaultConfig returns the standard normalization settings.
func DefaultConfig() Config {
	return Config{
		MinShortSide:      1000,
		MaxUpscale:        3,
		MaxSkewAngle:      10,
		SkewThreshold:     0.5,
		FineTuneThreshold: 0.2,
		ContrastTiles:     8,
		ContrastClip:      2.0,
		AdaptiveWindow:    25,
		AdaptiveBias:      10,
		DetectOrientation: true,
	}
}

// Result is the output of Normalize.
type Result struct {
	// Base is the geometrically corrected colour page.
	Base image.Image
	// Variants holds one image per Variant; all share Base's bounds.
	Variants map[Variant]image.Image
	// Gray is the grayscale rendition, reused for region crops.
	Gray      *image.Gray
	Transform Transform
	// Applied lists the passes that changed the page, or "<pass>:skipped"
	// for passes and variants that failed and were bypassed.
	Applied []string
	// Orientation holds the coarse orientation scores, if computed.
	Orientation *OrientationScores
}

// Bounds returns the normalized page bounds.
func (r *Result) Bounds() image.Rectangle { return r.Base.Bounds() }

// Variant returns the named variant or nil.
func (r *Result) Variant(v Variant) image.Image { return r.Variants[v] }

// Normalizer runs the geometric and photometric passes.
type Normalizer struct {
	cfg    Config
	ops    imageOps
	logger *slog.Logger
}

// New creates a Normalizer. Zero-valued fields fall back to defaults.
func New(cfg Config) *Normalizer {
	d := DefaultConfig()
	if cfg.MinShortSide <= 0 {
		cfg.MinShortSide = d.MinShortSide
	}
	if cfg.MaxUpscale < 1 {
		cfg.MaxUpscale = d.MaxUpscale
	}
	if cfg.MaxSkewAngle <= 0 {
		cfg.MaxSkewAngle = d.MaxSkewAngle
	}
	if cfg.SkewThreshold <= 0 {
		cfg.SkewThreshold = d.SkewThreshold
	}
	if cfg.FineTuneThreshold <= 0 {
		cfg.FineTuneThreshold = d.FineTuneThreshold
	}
	if cfg.ContrastTiles <= 0 {
		cfg.ContrastTiles = d.ContrastTiles
	}
	if cfg.ContrastClip <= 0 {
		cfg.ContrastClip = d.ContrastClip
	}
	if cfg.AdaptiveWindow <= 0 {
		cfg.AdaptiveWindow = d.AdaptiveWindow
	}
	if cfg.AdaptiveBias <= 0 {
		cfg.AdaptiveBias = d.AdaptiveBias
	}
	return &Normalizer{cfg: cfg, ops: backend, logger: slog.Default()}
}

// WithLogger sets the logger used for skipped passes.
func (n *Normalizer) WithLogger(l *slog.Logger) *Normalizer {
	if l != nil {
		n.logger = l
	}
	return n
}

// Config returns the effective configuration.
func (n *Normalizer) Config() Config { return n.cfg }

type pass struct {
	name string
	run  func(img image.Image, t *Transform) (image.Image, bool)
}

// Normalize corrects resolution, skew and orientation, then builds the
// photometric variants. A pass that panics is skipped and the page it
// received is passed on unchanged. Only a nil image or a cancelled context
// produce an error.
func (n *Normalizer) Normalize(ctx context.Context, img image.Image) (res *Result, err error) {
	if img == nil {
		return nil, invoice.NewInvalidInputError("nil image")
	}
	if err := utils.ValidateImage(img, utils.DefaultImageConstraints()); err != nil {
		return nil, invoice.NewInvalidInputError(err.Error())
	}

	base := image.Image(imaging.Clone(img))
	b := base.Bounds()
	tr := newTransform(b.Dx(), b.Dy())
	res = &Result{}

	passes := []pass{
		{"upscale", n.upscale},
		{"deskew", n.deskew},
	}
	if n.cfg.DetectOrientation {
		passes = append(passes, pass{"orientation", func(img image.Image, t *Transform) (image.Image, bool) {
			out, changed, scores := n.orient(img, t)
			res.Orientation = scores
			return out, changed
		}})
	}
	passes = append(passes, pass{"finetune", n.finetune})

	for _, p := range passes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out, changed, perr := runPass(p, base, &tr)
		switch {
		case perr != nil:
			n.logger.Warn("normalization pass skipped", "pass", p.name, "error", perr)
			res.Applied = append(res.Applied, p.name+":skipped")
		case changed:
			base = out
			res.Applied = append(res.Applied, p.name)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res.Base = base
	res.Transform = tr
	res.Gray = utils.ToGray(base)
	var skipped []string
	res.Variants, skipped = n.variants(base, res.Gray)
	res.Applied = append(res.Applied, skipped...)
	return res, nil
}

// runPass executes p on a scratch copy of the transform, committing the
// transform only when the pass returns normally.
func runPass(p pass, img image.Image, t *Transform) (out image.Image, changed bool, err error) {
	scratch := *t
	scratch.steps = append([]transformStep(nil), t.steps...)
	defer func() {
		if r := recover(); r != nil {
			err = invoice.NewPanicError("normalize:"+p.name, r)
		}
	}()
	out, changed = p.run(img, &scratch)
	if changed {
		*t = scratch
	}
	return out, changed, nil
}

func (n *Normalizer) upscale(img image.Image, t *Transform) (image.Image, bool) {
	b := img.Bounds()
	f := utils.UpscaleFactor(b.Dx(), b.Dy(), n.cfg.MinShortSide, n.cfg.MaxUpscale)
	if f <= 1 {
		return img, false
	}
	out, err := utils.ScaleImage(img, f)
	if err != nil {
		panic(fmt.Errorf("upscale: %w", err))
	}
	ob := out.Bounds()
	t.addScale(f, b.Dx(), b.Dy(), ob.Dx(), ob.Dy())
	return out, true
}

func (n *Normalizer) deskew(img image.Image, t *Transform) (image.Image, bool) {
	angle, count := n.ops.skew(img, n.cfg.MaxSkewAngle)
	if count == 0 || !angleDelta(angle, n.cfg.SkewThreshold) {
		return img, false
	}
	return n.rotate(img, t, angle), true
}

func (n *Normalizer) finetune(img image.Image, t *Transform) (image.Image, bool) {
	angle, count := n.ops.residualAngle(img, n.cfg.MaxSkewAngle/2)
	if count == 0 || !angleDelta(angle, n.cfg.FineTuneThreshold) {
		return img, false
	}
	return n.rotate(img, t, angle), true
}

func (n *Normalizer) rotate(img image.Image, t *Transform, angle float64) image.Image {
	b := img.Bounds()
	out := utils.RotateDegrees(img, angle)
	ob := out.Bounds()
	t.addRotation(angle, b.Dx(), b.Dy(), ob.Dx(), ob.Dy())
	t.SkewDegrees += angle
	return out
}

// orientationMargin is how much a quarter turn must outscore upright
// before the page is turned.
const orientationMargin = 1.05

// orient picks the quarter turn whose text lines run horizontally and
// whose ascenders sit above the line cores.
func (n *Normalizer) orient(img image.Image, t *Transform) (image.Image, bool, *OrientationScores) {
	scores := ScoreOrientations(img)
	best := scores.Best
	if best == 0 {
		return img, false, &scores
	}
	if scores.Scores[0] > 0 && scores.Scores[best] <= scores.Scores[0]*orientationMargin {
		return img, false, &scores
	}
	b := img.Bounds()
	out := utils.RotateQuarterTurns(img, best)
	ob := out.Bounds()
	t.addRotation(float64(90*best), b.Dx(), b.Dy(), ob.Dx(), ob.Dy())
	t.QuarterTurns = best
	return out, true, &scores
}

// variants builds the photometric renditions. A rendition that panics or
// comes back empty is replaced by the grayscale page and reported as
// "<variant>:skipped".
func (n *Normalizer) variants(base image.Image, gray *image.Gray) (map[Variant]image.Image, []string) {
	out := map[Variant]image.Image{
		VariantOriginal:  base,
		VariantGrayscale: gray,
	}
	builders := []struct {
		variant Variant
		build   func() *image.Gray
	}{
		{VariantContrast, func() *image.Gray { return n.ops.localContrast(gray, n.cfg.ContrastTiles, n.cfg.ContrastClip) }},
		{VariantDenoised, func() *image.Gray { return n.ops.median(gray) }},
		{VariantBinarized, func() *image.Gray { return n.ops.adaptiveThreshold(gray, n.cfg.AdaptiveWindow, n.cfg.AdaptiveBias) }},
	}
	var skipped []string
	for _, b := range builders {
		img, err := buildVariant(b.variant, b.build)
		if err == nil && (img == nil || img.Bounds() != gray.Bounds()) {
			err = fmt.Errorf("variant %s: unexpected bounds", b.variant)
		}
		if err != nil {
			n.logger.Warn("normalization variant skipped", "variant", b.variant, "error", err)
			skipped = append(skipped, string(b.variant)+":skipped")
			out[b.variant] = gray
			continue
		}
		out[b.variant] = img
	}
	return out, skipped
}

func buildVariant(v Variant, build func() *image.Gray) (img *image.Gray, err error) {
	defer func() {
		if r := recover(); r != nil {
			img, err = nil, invoice.NewPanicError("normalize:variant:"+string(v), r)
		}
	}()
	return build(), nil
}

// EnhanceRegion applies the class-specific enhancement used for focused
// region reads: a strong binarization for identifiers and invoice numbers,
// histogram equalization for dates, and the plain crop otherwise.
func EnhanceRegion(crop image.Image, class string) image.Image {
	switch class {
	case invoice.ClassIdentifier, invoice.ClassInvoiceNumber:
		return Binarize(crop, 1.0)
	case invoice.ClassDate:
		return backend.equalize(crop)
	default:
		return utils.ToGray(crop)
	}
}
