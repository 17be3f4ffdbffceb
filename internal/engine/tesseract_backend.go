//go:build tesseract

package engine

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/MeKo-Tech/invoxtract/internal/invoice"
)

// newDefaultBackend returns the gosseract-backed implementation when the build tag is enabled.
func newDefaultBackend() ocrBackend { return tesseractBackend{} }

type tesseractBackend struct{}

func (tesseractBackend) available() bool { return true }

func pageSegMode(mode string) gosseract.PageSegMode {
	switch mode {
	case SegSingleLine:
		return gosseract.PSM_SINGLE_LINE
	case SegSparse:
		return gosseract.PSM_SPARSE_TEXT
	default:
		return gosseract.PSM_AUTO
	}
}

func (tesseractBackend) recognize(ctx context.Context, img image.Image, langs []string, opts Options) ([]invoice.Token, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}

	// gosseract clients are not goroutine-safe; each call owns one.
	client := gosseract.NewClient()
	defer func() { _ = client.Close() }()

	if err := client.SetLanguage(langs...); err != nil {
		return nil, fmt.Errorf("set language: %w", err)
	}
	if err := client.SetPageSegMode(pageSegMode(opts.PageSegMode)); err != nil {
		return nil, fmt.Errorf("set page segmentation mode: %w", err)
	}
	if opts.Whitelist != "" {
		if err := client.SetWhitelist(opts.Whitelist); err != nil {
			return nil, fmt.Errorf("set whitelist: %w", err)
		}
	}
	if err := client.SetImageFromBytes(buf.Bytes()); err != nil {
		return nil, fmt.Errorf("set image: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, fmt.Errorf("tesseract OCR failed: %w", err)
	}

	bounds := img.Bounds()
	tokens := make([]invoice.Token, 0, len(boxes))
	for _, b := range boxes {
		text := strings.TrimSpace(b.Word)
		if text == "" {
			continue
		}
		r := b.Box
		tokens = append(tokens, invoice.Token{
			Text:       text,
			Confidence: b.Confidence / 100,
			BBox: invoice.NewBBox(float64(r.Min.X-bounds.Min.X), float64(r.Min.Y-bounds.Min.Y),
				float64(r.Max.X-bounds.Min.X), float64(r.Max.Y-bounds.Min.Y), image.Rectangle{}),
		})
	}
	return tokens, nil
}
