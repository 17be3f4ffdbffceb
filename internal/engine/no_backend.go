//go:build !tesseract

package engine

import (
	"context"
	"image"

	"github.com/MeKo-Tech/invoxtract/internal/invoice"
)

type noBackend struct{}

func newDefaultBackend() ocrBackend { return noBackend{} }

func (noBackend) recognize(context.Context, image.Image, []string, Options) ([]invoice.Token, error) {
	return nil, ErrNoBackend
}

func (noBackend) available() bool { return false }
