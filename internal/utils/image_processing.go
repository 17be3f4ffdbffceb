package utils

import (
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// ImageProcessingError represents errors that can occur during image processing.
type ImageProcessingError struct {
	Operation string
	Err       error
}

func (e *ImageProcessingError) Error() string {
	return fmt.Sprintf("image processing error in %s: %v", e.Operation, e.Err)
}

func (e *ImageProcessingError) Unwrap() error { return e.Err }

// ImageConstraints defines size limits for an input page.
type ImageConstraints struct {
	MaxWidth  int
	MaxHeight int
	MinWidth  int
	MinHeight int
}

// DefaultImageConstraints returns the limits used for invoice pages.
func DefaultImageConstraints() ImageConstraints {
	return ImageConstraints{
		MaxWidth:  10000,
		MaxHeight: 10000,
		MinWidth:  16,
		MinHeight: 16,
	}
}

// ValidateImage checks that img is non-nil and inside the constraints.
func ValidateImage(img image.Image, c ImageConstraints) error {
	if img == nil {
		return &ImageProcessingError{Operation: "validate", Err: errors.New("input image is nil")}
	}
	b := img.Bounds()
	if b.Dx() < c.MinWidth || b.Dy() < c.MinHeight {
		return &ImageProcessingError{
			Operation: "validate",
			Err:       fmt.Errorf("image dimensions %dx%d below minimum %dx%d", b.Dx(), b.Dy(), c.MinWidth, c.MinHeight),
		}
	}
	if c.MaxWidth > 0 && b.Dx() > c.MaxWidth || c.MaxHeight > 0 && b.Dy() > c.MaxHeight {
		return &ImageProcessingError{
			Operation: "validate",
			Err:       fmt.Errorf("image dimensions %dx%d exceed maximum %dx%d", b.Dx(), b.Dy(), c.MaxWidth, c.MaxHeight),
		}
	}
	return nil
}

// UpscaleFactor returns the interpolation factor that brings the shorter side
// to minShortSide, capped at maxFactor. It returns 1 when no upscale is needed.
func UpscaleFactor(width, height, minShortSide int, maxFactor float64) float64 {
	short := min(width, height)
	if short <= 0 || minShortSide <= 0 || short >= minShortSide {
		return 1
	}
	f := float64(minShortSide) / float64(short)
	if maxFactor > 0 && f > maxFactor {
		f = maxFactor
	}
	return f
}

// ScaleImage resizes img by factor using Lanczos resampling.
func ScaleImage(img image.Image, factor float64) (image.Image, error) {
	if img == nil {
		return nil, &ImageProcessingError{Operation: "scale", Err: errors.New("input image is nil")}
	}
	if factor <= 0 {
		return nil, &ImageProcessingError{Operation: "scale", Err: fmt.Errorf("invalid factor %f", factor)}
	}
	if factor == 1 {
		return img, nil
	}
	b := img.Bounds()
	w := max(1, int(float64(b.Dx())*factor+0.5))
	h := max(1, int(float64(b.Dy())*factor+0.5))
	return imaging.Resize(img, w, h, imaging.Lanczos), nil
}

// NormalizeImage converts an image to NCHW float32 data in [0,1].
func NormalizeImage(img image.Image) ([]float32, int, int, error) {
	if img == nil {
		return nil, 0, 0, &ImageProcessingError{Operation: "normalize", Err: errors.New("input image is nil")}
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return nil, 0, 0, &ImageProcessingError{Operation: "normalize", Err: errors.New("empty image")}
	}
	nrgba := imaging.Clone(img)
	plane := w * h
	data := make([]float32, 3*plane)
	for y := range h {
		for x := range w {
			i := y*nrgba.Stride + x*4
			idx := y*w + x
			data[idx] = float32(nrgba.Pix[i]) / 255
			data[plane+idx] = float32(nrgba.Pix[i+1]) / 255
			data[2*plane+idx] = float32(nrgba.Pix[i+2]) / 255
		}
	}
	return data, w, h, nil
}
