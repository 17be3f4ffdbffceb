package utils

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/disintegration/imaging"
)

// ToGray converts any image into a compact *image.Gray with bounds starting at (0,0).
func ToGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok && g.Rect.Min == (image.Point{}) &&
		g.Stride == g.Rect.Dx() && len(g.Pix) == g.Stride*g.Rect.Dy() {
		return g
	}
	b := img.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}

// Histogram returns the 256-bin intensity histogram of a gray image.
func Histogram(g *image.Gray) [256]int {
	var h [256]int
	w, ht := g.Bounds().Dx(), g.Bounds().Dy()
	for y := range ht {
		row := g.Pix[y*g.Stride : y*g.Stride+w]
		for _, p := range row {
			h[p]++
		}
	}
	return h
}

// CropImageRect crops an image to the given rectangle.
func CropImageRect(img image.Image, rect image.Rectangle) image.Image {
	rect = rect.Intersect(img.Bounds())
	if rect.Empty() {
		return imaging.New(0, 0, color.Transparent)
	}
	return imaging.Crop(img, rect)
}

// Rotate90 rotates the image 90 degrees counter-clockwise.
func Rotate90(img image.Image) image.Image { return imaging.Rotate90(img) }

// Rotate180 rotates the image 180 degrees.
func Rotate180(img image.Image) image.Image { return imaging.Rotate180(img) }

// Rotate270 rotates the image 270 degrees counter-clockwise.
func Rotate270(img image.Image) image.Image { return imaging.Rotate270(img) }

// RotateQuarterTurns rotates counter-clockwise by n*90 degrees.
func RotateQuarterTurns(img image.Image, n int) image.Image {
	switch ((n % 4) + 4) % 4 {
	case 1:
		return Rotate90(img)
	case 2:
		return Rotate180(img)
	case 3:
		return Rotate270(img)
	default:
		return img
	}
}

// RotateDegrees rotates counter-clockwise by an arbitrary angle, filling with white.
func RotateDegrees(img image.Image, degrees float64) image.Image {
	if degrees == 0 {
		return img
	}
	return imaging.Rotate(img, degrees, color.White)
}
