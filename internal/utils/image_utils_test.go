package utils

import (
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToGray_OffsetBounds(t *testing.T) {
	src := image.NewRGBA(image.Rect(10, 10, 14, 12))
	src.Set(10, 10, color.White)

	g := ToGray(src)
	assert.Equal(t, image.Rect(0, 0, 4, 2), g.Bounds())
	assert.Equal(t, uint8(255), g.GrayAt(0, 0).Y)
	assert.Equal(t, uint8(0), g.GrayAt(1, 0).Y)
}

func TestHistogram(t *testing.T) {
	g := image.NewGray(image.Rect(0, 0, 2, 2))
	g.Pix = []uint8{0, 0, 255, 255}

	h := Histogram(g)
	assert.Equal(t, 2, h[0])
	assert.Equal(t, 2, h[255])
}

func TestRotateQuarterTurns(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 40, 10))
	tests := []struct {
		turns int
		w, h  int
	}{
		{0, 40, 10},
		{1, 10, 40},
		{2, 40, 10},
		{3, 10, 40},
		{-1, 10, 40},
		{4, 40, 10},
	}
	for _, tt := range tests {
		out := RotateQuarterTurns(img, tt.turns)
		assert.Equal(t, tt.w, out.Bounds().Dx(), "turns=%d", tt.turns)
		assert.Equal(t, tt.h, out.Bounds().Dy(), "turns=%d", tt.turns)
	}
}

func TestCropImageRect_OutOfBounds(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 20, 20))
	out := CropImageRect(img, image.Rect(30, 30, 40, 40))
	assert.True(t, out.Bounds().Empty())

	out = CropImageRect(img, image.Rect(10, 10, 40, 40))
	assert.Equal(t, 10, out.Bounds().Dx())
}

func TestUpscaleFactor(t *testing.T) {
	assert.Equal(t, 1.0, UpscaleFactor(2000, 1500, 1000, 3))
	assert.InDelta(t, 2.0, UpscaleFactor(800, 500, 1000, 3), 1e-9)
	assert.InDelta(t, 3.0, UpscaleFactor(200, 100, 1000, 3), 1e-9)
	assert.Equal(t, 1.0, UpscaleFactor(0, 100, 1000, 3))
}

func TestScaleImage(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 10, 5))
	out, err := ScaleImage(img, 2)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 20, 10), out.Bounds())

	_, err = ScaleImage(nil, 2)
	var ipe *ImageProcessingError
	require.True(t, errors.As(err, &ipe))
	assert.Equal(t, "scale", ipe.Operation)
}

func TestValidateImage(t *testing.T) {
	c := DefaultImageConstraints()
	require.NoError(t, ValidateImage(image.NewGray(image.Rect(0, 0, 100, 100)), c))
	require.Error(t, ValidateImage(nil, c))
	require.Error(t, ValidateImage(image.NewGray(image.Rect(0, 0, 4, 100)), c))
}

func TestNormalizeImage(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	img.Set(0, 0, color.RGBA{255, 0, 0, 255})
	data, w, h, err := NormalizeImage(img)
	require.NoError(t, err)
	assert.Equal(t, 2, w)
	assert.Equal(t, 1, h)
	require.Len(t, data, 6)
	assert.InDelta(t, 1.0, data[0], 1e-6)
	assert.InDelta(t, 0.0, data[2], 1e-6)
}
