package normalize

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bimodal(w, h int, dark, light uint8) *image.Gray {
	g := image.NewGray(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			v := light
			if x < w/3 {
				v = dark
			}
			g.SetGray(x, y, color.Gray{Y: v})
		}
	}
	return g
}

func TestOtsu_SplitsBimodal(t *testing.T) {
	g := bimodal(30, 10, 40, 220)
	th := Otsu(g)
	assert.GreaterOrEqual(t, th, uint8(40))
	assert.Less(t, th, uint8(220))

	bin := Threshold(g, th)
	assert.Equal(t, uint8(0), bin.GrayAt(0, 0).Y)
	assert.Equal(t, uint8(255), bin.GrayAt(29, 0).Y)
}

func TestBinarize_StrengthRaisesThreshold(t *testing.T) {
	g := image.NewGray(image.Rect(0, 0, 256, 4))
	for y := range 4 {
		for x := range 256 {
			g.SetGray(x, y, color.Gray{Y: uint8(x)})
		}
	}
	ink := func(b *image.Gray) int {
		n := 0
		for _, p := range b.Pix {
			if p == 0 {
				n++
			}
		}
		return n
	}

	weak := ink(Binarize(g, 0))
	strong := ink(Binarize(g, 1))
	assert.Greater(t, strong, weak)
	assert.Equal(t, 48*4, strong-weak)
}

func TestAdaptiveThreshold_HandlesGradient(t *testing.T) {
	g := image.NewGray(image.Rect(0, 0, 60, 20))
	for y := range 20 {
		for x := range 60 {
			g.SetGray(x, y, color.Gray{Y: uint8(100 + 2*x)})
		}
	}
	for y := 8; y < 12; y++ {
		g.SetGray(50, y, color.Gray{Y: 60})
	}

	out := AdaptiveThreshold(g, 9, 10)
	assert.Equal(t, uint8(0), out.GrayAt(50, 10).Y)
	assert.Equal(t, uint8(255), out.GrayAt(10, 10).Y)
}

func TestEqualizeHistogram_StretchesRange(t *testing.T) {
	g := bimodal(20, 4, 100, 120)
	out := EqualizeHistogram(g)
	assert.Less(t, out.GrayAt(0, 0).Y, uint8(100))
	assert.Equal(t, uint8(255), out.GrayAt(19, 0).Y)
}

func TestMedian3_RemovesSaltNoise(t *testing.T) {
	g := bimodal(12, 12, 255, 255)
	g.SetGray(6, 6, color.Gray{Y: 0})
	out := Median3(g)
	assert.Equal(t, uint8(255), out.GrayAt(6, 6).Y)
}

func TestLocalContrast_KeepsBounds(t *testing.T) {
	g := bimodal(64, 48, 90, 160)
	out := LocalContrast(g, 4, 2.0)
	require.Equal(t, g.Bounds(), out.Bounds())
	assert.Less(t, out.GrayAt(2, 2).Y, out.GrayAt(60, 2).Y)
}

func TestMorphology_CloseBridgesGap(t *testing.T) {
	w, h := 11, 3
	mask := make([]bool, w*h)
	for x := range w {
		if x != 5 {
			mask[w+x] = true
		}
	}
	blobs := connectedBlobs(mask, w, h, 1)
	require.Len(t, blobs, 2)

	closed := Close(mask, w, h, 1, 0)
	assert.True(t, closed[w+5])
	blobs = connectedBlobs(closed, w, h, 1)
	require.Len(t, blobs, 1)
	assert.Equal(t, 11, blobs[0].width())
	assert.InDelta(t, 0, blobs[0].orientation(), 1e-9)
}

func TestBlobOrientation_Descending(t *testing.T) {
	w, h := 40, 10
	mask := make([]bool, w*h)
	for x := range w {
		y := x / 8
		mask[y*w+x] = true
	}
	blobs := connectedBlobs(mask, w, h, 1)
	require.Len(t, blobs, 1)
	assert.Greater(t, blobs[0].orientation(), 0.0)
	assert.Greater(t, blobs[0].elongation(), 4.0)
}
