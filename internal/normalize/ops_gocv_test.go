//go:build gocv

package normalize

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/invoxtract/internal/testutil"
	"github.com/MeKo-Tech/invoxtract/internal/utils"
)

func TestBackend_OpenCV(t *testing.T) {
	assert.Equal(t, "opencv", Backend())
	assert.IsType(t, gocvOps{}, New(DefaultConfig()).ops)
}

func TestGocvOps_PreserveBounds(t *testing.T) {
	page := utils.ToGray(testutil.ParagraphPage(2, 0))
	ops := gocvOps{}
	outputs := map[string]*image.Gray{
		"adaptive": ops.adaptiveThreshold(page, 25, 10),
		"contrast": ops.localContrast(page, 8, 2),
		"median":   ops.median(page),
		"equalize": ops.equalize(page),
	}
	for name, img := range outputs {
		require.NotNil(t, img, name)
		assert.Equal(t, page.Bounds(), img.Bounds(), name)
	}
}

func TestGocvOps_AdaptiveThresholdMarksInk(t *testing.T) {
	g := bimodal(60, 20, 30, 230)
	out := gocvOps{}.adaptiveThreshold(g, 15, 10)
	// the dark band's edge is darker than its neighbourhood mean
	assert.Equal(t, uint8(0), out.GrayAt(19, 10).Y)
	assert.Equal(t, uint8(255), out.GrayAt(59, 10).Y)
}

func TestGocvOps_SkewMatchesPureGo(t *testing.T) {
	page := testutil.ParagraphPage(3, 3)
	want, n := EstimateSkew(page, 10)
	require.Positive(t, n)

	got, n := gocvOps{}.skew(page, 10)
	require.Positive(t, n)
	assert.InDelta(t, want, got, 1.0)
	assert.InDelta(t, -3, got, 1.0)
}

func TestGocvOps_ResidualAngle(t *testing.T) {
	upright, _ := gocvOps{}.residualAngle(testutil.ParagraphPage(3, 0), 5)
	assert.InDelta(t, 0, upright, 0.5)

	tilted, n := gocvOps{}.residualAngle(testutil.ParagraphPage(3, 2), 5)
	require.Positive(t, n)
	assert.InDelta(t, -2, tilted, 1.0)
}
