package normalize

import (
	"context"
	"image"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/invoxtract/internal/invoice"
	"github.com/MeKo-Tech/invoxtract/internal/testutil"
)

func TestNormalize_RejectsNilImage(t *testing.T) {
	_, err := New(DefaultConfig()).Normalize(context.Background(), nil)
	require.Error(t, err)
	code, ok := invoice.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, invoice.ErrorInvalidInput, code)
}

func TestNormalize_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(DefaultConfig()).Normalize(ctx, testutil.InvoicePage(1, 0))
	require.ErrorIs(t, err, context.Canceled)
}

func TestNormalize_VariantsShareBounds(t *testing.T) {
	res, err := New(DefaultConfig()).Normalize(context.Background(), testutil.ParagraphPage(3, 0))
	require.NoError(t, err)

	require.Len(t, res.Variants, len(AllVariants))
	for _, v := range AllVariants {
		img := res.Variant(v)
		require.NotNil(t, img, "variant %s", v)
		assert.Equal(t, res.Bounds(), img.Bounds(), "variant %s", v)
	}
	assert.Contains(t, res.Applied, "upscale")
	assert.GreaterOrEqual(t, min(res.Bounds().Dx(), res.Bounds().Dy()), 1000)
	assert.Equal(t, 0, res.Transform.QuarterTurns)
}

func TestNormalize_SmallPageUpscaleIsCapped(t *testing.T) {
	res, err := New(DefaultConfig()).Normalize(context.Background(), testutil.InvoicePage(1, 0))
	require.NoError(t, err)
	assert.InDelta(t, 3.0, res.Transform.Scale, 1e-9)
	assert.Equal(t, 1200, res.Bounds().Dx())
}

func TestEstimateSkew_MeasuresRotation(t *testing.T) {
	upright, n := EstimateSkew(testutil.ParagraphPage(3, 0), 10)
	require.Positive(t, n)
	assert.InDelta(t, 0, upright, 0.5)

	tilted, n := EstimateSkew(testutil.ParagraphPage(3, 3), 10)
	require.Positive(t, n)
	assert.InDelta(t, -3, tilted, 0.75)
}

func TestNormalize_Deskews(t *testing.T) {
	res, err := New(DefaultConfig()).Normalize(context.Background(), testutil.ParagraphPage(3, 3))
	require.NoError(t, err)

	assert.Contains(t, res.Applied, "deskew")
	assert.InDelta(t, -3, res.Transform.SkewDegrees, 1.0)

	residual, _ := EstimateSkew(res.Base, 10)
	assert.Less(t, math.Abs(residual), 1.0)
}

func TestNormalize_CorrectsRotation(t *testing.T) {
	cases := []struct {
		name     string
		rotation float64
		turns    int
	}{
		// The page is rotated counter-clockwise; turns undo it counter-clockwise.
		{"rotated 90 degrees", 90, 3},
		{"rotated -90 degrees", -90, 1},
		{"upside down", 180, 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			input := testutil.ParagraphPage(2, tc.rotation)
			res, err := New(DefaultConfig()).Normalize(context.Background(), input)
			require.NoError(t, err)

			assert.Contains(t, res.Applied, "orientation")
			assert.Equal(t, tc.turns, res.Transform.QuarterTurns)
			require.NotNil(t, res.Orientation)
			assert.Greater(t, res.Orientation.Scores[tc.turns], res.Orientation.Scores[0])
			assert.Greater(t, testutil.HorizontalInkRatio(res.Base), 1.0)
		})
	}
}

func TestScoreOrientations_UprightPrefersIdentity(t *testing.T) {
	scores := ScoreOrientations(testutil.ParagraphPage(2, 0))
	assert.Greater(t, scores.Scores[0], scores.Scores[1])
	assert.Greater(t, scores.Scores[0], scores.Scores[3])
}

func TestNormalize_DisabledOrientation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DetectOrientation = false
	res, err := New(cfg).Normalize(context.Background(), testutil.ParagraphPage(2, 90))
	require.NoError(t, err)
	assert.Nil(t, res.Orientation)
	assert.Equal(t, 0, res.Transform.QuarterTurns)
}

func TestRunPass_RecoversPanic(t *testing.T) {
	tr := newTransform(10, 10)
	img := image.NewGray(image.Rect(0, 0, 10, 10))
	p := pass{name: "boom", run: func(image.Image, *Transform) (image.Image, bool) {
		panic("kaboom")
	}}

	out, changed, err := runPass(p, img, &tr)
	require.Error(t, err)
	assert.Nil(t, out)
	assert.False(t, changed)
	assert.True(t, tr.Identity())
	code, _ := invoice.CodeOf(err)
	assert.Equal(t, invoice.ErrorTaskPanic, code)
}

func TestTransform_MapsScaleAndQuarterTurn(t *testing.T) {
	tr := newTransform(100, 50)
	tr.addScale(2, 100, 50, 200, 100)
	tr.addRotation(90, 200, 100, 100, 200)

	x, y := tr.MapPoint(10, 10)
	assert.InDelta(t, 20, x, 1e-9)
	assert.InDelta(t, 180, y, 1e-9)

	box := tr.MapBox(invoice.BBox{XMin: 10, YMin: 10, XMax: 30, YMax: 20}, image.Rect(0, 0, 100, 200))
	assert.InDelta(t, 20, box.XMin, 1e-9)
	assert.InDelta(t, 40, box.XMax, 1e-9)
	assert.InDelta(t, 140, box.YMin, 1e-9)
	assert.InDelta(t, 180, box.YMax, 1e-9)
	assert.False(t, tr.Identity())
}

func TestEnhanceRegion(t *testing.T) {
	crop := testutil.InvoicePage(1, 0).SubImage(image.Rect(20, 30, 180, 46))
	for _, class := range []string{invoice.ClassIdentifier, invoice.ClassDate, invoice.ClassDescription} {
		out := EnhanceRegion(crop, class)
		require.NotNil(t, out)
		assert.Equal(t, 160, out.Bounds().Dx(), class)
		assert.Equal(t, 16, out.Bounds().Dy(), class)
	}
}

type panickyContrast struct{ pureOps }

func (panickyContrast) localContrast(image.Image, int, float64) *image.Gray {
	panic("contrast failed")
}

type emptyMedian struct{ pureOps }

func (emptyMedian) median(image.Image) *image.Gray { return nil }

func TestNormalize_FailedVariantFallsBackToGray(t *testing.T) {
	n := New(DefaultConfig())
	n.ops = panickyContrast{}

	res, err := n.Normalize(context.Background(), testutil.ParagraphPage(3, 0))
	require.NoError(t, err)

	assert.Same(t, res.Gray, res.Variant(VariantContrast))
	assert.Contains(t, res.Applied, "contrast:skipped")
	assert.NotSame(t, res.Gray, res.Variant(VariantBinarized))
	require.Len(t, res.Variants, len(AllVariants))
}

func TestNormalize_EmptyVariantFallsBackToGray(t *testing.T) {
	n := New(DefaultConfig())
	n.ops = emptyMedian{}

	res, err := n.Normalize(context.Background(), testutil.ParagraphPage(3, 0))
	require.NoError(t, err)

	assert.Same(t, res.Gray, res.Variant(VariantDenoised))
	assert.Contains(t, res.Applied, "denoised:skipped")
}

func TestBuildVariant_RecoversPanic(t *testing.T) {
	img, err := buildVariant(VariantBinarized, func() *image.Gray { panic("boom") })
	require.Error(t, err)
	assert.Nil(t, img)
	code, _ := invoice.CodeOf(err)
	assert.Equal(t, invoice.ErrorTaskPanic, code)
}
