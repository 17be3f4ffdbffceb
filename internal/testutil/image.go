package testutil

import (
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// TextLine is one string drawn at a fixed position on a synthetic page.
// X and Y are in unscaled glyph units; Y is the baseline.
type TextLine struct {
	Text string
	X, Y int
}

// PageConfig describes a synthetic document page.
type PageConfig struct {
	Width, Height int // unscaled size
	Lines         []TextLine
	// Scale enlarges the rendered page with nearest-neighbour resampling
	// so that glyph strokes stay crisp. Values below 1 mean 1.
	Scale      int
	Background color.Color
	Foreground color.Color
	// Rotation is applied last, counter-clockwise in degrees.
	Rotation float64
}

// RenderPage draws the configured lines with basicfont.Face7x13.
func RenderPage(cfg PageConfig) *image.NRGBA {
	if cfg.Background == nil {
		cfg.Background = color.White
	}
	if cfg.Foreground == nil {
		cfg.Foreground = color.Black
	}
	img := image.NewRGBA(image.Rect(0, 0, cfg.Width, cfg.Height))
	draw.Draw(img, img.Bounds(), &image.Uniform{cfg.Background}, image.Point{}, draw.Src)

	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{cfg.Foreground},
		Face: basicfont.Face7x13,
	}
	for _, l := range cfg.Lines {
		drawer.Dot = fixed.P(l.X, l.Y)
		drawer.DrawString(l.Text)
	}

	out := imaging.Clone(img)
	if cfg.Scale > 1 {
		out = imaging.Resize(out, cfg.Width*cfg.Scale, cfg.Height*cfg.Scale, imaging.NearestNeighbor)
	}
	if cfg.Rotation != 0 {
		out = imaging.Rotate(out, cfg.Rotation, cfg.Background)
	}
	return out
}

// InvoiceLines returns the text of a small sales invoice laid out on a
// 400x300 page.
func InvoiceLines() []TextLine {
	return []TextLine{
		{"ACME SUPPLIES S.A.", 20, 24},
		{"RUC: 1791354400001", 20, 42},
		{"Factura No. 001-002-000123456", 20, 60},
		{"Fecha: 15/03/2024", 20, 78},
		{"Descripcion        Cant   P.Unit   Total", 20, 110},
		{"Widget             2      $25.00   $50.00", 20, 128},
		{"Gadget             1      $50.00   $50.00", 20, 146},
		{"Subtotal                           $100.00", 20, 190},
		{"IVA 12%                            $12.00", 20, 208},
		{"Total                              $112.00", 20, 226},
	}
}

// InvoicePage renders InvoiceLines at the given scale and rotation.
func InvoicePage(scale int, rotation float64) *image.NRGBA {
	return RenderPage(PageConfig{
		Width:    400,
		Height:   300,
		Lines:    InvoiceLines(),
		Scale:    scale,
		Rotation: rotation,
	})
}

// ParagraphPage renders dense horizontal text, suitable for orientation
// and skew estimation.
func ParagraphPage(scale int, rotation float64) *image.NRGBA {
	sentences := []string{
		"The quick brown fox jumps over the lazy dog",
		"Pack my box with five dozen liquor jugs today",
		"Sphinx of black quartz judge my vow quickly",
		"How vexingly quick daft zebras jump at night",
		"Bright vixens jump; dozy fowl quack loudly",
	}
	var lines []TextLine
	for i := range 14 {
		lines = append(lines, TextLine{Text: sentences[i%len(sentences)], X: 16, Y: 28 + i*18})
	}
	return RenderPage(PageConfig{
		Width:    360,
		Height:   290,
		Lines:    lines,
		Scale:    scale,
		Rotation: rotation,
	})
}

// HorizontalInkRatio returns var(row ink)/var(column ink) of a page, which
// is large for horizontal text lines and small for vertical ones.
func HorizontalInkRatio(img image.Image) float64 {
	g := imaging.Grayscale(img)
	b := g.Bounds()
	rows := make([]float64, b.Dy())
	cols := make([]float64, b.Dx())
	for y := range b.Dy() {
		for x := range b.Dx() {
			if g.Pix[y*g.Stride+x*4] < 128 {
				rows[y]++
				cols[x]++
			}
		}
	}
	return variance(rows) / max(variance(cols), 1e-9)
}

func variance(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	var mean float64
	for _, x := range v {
		mean += x
	}
	mean /= float64(len(v))
	var s float64
	for _, x := range v {
		s += (x - mean) * (x - mean)
	}
	return s / float64(len(v))
}

// SaveImage saves an image as PNG to the specified path.
func SaveImage(t *testing.T, img image.Image, path string) {
	t.Helper()

	dir := filepath.Dir(path)
	require.NoError(t, EnsureDir(dir), "Failed to create directory %s", dir)

	file, err := os.Create(path) //nolint:gosec // G304: Test file creation with controlled path
	require.NoError(t, err, "Failed to create file %s", path)
	defer func() {
		require.NoError(t, file.Close())
	}()

	require.NoError(t, png.Encode(file, img), "Failed to encode PNG image")
}

// CreateTestImage creates a uniformly coloured image.
func CreateTestImage(width, height int, c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{c}, image.Point{}, draw.Src)
	return img
}

// SameImage reports whether two images have equal bounds and pixels.
func SameImage(a, b image.Image) bool {
	if a.Bounds() != b.Bounds() {
		return false
	}
	bounds := a.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r1, g1, b1, a1 := a.At(x, y).RGBA()
			r2, g2, b2, a2 := b.At(x, y).RGBA()
			if r1 != r2 || g1 != g2 || b1 != b2 || a1 != a2 {
				return false
			}
		}
	}
	return true
}
