package normalize

import (
	"image"
	"math"
	"slices"

	"github.com/disintegration/imaging"

	"github.com/MeKo-Tech/invoxtract/internal/utils"
)

// analysisWidth bounds the working resolution of the angle estimators.
const analysisWidth = 1200

// analysisGray downsizes img to at most analysisWidth pixels across.
func analysisGray(img image.Image) *image.Gray {
	if img.Bounds().Dx() > analysisWidth {
		img = imaging.Resize(img, analysisWidth, 0, imaging.Box)
	}
	return utils.ToGray(img)
}

// prepareMask downsizes g for analysis and returns its Otsu ink mask.
func prepareMask(g *image.Gray) ([]bool, int, int) {
	wg := analysisGray(g)
	w, h := wg.Bounds().Dx(), wg.Bounds().Dy()
	return InkMask(wg, Otsu(wg)), w, h
}

// EstimateSkew returns the median angle, in degrees, of line segments
// formed by smearing ink horizontally. Positive angles descend to the
// right. The second value is the number of segments measured.
func EstimateSkew(img image.Image, maxAngle float64) (float64, int) {
	mask, w, h := prepareMask(utils.ToGray(img))
	if w < 8 || h < 8 {
		return 0, 0
	}
	rx := max(3, w/100)
	smeared := Dilate(mask, w, h, rx, 0)

	minWidth := max(20, w/20)
	var angles []float64
	for _, b := range connectedBlobs(smeared, w, h, 20) {
		if b.width() < minWidth || b.elongation() < 4 {
			continue
		}
		a := b.orientation()
		if math.Abs(a) > maxAngle {
			continue
		}
		angles = append(angles, a)
	}
	if len(angles) == 0 {
		return 0, 0
	}
	return median(angles), len(angles)
}

// EstimateResidualAngle returns the area-weighted mean orientation of
// morphologically closed text blobs, for small corrections after deskew.
func EstimateResidualAngle(img image.Image, maxAngle float64) (float64, int) {
	mask, w, h := prepareMask(utils.ToGray(img))
	if w < 8 || h < 8 {
		return 0, 0
	}
	closed := Close(mask, w, h, max(2, w/300), 1)

	var sum, weight float64
	n := 0
	for _, b := range connectedBlobs(closed, w, h, 15) {
		if b.width() < 15 || b.elongation() < 3 {
			continue
		}
		a := b.orientation()
		if math.Abs(a) > maxAngle {
			continue
		}
		sum += a * float64(b.area)
		weight += float64(b.area)
		n++
	}
	if weight == 0 {
		return 0, 0
	}
	return sum / weight, n
}

func median(values []float64) float64 {
	s := slices.Clone(values)
	slices.Sort(s)
	mid := len(s) / 2
	if len(s)%2 == 1 {
		return s[mid]
	}
	return (s[mid-1] + s[mid]) / 2
}
