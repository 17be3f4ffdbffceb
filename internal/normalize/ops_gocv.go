//go:build gocv

package normalize

import (
	"image"
	"math"

	"gocv.io/x/gocv"

	"github.com/MeKo-Tech/invoxtract/internal/utils"
)

// newDefaultOps returns the OpenCV-backed implementation when the build tag is enabled.
func newDefaultOps() imageOps { return gocvOps{} }

type gocvOps struct{}

func (gocvOps) name() string { return "opencv" }

// toMat copies img into a single-channel 8-bit Mat.
func toMat(img image.Image) (gocv.Mat, error) {
	g := utils.ToGray(img)
	b := g.Bounds()
	return gocv.NewMatFromBytes(b.Dy(), b.Dx(), gocv.MatTypeCV8UC1, g.Pix)
}

// fromMat copies a single-channel Mat into a zero-origin gray image.
func fromMat(m gocv.Mat) *image.Gray {
	out := image.NewGray(image.Rect(0, 0, m.Cols(), m.Rows()))
	copy(out.Pix, m.ToBytes())
	return out
}

// apply runs op from a copy of img into a fresh Mat. On a conversion
// failure it returns the gray input so callers always get a page back.
func apply(img image.Image, op func(src gocv.Mat, dst *gocv.Mat)) *image.Gray {
	src, err := toMat(img)
	if err != nil {
		return utils.ToGray(img)
	}
	defer src.Close()
	dst := gocv.NewMat()
	defer dst.Close()
	op(src, &dst)
	if dst.Empty() {
		return utils.ToGray(img)
	}
	return fromMat(dst)
}

func (gocvOps) adaptiveThreshold(img image.Image, window, bias int) *image.Gray {
	window = max(window, 3)
	if window%2 == 0 {
		window++
	}
	return apply(img, func(src gocv.Mat, dst *gocv.Mat) {
		gocv.AdaptiveThreshold(src, dst, 255, gocv.AdaptiveThresholdMean, gocv.ThresholdBinary, window, float32(bias))
	})
}

func (gocvOps) localContrast(img image.Image, tiles int, clip float64) *image.Gray {
	if tiles < 1 {
		tiles = 8
	}
	clahe := gocv.NewCLAHEWithParams(clip, image.Pt(tiles, tiles))
	defer clahe.Close()
	return apply(img, func(src gocv.Mat, dst *gocv.Mat) {
		clahe.Apply(src, dst)
	})
}

func (gocvOps) median(img image.Image) *image.Gray {
	return apply(img, func(src gocv.Mat, dst *gocv.Mat) {
		gocv.MedianBlur(src, dst, 3)
	})
}

func (gocvOps) equalize(img image.Image) *image.Gray {
	return apply(img, func(src gocv.Mat, dst *gocv.Mat) {
		gocv.EqualizeHist(src, dst)
	})
}

// inkMat returns the downsized page as an Otsu mask with ink at 255.
func inkMat(img image.Image) (gocv.Mat, error) {
	src, err := toMat(analysisGray(img))
	if err != nil {
		return gocv.NewMat(), err
	}
	defer src.Close()
	ink := gocv.NewMat()
	gocv.Threshold(src, &ink, 0, 255, gocv.ThresholdBinaryInv|gocv.ThresholdOtsu)
	return ink, nil
}

// skew smears ink along text lines, finds line segments with the
// probabilistic Hough transform and returns their median angle.
func (gocvOps) skew(img image.Image, maxAngle float64) (float64, int) {
	ink, err := inkMat(img)
	if err != nil {
		return 0, 0
	}
	defer ink.Close()
	w, h := ink.Cols(), ink.Rows()
	if w < 8 || h < 8 {
		return 0, 0
	}

	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(2*max(3, w/100)+1, 1))
	defer kernel.Close()
	smeared := gocv.NewMat()
	defer smeared.Close()
	gocv.MorphologyEx(ink, &smeared, gocv.MorphClose, kernel)

	lines := gocv.NewMat()
	defer lines.Close()
	minWidth := float32(max(20, w/20))
	gocv.HoughLinesPWithParams(smeared, &lines, 1, math.Pi/720, 80, minWidth, float32(max(3, w/100)))

	var angles []float64
	for i := range lines.Rows() {
		v := lines.GetVeciAt(i, 0)
		x1, y1, x2, y2 := float64(v[0]), float64(v[1]), float64(v[2]), float64(v[3])
		if x2 < x1 {
			x1, y1, x2, y2 = x2, y2, x1, y1
		}
		a := math.Atan2(y2-y1, x2-x1) * 180 / math.Pi
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

// residualAngle closes text into blobs, takes each contour's central
// moments and returns the area-weighted principal-axis angle.
func (gocvOps) residualAngle(img image.Image, maxAngle float64) (float64, int) {
	ink, err := inkMat(img)
	if err != nil {
		return 0, 0
	}
	defer ink.Close()
	w, h := ink.Cols(), ink.Rows()
	if w < 8 || h < 8 {
		return 0, 0
	}

	r := max(2, w/300)
	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(2*r+1, 3))
	defer kernel.Close()
	closed := gocv.NewMat()
	defer closed.Close()
	gocv.MorphologyEx(ink, &closed, gocv.MorphClose, kernel)

	contours := gocv.FindContours(closed, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	var sum, weight float64
	n := 0
	for i := range contours.Size() {
		rect := gocv.BoundingRect(contours.At(i))
		if rect.Dx() < 15 {
			continue
		}
		roi := closed.Region(rect)
		m := gocv.Moments(roi, true)
		roi.Close()
		area := m["m00"]
		if area < 15 {
			continue
		}
		mu20, mu02, mu11 := m["mu20"]/area, m["mu02"]/area, m["mu11"]/area
		common := math.Sqrt((mu20-mu02)*(mu20-mu02) + 4*mu11*mu11)
		l1, l2 := (mu20+mu02+common)/2, (mu20+mu02-common)/2
		if l2 > 1e-9 && math.Sqrt(l1/l2) < 3 {
			continue
		}
		a := 0.5 * math.Atan2(2*mu11, mu20-mu02) * 180 / math.Pi
		if math.Abs(a) > maxAngle {
			continue
		}
		sum += a * area
		weight += area
		n++
	}
	if weight == 0 {
		return 0, 0
	}
	return sum / weight, n
}
