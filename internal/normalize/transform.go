package normalize

import (
	"image"
	"math"

	"github.com/MeKo-Tech/invoxtract/internal/invoice"
)

type transformStep struct {
	scale      float64 // >0 for a resize step
	degrees    float64 // counter-clockwise rotation
	srcW, srcH int
	dstW, dstH int
}

// Transform records the geometric corrections applied to a page so that
// coordinates from the source image can be mapped into the normalized one.
type Transform struct {
	SourceW      int     `json:"source_w"`
	SourceH      int     `json:"source_h"`
	Scale        float64 `json:"scale"`
	QuarterTurns int     `json:"quarter_turns"`
	SkewDegrees  float64 `json:"skew_degrees"`

	steps []transformStep
}

func newTransform(w, h int) Transform {
	return Transform{SourceW: w, SourceH: h, Scale: 1}
}

func (t *Transform) addScale(factor float64, srcW, srcH, dstW, dstH int) {
	t.Scale *= factor
	t.steps = append(t.steps, transformStep{scale: factor, srcW: srcW, srcH: srcH, dstW: dstW, dstH: dstH})
}

func (t *Transform) addRotation(degrees float64, srcW, srcH, dstW, dstH int) {
	t.steps = append(t.steps, transformStep{degrees: degrees, srcW: srcW, srcH: srcH, dstW: dstW, dstH: dstH})
}

// MapPoint maps a source-image point into normalized coordinates.
func (t Transform) MapPoint(x, y float64) (float64, float64) {
	for _, s := range t.steps {
		if s.scale > 0 {
			x *= float64(s.dstW) / float64(s.srcW)
			y *= float64(s.dstH) / float64(s.srcH)
			continue
		}
		rad := s.degrees * math.Pi / 180
		sin, cos := math.Sin(rad), math.Cos(rad)
		dx := x - float64(s.srcW)/2
		dy := y - float64(s.srcH)/2
		x = dx*cos + dy*sin + float64(s.dstW)/2
		y = -dx*sin + dy*cos + float64(s.dstH)/2
	}
	return x, y
}

// MapBox maps a source-image box into normalized coordinates and clips it to bounds.
func (t Transform) MapBox(b invoice.BBox, bounds image.Rectangle) invoice.BBox {
	xs := [4]float64{}
	ys := [4]float64{}
	xs[0], ys[0] = t.MapPoint(b.XMin, b.YMin)
	xs[1], ys[1] = t.MapPoint(b.XMax, b.YMin)
	xs[2], ys[2] = t.MapPoint(b.XMin, b.YMax)
	xs[3], ys[3] = t.MapPoint(b.XMax, b.YMax)
	minX, maxX := xs[0], xs[0]
	minY, maxY := ys[0], ys[0]
	for i := 1; i < 4; i++ {
		minX, maxX = math.Min(minX, xs[i]), math.Max(maxX, xs[i])
		minY, maxY = math.Min(minY, ys[i]), math.Max(maxY, ys[i])
	}
	return invoice.NewBBox(minX, minY, maxX, maxY, bounds)
}

// Identity reports whether no geometric change was applied.
func (t Transform) Identity() bool { return len(t.steps) == 0 }
