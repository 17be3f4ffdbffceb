package normalize

import "image"

// imageOps is the image-analysis backend behind the normalization passes
// and the photometric variants. Builds with the gocv tag use OpenCV;
// other builds use the pure Go implementations in this package.
type imageOps interface {
	name() string
	adaptiveThreshold(img image.Image, window, bias int) *image.Gray
	localContrast(img image.Image, tiles int, clip float64) *image.Gray
	median(img image.Image) *image.Gray
	equalize(img image.Image) *image.Gray
	// skew returns the median line-segment angle and the segment count.
	skew(img image.Image, maxAngle float64) (float64, int)
	// residualAngle returns the area-weighted blob orientation and the
	// blob count.
	residualAngle(img image.Image, maxAngle float64) (float64, int)
}

// backend is selected at build time.
var backend = newDefaultOps()

// Backend names the image-analysis backend compiled in: "opencv" or "go".
func Backend() string { return backend.name() }

type pureOps struct{}

func (pureOps) name() string { return "go" }

func (pureOps) adaptiveThreshold(img image.Image, window, bias int) *image.Gray {
	return AdaptiveThreshold(img, window, bias)
}

func (pureOps) localContrast(img image.Image, tiles int, clip float64) *image.Gray {
	return LocalContrast(img, tiles, clip)
}

func (pureOps) median(img image.Image) *image.Gray { return Median3(img) }

func (pureOps) equalize(img image.Image) *image.Gray { return EqualizeHistogram(img) }

func (pureOps) skew(img image.Image, maxAngle float64) (float64, int) {
	return EstimateSkew(img, maxAngle)
}

func (pureOps) residualAngle(img image.Image, maxAngle float64) (float64, int) {
	return EstimateResidualAngle(img, maxAngle)
}
