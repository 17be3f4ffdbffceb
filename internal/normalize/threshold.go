package normalize

import (
	"image"
	"math"
	"slices"

	"github.com/MeKo-Tech/invoxtract/internal/utils"
)

// Otsu returns the threshold that maximizes between-class variance.
func Otsu(g *image.Gray) uint8 {
	hist := utils.Histogram(g)
	total := 0
	var sum float64
	for i, c := range hist {
		total += c
		sum += float64(i * c)
	}
	if total == 0 {
		return 127
	}

	var sumB, maxVar float64
	wB := 0
	best := 0
	for t := range 256 {
		wB += hist[t]
		if wB == 0 {
			continue
		}
		wF := total - wB
		if wF == 0 {
			break
		}
		sumB += float64(t * hist[t])
		mB := sumB / float64(wB)
		mF := (sum - sumB) / float64(wF)
		between := float64(wB) * float64(wF) * (mB - mF) * (mB - mF)
		if between > maxVar {
			maxVar = between
			best = t
		}
	}
	return uint8(best)
}

// Threshold maps pixels <= t to black (ink) and the rest to white.
func Threshold(src *image.Gray, t uint8) *image.Gray {
	g := utils.ToGray(src)
	out := image.NewGray(g.Bounds())
	for i, p := range g.Pix {
		if p <= t {
			out.Pix[i] = 0
		} else {
			out.Pix[i] = 255
		}
	}
	return out
}

// Binarize applies an Otsu threshold raised by strength (0..1).
// Higher strength keeps thinner and fainter strokes as ink.
func Binarize(img image.Image, strength float64) *image.Gray {
	g := utils.ToGray(img)
	t := int(Otsu(g)) + int(math.Round(clampUnit(strength)*48))
	return Threshold(g, uint8(min(t, 254)))
}

// AdaptiveThreshold binarizes against the local mean of a window, using an integral image.
// A pixel is ink when it is darker than mean-bias.
func AdaptiveThreshold(img image.Image, window, bias int) *image.Gray {
	g := utils.ToGray(img)
	if window < 3 {
		window = 3
	}
	if window%2 == 0 {
		window++
	}
	w, h := g.Bounds().Dx(), g.Bounds().Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	if w == 0 || h == 0 {
		return out
	}

	// integral has a zero row and column in front.
	iw := w + 1
	integral := make([]int64, iw*(h+1))
	for y := range h {
		var rowSum int64
		for x := range w {
			rowSum += int64(g.Pix[y*g.Stride+x])
			integral[(y+1)*iw+x+1] = integral[y*iw+x+1] + rowSum
		}
	}

	half := window / 2
	for y := range h {
		y0, y1 := max(0, y-half), min(h-1, y+half)
		for x := range w {
			x0, x1 := max(0, x-half), min(w-1, x+half)
			sum := integral[(y1+1)*iw+x1+1] - integral[y0*iw+x1+1] - integral[(y1+1)*iw+x0] + integral[y0*iw+x0]
			area := int64((x1 - x0 + 1) * (y1 - y0 + 1))
			mean := sum / area
			pix := int64(g.Pix[y*g.Stride+x])
			if pix < mean-int64(bias) {
				out.Pix[y*out.Stride+x] = 0
			} else {
				out.Pix[y*out.Stride+x] = 255
			}
		}
	}
	return out
}

// EqualizeHistogram spreads intensities over the full range using the global CDF.
func EqualizeHistogram(img image.Image) *image.Gray {
	g := utils.ToGray(img)
	out := image.NewGray(g.Bounds())
	lut := equalizationLUT(utils.Histogram(g), len(g.Pix))
	for i, p := range g.Pix {
		out.Pix[i] = lut[p]
	}
	return out
}

func equalizationLUT(hist [256]int, total int) [256]uint8 {
	var lut [256]uint8
	if total == 0 {
		for i := range lut {
			lut[i] = uint8(i)
		}
		return lut
	}
	cdfMin := 0
	for _, c := range hist {
		if c > 0 {
			cdfMin = c
			break
		}
	}
	cum := 0
	for i, c := range hist {
		cum += c
		if total == cdfMin {
			lut[i] = uint8(i)
			continue
		}
		v := math.Round(float64(cum-cdfMin) / float64(total-cdfMin) * 255)
		lut[i] = uint8(clampFloat(v, 0, 255))
	}
	return lut
}

// LocalContrast applies tiled, clip-limited histogram equalization with
// bilinear blending between neighbouring tiles.
func LocalContrast(img image.Image, tiles int, clipLimit float64) *image.Gray {
	g := utils.ToGray(img)
	w, h := g.Bounds().Dx(), g.Bounds().Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	if w == 0 || h == 0 {
		return out
	}
	if tiles < 1 {
		tiles = 8
	}
	tw := max(1, (w+tiles-1)/tiles)
	th := max(1, (h+tiles-1)/tiles)
	nx := (w + tw - 1) / tw
	ny := (h + th - 1) / th

	luts := make([][256]uint8, nx*ny)
	for ty := range ny {
		for tx := range nx {
			luts[ty*nx+tx] = tileLUT(g, tx*tw, ty*th, min(w, (tx+1)*tw), min(h, (ty+1)*th), clipLimit)
		}
	}

	for y := range h {
		fy := (float64(y)+0.5)/float64(th) - 0.5
		y0 := clampInt(int(math.Floor(fy)), 0, ny-1)
		y1 := clampInt(y0+1, 0, ny-1)
		ay := clampFloat(fy-float64(y0), 0, 1)
		for x := range w {
			fx := (float64(x)+0.5)/float64(tw) - 0.5
			x0 := clampInt(int(math.Floor(fx)), 0, nx-1)
			x1 := clampInt(x0+1, 0, nx-1)
			ax := clampFloat(fx-float64(x0), 0, 1)
			p := g.Pix[y*g.Stride+x]
			top := (1-ax)*float64(luts[y0*nx+x0][p]) + ax*float64(luts[y0*nx+x1][p])
			bottom := (1-ax)*float64(luts[y1*nx+x0][p]) + ax*float64(luts[y1*nx+x1][p])
			out.Pix[y*out.Stride+x] = uint8(clampFloat(math.Round((1-ay)*top+ay*bottom), 0, 255))
		}
	}
	return out
}

func tileLUT(g *image.Gray, x0, y0, x1, y1 int, clipLimit float64) [256]uint8 {
	var hist [256]int
	area := 0
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			hist[g.Pix[y*g.Stride+x]]++
			area++
		}
	}
	if clipLimit > 0 && area > 0 {
		limit := max(1, int(clipLimit*float64(area)/256))
		excess := 0
		for i, c := range hist {
			if c > limit {
				excess += c - limit
				hist[i] = limit
			}
		}
		share, rest := excess/256, excess%256
		for i := range hist {
			hist[i] += share
			if i < rest {
				hist[i]++
			}
		}
	}
	return equalizationLUT(hist, area)
}

// Median3 applies a 3x3 median filter.
func Median3(img image.Image) *image.Gray {
	g := utils.ToGray(img)
	w, h := g.Bounds().Dx(), g.Bounds().Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	window := make([]uint8, 0, 9)
	for y := range h {
		for x := range w {
			window = window[:0]
			for dy := -1; dy <= 1; dy++ {
				yy := clampInt(y+dy, 0, h-1)
				for dx := -1; dx <= 1; dx++ {
					xx := clampInt(x+dx, 0, w-1)
					window = append(window, g.Pix[yy*g.Stride+xx])
				}
			}
			slices.Sort(window)
			out.Pix[y*out.Stride+x] = window[len(window)/2]
		}
	}
	return out
}

// InkMask returns true where the gray pixel is ink (dark) under threshold t.
func InkMask(src *image.Gray, t uint8) []bool {
	g := utils.ToGray(src)
	w, h := g.Bounds().Dx(), g.Bounds().Dy()
	mask := make([]bool, w*h)
	for y := range h {
		for x := range w {
			mask[y*w+x] = g.Pix[y*g.Stride+x] <= t
		}
	}
	return mask
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func clampUnit(v float64) float64 { return clampFloat(v, 0, 1) }
