package normalize

import (
	"image"
	"math"

	"github.com/disintegration/imaging"

	"github.com/MeKo-Tech/invoxtract/internal/utils"
)

// OrientationScores holds the text-orientation score of each quarter turn.
type OrientationScores struct {
	Scores [4]float64
	Best   int
}

// ScoreOrientations rates the page under 0, 90, 180 and 270 degree
// counter-clockwise rotations. The score is the ratio of the variance of
// row ink fractions to that of column ink fractions, which is large when
// text lines run horizontally, nudged by the ascender/descender balance to
// separate upright from upside-down text.
func ScoreOrientations(img image.Image) OrientationScores {
	thumb := utils.ToGray(imaging.Fit(img, 512, 512, imaging.Box))
	t := Otsu(thumb)

	var res OrientationScores
	for n := range 4 {
		rotated := utils.ToGray(utils.RotateQuarterTurns(thumb, n))
		w, h := rotated.Bounds().Dx(), rotated.Bounds().Dy()
		mask := InkMask(rotated, t)
		ratio := projectionRatio(mask, w, h)
		asym := clampFloat(lineAsymmetry(mask, w, h), -0.5, 0.5)
		res.Scores[n] = ratio * (1 + 0.25*asym)
	}
	for n := 1; n < 4; n++ {
		if res.Scores[n] > res.Scores[res.Best] {
			res.Best = n
		}
	}
	return res
}

// projectionRatio returns var(row ink fraction) / var(column ink fraction).
func projectionRatio(mask []bool, w, h int) float64 {
	if w == 0 || h == 0 {
		return 0
	}
	rows := make([]float64, h)
	cols := make([]float64, w)
	ink := 0
	for y := range h {
		for x := range w {
			if mask[y*w+x] {
				rows[y]++
				cols[x]++
				ink++
			}
		}
	}
	frac := float64(ink) / float64(w*h)
	if frac < 0.0005 || frac > 0.6 {
		return 0
	}
	for y := range rows {
		rows[y] /= float64(w)
	}
	for x := range cols {
		cols[x] /= float64(h)
	}
	vc := variance(cols)
	if vc <= 1e-12 {
		return 0
	}
	return variance(rows) / vc
}

// lineAsymmetry compares ink above the dense core of each text line with
// ink below it. Upright Latin script has more ascenders than descenders.
func lineAsymmetry(mask []bool, w, h int) float64 {
	profile := make([]int, h)
	for y := range h {
		for x := range w {
			if mask[y*w+x] {
				profile[y]++
			}
		}
	}

	var above, below float64
	y := 0
	for y < h {
		if profile[y] == 0 {
			y++
			continue
		}
		top := y
		peak := 0
		for y < h && profile[y] > 0 {
			peak = max(peak, profile[y])
			y++
		}
		bottom := y - 1
		if bottom-top < 3 {
			continue
		}
		core := float64(peak) * 0.5
		coreTop, coreBottom := -1, -1
		for i := top; i <= bottom; i++ {
			if float64(profile[i]) >= core {
				if coreTop < 0 {
					coreTop = i
				}
				coreBottom = i
			}
		}
		for i := top; i < coreTop; i++ {
			above += float64(profile[i])
		}
		for i := coreBottom + 1; i <= bottom; i++ {
			below += float64(profile[i])
		}
	}
	if above+below == 0 {
		return 0
	}
	return (above - below) / (above + below)
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

// angleDelta reports whether |a| exceeds threshold.
func angleDelta(a, threshold float64) bool { return math.Abs(a) > threshold }
