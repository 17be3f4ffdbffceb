package onnxocr

import (
	"image"
	"math"

	"github.com/disintegration/imaging"
)

var (
	imagenetMean = [3]float32{0.485, 0.456, 0.406}
	imagenetStd  = [3]float32{0.229, 0.224, 0.225}
)

// dbInput is a detector-ready tensor plus the scale back to the page.
type dbInput struct {
	data   []float32
	w, h   int
	sx, sy float64
}

// prepareDB resizes img so both sides are multiples of 32 and the longer
// side is at most maxSide, then normalizes with ImageNet statistics.
func prepareDB(img image.Image, maxSide int) dbInput {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	ratio := 1.0
	if longest := max(w, h); longest > maxSide {
		ratio = float64(maxSide) / float64(longest)
	}
	rw := max(32, int(math.Round(float64(w)*ratio/32))*32)
	rh := max(32, int(math.Round(float64(h)*ratio/32))*32)
	resized := imaging.Resize(img, rw, rh, imaging.Linear)

	plane := rw * rh
	data := make([]float32, 3*plane)
	for y := range rh {
		for x := range rw {
			i := y*resized.Stride + x*4
			p := y*rw + x
			for c := range 3 {
				v := float32(resized.Pix[i+c]) / 255
				data[c*plane+p] = (v - imagenetMean[c]) / imagenetStd[c]
			}
		}
	}
	return dbInput{data: data, w: rw, h: rh, sx: float64(w) / float64(rw), sy: float64(h) / float64(rh)}
}

// textRegion is one detected text line in probability-map coordinates.
type textRegion struct {
	minX, minY, maxX, maxY int
	score                  float64
}

// postProcessDB thresholds the probability map, labels 4-connected
// components and keeps those whose mean probability reaches boxThresh.
// Boxes are expanded by unclipRatio the way DB shrinks them in training.
func postProcessDB(prob []float32, w, h int, thresh, boxThresh, unclipRatio float64) []textRegion {
	if len(prob) != w*h || w <= 0 || h <= 0 {
		return nil
	}
	visited := make([]bool, w*h)
	queue := make([]int, 0, 256)
	var regions []textRegion

	for start := range prob {
		if visited[start] || float64(prob[start]) < thresh {
			continue
		}
		r := textRegion{minX: w, minY: h, maxX: -1, maxY: -1}
		var sum float64
		n := 0
		queue = append(queue[:0], start)
		visited[start] = true
		for len(queue) > 0 {
			idx := queue[len(queue)-1]
			queue = queue[:len(queue)-1]
			x, y := idx%w, idx/w
			sum += float64(prob[idx])
			n++
			r.minX, r.maxX = min(r.minX, x), max(r.maxX, x)
			r.minY, r.maxY = min(r.minY, y), max(r.maxY, y)
			for _, nb := range [4][2]int{{x - 1, y}, {x + 1, y}, {x, y - 1}, {x, y + 1}} {
				nx, ny := nb[0], nb[1]
				if nx < 0 || ny < 0 || nx >= w || ny >= h {
					continue
				}
				j := ny*w + nx
				if !visited[j] && float64(prob[j]) >= thresh {
					visited[j] = true
					queue = append(queue, j)
				}
			}
		}
		if n < 4 {
			continue
		}
		r.score = sum / float64(n)
		if r.score < boxThresh {
			continue
		}
		regions = append(regions, unclip(r, unclipRatio, w, h))
	}
	return regions
}

// unclip grows a box by area*ratio/perimeter on every side.
func unclip(r textRegion, ratio float64, w, h int) textRegion {
	bw := float64(r.maxX - r.minX + 1)
	bh := float64(r.maxY - r.minY + 1)
	d := int(math.Round(bw * bh * ratio / (2 * (bw + bh))))
	r.minX = max(0, r.minX-d)
	r.minY = max(0, r.minY-d)
	r.maxX = min(w-1, r.maxX+d)
	r.maxY = min(h-1, r.maxY+d)
	return r
}

// pageRect maps a region back to page pixels.
func (r textRegion) pageRect(in dbInput, bounds image.Rectangle) image.Rectangle {
	rect := image.Rect(
		int(math.Floor(float64(r.minX)*in.sx)),
		int(math.Floor(float64(r.minY)*in.sy)),
		int(math.Ceil(float64(r.maxX+1)*in.sx)),
		int(math.Ceil(float64(r.maxY+1)*in.sy)),
	).Add(bounds.Min)
	return rect.Intersect(bounds)
}
