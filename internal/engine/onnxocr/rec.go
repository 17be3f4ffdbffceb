package onnxocr

import (
	"image"
	"math"
	"strings"

	"github.com/disintegration/imaging"
)

// prepareRec resizes a line crop to the recognizer height, pads the width
// to a multiple of 8 and normalizes to [-1, 1]. It returns the tensor data,
// its width and the width covered by the crop.
func prepareRec(img image.Image, height, maxWidth int) ([]float32, int, int) {
	b := img.Bounds()
	cw := max(1, int(math.Round(float64(b.Dx())*float64(height)/float64(max(1, b.Dy())))))
	cw = min(cw, maxWidth)
	tw := min(maxWidth, (cw+7)/8*8)
	resized := imaging.Resize(img, cw, height, imaging.Linear)

	plane := tw * height
	data := make([]float32, 3*plane)
	for y := range height {
		for x := range tw {
			p := y*tw + x
			if x >= cw {
				continue // zero is mid-gray after normalization
			}
			i := y*resized.Stride + x*4
			for c := range 3 {
				data[c*plane+p] = (float32(resized.Pix[i+c])/255 - 0.5) / 0.5
			}
		}
	}
	return data, tw, cw
}

// word is a space-delimited run of decoded characters with the step
// range it spans.
type word struct {
	text       string
	first      int
	last       int
	confidence float64
}

// splitWords cuts a decoded line at spaces. A word's confidence is the
// mean probability of its characters.
func splitWords(line decodedLine, cs *Charset) []word {
	var (
		words []word
		cur   strings.Builder
		w     word
		sum   float64
		n     int
	)
	flush := func() {
		if n == 0 {
			return
		}
		w.text = cleanText(cur.String())
		w.confidence = sum / float64(n)
		if w.text != "" {
			words = append(words, w)
		}
		cur.Reset()
		sum, n = 0, 0
	}
	for _, ch := range line.chars {
		s := cs.Lookup(ch.class)
		if strings.TrimSpace(s) == "" {
			flush()
			continue
		}
		if n == 0 {
			w = word{first: ch.step}
		}
		w.last = ch.step
		cur.WriteString(s)
		sum += ch.prob
		n++
	}
	flush()
	return words
}

// stepSpan converts a word's step range to pixel offsets within a crop
// cropWidth pixels wide whose resized content covers contentWidth of the
// tensorWidth-wide input.
func stepSpan(wd word, steps, tensorWidth, contentWidth, cropWidth int) (float64, float64) {
	toCrop := float64(tensorWidth) / float64(max(1, steps)) * float64(cropWidth) / float64(max(1, contentWidth))
	x0 := float64(wd.first) * toCrop
	x1 := float64(wd.last+1) * toCrop
	return math.Min(x0, float64(cropWidth)), math.Min(x1, float64(cropWidth))
}
