package normalize

// Binary morphology on row-major masks. Kernels are rectangles of
// (2*rx+1) x (2*ry+1) applied separably.

// Dilate grows true regions by rx horizontally and ry vertically.
func Dilate(mask []bool, w, h, rx, ry int) []bool {
	return vertical(horizontal(mask, w, h, rx, true), w, h, ry, true)
}

// Erode shrinks true regions by rx horizontally and ry vertically.
func Erode(mask []bool, w, h, rx, ry int) []bool {
	return vertical(horizontal(mask, w, h, rx, false), w, h, ry, false)
}

// Close fills gaps narrower than the kernel (dilate then erode).
func Close(mask []bool, w, h, rx, ry int) []bool {
	return Erode(Dilate(mask, w, h, rx, ry), w, h, rx, ry)
}

// horizontal runs a sliding-window any (dilate) or all (erode) over rows.
func horizontal(mask []bool, w, h, r int, dilate bool) []bool {
	if r <= 0 {
		return append([]bool(nil), mask...)
	}
	out := make([]bool, len(mask))
	for y := range h {
		row := mask[y*w : (y+1)*w]
		count := 0
		// window [x-r, x+r]; count true pixels inside.
		for x := 0; x <= min(r, w-1); x++ {
			if row[x] {
				count++
			}
		}
		for x := range w {
			size := min(w-1, x+r) - max(0, x-r) + 1
			if dilate {
				out[y*w+x] = count > 0
			} else {
				out[y*w+x] = count == size
			}
			if add := x + r + 1; add < w && row[add] {
				count++
			}
			if drop := x - r; drop >= 0 && row[drop] {
				count--
			}
		}
	}
	return out
}

func vertical(mask []bool, w, h, r int, dilate bool) []bool {
	if r <= 0 {
		return mask
	}
	out := make([]bool, len(mask))
	for x := range w {
		count := 0
		for y := 0; y <= min(r, h-1); y++ {
			if mask[y*w+x] {
				count++
			}
		}
		for y := range h {
			size := min(h-1, y+r) - max(0, y-r) + 1
			if dilate {
				out[y*w+x] = count > 0
			} else {
				out[y*w+x] = count == size
			}
			if add := y + r + 1; add < h && mask[add*w+x] {
				count++
			}
			if drop := y - r; drop >= 0 && mask[drop*w+x] {
				count--
			}
		}
	}
	return out
}
