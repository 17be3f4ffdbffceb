package normalize

import "math"

// blob holds second-order statistics of one connected component.
type blob struct {
	area                   int
	minX, minY, maxX, maxY int
	sumX, sumY             float64
	sumXX, sumYY, sumXY    float64
}

func (b *blob) add(x, y int) {
	if b.area == 0 {
		b.minX, b.maxX, b.minY, b.maxY = x, x, y, y
	}
	b.area++
	fx, fy := float64(x), float64(y)
	b.sumX += fx
	b.sumY += fy
	b.sumXX += fx * fx
	b.sumYY += fy * fy
	b.sumXY += fx * fy
	b.minX = min(b.minX, x)
	b.maxX = max(b.maxX, x)
	b.minY = min(b.minY, y)
	b.maxY = max(b.maxY, y)
}

func (b *blob) width() int  { return b.maxX - b.minX + 1 }
func (b *blob) height() int { return b.maxY - b.minY + 1 }

// centralMoments returns mu20, mu02, mu11 normalized by area.
func (b *blob) centralMoments() (float64, float64, float64) {
	n := float64(b.area)
	mx, my := b.sumX/n, b.sumY/n
	mu20 := b.sumXX/n - mx*mx
	mu02 := b.sumYY/n - my*my
	mu11 := b.sumXY/n - mx*my
	return mu20, mu02, mu11
}

// orientation returns the principal-axis angle in degrees, in image
// coordinates (y down), so a positive angle descends to the right.
func (b *blob) orientation() float64 {
	mu20, mu02, mu11 := b.centralMoments()
	return 0.5 * math.Atan2(2*mu11, mu20-mu02) * 180 / math.Pi
}

// elongation is the ratio of the principal-axis standard deviations.
func (b *blob) elongation() float64 {
	mu20, mu02, mu11 := b.centralMoments()
	common := math.Sqrt((mu20-mu02)*(mu20-mu02) + 4*mu11*mu11)
	l1 := (mu20 + mu02 + common) / 2
	l2 := (mu20 + mu02 - common) / 2
	if l2 <= 1e-9 {
		return math.Inf(1)
	}
	return math.Sqrt(l1 / l2)
}

// connectedBlobs labels 8-connected true regions with a BFS and returns
// blobs with at least minArea pixels.
func connectedBlobs(mask []bool, w, h, minArea int) []blob {
	visited := make([]bool, len(mask))
	var blobs []blob
	queue := make([]int, 0, 256)

	for start := range mask {
		if !mask[start] || visited[start] {
			continue
		}
		var b blob
		queue = append(queue[:0], start)
		visited[start] = true
		for len(queue) > 0 {
			idx := queue[len(queue)-1]
			queue = queue[:len(queue)-1]
			x, y := idx%w, idx/w
			b.add(x, y)
			for dy := -1; dy <= 1; dy++ {
				ny := y + dy
				if ny < 0 || ny >= h {
					continue
				}
				for dx := -1; dx <= 1; dx++ {
					nx := x + dx
					if nx < 0 || nx >= w || (dx == 0 && dy == 0) {
						continue
					}
					n := ny*w + nx
					if mask[n] && !visited[n] {
						visited[n] = true
						queue = append(queue, n)
					}
				}
			}
		}
		if b.area >= minArea {
			blobs = append(blobs, b)
		}
	}
	return blobs
}
