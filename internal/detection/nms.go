package detection

import (
	"cmp"
	"image"
	"slices"

	"github.com/MeKo-Tech/invoxtract/internal/invoice"
)

func rawBox(r RawDetection) invoice.BBox {
	return invoice.NewBBox(r.Box[0], r.Box[1], r.Box[2], r.Box[3], image.Rectangle{})
}

// NonMaxSuppression keeps the highest-confidence proposal among those of
// the same label that overlap by more than iouThreshold.
func NonMaxSuppression(dets []RawDetection, iouThreshold float64) []RawDetection {
	if len(dets) <= 1 {
		return dets
	}

	order := make([]int, len(dets))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return cmp.Compare(dets[b].Confidence, dets[a].Confidence)
	})

	suppressed := make([]bool, len(dets))
	kept := make([]RawDetection, 0, len(dets))
	for i, a := range order {
		if suppressed[a] {
			continue
		}
		kept = append(kept, dets[a])
		boxA := rawBox(dets[a])
		for _, b := range order[i+1:] {
			if suppressed[b] || dets[b].Label != dets[a].Label {
				continue
			}
			if boxA.IoU(rawBox(dets[b])) > iouThreshold {
				suppressed[b] = true
			}
		}
	}
	return kept
}
