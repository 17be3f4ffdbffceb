package extract

import (
	"cmp"
	"slices"

	"github.com/MeKo-Tech/invoxtract/internal/invoice"
)

// compareCanonical is a total order over tokens used before any
// order-sensitive step.
func compareCanonical(a, b invoice.Token) int {
	return cmp.Or(
		cmp.Compare(a.BBox.YMin, b.BBox.YMin),
		cmp.Compare(a.BBox.XMin, b.BBox.XMin),
		cmp.Compare(a.BBox.YMax, b.BBox.YMax),
		cmp.Compare(a.BBox.XMax, b.BBox.XMax),
		cmp.Compare(a.EngineID, b.EngineID),
		cmp.Compare(a.VariantID, b.VariantID),
		cmp.Compare(a.Text, b.Text),
		cmp.Compare(b.Confidence, a.Confidence),
		cmp.Compare(a.SourceClass, b.SourceClass),
	)
}

// comparePreference puts the reading that should win a merge first:
// higher confidence, then longer text, then smaller engine and variant id.
func comparePreference(a, b invoice.Token) int {
	return cmp.Or(
		cmp.Compare(b.Confidence, a.Confidence),
		cmp.Compare(len([]rune(b.Text)), len([]rune(a.Text))),
		cmp.Compare(a.EngineID, b.EngineID),
		cmp.Compare(a.VariantID, b.VariantID),
		compareCanonical(a, b),
	)
}

// compareReading orders tokens top-to-bottom, then left-to-right.
func compareReading(a, b invoice.Token) int {
	return cmp.Or(
		cmp.Compare(a.BBox.YMin, b.BBox.YMin),
		cmp.Compare(a.BBox.XMin, b.BBox.XMin),
		compareCanonical(a, b),
	)
}

// MergeTokens fuses readings of the same text. Tokens overlapping a kept
// token with IoU >= iou are folded into it. The result does not depend on
// input order.
func MergeTokens(tokens []invoice.Token, iou float64) []invoice.Token {
	if len(tokens) == 0 {
		return nil
	}
	cands := slices.Clone(tokens)
	slices.SortFunc(cands, comparePreference)

	suppressed := make([]bool, len(cands))
	out := make([]invoice.Token, 0, len(cands))
	for i := range cands {
		if suppressed[i] {
			continue
		}
		winner := cands[i]
		for j := i + 1; j < len(cands); j++ {
			if suppressed[j] || winner.BBox.IoU(cands[j].BBox) < iou {
				continue
			}
			suppressed[j] = true
			if winner.SourceClass == "" {
				winner.SourceClass = cands[j].SourceClass
			}
		}
		out = append(out, winner)
	}
	slices.SortFunc(out, compareReading)
	return out
}

// AssignClasses tags tokens that carry no class with the class of the
// most confident detection containing their center.
func AssignClasses(tokens []invoice.Token, detections []invoice.Detection) {
	if len(detections) == 0 {
		return
	}
	for i := range tokens {
		if tokens[i].SourceClass != "" {
			continue
		}
		cx, cy := tokens[i].BBox.Center()
		best := -1
		for j, d := range detections {
			if !d.BBox.Contains(cx, cy) {
				continue
			}
			if best < 0 || d.Confidence > detections[best].Confidence {
				best = j
			}
		}
		if best >= 0 {
			tokens[i].SourceClass = detections[best].Class
		}
	}
}
