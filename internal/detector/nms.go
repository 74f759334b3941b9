package detector

import (
	"math"
	"sort"
)

// DefaultIoUThreshold is the overlap at which two boxes count as the same object.
const DefaultIoUThreshold = 0.5

// IoU returns intersection over union of two boxes, 0 when they do not overlap.
func IoU(a, b BoundingBox) float64 {
	left := math.Max(a.X, b.X)
	top := math.Max(a.Y, b.Y)
	right := math.Min(a.X+a.Width, b.X+b.Width)
	bottom := math.Min(a.Y+a.Height, b.Y+b.Height)

	inter := math.Max(0, right-left) * math.Max(0, bottom-top)
	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// SortByConfidence orders detections highest confidence first. Equal
// confidences keep their input order.
func SortByConfidence(dets []Detection) {
	sort.SliceStable(dets, func(i, j int) bool {
		return dets[i].Confidence > dets[j].Confidence
	})
}

// NonMaxSuppression greedily keeps the most confident of every cluster of
// overlapping boxes. A candidate survives only if its IoU with every box kept
// so far is below threshold. The input slice is not modified.
func NonMaxSuppression(dets []Detection, threshold float64) []Detection {
	sorted := make([]Detection, len(dets))
	copy(sorted, dets)
	SortByConfidence(sorted)

	kept := make([]Detection, 0, len(sorted))
	for _, cand := range sorted {
		suppressed := false
		for _, k := range kept {
			if IoU(cand.BoundingBox, k.BoundingBox) >= threshold {
				suppressed = true
				break
			}
		}
		if !suppressed {
			kept = append(kept, cand)
		}
	}
	return kept
}
