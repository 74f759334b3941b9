package detector

import (
	"math"

	"github.com/terra-ai/eco-verify/internal/apperrors"
	"github.com/terra-ai/eco-verify/internal/rewards"
)

// Decoder turns raw model output into filtered, deduplicated detections.
type Decoder struct {
	// Classes names the score channels in model order.
	Classes []string
	// Labels supplies the per-label acceptance threshold.
	Labels rewards.LabelTable
	// InputSize is the square resolution the model was fed.
	InputSize int
	// IoUThreshold is the suppression overlap.
	IoUThreshold float64
}

// NewDecoder returns a decoder for the eco-detection model.
func NewDecoder(inputSize int, iouThreshold float64) Decoder {
	return Decoder{
		Classes:      rewards.ModelClasses,
		Labels:       rewards.DefaultLabels,
		InputSize:    inputSize,
		IoUThreshold: iouThreshold,
	}
}

// Decode reads every candidate box, keeps its best class if that class's
// confidence clears the label threshold, maps the box back to an origW x origH
// image and applies non-max suppression. The result is sorted by confidence.
func (d Decoder) Decode(out RawOutput, origW, origH int) ([]Detection, error) {
	if err := out.Validate(len(d.Classes)); err != nil {
		return nil, err
	}
	if d.InputSize <= 0 || origW <= 0 || origH <= 0 {
		return nil, apperrors.NewInvalidInputError("decoder needs positive image and input sizes", nil)
	}

	scaleX := float64(origW) / float64(d.InputSize)
	scaleY := float64(origH) / float64(d.InputSize)

	candidates := make([]Detection, 0)
	for box := 0; box < out.NumBoxes(); box++ {
		bestClass := -1
		bestScore := math.Inf(-1)
		for c := range d.Classes {
			score := float64(out.At(geometryChannels+c, box))
			if score > bestScore {
				bestScore = score
				bestClass = c
			}
		}
		if bestClass < 0 {
			continue
		}

		label := d.Classes[bestClass]
		if bestScore < d.Labels.Lookup(label).MinConfidence {
			continue
		}

		cx := float64(out.At(0, box))
		cy := float64(out.At(1, box))
		w := float64(out.At(2, box))
		h := float64(out.At(3, box))
		if !finite(cx, cy, w, h) {
			continue
		}

		candidates = append(candidates, Detection{
			Label:      label,
			Confidence: bestScore,
			BoundingBox: BoundingBox{
				X:      (cx - w/2) * scaleX,
				Y:      (cy - h/2) * scaleY,
				Width:  w * scaleX,
				Height: h * scaleY,
			},
		})
	}

	return NonMaxSuppression(candidates, d.IoUThreshold), nil
}

func finite(values ...float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
