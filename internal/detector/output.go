package detector

import (
	"fmt"

	"github.com/terra-ai/eco-verify/internal/apperrors"
)

// geometryChannels precede the per-class score channels: cx, cy, w, h.
const geometryChannels = 4

// RawOutput is the model output tensor, shape [1, 4+numClasses, numBoxes],
// stored row-major in Data.
type RawOutput struct {
	Data  []float32
	Shape []int
}

// Validate checks the tensor against the expected class count.
func (o RawOutput) Validate(numClasses int) error {
	if len(o.Shape) != 3 || o.Shape[0] != 1 {
		return apperrors.NewInferenceError(fmt.Sprintf("unexpected output shape %v", o.Shape), nil)
	}
	if o.Shape[1] != geometryChannels+numClasses {
		return apperrors.NewInferenceError(
			fmt.Sprintf("output has %d channels, want %d", o.Shape[1], geometryChannels+numClasses), nil)
	}
	if o.Shape[2] < 0 || len(o.Data) != o.Shape[1]*o.Shape[2] {
		return apperrors.NewInferenceError(
			fmt.Sprintf("output holds %d values, shape %v needs %d", len(o.Data), o.Shape, o.Shape[1]*o.Shape[2]), nil)
	}
	return nil
}

// NumBoxes returns the number of candidate boxes.
func (o RawOutput) NumBoxes() int {
	if len(o.Shape) != 3 {
		return 0
	}
	return o.Shape[2]
}

// At returns the value of channel for candidate box.
func (o RawOutput) At(channel, box int) float32 {
	return o.Data[channel*o.Shape[2]+box]
}
