package detector

// BoundingBox is a top-left anchored box in original-image pixel coordinates.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Area returns the box area, zero for degenerate boxes.
func (b BoundingBox) Area() float64 {
	if b.Width <= 0 || b.Height <= 0 {
		return 0
	}
	return b.Width * b.Height
}

// Detection is one recognised object instance.
type Detection struct {
	Label       string      `json:"label"`
	Confidence  float64     `json:"confidence"`
	BoundingBox BoundingBox `json:"bounding_box"`
}

// Reasons attached to a degraded VerificationResult.
const (
	ReasonModelUnavailable = "model_unavailable"
	ReasonInferenceFailed  = "inference_failed"
	ReasonInternal         = "internal_error"
)

// VerificationResult is the outcome of verifying one photo.
//
// ActionType is empty when nothing was detected. Reason is empty for a normal
// outcome and names the failure when the pipeline degraded to the unverified
// value, so "nothing found" and "could not look" stay distinguishable.
type VerificationResult struct {
	IsVerified   bool        `json:"is_verified"`
	Score        float64     `json:"score"`
	Detections   []Detection `json:"detections"`
	TokensEarned int         `json:"tokens_earned"`
	ActionType   string      `json:"action_type,omitempty"`
	Reason       string      `json:"reason,omitempty"`
}

// Unverified returns the safe negative outcome tagged with reason.
func Unverified(reason string) VerificationResult {
	return VerificationResult{
		Detections: []Detection{},
		Reason:     reason,
	}
}
