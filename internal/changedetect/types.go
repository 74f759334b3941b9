// Package changedetect classifies overhead imagery into land-cover classes and
// decides whether a claimed environmental activity shows up between a before and
// an after snapshot.
package changedetect

// ImageStats is the land-cover breakdown of one image. Percentages are in
// [0,100] and, since every pixel lands in at most one class, sum to at most 100.
type ImageStats struct {
	GreenCover  float64 `json:"green_cover"`
	WaterCover  float64 `json:"water_cover"`
	BuiltArea   float64 `json:"built_area"`
	BareLand    float64 `json:"bare_land"`
	TotalPixels int     `json:"total_pixels"`
}

// Result is the outcome of comparing two snapshots for a claimed activity.
type Result struct {
	ChangeDetected   bool       `json:"change_detected"`
	BeforeStats      ImageStats `json:"before_stats"`
	AfterStats       ImageStats `json:"after_stats"`
	ChangeSummary    string     `json:"change_summary"`
	ActivityType     string     `json:"activity_type,omitempty"`
	TokensEarned     int        `json:"tokens_earned"`
	ConfidenceScore  float64    `json:"confidence_score"`
	GreenCoverChange float64    `json:"green_cover_change"`
	BuiltAreaChange  float64    `json:"built_area_change"`
}

const failedSummary = "Unable to analyze satellite imagery. The images may not have loaded correctly."

// FailedResult is returned whenever the imagery could not be analyzed.
func FailedResult() Result {
	return Result{ChangeSummary: failedSummary}
}
