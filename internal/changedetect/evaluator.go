package changedetect

import (
	"fmt"
	"math"

	"github.com/terra-ai/eco-verify/internal/rewards"
)

// Verdict is the activity decision for a pair of snapshots.
type Verdict struct {
	ChangeDetected bool
	Confidence     float64
	Summary        string
}

// Evaluate applies the rule for activity to the before and after stats.
// Unlisted activities use a generic rule with a flat 0.5 confidence.
func Evaluate(activity string, before, after ImageStats) Verdict {
	greenChange := after.GreenCover - before.GreenCover
	builtChange := after.BuiltArea - before.BuiltArea

	var v Verdict
	switch activity {
	case rewards.ActivityReforestation:
		v.ChangeDetected = after.GreenCover > 5 || greenChange > 0
		v.Confidence = math.Min(0.95, 0.5+after.GreenCover/100)
		if v.ChangeDetected {
			trend := "Baseline vegetation confirmed."
			if greenChange > 0 {
				trend = fmt.Sprintf("+%.1f%% increase detected.", greenChange)
			}
			v.Summary = fmt.Sprintf("Vegetation detected: %.1f%% green cover in current view. %s", after.GreenCover, trend)
		} else {
			v.Summary = "Low vegetation coverage detected. Area may not have significant reforestation activity."
		}

	case rewards.ActivitySolarFarm:
		v.ChangeDetected = after.BuiltArea > 10 || builtChange > 0
		v.Confidence = math.Min(0.92, 0.5+after.BuiltArea/100)
		if v.ChangeDetected {
			trend := "Existing infrastructure confirmed."
			if builtChange > 0 {
				trend = fmt.Sprintf("+%.1f%% increase suggests new solar infrastructure.", builtChange)
			}
			v.Summary = fmt.Sprintf("Infrastructure detected: %.1f%% built-up area in current view. %s", after.BuiltArea, trend)
		} else {
			v.Summary = "Limited infrastructure detected in this area. Try a more specific location."
		}

	case rewards.ActivityEVInfrastructure:
		v.ChangeDetected = after.BuiltArea > 15
		v.Confidence = math.Min(0.88, 0.45+after.BuiltArea/100)
		if v.ChangeDetected {
			v.Summary = fmt.Sprintf("Urban infrastructure detected: %.1f%% built-up area compatible with EV charging stations.", after.BuiltArea)
		} else {
			v.Summary = "Area does not show significant urban infrastructure for EV charging."
		}

	case rewards.ActivityUrbanGreen:
		v.ChangeDetected = after.GreenCover > 3 && after.BuiltArea > 10
		v.Confidence = math.Min(0.90, 0.4+(after.GreenCover+after.BuiltArea)/200)
		if v.ChangeDetected {
			v.Summary = fmt.Sprintf("Urban green space detected: %.1f%% vegetation within %.1f%% urban area.", after.GreenCover, after.BuiltArea)
		} else {
			v.Summary = "Limited urban-green mix detected. Try a park or city garden location."
		}

	default:
		v.ChangeDetected = after.GreenCover > 5 || after.BuiltArea > 10
		v.Confidence = 0.5
		lead := "No significant changes detected."
		if v.ChangeDetected {
			lead = "Environmental features detected."
		}
		v.Summary = fmt.Sprintf("%s %.1f%% green cover, %.1f%% built-up area in current view.", lead, after.GreenCover, after.BuiltArea)
	}
	return v
}
