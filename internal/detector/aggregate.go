package detector

import "github.com/terra-ai/eco-verify/internal/rewards"

// Aggregate converts confidence-sorted detections into a verification result.
// Every detection pays its label's reward, so three trees earn three rewards.
// ActionType is the label of the single most valuable detection; ties go to the
// earlier (more confident) one.
func Aggregate(dets []Detection, labels rewards.LabelTable) VerificationResult {
	result := VerificationResult{Detections: make([]Detection, len(dets))}
	copy(result.Detections, dets)
	if len(dets) == 0 {
		return result
	}

	var confidenceSum float64
	bestReward := -1
	for _, d := range dets {
		reward := labels.Lookup(d.Label).Reward
		result.TokensEarned += reward
		confidenceSum += d.Confidence
		if reward > bestReward {
			bestReward = reward
			result.ActionType = d.Label
		}
	}

	result.IsVerified = true
	result.Score = confidenceSum / float64(len(dets))
	return result
}
