// Package rewards holds the static token tables used by both verification pipelines.
//
// Label rewards are paid per detected object in an uploaded photo. Activity rewards
// are paid once per confirmed before/after claim.
package rewards

import "sort"

// Detectable object classes, in the channel order of the eco-detection model.
const (
	LabelTree         = "tree"
	LabelSolarPanel   = "solar_panel"
	LabelEVCharger    = "ev_charger"
	LabelRecyclingBin = "recycling_bin"
	LabelBicycle      = "bicycle"
	LabelReusableBag  = "reusable_bag"
)

// Activity types that can be claimed against satellite imagery.
const (
	ActivityReforestation    = "reforestation"
	ActivitySolarFarm        = "solar_farm"
	ActivityEVInfrastructure = "ev_infrastructure"
	ActivityUrbanGreen       = "urban_green"
)

const (
	// DefaultMinConfidence applies to labels missing from the table.
	DefaultMinConfidence = 0.75
	// FallbackActivityReward is paid for a confirmed claim of an unlisted activity.
	FallbackActivityReward = 25
)

// ModelClasses lists labels in the order the model emits their score channels.
var ModelClasses = []string{
	LabelTree,
	LabelSolarPanel,
	LabelEVCharger,
	LabelRecyclingBin,
	LabelBicycle,
	LabelReusableBag,
}

// LabelReward is the price of one detected object and the minimum confidence
// at which a detection of that label is accepted.
type LabelReward struct {
	Reward        int     `json:"reward"`
	MinConfidence float64 `json:"min_confidence"`
}

// LabelTable maps a detector label to its reward entry.
type LabelTable map[string]LabelReward

// ActivityTable maps an activity type to its claim reward.
type ActivityTable map[string]int

// DefaultLabels is the reward table for photo verification.
var DefaultLabels = LabelTable{
	LabelTree:         {Reward: 10, MinConfidence: 0.70},
	LabelSolarPanel:   {Reward: 25, MinConfidence: 0.85},
	LabelEVCharger:    {Reward: 15, MinConfidence: 0.80},
	LabelRecyclingBin: {Reward: 5, MinConfidence: 0.75},
	LabelBicycle:      {Reward: 3, MinConfidence: 0.70},
	LabelReusableBag:  {Reward: 2, MinConfidence: 0.75},
}

// DefaultActivities is the reward table for satellite change verification.
var DefaultActivities = ActivityTable{
	ActivityReforestation:    50,
	ActivitySolarFarm:        75,
	ActivityEVInfrastructure: 40,
	ActivityUrbanGreen:       30,
}

// Lookup returns the entry for label, or a zero reward at DefaultMinConfidence.
func (t LabelTable) Lookup(label string) LabelReward {
	if entry, ok := t[label]; ok {
		return entry
	}
	return LabelReward{Reward: 0, MinConfidence: DefaultMinConfidence}
}

// Lookup returns the reward for a confirmed claim of activity.
func (t ActivityTable) Lookup(activity string) int {
	if reward, ok := t[activity]; ok {
		return reward
	}
	return FallbackActivityReward
}

// Keys returns the table's activities sorted alphabetically.
func (t ActivityTable) Keys() []string {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// RewardFor looks label up in DefaultLabels. It never fails.
func RewardFor(label string) LabelReward {
	return DefaultLabels.Lookup(label)
}

// ActivityReward looks activity up in DefaultActivities.
func ActivityReward(activity string) int {
	return DefaultActivities.Lookup(activity)
}
