package changedetect

// DefaultSampleSize is the square resolution images are reduced to before
// classification.
const DefaultSampleSize = 256

// Thresholds are the colour rules of the pixel classifier. Rules are tried in
// order: vegetation, water, built-up, bare land.
type Thresholds struct {
	// vegetation: g > r*VegetationRedRatio, g > b*VegetationBlueRatio,
	// VegetationMinGreen < g < VegetationMaxGreen
	VegetationRedRatio  float64
	VegetationBlueRatio float64
	VegetationMinGreen  float64
	VegetationMaxGreen  float64

	// water: b > r*WaterRedRatio, b > g*WaterGreenRatio, b > WaterMinBlue
	WaterRedRatio   float64
	WaterGreenRatio float64
	WaterMinBlue    float64

	// built-up: every pairwise channel difference below BuiltMaxChannelDelta,
	// BuiltMinRed < r < BuiltMaxRed
	BuiltMaxChannelDelta float64
	BuiltMinRed          float64
	BuiltMaxRed          float64

	// bare land: r > g > b, r > BareMinRed, r-b > BareMinRedBlueSpread
	BareMinRed           float64
	BareMinRedBlueSpread float64
}

// DefaultThresholds returns the calibrated classifier rules.
func DefaultThresholds() Thresholds {
	return Thresholds{
		VegetationRedRatio:  1.15,
		VegetationBlueRatio: 1.10,
		VegetationMinGreen:  40,
		VegetationMaxGreen:  220,

		WaterRedRatio:   1.20,
		WaterGreenRatio: 1.10,
		WaterMinBlue:    60,

		BuiltMaxChannelDelta: 25,
		BuiltMinRed:          100,
		BuiltMaxRed:          220,

		BareMinRed:           80,
		BareMinRedBlueSpread: 20,
	}
}
