package changedetect

import (
	"image"
	"math"

	"github.com/terra-ai/eco-verify/internal/imaging"
)

type landCover int

const (
	coverNone landCover = iota
	coverVegetation
	coverWater
	coverBuilt
	coverBare
)

// Classifier computes ImageStats for overhead images.
type Classifier struct {
	thresholds Thresholds
	sampleSize int
}

// NewClassifier returns a classifier using t. A non-positive sampleSize falls
// back to DefaultSampleSize.
func NewClassifier(t Thresholds, sampleSize int) *Classifier {
	if sampleSize < 1 {
		sampleSize = DefaultSampleSize
	}
	return &Classifier{thresholds: t, sampleSize: sampleSize}
}

// SampleSize reports the square resolution used for classification.
func (c *Classifier) SampleSize() int {
	return c.sampleSize
}

// Classify downsamples img and counts pixels per land-cover class.
func (c *Classifier) Classify(img image.Image) (ImageStats, error) {
	pixels, err := imaging.SampleRGBA(img, c.sampleSize, c.sampleSize)
	if err != nil {
		return ImageStats{}, err
	}

	var green, water, built, bare int
	for i := 0; i+3 < len(pixels); i += 4 {
		switch c.classify(float64(pixels[i]), float64(pixels[i+1]), float64(pixels[i+2])) {
		case coverVegetation:
			green++
		case coverWater:
			water++
		case coverBuilt:
			built++
		case coverBare:
			bare++
		}
	}

	total := c.sampleSize * c.sampleSize
	pct := func(n int) float64 { return float64(n) / float64(total) * 100 }
	return ImageStats{
		GreenCover:  pct(green),
		WaterCover:  pct(water),
		BuiltArea:   pct(built),
		BareLand:    pct(bare),
		TotalPixels: total,
	}, nil
}

func (c *Classifier) classify(r, g, b float64) landCover {
	t := c.thresholds
	switch {
	case g > r*t.VegetationRedRatio && g > b*t.VegetationBlueRatio &&
		g > t.VegetationMinGreen && g < t.VegetationMaxGreen:
		return coverVegetation
	case b > r*t.WaterRedRatio && b > g*t.WaterGreenRatio && b > t.WaterMinBlue:
		return coverWater
	case math.Abs(r-g) < t.BuiltMaxChannelDelta && math.Abs(g-b) < t.BuiltMaxChannelDelta &&
		math.Abs(r-b) < t.BuiltMaxChannelDelta && r > t.BuiltMinRed && r < t.BuiltMaxRed:
		return coverBuilt
	case r > g && g > b && r > t.BareMinRed && r-b > t.BareMinRedBlueSpread:
		return coverBare
	}
	return coverNone
}
