package changedetect

import (
	"context"
	"fmt"
	"image"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/terra-ai/eco-verify/internal/rewards"
)

// Analyzer compares before/after snapshots for a claimed activity.
type Analyzer struct {
	classifier *Classifier
	activities rewards.ActivityTable
	logger     *zap.Logger
}

// NewAnalyzer returns an analyzer paying rewards from activities.
func NewAnalyzer(classifier *Classifier, activities rewards.ActivityTable, logger *zap.Logger) *Analyzer {
	return &Analyzer{
		classifier: classifier,
		activities: activities,
		logger:     logger.Named("change_detect"),
	}
}

// Compare classifies both images and evaluates the claim. It never fails:
// any processing error or panic yields FailedResult.
func (a *Analyzer) Compare(ctx context.Context, before, after image.Image, activity string) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Warn("comparison panicked", zap.String("panic", fmt.Sprint(r)))
			result = FailedResult()
		}
	}()

	var beforeStats, afterStats ImageStats
	g, _ := errgroup.WithContext(ctx)
	g.Go(a.classifyInto(before, &beforeStats))
	g.Go(a.classifyInto(after, &afterStats))
	if err := g.Wait(); err != nil {
		a.logger.Warn("unable to classify imagery", zap.String("activity_type", activity), zap.Error(err))
		return FailedResult()
	}

	verdict := Evaluate(activity, beforeStats, afterStats)
	result = Result{
		ChangeDetected:   verdict.ChangeDetected,
		BeforeStats:      beforeStats,
		AfterStats:       afterStats,
		ChangeSummary:    verdict.Summary,
		ConfidenceScore:  verdict.Confidence,
		GreenCoverChange: afterStats.GreenCover - beforeStats.GreenCover,
		BuiltAreaChange:  afterStats.BuiltArea - beforeStats.BuiltArea,
	}
	if verdict.ChangeDetected {
		result.ActivityType = activity
		result.TokensEarned = a.activities.Lookup(activity)
	}

	a.logger.Debug("comparison complete",
		zap.String("activity_type", activity),
		zap.Bool("change_detected", result.ChangeDetected),
		zap.Float64("green_cover_change", result.GreenCoverChange),
		zap.Float64("built_area_change", result.BuiltAreaChange),
	)
	return result
}

func (a *Analyzer) classifyInto(img image.Image, out *ImageStats) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("classifier panicked: %v", r)
			}
		}()
		stats, err := a.classifier.Classify(img)
		if err != nil {
			return err
		}
		*out = stats
		return nil
	}
}
