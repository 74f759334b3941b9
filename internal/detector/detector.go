package detector

import (
	"context"
	"fmt"
	"image"

	"go.uber.org/zap"

	"github.com/terra-ai/eco-verify/internal/imaging"
	"github.com/terra-ai/eco-verify/internal/rewards"
)

// DefaultInputSize is the square resolution of the eco-detection model.
const DefaultInputSize = 640

// Options configures a Detector.
type Options struct {
	InputSize    int
	IoUThreshold float64
	Classes      []string
	Labels       rewards.LabelTable
}

// DefaultOptions returns options for the bundled eco-detection model.
func DefaultOptions() Options {
	return Options{
		InputSize:    DefaultInputSize,
		IoUThreshold: DefaultIoUThreshold,
		Classes:      rewards.ModelClasses,
		Labels:       rewards.DefaultLabels,
	}
}

// WithInputSize returns options with a different model input resolution.
func (opts Options) WithInputSize(size int) Options {
	opts.InputSize = size
	return opts
}

// WithIoUThreshold returns options with a different suppression threshold.
func (opts Options) WithIoUThreshold(threshold float64) Options {
	opts.IoUThreshold = threshold
	return opts
}

// WithLabels returns options with a different label reward table.
func (opts Options) WithLabels(labels rewards.LabelTable) Options {
	opts.Labels = labels
	return opts
}

// Detector verifies uploaded photos against the eco-detection model.
type Detector struct {
	session *Session
	decoder Decoder
	opts    Options
	logger  *zap.Logger
}

// NewDetector builds a detector that pulls its model from session.
func NewDetector(session *Session, opts Options, logger *zap.Logger) *Detector {
	return &Detector{
		session: session,
		decoder: Decoder{
			Classes:      opts.Classes,
			Labels:       opts.Labels,
			InputSize:    opts.InputSize,
			IoUThreshold: opts.IoUThreshold,
		},
		opts:   opts,
		logger: logger.Named("detector"),
	}
}

// Verify runs the full photo pipeline. The only error it returns is
// invalid input for a nil or zero-sized image. Model, inference and decoding
// failures yield an unverified result with Reason set.
func (d *Detector) Verify(ctx context.Context, img image.Image) (result VerificationResult, err error) {
	if err := imaging.CheckDimensions(img); err != nil {
		return Unverified(""), err
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Warn("verification panicked", zap.String("panic", fmt.Sprint(r)))
			result, err = Unverified(ReasonInternal), nil
		}
	}()

	tensor, perr := Preprocess(img, d.opts.InputSize)
	if perr != nil {
		d.logger.Warn("preprocessing failed", zap.Error(perr))
		return Unverified(ReasonInternal), nil
	}

	model, lerr := d.session.Get(ctx)
	if lerr != nil {
		d.logger.Warn("model unavailable, returning unverified result", zap.Error(lerr))
		return Unverified(ReasonModelUnavailable), nil
	}

	out, ierr := model.Infer(ctx, tensor)
	if ierr != nil {
		d.logger.Warn("inference failed", zap.Error(ierr))
		return Unverified(ReasonInferenceFailed), nil
	}

	bounds := img.Bounds()
	dets, derr := d.decoder.Decode(out, bounds.Dx(), bounds.Dy())
	if derr != nil {
		d.logger.Warn("unusable model output", zap.Error(derr))
		return Unverified(ReasonInferenceFailed), nil
	}

	result = Aggregate(dets, d.opts.Labels)
	d.logger.Debug("verification complete",
		zap.Int("detections", len(result.Detections)),
		zap.Int("tokens_earned", result.TokensEarned),
		zap.String("action_type", result.ActionType),
	)
	return result, nil
}
