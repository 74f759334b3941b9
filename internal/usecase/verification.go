package usecase

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/terra-ai/eco-verify/internal/apperrors"
	"github.com/terra-ai/eco-verify/internal/changedetect"
	"github.com/terra-ai/eco-verify/internal/detector"
	"github.com/terra-ai/eco-verify/internal/events"
	"github.com/terra-ai/eco-verify/internal/evidence"
	"github.com/terra-ai/eco-verify/internal/imaging"
	"github.com/terra-ai/eco-verify/internal/logging"
	"github.com/terra-ai/eco-verify/internal/repository"
	"github.com/terra-ai/eco-verify/internal/satellite"
)

const (
	processingMarker   = "processing"
	processingTTL      = time.Minute
	defaultResultTTL   = 5 * time.Minute
	detectionKeyPrefix = "detection:"
)

// VerificationRepository defines the persistence operations needed by the use case.
type VerificationRepository interface {
	SaveLog(ctx context.Context, log *repository.VerificationLog) error
	FindByRequestIDAndUser(ctx context.Context, requestID, userID string) (*repository.VerificationLog, error)
	FindDuplicatesByHash(ctx context.Context, userID, hash, excludeRequestID string) ([]*repository.VerificationLog, error)
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// PhotoVerifier runs object detection on an uploaded photo.
type PhotoVerifier interface {
	Verify(ctx context.Context, img image.Image) (detector.VerificationResult, error)
}

// ChangeComparer evaluates a before/after pair for a claimed activity.
type ChangeComparer interface {
	Compare(ctx context.Context, before, after image.Image, activity string) changedetect.Result
}

// ImageryFetcher downloads current overhead imagery.
type ImageryFetcher interface {
	Fetch(ctx context.Context, opts satellite.Options) (*satellite.Image, error)
}

// Dependencies are the collaborators of VerificationUseCase. Evidence, Events
// and Imagery are optional.
type Dependencies struct {
	Repo      VerificationRepository
	Cache     Cache
	Photos    PhotoVerifier
	Changes   ChangeComparer
	Imagery   ImageryFetcher
	Evidence  evidence.Store
	Events    events.Publisher
	ResultTTL time.Duration
}

// VerificationUseCase encapsulates business logic for both verification flows.
type VerificationUseCase struct {
	repo           VerificationRepository
	cache          Cache
	photos         PhotoVerifier
	changes        ChangeComparer
	imagery        ImageryFetcher
	evidence       evidence.Store
	events         events.Publisher
	resultTTL      time.Duration
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	now            func() time.Time
}

// DuplicateReport represents duplicate verification entries for a request.
type DuplicateReport struct {
	Request    *repository.VerificationLog   `json:"request"`
	Duplicates []*repository.VerificationLog `json:"duplicates"`
}

type detectedObject struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

type nopPublisher struct{}

func (nopPublisher) Publish(events.Event) {}

// NewVerificationUseCase constructs a new use case instance.
func NewVerificationUseCase(deps Dependencies, logger *zap.Logger) *VerificationUseCase {
	uc := &VerificationUseCase{
		repo:           deps.Repo,
		cache:          deps.Cache,
		photos:         deps.Photos,
		changes:        deps.Changes,
		imagery:        deps.Imagery,
		evidence:       deps.Evidence,
		events:         deps.Events,
		resultTTL:      deps.ResultTTL,
		logger:         logger.Named("verification_usecase"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
		now:            func() time.Time { return time.Now().UTC() },
	}
	if uc.evidence == nil {
		uc.evidence = evidence.NopStore{}
	}
	if uc.events == nil {
		uc.events = nopPublisher{}
	}
	if uc.resultTTL <= 0 {
		uc.resultTTL = defaultResultTTL
	}
	return uc
}

// VerifyImage decodes and verifies a photo, then records, caches, archives and
// announces the outcome. Identical bytes reuse the cached detection result.
func (uc *VerificationUseCase) VerifyImage(ctx context.Context, userID string, imageBytes []byte) (string, *detector.VerificationResult, error) {
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.verify_image", requestID)
	started := uc.now()

	img, format, err := imaging.Decode(imageBytes)
	if err != nil {
		return "", nil, logging.NewOperationError("usecase.decode_image", requestID, err)
	}

	cacheKey := resultKey(requestID)
	if err := uc.withRedisRetry(ctx, requestID, "cache.set.processing", func() error {
		return uc.cache.Set(ctx, cacheKey, processingMarker, processingTTL)
	}); err != nil {
		opLogger.Error("failed to set processing flag", zap.Error(err))
		return "", nil, err
	}

	hashHex := sha1Hex(imageBytes)
	result, cached := uc.cachedDetection(ctx, requestID, hashHex)
	if !cached {
		result, err = uc.photos.Verify(ctx, img)
		if err != nil {
			wrapped := logging.NewOperationError("usecase.detect", requestID, err)
			opLogger.Warn("photo rejected", zap.Error(wrapped))
			return "", nil, wrapped
		}
		if result.Reason == "" {
			uc.storeDetection(ctx, requestID, hashHex, result)
		} else {
			opLogger.Warn("verification degraded", zap.String("reason", result.Reason))
		}
	}

	objects := make([]detectedObject, 0, len(result.Detections))
	for _, d := range result.Detections {
		objects = append(objects, detectedObject{Label: d.Label, Confidence: d.Confidence})
	}
	objectsJSON, err := json.Marshal(objects)
	if err != nil {
		opLogger.Error("failed to serialize detected objects", zap.Error(err))
		return "", nil, err
	}

	details := fmt.Sprintf("verified:%t score:%f tokens:%d hash:%s", result.IsVerified, result.Score, result.TokensEarned, hashHex)
	if result.Reason != "" {
		details += " reason:" + result.Reason
	}

	log := &repository.VerificationLog{
		RequestID:       requestID,
		UserID:          userID,
		Kind:            repository.KindPhoto,
		Score:           result.Score,
		Success:         result.IsVerified,
		TokensEarned:    result.TokensEarned,
		ActionType:      result.ActionType,
		DetectedObjects: string(objectsJSON),
		Details:         details,
		SHA1Hash:        hashHex,
		EvidenceURL:     uc.archive(ctx, opLogger, userID, hashHex, format, imageBytes),
	}
	if err := uc.record(ctx, opLogger, log, started, events.TypePhotoVerification); err != nil {
		return "", nil, err
	}

	return requestID, &result, nil
}

// CompareChange evaluates a claimed activity from two uploaded snapshots. An
// undecodable snapshot yields the failed analysis rather than an error.
func (uc *VerificationUseCase) CompareChange(ctx context.Context, userID string, before, after []byte, activity string) (string, *changedetect.Result, error) {
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.compare_change", requestID)
	started := uc.now()

	cacheKey := resultKey(requestID)
	if err := uc.withRedisRetry(ctx, requestID, "cache.set.processing", func() error {
		return uc.cache.Set(ctx, cacheKey, processingMarker, processingTTL)
	}); err != nil {
		opLogger.Error("failed to set processing flag", zap.Error(err))
		return "", nil, err
	}

	result := changedetect.FailedResult()
	beforeImg, _, beforeErr := imaging.Decode(before)
	afterImg, format, afterErr := imaging.Decode(after)
	switch {
	case beforeErr != nil:
		opLogger.Warn("unable to decode before image", zap.Error(beforeErr))
	case afterErr != nil:
		opLogger.Warn("unable to decode after image", zap.Error(afterErr))
	default:
		result = uc.changes.Compare(ctx, beforeImg, afterImg, activity)
	}

	hasher := sha1.New()
	hasher.Write(before)
	hasher.Write(after)
	hashHex := hex.EncodeToString(hasher.Sum(nil))

	var evidenceURL string
	if afterErr == nil {
		evidenceURL = uc.archive(ctx, opLogger, userID, hashHex, format, after)
	}

	log := &repository.VerificationLog{
		RequestID:    requestID,
		UserID:       userID,
		Kind:         repository.KindSatellite,
		Score:        result.ConfidenceScore,
		Success:      result.ChangeDetected,
		TokensEarned: result.TokensEarned,
		ActionType:   result.ActivityType,
		Details:      result.ChangeSummary,
		SHA1Hash:     hashHex,
		EvidenceURL:  evidenceURL,
	}
	if err := uc.record(ctx, opLogger, log, started, events.TypeSatelliteComparison); err != nil {
		return "", nil, err
	}

	return requestID, &result, nil
}

// CompareWithImagery compares an uploaded before snapshot with the current
// imagery at loc. Invalid coordinates are an error; any other fetch failure
// yields the failed analysis.
func (uc *VerificationUseCase) CompareWithImagery(ctx context.Context, userID string, before []byte, loc satellite.Options, activity string) (string, *changedetect.Result, error) {
	if err := loc.Validate(); err != nil {
		return "", nil, err
	}

	var after []byte
	img, err := uc.FetchImagery(ctx, loc)
	if err != nil {
		logging.WithOperation(uc.logger, "usecase.compare_with_imagery", "").
			Warn("unable to fetch current imagery", zap.Error(err))
	} else {
		after = img.Data
	}
	return uc.CompareChange(ctx, userID, before, after, activity)
}

// FetchImagery proxies a snapshot from the imagery provider.
func (uc *VerificationUseCase) FetchImagery(ctx context.Context, opts satellite.Options) (*satellite.Image, error) {
	if uc.imagery == nil {
		return nil, apperrors.NewInternalError("satellite imagery not configured", nil)
	}
	img, err := uc.imagery.Fetch(ctx, opts)
	if errors.Is(err, satellite.ErrNotConfigured) {
		return nil, apperrors.NewInternalError("satellite imagery not configured", err)
	}
	return img, err
}

// GetResult retrieves a cached verification outcome or loads from persistence.
func (uc *VerificationUseCase) GetResult(ctx context.Context, userID, requestID string) (*repository.VerificationLog, error) {
	opLogger := logging.WithOperation(uc.logger, "usecase.get_result", requestID)
	cached, err := uc.withRedisGet(ctx, requestID, "cache.get.result", resultKey(requestID))
	switch {
	case err == nil && cached != processingMarker:
		var log repository.VerificationLog
		if err := json.Unmarshal([]byte(cached), &log); err != nil {
			opLogger.Warn("failed to decode cached result", zap.Error(err))
		} else if log.UserID == userID {
			return &log, nil
		}
	case err != nil && !errors.Is(err, redis.Nil):
		opLogger.Warn("failed to read cache", zap.Error(err))
	}

	return uc.repo.FindByRequestIDAndUser(ctx, requestID, userID)
}

// GetDuplicateReport builds a duplicate detection report for a verification request.
func (uc *VerificationUseCase) GetDuplicateReport(ctx context.Context, userID, requestID string) (*DuplicateReport, error) {
	log, err := uc.repo.FindByRequestIDAndUser(ctx, requestID, userID)
	if err != nil {
		return nil, err
	}

	duplicates, err := uc.repo.FindDuplicatesByHash(ctx, userID, log.SHA1Hash, log.RequestID)
	if err != nil {
		return nil, err
	}

	return &DuplicateReport{
		Request:    log,
		Duplicates: duplicates,
	}, nil
}

// record persists log, caches it under the request key and publishes an event.
func (uc *VerificationUseCase) record(ctx context.Context, opLogger *zap.Logger, log *repository.VerificationLog, started time.Time, eventType string) error {
	log.CreatedAt = uc.now()
	log.ProcessingLatencyMs = log.CreatedAt.Sub(started).Milliseconds()

	if err := uc.repo.SaveLog(ctx, log); err != nil {
		wrapped := logging.NewOperationError("usecase.save_log", log.RequestID, err)
		opLogger.Error("failed to persist verification log", zap.Error(wrapped))
		return wrapped
	}

	serialized, err := json.Marshal(log)
	if err != nil {
		opLogger.Error("failed to serialize verification result", zap.Error(err))
		return err
	}

	if err := uc.withRedisRetry(ctx, log.RequestID, "cache.set.result", func() error {
		return uc.cache.Set(ctx, resultKey(log.RequestID), string(serialized), uc.resultTTL)
	}); err != nil {
		opLogger.Error("failed to cache verification result", zap.Error(err))
		return err
	}

	uc.events.Publish(events.Event{
		Type:         eventType,
		RequestID:    log.RequestID,
		UserID:       log.UserID,
		Verified:     log.Success,
		TokensEarned: log.TokensEarned,
		ActionType:   log.ActionType,
		CreatedAt:    log.CreatedAt,
	})
	return nil
}

// archive uploads evidence and returns its URL. Failures only cost the URL.
func (uc *VerificationUseCase) archive(ctx context.Context, opLogger *zap.Logger, userID, hashHex, format string, data []byte) string {
	key := evidence.Key(userID, uc.now(), hashHex, format)
	url, err := uc.evidence.Put(ctx, key, data, "image/"+format)
	if err != nil {
		opLogger.Warn("failed to archive evidence", zap.String("key", key), zap.Error(err))
		return ""
	}
	return url
}

func (uc *VerificationUseCase) cachedDetection(ctx context.Context, requestID, hashHex string) (detector.VerificationResult, bool) {
	value, err := uc.withRedisGet(ctx, requestID, "cache.get.detection", detectionKeyPrefix+hashHex)
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logging.WithOperation(uc.logger, "cache.get.detection", requestID).Warn("failed to read detection cache", zap.Error(err))
		}
		return detector.VerificationResult{}, false
	}

	var result detector.VerificationResult
	if err := json.Unmarshal([]byte(value), &result); err != nil {
		logging.WithOperation(uc.logger, "cache.get.detection", requestID).Warn("failed to decode cached detection", zap.Error(err))
		return detector.VerificationResult{}, false
	}
	if result.Detections == nil {
		result.Detections = []detector.Detection{}
	}
	return result, true
}

func (uc *VerificationUseCase) storeDetection(ctx context.Context, requestID, hashHex string, result detector.VerificationResult) {
	serialized, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := uc.withRedisRetry(ctx, requestID, "cache.set.detection", func() error {
		return uc.cache.Set(ctx, detectionKeyPrefix+hashHex, string(serialized), uc.resultTTL)
	}); err != nil {
		logging.WithOperation(uc.logger, "cache.set.detection", requestID).Warn("failed to cache detection", zap.Error(err))
	}
}

func (uc *VerificationUseCase) withRedisRetry(ctx context.Context, requestID, operation string, fn func() error) error {
	if uc.retryAttempts <= 1 {
		err := fn()
		return logging.NewOperationError(operation, requestID, err)
	}

	backoff := uc.initialBackoff
	opLogger := logging.WithOperation(uc.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < uc.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= uc.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("redis operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		// a miss is an answer, not a failure
		if errors.Is(err, redis.Nil) {
			return logging.NewOperationError(operation, requestID, err)
		}

		if !apperrors.IsTransient(err) || attempt == uc.retryAttempts-1 {
			opLogger.Error("redis operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func (uc *VerificationUseCase) withRedisGet(ctx context.Context, requestID, operation, cacheKey string) (string, error) {
	var result string
	err := uc.withRedisRetry(ctx, requestID, operation, func() error {
		value, err := uc.cache.Get(ctx, cacheKey)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

func resultKey(requestID string) string {
	return fmt.Sprintf("verification:%s", requestID)
}

func sha1Hex(data []byte) string {
	hash := sha1.Sum(data)
	return hex.EncodeToString(hash[:])
}
