package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/terra-ai/eco-verify/internal/apperrors"
	"github.com/terra-ai/eco-verify/internal/logging"
)

type transientTestError struct{}

func (transientTestError) Error() string   { return "transient" }
func (transientTestError) Timeout() bool   { return true }
func (transientTestError) Temporary() bool { return true }

func TestExecuteWithRetryRetriesTransientErrors(t *testing.T) {
	repo := &VerificationRepository{
		logger:         zap.NewNop(),
		retryAttempts:  3,
		initialBackoff: time.Millisecond,
		maxBackoff:     2 * time.Millisecond,
	}

	attempts := 0
	err := repo.executeWithRetry(context.Background(), "repository.save_log", "req-1", func() error {
		attempts++
		if attempts < 2 {
			return transientTestError{}
		}
		return nil
	})

	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestExecuteWithRetryReturnsOperationError(t *testing.T) {
	repo := &VerificationRepository{
		logger:         zap.NewNop(),
		retryAttempts:  2,
		initialBackoff: time.Millisecond,
		maxBackoff:     2 * time.Millisecond,
	}

	attempts := 0
	err := repo.executeWithRetry(context.Background(), "repository.save_log", "req-2", func() error {
		attempts++
		return errors.New("boom")
	})

	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}

	var opErr *logging.OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("expected OperationError, got %T", err)
	}
	if opErr.Operation != "repository.save_log" {
		t.Fatalf("unexpected operation: %s", opErr.Operation)
	}
	if opErr.RequestID != "req-2" {
		t.Fatalf("unexpected request id: %s", opErr.RequestID)
	}
}

func newTestRepository(t *testing.T) *VerificationRepository {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })

	repo := NewVerificationRepository(db, zap.NewNop())
	if err := repo.AutoMigrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo
}

func TestSaveAndFindLog(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	log := &VerificationLog{
		RequestID:       "req-1",
		UserID:          "user-1",
		Kind:            KindPhoto,
		Score:           0.9,
		Success:         true,
		TokensEarned:    25,
		ActionType:      "solar_panel",
		DetectedObjects: `[{"label":"solar_panel","confidence":0.9}]`,
		SHA1Hash:        "abc",
		CreatedAt:       time.Now().UTC(),
	}
	if err := repo.SaveLog(ctx, log); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := repo.FindByRequestIDAndUser(ctx, "req-1", "user-1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.TokensEarned != 25 || got.ActionType != "solar_panel" || got.Kind != KindPhoto {
		t.Fatalf("unexpected log %+v", got)
	}
}

func TestFindByRequestIDAndUserNotFound(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	if err := repo.SaveLog(ctx, &VerificationLog{RequestID: "req-1", UserID: "owner", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("save: %v", err)
	}

	_, err := repo.FindByRequestIDAndUser(ctx, "req-1", "someone-else")
	if !apperrors.IsType(err, apperrors.ErrorTypeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestFindDuplicatesByHash(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	base := time.Now().UTC()
	entries := []*VerificationLog{
		{RequestID: "a", UserID: "u1", SHA1Hash: "same", CreatedAt: base},
		{RequestID: "b", UserID: "u1", SHA1Hash: "same", CreatedAt: base.Add(time.Second)},
		{RequestID: "c", UserID: "u1", SHA1Hash: "other", CreatedAt: base.Add(2 * time.Second)},
		{RequestID: "d", UserID: "u2", SHA1Hash: "same", CreatedAt: base.Add(3 * time.Second)},
		{RequestID: "e", UserID: "u1", SHA1Hash: "same", CreatedAt: base.Add(4 * time.Second)},
	}
	for _, e := range entries {
		if err := repo.SaveLog(ctx, e); err != nil {
			t.Fatalf("save %s: %v", e.RequestID, err)
		}
	}

	dups, err := repo.FindDuplicatesByHash(ctx, "u1", "same", "b")
	if err != nil {
		t.Fatalf("find duplicates: %v", err)
	}
	if len(dups) != 2 || dups[0].RequestID != "a" || dups[1].RequestID != "e" {
		ids := make([]string, 0, len(dups))
		for _, d := range dups {
			ids = append(ids, d.RequestID)
		}
		t.Fatalf("expected [a e], got %v", ids)
	}
}

func TestAggregateMetrics(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	empty, err := repo.AggregateMetrics(ctx)
	if err != nil {
		t.Fatalf("aggregate empty: %v", err)
	}
	if empty.TotalCount != 0 || empty.AverageScore != 0 {
		t.Fatalf("expected zero aggregation, got %+v", empty)
	}

	for i, l := range []*VerificationLog{
		{Score: 0.9, Success: true, TokensEarned: 25, ProcessingLatencyMs: 100},
		{Score: 0.5, Success: true, TokensEarned: 50, ProcessingLatencyMs: 300},
		{Score: 0.1, Success: false, ProcessingLatencyMs: 200},
	} {
		l.RequestID = fmt.Sprintf("req-%d", i)
		l.UserID = "u"
		l.CreatedAt = time.Now()
		if err := repo.SaveLog(ctx, l); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	agg, err := repo.AggregateMetrics(ctx)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if agg.TotalCount != 3 || agg.SuccessCount != 2 || agg.TotalTokens != 75 {
		t.Fatalf("unexpected counts %+v", agg)
	}
	if d := agg.AverageScore - 0.5; d > 1e-9 || d < -1e-9 {
		t.Fatalf("expected average score 0.5, got %f", agg.AverageScore)
	}
	if agg.AverageProcessingLatencyMs != 200 {
		t.Fatalf("expected average latency 200, got %f", agg.AverageProcessingLatencyMs)
	}
}
