package logging

import (
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLoggerLevels(t *testing.T) {
	logger, err := NewLogger("warn")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if logger.Core().Enabled(zapcore.InfoLevel) {
		t.Fatal("info should be disabled at warn level")
	}
	if !logger.Core().Enabled(zapcore.WarnLevel) {
		t.Fatal("warn should be enabled")
	}

	if _, err := NewLogger(""); err != nil {
		t.Fatalf("empty level should default to info: %v", err)
	}
	if _, err := NewLogger("loud"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestWithOperationAddsFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	WithOperation(zap.New(core), "usecase.verify_image", "req-1").Info("done")
	WithOperation(zap.New(core), "repository.aggregate_metrics", "").Info("done")

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	first := entries[0].ContextMap()
	if first["operation"] != "usecase.verify_image" || first["request_id"] != "req-1" {
		t.Fatalf("unexpected fields %v", first)
	}
	if _, ok := entries[1].ContextMap()["request_id"]; ok {
		t.Fatal("empty request id should be omitted")
	}
}

func TestOperationError(t *testing.T) {
	base := errors.New("connection refused")
	err := NewOperationError("cache.set.result", "req-2", base)

	if err.Error() != "cache.set.result (request_id=req-2): connection refused" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if !errors.Is(err, base) {
		t.Fatal("expected errors.Is to reach the cause")
	}
	if NewOperationError("op", "", nil) != nil {
		t.Fatal("nil cause should produce nil error")
	}
}

func TestRequestIDFrom(t *testing.T) {
	inner := NewOperationError("repository.save_log", "req-9", errors.New("disk full"))
	outer := NewOperationError("usecase.save_log", "", inner)

	id, ok := RequestIDFrom(outer)
	if !ok || id != "req-9" {
		t.Fatalf("expected req-9, got %q (%v)", id, ok)
	}
	if _, ok := RequestIDFrom(errors.New("plain")); ok {
		t.Fatal("plain errors carry no request id")
	}
}
