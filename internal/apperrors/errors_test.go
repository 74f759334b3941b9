package apperrors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestIsTypeFollowsWrappedChain(t *testing.T) {
	base := NewModelLoadError("model unavailable", errors.New("file missing"))
	wrapped := fmt.Errorf("session: %w", base)

	if !IsType(wrapped, ErrorTypeModelLoad) {
		t.Fatal("expected wrapped error to be recognised as model_load")
	}
	if IsType(wrapped, ErrorTypeInference) {
		t.Fatal("did not expect inference type")
	}
}

func TestGetStatusCode(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{NewInvalidInputError("zero size", nil), http.StatusBadRequest},
		{NewModelLoadError("load", nil), http.StatusServiceUnavailable},
		{NewInferenceError("shape", nil), http.StatusBadGateway},
		{NewNotFoundError("missing", nil), http.StatusNotFound},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := GetStatusCode(tc.err); got != tc.want {
			t.Fatalf("GetStatusCode(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestErrorIncludesCause(t *testing.T) {
	err := NewInferenceError("bad output", errors.New("shape mismatch"))
	if got := err.Error(); got != "inference: bad output (caused by: shape mismatch)" {
		t.Fatalf("unexpected message: %q", got)
	}
	if !errors.Is(err, err.Cause) {
		t.Fatal("expected Unwrap to expose cause")
	}
}

type timeoutError struct{}

func (timeoutError) Error() string { return "i/o timeout" }
func (timeoutError) Timeout() bool { return true }

func TestIsTransient(t *testing.T) {
	if !IsTransient(timeoutError{}) {
		t.Fatal("timeouts should be transient")
	}
	if !IsTransient(fmt.Errorf("query: %w", context.DeadlineExceeded)) {
		t.Fatal("wrapped deadline should be transient")
	}
	if IsTransient(errors.New("syntax error")) || IsTransient(nil) {
		t.Fatal("plain and nil errors are not transient")
	}
}
