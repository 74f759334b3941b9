package detector

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/terra-ai/eco-verify/internal/apperrors"
)

// Inferencer runs the model on a preprocessed tensor.
type Inferencer interface {
	Infer(ctx context.Context, tensor []float32) (RawOutput, error)
	Close() error
}

// Loader creates an Inferencer, typically by reading a model artifact.
type Loader func(ctx context.Context) (Inferencer, error)

// Session lazily loads the model on first use and hands the same instance to
// every later caller. Concurrent first calls share a single load, which runs
// detached from the callers' cancellation. A failed load is not remembered, so
// the next call tries again.
type Session struct {
	loader Loader
	logger *zap.Logger
	group  singleflight.Group

	mu    sync.RWMutex
	model Inferencer
}

// NewSession wraps loader. Nothing is loaded until Get is called.
func NewSession(loader Loader, logger *zap.Logger) *Session {
	return &Session{loader: loader, logger: logger.Named("model_session")}
}

// Get returns the loaded model, loading it if needed.
func (s *Session) Get(ctx context.Context) (Inferencer, error) {
	if m := s.current(); m != nil {
		return m, nil
	}

	v, err, shared := s.group.Do("model", func() (interface{}, error) {
		if m := s.current(); m != nil {
			return m, nil
		}
		// shared by every waiter, so detach from the first caller's cancellation
		m, err := s.loader(context.WithoutCancel(ctx))
		if err != nil {
			if apperrors.IsType(err, apperrors.ErrorTypeModelLoad) {
				return nil, err
			}
			return nil, apperrors.NewModelLoadError("failed to load model", err)
		}
		if m == nil {
			return nil, apperrors.NewModelLoadError("loader returned no model", nil)
		}

		s.mu.Lock()
		s.model = m
		s.mu.Unlock()
		s.logger.Info("model loaded")
		return m, nil
	})
	if err != nil {
		s.logger.Warn("model load failed", zap.Error(err), zap.Bool("shared", shared))
		return nil, err
	}
	return v.(Inferencer), nil
}

// Loaded reports whether a model is currently held.
func (s *Session) Loaded() bool {
	return s.current() != nil
}

// Close releases the held model. A later Get loads it again.
func (s *Session) Close() error {
	s.mu.Lock()
	m := s.model
	s.model = nil
	s.mu.Unlock()
	if m == nil {
		return nil
	}
	return m.Close()
}

func (s *Session) current() Inferencer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.model
}
