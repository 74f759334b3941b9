package main

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/terra-ai/eco-verify/internal/auth"
	"github.com/terra-ai/eco-verify/internal/changedetect"
	"github.com/terra-ai/eco-verify/internal/config"
	"github.com/terra-ai/eco-verify/internal/detector"
	"github.com/terra-ai/eco-verify/internal/handlers"
	"github.com/terra-ai/eco-verify/internal/repository"
	"github.com/terra-ai/eco-verify/internal/satellite"
	"github.com/terra-ai/eco-verify/internal/usecase"
)

const integrationSecret = "integration-secret"

// slowService holds the metrics call open until release is closed.
type slowService struct {
	started chan struct{}
	release chan struct{}
}

func (s *slowService) GetMetricsSummary(ctx context.Context) (*usecase.MetricsSummary, error) {
	close(s.started)
	<-s.release
	return &usecase.MetricsSummary{TotalRequests: 7, TotalTokensEarned: 120}, nil
}

func (s *slowService) VerifyImage(ctx context.Context, userID string, imageBytes []byte) (string, *detector.VerificationResult, error) {
	return "", nil, errors.New("not used")
}

func (s *slowService) CompareChange(ctx context.Context, userID string, before, after []byte, activity string) (string, *changedetect.Result, error) {
	return "", nil, errors.New("not used")
}

func (s *slowService) CompareWithImagery(ctx context.Context, userID string, before []byte, loc satellite.Options, activity string) (string, *changedetect.Result, error) {
	return "", nil, errors.New("not used")
}

func (s *slowService) FetchImagery(ctx context.Context, opts satellite.Options) (*satellite.Image, error) {
	return nil, errors.New("not used")
}

func (s *slowService) GetResult(ctx context.Context, userID, requestID string) (*repository.VerificationLog, error) {
	return nil, errors.New("not used")
}

func (s *slowService) GetDuplicateReport(ctx context.Context, userID, requestID string) (*usecase.DuplicateReport, error) {
	return nil, errors.New("not used")
}

func TestServerFinishesInFlightRequestOnShutdown(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	svc := &slowService{started: make(chan struct{}), release: make(chan struct{})}
	released := false
	defer func() {
		if !released {
			close(svc.release)
		}
	}()

	router := gin.New()
	router.Use(gin.Recovery(), handlers.RequestLogger(logger))
	handlers.RegisterRoutes(router, svc, nil, auth.JWTMiddleware(integrationSecret, ""))

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}
	server := &http.Server{Handler: router}

	signalCh := make(chan os.Signal, 1)
	done := make(chan error, 1)
	go func() {
		done <- serveHTTPServerWithOptions(server, 2*time.Second, logger, listener, signalCh)
	}()

	addr := listener.Addr().String()
	waitForServer(t, addr)

	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get("http://" + addr + "/health")
	if err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected health 200, got %d", resp.StatusCode)
	}

	token, err := auth.IssueToken(integrationSecret, "", "user-1", time.Minute)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	req, err := http.NewRequest(http.MethodGet, "http://"+addr+"/metrics", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	respCh := make(chan *http.Response, 1)
	errCh := make(chan error, 1)
	go func() {
		resp, err := client.Do(req)
		if err != nil {
			errCh <- err
			return
		}
		respCh <- resp
	}()

	select {
	case <-svc.started:
	case err := <-errCh:
		t.Fatalf("request failed before reaching the handler: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("request did not reach the handler in time")
	}

	signalCh <- syscall.SIGTERM
	time.Sleep(50 * time.Millisecond)

	// new connections are refused once shutdown began
	if conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond); err == nil {
		conn.Close()
		t.Fatal("listener still accepting after shutdown signal")
	}

	close(svc.release)
	released = true

	select {
	case resp := <-respCh:
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("unexpected status: %d", resp.StatusCode)
		}
		var summary usecase.MetricsSummary
		if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
			t.Fatalf("decode metrics: %v", err)
		}
		if summary.TotalRequests != 7 || summary.TotalTokensEarned != 120 {
			t.Fatalf("unexpected summary %+v", summary)
		}
	case err := <-errCh:
		t.Fatalf("in-flight request failed: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight request did not complete")
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("server did not shutdown cleanly: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not exit after shutdown")
	}
}

func TestIssueTokenRequiresSubject(t *testing.T) {
	cfg := &config.Config{JWTSecret: integrationSecret}
	if err := issueToken(cfg, nil); err == nil || !strings.Contains(err.Error(), "usage") {
		t.Fatalf("expected usage error, got %v", err)
	}
	if err := issueToken(cfg, []string{"user-1", "soon"}); err == nil || !strings.Contains(err.Error(), "invalid ttl") {
		t.Fatalf("expected ttl error, got %v", err)
	}
}

func waitForServer(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 50*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("server %s did not become ready", addr)
}
