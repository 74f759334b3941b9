package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/terra-ai/eco-verify/internal/auth"
	"github.com/terra-ai/eco-verify/internal/changedetect"
	"github.com/terra-ai/eco-verify/internal/config"
	"github.com/terra-ai/eco-verify/internal/detector"
	"github.com/terra-ai/eco-verify/internal/detector/onnx"
	"github.com/terra-ai/eco-verify/internal/events"
	"github.com/terra-ai/eco-verify/internal/evidence"
	"github.com/terra-ai/eco-verify/internal/handlers"
	"github.com/terra-ai/eco-verify/internal/logging"
	"github.com/terra-ai/eco-verify/internal/repository"
	"github.com/terra-ai/eco-verify/internal/rewards"
	"github.com/terra-ai/eco-verify/internal/satellite"
	"github.com/terra-ai/eco-verify/internal/usecase"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := issueToken(cfg, os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	if cfg.UsesDevSecret() {
		logger.Warn("JWT_SECRET not set, signing with the local development secret")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	db := initDatabase(ctx, cfg, logger)
	repo := repository.NewVerificationRepository(db, logger)
	if err := repo.AutoMigrate(ctx); err != nil {
		logger.Fatal("auto migrate failed", zap.Error(err))
	}

	redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
	defer redisCancel()
	redisClient := initRedis(redisCtx, cfg.RedisAddr, logger)
	defer redisClient.Close()

	session := detector.NewSession(onnx.NewLoader(cfg.ModelPath, cfg.ModelInputSize, logger), logger)
	defer session.Close()
	go warmModel(session, logger)

	photos := detector.NewDetector(session, detector.DefaultOptions().
		WithInputSize(cfg.ModelInputSize).
		WithIoUThreshold(cfg.NMSIoUThreshold), logger)
	classifier := changedetect.NewClassifier(changedetect.DefaultThresholds(), cfg.ClassifierSampleSize)
	changes := changedetect.NewAnalyzer(classifier, rewards.DefaultActivities, logger)

	imagery := satellite.NewClient(satellite.ClientOpts{BaseURL: cfg.MapsBaseURL, APIKey: cfg.MapsAPIKey})
	if !imagery.Configured() {
		logger.Warn("maps API key not set, satellite imagery disabled")
	}

	var store evidence.Store = evidence.NopStore{}
	if cfg.EvidenceEnabled() {
		store, err = evidence.NewAzureStore(cfg.AzureStorageAccount, cfg.AzureStorageKey, cfg.AzureStorageContainer)
		if err != nil {
			logger.Fatal("evidence store init failed", zap.Error(err))
		}
	}

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	hub := events.NewHub(logger)
	go hub.Run(hubCtx)

	uc := usecase.NewVerificationUseCase(usecase.Dependencies{
		Repo:      repo,
		Cache:     usecase.NewRedisCache(redisClient, cfg.CachePrefix),
		Photos:    photos,
		Changes:   changes,
		Imagery:   imagery,
		Evidence:  store,
		Events:    hub,
		ResultTTL: cfg.ResultCacheTTL,
	}, logger)

	r := gin.New()
	r.Use(gin.Recovery(), handlers.RequestLogger(logger))
	r.MaxMultipartMemory = handlers.MaxUploadSize

	handlers.RegisterRoutes(r, uc, http.HandlerFunc(hub.ServeWS), auth.JWTMiddleware(cfg.JWTSecret, cfg.JWTAudience))

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	logger.Info("eco-verify API listening", zap.String("addr", cfg.HTTPAddr))
	if err := serveHTTPServer(server, cfg.ShutdownTimeout, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

// issueToken prints a signed bearer token for local testing:
//
//	eco-verify token <subject> [ttl]
func issueToken(cfg *config.Config, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: eco-verify token <subject> [ttl]")
	}
	ttl := time.Hour
	if len(args) > 1 {
		parsed, err := time.ParseDuration(args[1])
		if err != nil {
			return fmt.Errorf("invalid ttl: %w", err)
		}
		ttl = parsed
	}
	token, err := auth.IssueToken(cfg.JWTSecret, cfg.JWTAudience, args[0], ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

// warmModel loads the model in the background so the first request does not
// pay for it. A failure here is retried by the next verification.
func warmModel(session *detector.Session, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if _, err := session.Get(ctx); err != nil {
		logger.Warn("model warm-up failed, photos will be unverified until it loads", zap.Error(err))
	}
}

func initDatabase(ctx context.Context, cfg *config.Config, zapLogger *zap.Logger) *gorm.DB {
	var dialector gorm.Dialector
	switch cfg.DatabaseDriver {
	case config.DriverSQLite:
		dialector = sqlite.Open(cfg.DatabaseDSN)
	default:
		dialector = postgres.Open(cfg.DatabaseDSN)
	}

	logMode := gormlogger.Warn
	if cfg.LogLevel == "debug" {
		logMode = gormlogger.Info
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(logMode)})
	if err != nil {
		zapLogger.Fatal("failed to connect to database", zap.Error(err), zap.String("driver", cfg.DatabaseDriver))
	}

	sqlDB, err := db.DB()
	if err != nil {
		zapLogger.Fatal("failed to access db handle", zap.Error(err))
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		zapLogger.Fatal("database ping failed", zap.Error(err))
	}

	return db
}

func initRedis(ctx context.Context, addr string, zapLogger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err))
	}
	return client
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	sigCh := signalCh
	if sigCh == nil {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(ch)
		sigCh = ch
	}

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
