// Package config loads service settings from the environment and an optional
// .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Supported DATABASE_DRIVER values.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	defaultDSN = "host=postgres user=postgres password=postgres dbname=ecoverify port=5432 sslmode=disable"
)

// DevJWTSecret signs tokens for local sqlite runs when JWT_SECRET is unset.
const DevJWTSecret = "dev-secret"

// Config holds every setting the service reads at startup.
type Config struct {
	HTTPAddr        string
	ShutdownTimeout time.Duration
	LogLevel        string

	DatabaseDriver string
	DatabaseDSN    string
	RedisAddr      string
	CachePrefix    string
	ResultCacheTTL time.Duration

	JWTSecret   string
	JWTAudience string

	ModelPath            string
	ModelInputSize       int
	NMSIoUThreshold      float64
	ClassifierSampleSize int

	MapsAPIKey  string
	MapsBaseURL string

	AzureStorageAccount   string
	AzureStorageKey       string
	AzureStorageContainer string
}

// UsesDevSecret reports whether tokens are signed with the local fallback secret.
func (c *Config) UsesDevSecret() bool {
	return c.JWTSecret == DevJWTSecret
}

// EvidenceEnabled reports whether an evidence archive is configured.
func (c *Config) EvidenceEnabled() bool {
	return c.AzureStorageAccount != ""
}

// Load reads envFile if it exists, then the environment. Values already set in
// the environment win over the file.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	var errs []error
	cfg := &Config{
		HTTPAddr:        getEnv("HTTP_ADDR", ":8080"),
		ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 15*time.Second, &errs),
		LogLevel:        strings.ToLower(getEnv("LOG_LEVEL", "info")),

		DatabaseDriver: strings.ToLower(getEnv("DATABASE_DRIVER", DriverPostgres)),
		DatabaseDSN:    getEnv("DATABASE_DSN", defaultDSN),
		RedisAddr:      getEnv("REDIS_ADDR", "redis:6379"),
		CachePrefix:    os.Getenv("CACHE_PREFIX"),
		ResultCacheTTL: getEnvAsDuration("RESULT_CACHE_TTL", 5*time.Minute, &errs),

		JWTSecret:   os.Getenv("JWT_SECRET"),
		JWTAudience: os.Getenv("JWT_AUDIENCE"),

		ModelPath:            getEnv("MODEL_PATH", "models/yolov8n-eco.onnx"),
		ModelInputSize:       getEnvAsInt("MODEL_INPUT_SIZE", 640, &errs),
		NMSIoUThreshold:      getEnvAsFloat("NMS_IOU_THRESHOLD", 0.5, &errs),
		ClassifierSampleSize: getEnvAsInt("CLASSIFIER_SAMPLE_SIZE", 256, &errs),

		MapsAPIKey:  os.Getenv("MAPS_API_KEY"),
		MapsBaseURL: os.Getenv("MAPS_BASE_URL"),

		AzureStorageAccount:   os.Getenv("AZURE_STORAGE_ACCOUNT"),
		AzureStorageKey:       os.Getenv("AZURE_STORAGE_KEY"),
		AzureStorageContainer: getEnv("AZURE_STORAGE_CONTAINER", "eco-actions"),
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if cfg.JWTSecret == "" && cfg.DatabaseDriver == DriverSQLite {
		cfg.JWTSecret = DevJWTSecret
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges and combinations.
func (c *Config) Validate() error {
	var errs []error
	if c.ModelInputSize < 32 {
		errs = append(errs, fmt.Errorf("MODEL_INPUT_SIZE must be at least 32, got %d", c.ModelInputSize))
	}
	if c.ClassifierSampleSize < 1 {
		errs = append(errs, fmt.Errorf("CLASSIFIER_SAMPLE_SIZE must be positive, got %d", c.ClassifierSampleSize))
	}
	if c.NMSIoUThreshold <= 0 || c.NMSIoUThreshold > 1 {
		errs = append(errs, fmt.Errorf("NMS_IOU_THRESHOLD must be in (0, 1], got %g", c.NMSIoUThreshold))
	}
	if c.DatabaseDriver != DriverPostgres && c.DatabaseDriver != DriverSQLite {
		errs = append(errs, fmt.Errorf("DATABASE_DRIVER must be %q or %q, got %q", DriverPostgres, DriverSQLite, c.DatabaseDriver))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("SHUTDOWN_TIMEOUT must be positive"))
	}
	if c.ResultCacheTTL <= 0 {
		errs = append(errs, errors.New("RESULT_CACHE_TTL must be positive"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required unless DATABASE_DRIVER is sqlite"))
	}
	if c.AzureStorageAccount != "" && c.AzureStorageKey == "" {
		errs = append(errs, errors.New("AZURE_STORAGE_KEY is required when AZURE_STORAGE_ACCOUNT is set"))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int, errs *[]error) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %q is not an integer", key, value))
		return defaultValue
	}
	return intValue
}

func getEnvAsFloat(key string, defaultValue float64, errs *[]error) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	floatValue, err := strconv.ParseFloat(value, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %q is not a number", key, value))
		return defaultValue
	}
	return floatValue
}

func getEnvAsDuration(key string, defaultValue time.Duration, errs *[]error) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %q is not a duration", key, value))
		return defaultValue
	}
	return d
}
