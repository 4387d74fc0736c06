// Package config loads devicegate configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/devicegate/devicegate/internal/database"
)

// Store backends.
const (
	BackendJSONBin  = "jsonbin"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// DefaultFrontendOrigin is the origin allowed by CORS when none is configured.
const DefaultFrontendOrigin = "https://your-frontend-domain.com"

// Config is the full service configuration.
type Config struct {
	Port        string
	Environment string
	RequireTLS  bool

	StoreBackend string
	CacheTTL     time.Duration

	JSONBin  JSONBinConfig
	Database database.Config

	FrontendOrigin  string
	VerifyRateLimit int

	OTelEnabled  bool
	OTLPEndpoint string
}

// JSONBinConfig configures the JSONBin document store.
type JSONBinConfig struct {
	BinID      string
	APIKey     string
	BaseURL    string
	Timeout    time.Duration
	MaxRetries uint64
}

// Load reads the configuration from environment variables and validates it.
func Load() (Config, error) {
	var errs []error

	port := os.Getenv("PORT")
	if port == "" {
		port = getEnvOrDefault("APP_PORT", "5000")
	}

	cacheTTL, err := getDuration("CACHE_TTL", 60*time.Second)
	errs = append(errs, err)
	jsonbinTimeout, err := getDuration("JSONBIN_TIMEOUT", 10*time.Second)
	errs = append(errs, err)
	maxRetries, err := getUint("JSONBIN_MAX_RETRIES", 0)
	errs = append(errs, err)
	rateLimit, err := getUint("VERIFY_RATE_LIMIT", 0)
	errs = append(errs, err)

	cfg := Config{
		Port:         port,
		Environment:  getEnvOrDefault("APP_ENV", "development"),
		RequireTLS:   os.Getenv("REQUIRE_TLS") == "true",
		StoreBackend: getEnvOrDefault("STORE_BACKEND", BackendJSONBin),
		CacheTTL:     cacheTTL,
		JSONBin: JSONBinConfig{
			BinID:      os.Getenv("JSONBIN_BIN_ID"),
			APIKey:     os.Getenv("JSONBIN_API_KEY"),
			BaseURL:    getEnvOrDefault("JSONBIN_BASE_URL", "https://api.jsonbin.io"),
			Timeout:    jsonbinTimeout,
			MaxRetries: maxRetries,
		},
		Database:        database.ConfigFromEnv(),
		FrontendOrigin:  getEnvOrDefault("FRONTEND_ORIGIN", DefaultFrontendOrigin),
		VerifyRateLimit: int(rateLimit), //nolint:gosec // bounded by parse
		OTelEnabled:     os.Getenv("OTEL_ENABLED") == "true",
		OTLPEndpoint:    getEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
	}

	errs = append(errs, cfg.Validate())
	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	var errs []error

	switch c.StoreBackend {
	case BackendJSONBin:
		if c.JSONBin.BinID == "" {
			errs = append(errs, errors.New("JSONBIN_BIN_ID is required for the jsonbin backend"))
		}
		if c.JSONBin.APIKey == "" {
			errs = append(errs, errors.New("JSONBIN_API_KEY is required for the jsonbin backend"))
		}
	case BackendPostgres, BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("STORE_BACKEND %q is not one of jsonbin, postgres, memory", c.StoreBackend))
	}

	if c.CacheTTL <= 0 {
		errs = append(errs, errors.New("CACHE_TTL must be positive"))
	}
	if c.Port == "" {
		errs = append(errs, errors.New("PORT must not be empty"))
	}

	return errors.Join(errs...)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func getUint(key string, defaultValue uint64) (uint64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	n, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
