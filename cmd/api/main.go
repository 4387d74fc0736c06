// Package main provides the entrypoint for the devicegate API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/devicegate/devicegate/internal/api"
	"github.com/devicegate/devicegate/internal/api/middleware"
	"github.com/devicegate/devicegate/internal/config"
	"github.com/devicegate/devicegate/internal/database"
	"github.com/devicegate/devicegate/internal/device"
	"github.com/devicegate/devicegate/internal/devicestore"
	"github.com/devicegate/devicegate/internal/devicestore/jsonbin"
	"github.com/devicegate/devicegate/internal/provider/resilience"
	"github.com/devicegate/devicegate/internal/telemetry"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "devicegate-api"

	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	log.Info().
		Str("build_time", BuildTime).
		Msg("starting devicegate API")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx := context.Background()

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.OTelEnabled,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	if cfg.OTelEnabled {
		log.Info().
			Str("otlp_endpoint", cfg.OTLPEndpoint).
			Msg("OpenTelemetry initialized")
	}

	httpMetrics, err := middleware.NewMetrics()
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize metrics")
		os.Exit(1) //nolint:gocritic // intentional exit, telemetry cleanup is best-effort
	}
	storeMetrics, err := middleware.NewProviderMetrics()
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize store metrics")
		os.Exit(1)
	}
	verifyMetrics, err := device.NewMetrics()
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize verification metrics")
		os.Exit(1)
	}

	registry := resilience.NewRegistry()

	doc, closeDoc, err := openDocument(ctx, cfg, registry, log)
	if err != nil {
		log.Error().Err(err).Str("backend", cfg.StoreBackend).Msg("failed to open device store")
		os.Exit(1)
	}
	defer closeDoc()

	store := devicestore.NewStore(devicestore.StoreConfig{
		Name:     cfg.StoreBackend,
		Document: doc,
		TTL:      cfg.CacheTTL,
		Logger:   log.With().Str("component", "devicestore").Logger(),
		Metrics:  storeMetrics,
	})

	verifier := device.NewVerifier(device.VerifierConfig{
		Store:   store,
		Logger:  log.With().Str("component", "verifier").Logger(),
		Metrics: verifyMetrics,
	})

	log.Info().
		Str("backend", cfg.StoreBackend).
		Dur("cache_ttl", cfg.CacheTTL).
		Msg("device store ready")

	router := api.NewRouter(api.RouterConfig{
		Version:         Version,
		BuildTime:       BuildTime,
		Logger:          log,
		ServiceName:     serviceName,
		Metrics:         httpMetrics,
		Verifier:        verifier,
		FrontendOrigin:  cfg.FrontendOrigin,
		VerifyRateLimit: cfg.VerifyRateLimit,
		RequireTLS:      cfg.RequireTLS,
		StoreBackend:    cfg.StoreBackend,
		CacheTTL:        cfg.CacheTTL,
		Registry:        registry,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().
			Str("addr", server.Addr).
			Msg("server listening")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
		os.Exit(1)
	}

	log.Info().Msg("server stopped")
}

// openDocument builds the configured document backend. The returned func
// releases its resources.
func openDocument(ctx context.Context, cfg config.Config, registry *resilience.Registry, log zerolog.Logger) (devicestore.Document, func(), error) {
	switch cfg.StoreBackend {
	case config.BackendJSONBin:
		client := jsonbin.NewClient(jsonbin.ClientConfig{
			BinID:      cfg.JSONBin.BinID,
			APIKey:     cfg.JSONBin.APIKey,
			BaseURL:    cfg.JSONBin.BaseURL,
			Timeout:    cfg.JSONBin.Timeout,
			MaxRetries: cfg.JSONBin.MaxRetries,
			Registry:   registry,
			Logger:     log.With().Str("component", "jsonbin").Logger(),
		})
		return client, func() {}, nil

	case config.BackendPostgres:
		pool, err := database.Connect(ctx, cfg.Database)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to database: %w", err)
		}
		doc := devicestore.NewPostgresDocument(pool, cfg.Database.DocumentID)
		if err := doc.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("preparing device schema: %w", err)
		}
		log.Info().
			Str("host", cfg.Database.Host).
			Int("port", cfg.Database.Port).
			Str("database", cfg.Database.Database).
			Msg("database connected")
		return doc, pool.Close, nil

	case config.BackendMemory:
		log.Warn().Msg("using in-memory device store, devices are lost on restart")
		return devicestore.NewMemoryDocument(), func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
