// Package api provides the HTTP API for devicegate.
package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/devicegate/devicegate/internal/api/handler"
	"github.com/devicegate/devicegate/internal/api/middleware"
	"github.com/devicegate/devicegate/internal/provider/resilience"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version     string
	BuildTime   string
	Logger      zerolog.Logger
	ServiceName string
	Metrics     *middleware.Metrics
	Verifier    handler.DeviceVerifier

	// FrontendOrigin is the only origin allowed by CORS.
	FrontendOrigin string
	// VerifyRateLimit is the per-IP requests/minute on /verify-device. Zero
	// disables the limit so every verification gets a verdict.
	VerifyRateLimit int
	RequireTLS      bool

	// Reported by /ops/status.
	StoreBackend string
	CacheTTL     time.Duration
	Registry     *resilience.Registry
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "devicegate-api"
	}

	// Global middleware - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.Tracing(serviceName))
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware())
	}
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.CORS(cfg.FrontendOrigin))
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.RequireTLS(cfg.RequireTLS))
	r.Use(middleware.ContentTypeJSON)

	opsHandler := handler.NewOpsHandler(handler.OpsConfig{
		Version:      cfg.Version,
		BuildTime:    cfg.BuildTime,
		StoreBackend: cfg.StoreBackend,
		CacheTTL:     cfg.CacheTTL,
		Registry:     cfg.Registry,
	})
	verificationHandler := handler.NewVerificationHandler(cfg.Verifier)

	if cfg.VerifyRateLimit > 0 {
		verifyLimit := middleware.RateLimitConfig{RequestLimit: cfg.VerifyRateLimit, WindowLength: time.Minute}
		r.With(middleware.RateLimitByIP(verifyLimit)).Post("/verify-device", verificationHandler.VerifyDevice)
	} else {
		r.Post("/verify-device", verificationHandler.VerifyDevice)
	}
	r.Get("/device-list", verificationHandler.ListDevices)

	r.Route("/ops", func(r chi.Router) {
		r.Get("/health", opsHandler.HealthCheck)
		r.Get("/ready", opsHandler.ReadinessCheck)
		r.Get("/status", opsHandler.SystemStatus)
	})

	return r
}
