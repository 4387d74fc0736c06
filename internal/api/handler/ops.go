// Package handler provides HTTP handlers for the devicegate API.
package handler

import (
	"net/http"
	"time"

	"github.com/devicegate/devicegate/internal/api/models"
	"github.com/devicegate/devicegate/internal/api/response"
	"github.com/devicegate/devicegate/internal/provider/resilience"
)

// OpsConfig holds configuration for the OpsHandler.
type OpsConfig struct {
	Version   string
	BuildTime string

	// StoreBackend and CacheTTL are reported by the status endpoint.
	StoreBackend string
	CacheTTL     time.Duration

	// Registry is nil when no remote provider is configured.
	Registry *resilience.Registry
}

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	cfg OpsConfig
}

// NewOpsHandler creates a new OpsHandler.
func NewOpsHandler(cfg OpsConfig) *OpsHandler {
	return &OpsHandler{cfg: cfg}
}

// HealthCheck handles GET /ops/health - liveness check.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(time.Now()),
		Details: map[string]interface{}{
			"version":   h.cfg.Version,
			"buildTime": h.cfg.BuildTime,
		},
	}
	response.JSON(w, r, http.StatusOK, health)
}

// ReadinessCheck handles GET /ops/ready. It fails while any provider circuit is open.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	for _, p := range h.providers() {
		if p.Status == models.HealthStatusFail {
			response.ServiceUnavailable(w, r, p.Provider+" circuit is open")
			return
		}
	}

	response.JSON(w, r, http.StatusOK, models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(time.Now()),
	})
}

// SystemStatus handles GET /ops/status - store and provider status.
func (h *OpsHandler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	providers := h.providers()

	overall := models.HealthStatusOK
	for _, p := range providers {
		switch p.Status {
		case models.HealthStatusFail:
			overall = models.HealthStatusFail
		case models.HealthStatusDegraded:
			if overall == models.HealthStatusOK {
				overall = models.HealthStatusDegraded
			}
		}
	}

	response.JSON(w, r, http.StatusOK, models.SystemStatus{
		Status: overall,
		Time:   models.Timestamp(time.Now()),
		Store: models.StoreStatus{
			Backend:  h.cfg.StoreBackend,
			CacheTTL: h.cfg.CacheTTL.String(),
		},
		Providers: providers,
	})
}

func (h *OpsHandler) providers() []models.ProviderStatus {
	if h.cfg.Registry == nil {
		return []models.ProviderStatus{}
	}

	all := h.cfg.Registry.GetAllHealth()
	out := make([]models.ProviderStatus, 0, len(all))
	for _, health := range all {
		status := models.HealthStatusFail
		switch {
		case health.IsHealthy():
			status = models.HealthStatusOK
		case health.IsDegraded():
			status = models.HealthStatusDegraded
		}

		ps := models.ProviderStatus{
			Provider:     health.Name,
			Status:       status,
			CircuitState: health.CircuitState.String(),
		}
		if health.LastSuccessAt != nil {
			ts := models.Timestamp(*health.LastSuccessAt)
			ps.LastSuccessAt = &ts
		}
		if health.LastFailureAt != nil {
			ts := models.Timestamp(*health.LastFailureAt)
			ps.LastFailureAt = &ts
		}
		if health.LastError != "" {
			msg := health.LastError
			ps.Message = &msg
		}
		out = append(out, ps)
	}
	return out
}
