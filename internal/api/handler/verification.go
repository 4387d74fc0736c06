package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/devicegate/devicegate/internal/api/models"
	"github.com/devicegate/devicegate/internal/api/response"
	"github.com/devicegate/devicegate/internal/device"
)

// DeviceVerifier decides device verdicts and exposes the device table.
type DeviceVerifier interface {
	Verify(ctx context.Context, sig device.Signals) device.Result
	ListDevices(ctx context.Context) *device.Table
}

// VerificationHandler handles the device verification endpoints.
type VerificationHandler struct {
	verifier DeviceVerifier
	now      func() time.Time
}

// NewVerificationHandler creates a new VerificationHandler.
func NewVerificationHandler(verifier DeviceVerifier) *VerificationHandler {
	return &VerificationHandler{
		verifier: verifier,
		now:      time.Now,
	}
}

// VerifyDevice handles POST /verify-device.
func (h *VerificationHandler) VerifyDevice(w http.ResponseWriter, r *http.Request) {
	sig := device.ExtractSignals(r, h.now())
	res := h.verifier.Verify(r.Context(), sig)

	status := http.StatusOK
	if res.Status == device.StatusError {
		status = http.StatusInternalServerError
	}
	response.JSON(w, r, status, models.NewVerifyDeviceResponse(res))
}

// ListDevices handles GET /device-list.
func (h *VerificationHandler) ListDevices(w http.ResponseWriter, r *http.Request) {
	table := h.verifier.ListDevices(r.Context())
	response.JSON(w, r, http.StatusOK, models.NewDeviceListResponse(table))
}
