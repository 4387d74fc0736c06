package models

import "github.com/devicegate/devicegate/internal/device"

// VerifyDeviceResponse is the body of POST /verify-device.
type VerifyDeviceResponse struct {
	IPAddress string `json:"ip_address"`
	UserAgent string `json:"user_agent"`
	Status    string `json:"status"`
	Message   string `json:"message"`
	// DeviceID is null when the verification errored.
	DeviceID *string `json:"device_id"`
	Action   string  `json:"action,omitempty"`
}

// NewVerifyDeviceResponse maps a verification result to its wire form.
func NewVerifyDeviceResponse(res device.Result) VerifyDeviceResponse {
	resp := VerifyDeviceResponse{
		IPAddress: res.IPAddress,
		UserAgent: res.UserAgent,
		Status:    string(res.Status),
		Message:   res.Message,
		Action:    string(res.Action),
	}
	if res.DeviceID != "" {
		id := res.DeviceID
		resp.DeviceID = &id
	}
	return resp
}

// DeviceListResponse is the body of GET /device-list.
type DeviceListResponse struct {
	TotalDevices int           `json:"total_devices"`
	Devices      *device.Table `json:"devices"`
}

// NewDeviceListResponse wraps a device table for rendering.
func NewDeviceListResponse(table *device.Table) DeviceListResponse {
	if table == nil {
		table = device.NewTable()
	}
	return DeviceListResponse{TotalDevices: table.Len(), Devices: table}
}
