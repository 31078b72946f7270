package models

import "time"

// TelemetryType enumerates the events supplied by the hardware/SDK binding.
type TelemetryType string

const (
	TelemetryDeviceDetected     TelemetryType = "device_detected"
	TelemetryDeviceRemoved      TelemetryType = "device_removed"
	TelemetryDeviceConnected    TelemetryType = "device_connected"
	TelemetryDeviceDisconnected TelemetryType = "device_disconnected"
	TelemetryBatteryChanged     TelemetryType = "battery_changed"
	TelemetryCallStateChanged   TelemetryType = "call_state_changed"
	TelemetryMuteChanged        TelemetryType = "mute_changed"
)

// Disconnect reasons carried by device_disconnected and turned_off.
const (
	ReasonNormal         = "normal"
	ReasonConnectionLost = "connection_lost"
)

// TelemetryEvent is a single event from the telemetry feed. Only the fields
// relevant to Type are set.
type TelemetryEvent struct {
	Type            TelemetryType `json:"type" binding:"required"`
	DeviceID        string        `json:"device_id,omitempty"`
	Name            string        `json:"name,omitempty"`
	ProductID       string        `json:"product_id,omitempty"`
	DongleID        string        `json:"dongle_id,omitempty"`
	SerialNumber    string        `json:"serial_number,omitempty"`
	FirmwareVersion string        `json:"firmware_version,omitempty"`
	Model           string        `json:"model,omitempty"`
	Level           *int          `json:"level,omitempty"`
	IsCharging      *bool         `json:"is_charging,omitempty"`
	IsInCall        *bool         `json:"is_in_call,omitempty"`
	IsMuted         *bool         `json:"is_muted,omitempty"`
	SignalStrength  *int          `json:"signal_strength,omitempty"`
	Reason          string        `json:"reason,omitempty"`
	At              time.Time     `json:"at,omitempty"`
}
