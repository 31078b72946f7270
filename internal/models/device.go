package models

import "time"

// Device is the durable identity of a registered headset.
type Device struct {
	ID              string    `json:"id"`
	Hostname        string    `json:"hostname"`
	SerialNumber    *string   `json:"serial_number,omitempty"`
	Name            string    `json:"name"`
	Model           string    `json:"model"`
	Color           string    `json:"color"`
	Number          int       `json:"number"`
	FirmwareVersion *string   `json:"firmware_version,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// LiveDevice is the in-memory state of a device that is currently powered on.
// Identity fields are a snapshot taken when the device turned on.
type LiveDevice struct {
	Device
	IsOn           bool      `json:"is_on"`
	BatteryLevel   *int      `json:"battery_level"` // nil = unknown
	IsCharging     bool      `json:"is_charging"`
	IsInCall       bool      `json:"is_in_call"`
	IsMuted        bool      `json:"is_muted"`
	SignalStrength *int      `json:"signal_strength,omitempty"`
	LastUpdate     time.Time `json:"last_update"`
}

// Dongle is an auxiliary wireless receiver, associated with zero or one headset.
type Dongle struct {
	ID        string    `json:"id"`
	Hostname  string    `json:"hostname"`
	HeadsetID *string   `json:"headset_id,omitempty"`
	Name      string    `json:"name"`
	Connected bool      `json:"connected"`
	LastSeen  time.Time `json:"last_seen"`
}

// ColorInfo describes one entry of the identity color palette.
type ColorInfo struct {
	Key     string  `json:"key"`
	Name    string  `json:"name"`
	Hex     string  `json:"hex"`
	RGB     string  `json:"rgb"`
	OwnerID *string `json:"owner_id,omitempty"`
}

// SystemState is the snapshot sent to new change-stream subscribers.
type SystemState struct {
	Hostname   string       `json:"hostname"`
	Registered []Device     `json:"registered"`
	Active     []LiveDevice `json:"active"`
	Dongles    []Dongle     `json:"dongles"`
	Colors     []ColorInfo  `json:"colors"`
}

// ServerInfo describes the running process.
type ServerInfo struct {
	Hostname      string    `json:"hostname"`
	Version       string    `json:"version"`
	StartedAt     time.Time `json:"started_at"`
	UptimeSeconds int64     `json:"uptime_seconds"`
	ActiveDevices int       `json:"active_devices"`
	MaxDevices    int       `json:"max_devices"`
}
