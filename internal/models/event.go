package models

import "time"

// EventType tags the change notifications published by the engine.
type EventType string

const (
	EventRegistered         EventType = "registered"
	EventUpdated            EventType = "updated"
	EventRemoved            EventType = "removed"
	EventTurnedOn           EventType = "turned_on"
	EventTurnedOff          EventType = "turned_off"
	EventStateUpdated       EventType = "state_updated"
	EventChargingStarted    EventType = "charging_started"
	EventChargingEnded      EventType = "charging_ended"
	EventUsageStarted       EventType = "usage_started"
	EventUsageEnded         EventType = "usage_ended"
	EventDongleConnected    EventType = "dongle_connected"
	EventDongleDisconnected EventType = "dongle_disconnected"
)

// Event is a change notification. Data holds the entity snapshot relevant to Type.
type Event struct {
	Type      EventType `json:"type"`
	DeviceID  string    `json:"device_id,omitempty"`
	Data      any       `json:"data,omitempty"`
	Hostname  string    `json:"hostname"`
	Timestamp time.Time `json:"timestamp"`
}

// TurnedOffData is the payload of a turned_off event.
type TurnedOffData struct {
	Reason    string     `json:"reason"`
	LastState LiveDevice `json:"last_state"`
}

// Estimates is the estimate bundle computed for a device.
type Estimates struct {
	BatteryLevel     *int     `json:"battery_level"`
	IsCharging       bool     `json:"is_charging"`
	TimeToFullCharge *float64 `json:"time_to_full_charge"` // minutes
	TimeToEmpty      *float64 `json:"time_to_empty"`       // minutes
	ChargingRate     *float64 `json:"charging_rate"`       // %/minute
	DrainRate        *float64 `json:"drain_rate"`          // %/minute, activity adjusted
}

// SessionEventData is the payload of charging/usage started and ended events.
type SessionEventData struct {
	Session  Session  `json:"session"`
	Estimate *float64 `json:"estimate_minutes,omitempty"`
}
