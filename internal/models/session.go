package models

import "time"

// SessionKind tags the two session variants.
type SessionKind string

const (
	SessionCharging SessionKind = "charging"
	SessionUsage    SessionKind = "usage"
)

// Session is one contiguous charging or usage interval of a device's battery timeline.
// A session is open while End is nil.
type Session struct {
	ID           int64       `json:"id"`
	DeviceID     string      `json:"device_id"`
	Hostname     string      `json:"hostname"`
	Kind         SessionKind `json:"kind"`
	StartTime    time.Time   `json:"start_time"`
	StartLevel   int         `json:"start_level"`
	CurrentLevel int         `json:"current_level"`

	// CallTimeMinutes is only accumulated for usage sessions.
	CallTimeMinutes float64     `json:"call_time_minutes,omitempty"`
	UpdatedAt       time.Time   `json:"updated_at"`
	End             *SessionEnd `json:"end,omitempty"`
}

// SessionEnd is the closed sub-state of a Session.
type SessionEnd struct {
	EndTime         time.Time `json:"end_time"`
	EndLevel        int       `json:"end_level"`
	DurationMinutes float64   `json:"duration_minutes"`

	// Rate is %/minute gained (charging) or drained (usage); nil when duration is zero.
	Rate      *float64 `json:"rate"`
	Completed bool     `json:"completed"`
}

// IsOpen reports whether the session has not been closed yet.
func (s Session) IsOpen() bool { return s.End == nil }

// HistoryPoint is one immutable battery sample.
type HistoryPoint struct {
	DeviceID     string    `json:"device_id"`
	Hostname     string    `json:"hostname"`
	Timestamp    time.Time `json:"timestamp"`
	BatteryLevel int       `json:"battery_level"`
	IsCharging   bool      `json:"is_charging"`
	IsInCall     bool      `json:"is_in_call"`
	IsMuted      bool      `json:"is_muted"`
}
