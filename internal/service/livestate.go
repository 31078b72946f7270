package service

import (
	"sort"
	"sync"
	"time"

	"headset_monitor/internal/models"
)

// StatePatch carries the live fields reported by telemetry. Nil fields are untouched.
type StatePatch struct {
	BatteryLevel   *int  `json:"battery_level,omitempty"`
	IsCharging     *bool `json:"is_charging,omitempty"`
	IsInCall       *bool `json:"is_in_call,omitempty"`
	IsMuted        *bool `json:"is_muted,omitempty"`
	SignalStrength *int  `json:"signal_strength,omitempty"`
}

func (p StatePatch) apply(d *models.LiveDevice) {
	if p.BatteryLevel != nil {
		lvl := clampLevel(*p.BatteryLevel)
		d.BatteryLevel = &lvl
	}
	if p.IsCharging != nil {
		d.IsCharging = *p.IsCharging
	}
	if p.IsInCall != nil {
		d.IsInCall = *p.IsInCall
	}
	if p.IsMuted != nil {
		d.IsMuted = *p.IsMuted
	}
	if p.SignalStrength != nil {
		s := *p.SignalStrength
		d.SignalStrength = &s
	}
}

// LiveTable holds the state of every powered-on device. Every accessor returns copies.
type LiveTable struct {
	mu   sync.RWMutex
	live map[string]models.LiveDevice
	now  func() time.Time
}

func NewLiveTable(now func() time.Time) *LiveTable {
	if now == nil {
		now = time.Now
	}
	return &LiveTable{live: make(map[string]models.LiveDevice), now: now}
}

// TurnOn inserts d with the initial state. The second result is false when d was already live,
// in which case the patch is merged into the existing entry.
func (t *LiveTable) TurnOn(d models.Device, initial StatePatch) (models.LiveDevice, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur, exists := t.live[d.ID]
	if !exists {
		cur = models.LiveDevice{Device: d, IsOn: true}
	}
	initial.apply(&cur)
	cur.LastUpdate = t.now().UTC()
	t.live[d.ID] = cur
	return copyLive(cur), !exists
}

// TurnOff evicts id and returns its last state.
func (t *LiveTable) TurnOff(id string) (models.LiveDevice, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur, ok := t.live[id]
	if !ok {
		return models.LiveDevice{}, false
	}
	delete(t.live, id)
	cur.IsOn = false
	return copyLive(cur), true
}

// UpdateState merges patch into the entry for id. It is a no-op for devices that are not live.
func (t *LiveTable) UpdateState(id string, patch StatePatch) (models.LiveDevice, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur, ok := t.live[id]
	if !ok {
		return models.LiveDevice{}, false
	}
	patch.apply(&cur)
	cur.LastUpdate = t.now().UTC()
	t.live[id] = cur
	return copyLive(cur), true
}

func (t *LiveTable) Get(id string) (models.LiveDevice, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	cur, ok := t.live[id]
	if !ok {
		return models.LiveDevice{}, false
	}
	return copyLive(cur), true
}

// List returns live devices ordered by number.
func (t *LiveTable) List() []models.LiveDevice {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]models.LiveDevice, 0, len(t.live))
	for _, d := range t.live {
		out = append(out, copyLive(d))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Number != out[j].Number {
			return out[i].Number < out[j].Number
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (t *LiveTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.live)
}

// copyLive detaches pointer fields so callers cannot mutate the table.
func copyLive(d models.LiveDevice) models.LiveDevice {
	if d.BatteryLevel != nil {
		v := *d.BatteryLevel
		d.BatteryLevel = &v
	}
	if d.SignalStrength != nil {
		v := *d.SignalStrength
		d.SignalStrength = &v
	}
	if d.SerialNumber != nil {
		v := *d.SerialNumber
		d.SerialNumber = &v
	}
	if d.FirmwareVersion != nil {
		v := *d.FirmwareVersion
		d.FirmwareVersion = &v
	}
	return d
}

func clampLevel(level int) int {
	switch {
	case level < 0:
		return 0
	case level > 100:
		return 100
	default:
		return level
	}
}
