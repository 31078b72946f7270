package service

import (
	"context"
	"fmt"

	"headset_monitor/internal/models"
)

// Devices lists registered devices ordered by number.
func (e *Engine) Devices() []models.Device { return e.registry.List() }

// Device returns one registered device.
func (e *Engine) Device(id string) (models.Device, error) {
	d, ok := e.registry.Get(id)
	if !ok {
		return models.Device{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return d, nil
}

// Active lists live devices ordered by number.
func (e *Engine) Active() []models.LiveDevice { return e.live.List() }

func (e *Engine) LiveDevice(id string) (models.LiveDevice, bool) { return e.live.Get(id) }

func (e *Engine) Dongles() []models.Dongle { return e.dongles.List() }

// Colors returns the palette with the owner of each taken color.
func (e *Engine) Colors() []models.ColorInfo { return e.registry.Policy().Colors() }

// Estimates computes the bundle for a registered device. Devices that are off have an unknown level.
func (e *Engine) Estimates(ctx context.Context, id string) (models.Estimates, error) {
	if live, ok := e.live.Get(id); ok {
		return e.estimator.Estimates(ctx, live), nil
	}
	d, ok := e.registry.Get(id)
	if !ok {
		return models.Estimates{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e.estimator.Estimates(ctx, models.LiveDevice{Device: d}), nil
}

// SessionState reports the tracker position of a device.
func (e *Engine) SessionState(id string) SessionState {
	tr := e.tracker(id)
	if tr == nil {
		return StateNoSession
	}
	return tr.State()
}

// OpenSession returns the open session of a device.
func (e *Engine) OpenSession(id string) (models.Session, bool) {
	tr := e.tracker(id)
	if tr == nil {
		return models.Session{}, false
	}
	return tr.Open()
}

// SystemState returns registry, live table and dongles as one consistent snapshot.
func (e *Engine) SystemState() models.SystemState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.systemStateLocked()
}

// WithSystemState runs fn with a consistent snapshot. No event is published while fn runs,
// so a subscriber attached inside fn sees every event that follows the snapshot.
func (e *Engine) WithSystemState(fn func(models.SystemState)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.systemStateLocked())
}

func (e *Engine) systemStateLocked() models.SystemState {
	return models.SystemState{
		Hostname:   e.cfg.Hostname,
		Registered: e.registry.List(),
		Active:     e.live.List(),
		Dongles:    e.dongles.List(),
		Colors:     e.Colors(),
	}
}

func (e *Engine) ServerInfo() models.ServerInfo {
	return models.ServerInfo{
		Hostname:      e.cfg.Hostname,
		Version:       e.cfg.Version,
		StartedAt:     e.startedAt.UTC(),
		UptimeSeconds: int64(e.now().Sub(e.startedAt).Seconds()),
		ActiveDevices: e.live.Len(),
		MaxDevices:    MaxDevices(),
	}
}
