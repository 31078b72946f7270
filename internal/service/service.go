package service

import (
	"context"

	"headset_monitor/internal/logger"
	"headset_monitor/internal/models"
	"headset_monitor/internal/repository"
)

// DeviceRegistry exposes identity management.
type DeviceRegistry interface {
	Register(ctx context.Context, in RegisterInput) (models.Device, error)
	Update(ctx context.Context, id string, patch DevicePatch) (models.Device, error)
	Remove(ctx context.Context, id string) (models.Device, error)
	Devices() []models.Device
	Device(id string) (models.Device, error)
}

// Monitoring exposes read-only live state.
type Monitoring interface {
	Active() []models.LiveDevice
	Dongles() []models.Dongle
	Colors() []models.ColorInfo
	Estimates(ctx context.Context, id string) (models.Estimates, error)
	SystemState() models.SystemState
	WithSystemState(fn func(models.SystemState))
	ServerInfo() models.ServerInfo
}

// Stats exposes aggregates and history.
type Stats interface {
	Statistics(ctx context.Context) (models.Statistics, error)
	BatteryHistory(ctx context.Context, hours float64, deviceID string) ([]models.HistoryPoint, error)
	ChargingHistory(ctx context.Context, limit int, deviceID string) ([]models.Session, error)
	UsageHistory(ctx context.Context, limit int, deviceID string) ([]models.Session, error)
}

// Telemetry ingests events from the SDK bridge.
type Telemetry interface {
	Handle(ctx context.Context, ev models.TelemetryEvent) error
}

type Authorization interface {
	Enabled() bool
	GenerateToken(username, password string) (string, error)
	ParseToken(accessToken string) (string, error)
}

// Service aggregates the sub-services used by the transport layer.
type Service struct {
	DeviceRegistry
	Monitoring
	Stats
	Telemetry
	Authorization

	// Engine drives startup, the feed and shutdown from main.
	Engine *Engine
}

func NewService(cfg Config, auth AuthConfig, repos *repository.Repository, log *logger.Logger, subs ...Subscriber) *Service {
	engine := NewEngine(cfg, repos, log, subs...)
	return &Service{
		DeviceRegistry: engine,
		Monitoring:     engine,
		Stats:          engine,
		Telemetry:      engine,
		Authorization:  NewAuthService(auth),
		Engine:         engine,
	}
}
