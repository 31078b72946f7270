package handlers

import (
	"context"
	"net/http"
	"time"

	"headset_monitor/internal/models"
	"headset_monitor/internal/service"

	"github.com/gin-gonic/gin"
)

// ---- Service Mocks ----

type mockAuth struct {
	enabled       bool
	genTokenToken string
	genTokenErr   error
	parseUser     string
	parseErr      error

	lastGenUsername string
	lastGenPassword string
	lastParseToken  string
}

func (m *mockAuth) Enabled() bool { return m.enabled }
func (m *mockAuth) GenerateToken(username, password string) (string, error) {
	m.lastGenUsername = username
	m.lastGenPassword = password
	return m.genTokenToken, m.genTokenErr
}
func (m *mockAuth) ParseToken(token string) (string, error) {
	m.lastParseToken = token
	return m.parseUser, m.parseErr
}

type mockRegistry struct {
	devices []models.Device
	device  models.Device
	err     error

	lastRegister service.RegisterInput
	lastPatch    service.DevicePatch
	lastID       string
	removeCalled int
}

func (m *mockRegistry) Register(ctx context.Context, in service.RegisterInput) (models.Device, error) {
	m.lastRegister = in
	return m.device, m.err
}
func (m *mockRegistry) Update(ctx context.Context, id string, patch service.DevicePatch) (models.Device, error) {
	m.lastID = id
	m.lastPatch = patch
	return m.device, m.err
}
func (m *mockRegistry) Remove(ctx context.Context, id string) (models.Device, error) {
	m.lastID = id
	m.removeCalled++
	return m.device, m.err
}
func (m *mockRegistry) Devices() []models.Device { return m.devices }
func (m *mockRegistry) Device(id string) (models.Device, error) {
	m.lastID = id
	return m.device, m.err
}

type mockMonitoring struct {
	active    []models.LiveDevice
	dongles   []models.Dongle
	colors    []models.ColorInfo
	estimates models.Estimates
	estErr    error
	state     models.SystemState
	info      models.ServerInfo
}

func (m *mockMonitoring) Active() []models.LiveDevice { return m.active }
func (m *mockMonitoring) Dongles() []models.Dongle    { return m.dongles }
func (m *mockMonitoring) Colors() []models.ColorInfo  { return m.colors }
func (m *mockMonitoring) Estimates(ctx context.Context, id string) (models.Estimates, error) {
	return m.estimates, m.estErr
}
func (m *mockMonitoring) SystemState() models.SystemState { return m.state }
func (m *mockMonitoring) WithSystemState(fn func(models.SystemState)) {
	fn(m.state)
}
func (m *mockMonitoring) ServerInfo() models.ServerInfo   { return m.info }

type mockStats struct {
	stats    models.Statistics
	points   []models.HistoryPoint
	sessions []models.Session
	err      error

	lastHours    float64
	lastLimit    int
	lastDeviceID string
}

func (m *mockStats) Statistics(ctx context.Context) (models.Statistics, error) {
	return m.stats, m.err
}
func (m *mockStats) BatteryHistory(ctx context.Context, hours float64, deviceID string) ([]models.HistoryPoint, error) {
	m.lastHours = hours
	m.lastDeviceID = deviceID
	return m.points, m.err
}
func (m *mockStats) ChargingHistory(ctx context.Context, limit int, deviceID string) ([]models.Session, error) {
	m.lastLimit = limit
	m.lastDeviceID = deviceID
	return m.sessions, m.err
}
func (m *mockStats) UsageHistory(ctx context.Context, limit int, deviceID string) ([]models.Session, error) {
	m.lastLimit = limit
	m.lastDeviceID = deviceID
	return m.sessions, m.err
}

type mockTelemetry struct {
	err    error
	events []models.TelemetryEvent
}

func (m *mockTelemetry) Handle(ctx context.Context, ev models.TelemetryEvent) error {
	m.events = append(m.events, ev)
	return m.err
}

// ---- Shared Test Helpers ----

func newTestRouter(s *service.Service) *gin.Engine {
	if s.Authorization == nil {
		s.Authorization = &mockAuth{}
	}
	h := NewHandler(s, nil, nil)
	gin.SetMode(gin.TestMode)
	return h.InitRoutes()
}

func authHeader(token string) http.Header {
	h := http.Header{}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return h
}

var testTime = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
