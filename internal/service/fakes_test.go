package service

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"headset_monitor/internal/logger"
	"headset_monitor/internal/models"
	"headset_monitor/internal/repository"
)

var errDisk = errors.New("disk I/O error")

// callLog records store operations across fakes so tests can assert ordering.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(c string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, c)
}

func (l *callLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

type fakeDeviceRepo struct {
	mu         sync.Mutex
	rows       map[string]models.Device
	failUpsert error
	failDelete error
	failList   error
	upserts    int
	deletes    int
}

func newFakeDeviceRepo() *fakeDeviceRepo {
	return &fakeDeviceRepo{rows: make(map[string]models.Device)}
}

func (f *fakeDeviceRepo) List(ctx context.Context, hostname string) ([]models.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failList != nil {
		return nil, f.failList
	}
	var out []models.Device
	for _, d := range f.rows {
		if d.Hostname == hostname {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (f *fakeDeviceRepo) Upsert(ctx context.Context, d models.Device) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts++
	if f.failUpsert != nil {
		return f.failUpsert
	}
	f.rows[d.ID] = d
	return nil
}

func (f *fakeDeviceRepo) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	if f.failDelete != nil {
		return f.failDelete
	}
	delete(f.rows, id)
	return nil
}

func (f *fakeDeviceRepo) setFail(upsert, del error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failUpsert, f.failDelete = upsert, del
}

func (f *fakeDeviceRepo) has(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.rows[id]
	return ok
}

type fakeDongleRepo struct {
	mu   sync.Mutex
	rows map[string]models.Dongle
}

func (f *fakeDongleRepo) List(ctx context.Context, hostname string) ([]models.Dongle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Dongle
	for _, d := range f.rows {
		out = append(out, d)
	}
	return out, nil
}

func (f *fakeDongleRepo) Upsert(ctx context.Context, d models.Dongle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rows == nil {
		f.rows = make(map[string]models.Dongle)
	}
	f.rows[d.ID] = d
	return nil
}

type fakeSessionRepo struct {
	mu         sync.Mutex
	rows       map[int64]models.Session
	nextID     int64
	failInsert error
	failUpdate error
	failRates  error
	inserts    int
	updates    int
	log        *callLog
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{rows: make(map[int64]models.Session)}
}

func (f *fakeSessionRepo) Insert(ctx context.Context, s models.Session) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserts++
	if f.failInsert != nil {
		return 0, f.failInsert
	}
	f.nextID++
	s.ID = f.nextID
	f.rows[s.ID] = s
	f.log.add("session.insert")
	return s.ID, nil
}

func (f *fakeSessionRepo) Update(ctx context.Context, s models.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	if f.failUpdate != nil {
		return f.failUpdate
	}
	f.rows[s.ID] = s
	f.log.add("session.update")
	return nil
}

func (f *fakeSessionRepo) setFail(insert, update error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failInsert, f.failUpdate = insert, update
}

func (f *fakeSessionRepo) ListOpen(ctx context.Context, hostname string) ([]models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Session
	for _, s := range f.sortedLocked() {
		if s.Hostname == hostname && s.IsOpen() {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeSessionRepo) Recent(ctx context.Context, kind models.SessionKind, hostname, deviceID string, limit int) ([]models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Session
	all := f.sortedLocked()
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		s := all[i]
		if s.Kind == kind && s.Hostname == hostname && (deviceID == "" || s.DeviceID == deviceID) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeSessionRepo) RecentRates(ctx context.Context, kind models.SessionKind, hostname, deviceID string, limit int) ([]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failRates != nil {
		return nil, f.failRates
	}
	var out []float64
	all := f.sortedLocked()
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		s := all[i]
		if s.Kind != kind || s.Hostname != hostname || s.End == nil || s.End.Rate == nil || *s.End.Rate <= 0 {
			continue
		}
		if deviceID != "" && s.DeviceID != deviceID {
			continue
		}
		if kind == models.SessionCharging && !s.End.Completed {
			continue
		}
		out = append(out, *s.End.Rate)
	}
	return out, nil
}

func (f *fakeSessionRepo) ChargingSummary(ctx context.Context, hostname string) (models.ChargingSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var sum models.ChargingSummary
	for _, s := range f.rows {
		if s.Kind != models.SessionCharging || s.End == nil {
			continue
		}
		sum.TotalSessions++
		if s.End.Completed {
			sum.CompletedSessions++
		}
	}
	f.log.add("stats.read")
	return sum, nil
}

func (f *fakeSessionRepo) UsageSummary(ctx context.Context, hostname string) (models.UsageSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var sum models.UsageSummary
	for _, s := range f.rows {
		if s.Kind != models.SessionUsage || s.End == nil {
			continue
		}
		sum.TotalSessions++
		sum.TotalUsageTime += s.End.DurationMinutes
		sum.TotalCallTime += s.CallTimeMinutes
	}
	return sum, nil
}

func (f *fakeSessionRepo) sortedLocked() []models.Session {
	out := make([]models.Session, 0, len(f.rows))
	for _, s := range f.rows {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (f *fakeSessionRepo) byKind(kind models.SessionKind) []models.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Session
	for _, s := range f.sortedLocked() {
		if s.Kind == kind {
			out = append(out, s)
		}
	}
	return out
}

type fakeHistoryRepo struct {
	mu     sync.Mutex
	points []models.HistoryPoint
	fail   error
}

func (f *fakeHistoryRepo) Append(ctx context.Context, p models.HistoryPoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.points = append(f.points, p)
	return nil
}

func (f *fakeHistoryRepo) List(ctx context.Context, hostname, deviceID string, since time.Time) ([]models.HistoryPoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.HistoryPoint
	for _, p := range f.points {
		if p.Hostname == hostname && !p.Timestamp.Before(since) && (deviceID == "" || p.DeviceID == deviceID) {
			out = append(out, p)
		}
	}
	return out, nil
}

type fakeStatsRepo struct {
	mu    sync.Mutex
	saved map[string]any
	saves int
	log   *callLog
}

func (f *fakeStatsRepo) Save(ctx context.Context, hostname string, values map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	f.saved = values
	f.log.add("stats.save")
	return nil
}

func (f *fakeStatsRepo) Load(ctx context.Context, hostname string) (map[string]json.RawMessage, error) {
	return nil, nil
}

type recordingCloser struct{ log *callLog }

func (c recordingCloser) Close() error {
	c.log.add("store.close")
	return nil
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakes struct {
	devices  *fakeDeviceRepo
	dongles  *fakeDongleRepo
	sessions *fakeSessionRepo
	history  *fakeHistoryRepo
	stats    *fakeStatsRepo
	log      *callLog
	clock    *fakeClock
}

func (f *fakes) repos() *repository.Repository {
	return &repository.Repository{
		Devices:  f.devices,
		Dongles:  f.dongles,
		Sessions: f.sessions,
		History:  f.history,
		Stats:    f.stats,
	}
}

func newFakes() *fakes {
	log := &callLog{}
	return &fakes{
		devices:  newFakeDeviceRepo(),
		dongles:  &fakeDongleRepo{},
		sessions: &fakeSessionRepo{rows: make(map[int64]models.Session), log: log},
		history:  &fakeHistoryRepo{},
		stats:    &fakeStatsRepo{log: log},
		log:      log,
		clock:    newFakeClock(),
	}
}

// eventSink collects published events.
type eventSink struct {
	mu     sync.Mutex
	events []models.Event
}

func (s *eventSink) Notify(ev models.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *eventSink) types() []models.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.EventType, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.Type)
	}
	return out
}

func (s *eventSink) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
}

func testConfig(f *fakes) Config {
	cfg := DefaultConfig()
	cfg.Hostname = "desk-pc"
	cfg.FlushInterval = 0
	cfg.WriteTimeout = 0
	cfg.Now = f.clock.Now
	return cfg
}

// newTestEngine builds a started engine over fakes with the flusher disabled.
func newTestEngine(t *testing.T, f *fakes) (*Engine, *eventSink) {
	t.Helper()
	sink := &eventSink{}
	e := NewEngine(testConfig(f), f.repos(), logger.NewNop(), sink)
	e.store = recordingCloser{log: f.log}
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return e, sink
}

func intRef(v int) *int       { return &v }
func boolRef(v bool) *bool    { return &v }
func strRef(v string) *string { return &v }
