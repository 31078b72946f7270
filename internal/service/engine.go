package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"headset_monitor/internal/logger"
	"headset_monitor/internal/models"
	"headset_monitor/internal/repository"
)

// Config tunes the engine. Zero values fall back to DefaultConfig.
type Config struct {
	Hostname                   string
	Version                    string
	AutoRegisterUnknownDevices bool
	FlushInterval              time.Duration
	RollingWindow              int
	DefaultModel               string
	HistoryBufferSize          int
	WriteTimeout               time.Duration
	Specs                      Specs
	Factors                    ConsumptionFactors
	Now                        func() time.Time
}

func DefaultConfig() Config {
	return Config{
		Hostname:                   "localhost",
		Version:                    "dev",
		AutoRegisterUnknownDevices: true,
		FlushInterval:              time.Minute,
		RollingWindow:              defaultRollingWindow,
		DefaultModel:               "Jabra Engage 55 Mono",
		HistoryBufferSize:          defaultHistoryBuffer,
		WriteTimeout:               2 * time.Second,
		Specs:                      DefaultSpecs(),
		Factors:                    DefaultFactors(),
		Now:                        time.Now,
	}
}

// Engine owns the registry, live table, session trackers, estimator and history of one host.
// Every mutation runs under mu, which gives the telemetry feed its sequential order.
type Engine struct {
	cfg Config
	log *logger.Logger
	now func() time.Time

	mu sync.Mutex

	registry  *Registry
	live      *LiveTable
	dongles   *DongleTable
	history   *HistoryRecorder
	estimator *Estimator
	publisher *Publisher
	sessions  repository.SessionRepo
	stats     repository.StatsRepo
	store     io.Closer

	trackersMu sync.RWMutex
	trackers   map[string]*SessionTracker

	startedAt time.Time
	stopFlush context.CancelFunc
	flushDone chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func NewEngine(cfg Config, repos *repository.Repository, log *logger.Logger, subs ...Subscriber) *Engine {
	def := DefaultConfig()
	if cfg.Hostname == "" {
		cfg.Hostname = def.Hostname
	}
	if cfg.Version == "" {
		cfg.Version = def.Version
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = def.DefaultModel
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if log == nil {
		log = logger.NewNop()
	}

	e := &Engine{
		cfg:       cfg,
		log:       log,
		now:       cfg.Now,
		registry:  NewRegistry(repos.Devices, cfg.Hostname, cfg.DefaultModel, cfg.Now, cfg.WriteTimeout),
		live:      NewLiveTable(cfg.Now),
		dongles:   NewDongleTable(repos.Dongles, cfg.Hostname, cfg.WriteTimeout, cfg.Now),
		history:   NewHistoryRecorder(repos.History, cfg.Hostname, cfg.HistoryBufferSize, cfg.WriteTimeout, cfg.Now),
		estimator: NewEstimator(repos.Sessions, cfg.Hostname, cfg.RollingWindow, cfg.Specs, cfg.Factors, cfg.WriteTimeout, log),
		publisher: NewPublisher(cfg.Hostname, cfg.Now, subs...),
		sessions:  repos.Sessions,
		stats:     repos.Stats,
		store:     repos,
		trackers:  make(map[string]*SessionTracker),
		startedAt: cfg.Now(),
	}
	return e
}

// Start restores durable state, closes sessions orphaned by a crash and starts the flusher.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.registry.Load(ctx); err != nil {
		return err
	}
	if err := e.dongles.Load(ctx); err != nil {
		e.log.Warnw("dongles_load_failed", "err", err)
	}
	if n, err := e.closeOrphans(ctx); err != nil {
		e.log.Warnw("orphan_sessions_close_failed", "closed", n, "err", err)
	} else if n > 0 {
		e.log.Infow("orphan_sessions_closed", "count", n)
	}

	e.startedAt = e.now()
	if e.cfg.FlushInterval > 0 {
		fctx, cancel := context.WithCancel(context.Background())
		e.stopFlush = cancel
		e.flushDone = make(chan struct{})
		go e.runFlusher(fctx, e.cfg.FlushInterval)
	}
	e.log.Infow("engine_started",
		"hostname", e.cfg.Hostname,
		"registered", e.registry.Len(),
		"flush_interval", e.cfg.FlushInterval.String(),
	)
	return nil
}

// closeOrphans closes every durable open session at its last progress point.
func (e *Engine) closeOrphans(ctx context.Context) (int, error) {
	rctx, cancel := withTimeout(ctx, e.cfg.WriteTimeout)
	open, err := e.sessions.ListOpen(rctx, e.cfg.Hostname)
	cancel()
	if err != nil {
		return 0, storageErr("list open sessions", err)
	}

	var (
		closed int
		errs   []error
	)
	for _, s := range open {
		s = closeSession(s, s.CurrentLevel, s.UpdatedAt)
		wctx, cancel := withTimeout(ctx, e.cfg.WriteTimeout)
		err := e.sessions.Update(wctx, s)
		cancel()
		if err != nil {
			errs = append(errs, storageErr("close orphan session", err))
			continue
		}
		closed++
	}
	return closed, errors.Join(errs...)
}

func (e *Engine) runFlusher(ctx context.Context, every time.Duration) {
	defer close(e.flushDone)
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.Flush(ctx); err != nil {
				e.log.Warnw("periodic_flush_failed", "err", err)
			}
		}
	}
}

// Flush retries dirty registry rows and pending session writes, then persists
// session progress and the stats snapshot.
func (e *Engine) Flush(ctx context.Context) error {
	var errs []error
	// registry writes are ordered with Register/Update/Remove
	e.mu.Lock()
	errs = append(errs, e.registry.FlushPending(ctx))
	e.mu.Unlock()
	for _, tr := range e.trackerList() {
		errs = append(errs, tr.FlushProgress(ctx))
	}
	errs = append(errs, e.FlushStats(ctx))
	return errors.Join(errs...)
}

// Shutdown stops the flusher, force-closes open sessions, flushes stats and closes the store.
// Calls after the first return the first result.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.closeOnce.Do(func() {
		if e.stopFlush != nil {
			e.stopFlush()
			<-e.flushDone
		}

		e.mu.Lock()
		defer e.mu.Unlock()

		var errs []error
		at := e.now()
		for _, tr := range e.trackerList() {
			closed, err := tr.PowerOff(ctx, at)
			if errors.Is(err, ErrNoOpenSession) {
				continue
			}
			if closed != nil {
				e.publishEnded(*closed)
			}
			if err != nil {
				errs = append(errs, err)
				errs = append(errs, tr.FlushProgress(ctx))
			}
		}

		errs = append(errs, e.FlushStats(ctx))
		errs = append(errs, e.registry.FlushPending(ctx))

		if e.store != nil {
			if err := e.store.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close store: %w", err))
			}
		}
		e.closeErr = errors.Join(errs...)
		e.log.Infow("engine_stopped", "err", e.closeErr)
	})
	return e.closeErr
}

// Consume handles events from feed until it is closed or ctx is done.
func (e *Engine) Consume(ctx context.Context, feed <-chan models.TelemetryEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-feed:
			if !ok {
				return
			}
			if err := e.Handle(ctx, ev); err != nil {
				e.log.Warnw("telemetry_rejected", "type", ev.Type, "device_id", ev.DeviceID, "err", err)
			}
		}
	}
}

// Handle processes one telemetry event to completion. Only validation and
// not-found errors are returned; storage failures are logged and retried later.
func (e *Engine) Handle(ctx context.Context, ev models.TelemetryEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	at := ev.At
	if at.IsZero() {
		at = e.now()
	}
	at = at.UTC()

	switch ev.Type {
	case models.TelemetryDeviceDetected:
		return e.handleDetected(ctx, ev)
	case models.TelemetryDeviceRemoved:
		return e.handleRemoved(ctx, ev, at)
	case models.TelemetryDeviceConnected:
		return e.handleConnected(ctx, ev, at)
	case models.TelemetryDeviceDisconnected:
		return e.handleDisconnected(ctx, ev, at)
	case models.TelemetryBatteryChanged:
		return e.handleBattery(ctx, ev, at)
	case models.TelemetryCallStateChanged:
		if ev.IsInCall == nil {
			return fmt.Errorf("%w: %s without is_in_call", ErrInvalidEvent, ev.Type)
		}
		e.applyLocked(ctx, e.resolveID(ev), StatePatch{IsInCall: ev.IsInCall}, at)
		return nil
	case models.TelemetryMuteChanged:
		if ev.IsMuted == nil {
			return fmt.Errorf("%w: %s without is_muted", ErrInvalidEvent, ev.Type)
		}
		e.applyLocked(ctx, e.resolveID(ev), StatePatch{IsMuted: ev.IsMuted}, at)
		return nil
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidEvent, ev.Type)
	}
}

func (e *Engine) handleDetected(ctx context.Context, ev models.TelemetryEvent) error {
	if !IsDongleName(ev.Name) {
		e.log.Debugw("device_detected", "name", ev.Name, "product_id", ev.ProductID)
		return nil
	}
	id := firstNonEmpty(ev.ProductID, ev.DeviceID)
	if id == "" {
		return fmt.Errorf("%w: dongle without product_id", ErrInvalidEvent)
	}
	d, err := e.dongles.Connected(ctx, id, ev.Name)
	e.warnStorage("dongle_write_failed", err, "dongle_id", id)
	e.publisher.Publish(models.EventDongleConnected, "", d)
	return nil
}

func (e *Engine) handleRemoved(ctx context.Context, ev models.TelemetryEvent, at time.Time) error {
	id := firstNonEmpty(ev.ProductID, ev.DeviceID)
	d, ok, err := e.dongles.Disconnected(ctx, id)
	if !ok {
		// not a dongle: the headset itself was unplugged
		if hs := e.resolveID(ev); hs != "" {
			e.turnOffLocked(ctx, hs, models.ReasonConnectionLost, at)
		}
		return nil
	}
	e.warnStorage("dongle_write_failed", err, "dongle_id", id)
	e.publisher.Publish(models.EventDongleDisconnected, "", d)
	if d.HeadsetID != nil {
		e.turnOffLocked(ctx, *d.HeadsetID, models.ReasonConnectionLost, at)
	}
	return nil
}

func (e *Engine) handleConnected(ctx context.Context, ev models.TelemetryEvent, at time.Time) error {
	if ev.DeviceID == "" && ev.SerialNumber == "" {
		return fmt.Errorf("%w: %s without device_id or serial_number", ErrInvalidEvent, ev.Type)
	}
	live, err := e.turnOnLocked(ctx, hintFrom(ev), patchFrom(ev), at)
	if err != nil {
		return err
	}
	if ev.DongleID != "" {
		_, _, err := e.dongles.Associate(ctx, ev.DongleID, live.ID)
		e.warnStorage("dongle_write_failed", err, "dongle_id", ev.DongleID)
	}
	return nil
}

func (e *Engine) handleDisconnected(ctx context.Context, ev models.TelemetryEvent, at time.Time) error {
	reason := ev.Reason
	switch reason {
	case "":
		reason = models.ReasonNormal
	case models.ReasonNormal, models.ReasonConnectionLost:
	default:
		return fmt.Errorf("%w: unknown reason %q", ErrInvalidEvent, reason)
	}
	e.turnOffLocked(ctx, e.resolveID(ev), reason, at)
	return nil
}

// handleBattery turns unknown devices on implicitly since a reported level proves power.
func (e *Engine) handleBattery(ctx context.Context, ev models.TelemetryEvent, at time.Time) error {
	if ev.Level == nil {
		return fmt.Errorf("%w: %s without level", ErrInvalidEvent, ev.Type)
	}
	id := e.resolveID(ev)
	if _, ok := e.live.Get(id); ok {
		e.applyLocked(ctx, id, patchFrom(ev), at)
		return nil
	}
	if ev.DeviceID == "" && ev.SerialNumber == "" {
		return fmt.Errorf("%w: %s without device_id or serial_number", ErrInvalidEvent, ev.Type)
	}
	_, err := e.turnOnLocked(ctx, hintFrom(ev), patchFrom(ev), at)
	return err
}

// Register adds a device through the API.
func (e *Engine) Register(ctx context.Context, in RegisterInput) (models.Device, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	d, err := e.registry.Register(ctx, in)
	if err != nil && !IsStorage(err) {
		return models.Device{}, err
	}
	e.warnStorage("device_write_failed", err, "device_id", d.ID)
	e.log.Infow("device_registered", "device_id", d.ID, "color", d.Color, "number", d.Number)
	e.publisher.Publish(models.EventRegistered, d.ID, d)
	return d, err
}

// Update patches a registered device.
func (e *Engine) Update(ctx context.Context, id string, patch DevicePatch) (models.Device, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	d, err := e.registry.Update(ctx, id, patch)
	if err != nil && !IsStorage(err) {
		return models.Device{}, err
	}
	e.warnStorage("device_write_failed", err, "device_id", id)
	e.publisher.Publish(models.EventUpdated, d.ID, d)
	return d, err
}

// Remove deletes a device, closes its open session and evicts its live state.
func (e *Engine) Remove(ctx context.Context, id string) (models.Device, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	d, err := e.registry.Remove(ctx, id)
	if err != nil && !IsStorage(err) {
		return models.Device{}, err
	}
	e.warnStorage("device_delete_failed", err, "device_id", id)

	if tr := e.tracker(id); tr != nil {
		closed, cerr := tr.PowerOff(ctx, e.now().UTC())
		if closed != nil {
			e.publishEnded(*closed)
		}
		if !errors.Is(cerr, ErrNoOpenSession) {
			e.warnStorage("session_write_failed", cerr, "device_id", id)
		}
		if tr.PendingWrites() == 0 {
			e.trackersMu.Lock()
			delete(e.trackers, id)
			e.trackersMu.Unlock()
		}
	}
	e.live.TurnOff(id)

	e.log.Infow("device_removed", "device_id", id, "color", d.Color)
	e.publisher.Publish(models.EventRemoved, id, d)
	return d, err
}

// TurnOn marks a device live, registering it first when unknown and allowed.
func (e *Engine) TurnOn(ctx context.Context, id string, initial StatePatch) (models.LiveDevice, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.turnOnLocked(ctx, deviceHint{ID: id}, initial, e.now().UTC())
}

// TurnOff closes the open session and evicts the live entry. No-op when id is not live.
func (e *Engine) TurnOff(ctx context.Context, id, reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.turnOffLocked(ctx, id, reason, e.now().UTC())
}

// UpdateState merges patch into a live device. The second result is false when it is not live.
func (e *Engine) UpdateState(ctx context.Context, id string, patch StatePatch) (models.LiveDevice, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.applyLocked(ctx, id, patch, e.now().UTC())
}

type deviceHint struct {
	ID              string
	SerialNumber    string
	Name            string
	Model           string
	FirmwareVersion string
}

func hintFrom(ev models.TelemetryEvent) deviceHint {
	return deviceHint{
		ID:              ev.DeviceID,
		SerialNumber:    ev.SerialNumber,
		Name:            ev.Name,
		Model:           ev.Model,
		FirmwareVersion: ev.FirmwareVersion,
	}
}

func patchFrom(ev models.TelemetryEvent) StatePatch {
	return StatePatch{
		BatteryLevel:   ev.Level,
		IsCharging:     ev.IsCharging,
		IsInCall:       ev.IsInCall,
		IsMuted:        ev.IsMuted,
		SignalStrength: ev.SignalStrength,
	}
}

// resolveID maps an event to a registered id by device id, then serial number.
func (e *Engine) resolveID(ev models.TelemetryEvent) string {
	if ev.DeviceID != "" {
		if _, ok := e.registry.Get(ev.DeviceID); ok {
			return ev.DeviceID
		}
	}
	if ev.SerialNumber != "" {
		if d, ok := e.registry.FindBySerial(ev.SerialNumber); ok {
			return d.ID
		}
	}
	return ev.DeviceID
}

func (e *Engine) turnOnLocked(ctx context.Context, hint deviceHint, initial StatePatch, at time.Time) (models.LiveDevice, error) {
	dev, ok := e.registry.Get(hint.ID)
	if !ok && hint.SerialNumber != "" {
		dev, ok = e.registry.FindBySerial(hint.SerialNumber)
	}
	if !ok {
		if !e.cfg.AutoRegisterUnknownDevices {
			return models.LiveDevice{}, fmt.Errorf("%w: %s", ErrNotFound, firstNonEmpty(hint.ID, hint.SerialNumber))
		}
		in := RegisterInput{
			ID:              hint.ID,
			SerialNumber:    optional(hint.SerialNumber),
			Name:            hint.Name,
			Model:           hint.Model,
			FirmwareVersion: optional(hint.FirmwareVersion),
		}
		d, err := e.registry.Register(ctx, in)
		if err != nil && !IsStorage(err) {
			return models.LiveDevice{}, err
		}
		e.warnStorage("device_write_failed", err, "device_id", d.ID)
		e.log.Infow("device_auto_registered", "device_id", d.ID, "color", d.Color, "number", d.Number)
		e.publisher.Publish(models.EventRegistered, d.ID, d)
		dev = d
	}

	live, fresh := e.live.TurnOn(dev, initial)
	if fresh {
		e.log.Infow("device_turned_on", "device_id", dev.ID)
		e.publisher.Publish(models.EventTurnedOn, dev.ID, live)
	} else {
		e.publisher.Publish(models.EventStateUpdated, dev.ID, live)
	}
	e.sessionLocked(ctx, live, initial, at)
	return live, nil
}

func (e *Engine) turnOffLocked(ctx context.Context, id, reason string, at time.Time) {
	if reason == "" {
		reason = models.ReasonNormal
	}
	if tr := e.tracker(id); tr != nil {
		closed, err := tr.PowerOff(ctx, at)
		switch {
		case errors.Is(err, ErrNoOpenSession):
			e.log.Warnw("power_off_without_session", "device_id", id)
		default:
			e.warnStorage("session_write_failed", err, "device_id", id)
		}
		if closed != nil {
			e.publishEnded(*closed)
		}
	}

	last, ok := e.live.TurnOff(id)
	if !ok {
		e.log.Warnw("turn_off_not_live", "device_id", id, "reason", reason)
		return
	}
	e.log.Infow("device_turned_off", "device_id", id, "reason", reason)
	e.publisher.Publish(models.EventTurnedOff, id, models.TurnedOffData{Reason: reason, LastState: last})
}

// applyLocked merges patch into a live device and feeds the session tracker.
func (e *Engine) applyLocked(ctx context.Context, id string, patch StatePatch, at time.Time) (models.LiveDevice, bool) {
	live, ok := e.live.UpdateState(id, patch)
	if !ok {
		e.log.Debugw("state_update_not_live", "device_id", id)
		return models.LiveDevice{}, false
	}
	e.publisher.Publish(models.EventStateUpdated, id, live)
	e.sessionLocked(ctx, live, patch, at)
	return live, true
}

// sessionLocked forwards call changes and battery samples to the tracker of live.
func (e *Engine) sessionLocked(ctx context.Context, live models.LiveDevice, patch StatePatch, at time.Time) {
	if patch.IsInCall != nil {
		// a tracker created later picks the call state up from live
		if tr := e.tracker(live.ID); tr != nil {
			tr.CallStateChange(*patch.IsInCall, at)
		}
	}
	if patch.BatteryLevel == nil || live.BatteryLevel == nil {
		return
	}

	level := *live.BatteryLevel
	trans, err := e.ensureTracker(live, at).Sample(ctx, level, live.IsCharging, at)
	e.warnStorage("session_write_failed", err, "device_id", live.ID)
	if trans.Closed != nil {
		e.publishEnded(*trans.Closed)
	}
	if trans.Opened != nil {
		e.publishStarted(ctx, *trans.Opened, live)
	}

	err = e.history.Record(ctx, models.HistoryPoint{
		DeviceID:     live.ID,
		Timestamp:    at,
		BatteryLevel: level,
		IsCharging:   live.IsCharging,
		IsInCall:     live.IsInCall,
		IsMuted:      live.IsMuted,
	})
	e.warnStorage("history_write_failed", err, "device_id", live.ID)
}

func (e *Engine) publishStarted(ctx context.Context, s models.Session, live models.LiveDevice) {
	level := s.StartLevel
	data := models.SessionEventData{Session: s}
	typ := models.EventUsageStarted
	if s.Kind == models.SessionCharging {
		typ = models.EventChargingStarted
		data.Estimate = e.estimator.EstimateTimeToFullCharge(ctx, s.DeviceID, &level)
	} else {
		data.Estimate = e.estimator.EstimateBatteryLife(ctx, s.DeviceID, &level, Activity{InCall: live.IsInCall, Muted: live.IsMuted})
	}
	e.log.Infow("session_opened", "device_id", s.DeviceID, "kind", s.Kind, "level", level)
	e.publisher.Publish(typ, s.DeviceID, data)
}

func (e *Engine) publishEnded(s models.Session) {
	typ := models.EventUsageEnded
	if s.Kind == models.SessionCharging {
		typ = models.EventChargingEnded
	}
	kv := []any{"device_id", s.DeviceID, "kind", s.Kind}
	if s.End != nil {
		kv = append(kv, "duration_minutes", s.End.DurationMinutes, "end_level", s.End.EndLevel)
	}
	e.log.Infow("session_closed", kv...)
	e.publisher.Publish(typ, s.DeviceID, models.SessionEventData{Session: s})
}

func (e *Engine) ensureTracker(live models.LiveDevice, at time.Time) *SessionTracker {
	e.trackersMu.Lock()
	defer e.trackersMu.Unlock()
	tr, ok := e.trackers[live.ID]
	if !ok {
		tr = NewSessionTracker(live.ID, e.cfg.Hostname, e.sessions, e.cfg.WriteTimeout)
		if live.IsInCall {
			tr.CallStateChange(true, at)
		}
		e.trackers[live.ID] = tr
	}
	return tr
}

func (e *Engine) tracker(id string) *SessionTracker {
	e.trackersMu.RLock()
	defer e.trackersMu.RUnlock()
	return e.trackers[id]
}

// trackerList returns trackers ordered by device id.
func (e *Engine) trackerList() []*SessionTracker {
	e.trackersMu.RLock()
	defer e.trackersMu.RUnlock()
	ids := make([]string, 0, len(e.trackers))
	for id := range e.trackers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*SessionTracker, 0, len(ids))
	for _, id := range ids {
		out = append(out, e.trackers[id])
	}
	return out
}

func (e *Engine) warnStorage(msg string, err error, kv ...any) {
	if err == nil {
		return
	}
	e.log.Warnw(msg, append(kv, "err", err)...)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
