package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"headset_monitor/internal/models"
	"headset_monitor/internal/repository"
)

// SessionState is the per-device session state machine position.
type SessionState int

const (
	StateNoSession SessionState = iota
	StateCharging
	StateUsing
)

func (s SessionState) String() string {
	switch s {
	case StateCharging:
		return "charging"
	case StateUsing:
		return "using"
	default:
		return "no_session"
	}
}

// Transition reports the sessions closed and opened by a single sample.
type Transition struct {
	Closed *models.Session
	Opened *models.Session
}

func (t Transition) Empty() bool { return t.Closed == nil && t.Opened == nil }

// SessionTracker keeps at most one open session for a device and drives it from
// battery samples. Closed sessions whose write failed are retried by FlushProgress.
type SessionTracker struct {
	mu           sync.Mutex
	deviceID     string
	hostname     string
	repo         repository.SessionRepo
	writeTimeout time.Duration

	open      *models.Session
	openDirty bool
	inCall    bool
	callStart time.Time // zero unless a call is running during the open usage session
	pending   []models.Session
}

func NewSessionTracker(deviceID, hostname string, repo repository.SessionRepo, writeTimeout time.Duration) *SessionTracker {
	return &SessionTracker{
		deviceID:     deviceID,
		hostname:     hostname,
		repo:         repo,
		writeTimeout: writeTimeout,
	}
}

// Sample feeds one battery observation. A charging flip closes the open session and
// opens the other kind; a repeated state only advances progress.
func (t *SessionTracker) Sample(ctx context.Context, level int, charging bool, at time.Time) (Transition, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	level = clampLevel(level)
	kind := models.SessionUsage
	if charging {
		kind = models.SessionCharging
	}

	if t.open != nil && t.open.Kind == kind {
		t.open.CurrentLevel = level
		t.open.UpdatedAt = at
		t.openDirty = true
		return Transition{}, nil
	}

	var (
		tr   Transition
		errs []error
	)
	if t.open != nil {
		closed, err := t.closeLocked(ctx, level, at)
		tr.Closed = &closed
		errs = append(errs, err)
	}
	opened, err := t.openLocked(ctx, kind, level, at)
	tr.Opened = &opened
	errs = append(errs, err)
	return tr, errors.Join(errs...)
}

// CallStateChange tracks call time of the open usage session.
func (t *SessionTracker) CallStateChange(inCall bool, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	was := t.inCall
	t.inCall = inCall
	if t.open == nil || t.open.Kind != models.SessionUsage {
		return
	}
	switch {
	case inCall && !was:
		t.callStart = at
	case !inCall && was && !t.callStart.IsZero():
		t.open.CallTimeMinutes += minutesBetween(t.callStart, at)
		t.callStart = time.Time{}
		t.openDirty = true
	}
}

// PowerOff force-closes the open session at its last known level.
func (t *SessionTracker) PowerOff(ctx context.Context, at time.Time) (*models.Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.open == nil {
		return nil, ErrNoOpenSession
	}
	closed, err := t.closeLocked(ctx, t.open.CurrentLevel, at)
	t.inCall = false
	return &closed, err
}

// State returns the state machine position.
func (t *SessionTracker) State() SessionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case t.open == nil:
		return StateNoSession
	case t.open.Kind == models.SessionCharging:
		return StateCharging
	default:
		return StateUsing
	}
}

// Open returns a copy of the open session.
func (t *SessionTracker) Open() (models.Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.open == nil {
		return models.Session{}, false
	}
	return *t.open, true
}

// PendingWrites is the number of closed sessions waiting to be written.
func (t *SessionTracker) PendingWrites() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// FlushProgress retries failed writes and persists the progress of the open session.
func (t *SessionTracker) FlushProgress(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var (
		errs []error
		kept []models.Session
	)
	for _, s := range t.pending {
		s := s
		if err := t.write(ctx, &s); err != nil {
			errs = append(errs, err)
			kept = append(kept, s)
		}
	}
	t.pending = kept

	if t.open != nil && t.openDirty {
		if err := t.write(ctx, t.open); err != nil {
			errs = append(errs, err)
		} else {
			t.openDirty = false
		}
	}
	return errors.Join(errs...)
}

func (t *SessionTracker) openLocked(ctx context.Context, kind models.SessionKind, level int, at time.Time) (models.Session, error) {
	s := &models.Session{
		DeviceID:     t.deviceID,
		Hostname:     t.hostname,
		Kind:         kind,
		StartTime:    at,
		StartLevel:   level,
		CurrentLevel: level,
		UpdatedAt:    at,
	}
	t.open = s
	t.callStart = time.Time{}
	if kind == models.SessionUsage && t.inCall {
		t.callStart = at
	}

	err := t.write(ctx, s)
	t.openDirty = err != nil
	return *s, err
}

func (t *SessionTracker) closeLocked(ctx context.Context, level int, at time.Time) (models.Session, error) {
	s := *t.open
	if s.Kind == models.SessionUsage && t.inCall && !t.callStart.IsZero() {
		s.CallTimeMinutes += minutesBetween(t.callStart, at)
	}
	s = closeSession(s, level, at)
	t.open = nil
	t.openDirty = false
	t.callStart = time.Time{}

	err := t.write(ctx, &s)
	if err != nil {
		t.pending = append(t.pending, s)
	}
	return s, err
}

// write inserts s when it has no id yet and updates it otherwise.
func (t *SessionTracker) write(ctx context.Context, s *models.Session) error {
	wctx, cancel := withTimeout(ctx, t.writeTimeout)
	defer cancel()

	if s.ID == 0 {
		id, err := t.repo.Insert(wctx, *s)
		if err != nil {
			return storageErr("insert session", err)
		}
		s.ID = id
		return nil
	}
	return storageErr("update session", t.repo.Update(wctx, *s))
}

// closeSession fills the closed sub-state. Zero duration yields a nil rate.
func closeSession(s models.Session, level int, at time.Time) models.Session {
	duration := minutesBetween(s.StartTime, at)

	var rate *float64
	if duration > 0 {
		delta := float64(level - s.StartLevel)
		if s.Kind == models.SessionUsage {
			delta = -delta
		}
		r := delta / duration
		rate = &r
	}

	s.CurrentLevel = level
	s.UpdatedAt = at
	s.End = &models.SessionEnd{
		EndTime:         at,
		EndLevel:        level,
		DurationMinutes: duration,
		Rate:            rate,
		Completed:       s.Kind == models.SessionCharging && level >= 100,
	}
	return s
}

func minutesBetween(from, to time.Time) float64 {
	d := to.Sub(from).Minutes()
	if d < 0 {
		return 0
	}
	return d
}
