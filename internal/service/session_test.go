package service

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"headset_monitor/internal/models"
)

func TestSessionTracker_FlipClosesAndOpens(t *testing.T) {
	repo := newFakeSessionRepo()
	tr := NewSessionTracker("hs1", "desk-pc", repo, 0)
	ctx := context.Background()
	t0 := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	trans, err := tr.Sample(ctx, 30, true, t0)
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if trans.Closed != nil || trans.Opened == nil || trans.Opened.Kind != models.SessionCharging {
		t.Fatalf("first sample should open a charging session: %+v", trans)
	}
	if tr.State() != StateCharging {
		t.Fatalf("state=%s", tr.State())
	}

	if trans, _ := tr.Sample(ctx, 60, true, t0.Add(30*time.Minute)); !trans.Empty() {
		t.Fatalf("repeated state caused a transition: %+v", trans)
	}
	open, _ := tr.Open()
	if open.CurrentLevel != 60 {
		t.Fatalf("progress not tracked: %d", open.CurrentLevel)
	}

	trans, err = tr.Sample(ctx, 100, false, t0.Add(70*time.Minute))
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	closed := trans.Closed
	if closed == nil || closed.End == nil {
		t.Fatal("flip did not close the charging session")
	}
	if closed.End.EndLevel != 100 || !closed.End.Completed || closed.End.DurationMinutes != 70 {
		t.Fatalf("unexpected close: %+v", closed.End)
	}
	if closed.End.Rate == nil || *closed.End.Rate != 1.0 {
		t.Fatalf("expected rate 1.0, got %v", closed.End.Rate)
	}
	if trans.Opened == nil || trans.Opened.Kind != models.SessionUsage || trans.Opened.StartLevel != 100 {
		t.Fatalf("usage session not opened: %+v", trans.Opened)
	}
	if !trans.Opened.StartTime.Equal(closed.End.EndTime) {
		t.Fatal("sessions overlap or leave a gap")
	}

	stored := repo.byKind(models.SessionCharging)
	if len(stored) != 1 || stored[0].End == nil {
		t.Fatalf("closed charging session not persisted: %+v", stored)
	}
}

func TestSessionTracker_ZeroDurationHasNilRate(t *testing.T) {
	tr := NewSessionTracker("hs1", "desk-pc", newFakeSessionRepo(), 0)
	ctx := context.Background()
	t0 := time.Now()

	_, _ = tr.Sample(ctx, 50, false, t0)
	trans, _ := tr.Sample(ctx, 50, true, t0)
	end := trans.Closed.End
	if end.DurationMinutes != 0 || end.Rate != nil {
		t.Fatalf("expected zero duration with nil rate, got %+v", end)
	}
}

func TestSessionTracker_RatesAreFinite(t *testing.T) {
	tr := NewSessionTracker("hs1", "desk-pc", newFakeSessionRepo(), 0)
	ctx := context.Background()
	t0 := time.Now()

	// clock skew: a sample older than the session start
	_, _ = tr.Sample(ctx, 80, false, t0)
	trans, _ := tr.Sample(ctx, 70, true, t0.Add(-time.Minute))
	end := trans.Closed.End
	if end.DurationMinutes < 0 {
		t.Fatalf("negative duration %v", end.DurationMinutes)
	}
	if end.Rate != nil && (math.IsNaN(*end.Rate) || math.IsInf(*end.Rate, 0)) {
		t.Fatalf("non-finite rate %v", *end.Rate)
	}
}

func TestSessionTracker_OneOpenSessionForAnySequence(t *testing.T) {
	repo := newFakeSessionRepo()
	tr := NewSessionTracker("hs1", "desk-pc", repo, 0)
	ctx := context.Background()
	t0 := time.Now()

	samples := []bool{false, false, true, true, false, true, false, false, true}
	for i, charging := range samples {
		_, _ = tr.Sample(ctx, 50+i, charging, t0.Add(time.Duration(i)*time.Minute))
	}

	open := 0
	var last time.Time
	for _, kind := range []models.SessionKind{models.SessionCharging, models.SessionUsage} {
		for _, s := range repo.byKind(kind) {
			if s.IsOpen() {
				open++
			}
		}
	}
	if open != 1 {
		t.Fatalf("expected exactly one open session, got %d", open)
	}

	// the timeline must not overlap: sort by id (insert order) and compare ends to starts
	all := append(repo.byKind(models.SessionCharging), repo.byKind(models.SessionUsage)...)
	byID := map[int64]models.Session{}
	for _, s := range all {
		byID[s.ID] = s
	}
	for id := int64(1); id <= int64(len(byID)); id++ {
		s := byID[id]
		if s.StartTime.Before(last) {
			t.Fatalf("session %d starts before the previous one ended", id)
		}
		if s.End != nil {
			last = s.End.EndTime
		}
	}
}

func TestSessionTracker_CallTime(t *testing.T) {
	tr := NewSessionTracker("hs1", "desk-pc", newFakeSessionRepo(), 0)
	ctx := context.Background()
	t0 := time.Now()

	_, _ = tr.Sample(ctx, 90, false, t0)
	tr.CallStateChange(true, t0.Add(10*time.Minute))
	tr.CallStateChange(false, t0.Add(25*time.Minute))
	tr.CallStateChange(true, t0.Add(40*time.Minute))

	// closes mid-call: the running call counts up to the close
	trans, _ := tr.Sample(ctx, 70, true, t0.Add(50*time.Minute))
	if got := trans.Closed.CallTimeMinutes; got != 25 {
		t.Fatalf("expected 25 call minutes, got %v", got)
	}
	if trans.Closed.End.Rate == nil || *trans.Closed.End.Rate != 0.4 {
		t.Fatalf("expected drain rate 0.4, got %v", trans.Closed.End.Rate)
	}
}

func TestSessionTracker_PowerOff(t *testing.T) {
	tr := NewSessionTracker("hs1", "desk-pc", newFakeSessionRepo(), 0)
	ctx := context.Background()
	t0 := time.Now()

	if _, err := tr.PowerOff(ctx, t0); !errors.Is(err, ErrNoOpenSession) {
		t.Fatalf("expected ErrNoOpenSession, got %v", err)
	}

	_, _ = tr.Sample(ctx, 80, false, t0)
	_, _ = tr.Sample(ctx, 75, false, t0.Add(10*time.Minute))
	closed, err := tr.PowerOff(ctx, t0.Add(20*time.Minute))
	if err != nil {
		t.Fatalf("PowerOff: %v", err)
	}
	if closed.End.EndLevel != 75 {
		t.Fatalf("expected last known level 75, got %d", closed.End.EndLevel)
	}
	if tr.State() != StateNoSession {
		t.Fatalf("state=%s after power off", tr.State())
	}
	if _, err := tr.PowerOff(ctx, t0.Add(21*time.Minute)); !errors.Is(err, ErrNoOpenSession) {
		t.Fatalf("duplicate off: expected ErrNoOpenSession, got %v", err)
	}
}

func TestSessionTracker_FailedWritesRetriedByFlush(t *testing.T) {
	repo := newFakeSessionRepo()
	tr := NewSessionTracker("hs1", "desk-pc", repo, 0)
	ctx := context.Background()
	t0 := time.Now()

	repo.setFail(errDisk, errDisk)
	if _, err := tr.Sample(ctx, 40, true, t0); !IsStorage(err) {
		t.Fatalf("expected storage error, got %v", err)
	}
	trans, err := tr.Sample(ctx, 100, false, t0.Add(time.Hour))
	if !IsStorage(err) || trans.Closed == nil {
		t.Fatalf("expected close despite storage error, got %v", err)
	}
	if tr.PendingWrites() != 1 {
		t.Fatalf("expected 1 pending write, got %d", tr.PendingWrites())
	}
	if err := tr.FlushProgress(ctx); err == nil {
		t.Fatal("flush should fail while the store is down")
	}

	repo.setFail(nil, nil)
	if err := tr.FlushProgress(ctx); err != nil {
		t.Fatalf("FlushProgress: %v", err)
	}
	if tr.PendingWrites() != 0 {
		t.Fatal("pending write not drained")
	}
	charging := repo.byKind(models.SessionCharging)
	if len(charging) != 1 || charging[0].End == nil || !charging[0].End.Completed {
		t.Fatalf("closed session not written: %+v", charging)
	}
	usage := repo.byKind(models.SessionUsage)
	if len(usage) != 1 || !usage[0].IsOpen() {
		t.Fatalf("open usage session not written: %+v", usage)
	}
	open, _ := tr.Open()
	if open.ID == 0 {
		t.Fatal("open session id not assigned after flush")
	}
}

func TestSessionTracker_FlushWritesProgress(t *testing.T) {
	repo := newFakeSessionRepo()
	tr := NewSessionTracker("hs1", "desk-pc", repo, 0)
	ctx := context.Background()
	t0 := time.Now()

	_, _ = tr.Sample(ctx, 20, true, t0)
	_, _ = tr.Sample(ctx, 45, true, t0.Add(15*time.Minute))
	if err := tr.FlushProgress(ctx); err != nil {
		t.Fatalf("FlushProgress: %v", err)
	}
	s := repo.byKind(models.SessionCharging)[0]
	if s.CurrentLevel != 45 || !s.IsOpen() {
		t.Fatalf("progress not persisted: %+v", s)
	}

	updates := repo.updates
	_ = tr.FlushProgress(ctx)
	if repo.updates != updates {
		t.Fatal("clean session rewritten")
	}
}
