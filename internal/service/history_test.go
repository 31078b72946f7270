package service

import (
	"context"
	"testing"
	"time"

	"headset_monitor/internal/models"
)

func TestHistoryRecorder_RingDropsOldest(t *testing.T) {
	f := newFakes()
	h := NewHistoryRecorder(f.history, "desk-pc", 3, 0, f.clock.Now)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_ = h.Record(ctx, models.HistoryPoint{DeviceID: "hs1", BatteryLevel: i})
		f.clock.Advance(time.Minute)
	}
	if h.Len() != 3 {
		t.Fatalf("ring holds %d, want 3", h.Len())
	}
	recent := h.Recent("", 0)
	if len(recent) != 3 || recent[0].BatteryLevel != 2 || recent[2].BatteryLevel != 4 {
		t.Fatalf("unexpected ring contents %+v", recent)
	}

	// durable history is not bounded by the ring
	points, err := h.Query(ctx, time.Time{}, "hs1")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(points) != 5 {
		t.Fatalf("expected 5 durable points, got %d", len(points))
	}
	for i := 1; i < len(points); i++ {
		if points[i].Timestamp.Before(points[i-1].Timestamp) {
			t.Fatal("history not ascending")
		}
	}
}

func TestHistoryRecorder_RecentFiltersDevice(t *testing.T) {
	f := newFakes()
	h := NewHistoryRecorder(f.history, "desk-pc", 10, 0, f.clock.Now)
	ctx := context.Background()

	_ = h.Record(ctx, models.HistoryPoint{DeviceID: "a", BatteryLevel: 1})
	_ = h.Record(ctx, models.HistoryPoint{DeviceID: "b", BatteryLevel: 2})
	_ = h.Record(ctx, models.HistoryPoint{DeviceID: "a", BatteryLevel: 3})
	_ = h.Record(ctx, models.HistoryPoint{DeviceID: "a", BatteryLevel: 4})

	got := h.Recent("a", 2)
	if len(got) != 2 || got[0].BatteryLevel != 3 || got[1].BatteryLevel != 4 {
		t.Fatalf("unexpected %+v", got)
	}
}

func TestHistoryRecorder_QueryHours(t *testing.T) {
	f := newFakes()
	h := NewHistoryRecorder(f.history, "desk-pc", 10, 0, f.clock.Now)
	ctx := context.Background()

	_ = h.Record(ctx, models.HistoryPoint{DeviceID: "a", BatteryLevel: 90})
	f.clock.Advance(3 * time.Hour)
	_ = h.Record(ctx, models.HistoryPoint{DeviceID: "a", BatteryLevel: 80})

	points, err := h.QueryHours(ctx, 1, "")
	if err != nil {
		t.Fatalf("QueryHours: %v", err)
	}
	if len(points) != 1 || points[0].BatteryLevel != 80 {
		t.Fatalf("expected only the recent sample, got %+v", points)
	}
}

func TestHistoryRecorder_StoreFailureKeepsRing(t *testing.T) {
	f := newFakes()
	f.history.fail = errDisk
	h := NewHistoryRecorder(f.history, "desk-pc", 10, 0, f.clock.Now)

	if err := h.Record(context.Background(), models.HistoryPoint{DeviceID: "a"}); !IsStorage(err) {
		t.Fatalf("expected storage error, got %v", err)
	}
	if h.Len() != 1 {
		t.Fatal("sample dropped from the ring")
	}
}
