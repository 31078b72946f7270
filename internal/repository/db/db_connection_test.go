package db_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"headset_monitor/internal/models"
	"headset_monitor/internal/repository"
	"headset_monitor/internal/repository/db"
)

func TestInitDB_CreatesSchemaAndRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "headsets.db")
	sqlDB, err := db.InitDB(path)
	if err != nil {
		t.Fatalf("InitDB() error = %v", err)
	}
	repos := repository.NewRepository(sqlDB)
	defer func() { _ = repos.Close() }()

	ctx := context.Background()
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	dev := models.Device{ID: "hs1", Hostname: "desk-pc", Name: "Desk 1", Color: "blue", Number: 1, CreatedAt: now, UpdatedAt: now}
	if err := repos.Devices.Upsert(ctx, dev); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	devices, err := repos.Devices.List(ctx, "desk-pc")
	if err != nil || len(devices) != 1 || devices[0].Color != "blue" {
		t.Fatalf("List() = %+v, %v", devices, err)
	}

	id, err := repos.Sessions.Insert(ctx, models.Session{
		DeviceID:     "hs1",
		Hostname:     "desk-pc",
		Kind:         models.SessionCharging,
		StartTime:    now,
		StartLevel:   20,
		CurrentLevel: 20,
		UpdatedAt:    now,
	})
	if err != nil || id == 0 {
		t.Fatalf("Insert() = %d, %v", id, err)
	}
	open, err := repos.Sessions.ListOpen(ctx, "desk-pc")
	if err != nil || len(open) != 1 || open[0].ID != id {
		t.Fatalf("ListOpen() = %+v, %v", open, err)
	}

	if err := repos.Stats.Save(ctx, "desk-pc", map[string]any{"registered_devices": 1}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	stats, err := repos.Stats.Load(ctx, "desk-pc")
	if err != nil || string(stats["registered_devices"]) != "1" {
		t.Fatalf("Load() = %v, %v", stats, err)
	}
}

func TestInitDB_IsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "headsets.db")
	for i := 0; i < 2; i++ {
		sqlDB, err := db.InitDB(path)
		if err != nil {
			t.Fatalf("InitDB() pass %d error = %v", i+1, err)
		}
		_ = sqlDB.Close()
	}
}
