package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"headset_monitor/internal/models"
)

type DeviceRepo interface {
	List(ctx context.Context, hostname string) ([]models.Device, error)
	Upsert(ctx context.Context, d models.Device) error
	Delete(ctx context.Context, id string) error
}

type DongleRepo interface {
	List(ctx context.Context, hostname string) ([]models.Dongle, error)
	Upsert(ctx context.Context, d models.Dongle) error
}

// SessionRepo persists charging and usage sessions. The session kind selects the table.
type SessionRepo interface {
	Insert(ctx context.Context, s models.Session) (int64, error)
	Update(ctx context.Context, s models.Session) error
	ListOpen(ctx context.Context, hostname string) ([]models.Session, error)
	// Recent returns sessions newest first. An empty deviceID matches every device of the host.
	Recent(ctx context.Context, kind models.SessionKind, hostname, deviceID string, limit int) ([]models.Session, error)
	// RecentRates returns the positive rates of the newest closed sessions.
	// Charging rates only come from completed sessions.
	RecentRates(ctx context.Context, kind models.SessionKind, hostname, deviceID string, limit int) ([]float64, error)
	ChargingSummary(ctx context.Context, hostname string) (models.ChargingSummary, error)
	UsageSummary(ctx context.Context, hostname string) (models.UsageSummary, error)
}

type HistoryRepo interface {
	Append(ctx context.Context, p models.HistoryPoint) error
	List(ctx context.Context, hostname, deviceID string, since time.Time) ([]models.HistoryPoint, error)
}

type StatsRepo interface {
	Save(ctx context.Context, hostname string, values map[string]any) error
	Load(ctx context.Context, hostname string) (map[string]json.RawMessage, error)
}

type Repository struct {
	Devices  DeviceRepo
	Dongles  DongleRepo
	Sessions SessionRepo
	History  HistoryRepo
	Stats    StatsRepo

	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{
		Devices:  NewDeviceSQLite(db),
		Dongles:  NewDongleSQLite(db),
		Sessions: NewSessionSQLite(db),
		History:  NewHistorySQLite(db),
		Stats:    NewStatsSQLite(db),
		db:       db,
	}
}

// Close closes the underlying database.
func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// toMillis converts t to unix milliseconds in UTC.
func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

// fromMillis converts unix milliseconds back to a UTC time.
func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func floatPtr(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	v := nf.Float64
	return &v
}
