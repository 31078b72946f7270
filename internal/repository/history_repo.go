package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"headset_monitor/internal/models"
)

type HistorySQLite struct {
	db *sql.DB
}

func NewHistorySQLite(db *sql.DB) *HistorySQLite { return &HistorySQLite{db: db} }

// Append inserts a new battery sample. A zero Timestamp is set to now.
func (r *HistorySQLite) Append(ctx context.Context, p models.HistoryPoint) error {
	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO battery_history (device_id, hostname, timestamp, battery_level, is_charging, is_in_call, is_muted)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		p.DeviceID,
		p.Hostname,
		toMillis(p.Timestamp),
		p.BatteryLevel,
		p.IsCharging,
		p.IsInCall,
		p.IsMuted,
	)
	if err != nil {
		return fmt.Errorf("append battery history: %w", err)
	}
	return nil
}

// List returns samples of hostname at or after since, optionally for a single device, ordered ASC.
func (r *HistorySQLite) List(ctx context.Context, hostname, deviceID string, since time.Time) ([]models.HistoryPoint, error) {
	conds := []string{"hostname = ?"}
	args := []any{hostname}

	if !since.IsZero() {
		conds = append(conds, "timestamp >= ?")
		args = append(args, toMillis(since))
	}
	if deviceID = strings.TrimSpace(deviceID); deviceID != "" {
		conds = append(conds, "device_id = ?")
		args = append(args, deviceID)
	}

	q := `SELECT device_id, hostname, timestamp, battery_level, is_charging, is_in_call, is_muted FROM battery_history`
	q += " WHERE " + strings.Join(conds, " AND ")
	q += " ORDER BY timestamp ASC, id ASC"

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query battery history: %w", err)
	}
	defer rows.Close()

	out := make([]models.HistoryPoint, 0, 64)
	for rows.Next() {
		var (
			p  models.HistoryPoint
			ts int64
		)
		if err := rows.Scan(&p.DeviceID, &p.Hostname, &ts, &p.BatteryLevel, &p.IsCharging, &p.IsInCall, &p.IsMuted); err != nil {
			return nil, fmt.Errorf("scan battery history: %w", err)
		}
		p.Timestamp = fromMillis(ts)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate battery history: %w", err)
	}
	return out, nil
}
