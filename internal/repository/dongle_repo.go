package repository

import (
	"context"
	"database/sql"
	"fmt"

	"headset_monitor/internal/models"
)

type DongleSQLite struct {
	db *sql.DB
}

func NewDongleSQLite(db *sql.DB) *DongleSQLite { return &DongleSQLite{db: db} }

func (r *DongleSQLite) List(ctx context.Context, hostname string) ([]models.Dongle, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, hostname, headset_id, name, connected, last_seen
		FROM dongles WHERE hostname=? ORDER BY id ASC
	`, hostname)
	if err != nil {
		return nil, fmt.Errorf("query dongles: %w", err)
	}
	defer rows.Close()

	var out []models.Dongle
	for rows.Next() {
		var (
			d        models.Dongle
			headset  sql.NullString
			lastSeen int64
		)
		if err := rows.Scan(&d.ID, &d.Hostname, &headset, &d.Name, &d.Connected, &lastSeen); err != nil {
			return nil, fmt.Errorf("scan dongle: %w", err)
		}
		d.HeadsetID = stringPtr(headset)
		d.LastSeen = fromMillis(lastSeen)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *DongleSQLite) Upsert(ctx context.Context, d models.Dongle) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO dongles (id, hostname, headset_id, name, connected, last_seen)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			hostname=excluded.hostname,
			headset_id=excluded.headset_id,
			name=excluded.name,
			connected=excluded.connected,
			last_seen=excluded.last_seen
	`, d.ID, d.Hostname, nullString(d.HeadsetID), d.Name, d.Connected, toMillis(d.LastSeen))
	if err != nil {
		return fmt.Errorf("upsert dongle %q: %w", d.ID, err)
	}
	return nil
}
