package repository

import (
	"context"
	"database/sql"
	"fmt"

	"headset_monitor/internal/models"
)

type DeviceSQLite struct {
	db *sql.DB
}

func NewDeviceSQLite(db *sql.DB) *DeviceSQLite {
	return &DeviceSQLite{db: db}
}

const (
	upsertDeviceSQL = `
		INSERT INTO devices (id, hostname, serial_number, name, model, color, number, firmware_version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			hostname=excluded.hostname,
			serial_number=excluded.serial_number,
			name=excluded.name,
			model=excluded.model,
			color=excluded.color,
			number=excluded.number,
			firmware_version=excluded.firmware_version,
			updated_at=excluded.updated_at
	`

	selectDevicesSQL = `
		SELECT id, hostname, serial_number, name, model, color, number, firmware_version, created_at, updated_at
		FROM devices WHERE hostname=? ORDER BY number ASC
	`

	deleteDeviceSQL = `DELETE FROM devices WHERE id=?`
)

// List returns the devices registered on hostname, ordered by number.
func (r *DeviceSQLite) List(ctx context.Context, hostname string) ([]models.Device, error) {
	rows, err := r.db.QueryContext(ctx, selectDevicesSQL, hostname)
	if err != nil {
		return nil, fmt.Errorf("query devices: %w", err)
	}
	defer rows.Close()

	out := make([]models.Device, 0, 8)
	for rows.Next() {
		var (
			d                  models.Device
			serial, firmware   sql.NullString
			createdAt, updated int64
		)
		if err := rows.Scan(&d.ID, &d.Hostname, &serial, &d.Name, &d.Model, &d.Color, &d.Number, &firmware, &createdAt, &updated); err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		d.SerialNumber = stringPtr(serial)
		d.FirmwareVersion = stringPtr(firmware)
		d.CreatedAt = fromMillis(createdAt)
		d.UpdatedAt = fromMillis(updated)
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate devices: %w", err)
	}
	return out, nil
}

// Upsert inserts the device or updates every mutable column of an existing row.
func (r *DeviceSQLite) Upsert(ctx context.Context, d models.Device) error {
	_, err := r.db.ExecContext(ctx, upsertDeviceSQL,
		d.ID,
		d.Hostname,
		nullString(d.SerialNumber),
		d.Name,
		d.Model,
		d.Color,
		d.Number,
		nullString(d.FirmwareVersion),
		toMillis(d.CreatedAt),
		toMillis(d.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert device %q: %w", d.ID, err)
	}
	return nil
}

// Delete removes the device row. Deleting a missing row is not an error.
func (r *DeviceSQLite) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, deleteDeviceSQL, id); err != nil {
		return fmt.Errorf("delete device %q: %w", id, err)
	}
	return nil
}
