package db

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// InitDB opens/creates a SQLite DB file and ensures tables exist.
func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open(sqliteDriverName, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite at %q: %w", path, err)
	}

	// Conservative pool settings for SQLite
	db.SetMaxOpenConns(1) // SQLite is not great with many writers
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA foreign_keys = ON;",
		"PRAGMA busy_timeout = 5000;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}

	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	// Fail fast if the DB cannot be reached
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return db, nil
}

const sqliteDriverName = "sqlite"

// All timestamps are stored as unix milliseconds (UTC).

const schemaDevices = `
CREATE TABLE IF NOT EXISTS devices (
    id TEXT PRIMARY KEY,
    hostname TEXT NOT NULL DEFAULT '',
    serial_number TEXT UNIQUE,
    name TEXT NOT NULL,
    model TEXT NOT NULL DEFAULT '',
    color TEXT NOT NULL,
    number INTEGER NOT NULL,
    firmware_version TEXT,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);
`

const schemaDongles = `
CREATE TABLE IF NOT EXISTS dongles (
    id TEXT PRIMARY KEY,
    hostname TEXT NOT NULL DEFAULT '',
    headset_id TEXT,
    name TEXT NOT NULL DEFAULT '',
    connected BOOLEAN NOT NULL DEFAULT 0,
    last_seen INTEGER NOT NULL
);
`

const schemaChargingSessions = `
CREATE TABLE IF NOT EXISTS charging_sessions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    device_id TEXT NOT NULL,
    hostname TEXT NOT NULL DEFAULT '',
    start_time INTEGER NOT NULL,
    start_level INTEGER NOT NULL,
    current_level INTEGER NOT NULL,
    end_time INTEGER,
    end_level INTEGER,
    duration_minutes REAL,
    charging_rate REAL,
    completed BOOLEAN NOT NULL DEFAULT 0,
    updated_at INTEGER NOT NULL
);
`

const schemaUsageSessions = `
CREATE TABLE IF NOT EXISTS usage_sessions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    device_id TEXT NOT NULL,
    hostname TEXT NOT NULL DEFAULT '',
    start_time INTEGER NOT NULL,
    start_level INTEGER NOT NULL,
    current_level INTEGER NOT NULL,
    end_time INTEGER,
    end_level INTEGER,
    duration_minutes REAL,
    call_time_minutes REAL NOT NULL DEFAULT 0,
    drain_rate REAL,
    updated_at INTEGER NOT NULL
);
`

const schemaBatteryHistory = `
CREATE TABLE IF NOT EXISTS battery_history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    device_id TEXT NOT NULL,
    hostname TEXT NOT NULL DEFAULT '',
    timestamp INTEGER NOT NULL,
    battery_level INTEGER NOT NULL,
    is_charging BOOLEAN NOT NULL,
    is_in_call BOOLEAN NOT NULL DEFAULT 0,
    is_muted BOOLEAN NOT NULL DEFAULT 0
);
`

const schemaStats = `
CREATE TABLE IF NOT EXISTS stats (
    hostname TEXT NOT NULL DEFAULT '',
    key TEXT NOT NULL,
    value TEXT NOT NULL,
    updated_at INTEGER NOT NULL,
    PRIMARY KEY (hostname, key)
);
`

const (
	indexBatteryHistory   = `CREATE INDEX IF NOT EXISTS idx_battery_history_ts ON battery_history(hostname, timestamp);`
	indexChargingSessions = `CREATE INDEX IF NOT EXISTS idx_charging_sessions_start ON charging_sessions(hostname, device_id, start_time);`
	indexUsageSessions    = `CREATE INDEX IF NOT EXISTS idx_usage_sessions_start ON usage_sessions(hostname, device_id, start_time);`
)

func ensureSchema(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin schema transaction: %w", err)
	}
	defer func() {
		// In case of panic, rollback to avoid leaving an open transaction
		_ = tx.Rollback()
	}()

	for i, stmt := range []string{
		schemaDevices,
		schemaDongles,
		schemaChargingSessions,
		schemaUsageSessions,
		schemaBatteryHistory,
		schemaStats,
		indexBatteryHistory,
		indexChargingSessions,
		indexUsageSessions,
	} {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema transaction: %w", err)
	}
	return nil
}
