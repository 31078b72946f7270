package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

type StatsSQLite struct {
	db *sql.DB
}

func NewStatsSQLite(db *sql.DB) *StatsSQLite {
	return &StatsSQLite{db: db}
}

const (
	upsertStatSQL = `
		INSERT INTO stats (hostname, key, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(hostname, key) DO UPDATE SET
			value=excluded.value,
			updated_at=excluded.updated_at
	`

	selectStatsSQL = `SELECT key, value FROM stats WHERE hostname=?`
)

// Save upserts every key as a JSON value in a single transaction.
func (r *StatsSQLite) Save(ctx context.Context, hostname string, values map[string]any) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin stats transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	now := toMillis(time.Now())
	for _, key := range keys {
		b, err := json.Marshal(values[key])
		if err != nil {
			return fmt.Errorf("marshal stat %q: %w", key, err)
		}
		if _, err := tx.ExecContext(ctx, upsertStatSQL, hostname, key, string(b), now); err != nil {
			return fmt.Errorf("upsert stat %q: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit stats transaction: %w", err)
	}
	return nil
}

// Load returns the raw JSON value of every stat stored for hostname.
func (r *StatsSQLite) Load(ctx context.Context, hostname string) (map[string]json.RawMessage, error) {
	rows, err := r.db.QueryContext(ctx, selectStatsSQL, hostname)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	out := make(map[string]json.RawMessage)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan stat: %w", err)
		}
		out[key] = json.RawMessage(value)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
