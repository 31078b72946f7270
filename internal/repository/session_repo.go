package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"headset_monitor/internal/models"
)

// sessionTable maps a session kind to its table and kind-specific columns.
type sessionTable struct {
	name     string
	rateCol  string
	extraCol string // completed (charging) | call_time_minutes (usage)
}

var sessionTables = map[models.SessionKind]sessionTable{
	models.SessionCharging: {name: "charging_sessions", rateCol: "charging_rate", extraCol: "completed"},
	models.SessionUsage:    {name: "usage_sessions", rateCol: "drain_rate", extraCol: "call_time_minutes"},
}

func tableFor(kind models.SessionKind) (sessionTable, error) {
	t, ok := sessionTables[kind]
	if !ok {
		return sessionTable{}, fmt.Errorf("unknown session kind %q", kind)
	}
	return t, nil
}

func (t sessionTable) columns() string {
	return "id, device_id, hostname, start_time, start_level, current_level, end_time, end_level, duration_minutes, " +
		t.rateCol + ", " + t.extraCol + ", updated_at"
}

type SessionSQLite struct {
	db *sql.DB
}

func NewSessionSQLite(db *sql.DB) *SessionSQLite { return &SessionSQLite{db: db} }

// endColumns flattens the closed sub-state into nullable column values.
func endColumns(s models.Session) (endTime sql.NullInt64, endLevel sql.NullInt64, duration, rate sql.NullFloat64, completed bool) {
	if s.End == nil {
		return
	}
	endTime = sql.NullInt64{Int64: toMillis(s.End.EndTime), Valid: true}
	endLevel = sql.NullInt64{Int64: int64(s.End.EndLevel), Valid: true}
	duration = sql.NullFloat64{Float64: s.End.DurationMinutes, Valid: true}
	if s.End.Rate != nil {
		rate = sql.NullFloat64{Float64: *s.End.Rate, Valid: true}
	}
	completed = s.End.Completed
	return
}

func extraValue(s models.Session, completed bool) any {
	if s.Kind == models.SessionCharging {
		return completed
	}
	return s.CallTimeMinutes
}

// Insert writes a new session row and returns its id. The session may already be closed
// when a previously failed insert is retried.
func (r *SessionSQLite) Insert(ctx context.Context, s models.Session) (int64, error) {
	t, err := tableFor(s.Kind)
	if err != nil {
		return 0, err
	}
	endTime, endLevel, duration, rate, completed := endColumns(s)

	q := fmt.Sprintf(`INSERT INTO %s (device_id, hostname, start_time, start_level, current_level, end_time, end_level, duration_minutes, %s, %s, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, t.name, t.rateCol, t.extraCol)

	res, err := r.db.ExecContext(ctx, q,
		s.DeviceID,
		s.Hostname,
		toMillis(s.StartTime),
		s.StartLevel,
		s.CurrentLevel,
		endTime,
		endLevel,
		duration,
		rate,
		extraValue(s, completed),
		toMillis(s.UpdatedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("insert %s session: %w", s.Kind, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("read %s session id: %w", s.Kind, err)
	}
	return id, nil
}

// Update persists progress and, for closed sessions, the end state.
func (r *SessionSQLite) Update(ctx context.Context, s models.Session) error {
	t, err := tableFor(s.Kind)
	if err != nil {
		return err
	}
	endTime, endLevel, duration, rate, completed := endColumns(s)

	q := fmt.Sprintf(`UPDATE %s
		SET current_level = ?, end_time = ?, end_level = ?, duration_minutes = ?, %s = ?, %s = ?, updated_at = ?
		WHERE id = ?`, t.name, t.rateCol, t.extraCol)

	_, err = r.db.ExecContext(ctx, q,
		s.CurrentLevel,
		endTime,
		endLevel,
		duration,
		rate,
		extraValue(s, completed),
		toMillis(s.UpdatedAt),
		s.ID,
	)
	if err != nil {
		return fmt.Errorf("update %s session %d: %w", s.Kind, s.ID, err)
	}
	return nil
}

// ListOpen returns sessions of both kinds that have no end_time.
func (r *SessionSQLite) ListOpen(ctx context.Context, hostname string) ([]models.Session, error) {
	var out []models.Session
	for _, kind := range []models.SessionKind{models.SessionCharging, models.SessionUsage} {
		t, _ := tableFor(kind)
		q := fmt.Sprintf(`SELECT %s FROM %s WHERE hostname = ? AND end_time IS NULL ORDER BY start_time ASC`, t.columns(), t.name)
		sessions, err := r.query(ctx, kind, q, hostname)
		if err != nil {
			return nil, err
		}
		out = append(out, sessions...)
	}
	return out, nil
}

func (r *SessionSQLite) Recent(ctx context.Context, kind models.SessionKind, hostname, deviceID string, limit int) ([]models.Session, error) {
	t, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	conds, args := hostDeviceConds(hostname, deviceID)
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE %s ORDER BY start_time DESC LIMIT ?`, t.columns(), t.name, strings.Join(conds, " AND "))
	return r.query(ctx, kind, q, append(args, limit)...)
}

func (r *SessionSQLite) RecentRates(ctx context.Context, kind models.SessionKind, hostname, deviceID string, limit int) ([]float64, error) {
	t, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	conds, args := hostDeviceConds(hostname, deviceID)
	conds = append(conds, "end_time IS NOT NULL", t.rateCol+" > 0")
	if kind == models.SessionCharging {
		conds = append(conds, "completed = 1")
	}
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE %s ORDER BY start_time DESC LIMIT ?`, t.rateCol, t.name, strings.Join(conds, " AND "))

	rows, err := r.db.QueryContext(ctx, q, append(args, limit)...)
	if err != nil {
		return nil, fmt.Errorf("query %s rates: %w", kind, err)
	}
	defer rows.Close()

	var rates []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan %s rate: %w", kind, err)
		}
		rates = append(rates, v)
	}
	return rates, rows.Err()
}

func (r *SessionSQLite) ChargingSummary(ctx context.Context, hostname string) (models.ChargingSummary, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN completed = 1 THEN 1 ELSE 0 END), 0),
			AVG(duration_minutes),
			MIN(duration_minutes),
			MAX(duration_minutes),
			AVG(charging_rate)
		FROM charging_sessions WHERE hostname = ?
	`, hostname)

	var (
		s                               models.ChargingSummary
		avgDur, minDur, maxDur, avgRate sql.NullFloat64
	)
	if err := row.Scan(&s.TotalSessions, &s.CompletedSessions, &avgDur, &minDur, &maxDur, &avgRate); err != nil {
		return models.ChargingSummary{}, fmt.Errorf("charging summary: %w", err)
	}
	s.AvgDuration = floatPtr(avgDur)
	s.MinDuration = floatPtr(minDur)
	s.MaxDuration = floatPtr(maxDur)
	s.AvgRate = floatPtr(avgRate)
	return s, nil
}

func (r *SessionSQLite) UsageSummary(ctx context.Context, hostname string) (models.UsageSummary, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			AVG(duration_minutes),
			COALESCE(SUM(duration_minutes), 0),
			COALESCE(SUM(call_time_minutes), 0),
			AVG(drain_rate)
		FROM usage_sessions WHERE hostname = ?
	`, hostname)

	var (
		s               models.UsageSummary
		avgDur, avgRate sql.NullFloat64
	)
	if err := row.Scan(&s.TotalSessions, &avgDur, &s.TotalUsageTime, &s.TotalCallTime, &avgRate); err != nil {
		return models.UsageSummary{}, fmt.Errorf("usage summary: %w", err)
	}
	s.AvgDuration = floatPtr(avgDur)
	s.AvgDrainRate = floatPtr(avgRate)
	return s, nil
}

func hostDeviceConds(hostname, deviceID string) ([]string, []any) {
	conds := []string{"hostname = ?"}
	args := []any{hostname}
	if deviceID != "" {
		conds = append(conds, "device_id = ?")
		args = append(args, deviceID)
	}
	return conds, args
}

func (r *SessionSQLite) query(ctx context.Context, kind models.SessionKind, q string, args ...any) ([]models.Session, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s sessions: %w", kind, err)
	}
	defer rows.Close()

	out := make([]models.Session, 0, 16)
	for rows.Next() {
		s, err := scanSession(rows, kind)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s sessions: %w", kind, err)
	}
	return out, nil
}

func scanSession(rows *sql.Rows, kind models.SessionKind) (models.Session, error) {
	var (
		s                  models.Session
		startTime, updated int64
		endTime, endLevel  sql.NullInt64
		duration, rate     sql.NullFloat64
		completed          bool
		callTime           float64
	)
	s.Kind = kind

	var extra any = &callTime
	if kind == models.SessionCharging {
		extra = &completed
	}
	if err := rows.Scan(&s.ID, &s.DeviceID, &s.Hostname, &startTime, &s.StartLevel, &s.CurrentLevel,
		&endTime, &endLevel, &duration, &rate, extra, &updated); err != nil {
		return models.Session{}, fmt.Errorf("scan %s session: %w", kind, err)
	}
	s.StartTime = fromMillis(startTime)
	s.UpdatedAt = fromMillis(updated)
	s.CallTimeMinutes = callTime

	if endTime.Valid {
		s.End = &models.SessionEnd{
			EndTime:         fromMillis(endTime.Int64),
			EndLevel:        int(endLevel.Int64),
			DurationMinutes: duration.Float64,
			Rate:            floatPtr(rate),
			Completed:       completed,
		}
	}
	return s, nil
}
