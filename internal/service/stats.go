package service

import (
	"context"

	"headset_monitor/internal/models"
)

const (
	defaultHistoryHours = 24
	defaultSessionLimit = 50
)

// Statistics summarizes the stored sessions and estimates every live device.
func (e *Engine) Statistics(ctx context.Context) (models.Statistics, error) {
	charging, usage, err := e.summaries(ctx)
	if err != nil {
		return models.Statistics{}, err
	}

	live := e.live.List()
	est := make(map[string]models.Estimates, len(live))
	for _, d := range live {
		est[d.ID] = e.estimator.Estimates(ctx, d)
	}
	return models.Statistics{
		Hostname:  e.cfg.Hostname,
		Charging:  charging,
		Usage:     usage,
		Estimates: est,
	}, nil
}

// FlushStats stores the aggregate snapshot in the stats table.
func (e *Engine) FlushStats(ctx context.Context) error {
	charging, usage, err := e.summaries(ctx)
	if err != nil {
		return err
	}
	values := map[string]any{
		"total_charging_sessions":     charging.TotalSessions,
		"completed_charging_sessions": charging.CompletedSessions,
		"average_charging_time":       charging.AvgDuration,
		"average_charging_rate":       charging.AvgRate,
		"total_usage_sessions":        usage.TotalSessions,
		"total_usage_time":            usage.TotalUsageTime,
		"total_call_time":             usage.TotalCallTime,
		"average_drain_rate":          usage.AvgDrainRate,
		"registered_devices":          e.registry.Len(),
		"active_devices":              e.live.Len(),
		"last_flush":                  e.now().UTC(),
	}

	wctx, cancel := withTimeout(ctx, e.cfg.WriteTimeout)
	defer cancel()
	return storageErr("save stats", e.stats.Save(wctx, e.cfg.Hostname, values))
}

func (e *Engine) summaries(ctx context.Context) (models.ChargingSummary, models.UsageSummary, error) {
	rctx, cancel := withTimeout(ctx, e.cfg.WriteTimeout)
	defer cancel()

	charging, err := e.sessions.ChargingSummary(rctx, e.cfg.Hostname)
	if err != nil {
		return models.ChargingSummary{}, models.UsageSummary{}, storageErr("charging summary", err)
	}
	usage, err := e.sessions.UsageSummary(rctx, e.cfg.Hostname)
	if err != nil {
		return models.ChargingSummary{}, models.UsageSummary{}, storageErr("usage summary", err)
	}
	return charging, usage, nil
}

// BatteryHistory returns the samples of the last hours, oldest first.
func (e *Engine) BatteryHistory(ctx context.Context, hours float64, deviceID string) ([]models.HistoryPoint, error) {
	if hours <= 0 {
		hours = defaultHistoryHours
	}
	return e.history.QueryHours(ctx, hours, deviceID)
}

// RecentSamples returns buffered samples without touching the store.
func (e *Engine) RecentSamples(deviceID string, n int) []models.HistoryPoint {
	return e.history.Recent(deviceID, n)
}

// ChargingHistory returns the newest charging sessions.
func (e *Engine) ChargingHistory(ctx context.Context, limit int, deviceID string) ([]models.Session, error) {
	return e.recentSessions(ctx, models.SessionCharging, limit, deviceID)
}

// UsageHistory returns the newest usage sessions.
func (e *Engine) UsageHistory(ctx context.Context, limit int, deviceID string) ([]models.Session, error) {
	return e.recentSessions(ctx, models.SessionUsage, limit, deviceID)
}

func (e *Engine) recentSessions(ctx context.Context, kind models.SessionKind, limit int, deviceID string) ([]models.Session, error) {
	if limit <= 0 {
		limit = defaultSessionLimit
	}
	rctx, cancel := withTimeout(ctx, e.cfg.WriteTimeout)
	defer cancel()
	list, err := e.sessions.Recent(rctx, kind, e.cfg.Hostname, deviceID, limit)
	if err != nil {
		return nil, storageErr("recent sessions", err)
	}
	return list, nil
}
