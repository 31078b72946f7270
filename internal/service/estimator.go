package service

import (
	"context"
	"time"

	"headset_monitor/internal/logger"
	"headset_monitor/internal/models"
	"headset_monitor/internal/repository"
)

// Specs are the manufacturer figures used when no session history exists.
type Specs struct {
	TalkTimeMinutes     float64 `mapstructure:"talk_time_minutes"`
	StandbyTimeMinutes  float64 `mapstructure:"standby_time_minutes"`
	ChargingTimeMinutes float64 `mapstructure:"charging_time_minutes"`
}

// ConsumptionFactors scale the base drain rate by activity.
type ConsumptionFactors struct {
	Idle   float64 `mapstructure:"idle"`
	InCall float64 `mapstructure:"in_call"`
	Muted  float64 `mapstructure:"muted"`
}

func DefaultSpecs() Specs {
	return Specs{TalkTimeMinutes: 780, StandbyTimeMinutes: 3000, ChargingTimeMinutes: 90}
}

func DefaultFactors() ConsumptionFactors {
	return ConsumptionFactors{Idle: 1.0, InCall: 3.5, Muted: 0.9}
}

// Activity is what the device is doing right now.
type Activity struct {
	InCall bool
	Muted  bool
}

// For picks the factor for a. A call dominates muting.
func (f ConsumptionFactors) For(a Activity) float64 {
	switch {
	case a.InCall:
		return f.InCall
	case a.Muted:
		return f.Muted
	default:
		return f.Idle
	}
}

const defaultRollingWindow = 10

// Estimator derives time-to-full and time-to-empty from recent closed sessions.
// Store failures never surface: it logs and falls back to the static specs.
type Estimator struct {
	repo        repository.SessionRepo
	hostname    string
	window      int
	specs       Specs
	factors     ConsumptionFactors
	readTimeout time.Duration
	log         *logger.Logger
}

func NewEstimator(repo repository.SessionRepo, hostname string, window int, specs Specs, factors ConsumptionFactors, readTimeout time.Duration, log *logger.Logger) *Estimator {
	if window <= 0 {
		window = defaultRollingWindow
	}
	def := DefaultSpecs()
	if specs.TalkTimeMinutes <= 0 {
		specs.TalkTimeMinutes = def.TalkTimeMinutes
	}
	if specs.StandbyTimeMinutes <= 0 {
		specs.StandbyTimeMinutes = def.StandbyTimeMinutes
	}
	if specs.ChargingTimeMinutes <= 0 {
		specs.ChargingTimeMinutes = def.ChargingTimeMinutes
	}
	defF := DefaultFactors()
	if factors.Idle <= 0 {
		factors.Idle = defF.Idle
	}
	if factors.InCall <= 0 {
		factors.InCall = defF.InCall
	}
	if factors.Muted <= 0 {
		factors.Muted = defF.Muted
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Estimator{
		repo:        repo,
		hostname:    hostname,
		window:      window,
		specs:       specs,
		factors:     factors,
		readTimeout: readTimeout,
		log:         log,
	}
}

// AverageChargingRate is the mean %/minute of the newest completed charging sessions.
// Zero means no history.
func (e *Estimator) AverageChargingRate(ctx context.Context, deviceID string) float64 {
	return e.averageRate(ctx, models.SessionCharging, deviceID)
}

// AverageDrainRate is the mean %/minute drained by the newest usage sessions, before
// activity adjustment. Zero means no history.
func (e *Estimator) AverageDrainRate(ctx context.Context, deviceID string) float64 {
	return e.averageRate(ctx, models.SessionUsage, deviceID)
}

// averageRate looks at the device first and the whole host second.
func (e *Estimator) averageRate(ctx context.Context, kind models.SessionKind, deviceID string) float64 {
	if avg := e.window1(ctx, kind, deviceID); avg > 0 || deviceID == "" {
		return avg
	}
	return e.window1(ctx, kind, "")
}

func (e *Estimator) window1(ctx context.Context, kind models.SessionKind, deviceID string) float64 {
	rctx, cancel := withTimeout(ctx, e.readTimeout)
	defer cancel()

	rates, err := e.repo.RecentRates(rctx, kind, e.hostname, deviceID, e.window)
	if err != nil {
		e.log.Warnw("read recent rates", "kind", kind, "device_id", deviceID, "err", err)
		return 0
	}
	return meanPositive(rates)
}

// EstimateTimeToFullCharge returns minutes until 100%, nil only when level is unknown.
func (e *Estimator) EstimateTimeToFullCharge(ctx context.Context, deviceID string, level *int) *float64 {
	if level == nil {
		return nil
	}
	lvl := clampLevel(*level)
	if lvl >= 100 {
		return floatRef(0)
	}
	remaining := float64(100 - lvl)
	if rate := e.AverageChargingRate(ctx, deviceID); rate > 0 {
		return floatRef(remaining / rate)
	}
	return floatRef(remaining / (100 / e.specs.ChargingTimeMinutes))
}

// EstimateBatteryLife returns minutes until 0%, nil only when level is unknown.
func (e *Estimator) EstimateBatteryLife(ctx context.Context, deviceID string, level *int, a Activity) *float64 {
	if level == nil {
		return nil
	}
	lvl := clampLevel(*level)
	if rate := e.AverageDrainRate(ctx, deviceID); rate > 0 {
		return floatRef(float64(lvl) / (rate * e.factors.For(a)))
	}
	return floatRef(e.staticLife(lvl, a))
}

// staticLife uses talk time during calls and standby time otherwise.
func (e *Estimator) staticLife(level int, a Activity) float64 {
	if a.InCall {
		return e.specs.TalkTimeMinutes * float64(level) / 100
	}
	return e.specs.StandbyTimeMinutes * float64(level) / 100
}

// Estimates builds the full bundle for a live device.
func (e *Estimator) Estimates(ctx context.Context, d models.LiveDevice) models.Estimates {
	out := models.Estimates{IsCharging: d.IsCharging}
	if d.BatteryLevel != nil {
		lvl := *d.BatteryLevel
		out.BatteryLevel = &lvl
	}

	a := Activity{InCall: d.IsInCall, Muted: d.IsMuted}
	if d.IsCharging {
		out.TimeToFullCharge = e.EstimateTimeToFullCharge(ctx, d.ID, d.BatteryLevel)
	} else {
		out.TimeToEmpty = e.EstimateBatteryLife(ctx, d.ID, d.BatteryLevel, a)
	}
	if rate := e.AverageChargingRate(ctx, d.ID); rate > 0 {
		out.ChargingRate = floatRef(rate)
	}
	if rate := e.AverageDrainRate(ctx, d.ID); rate > 0 {
		out.DrainRate = floatRef(rate * e.factors.For(a))
	}
	return out
}

// meanPositive averages the strictly positive values; non-positive ones count for nothing.
func meanPositive(values []float64) float64 {
	var (
		sum float64
		n   int
	)
	for _, v := range values {
		if v > 0 {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func floatRef(v float64) *float64 { return &v }
