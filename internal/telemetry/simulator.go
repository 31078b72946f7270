// Package telemetry produces TelemetryEvents for the engine feed. The simulator stands in
// for the SDK bridge on machines without headsets attached.
package telemetry

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"headset_monitor/internal/models"
)

// ----------- Simulation constants -----------
const (
	StartLevel        = 80  // % battery when a simulated headset first connects
	LowLevel          = 20  // % at which the headset is docked
	DrainPerTick      = 1   // % lost per tick while idle
	CallDrainPerTick  = 2   // % lost per tick while in a call
	ChargePerTick     = 3   // % gained per tick while docked
	CallToggleChance  = 0.1 // probability per tick of a call starting or ending
	SimModel          = "Jabra Engage 55 Mono"
	simSerialTemplate = "SIM-%04d"
)

// Config controls the simulator. It is read from the simulator.* keys.
type Config struct {
	Enabled bool          `mapstructure:"enabled"`
	Tick    time.Duration `mapstructure:"tick"`
	Devices int           `mapstructure:"devices"`
}

type simDevice struct {
	serial    string
	connected bool
	level     int
	charging  bool
	inCall    bool
}

// Simulator drives a fixed set of fake headsets through charge and usage cycles.
type Simulator struct {
	devices []*simDevice
	rng     *rand.Rand
}

// NewSimulator returns a simulator for n headsets. The seed makes runs reproducible.
func NewSimulator(n int, seed int64) *Simulator {
	if n <= 0 {
		n = 1
	}
	devs := make([]*simDevice, n)
	for i := range devs {
		devs[i] = &simDevice{serial: fmt.Sprintf(simSerialTemplate, i+1), level: StartLevel}
	}
	return &Simulator{devices: devs, rng: rand.New(rand.NewSource(seed))}
}

// Run ticks at the given interval until ctx is canceled, sending every event to out.
func (s *Simulator) Run(ctx context.Context, tick time.Duration, out chan<- models.TelemetryEvent) {
	t := time.NewTicker(tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			for _, ev := range s.Step(now.UTC()) {
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

// Step advances every headset by one tick and returns the resulting events in order.
func (s *Simulator) Step(now time.Time) []models.TelemetryEvent {
	var events []models.TelemetryEvent
	for i, d := range s.devices {
		// First tick only brings the headset online.
		if !d.connected {
			d.connected = true
			events = append(events, models.TelemetryEvent{
				Type:         models.TelemetryDeviceConnected,
				SerialNumber: d.serial,
				Name:         fmt.Sprintf("Simulated headset %d", i+1),
				Model:        SimModel,
				At:           now,
			})
			events = append(events, s.battery(d, now))
			continue
		}

		if !d.charging && s.rng.Float64() < CallToggleChance {
			d.inCall = !d.inCall
			events = append(events, callEvent(d, now))
		}

		wasInCall := d.inCall
		s.advance(d)
		if wasInCall && !d.inCall {
			events = append(events, callEvent(d, now))
		}
		events = append(events, s.battery(d, now))
	}
	return events
}

// advance moves the battery one tick along the charge/drain cycle.
func (s *Simulator) advance(d *simDevice) {
	switch {
	case d.charging:
		d.level = min(d.level+ChargePerTick, 100)
		if d.level == 100 {
			d.charging = false
		}
	case d.inCall:
		d.level = max(d.level-CallDrainPerTick, 0)
	default:
		d.level = max(d.level-DrainPerTick, 0)
	}
	if !d.charging && d.level <= LowLevel {
		// Docking ends any call.
		d.charging = true
		d.inCall = false
	}
}

func callEvent(d *simDevice, now time.Time) models.TelemetryEvent {
	inCall := d.inCall
	return models.TelemetryEvent{
		Type:         models.TelemetryCallStateChanged,
		SerialNumber: d.serial,
		IsInCall:     &inCall,
		At:           now,
	}
}

func (s *Simulator) battery(d *simDevice, now time.Time) models.TelemetryEvent {
	level, charging := d.level, d.charging
	return models.TelemetryEvent{
		Type:         models.TelemetryBatteryChanged,
		SerialNumber: d.serial,
		Level:        &level,
		IsCharging:   &charging,
		At:           now,
	}
}
