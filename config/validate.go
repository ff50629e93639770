package config

import (
	"fmt"
	"strings"

	"github.com/XC-/cgms/gatt"
)

// maxRunTimeHours keeps the run time within the 16-bit minute offset.
const maxRunTimeHours = 0xFFFF / 60

// Validate checks configuration correctness.
// It performs declarative validation only and does not mutate cfg.
func Validate(cfg *Config) error {
	switch strings.ToLower(cfg.Logger.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logger: unknown level %q", cfg.Logger.Level)
	}
	switch strings.ToLower(cfg.Logger.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logger: unknown format %q", cfg.Logger.Format)
	}

	s := cfg.Sensor
	if s.Name == "" {
		return fmt.Errorf("sensor: name is required")
	}
	if _, err := s.FeatureMask(); err != nil {
		return fmt.Errorf("sensor: %w", err)
	}
	if s.SampleType > 0x0F || s.Location > 0x0F {
		return fmt.Errorf("sensor: sample_type and location must fit a nibble")
	}
	if s.MeasurementInterval == 0 {
		return fmt.Errorf("sensor: measurement_interval must be positive")
	}
	if s.RunTimeHours == 0 || s.RunTimeHours > maxRunTimeHours {
		return fmt.Errorf("sensor: run_time_hours must be in [1, %d], got %d", maxRunTimeHours, s.RunTimeHours)
	}
	if s.Tick <= 0 {
		return fmt.Errorf("sensor: tick must be positive")
	}

	d := cfg.Delivery
	if d.SettleDelay < 0 || d.StallDelay < 0 {
		return fmt.Errorf("delivery: delays must not be negative")
	}
	if d.MaxStalls < 0 {
		return fmt.Errorf("delivery: max_stalls must not be negative")
	}
	if d.Rate < 0 || d.Burst < 0 {
		return fmt.Errorf("delivery: rate and burst must not be negative")
	}
	if d.Breaker.OpenTimeout < 0 {
		return fmt.Errorf("delivery: breaker open_timeout must not be negative")
	}

	if cfg.Simulation.Minutes < 0 {
		return fmt.Errorf("simulation: minutes must not be negative")
	}
	if m := cfg.Simulation.MTU; m < gatt.DefaultMTU || m > 517 {
		return fmt.Errorf("simulation: mtu must be in [%d, 517], got %d", gatt.DefaultMTU, m)
	}
	return nil
}
