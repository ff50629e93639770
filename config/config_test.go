package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/XC-/cgms/session"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "cgms.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestDefaultsValidate(t *testing.T) {
	require.NoError(t, Validate(Defaults()))
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Defaults(), cfg)
}

func TestLoadOverlaysFile(t *testing.T) {
	p := writeConfig(t, `
logger:
  level: debug
  format: json
sensor:
  name: bench
  features: [calibration, e2e_crc]
  measurement_interval: 5
  run_time_hours: 2
  tick: 250ms
delivery:
  settle_delay: 20ms
  rate: 50
  burst: 4
simulation:
  minutes: 90
`)
	cfg, err := Load(p)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.Equal(t, "json", cfg.Logger.Format)
	assert.Equal(t, "stderr", cfg.Logger.Output, "unset keys keep defaults")
	assert.Equal(t, "bench", cfg.Sensor.Name)
	assert.Equal(t, uint16(5), cfg.Sensor.MeasurementInterval)
	assert.Equal(t, uint16(2), cfg.Sensor.RunTimeHours)
	assert.Equal(t, 250*time.Millisecond, cfg.Sensor.Tick)
	assert.Equal(t, 20*time.Millisecond, cfg.Delivery.SettleDelay)
	assert.Equal(t, 50.0, cfg.Delivery.Rate)
	assert.Equal(t, 90, cfg.Simulation.Minutes)

	f, err := cfg.Sensor.FeatureMask()
	require.NoError(t, err)
	assert.Equal(t, session.FeatureCalibration|session.FeatureE2ECRC, f)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	p := writeConfig(t, "sensor: [unterminated")
	_, err := Load(p)
	assert.ErrorContains(t, err, "parse config")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CGMS_LOGGER_LEVEL", "warn")
	t.Setenv("CGMS_SENSOR_NAME", "env-sensor")
	t.Setenv("CGMS_SENSOR_FEATURES", "trend,quality")
	t.Setenv("CGMS_SENSOR_TICK", "1s")
	t.Setenv("CGMS_SENSOR_RUN_TIME_HOURS", "12")
	t.Setenv("CGMS_DELIVERY_SETTLE_DELAY", "5ms")
	t.Setenv("CGMS_SIMULATION_MINUTES", "7")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Logger.Level)
	assert.Equal(t, "env-sensor", cfg.Sensor.Name)
	assert.Equal(t, time.Second, cfg.Sensor.Tick)
	assert.Equal(t, uint16(12), cfg.Sensor.RunTimeHours)
	assert.Equal(t, 5*time.Millisecond, cfg.Delivery.SettleDelay)
	assert.Equal(t, 7, cfg.Simulation.Minutes)

	f, err := cfg.Sensor.FeatureMask()
	require.NoError(t, err)
	assert.Equal(t, session.FeatureTrend|session.FeatureQuality, f)
}

func TestEnvOverrideParseErrors(t *testing.T) {
	for _, key := range []string{"CGMS_SENSOR_TICK", "CGMS_SENSOR_RUN_TIME_HOURS", "CGMS_DELIVERY_SETTLE_DELAY", "CGMS_SIMULATION_MINUTES"} {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, "bogus")
			_, err := Load("")
			assert.ErrorContains(t, err, key)
		})
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"level", func(c *Config) { c.Logger.Level = "loud" }, "unknown level"},
		{"format", func(c *Config) { c.Logger.Format = "xml" }, "unknown format"},
		{"name", func(c *Config) { c.Sensor.Name = "" }, "name is required"},
		{"feature", func(c *Config) { c.Sensor.Features = []string{"telepathy"} }, "unknown feature"},
		{"location", func(c *Config) { c.Sensor.Location = 0x10 }, "nibble"},
		{"measurement interval", func(c *Config) { c.Sensor.MeasurementInterval = 0 }, "measurement_interval"},
		{"run time zero", func(c *Config) { c.Sensor.RunTimeHours = 0 }, "run_time_hours"},
		{"run time wraps offset", func(c *Config) { c.Sensor.RunTimeHours = maxRunTimeHours + 1 }, "run_time_hours"},
		{"tick", func(c *Config) { c.Sensor.Tick = 0 }, "tick"},
		{"settle", func(c *Config) { c.Delivery.SettleDelay = -time.Second }, "delays"},
		{"stalls", func(c *Config) { c.Delivery.MaxStalls = -1 }, "max_stalls"},
		{"rate", func(c *Config) { c.Delivery.Rate = -1 }, "rate"},
		{"breaker", func(c *Config) { c.Delivery.Breaker.OpenTimeout = -time.Second }, "open_timeout"},
		{"minutes", func(c *Config) { c.Simulation.Minutes = -1 }, "minutes"},
		{"mtu", func(c *Config) { c.Simulation.MTU = 22 }, "mtu"},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			assert.ErrorContains(t, Validate(cfg), tt.want)
		})
	}

	cfg := Defaults()
	cfg.Sensor.RunTimeHours = maxRunTimeHours
	assert.NoError(t, Validate(cfg), "longest run time that fits the time offset")
}

func TestFeatureNames(t *testing.T) {
	names := FeatureNames()
	assert.Len(t, names, 17)
	assert.IsIncreasing(t, names)
}
