// Package config loads the sensor simulation settings from YAML.
package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/XC-/cgms/session"
)

// Config is the root configuration.
type Config struct {
	Logger     LoggerConfig     `yaml:"logger"`
	Sensor     SensorConfig     `yaml:"sensor"`
	Delivery   DeliveryConfig   `yaml:"delivery"`
	Simulation SimulationConfig `yaml:"simulation"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
	Output string `yaml:"output"` // stdout, stderr or a file path
}

// SensorConfig describes the simulated CGM sensor.
type SensorConfig struct {
	Name     string   `yaml:"name"`
	Features []string `yaml:"features"`
	// SampleType and Location are packed into the type/sample location octet.
	SampleType            uint8         `yaml:"sample_type"`
	Location              uint8         `yaml:"location"`
	MeasurementInterval   uint16        `yaml:"measurement_interval"`
	CommunicationInterval uint8         `yaml:"communication_interval"`
	RunTimeHours          uint16        `yaml:"run_time_hours"`
	Tick                  time.Duration `yaml:"tick"` // wall time of one session minute
	Seed                  uint64        `yaml:"seed"`
}

// DeliveryConfig tunes the notification batcher and the periodic
// delivery circuit breaker.
type DeliveryConfig struct {
	SettleDelay time.Duration `yaml:"settle_delay"`
	MaxStalls   int           `yaml:"max_stalls"`
	StallDelay  time.Duration `yaml:"stall_delay"`
	Rate        float64       `yaml:"rate"` // notifications per second, 0 unpaced
	Burst       int           `yaml:"burst"`
	Breaker     BreakerConfig `yaml:"breaker"`
}

// BreakerConfig configures the periodic delivery circuit breaker.
type BreakerConfig struct {
	MaxFailures uint32        `yaml:"max_failures"`
	OpenTimeout time.Duration `yaml:"open_timeout"`
}

// SimulationConfig drives the example collector.
type SimulationConfig struct {
	Minutes int `yaml:"minutes"`
	MTU     int `yaml:"mtu"`
}

// featureNames maps configuration names to feature bits.
var featureNames = map[string]session.Features{
	"calibration":       session.FeatureCalibration,
	"patient_high_low":  session.FeaturePatientHighLowAlerts,
	"hypo":              session.FeatureHypoAlerts,
	"hyper":             session.FeatureHyperAlerts,
	"rate":              session.FeatureRateAlerts,
	"device_specific":   session.FeatureDeviceSpecificAlert,
	"malfunction":       session.FeatureMalfunctionDetection,
	"temperature":       session.FeatureTemperatureAlert,
	"result_high_low":   session.FeatureResultHighLow,
	"low_battery":       session.FeatureLowBattery,
	"sensor_type_error": session.FeatureSensorTypeError,
	"general_fault":     session.FeatureGeneralFault,
	"e2e_crc":           session.FeatureE2ECRC,
	"multiple_bond":     session.FeatureMultipleBond,
	"multiple_sessions": session.FeatureMultipleSessions,
	"trend":             session.FeatureTrend,
	"quality":           session.FeatureQuality,
}

// FeatureNames returns the accepted feature names, sorted.
func FeatureNames() []string {
	names := make([]string, 0, len(featureNames))
	for n := range featureNames {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// FeatureMask returns the feature bits named in s.Features.
func (s SensorConfig) FeatureMask() (session.Features, error) {
	var f session.Features
	for _, n := range s.Features {
		bit, ok := featureNames[strings.ToLower(strings.TrimSpace(n))]
		if !ok {
			return 0, fmt.Errorf("unknown feature %q", n)
		}
		f |= bit
	}
	return f, nil
}

// Defaults returns a configuration with sensible defaults.
func Defaults() *Config {
	return &Config{
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Sensor: SensorConfig{
			Name: "cgm-sensor",
			Features: []string{
				"calibration", "patient_high_low", "hypo", "hyper", "rate",
				"device_specific", "trend", "quality",
			},
			SampleType:            session.TypeInterstitialFluid,
			Location:              session.LocationSubcutaneous,
			MeasurementInterval:   1,
			CommunicationInterval: 5,
			RunTimeHours:          24,
			Tick:                  time.Minute,
			Seed:                  1,
		},
		Delivery: DeliveryConfig{
			MaxStalls:  3,
			StallDelay: 10 * time.Millisecond,
			Breaker: BreakerConfig{
				MaxFailures: 3,
				OpenTimeout: 5 * time.Minute,
			},
		},
		Simulation: SimulationConfig{
			Minutes: 30,
			MTU:     64,
		},
	}
}

// Load reads the YAML file at path over the defaults, applies
// environment overrides and validates the result. A missing file
// yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	if err := ApplyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides applies CGMS_* environment variables to cfg.
func ApplyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("CGMS_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("CGMS_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("CGMS_LOGGER_OUTPUT"); v != "" {
		cfg.Logger.Output = v
	}
	if v := os.Getenv("CGMS_SENSOR_NAME"); v != "" {
		cfg.Sensor.Name = v
	}
	if v := os.Getenv("CGMS_SENSOR_FEATURES"); v != "" {
		cfg.Sensor.Features = strings.Split(v, ",")
	}
	if v := os.Getenv("CGMS_SENSOR_TICK"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("CGMS_SENSOR_TICK: %w", err)
		}
		cfg.Sensor.Tick = d
	}
	if v := os.Getenv("CGMS_SENSOR_RUN_TIME_HOURS"); v != "" {
		n, err := strconv.ParseUint(v, 10, 16)
		if err != nil {
			return fmt.Errorf("CGMS_SENSOR_RUN_TIME_HOURS: %w", err)
		}
		cfg.Sensor.RunTimeHours = uint16(n)
	}
	if v := os.Getenv("CGMS_DELIVERY_SETTLE_DELAY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("CGMS_DELIVERY_SETTLE_DELAY: %w", err)
		}
		cfg.Delivery.SettleDelay = d
	}
	if v := os.Getenv("CGMS_SIMULATION_MINUTES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CGMS_SIMULATION_MINUTES: %w", err)
		}
		cfg.Simulation.Minutes = n
	}
	return nil
}
