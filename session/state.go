// Package session holds the CGM sensor's session state and the
// minute-driven state machine that generates measurements.
package session

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// Status is the 24-bit sensor status annunciation. The low octet is the
// status octet, the middle one cal/temp and the high one warning.
type Status uint32

const (
	StatusSessionStopped      Status = 0x000001
	StatusBatteryLow          Status = 0x000002
	StatusSensorTypeIncorrect Status = 0x000004
	StatusSensorMalfunction   Status = 0x000008
	StatusDeviceSpecificAlert Status = 0x000010
	StatusGeneralFault        Status = 0x000020

	StatusTimeSyncRequired       Status = 0x000100
	StatusCalibrationNotAllowed  Status = 0x000200
	StatusCalibrationRecommended Status = 0x000400
	StatusCalibrationRequired    Status = 0x000800
	StatusTemperatureTooHigh     Status = 0x001000
	StatusTemperatureTooLow      Status = 0x002000

	StatusBelowPatientLow   Status = 0x010000
	StatusAbovePatientHigh  Status = 0x020000
	StatusBelowHypo         Status = 0x040000
	StatusAboveHyper        Status = 0x080000
	StatusRateDecreaseAlert Status = 0x100000
	StatusRateIncreaseAlert Status = 0x200000
	StatusResultTooLow      Status = 0x400000
	StatusResultTooHigh     Status = 0x800000

	statusResultBits = StatusBelowPatientLow | StatusAbovePatientHigh | StatusBelowHypo |
		StatusAboveHyper | StatusRateDecreaseAlert | StatusRateIncreaseAlert
)

// Octets splits s into its status, cal/temp and warning octets.
func (s Status) Octets() (status, calTemp, warning uint8) {
	return uint8(s), uint8(s >> 8), uint8(s >> 16)
}

// Features is the 24-bit CGM feature bitmask.
type Features uint32

const (
	FeatureCalibration          Features = 0x000001
	FeaturePatientHighLowAlerts Features = 0x000002
	FeatureHypoAlerts           Features = 0x000004
	FeatureHyperAlerts          Features = 0x000008
	FeatureRateAlerts           Features = 0x000010
	FeatureDeviceSpecificAlert  Features = 0x000020
	FeatureMalfunctionDetection Features = 0x000040
	FeatureTemperatureAlert     Features = 0x000080
	FeatureResultHighLow        Features = 0x000100
	FeatureLowBattery           Features = 0x000200
	FeatureSensorTypeError      Features = 0x000400
	FeatureGeneralFault         Features = 0x000800
	FeatureE2ECRC               Features = 0x001000
	FeatureMultipleBond         Features = 0x002000
	FeatureMultipleSessions     Features = 0x004000
	FeatureTrend                Features = 0x008000
	FeatureQuality              Features = 0x010000
)

// Has reports whether every bit of g is set in f.
func (f Features) Has(g Features) bool { return f&g == g }

// Sample types, low nibble of the type/sample location octet.
const (
	TypeCapillaryWholeBlood  uint8 = 0x01
	TypeCapillaryPlasma      uint8 = 0x02
	TypeVenousWholeBlood     uint8 = 0x03
	TypeVenousPlasma         uint8 = 0x04
	TypeArterialWholeBlood   uint8 = 0x05
	TypeArterialPlasma       uint8 = 0x06
	TypeUndeterminedBlood    uint8 = 0x07
	TypeUndeterminedPlasma   uint8 = 0x08
	TypeInterstitialFluid    uint8 = 0x09
	TypeControlSolution      uint8 = 0x0A
	LocationFinger           uint8 = 0x01
	LocationAlternateSite    uint8 = 0x02
	LocationEarlobe          uint8 = 0x03
	LocationControlSolution  uint8 = 0x04
	LocationSubcutaneous     uint8 = 0x05
	LocationValueUnavailable uint8 = 0x0F
)

// TypeLocation packs a sample type and location into one octet.
func TypeLocation(typ, loc uint8) uint8 { return typ&0x0F | loc<<4 }

// Alert names one of the six configurable alert levels.
type Alert int

const (
	AlertPatientHigh Alert = iota
	AlertPatientLow
	AlertHypo
	AlertHyper
	AlertRateDecrease
	AlertRateIncrease
	numAlerts
)

// Feature returns the feature bit that enables a.
func (a Alert) Feature() Features {
	switch a {
	case AlertPatientHigh, AlertPatientLow:
		return FeaturePatientHighLowAlerts
	case AlertHypo:
		return FeatureHypoAlerts
	case AlertHyper:
		return FeatureHyperAlerts
	case AlertRateDecrease, AlertRateIncrease:
		return FeatureRateAlerts
	}
	return 0
}

func (a Alert) String() string {
	switch a {
	case AlertPatientHigh:
		return "patient high"
	case AlertPatientLow:
		return "patient low"
	case AlertHypo:
		return "hypo"
	case AlertHyper:
		return "hyper"
	case AlertRateDecrease:
		return "rate decrease"
	case AlertRateIncrease:
		return "rate increase"
	}
	return "unknown"
}

// Alert level bounds in mg/dL.
const (
	MinAlertLevel = 10
	MaxAlertLevel = 200
)

// SmallestCommunicationInterval is the interval selected by the
// "fastest" communication interval value, in minutes.
const SmallestCommunicationInterval = 1

// StartTime is the user-facing session start time.
type StartTime struct {
	Time     time.Time
	TimeZone int8  // offset from UTC in 15 minute steps, -128 if unknown
	DST      uint8 // daylight saving offset code, 255 if unknown
}

// State is the sensor's session state. It is owned by one sensor and
// mutated only from its executor.
type State struct {
	ID       ulid.ULID
	Status   Status
	Features Features
	// TypeLocation is the packed sample type and location.
	TypeLocation uint8

	Elapsed    uint32 // minutes since session start
	TimeOffset uint16 // time offset of the next measurement

	MeasurementInterval   uint16 // minutes
	CommunicationInterval uint8  // minutes, 0 disables periodic delivery
	RunTime               uint16 // hours

	Levels [numAlerts]uint16
	Start  StartTime
}

// NewState returns a stopped session with the given features.
func NewState(f Features) *State {
	s := &State{
		Status:              StatusSessionStopped,
		Features:            f,
		TypeLocation:        TypeLocation(TypeInterstitialFluid, LocationSubcutaneous),
		MeasurementInterval: 1,
		RunTime:             24,
		Start:               StartTime{TimeZone: -128, DST: 255},
	}
	s.Levels[AlertPatientHigh] = 180
	s.Levels[AlertPatientLow] = 70
	s.Levels[AlertHypo] = 55
	s.Levels[AlertHyper] = 200
	s.Levels[AlertRateDecrease] = 20
	s.Levels[AlertRateIncrease] = 20
	return s
}

// Running reports whether a session is in progress.
func (s *State) Running() bool { return s.Status&StatusSessionStopped == 0 }

// Level returns the configured level for a.
func (s *State) Level(a Alert) uint16 { return s.Levels[a] }

// SetLevel stores level for a.
func (s *State) SetLevel(a Alert, level uint16) { s.Levels[a] = level }

// RunTimeMinutes returns the session run time limit in minutes.
func (s *State) RunTimeMinutes() uint32 { return uint32(s.RunTime) * 60 }
