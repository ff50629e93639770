// Package cgms implements the Continuous Glucose Monitoring service on
// top of the gatt server: a Sensor role exposing the CGM characteristics
// and record access procedures, and a Collector role consuming them.
//
// A Sensor owns one measurement session. Control point writes, reads and
// the session's minute ticks all run on the gatt server's goroutine;
// only Record Access reports are delivered from a worker so that an
// Abort can interrupt them.
package cgms

import (
	"errors"

	"github.com/XC-/cgms/gatt"
)

// CGM service and characteristic UUIDs.
var (
	ServiceUUID          = gatt.UUID16(0x181F)
	MeasurementUUID      = gatt.UUID16(0x2AA7)
	FeatureUUID          = gatt.UUID16(0x2AA8)
	StatusUUID           = gatt.UUID16(0x2AA9)
	SessionStartTimeUUID = gatt.UUID16(0x2AAA)
	SessionRunTimeUUID   = gatt.UUID16(0x2AAB)
	RecordAccessUUID     = gatt.UUID16(0x2A52)
	SpecificOpsUUID      = gatt.UUID16(0x2AAC)

	userDescriptionUUID = gatt.UUID16(0x2901)
)

var (
	// ErrClosed is returned once the sensor has stopped serving.
	ErrClosed = errors.New("cgms: sensor closed")
	// ErrNotAttached is returned by collector requests before Attach.
	ErrNotAttached = errors.New("cgms: collector not attached")
	// ErrMissingCharacteristic is returned by Attach when the sensor's
	// CGM service lacks a mandatory characteristic.
	ErrMissingCharacteristic = errors.New("cgms: missing characteristic")
)
