package record

import "errors"

// CalibrationCapacity is the maximum number of stored calibrations.
const CalibrationCapacity = 20

// Reserved calibration record numbers.
const (
	NoCalibration   uint16 = 0x0000 // never assigned
	LastCalibration uint16 = 0xFFFF // selects the most recently added record
)

// Calibration status bits.
const (
	CalRejected       uint8 = 0x01
	CalOutOfRange     uint8 = 0x02
	CalProcessPending uint8 = 0x04
)

// ErrCalibrationFull is returned by Append once the list holds
// CalibrationCapacity records.
var ErrCalibrationFull = errors.New("record: calibration list is full")

// A Calibration is one glucose calibration entry.
type Calibration struct {
	Number       uint16
	Glucose      uint16 // mg/dL
	Time         uint16 // minutes since session start
	NextTime     uint16 // minutes since session start
	TypeLocation uint8  // type in the low nibble, sample location in the high nibble
	Status       uint8
}

// A CalibrationList is an append-only list of calibrations.
// Record numbers increase by one with every append and are not
// reused after Clear.
type CalibrationList struct {
	recs []Calibration
	last uint16
}

// Len returns the number of stored calibrations.
func (l *CalibrationList) Len() int { return len(l.recs) }

// Append assigns c the next record number and stores it.
// The list is left unchanged when it is full.
func (l *CalibrationList) Append(c Calibration) (Calibration, error) {
	if len(l.recs) >= CalibrationCapacity {
		return Calibration{}, ErrCalibrationFull
	}
	l.last++
	if l.last == NoCalibration || l.last == LastCalibration {
		l.last = 1
	}
	c.Number = l.last
	l.recs = append(l.recs, c)
	return c, nil
}

// Find returns the calibration with record number n.
// LastCalibration selects the most recent one; NoCalibration never matches.
func (l *CalibrationList) Find(n uint16) (Calibration, bool) {
	switch {
	case n == NoCalibration || len(l.recs) == 0:
		return Calibration{}, false
	case n == LastCalibration:
		return l.recs[len(l.recs)-1], true
	}
	for _, c := range l.recs {
		if c.Number == n {
			return c, true
		}
	}
	return Calibration{}, false
}

// Clear drops every calibration.
func (l *CalibrationList) Clear() { l.recs = l.recs[:0] }
