package record

import "sync/atomic"

// Flags marks which optional fields of a Measurement are present.
// The bit values match the CGM Measurement characteristic.
type Flags uint8

const (
	FlagTrend          Flags = 0x01 // trend information present
	FlagQuality        Flags = 0x02 // quality present
	FlagStatus         Flags = 0x20 // sensor status annunciation octet present
	FlagCalTemp        Flags = 0x40 // cal/temp annunciation octet present
	FlagWarning        Flags = 0x80 // warning annunciation octet present
	FlagAll                  = FlagTrend | FlagQuality | FlagStatus | FlagCalTemp | FlagWarning
	baseMeasurementLen       = 6 // size, flags, glucose, time offset
)

var seq atomic.Uint32

// NextSeq returns the next process-unique measurement sequence number.
func NextSeq() uint32 { return seq.Add(1) }

// A Measurement is one glucose reading.
type Measurement struct {
	Seq      uint32
	Notified bool
	Flags    Flags

	Glucose    uint16 // mg/dL
	TimeOffset uint16 // minutes since session start

	Status  uint8
	CalTemp uint8
	Warning uint8
	Trend   int16  // (mg/dL)/min
	Quality uint16 // percent
}

// Size returns the encoded size of m in bytes, excluding any E2E-CRC.
func (m *Measurement) Size() int {
	n := baseMeasurementLen
	if m.Flags&FlagStatus != 0 {
		n++
	}
	if m.Flags&FlagCalTemp != 0 {
		n++
	}
	if m.Flags&FlagWarning != 0 {
		n++
	}
	if m.Flags&FlagTrend != 0 {
		n += 2
	}
	if m.Flags&FlagQuality != 0 {
		n += 2
	}
	return n
}

// SetAnnunciation stores the three sensor status annunciation octets
// and flags each one present only when it is non-zero.
func (m *Measurement) SetAnnunciation(status, calTemp, warning uint8) {
	m.Status, m.CalTemp, m.Warning = status, calTemp, warning
	m.Flags &^= FlagStatus | FlagCalTemp | FlagWarning
	if status != 0 {
		m.Flags |= FlagStatus
	}
	if calTemp != 0 {
		m.Flags |= FlagCalTemp
	}
	if warning != 0 {
		m.Flags |= FlagWarning
	}
}
