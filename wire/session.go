package wire

import (
	"encoding/binary"
	"errors"
	"time"

	"github.com/XC-/cgms/session"
)

// crcNotSupported fills the Feature E2E-CRC field when CRCs are off.
const crcNotSupported = 0xFFFF

// EncodeFeature encodes the CGM Feature value. The Feature value always
// carries its CRC field; it holds 0xFFFF unless E2E-CRC is supported.
func EncodeFeature(f session.Features, typeLocation uint8) []byte {
	b := []byte{byte(f), byte(f >> 8), byte(f >> 16), typeLocation}
	if f.Has(session.FeatureE2ECRC) {
		return AppendCRC(b)
	}
	return binary.LittleEndian.AppendUint16(b, crcNotSupported)
}

// DecodeFeature decodes a CGM Feature value.
func DecodeFeature(b []byte) (f session.Features, typeLocation uint8, err error) {
	if len(b) < 6 {
		return 0, 0, ErrShort
	}
	f = session.Features(uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16)
	if f.Has(session.FeatureE2ECRC) {
		if _, err := CheckCRC(b[:6], 4); err != nil {
			return 0, 0, err
		}
	}
	return f, b[3], nil
}

// EncodeStatus encodes the CGM Status value.
func EncodeStatus(offset uint16, s session.Status, crc bool) []byte {
	b := binary.LittleEndian.AppendUint16(nil, offset)
	b = append(b, byte(s), byte(s>>8), byte(s>>16))
	if crc {
		b = AppendCRC(b)
	}
	return b
}

// DecodeStatus decodes a CGM Status value.
func DecodeStatus(b []byte, crc bool) (offset uint16, s session.Status, err error) {
	if crc {
		if b, err = CheckCRC(b, 5); err != nil {
			return 0, 0, err
		}
	}
	if len(b) < 5 {
		return 0, 0, ErrShort
	}
	return binary.LittleEndian.Uint16(b), session.Status(uint32(b[2]) | uint32(b[3])<<8 | uint32(b[4])<<16), nil
}

const startTimeLen = 9

// ErrOutOfRange is returned for a start time with a field outside
// its defined range.
var ErrOutOfRange = errors.New("wire: start time field out of range")

// Time zone and DST offset limits. Time zones are 15 minute steps.
const (
	minTimeZone     = -48
	maxTimeZone     = 56
	unknownTimeZone = -128
	unknownDST      = 255
)

func validDST(v uint8) bool {
	switch v {
	case 0, 2, 4, 8, unknownDST:
		return true
	}
	return false
}

// EncodeStartTime encodes the CGM Session Start Time value.
func EncodeStartTime(st session.StartTime, crc bool) []byte {
	t := st.Time
	b := binary.LittleEndian.AppendUint16(nil, uint16(t.Year()))
	b = append(b, byte(t.Month()), byte(t.Day()), byte(t.Hour()), byte(t.Minute()), byte(t.Second()),
		byte(st.TimeZone), st.DST)
	if t.IsZero() {
		// Year, month and day zero mean "not known".
		copy(b[:4], []byte{0, 0, 0, 0})
	}
	if crc {
		b = AppendCRC(b)
	}
	return b
}

// DecodeStartTime decodes a CGM Session Start Time value. The time is
// read in UTC; the time zone field is reported separately.
func DecodeStartTime(b []byte, crc bool) (session.StartTime, error) {
	var err error
	if crc {
		if b, err = CheckCRC(b, startTimeLen); err != nil {
			return session.StartTime{}, err
		}
	}
	if len(b) < startTimeLen {
		return session.StartTime{}, ErrShort
	}
	st := session.StartTime{TimeZone: int8(b[7]), DST: b[8]}
	if tz := st.TimeZone; tz != unknownTimeZone && (tz < minTimeZone || tz > maxTimeZone) {
		return session.StartTime{}, ErrOutOfRange
	}
	if !validDST(st.DST) {
		return session.StartTime{}, ErrOutOfRange
	}
	if year := binary.LittleEndian.Uint16(b); year != 0 {
		month, day := b[2], b[3]
		if month < 1 || month > 12 || day < 1 || day > 31 || b[4] > 23 || b[5] > 59 || b[6] > 59 {
			return session.StartTime{}, ErrOutOfRange
		}
		st.Time = time.Date(int(year), time.Month(month), int(day), int(b[4]), int(b[5]), int(b[6]), 0, time.UTC)
	}
	return st, nil
}

// EncodeRunTime encodes the CGM Session Run Time value in hours.
func EncodeRunTime(hours uint16, crc bool) []byte {
	b := binary.LittleEndian.AppendUint16(nil, hours)
	if crc {
		b = AppendCRC(b)
	}
	return b
}

// DecodeRunTime decodes a CGM Session Run Time value.
func DecodeRunTime(b []byte, crc bool) (uint16, error) {
	var err error
	if crc {
		if b, err = CheckCRC(b, 2); err != nil {
			return 0, err
		}
	}
	if len(b) < 2 {
		return 0, ErrShort
	}
	return binary.LittleEndian.Uint16(b), nil
}
