package wire

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/XC-/cgms/record"
)

// ErrShort is returned when a value is shorter than its layout requires.
var ErrShort = errors.New("wire: value too short")

// MeasurementLen returns the encoded length of m, including the CRC
// when crc is set.
func MeasurementLen(m *record.Measurement, crc bool) int {
	n := m.Size()
	if crc {
		n += 2
	}
	return n
}

func sfloat(v int) uint16 {
	f, err := NewSFloat(v)
	if err != nil {
		return uint16(SFloatNaN)
	}
	return uint16(f)
}

// AppendMeasurement appends the encoding of m to b.
func AppendMeasurement(b []byte, m *record.Measurement, crc bool) []byte {
	start := len(b)
	b = append(b, byte(MeasurementLen(m, crc)), byte(m.Flags))
	b = binary.LittleEndian.AppendUint16(b, sfloat(int(m.Glucose)))
	b = binary.LittleEndian.AppendUint16(b, m.TimeOffset)
	if m.Flags&record.FlagStatus != 0 {
		b = append(b, m.Status)
	}
	if m.Flags&record.FlagCalTemp != 0 {
		b = append(b, m.CalTemp)
	}
	if m.Flags&record.FlagWarning != 0 {
		b = append(b, m.Warning)
	}
	if m.Flags&record.FlagTrend != 0 {
		b = binary.LittleEndian.AppendUint16(b, sfloat(int(m.Trend)))
	}
	if m.Flags&record.FlagQuality != 0 {
		b = binary.LittleEndian.AppendUint16(b, sfloat(int(m.Quality)))
	}
	if crc {
		b = binary.LittleEndian.AppendUint16(b, CRC(b[start:]))
	}
	return b
}

// PackMeasurements encodes as many leading records of ms as fit in
// limit bytes and reports how many it packed.
func PackMeasurements(ms []*record.Measurement, limit int, crc bool) ([]byte, int) {
	var b []byte
	n := 0
	for _, m := range ms {
		if len(b)+MeasurementLen(m, crc) > limit {
			break
		}
		b = AppendMeasurement(b, m, crc)
		n++
	}
	return b, n
}

// DecodeMeasurements decodes every record packed into b.
func DecodeMeasurements(b []byte, crc bool) ([]record.Measurement, error) {
	var out []record.Measurement
	for len(b) > 0 {
		size := int(b[0])
		if size < 6 || size > len(b) {
			return out, fmt.Errorf("%w: record size %d, %d bytes left", ErrShort, size, len(b))
		}
		rec := b[:size]
		b = b[size:]
		if crc {
			var err error
			if rec, err = CheckCRC(rec, 6); err != nil {
				return out, err
			}
		}
		m, err := decodeMeasurement(rec)
		if err != nil {
			return out, err
		}
		out = append(out, m)
	}
	return out, nil
}

func decodeMeasurement(b []byte) (record.Measurement, error) {
	m := record.Measurement{Flags: record.Flags(b[1])}
	if m.Size() != len(b) {
		return m, fmt.Errorf("%w: flags %#x need %d bytes, have %d", ErrShort, b[1], m.Size(), len(b))
	}
	g, _ := SFloat(binary.LittleEndian.Uint16(b[2:])).Int()
	if g > 0 {
		m.Glucose = uint16(g)
	}
	m.TimeOffset = binary.LittleEndian.Uint16(b[4:])
	p := b[6:]
	if m.Flags&record.FlagStatus != 0 {
		m.Status, p = p[0], p[1:]
	}
	if m.Flags&record.FlagCalTemp != 0 {
		m.CalTemp, p = p[0], p[1:]
	}
	if m.Flags&record.FlagWarning != 0 {
		m.Warning, p = p[0], p[1:]
	}
	if m.Flags&record.FlagTrend != 0 {
		t, _ := SFloat(binary.LittleEndian.Uint16(p)).Int()
		m.Trend, p = int16(t), p[2:]
	}
	if m.Flags&record.FlagQuality != 0 {
		q, _ := SFloat(binary.LittleEndian.Uint16(p)).Int()
		if q > 0 {
			m.Quality = uint16(q)
		}
	}
	return m, nil
}
