package socp

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/XC-/cgms/record"
	"github.com/XC-/cgms/session"
	"github.com/XC-/cgms/wire"
)

// ErrEmpty is returned when a control point value has no op code.
var ErrEmpty = errors.New("socp: empty value")

const calibrationLen = 10

// A Command is a control point write: an op code and its raw operand.
type Command struct {
	Op      Opcode
	Operand []byte
}

// ParseCommand splits b into a Command. When crc is set the trailing
// E2E-CRC is verified and removed.
func ParseCommand(b []byte, crc bool) (Command, error) {
	if crc {
		var err error
		if b, err = wire.CheckCRC(b, 1); err != nil {
			return Command{}, err
		}
	}
	if len(b) == 0 {
		return Command{}, ErrEmpty
	}
	return Command{Op: Opcode(b[0]), Operand: b[1:]}, nil
}

// Bytes encodes c.
func (c Command) Bytes(crc bool) []byte {
	b := append([]byte{byte(c.Op)}, c.Operand...)
	if crc {
		b = wire.AppendCRC(b)
	}
	return b
}

// SetCommunicationInterval builds the command setting the interval in minutes.
func SetCommunicationInterval(minutes uint8) Command {
	return Command{Op: OpSetCommunicationInterval, Operand: []byte{minutes}}
}

// SetCalibration builds the command storing c.
func SetCalibration(c record.Calibration) Command {
	return Command{Op: OpSetGlucoseCalibration, Operand: appendCalibration(nil, c)}
}

// GetCalibration builds the command reading record number n.
func GetCalibration(n uint16) Command {
	return Command{Op: OpGetGlucoseCalibration, Operand: binary.LittleEndian.AppendUint16(nil, n)}
}

// SetAlertLevel builds the command setting a's level in mg/dL.
func SetAlertLevel(a session.Alert, level uint16) Command {
	f, err := wire.NewSFloat(int(level))
	if err != nil {
		f = wire.SFloatNaN
	}
	return Command{Op: alertOps[a].set, Operand: binary.LittleEndian.AppendUint16(nil, uint16(f))}
}

// GetAlertLevel builds the command reading a's level.
func GetAlertLevel(a session.Alert) Command { return Command{Op: alertOps[a].get} }

func appendCalibration(b []byte, c record.Calibration) []byte {
	f, err := wire.NewSFloat(int(c.Glucose))
	if err != nil {
		f = wire.SFloatNaN
	}
	b = binary.LittleEndian.AppendUint16(b, uint16(f))
	b = binary.LittleEndian.AppendUint16(b, c.Time)
	b = append(b, c.TypeLocation)
	b = binary.LittleEndian.AppendUint16(b, c.NextTime)
	b = binary.LittleEndian.AppendUint16(b, c.Number)
	return append(b, c.Status)
}

// parseCalibration decodes a calibration operand. ok is false when the
// length is wrong or the concentration is not a number.
func parseCalibration(b []byte) (c record.Calibration, ok bool) {
	if len(b) != calibrationLen {
		return c, false
	}
	g, ok := wire.SFloat(binary.LittleEndian.Uint16(b)).Int()
	if !ok || g < 0 || g > 0xFFFF {
		return c, false
	}
	return record.Calibration{
		Glucose:      uint16(g),
		Time:         binary.LittleEndian.Uint16(b[2:]),
		TypeLocation: b[4],
		NextTime:     binary.LittleEndian.Uint16(b[5:]),
		Number:       binary.LittleEndian.Uint16(b[7:]),
		Status:       b[9],
	}, true
}

// A Response is the indication answering a Command. Op selects which
// of the payload fields is meaningful.
type Response struct {
	Op          Opcode
	Request     Opcode
	Code        ResponseCode
	Interval    uint8
	Level       uint16
	Calibration record.Calibration
}

// Bytes encodes r.
func (r Response) Bytes(crc bool) []byte {
	b := []byte{byte(r.Op)}
	switch {
	case r.Op == OpResponse:
		b = append(b, byte(r.Request), byte(r.Code))
	case r.Op == OpCommunicationIntervalResponse:
		b = append(b, r.Interval)
	case r.Op == OpGlucoseCalibrationResponse:
		b = appendCalibration(b, r.Calibration)
	default:
		f, err := wire.NewSFloat(int(r.Level))
		if err != nil {
			f = wire.SFloatNaN
		}
		b = binary.LittleEndian.AppendUint16(b, uint16(f))
	}
	if crc {
		b = wire.AppendCRC(b)
	}
	return b
}

// ParseResponse decodes an indication produced by Response.Bytes.
func ParseResponse(b []byte, crc bool) (Response, error) {
	c, err := ParseCommand(b, crc)
	if err != nil {
		return Response{}, err
	}
	// Typed responses directly follow the get op code they answer.
	r := Response{Op: c.Op, Request: c.Op - 1, Code: Success}
	short := fmt.Errorf("socp: %v: %w", c.Op, wire.ErrShort)
	switch {
	case c.Op == OpResponse:
		if len(c.Operand) < 2 {
			return r, short
		}
		r.Request, r.Code = Opcode(c.Operand[0]), ResponseCode(c.Operand[1])
	case c.Op == OpCommunicationIntervalResponse:
		if len(c.Operand) < 1 {
			return r, short
		}
		r.Interval = c.Operand[0]
	case c.Op == OpGlucoseCalibrationResponse:
		cal, ok := parseCalibration(c.Operand)
		if !ok {
			return r, short
		}
		r.Calibration = cal
	default:
		if _, ok := alertByResponse(c.Op); !ok {
			return r, fmt.Errorf("socp: unexpected response op code %v", c.Op)
		}
		if len(c.Operand) < 2 {
			return r, short
		}
		v, _ := wire.SFloat(binary.LittleEndian.Uint16(c.Operand)).Int()
		r.Level = uint16(v)
	}
	return r, nil
}
