package racp

import (
	"encoding/binary"
	"errors"

	"github.com/XC-/cgms/record"
)

var (
	// ErrShort is returned when a control point value is truncated.
	ErrShort = errors.New("racp: value too short")
	// ErrUnexpected is returned for an indication that is not a response.
	ErrUnexpected = errors.New("racp: unexpected response op code")
)

// ParseCommand splits b into op code, operator and operand.
func ParseCommand(b []byte) (Command, error) {
	if len(b) < 2 {
		return Command{}, ErrShort
	}
	return Command{Op: Opcode(b[0]), Operator: record.Operator(b[1]), Operand: b[2:]}, nil
}

// Bytes encodes c.
func (c Command) Bytes() []byte {
	return append([]byte{byte(c.Op), byte(c.Operator)}, c.Operand...)
}

// Bytes encodes r as an indication.
func (r Result) Bytes() []byte {
	if r.Op == OpNumberOfStoredRecords {
		return binary.LittleEndian.AppendUint16([]byte{byte(r.Op), byte(record.OpNull)}, r.Count)
	}
	return []byte{byte(OpResponseCode), byte(record.OpNull), byte(r.Request), byte(r.Code)}
}

// ParseResult decodes an indication produced by Result.Bytes.
func ParseResult(b []byte) (Result, error) {
	if len(b) < 4 {
		return Result{}, ErrShort
	}
	switch Opcode(b[0]) {
	case OpNumberOfStoredRecords:
		return Result{
			Op:      OpNumberOfStoredRecords,
			Request: OpReportNumberOfStoredRecords,
			Code:    Success,
			Count:   binary.LittleEndian.Uint16(b[2:]),
		}, nil
	case OpResponseCode:
		return respond(Opcode(b[2]), ResponseCode(b[3])), nil
	}
	return Result{}, ErrUnexpected
}
