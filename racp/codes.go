package racp

import "fmt"

// Opcode is a Record Access Control Point op code.
type Opcode uint8

const (
	OpReportStoredRecords         Opcode = 0x01
	OpDeleteStoredRecords         Opcode = 0x02
	OpAbort                       Opcode = 0x03
	OpReportNumberOfStoredRecords Opcode = 0x04
	OpNumberOfStoredRecords       Opcode = 0x05 // response
	OpResponseCode                Opcode = 0x06 // response
)

func (o Opcode) String() string {
	switch o {
	case OpReportStoredRecords:
		return "report stored records"
	case OpDeleteStoredRecords:
		return "delete stored records"
	case OpAbort:
		return "abort"
	case OpReportNumberOfStoredRecords:
		return "report number of stored records"
	case OpNumberOfStoredRecords:
		return "number of stored records"
	case OpResponseCode:
		return "response code"
	}
	return fmt.Sprintf("opcode(0x%02x)", uint8(o))
}

// ResponseCode is the outcome of a procedure.
type ResponseCode uint8

const (
	Success              ResponseCode = 0x01
	OpcodeNotSupported   ResponseCode = 0x02
	InvalidOperator      ResponseCode = 0x03
	OperatorNotSupported ResponseCode = 0x04
	InvalidOperand       ResponseCode = 0x05
	NoRecordsFound       ResponseCode = 0x06
	AbortUnsuccessful    ResponseCode = 0x07
	ProcedureNotComplete ResponseCode = 0x08
	OperandNotSupported  ResponseCode = 0x09
)

var responseNames = map[ResponseCode]string{
	Success:              "success",
	OpcodeNotSupported:   "op code not supported",
	InvalidOperator:      "invalid operator",
	OperatorNotSupported: "operator not supported",
	InvalidOperand:       "invalid operand",
	NoRecordsFound:       "no records found",
	AbortUnsuccessful:    "abort unsuccessful",
	ProcedureNotComplete: "procedure not completed",
	OperandNotSupported:  "operand not supported",
}

func (c ResponseCode) String() string {
	if s, ok := responseNames[c]; ok {
		return s
	}
	return fmt.Sprintf("response(0x%02x)", uint8(c))
}

// FilterType names the field operands filter on.
type FilterType uint8

// FilterTimeOffset is the only filter type CGM defines.
const FilterTimeOffset FilterType = 0x01
