package socp

import "fmt"

// Opcode is a Specific Ops Control Point op code.
type Opcode uint8

const (
	OpSetCommunicationInterval      Opcode = 0x01
	OpGetCommunicationInterval      Opcode = 0x02
	OpCommunicationIntervalResponse Opcode = 0x03
	OpSetGlucoseCalibration         Opcode = 0x04
	OpGetGlucoseCalibration         Opcode = 0x05
	OpGlucoseCalibrationResponse    Opcode = 0x06
	OpSetPatientHigh                Opcode = 0x07
	OpGetPatientHigh                Opcode = 0x08
	OpPatientHighResponse           Opcode = 0x09
	OpSetPatientLow                 Opcode = 0x0A
	OpGetPatientLow                 Opcode = 0x0B
	OpPatientLowResponse            Opcode = 0x0C
	OpSetHypo                       Opcode = 0x0D
	OpGetHypo                       Opcode = 0x0E
	OpHypoResponse                  Opcode = 0x0F
	OpSetHyper                      Opcode = 0x10
	OpGetHyper                      Opcode = 0x11
	OpHyperResponse                 Opcode = 0x12
	OpSetRateDecrease               Opcode = 0x13
	OpGetRateDecrease               Opcode = 0x14
	OpRateDecreaseResponse          Opcode = 0x15
	OpSetRateIncrease               Opcode = 0x16
	OpGetRateIncrease               Opcode = 0x17
	OpRateIncreaseResponse          Opcode = 0x18
	OpResetDeviceSpecificAlert      Opcode = 0x19
	OpStartSession                  Opcode = 0x1A
	OpStopSession                   Opcode = 0x1B
	OpResponse                      Opcode = 0x1C
)

func (o Opcode) String() string {
	if o >= OpSetCommunicationInterval && o <= OpResponse {
		return opNames[o-1]
	}
	return fmt.Sprintf("opcode(0x%02x)", uint8(o))
}

var opNames = [...]string{
	"set communication interval",
	"get communication interval",
	"communication interval response",
	"set glucose calibration value",
	"get glucose calibration value",
	"glucose calibration value response",
	"set patient high alert level",
	"get patient high alert level",
	"patient high alert level response",
	"set patient low alert level",
	"get patient low alert level",
	"patient low alert level response",
	"set hypo alert level",
	"get hypo alert level",
	"hypo alert level response",
	"set hyper alert level",
	"get hyper alert level",
	"hyper alert level response",
	"set rate of decrease alert level",
	"get rate of decrease alert level",
	"rate of decrease alert level response",
	"set rate of increase alert level",
	"get rate of increase alert level",
	"rate of increase alert level response",
	"reset device specific alert",
	"start session",
	"stop session",
	"response code",
}

// ResponseCode is the outcome of a procedure.
type ResponseCode uint8

const (
	Success              ResponseCode = 0x01
	OpcodeNotSupported   ResponseCode = 0x02
	InvalidOperand       ResponseCode = 0x03
	ProcedureNotComplete ResponseCode = 0x04
	ParameterOutOfRange  ResponseCode = 0x05
)

func (c ResponseCode) String() string {
	switch c {
	case Success:
		return "success"
	case OpcodeNotSupported:
		return "op code not supported"
	case InvalidOperand:
		return "invalid operand"
	case ProcedureNotComplete:
		return "procedure not completed"
	case ParameterOutOfRange:
		return "parameter out of range"
	}
	return fmt.Sprintf("response(0x%02x)", uint8(c))
}
