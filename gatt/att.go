package gatt

import "fmt"

const (
	attEcodeSuccess           = 0x00
	attEcodeInvalidHandle     = 0x01
	attEcodeReadNotPerm       = 0x02
	attEcodeWriteNotPerm      = 0x03
	attEcodeInvalidPDU        = 0x04
	attEcodeReqNotSupp        = 0x06
	attEcodeInvalidOffset     = 0x07
	attEcodeAttrNotFound      = 0x0a
	attEcodeAttrNotLong       = 0x0b
	attEcodeInvalAttrValueLen = 0x0d
	attEcodeUnlikely          = 0x0e
	attEcodeInsuffResources   = 0x11
)

// Application error codes used by control point profiles.
const (
	attEcodeMissingCRC          = 0x80
	attEcodeInvalidCRC          = 0x81
	attEcodeCCCImproperlyConfig = 0xfd
	attEcodeProcAlreadyRunning  = 0xfe
	attEcodeOutOfRange          = 0xff
)

var attEcodeNames = map[byte]string{
	attEcodeSuccess:             "success",
	attEcodeInvalidHandle:       "invalid handle",
	attEcodeReadNotPerm:         "read not permitted",
	attEcodeWriteNotPerm:        "write not permitted",
	attEcodeInvalidPDU:          "invalid pdu",
	attEcodeReqNotSupp:          "request not supported",
	attEcodeInvalidOffset:       "invalid offset",
	attEcodeAttrNotFound:        "attribute not found",
	attEcodeAttrNotLong:         "attribute not long",
	attEcodeInvalAttrValueLen:   "invalid attribute value length",
	attEcodeUnlikely:            "unlikely error",
	attEcodeInsuffResources:     "insufficient resources",
	attEcodeMissingCRC:          "missing crc",
	attEcodeInvalidCRC:          "invalid crc",
	attEcodeCCCImproperlyConfig: "client characteristic configuration descriptor improperly configured",
	attEcodeProcAlreadyRunning:  "procedure already in progress",
	attEcodeOutOfRange:          "out of range",
}

// An ATTError is a non-success status returned for a request.
type ATTError byte

func (e ATTError) Error() string {
	if s, ok := attEcodeNames[byte(e)]; ok {
		return "gatt: " + s
	}
	return fmt.Sprintf("gatt: att error 0x%02x", byte(e))
}

// statusErr converts a status to an error, nil for success.
func statusErr(status byte) error {
	if status == attEcodeSuccess {
		return nil
	}
	return ATTError(status)
}
