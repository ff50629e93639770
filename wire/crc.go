package wire

import (
	"encoding/binary"
	"errors"
)

var (
	// ErrMissingCRC is returned when a CRC-protected value is too short
	// to carry its CRC.
	ErrMissingCRC = errors.New("wire: missing E2E-CRC")
	// ErrInvalidCRC is returned when the CRC does not match.
	ErrInvalidCRC = errors.New("wire: invalid E2E-CRC")
)

// CRC computes the CGM E2E-CRC of b: CRC-CCITT with seed 0xFFFF,
// processed least significant bit first.
func CRC(b []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, c := range b {
		crc ^= uint16(c)
		for i := 0; i < 8; i++ {
			if crc&1 != 0 {
				crc = crc>>1 ^ 0x8408
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}

// AppendCRC appends the CRC of b to b.
func AppendCRC(b []byte) []byte {
	return binary.LittleEndian.AppendUint16(b, CRC(b))
}

// CheckCRC verifies the trailing CRC of b and returns b without it.
// minLen is the length of the smallest valid value without CRC.
func CheckCRC(b []byte, minLen int) ([]byte, error) {
	if len(b) < minLen+2 {
		return nil, ErrMissingCRC
	}
	n := len(b) - 2
	if CRC(b[:n]) != binary.LittleEndian.Uint16(b[n:]) {
		return nil, ErrInvalidCRC
	}
	return b[:n], nil
}
