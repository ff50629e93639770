// Package wire encodes and decodes CGM characteristic values.
package wire

import (
	"errors"
	"math"
)

// SFloat is an IEEE-11073 16-bit float: a 4-bit signed exponent in the
// high nibble and a 12-bit signed mantissa.
type SFloat uint16

// Reserved SFLOAT values.
const (
	SFloatNaN         SFloat = 0x07FF
	SFloatNRes        SFloat = 0x0800
	SFloatPosInfinity SFloat = 0x07FE
	SFloatNegInfinity SFloat = 0x0802
	SFloatReserved    SFloat = 0x0801
)

// ErrSFloatRange is returned when a value does not fit an SFLOAT mantissa.
var ErrSFloatRange = errors.New("wire: value out of SFLOAT range")

const (
	sfloatMaxMantissa = 0x07FD
	sfloatMinMantissa = -0x07FD
)

// NewSFloat encodes an integer with exponent zero.
func NewSFloat(v int) (SFloat, error) {
	if v > sfloatMaxMantissa || v < sfloatMinMantissa {
		return SFloatNaN, ErrSFloatRange
	}
	return SFloat(uint16(v) & 0x0FFF), nil
}

// Special reports whether f is one of the reserved values.
func (f SFloat) Special() bool {
	switch f {
	case SFloatNaN, SFloatNRes, SFloatPosInfinity, SFloatNegInfinity, SFloatReserved:
		return true
	}
	return false
}

// Float returns the value of f. Reserved values decode to NaN or ±Inf.
func (f SFloat) Float() float64 {
	switch f {
	case SFloatPosInfinity:
		return math.Inf(1)
	case SFloatNegInfinity:
		return math.Inf(-1)
	}
	if f.Special() {
		return math.NaN()
	}
	m := int16(f<<4) >> 4
	e := int8(uint8(f>>8)) >> 4
	return float64(m) * math.Pow10(int(e))
}

// Int returns f rounded to the nearest integer. ok is false for
// reserved values.
func (f SFloat) Int() (v int, ok bool) {
	if f.Special() {
		return 0, false
	}
	return int(math.Round(f.Float())), true
}
