package record

import "fmt"

// An Operator selects records for a record access procedure.
// The values match the RACP operator field.
type Operator uint8

const (
	OpNull           Operator = 0x00
	OpAll            Operator = 0x01
	OpLessOrEqual    Operator = 0x02
	OpGreaterOrEqual Operator = 0x03
	OpWithinRange    Operator = 0x04
	OpFirst          Operator = 0x05
	OpLast           Operator = 0x06
)

func (o Operator) String() string {
	switch o {
	case OpNull:
		return "null"
	case OpAll:
		return "all"
	case OpLessOrEqual:
		return "<="
	case OpGreaterOrEqual:
		return ">="
	case OpWithinRange:
		return "range"
	case OpFirst:
		return "first"
	case OpLast:
		return "last"
	}
	return fmt.Sprintf("operator(0x%02x)", uint8(o))
}

// Known reports whether o is one of the defined operators.
func (o Operator) Known() bool { return o <= OpLast }

// A Filter is an operator plus its time offset operands.
// OpLessOrEqual uses Max, OpGreaterOrEqual uses Min and
// OpWithinRange uses both, inclusive.
type Filter struct {
	Op       Operator
	Min, Max uint16
}

// All matches every record.
var All = Filter{Op: OpAll}

// Match reports whether m satisfies f. OpFirst and OpLast depend on
// list position, so Match reports true for any record under them.
func (f Filter) Match(m *Measurement) bool {
	switch f.Op {
	case OpAll, OpFirst, OpLast:
		return true
	case OpLessOrEqual:
		return m.TimeOffset <= f.Max
	case OpGreaterOrEqual:
		return m.TimeOffset >= f.Min
	case OpWithinRange:
		return f.Min <= m.TimeOffset && m.TimeOffset <= f.Max
	}
	return false
}

func (f Filter) String() string {
	switch f.Op {
	case OpLessOrEqual:
		return fmt.Sprintf("<=%d", f.Max)
	case OpGreaterOrEqual:
		return fmt.Sprintf(">=%d", f.Min)
	case OpWithinRange:
		return fmt.Sprintf("[%d,%d]", f.Min, f.Max)
	}
	return f.Op.String()
}
