// Package racp implements the CGM Record Access Control Point procedures
// over a sensor's measurement list.
package racp

import (
	"context"
	"encoding/binary"
	"errors"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/XC-/cgms/notify"
	"github.com/XC-/cgms/record"
)

var (
	// ErrNotConfigured is returned when the collector has not enabled
	// indications on the control point.
	ErrNotConfigured = errors.New("racp: indications not enabled")
	// ErrInProgress is returned when a procedure is already outstanding.
	ErrInProgress = errors.New("racp: procedure already in progress")
)

// A Command is a decoded control point write. Operand holds the raw
// bytes following the operator.
type Command struct {
	Op       Opcode
	Operator record.Operator
	Operand  []byte
}

// NewCommand builds the command for op selecting records with f.
func NewCommand(op Opcode, f record.Filter) Command {
	c := Command{Op: op, Operator: f.Op}
	switch f.Op {
	case record.OpLessOrEqual:
		c.Operand = binary.LittleEndian.AppendUint16([]byte{byte(FilterTimeOffset)}, f.Max)
	case record.OpGreaterOrEqual:
		c.Operand = binary.LittleEndian.AppendUint16([]byte{byte(FilterTimeOffset)}, f.Min)
	case record.OpWithinRange:
		b := binary.LittleEndian.AppendUint16([]byte{byte(FilterTimeOffset)}, f.Min)
		c.Operand = binary.LittleEndian.AppendUint16(b, f.Max)
	}
	return c
}

// A Result is the terminal indication of a procedure. Op is either
// OpResponseCode, carrying Request and Code, or OpNumberOfStoredRecords,
// carrying Count.
type Result struct {
	Op      Opcode
	Request Opcode
	Code    ResponseCode
	Count   uint16
}

func respond(req Opcode, code ResponseCode) Result {
	return Result{Op: OpResponseCode, Request: req, Code: code}
}

// An Engine runs record access procedures against one sensor list.
// It is not safe for concurrent use except for Abort.
type Engine struct {
	store     *record.List
	batcher   *notify.Batcher
	abort     notify.Abort
	busy      bool
	indicates bool
	log       logrus.FieldLogger
}

// New returns an engine over store that delivers through b.
func New(store *record.List, b *notify.Batcher, log logrus.FieldLogger) *Engine {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Engine{store: store, batcher: b, log: log.WithField("cp", "racp")}
}

// SetIndications records whether the collector enabled indications
// on the control point. Procedures fail with ErrNotConfigured while off.
func (e *Engine) SetIndications(on bool) { e.indicates = on }

// Busy reports whether a report is being delivered.
func (e *Engine) Busy() bool { return e.busy }

// Abort raises the shared abort flag. It is safe to call at any time
// and from any goroutine.
func (e *Engine) Abort() { e.abort.Raise() }

// Reset drops any outstanding procedure, e.g. on disconnect.
func (e *Engine) Reset() {
	e.abort.Raise()
	e.busy = false
}

// filter validates the operator and operand of cmd.
func filter(cmd Command) (record.Filter, ResponseCode) {
	f := record.Filter{Op: cmd.Operator}
	switch cmd.Operator {
	case record.OpNull:
		return f, InvalidOperator
	case record.OpAll, record.OpFirst, record.OpLast:
		if len(cmd.Operand) != 0 {
			return f, InvalidOperand
		}
		return f, Success
	case record.OpLessOrEqual, record.OpGreaterOrEqual, record.OpWithinRange:
	default:
		return f, OperatorNotSupported
	}

	if len(cmd.Operand) == 0 {
		return f, InvalidOperand
	}
	if FilterType(cmd.Operand[0]) != FilterTimeOffset {
		return f, OperandNotSupported
	}
	v := cmd.Operand[1:]
	switch cmd.Operator {
	case record.OpLessOrEqual:
		if len(v) != 2 {
			return f, InvalidOperand
		}
		f.Max = binary.LittleEndian.Uint16(v)
	case record.OpGreaterOrEqual:
		if len(v) != 2 {
			return f, InvalidOperand
		}
		f.Min = binary.LittleEndian.Uint16(v)
	case record.OpWithinRange:
		if len(v) != 4 {
			return f, InvalidOperand
		}
		f.Min = binary.LittleEndian.Uint16(v)
		f.Max = binary.LittleEndian.Uint16(v[2:])
		if f.Min > f.Max {
			return f, InvalidOperand
		}
	}
	return f, Success
}

// A Delivery is a report staged for sending. Records is a detached
// snapshot, so it may be delivered from another goroutine while the
// engine keeps serving Abort.
type Delivery struct {
	Records []*record.Measurement
	Filter  record.Filter
	e       *Engine
}

// Run sends the staged records through s.
func (d *Delivery) Run(ctx context.Context, s notify.Sender) (int, error) {
	return d.e.batcher.Deliver(ctx, d.Records, s, &d.e.abort)
}

// Begin starts cmd. Every procedure except Report Stored Records
// completes immediately and returns its Result. A report with matching
// records returns a Delivery instead; the caller must Run it and pass
// the outcome to Finish.
func (e *Engine) Begin(cmd Command) (Result, *Delivery, error) {
	if !e.indicates {
		return Result{}, nil, ErrNotConfigured
	}
	if cmd.Op == OpAbort {
		return e.abortProc(cmd), nil, nil
	}
	if e.busy {
		return Result{}, nil, ErrInProgress
	}

	log := e.log.WithFields(logrus.Fields{"op": cmd.Op.String(), "operator": cmd.Operator.String()})
	switch cmd.Op {
	case OpReportStoredRecords, OpDeleteStoredRecords, OpReportNumberOfStoredRecords:
	default:
		log.Debug("unsupported op code")
		return respond(cmd.Op, OpcodeNotSupported), nil, nil
	}
	f, code := filter(cmd)
	if code != Success {
		log.WithField("code", code.String()).Debug("rejected operand")
		return respond(cmd.Op, code), nil, nil
	}

	switch cmd.Op {
	case OpReportNumberOfStoredRecords:
		n := e.store.Count(f)
		log.WithField("count", n).Debug("reporting number of records")
		return Result{Op: OpNumberOfStoredRecords, Request: cmd.Op, Code: Success, Count: uint16(n)}, nil, nil
	case OpDeleteStoredRecords:
		return e.delete(f), nil, nil
	}

	tmp := record.NewList(record.RoleTemporary, e.log)
	c := e.store.Find(f)
	for _, m, ok := c.Next(); ok; _, m, ok = c.Next() {
		cp := *m
		tmp.Append(&cp)
	}
	if tmp.Len() == 0 {
		return respond(cmd.Op, NoRecordsFound), nil, nil
	}
	e.abort.Clear()
	e.busy = true
	log.WithField("records", tmp.Len()).Debug("report staged")
	return Result{}, &Delivery{Records: tmp.Records(), Filter: f, e: e}, nil
}

// Finish ends the report staged by d given the outcome of d.Run.
func (e *Engine) Finish(d *Delivery, sent int, err error) Result {
	e.busy = false
	log := e.log.WithFields(logrus.Fields{"filter": d.Filter.String(), "sent": sent, "total": len(d.Records)})
	if err != nil {
		log.WithError(err).Info("report not completed")
		return respond(OpReportStoredRecords, ProcedureNotComplete)
	}
	log.Debug("report completed")
	return respond(OpReportStoredRecords, Success)
}

// Execute runs cmd to completion on the calling goroutine.
func (e *Engine) Execute(ctx context.Context, cmd Command, s notify.Sender) (Result, error) {
	res, d, err := e.Begin(cmd)
	if err != nil || d == nil {
		return res, err
	}
	n, err := d.Run(ctx, s)
	return e.Finish(d, n, err), nil
}

func (e *Engine) abortProc(cmd Command) Result {
	if cmd.Operator != record.OpNull {
		return respond(cmd.Op, InvalidOperator)
	}
	if len(cmd.Operand) != 0 {
		return respond(cmd.Op, InvalidOperand)
	}
	if e.busy {
		e.log.Info("aborting report")
		e.abort.Raise()
	}
	return respond(cmd.Op, Success)
}

func (e *Engine) delete(f record.Filter) Result {
	if f.Op == record.OpAll {
		if e.store.Len() == 0 {
			return respond(OpDeleteStoredRecords, NoRecordsFound)
		}
		// A count mismatch is logged by Clear; the list is empty regardless.
		_ = e.store.Clear()
		return respond(OpDeleteStoredRecords, Success)
	}

	tmp := record.NewList(record.RoleTemporary, e.log)
	c := e.store.Find(f)
	for id, _, ok := c.Next(); ok; id, _, ok = c.Next() {
		tmp.Append(e.store.Remove(id))
	}
	if tmp.Len() == 0 {
		return respond(OpDeleteStoredRecords, NoRecordsFound)
	}
	e.log.WithFields(logrus.Fields{"filter": f.String(), "deleted": tmp.Len()}).Debug("deleted records")
	_ = tmp.Clear()
	return respond(OpDeleteStoredRecords, Success)
}
