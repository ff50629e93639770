// Package socp implements the CGM Specific Ops Control Point procedures:
// communication interval, calibration, alert levels and session control.
package socp

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/XC-/cgms/record"
	"github.com/XC-/cgms/session"
	"github.com/XC-/cgms/wire"
)

// ErrNotConfigured is returned when the collector has not enabled
// indications on the control point.
var ErrNotConfigured = errors.New("socp: indications not enabled")

// nextCalibrationDelay is added to the current time offset to schedule
// the next calibration, in minutes.
const nextCalibrationDelay = 10

// maxTimeOffset is the last minute a time offset can express.
const maxTimeOffset = 0xFFFF

// Sessions starts and stops measurement sessions.
type Sessions interface {
	Start() error
	Stop() error
}

var alertOps = [...]struct {
	set, get, resp Opcode
}{
	session.AlertPatientHigh:  {OpSetPatientHigh, OpGetPatientHigh, OpPatientHighResponse},
	session.AlertPatientLow:   {OpSetPatientLow, OpGetPatientLow, OpPatientLowResponse},
	session.AlertHypo:         {OpSetHypo, OpGetHypo, OpHypoResponse},
	session.AlertHyper:        {OpSetHyper, OpGetHyper, OpHyperResponse},
	session.AlertRateDecrease: {OpSetRateDecrease, OpGetRateDecrease, OpRateDecreaseResponse},
	session.AlertRateIncrease: {OpSetRateIncrease, OpGetRateIncrease, OpRateIncreaseResponse},
}

// alertFor returns the alert an op code sets or gets.
func alertFor(op Opcode) (a session.Alert, set bool, ok bool) {
	for i, ops := range alertOps {
		switch op {
		case ops.set:
			return session.Alert(i), true, true
		case ops.get:
			return session.Alert(i), false, true
		}
	}
	return 0, false, false
}

func alertByResponse(op Opcode) (session.Alert, bool) {
	for i, ops := range alertOps {
		if ops.resp == op {
			return session.Alert(i), true
		}
	}
	return 0, false
}

// An Engine runs ops control point procedures against a sensor's
// session state and calibration list.
type Engine struct {
	state     *session.State
	cal       *record.CalibrationList
	sessions  Sessions
	indicates bool
	log       logrus.FieldLogger
}

// New returns an engine. sessions handles start and stop commands.
func New(st *session.State, cal *record.CalibrationList, sessions Sessions, log logrus.FieldLogger) *Engine {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Engine{state: st, cal: cal, sessions: sessions, log: log.WithField("cp", "socp")}
}

// SetIndications records whether the collector enabled indications
// on the control point.
func (e *Engine) SetIndications(on bool) { e.indicates = on }

// respond builds the generic response for op.
func respond(op Opcode, code ResponseCode) Response {
	return Response{Op: OpResponse, Request: op, Code: code}
}

// Handle runs cmd and returns the single response to indicate.
func (e *Engine) Handle(cmd Command) (Response, error) {
	if !e.indicates {
		return Response{}, ErrNotConfigured
	}
	res := e.handle(cmd)
	log := e.log.WithField("op", cmd.Op.String())
	if res.Op == OpResponse && res.Code != Success {
		log.WithField("code", res.Code.String()).Debug("procedure rejected")
	} else {
		log.Debug("procedure completed")
	}
	return res, nil
}

func (e *Engine) handle(cmd Command) Response {
	st := e.state
	op := cmd.Op
	need := func(f session.Features) bool { return st.Features.Has(f) }

	if a, set, ok := alertFor(op); ok {
		if !need(a.Feature()) {
			return respond(op, OpcodeNotSupported)
		}
		if !set {
			if len(cmd.Operand) != 0 {
				return respond(op, InvalidOperand)
			}
			return Response{Op: alertOps[a].resp, Request: op, Code: Success, Level: st.Level(a)}
		}
		if len(cmd.Operand) != 2 {
			return respond(op, InvalidOperand)
		}
		v, ok := wire.SFloat(binary.LittleEndian.Uint16(cmd.Operand)).Int()
		if !ok {
			return respond(op, InvalidOperand)
		}
		if v < session.MinAlertLevel || v > session.MaxAlertLevel {
			return respond(op, ParameterOutOfRange)
		}
		st.SetLevel(a, uint16(v))
		e.log.WithFields(logrus.Fields{"alert": a.String(), "level": v}).Info("alert level set")
		return respond(op, Success)
	}

	switch op {
	case OpSetCommunicationInterval:
		if len(cmd.Operand) != 1 {
			return respond(op, InvalidOperand)
		}
		v := cmd.Operand[0]
		if v == 0xFF {
			v = session.SmallestCommunicationInterval
		}
		st.CommunicationInterval = v
		return respond(op, Success)

	case OpGetCommunicationInterval:
		if len(cmd.Operand) != 0 {
			return respond(op, InvalidOperand)
		}
		return Response{Op: OpCommunicationIntervalResponse, Request: op, Code: Success, Interval: st.CommunicationInterval}

	case OpSetGlucoseCalibration:
		if !need(session.FeatureCalibration) {
			return respond(op, OpcodeNotSupported)
		}
		c, ok := parseCalibration(cmd.Operand)
		if !ok {
			return respond(op, InvalidOperand)
		}
		if st.Status&session.StatusCalibrationNotAllowed != 0 {
			return respond(op, ProcedureNotComplete)
		}
		c.Status = 0
		c.NextTime = maxTimeOffset
		if st.TimeOffset < maxTimeOffset-nextCalibrationDelay {
			c.NextTime = st.TimeOffset + nextCalibrationDelay
		}
		stored, err := e.cal.Append(c)
		if err != nil {
			e.log.WithError(err).Warn("calibration not stored")
			return respond(op, ProcedureNotComplete)
		}
		st.Status &^= session.StatusCalibrationRequired | session.StatusCalibrationRecommended
		e.log.WithFields(logrus.Fields{"number": stored.Number, "glucose": stored.Glucose}).Info("calibration stored")
		return respond(op, Success)

	case OpGetGlucoseCalibration:
		if !need(session.FeatureCalibration) {
			return respond(op, OpcodeNotSupported)
		}
		if len(cmd.Operand) != 2 {
			return respond(op, InvalidOperand)
		}
		n := binary.LittleEndian.Uint16(cmd.Operand)
		if n == record.NoCalibration {
			return respond(op, InvalidOperand)
		}
		c, ok := e.cal.Find(n)
		if !ok {
			return respond(op, ParameterOutOfRange)
		}
		return Response{Op: OpGlucoseCalibrationResponse, Request: op, Code: Success, Calibration: c}

	case OpResetDeviceSpecificAlert:
		if !need(session.FeatureDeviceSpecificAlert) {
			return respond(op, OpcodeNotSupported)
		}
		if len(cmd.Operand) != 0 {
			return respond(op, InvalidOperand)
		}
		st.Status &^= session.StatusDeviceSpecificAlert
		return respond(op, Success)

	case OpStartSession, OpStopSession:
		if !need(session.FeatureMultipleSessions) {
			return respond(op, OpcodeNotSupported)
		}
		if len(cmd.Operand) != 0 {
			return respond(op, InvalidOperand)
		}
		run := e.sessions.Stop
		if op == OpStartSession {
			run = e.sessions.Start
		}
		if err := run(); err != nil {
			e.log.WithError(err).Info("session command refused")
			return respond(op, ProcedureNotComplete)
		}
		return respond(op, Success)
	}
	return respond(op, OpcodeNotSupported)
}
