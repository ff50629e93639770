package socp

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/XC-/cgms/record"
	"github.com/XC-/cgms/session"
	"github.com/XC-/cgms/wire"
)

// --- Test doubles ---

type fakeSessions struct {
	st     *session.State
	starts int
	stops  int
}

func (f *fakeSessions) Start() error {
	if f.st.Running() {
		return session.ErrRunning
	}
	f.starts++
	f.st.Status &^= session.StatusSessionStopped
	return nil
}

func (f *fakeSessions) Stop() error {
	if !f.st.Running() {
		return session.ErrStopped
	}
	f.stops++
	f.st.Status |= session.StatusSessionStopped
	return nil
}

const allFeatures = session.FeatureCalibration | session.FeaturePatientHighLowAlerts |
	session.FeatureHypoAlerts | session.FeatureHyperAlerts | session.FeatureRateAlerts |
	session.FeatureDeviceSpecificAlert | session.FeatureMultipleSessions

func newEngine(f session.Features) (*Engine, *session.State, *record.CalibrationList, *fakeSessions) {
	st := session.NewState(f)
	cal := &record.CalibrationList{}
	fs := &fakeSessions{st: st}
	e := New(st, cal, fs, nil)
	e.SetIndications(true)
	return e, st, cal, fs
}

func handle(t *testing.T, e *Engine, cmd Command) Response {
	t.Helper()
	res, err := e.Handle(cmd)
	require.NoError(t, err)
	return res
}

// --- Tests ---

func TestAlertLevelRoundTrip(t *testing.T) {
	e, st, _, _ := newEngine(allFeatures)
	for a := session.AlertPatientHigh; a <= session.AlertRateIncrease; a++ {
		for level := uint16(session.MinAlertLevel); level <= session.MaxAlertLevel; level++ {
			res := handle(t, e, SetAlertLevel(a, level))
			require.Equal(t, respond(alertOps[a].set, Success), res, "%v=%d", a, level)

			res = handle(t, e, GetAlertLevel(a))
			require.Equal(t, alertOps[a].resp, res.Op)
			require.Equal(t, level, res.Level)
		}
		assert.Equal(t, uint16(session.MaxAlertLevel), st.Level(a))
	}
}

func TestAlertLevelOutOfRange(t *testing.T) {
	e, st, _, _ := newEngine(allFeatures)
	before := st.Level(session.AlertHypo)
	for _, v := range []uint16{0, 9, 201, 1000} {
		res := handle(t, e, SetAlertLevel(session.AlertHypo, v))
		assert.Equal(t, ParameterOutOfRange, res.Code, "level %d", v)
		assert.Equal(t, before, st.Level(session.AlertHypo))
	}

	res := handle(t, e, Command{Op: OpSetHypo, Operand: []byte{0x64}})
	assert.Equal(t, InvalidOperand, res.Code)
	res = handle(t, e, Command{Op: OpSetHypo, Operand: []byte{0xFF, 0x07}})
	assert.Equal(t, InvalidOperand, res.Code, "NaN level")
}

func TestFeatureCheckedBeforeRange(t *testing.T) {
	e, st, _, _ := newEngine(session.FeatureHypoAlerts)
	before := st.Level(session.AlertHyper)
	res := handle(t, e, SetAlertLevel(session.AlertHyper, 500))
	assert.Equal(t, respond(OpSetHyper, OpcodeNotSupported), res)
	assert.Equal(t, before, st.Level(session.AlertHyper))

	res = handle(t, e, Command{Op: OpGetPatientLow})
	assert.Equal(t, OpcodeNotSupported, res.Code)
}

func TestCommunicationInterval(t *testing.T) {
	e, st, _, _ := newEngine(0)
	cases := []struct {
		set, want uint8
	}{
		{5, 5},
		{0, 0},
		{0xFF, session.SmallestCommunicationInterval},
	}
	for _, tt := range cases {
		res := handle(t, e, SetCommunicationInterval(tt.set))
		assert.Equal(t, Success, res.Code)
		assert.Equal(t, tt.want, st.CommunicationInterval)

		res = handle(t, e, Command{Op: OpGetCommunicationInterval})
		assert.Equal(t, OpCommunicationIntervalResponse, res.Op)
		assert.Equal(t, tt.want, res.Interval)
	}
	res := handle(t, e, Command{Op: OpSetCommunicationInterval})
	assert.Equal(t, InvalidOperand, res.Code)
}

func TestCalibrationNumberingAndCap(t *testing.T) {
	e, st, cal, _ := newEngine(allFeatures)
	st.TimeOffset = 30
	st.Status |= session.StatusCalibrationRequired

	var prev uint16
	for i := 0; i < record.CalibrationCapacity; i++ {
		res := handle(t, e, SetCalibration(record.Calibration{Glucose: uint16(90 + i), Time: 30}))
		require.Equal(t, Success, res.Code)

		got := handle(t, e, GetCalibration(record.LastCalibration))
		require.Equal(t, OpGlucoseCalibrationResponse, got.Op)
		if i > 0 {
			assert.Equal(t, prev+1, got.Calibration.Number)
		}
		prev = got.Calibration.Number
		assert.Equal(t, uint16(40), got.Calibration.NextTime)
		assert.Equal(t, uint16(90+i), got.Calibration.Glucose)
	}
	assert.Zero(t, st.Status&session.StatusCalibrationRequired)

	res := handle(t, e, SetCalibration(record.Calibration{Glucose: 100}))
	assert.Equal(t, ProcedureNotComplete, res.Code)
	assert.Equal(t, record.CalibrationCapacity, cal.Len())
}

func TestCalibrationNextTimeSaturates(t *testing.T) {
	for _, off := range []uint16{0xFFF4, 0xFFF5, 0xFFFA, 0xFFFF} {
		e, st, _, _ := newEngine(session.FeatureCalibration)
		st.TimeOffset = off
		res := handle(t, e, SetCalibration(record.Calibration{Glucose: 95}))
		require.Equal(t, Success, res.Code)
		got := handle(t, e, GetCalibration(record.LastCalibration))
		want := uint16(0xFFFF)
		if off == 0xFFF4 {
			want = 0xFFFE
		}
		assert.Equal(t, want, got.Calibration.NextTime, "offset %#x", off)
	}
}

func TestGetCalibration(t *testing.T) {
	e, _, _, _ := newEngine(session.FeatureCalibration)
	res := handle(t, e, GetCalibration(record.LastCalibration))
	assert.Equal(t, ParameterOutOfRange, res.Code, "empty list")

	handle(t, e, SetCalibration(record.Calibration{Glucose: 95, TypeLocation: 0x51}))
	first := handle(t, e, GetCalibration(record.LastCalibration)).Calibration

	res = handle(t, e, GetCalibration(first.Number))
	assert.Equal(t, first, res.Calibration)
	assert.Equal(t, uint8(0x51), res.Calibration.TypeLocation)

	res = handle(t, e, GetCalibration(record.NoCalibration))
	assert.Equal(t, InvalidOperand, res.Code)
	res = handle(t, e, GetCalibration(first.Number+7))
	assert.Equal(t, ParameterOutOfRange, res.Code)
	res = handle(t, e, Command{Op: OpGetGlucoseCalibration, Operand: []byte{1}})
	assert.Equal(t, InvalidOperand, res.Code)
}

func TestCalibrationNotAllowed(t *testing.T) {
	e, st, cal, _ := newEngine(session.FeatureCalibration)
	st.Status |= session.StatusCalibrationNotAllowed
	res := handle(t, e, SetCalibration(record.Calibration{Glucose: 95}))
	assert.Equal(t, ProcedureNotComplete, res.Code)
	assert.Zero(t, cal.Len())
}

func TestSessionCommands(t *testing.T) {
	e, st, _, fs := newEngine(session.FeatureMultipleSessions)

	assert.Equal(t, ProcedureNotComplete, handle(t, e, Command{Op: OpStopSession}).Code)
	assert.Equal(t, Success, handle(t, e, Command{Op: OpStartSession}).Code)
	assert.True(t, st.Running())
	assert.Equal(t, ProcedureNotComplete, handle(t, e, Command{Op: OpStartSession}).Code)
	assert.Equal(t, Success, handle(t, e, Command{Op: OpStopSession}).Code)
	assert.Equal(t, 1, fs.starts)
	assert.Equal(t, 1, fs.stops)

	e, _, _, fs = newEngine(0)
	assert.Equal(t, OpcodeNotSupported, handle(t, e, Command{Op: OpStartSession}).Code)
	assert.Zero(t, fs.starts)
}

func TestResetDeviceSpecificAlert(t *testing.T) {
	e, st, _, _ := newEngine(session.FeatureDeviceSpecificAlert)
	st.Status |= session.StatusDeviceSpecificAlert
	assert.Equal(t, Success, handle(t, e, Command{Op: OpResetDeviceSpecificAlert}).Code)
	assert.Zero(t, st.Status&session.StatusDeviceSpecificAlert)
}

func TestUnsupportedOpcodes(t *testing.T) {
	e, _, _, _ := newEngine(allFeatures)
	for _, op := range []Opcode{0x00, OpResponse, OpCommunicationIntervalResponse, OpHypoResponse, 0x1D, 0xFF} {
		res := handle(t, e, Command{Op: op})
		assert.Equal(t, respond(op, OpcodeNotSupported), res, "op %v", op)
	}
}

func TestNotConfigured(t *testing.T) {
	e, st, _, _ := newEngine(allFeatures)
	e.SetIndications(false)
	_, err := e.Handle(SetCommunicationInterval(3))
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.Zero(t, st.CommunicationInterval)
}

func TestCommandPDU(t *testing.T) {
	cmd := SetAlertLevel(session.AlertHyper, 180)
	for _, crc := range []bool{false, true} {
		got, err := ParseCommand(cmd.Bytes(crc), crc)
		require.NoError(t, err)
		assert.Equal(t, cmd, got)
	}

	_, err := ParseCommand(cmd.Bytes(false), true)
	assert.True(t, errors.Is(err, wire.ErrInvalidCRC) || errors.Is(err, wire.ErrMissingCRC))
	_, err = ParseCommand([]byte{0x1A}, true)
	assert.ErrorIs(t, err, wire.ErrMissingCRC)
	_, err = ParseCommand(nil, false)
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestResponsePDU(t *testing.T) {
	cases := []Response{
		respond(OpSetHypo, ParameterOutOfRange),
		{Op: OpCommunicationIntervalResponse, Request: OpGetCommunicationInterval, Code: Success, Interval: 5},
		{Op: OpHyperResponse, Request: OpGetHyper, Code: Success, Level: 190},
		{Op: OpGlucoseCalibrationResponse, Request: OpGetGlucoseCalibration, Code: Success,
			Calibration: record.Calibration{Number: 3, Glucose: 101, Time: 12, NextTime: 22, TypeLocation: 0x59, Status: record.CalProcessPending}},
	}
	for _, want := range cases {
		for _, crc := range []bool{false, true} {
			got, err := ParseResponse(want.Bytes(crc), crc)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		}
	}
	_, err := ParseResponse([]byte{byte(OpResponse), 0x01}, false)
	assert.ErrorIs(t, err, wire.ErrShort)
}
