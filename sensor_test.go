package cgms

import (
	"context"
	"errors"
	"net"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/XC-/cgms/gatt"
	"github.com/XC-/cgms/notify"
	"github.com/XC-/cgms/racp"
	"github.com/XC-/cgms/record"
	"github.com/XC-/cgms/session"
	"github.com/XC-/cgms/socp"
	"github.com/XC-/cgms/wire"
)

const testFeatures = session.FeatureCalibration |
	session.FeaturePatientHighLowAlerts |
	session.FeatureDeviceSpecificAlert |
	session.FeatureMultipleSessions

var collectorAddr = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}

type fixture struct {
	s   *Sensor
	lb  *gatt.Loopback
	col *Collector
	ctx context.Context
}

func newFixture(t *testing.T, o Options) *fixture {
	t.Helper()
	if o.Features == 0 {
		o.Features = testFeatures
	}
	if o.Seed == 0 {
		o.Seed = 7
	}
	f := &fixture{s: NewSensor(o), lb: gatt.NewLoopback()}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	f.ctx = ctx
	errc := make(chan error, 1)
	go func() { errc <- f.s.Serve(ctx, f.lb) }()
	<-f.s.Server().Ready()
	t.Cleanup(func() {
		cancel()
		<-errc
	})
	return f
}

func (f *fixture) attach(t *testing.T, mtu int) *Collector {
	t.Helper()
	f.col = NewCollector(nil)
	require.NoError(t, f.col.Attach(f.ctx, f.lb, collectorAddr, mtu))
	return f.col
}

// run starts a session and advances it by minutes ticks.
func (f *fixture) run(t *testing.T, minutes int) {
	t.Helper()
	res, err := f.col.SOCP(f.ctx, socp.Command{Op: socp.OpStartSession})
	require.NoError(t, err)
	require.Equal(t, socp.Success, res.Code)
	for i := 0; i < minutes; i++ {
		require.NoError(t, f.s.Tick(f.ctx))
	}
}

func offsets(ms []record.Measurement) []uint16 {
	out := make([]uint16, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.TimeOffset)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func TestSensorCharacteristics(t *testing.T) {
	f := newFixture(t, Options{RunTime: 2})
	col := f.attach(t, 64)

	run, err := col.RunTime(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, uint16(2), run)

	offset, status, err := col.Status(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, offset)
	assert.Equal(t, session.StatusSessionStopped, status)

	f.run(t, 3)
	offset, status, err = col.Status(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, uint16(3), offset)
	assert.Zero(t, status&session.StatusSessionStopped)

	res, err := col.SOCP(f.ctx, socp.Command{Op: socp.OpStopSession})
	require.NoError(t, err)
	assert.Equal(t, socp.Success, res.Code)
	_, status, err = col.Status(f.ctx)
	require.NoError(t, err)
	assert.NotZero(t, status&session.StatusTimeSyncRequired)

	want := session.StartTime{Time: time.Date(2024, 3, 9, 7, 30, 0, 0, time.UTC), TimeZone: 4, DST: 0}
	require.NoError(t, col.SetStartTime(f.ctx, want))
	got, err := col.StartTime(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	_, status, err = col.Status(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, status&session.StatusTimeSyncRequired, "writing the start time resyncs")

	err = col.central.Write(f.ctx, col.chars.start.ValueHandle(), []byte{0xE8, 0x07})
	assert.True(t, errors.Is(err, gatt.ATTError(gatt.StatusInvalidLength)), "short start time: %v", err)

	bad := wire.EncodeStartTime(want, false)
	bad[7] = 60 // time zone past +14h
	err = col.central.Write(f.ctx, col.chars.start.ValueHandle(), bad)
	assert.True(t, errors.Is(err, gatt.ATTError(gatt.StatusOutOfRange)), "time zone out of range: %v", err)
	got, err = col.StartTime(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got, "rejected write leaves the start time")

	// the user description follows the measurement's configuration descriptor
	desc, err := col.central.Read(f.ctx, col.chars.meas.ConfigHandle()+1)
	require.NoError(t, err)
	assert.Equal(t, "cgm-sensor glucose", string(desc))
}

func TestSensorRecordAccess(t *testing.T) {
	f := newFixture(t, Options{})
	col := f.attach(t, 64)
	f.run(t, 9) // offsets 0..9

	res, err := col.RACP(f.ctx, racp.NewCommand(racp.OpReportNumberOfStoredRecords, record.All))
	require.NoError(t, err)
	assert.Equal(t, racp.OpNumberOfStoredRecords, res.Op)
	assert.Equal(t, uint16(10), res.Count)

	res, err = col.RACP(f.ctx, racp.NewCommand(racp.OpReportStoredRecords,
		record.Filter{Op: record.OpWithinRange, Min: 2, Max: 5}))
	require.NoError(t, err)
	assert.Equal(t, racp.OpReportStoredRecords, res.Request)
	assert.Equal(t, racp.Success, res.Code)
	assert.Equal(t, []uint16{2, 3, 4, 5}, offsets(col.Measurements()))

	res, err = col.RACP(f.ctx, racp.NewCommand(racp.OpDeleteStoredRecords,
		record.Filter{Op: record.OpLessOrEqual, Max: 3}))
	require.NoError(t, err)
	assert.Equal(t, racp.Success, res.Code)

	res, err = col.RACP(f.ctx, racp.NewCommand(racp.OpReportNumberOfStoredRecords, record.All))
	require.NoError(t, err)
	assert.Equal(t, uint16(6), res.Count)

	col.Clear()
	res, err = col.RACP(f.ctx, racp.NewCommand(racp.OpReportStoredRecords, record.Filter{Op: record.OpFirst}))
	require.NoError(t, err)
	assert.Equal(t, racp.Success, res.Code)
	assert.Equal(t, []uint16{4}, offsets(col.Measurements()))

	res, err = col.RACP(f.ctx, racp.NewCommand(racp.OpDeleteStoredRecords, record.All))
	require.NoError(t, err)
	assert.Equal(t, racp.Success, res.Code)

	res, err = col.RACP(f.ctx, racp.NewCommand(racp.OpReportStoredRecords, record.All))
	require.NoError(t, err)
	assert.Equal(t, racp.NoRecordsFound, res.Code)

	res, err = col.RACP(f.ctx, racp.Command{Op: racp.OpReportStoredRecords, Operator: record.OpNull})
	require.NoError(t, err)
	assert.Equal(t, racp.InvalidOperator, res.Code)
}

func TestSensorReportAbort(t *testing.T) {
	// no optional fields, so each notification carries three records
	f := newFixture(t, Options{Features: session.FeatureMultipleSessions})
	col := f.attach(t, gatt.DefaultMTU)
	f.run(t, 29)

	// hold the report worker inside its first notification
	started, release := make(chan struct{}), make(chan struct{})
	var once sync.Once
	col.onMeasurement = func() {
		once.Do(func() {
			close(started)
			<-release
		})
	}
	t.Cleanup(func() {
		select {
		case <-release:
		default:
			close(release)
		}
	})

	require.NoError(t, col.WriteRACP(f.ctx, racp.NewCommand(racp.OpReportStoredRecords, record.All)))
	select {
	case <-started:
	case <-f.ctx.Done():
		t.Fatal("report never started")
	}

	err := col.WriteRACP(f.ctx, racp.NewCommand(racp.OpReportNumberOfStoredRecords, record.All))
	assert.True(t, errors.Is(err, gatt.ATTError(gatt.StatusProcedureInProgress)), "second procedure: %v", err)

	res, err := col.RACP(f.ctx, racp.Command{Op: racp.OpAbort, Operator: record.OpNull})
	require.NoError(t, err)
	assert.Equal(t, racp.OpAbort, res.Request)
	assert.Equal(t, racp.Success, res.Code)
	close(release)

	res, err = col.AwaitRACP(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, racp.OpReportStoredRecords, res.Request)
	assert.Equal(t, racp.ProcedureNotComplete, res.Code)
	assert.Equal(t, 3, col.Len(), "only the first notification went out")

	// the slot is free again
	res, err = col.RACP(f.ctx, racp.NewCommand(racp.OpReportNumberOfStoredRecords, record.All))
	require.NoError(t, err)
	assert.Equal(t, uint16(30), res.Count)
}

func TestSensorPeriodicDelivery(t *testing.T) {
	f := newFixture(t, Options{CommunicationInterval: 2})
	col := f.attach(t, 64)

	f.run(t, 1)
	assert.Zero(t, col.Len())
	require.NoError(t, f.s.Tick(f.ctx))
	assert.Equal(t, []uint16{0, 1, 2}, offsets(col.Measurements()))
	require.NoError(t, f.s.Tick(f.ctx))
	require.NoError(t, f.s.Tick(f.ctx))
	assert.Equal(t, []uint16{0, 1, 2, 3, 4}, offsets(col.Measurements()), "records are sent once")

	var pending int
	require.NoError(t, f.s.Do(f.ctx, func(_ *session.State, l *record.List) { pending = len(notify.Pending(l)) }))
	assert.Zero(t, pending)
}

func TestSensorSpecificOps(t *testing.T) {
	f := newFixture(t, Options{})
	col := f.attach(t, 64)

	res, err := col.SOCP(f.ctx, socp.SetCommunicationInterval(0xFF))
	require.NoError(t, err)
	assert.Equal(t, socp.Success, res.Code)
	res, err = col.SOCP(f.ctx, socp.Command{Op: socp.OpGetCommunicationInterval})
	require.NoError(t, err)
	assert.Equal(t, socp.OpCommunicationIntervalResponse, res.Op)
	assert.Equal(t, uint8(session.SmallestCommunicationInterval), res.Interval)

	res, err = col.SOCP(f.ctx, socp.SetAlertLevel(session.AlertPatientHigh, 150))
	require.NoError(t, err)
	assert.Equal(t, socp.Success, res.Code)
	res, err = col.SOCP(f.ctx, socp.GetAlertLevel(session.AlertPatientHigh))
	require.NoError(t, err)
	assert.Equal(t, uint16(150), res.Level)

	res, err = col.SOCP(f.ctx, socp.SetAlertLevel(session.AlertHypo, 60))
	require.NoError(t, err)
	assert.Equal(t, socp.OpcodeNotSupported, res.Code, "hypo alerts are not supported")

	res, err = col.SOCP(f.ctx, socp.SetCalibration(record.Calibration{Glucose: 90, TypeLocation: 0x59}))
	require.NoError(t, err)
	assert.Equal(t, socp.Success, res.Code)
	res, err = col.SOCP(f.ctx, socp.GetCalibration(record.LastCalibration))
	require.NoError(t, err)
	assert.Equal(t, socp.OpGlucoseCalibrationResponse, res.Op)
	assert.Equal(t, uint16(1), res.Calibration.Number)
	assert.Equal(t, uint16(90), res.Calibration.Glucose)
}

func TestSensorRequiresSubscriptions(t *testing.T) {
	f := newFixture(t, Options{})
	c, err := f.lb.Dial(f.ctx, collectorAddr, 64, nil)
	require.NoError(t, err)

	chars, err := c.Discover(f.ctx, ServiceUUID)
	require.NoError(t, err)
	var racpChar, socpChar *gatt.RemoteCharacteristic
	for _, rc := range chars {
		switch {
		case rc.UUID().Equal(RecordAccessUUID):
			racpChar = rc
		case rc.UUID().Equal(SpecificOpsUUID):
			socpChar = rc
		}
	}
	require.NotNil(t, racpChar)
	require.NotNil(t, socpChar)
	improperly := gatt.ATTError(gatt.StatusCCCDImproperlyConfig)

	err = c.Write(f.ctx, racpChar.ValueHandle(), racp.NewCommand(racp.OpReportStoredRecords, record.All).Bytes())
	assert.True(t, errors.Is(err, improperly), "racp without indications: %v", err)
	err = c.Write(f.ctx, socpChar.ValueHandle(), []byte{byte(socp.OpGetCommunicationInterval)})
	assert.True(t, errors.Is(err, improperly), "socp without indications: %v", err)

	require.NoError(t, c.Subscribe(f.ctx, racpChar, true))
	err = c.Write(f.ctx, racpChar.ValueHandle(), racp.NewCommand(racp.OpReportStoredRecords, record.All).Bytes())
	assert.True(t, errors.Is(err, improperly), "report without measurement notifications: %v", err)
	err = c.Write(f.ctx, racpChar.ValueHandle(), racp.NewCommand(racp.OpReportNumberOfStoredRecords, record.All).Bytes())
	assert.NoError(t, err)
	err = c.Write(f.ctx, racpChar.ValueHandle(), []byte{byte(racp.OpReportStoredRecords)})
	assert.True(t, errors.Is(err, gatt.ATTError(gatt.StatusInvalidLength)), "truncated command: %v", err)
}

func TestSensorE2ECRC(t *testing.T) {
	f := newFixture(t, Options{Features: testFeatures | session.FeatureE2ECRC})
	col := f.attach(t, 64)
	require.True(t, col.crc)

	res, err := col.SOCP(f.ctx, socp.Command{Op: socp.OpGetCommunicationInterval})
	require.NoError(t, err)
	assert.Equal(t, socp.OpCommunicationIntervalResponse, res.Op)

	h := col.chars.socp.ValueHandle()
	err = col.central.Write(f.ctx, h, []byte{byte(socp.OpGetCommunicationInterval)})
	assert.True(t, errors.Is(err, gatt.ATTError(gatt.StatusMissingCRC)), "missing crc: %v", err)
	err = col.central.Write(f.ctx, h, []byte{byte(socp.OpGetCommunicationInterval), 0x00, 0x00})
	assert.True(t, errors.Is(err, gatt.ATTError(gatt.StatusInvalidCRC)), "invalid crc: %v", err)

	// measurements carry their own crc
	f.run(t, 2)
	res2, err := col.RACP(f.ctx, racp.NewCommand(racp.OpReportStoredRecords, record.All))
	require.NoError(t, err)
	assert.Equal(t, racp.Success, res2.Code)
	assert.Equal(t, []uint16{0, 1, 2}, offsets(col.Measurements()))

	b, err := col.central.Read(f.ctx, col.chars.status.ValueHandle())
	require.NoError(t, err)
	_, err = wire.CheckCRC(b, 5)
	assert.NoError(t, err)
}

func TestSensorDisconnectStopsSession(t *testing.T) {
	f := newFixture(t, Options{})
	col := f.attach(t, 64)
	f.run(t, 2)
	res, err := col.SOCP(f.ctx, socp.SetCalibration(record.Calibration{Glucose: 95, TypeLocation: 0x59}))
	require.NoError(t, err)
	require.Equal(t, socp.Success, res.Code)
	rres, err := col.RACP(f.ctx, racp.NewCommand(racp.OpReportStoredRecords, record.All))
	require.NoError(t, err)
	require.Equal(t, racp.Success, rres.Code)
	require.Equal(t, 3, col.Len())

	require.NoError(t, col.Disconnect(f.ctx))
	assert.Zero(t, col.Len(), "collector drops its records with the link")
	var running bool
	var stored int
	require.NoError(t, f.s.Do(f.ctx, func(st *session.State, l *record.List) {
		running, stored = st.Running(), l.Len()
	}))
	assert.False(t, running)
	assert.Zero(t, stored)

	// a new collector finds both stores released
	col = f.attach(t, 64)
	rres, err = col.RACP(f.ctx, racp.NewCommand(racp.OpReportNumberOfStoredRecords, record.All))
	require.NoError(t, err)
	assert.Equal(t, racp.OpNumberOfStoredRecords, rres.Op)
	assert.Zero(t, rres.Count)

	res, err = col.SOCP(f.ctx, socp.GetCalibration(record.LastCalibration))
	require.NoError(t, err)
	assert.Equal(t, socp.ParameterOutOfRange, res.Code)
}

func TestSensorTimerDrivesSession(t *testing.T) {
	f := newFixture(t, Options{Tick: time.Second})
	require.NoError(t, f.s.StartSession(f.ctx))
	assert.ErrorIs(t, f.s.StartSession(f.ctx), session.ErrRunning)

	require.Eventually(t, func() bool {
		var elapsed uint32
		if err := f.s.Do(f.ctx, func(st *session.State, _ *record.List) { elapsed = st.Elapsed }); err != nil {
			return false
		}
		return elapsed >= 1
	}, 5*time.Second, 50*time.Millisecond)
}

func TestSensorClosed(t *testing.T) {
	s := NewSensor(Options{})
	lb := gatt.NewLoopback()
	errc := make(chan error, 1)
	go func() { errc <- s.Serve(context.Background(), lb) }()
	<-s.Server().Ready()

	require.NoError(t, s.Close())
	require.NoError(t, <-errc)
	assert.ErrorIs(t, s.Tick(context.Background()), ErrClosed)
}
