package cgms

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"

	"github.com/XC-/cgms/gatt"
	"github.com/XC-/cgms/notify"
	"github.com/XC-/cgms/racp"
	"github.com/XC-/cgms/record"
	"github.com/XC-/cgms/session"
	"github.com/XC-/cgms/socp"
	"github.com/XC-/cgms/wire"
)

// Options configures a Sensor.
type Options struct {
	Name         string
	Features     session.Features
	TypeLocation uint8

	// Zero values keep the session defaults.
	MeasurementInterval   uint16
	CommunicationInterval uint8
	RunTime               uint16 // hours

	// Tick is the wall time of one session minute. When Ticker is set
	// it drives the session instead; with neither the session only
	// advances through Sensor.Tick.
	Tick   time.Duration
	Ticker session.Ticker

	Seed    uint64 // measurement generator seed, 0 seeds from the clock
	Batcher notify.Options
	Breaker gobreaker.Settings
	Clock   func() time.Time
	Logger  logrus.FieldLogger
}

// A Sensor is the CGM sensor role: the per-connection context holding
// the session state, both record stores and the two control point
// engines, exposed through a gatt server.
type Sensor struct {
	srv     *gatt.Server
	state   *session.State
	store   *record.List
	cal     *record.CalibrationList
	batcher *notify.Batcher
	racp    *racp.Engine
	socp    *socp.Engine
	ctrl    *session.Controller
	timer   *session.Timer
	log     logrus.FieldLogger

	// executor-owned
	meas, racpN, socpN gatt.Notifier
	delivery           *racp.Delivery

	ctx context.Context
	wg  sync.WaitGroup
}

// NewSensor returns a sensor with its CGM service registered.
func NewSensor(o Options) *Sensor {
	log := o.Logger
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	if o.Name == "" {
		o.Name = "cgm-sensor"
	}
	if o.Breaker.Name == "" {
		o.Breaker.Name = "periodic-delivery"
	}

	st := session.NewState(o.Features)
	if o.TypeLocation != 0 {
		st.TypeLocation = o.TypeLocation
	}
	if o.MeasurementInterval != 0 {
		st.MeasurementInterval = o.MeasurementInterval
	}
	st.CommunicationInterval = o.CommunicationInterval
	if o.RunTime != 0 {
		st.RunTime = o.RunTime
	}

	s := &Sensor{
		state: st,
		store: record.NewList(record.RoleSensor, log),
		cal:   new(record.CalibrationList),
		log:   log.WithField("role", "sensor"),
		ctx:   context.Background(),
	}
	s.batcher = notify.NewBatcher(o.Batcher, log)
	s.racp = racp.New(s.store, s.batcher, log)

	opts := []session.Option{
		session.WithLink(s),
		session.WithLogger(log),
		session.WithBreaker(o.Breaker),
	}
	if o.Seed != 0 {
		opts = append(opts, session.WithGenerator(session.NewGenerator(o.Seed)))
	}
	if o.Clock != nil {
		opts = append(opts, session.WithClock(o.Clock))
	}
	switch {
	case o.Ticker != nil:
		opts = append(opts, session.WithTicker(o.Ticker))
	case o.Tick > 0:
		s.timer = session.NewTimer(o.Tick, s.postTick, log)
		opts = append(opts, session.WithTicker(s.timer))
	}
	s.ctrl = session.NewController(st, s.store, s.cal, s.batcher, opts...)
	s.socp = socp.New(st, s.cal, s.ctrl, log)

	s.srv = gatt.NewServer(
		gatt.Name(o.Name),
		gatt.Logger(log),
		gatt.Connect(s.connected),
		gatt.Disconnect(s.disconnected),
	)
	s.register(o.Name)
	return s
}

// Server returns the underlying gatt server.
func (s *Sensor) Server() *gatt.Server { return s.srv }

// Serve runs the sensor on t until ctx is done or Close is called.
// It waits for outstanding report deliveries before returning.
func (s *Sensor) Serve(ctx context.Context, t gatt.Transport) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.ctx = ctx
	err := s.srv.Serve(ctx, t)
	cancel()
	s.wg.Wait()
	if s.timer != nil {
		s.timer.Close()
	}
	return err
}

// Close stops the sensor.
func (s *Sensor) Close() error {
	return s.srv.Close()
}

// Do runs f on the sensor's executor and waits for it to return.
// f may inspect and modify the session state and the record list.
func (s *Sensor) Do(ctx context.Context, f func(st *session.State, store *record.List)) error {
	done := make(chan struct{})
	if !s.srv.Post(func() {
		f(s.state, s.store)
		close(done)
	}) {
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StartSession starts a session regardless of the advertised
// session features.
func (s *Sensor) StartSession(ctx context.Context) error {
	var err error
	if derr := s.Do(ctx, func(*session.State, *record.List) { err = s.ctrl.Start() }); derr != nil {
		return derr
	}
	return err
}

// Tick advances the session by one minute and waits for it.
func (s *Sensor) Tick(ctx context.Context) error {
	return s.Do(ctx, func(*session.State, *record.List) { s.ctrl.Tick(s.ctx) })
}

func (s *Sensor) postTick() {
	s.srv.Post(func() { s.ctrl.Tick(s.ctx) })
}

func (s *Sensor) crc() bool { return s.state.Features.Has(session.FeatureE2ECRC) }

func (s *Sensor) register(name string) {
	svc := s.srv.AddService(ServiceUUID)

	meas := svc.AddCharacteristic(MeasurementUUID)
	meas.HandleNotifyFunc(func(r gatt.Request, n gatt.Notifier) { s.meas = n })
	meas.AddDescriptor(userDescriptionUUID, []byte(name+" glucose"))

	// features are fixed for the sensor's lifetime
	svc.AddCharacteristic(FeatureUUID).SetValue(wire.EncodeFeature(s.state.Features, s.state.TypeLocation))

	svc.AddCharacteristic(StatusUUID).HandleReadFunc(
		func(resp gatt.ReadResponseWriter, req *gatt.ReadRequest) {
			serveValue(resp, req, wire.EncodeStatus(s.state.TimeOffset, s.state.Status, s.crc()))
		})

	start := svc.AddCharacteristic(SessionStartTimeUUID)
	start.HandleReadFunc(func(resp gatt.ReadResponseWriter, req *gatt.ReadRequest) {
		serveValue(resp, req, wire.EncodeStartTime(s.state.Start, s.crc()))
	})
	start.HandleWriteFunc(s.serveStartTime)

	svc.AddCharacteristic(SessionRunTimeUUID).HandleReadFunc(
		func(resp gatt.ReadResponseWriter, req *gatt.ReadRequest) {
			serveValue(resp, req, wire.EncodeRunTime(s.state.RunTime, s.crc()))
		})

	cp := svc.AddCharacteristic(RecordAccessUUID)
	cp.HandleWriteFunc(s.serveRACP)
	cp.HandleIndicateFunc(func(r gatt.Request, n gatt.Notifier) { s.racpN = n })

	ops := svc.AddCharacteristic(SpecificOpsUUID)
	ops.HandleWriteFunc(s.serveSOCP)
	ops.HandleIndicateFunc(func(r gatt.Request, n gatt.Notifier) { s.socpN = n })
}

func serveValue(resp gatt.ReadResponseWriter, req *gatt.ReadRequest, b []byte) {
	if req.Offset > len(b) {
		resp.SetStatus(gatt.StatusInvalidOffset)
		return
	}
	resp.Write(b[req.Offset:])
}

func live(n gatt.Notifier) bool { return n != nil && !n.Done() }

// valueStatus maps a decode error to its ATT status.
func valueStatus(err error) byte {
	switch {
	case errors.Is(err, wire.ErrMissingCRC):
		return gatt.StatusMissingCRC
	case errors.Is(err, wire.ErrInvalidCRC):
		return gatt.StatusInvalidCRC
	case errors.Is(err, wire.ErrOutOfRange):
		return gatt.StatusOutOfRange
	}
	return gatt.StatusInvalidLength
}

func (s *Sensor) serveStartTime(r gatt.Request, data []byte) byte {
	st, err := wire.DecodeStartTime(data, s.crc())
	if err != nil {
		s.log.WithError(err).Debug("rejected session start time")
		return valueStatus(err)
	}
	s.state.Start = st
	s.state.Status &^= session.StatusTimeSyncRequired
	s.log.WithField("start", st.Time).Info("session start time set")
	return gatt.StatusSuccess
}

func (s *Sensor) serveRACP(r gatt.Request, data []byte) byte {
	ind := s.racpN
	s.racp.SetIndications(live(ind))

	cmd, err := racp.ParseCommand(data)
	if err != nil {
		if !live(ind) {
			return gatt.StatusCCCDImproperlyConfig
		}
		return gatt.StatusInvalidLength
	}
	if cmd.Op == racp.OpReportStoredRecords && live(ind) && !live(s.meas) {
		return gatt.StatusCCCDImproperlyConfig
	}

	res, d, err := s.racp.Begin(cmd)
	switch {
	case errors.Is(err, racp.ErrNotConfigured):
		return gatt.StatusCCCDImproperlyConfig
	case errors.Is(err, racp.ErrInProgress):
		return gatt.StatusProcedureInProgress
	case err != nil:
		s.log.WithError(err).Error("record access failed")
		return gatt.StatusUnexpectedError
	}

	if d == nil {
		s.srv.Defer(func() { s.indicate(ind, res.Bytes()) })
		return gatt.StatusSuccess
	}

	s.delivery = d
	sender := s.sender(s.meas)
	s.srv.Defer(func() {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			n, err := d.Run(s.ctx, sender)
			s.srv.Post(func() { s.finish(d, ind, n, err) })
		}()
	})
	return gatt.StatusSuccess
}

func (s *Sensor) finish(d *racp.Delivery, ind gatt.Notifier, sent int, err error) {
	if s.delivery != d {
		// the link dropped and the engine was reset meanwhile
		return
	}
	s.delivery = nil
	s.indicate(ind, s.racp.Finish(d, sent, err).Bytes())
}

func (s *Sensor) serveSOCP(r gatt.Request, data []byte) byte {
	ind := s.socpN
	s.socp.SetIndications(live(ind))

	cmd, err := socp.ParseCommand(data, s.crc())
	if err != nil {
		s.log.WithError(err).Debug("rejected specific ops write")
		return valueStatus(err)
	}
	res, err := s.socp.Handle(cmd)
	if err != nil {
		return gatt.StatusCCCDImproperlyConfig
	}
	crc := s.crc()
	s.srv.Defer(func() { s.indicate(ind, res.Bytes(crc)) })
	return gatt.StatusSuccess
}

func (s *Sensor) indicate(n gatt.Notifier, b []byte) {
	if !live(n) {
		s.log.Warn("indication dropped: not subscribed")
		return
	}
	if _, err := n.Write(b); err != nil {
		s.log.WithError(err).Warn("indication failed")
	}
}

// Measurements implements session.Link. Periodic delivery pauses while
// a report is being delivered.
func (s *Sensor) Measurements() notify.Sender {
	if s.racp.Busy() || !live(s.meas) {
		return nil
	}
	return s.sender(s.meas)
}

// sender packs as many records as fit one notification of n.
func (s *Sensor) sender(n gatt.Notifier) notify.Sender {
	crc := s.crc()
	return notify.SenderFunc(func(ms []*record.Measurement) (int, error) {
		if !live(n) {
			return 0, gatt.ErrNotifyStopped
		}
		b, k := wire.PackMeasurements(ms, n.Cap(), crc)
		if k == 0 {
			return 0, fmt.Errorf("cgms: %d byte record exceeds notification capacity %d",
				wire.MeasurementLen(ms[0], crc), n.Cap())
		}
		if _, err := n.Write(b); err != nil {
			return 0, err
		}
		return k, nil
	})
}

func (s *Sensor) connected(c gatt.Conn) {
	s.log.WithField("mtu", c.MTU()).Info("collector connected")
}

func (s *Sensor) disconnected(c gatt.Conn) {
	s.meas, s.racpN, s.socpN = nil, nil, nil
	s.delivery = nil
	s.racp.Reset()
	s.racp.SetIndications(false)
	s.socp.SetIndications(false)
	s.ctrl.Disconnect()
	s.log.Info("collector disconnected")
}
