package cgms

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/XC-/cgms/gatt"
	"github.com/XC-/cgms/racp"
	"github.com/XC-/cgms/record"
	"github.com/XC-/cgms/session"
	"github.com/XC-/cgms/socp"
	"github.com/XC-/cgms/wire"
)

// indicationBacklog bounds control point results awaiting a reader.
const indicationBacklog = 16

// A Collector is the CGM collector role. It subscribes to a sensor,
// stores the measurements it is sent and drives both control points.
type Collector struct {
	log logrus.FieldLogger

	mu    sync.Mutex
	store *record.List

	central *gatt.Central
	crc     bool
	chars   struct {
		meas, feature, status, start, run, racp, socp *gatt.RemoteCharacteristic
	}
	racpRes chan racp.Result
	socpRes chan socp.Response

	// onMeasurement, if set, runs after each measurement notification
	// is stored, on the goroutine that delivered it.
	onMeasurement func()
}

// NewCollector returns a detached collector.
func NewCollector(log logrus.FieldLogger) *Collector {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Collector{
		log:     log.WithField("role", "collector"),
		store:   record.NewList(record.RoleCollector, log),
		racpRes: make(chan racp.Result, indicationBacklog),
		socpRes: make(chan socp.Response, indicationBacklog),
	}
}

// Attach connects to the sensor serving on lb, discovers its CGM
// service, learns whether E2E-CRC is in use and subscribes to
// measurements and both control points.
func (c *Collector) Attach(ctx context.Context, lb *gatt.Loopback, addr net.HardwareAddr, mtu int) error {
	central, err := lb.Dial(ctx, addr, mtu, c.handle)
	if err != nil {
		return fmt.Errorf("dial sensor: %w", err)
	}
	chars, err := central.Discover(ctx, ServiceUUID)
	if err != nil {
		central.Close()
		return fmt.Errorf("discover cgm service: %w", err)
	}
	for _, want := range []struct {
		u   gatt.UUID
		dst **gatt.RemoteCharacteristic
	}{
		{MeasurementUUID, &c.chars.meas},
		{FeatureUUID, &c.chars.feature},
		{StatusUUID, &c.chars.status},
		{SessionStartTimeUUID, &c.chars.start},
		{SessionRunTimeUUID, &c.chars.run},
		{RecordAccessUUID, &c.chars.racp},
		{SpecificOpsUUID, &c.chars.socp},
	} {
		for _, rc := range chars {
			if rc.UUID().Equal(want.u) {
				*want.dst = rc
			}
		}
		if *want.dst == nil {
			central.Close()
			return fmt.Errorf("%w: %v", ErrMissingCharacteristic, want.u)
		}
	}
	c.central = central

	b, err := central.Read(ctx, c.chars.feature.ValueHandle())
	if err != nil {
		return fmt.Errorf("read feature: %w", err)
	}
	f, _, err := wire.DecodeFeature(b)
	if err != nil {
		return fmt.Errorf("decode feature: %w", err)
	}
	c.crc = f.Has(session.FeatureE2ECRC)

	for _, sub := range []struct {
		ch       *gatt.RemoteCharacteristic
		indicate bool
	}{
		{c.chars.meas, false},
		{c.chars.racp, true},
		{c.chars.socp, true},
	} {
		if err := central.Subscribe(ctx, sub.ch, sub.indicate); err != nil {
			return fmt.Errorf("subscribe %v: %w", sub.ch.UUID(), err)
		}
	}
	c.log.WithField("crc", c.crc).Info("attached to sensor")
	return nil
}

// Disconnect drops the link to the sensor and the measurements
// received over it.
func (c *Collector) Disconnect(ctx context.Context) error {
	if c.central == nil {
		return ErrNotAttached
	}
	err := c.central.Disconnect(ctx)
	c.Clear()
	return err
}

// handle receives notifications and indications. It must not block.
func (c *Collector) handle(h uint16, data []byte, indication bool) {
	switch h {
	case c.chars.meas.ValueHandle():
		ms, err := wire.DecodeMeasurements(data, c.crc)
		if err != nil {
			c.log.WithError(err).Warn("bad measurement notification")
		}
		c.mu.Lock()
		for i := range ms {
			m := ms[i]
			m.Notified = true
			c.store.Insert(&m)
		}
		c.mu.Unlock()
		if c.onMeasurement != nil {
			c.onMeasurement()
		}
	case c.chars.racp.ValueHandle():
		res, err := racp.ParseResult(data)
		if err != nil {
			c.log.WithError(err).Warn("bad record access indication")
			return
		}
		select {
		case c.racpRes <- res:
		default:
			c.log.Warn("record access result dropped")
		}
	case c.chars.socp.ValueHandle():
		res, err := socp.ParseResponse(data, c.crc)
		if err != nil {
			c.log.WithError(err).Warn("bad specific ops indication")
			return
		}
		select {
		case c.socpRes <- res:
		default:
			c.log.Warn("specific ops response dropped")
		}
	}
}

// WriteRACP writes cmd to the record access control point without
// waiting for its result.
func (c *Collector) WriteRACP(ctx context.Context, cmd racp.Command) error {
	if c.central == nil {
		return ErrNotAttached
	}
	return c.central.Write(ctx, c.chars.racp.ValueHandle(), cmd.Bytes())
}

// AwaitRACP returns the next record access result.
func (c *Collector) AwaitRACP(ctx context.Context) (racp.Result, error) {
	select {
	case res := <-c.racpRes:
		return res, nil
	case <-ctx.Done():
		return racp.Result{}, ctx.Err()
	}
}

// RACP runs cmd and waits for its result.
func (c *Collector) RACP(ctx context.Context, cmd racp.Command) (racp.Result, error) {
	if err := c.WriteRACP(ctx, cmd); err != nil {
		return racp.Result{}, err
	}
	return c.AwaitRACP(ctx)
}

// SOCP runs cmd on the specific ops control point and waits for the response.
func (c *Collector) SOCP(ctx context.Context, cmd socp.Command) (socp.Response, error) {
	if c.central == nil {
		return socp.Response{}, ErrNotAttached
	}
	if err := c.central.Write(ctx, c.chars.socp.ValueHandle(), cmd.Bytes(c.crc)); err != nil {
		return socp.Response{}, err
	}
	select {
	case res := <-c.socpRes:
		return res, nil
	case <-ctx.Done():
		return socp.Response{}, ctx.Err()
	}
}

// Status reads the sensor's time offset and status.
func (c *Collector) Status(ctx context.Context) (uint16, session.Status, error) {
	if c.central == nil {
		return 0, 0, ErrNotAttached
	}
	b, err := c.central.Read(ctx, c.chars.status.ValueHandle())
	if err != nil {
		return 0, 0, err
	}
	return wire.DecodeStatus(b, c.crc)
}

// StartTime reads the session start time.
func (c *Collector) StartTime(ctx context.Context) (session.StartTime, error) {
	if c.central == nil {
		return session.StartTime{}, ErrNotAttached
	}
	b, err := c.central.Read(ctx, c.chars.start.ValueHandle())
	if err != nil {
		return session.StartTime{}, err
	}
	return wire.DecodeStartTime(b, c.crc)
}

// SetStartTime writes the session start time.
func (c *Collector) SetStartTime(ctx context.Context, st session.StartTime) error {
	if c.central == nil {
		return ErrNotAttached
	}
	return c.central.Write(ctx, c.chars.start.ValueHandle(), wire.EncodeStartTime(st, c.crc))
}

// RunTime reads the session run time in hours.
func (c *Collector) RunTime(ctx context.Context) (uint16, error) {
	if c.central == nil {
		return 0, ErrNotAttached
	}
	b, err := c.central.Read(ctx, c.chars.run.ValueHandle())
	if err != nil {
		return 0, err
	}
	return wire.DecodeRunTime(b, c.crc)
}

// Len returns the number of stored measurements.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Len()
}

// Measurements returns copies of the stored measurements, most
// recently received first.
func (c *Collector) Measurements() []record.Measurement {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]record.Measurement, 0, c.store.Len())
	for _, m := range c.store.Records() {
		out = append(out, *m)
	}
	return out
}

// Clear drops the stored measurements.
func (c *Collector) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.store.Clear()
}
