package session

import (
	"context"
	"crypto/rand"
	"errors"
	"io"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"

	"github.com/XC-/cgms/notify"
	"github.com/XC-/cgms/record"
)

var (
	// ErrRunning is returned by Start while a session is in progress.
	ErrRunning = errors.New("session: already running")
	// ErrStopped is returned by Stop while no session is in progress.
	ErrStopped = errors.New("session: not running")
)

// maxTimeOffset is the last minute a time offset can express.
const maxTimeOffset = 0xFFFF

// A Link gives the controller access to the connected collector.
type Link interface {
	// Measurements returns the sender for periodic measurement
	// notifications, or nil when nothing should be sent right now.
	Measurements() notify.Sender
}

// A Controller runs the session state machine: start, stop, and the
// minute tick that generates and periodically delivers measurements.
// It must only be used from the owning sensor's executor.
type Controller struct {
	state   *State
	store   *record.List
	cal     *record.CalibrationList
	batcher *notify.Batcher
	gen     *Generator
	timer   Ticker
	link    Link
	breaker *gobreaker.CircuitBreaker[int]
	now     func() time.Time
	entropy io.Reader
	log     logrus.FieldLogger
}

// Option configures a Controller.
type Option func(*Controller)

// WithGenerator sets the measurement generator.
func WithGenerator(g *Generator) Option { return func(c *Controller) { c.gen = g } }

// WithTicker sets the minute ticker.
func WithTicker(t Ticker) Option { return func(c *Controller) { c.timer = t } }

// WithLink sets the collector link used for periodic delivery.
func WithLink(l Link) Option { return func(c *Controller) { c.link = l } }

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option { return func(c *Controller) { c.log = l } }

// WithClock sets the clock used for session ids.
func WithClock(now func() time.Time) Option { return func(c *Controller) { c.now = now } }

// WithBreaker sets the circuit breaker settings for periodic delivery.
func WithBreaker(st gobreaker.Settings) Option {
	return func(c *Controller) { c.breaker = gobreaker.NewCircuitBreaker[int](st) }
}

type nopTicker struct{}

func (nopTicker) Start() error { return nil }
func (nopTicker) Stop()        {}

// NewController returns a controller for st that generates into store.
func NewController(st *State, store *record.List, cal *record.CalibrationList, b *notify.Batcher, opts ...Option) *Controller {
	c := &Controller{
		state:   st,
		store:   store,
		cal:     cal,
		batcher: b,
		timer:   nopTicker{},
		now:     time.Now,
		entropy: rand.Reader,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		c.log = l
	}
	if c.gen == nil {
		c.gen = NewGenerator(uint64(c.now().UnixNano()))
	}
	if c.breaker == nil {
		c.breaker = gobreaker.NewCircuitBreaker[int](gobreaker.Settings{Name: "periodic-delivery"})
	}
	return c
}

// State returns the session state.
func (c *Controller) State() *State { return c.state }

// Start begins a new session. It clears both stores, resets the
// counters, generates the first measurement and starts the ticker.
func (c *Controller) Start() error {
	if c.state.Running() {
		return ErrRunning
	}
	now := c.now()
	_ = c.store.Clear()
	c.cal.Clear()
	c.gen.Reset()

	st := c.state
	st.Elapsed, st.TimeOffset = 0, 0
	st.Status &^= StatusSessionStopped | StatusTimeSyncRequired | statusResultBits
	st.ID = ulid.MustNew(ulid.Timestamp(now), c.entropy)
	if st.Start.Time.IsZero() {
		st.Start.Time = now
	}
	c.store.Insert(c.gen.Next(st))

	if err := c.timer.Start(); err != nil {
		st.Status |= StatusSessionStopped
		return err
	}
	c.log.WithFields(logrus.Fields{"session": st.ID.String(), "run_time_h": st.RunTime}).Info("session started")
	return nil
}

// Stop ends the running session.
func (c *Controller) Stop() error {
	if !c.state.Running() {
		return ErrStopped
	}
	c.stop("stopped by collector")
	return nil
}

// stop ends the session and releases both stores.
func (c *Controller) stop(reason string) {
	c.timer.Stop()
	c.state.Status |= StatusSessionStopped | StatusTimeSyncRequired
	c.log.WithFields(logrus.Fields{
		"session":      c.state.ID.String(),
		"elapsed":      c.state.Elapsed,
		"records":      c.store.Len(),
		"calibrations": c.cal.Len(),
	}).Info("session ended: " + reason)
	// A count mismatch is logged by Clear; the list is empty regardless.
	_ = c.store.Clear()
	c.cal.Clear()
}

// Disconnect stops a running session after the collector went away.
// The measurement list is cleared even when no session was running.
func (c *Controller) Disconnect() {
	if c.state.Running() {
		c.stop("collector disconnected")
		return
	}
	_ = c.store.Clear()
}

// Tick advances the session by one minute.
func (c *Controller) Tick(ctx context.Context) {
	st := c.state
	if !st.Running() {
		return
	}
	st.Elapsed++
	st.TimeOffset = uint16(st.Elapsed)

	if st.MeasurementInterval > 0 && st.Elapsed%uint32(st.MeasurementInterval) == 0 {
		c.store.Insert(c.gen.Next(st))
	}
	if ci := st.CommunicationInterval; ci != 0 && st.Elapsed%uint32(ci) == 0 {
		c.deliver(ctx)
	}

	switch {
	case st.Elapsed == st.RunTimeMinutes():
		c.stop("run time reached")
	case st.Elapsed >= maxTimeOffset:
		c.stop("time offset exhausted")
	}
}

// deliver notifies every measurement not yet sent.
func (c *Controller) deliver(ctx context.Context) {
	if c.link == nil {
		return
	}
	s := c.link.Measurements()
	if s == nil {
		return
	}
	pending := notify.Pending(c.store)
	if len(pending) == 0 {
		return
	}
	n, err := c.breaker.Execute(func() (int, error) {
		return c.batcher.Deliver(ctx, pending, s, nil)
	})
	log := c.log.WithFields(logrus.Fields{"pending": len(pending), "sent": n})
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		log.Debug("periodic delivery suspended")
	case err != nil:
		log.WithError(err).Warn("periodic delivery failed")
	default:
		log.Debug("periodic delivery")
	}
}
