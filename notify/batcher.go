// Package notify delivers measurement records to a collector as a
// sequence of notifications.
package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/XC-/cgms/record"
)

var (
	// ErrAborted is returned when delivery stopped because Abort was raised.
	ErrAborted = errors.New("notify: delivery aborted")
	// ErrStalled is returned when the sender kept reporting zero records sent.
	ErrStalled = errors.New("notify: sender stalled")
	// ErrOverrun is returned when the sender claimed more records than it was given.
	ErrOverrun = errors.New("notify: sender reported more records than requested")
)

// A Sender transmits as many of ms as fit in one notification,
// starting at ms[0], and reports how many it sent.
// A zero count with a nil error means the transport is busy.
type Sender interface {
	SendMeasurements(ms []*record.Measurement) (int, error)
}

// SenderFunc adapts an ordinary function to a Sender.
type SenderFunc func(ms []*record.Measurement) (int, error)

// SendMeasurements returns f(ms).
func (f SenderFunc) SendMeasurements(ms []*record.Measurement) (int, error) { return f(ms) }

// An Abort is a cancellation flag shared by a procedure and the
// command that cancels it. It is safe for concurrent use.
type Abort struct{ raised atomic.Bool }

// Raise sets the flag.
func (a *Abort) Raise() { a.raised.Store(true) }

// Clear resets the flag.
func (a *Abort) Clear() { a.raised.Store(false) }

// Raised reports whether the flag is set.
func (a *Abort) Raised() bool { return a.raised.Load() }

// Options configures a Batcher.
type Options struct {
	// SettleDelay is slept after a successful drain, before the
	// caller sends its terminal indication. Zero disables it.
	SettleDelay time.Duration
	// MaxStalls bounds consecutive zero-count sends. Zero means 3.
	MaxStalls int
	// StallDelay is slept after a zero-count send. Zero means 10ms.
	StallDelay time.Duration
	// Rate and Burst pace notifications. A zero Rate disables pacing.
	Rate  rate.Limit
	Burst int
}

// A Batcher drains record lists through a Sender.
type Batcher struct {
	opts    Options
	limiter *rate.Limiter
	log     logrus.FieldLogger
	sleep   func(context.Context, time.Duration) error
}

// NewBatcher returns a Batcher configured with opts.
func NewBatcher(opts Options, log logrus.FieldLogger) *Batcher {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	if opts.MaxStalls <= 0 {
		opts.MaxStalls = 3
	}
	if opts.StallDelay <= 0 {
		opts.StallDelay = 10 * time.Millisecond
	}
	b := &Batcher{opts: opts, log: log, sleep: sleepCtx}
	if opts.Rate > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		b.limiter = rate.NewLimiter(opts.Rate, burst)
	}
	return b
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Deliver sends ms in order through s until all are sent, the sender
// fails, or abort is raised. Each record is marked notified once the
// send carrying it succeeds. Deliver returns the number of records sent.
// abort may be nil.
func (b *Batcher) Deliver(ctx context.Context, ms []*record.Measurement, s Sender, abort *Abort) (int, error) {
	n := len(ms)
	sent, stalls := 0, 0
	for sent < n {
		if b.limiter != nil {
			if err := b.limiter.Wait(ctx); err != nil {
				return sent, err
			}
		}
		k, err := s.SendMeasurements(ms[sent:])
		if err != nil {
			b.log.WithError(err).WithFields(logrus.Fields{"sent": sent, "total": n}).Warn("notification failed")
			return sent, fmt.Errorf("notify: send: %w", err)
		}
		if k <= 0 {
			stalls++
			if stalls > b.opts.MaxStalls {
				return sent, ErrStalled
			}
			if err := b.sleep(ctx, b.opts.StallDelay); err != nil {
				return sent, err
			}
			continue
		}
		stalls = 0
		if sent+k > n {
			b.log.WithFields(logrus.Fields{"sent": sent + k, "total": n}).Warn("sender overran batch")
			for _, m := range ms[sent:] {
				m.Notified = true
			}
			return sent + k, ErrOverrun
		}
		for _, m := range ms[sent : sent+k] {
			m.Notified = true
		}
		sent += k
		if abort != nil && abort.Raised() && sent < n {
			b.log.WithFields(logrus.Fields{"sent": sent, "total": n}).Info("delivery aborted")
			return sent, ErrAborted
		}
	}
	if err := b.sleep(ctx, b.opts.SettleDelay); err != nil {
		return sent, err
	}
	return sent, nil
}

// Pending returns the records of l not yet notified, head to tail.
func Pending(l *record.List) []*record.Measurement {
	var out []*record.Measurement
	for _, m := range l.Records() {
		if !m.Notified {
			out = append(out, m)
		}
	}
	return out
}
