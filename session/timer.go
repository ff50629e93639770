package session

import (
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// A Ticker drives Controller.Tick while a session runs.
type Ticker interface {
	Start() error
	Stop()
}

// ErrTimerClosed is returned by Start after Close.
var ErrTimerClosed = errors.New("session: timer closed")

// Timer is a Ticker backed by a cron scheduler. Each period it calls
// job, which is expected to hand the tick to the sensor's executor.
type Timer struct {
	mu     sync.Mutex
	cron   *cron.Cron
	every  time.Duration
	job    func()
	id     cron.EntryID
	active bool
	closed bool
}

// NewTimer returns a stopped timer firing job every period.
// cron schedules have one second resolution.
func NewTimer(every time.Duration, job func(), log logrus.FieldLogger) *Timer {
	cl := cronLogger{log: log}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	c.Start()
	return &Timer{cron: c, every: every, job: job}
}

// Start schedules the job. Starting an active timer is a no-op.
func (t *Timer) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTimerClosed
	}
	if t.active {
		return nil
	}
	t.id = t.cron.Schedule(cron.Every(t.every), cron.FuncJob(t.job))
	t.active = true
	return nil
}

// Stop unschedules the job.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.active {
		return
	}
	t.cron.Remove(t.id)
	t.active = false
}

// Close stops the scheduler and waits for a running job to return.
func (t *Timer) Close() {
	t.Stop()
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.mu.Unlock()
	<-t.cron.Stop().Done()
}

// cronLogger adapts logrus to cron.Logger.
type cronLogger struct{ log logrus.FieldLogger }

func (l cronLogger) fields(kv []interface{}) logrus.Fields {
	f := logrus.Fields{"component": "cron"}
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			f[k] = kv[i+1]
		}
	}
	return f
}

func (l cronLogger) Info(msg string, kv ...interface{}) {
	if l.log != nil {
		l.log.WithFields(l.fields(kv)).Debug(msg)
	}
}

func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
	if l.log != nil {
		l.log.WithFields(l.fields(kv)).WithError(err).Error(msg)
	}
}
