// Package quota enforces per-source call budgets: a daily call limit and a
// minimum interval between consecutive calls.
package quota

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// State is the externally visible state of a tracker.
type State string

const (
	StateAvailable State = "AVAILABLE"
	StateWaiting   State = "WAITING"
	StateExhausted State = "EXHAUSTED"
)

// Config controls a single source's budget.
type Config struct {
	// Source names the owning adapter, used in logs.
	Source string
	// DailyLimit is the number of calls allowed per calendar day. Zero or
	// negative means unlimited.
	DailyLimit int
	// MinInterval is the minimum spacing between two granted calls.
	MinInterval time.Duration
	// Location defines the calendar day boundary. Default: UTC.
	Location *time.Location
}

// Snapshot is a point-in-time copy of a tracker's state.
type Snapshot struct {
	Source      string        `json:"source"`
	State       State         `json:"state"`
	DailyCount  int           `json:"daily_count"`
	DailyLimit  int           `json:"daily_limit"`
	LastCall    time.Time     `json:"last_call_time"`
	MinInterval time.Duration `json:"min_interval"`
	ResetDate   time.Time     `json:"reset_date"`
}

// Tracker is the quota state of one source. All mutation happens under mu,
// including the wait for the remaining interval, so reservations on the same
// source are strictly serialized. The request itself is serialized by the
// caller (see source.Client).
type Tracker struct {
	cfg     Config
	mu      sync.Mutex
	limiter *rate.Limiter

	dailyCount int
	lastCall   time.Time
	resetDate  time.Time

	waiters atomic.Int32
	snap    atomic.Pointer[Snapshot]

	// nowFunc and sleepFunc allow test injection of time.
	nowFunc   func() time.Time
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides the time source and the sleep implementation.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(t *Tracker) {
		if now != nil {
			t.nowFunc = now
		}
		if sleep != nil {
			t.sleepFunc = sleep
		}
	}
}

// NewTracker creates a tracker for one source.
func NewTracker(cfg Config, opts ...Option) *Tracker {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	limit := rate.Inf
	if cfg.MinInterval > 0 {
		limit = rate.Every(cfg.MinInterval)
	}
	t := &Tracker{
		cfg:       cfg,
		limiter:   rate.NewLimiter(limit, 1),
		nowFunc:   time.Now,
		sleepFunc: sleepCtx,
	}
	for _, o := range opts {
		o(t)
	}
	t.publish(t.nowFunc())
	return t
}

// Reserve grants one call if the daily budget allows it. If only the minimum
// interval is unmet, it blocks for the remaining interval before granting.
// It returns false without blocking when the daily budget is exhausted, and
// false if ctx ends while waiting.
func (t *Tracker) Reserve(ctx context.Context) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.nowFunc()
	t.rollover(now)

	if t.exhausted() {
		t.publish(now)
		zap.L().Debug("quota: daily budget exhausted",
			zap.String("source", t.cfg.Source),
			zap.Int("daily_count", t.dailyCount),
			zap.Time("reset_date", t.resetDate),
		)
		return false
	}

	r := t.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false
	}
	if delay := r.DelayFrom(now); delay > 0 {
		t.waiters.Add(1)
		t.publish(now)
		err := t.sleepFunc(ctx, delay)
		t.waiters.Add(-1)
		if err != nil {
			r.CancelAt(t.nowFunc())
			t.publish(t.nowFunc())
			return false
		}
		now = t.nowFunc()
		t.rollover(now)
	}

	t.dailyCount++
	t.lastCall = now
	t.publish(now)
	return true
}

// Snapshot returns the latest published state without waiting on callers
// that are sleeping inside Reserve.
func (t *Tracker) Snapshot() Snapshot {
	s := *t.snap.Load()
	if s.State != StateExhausted && t.waiters.Load() > 0 {
		s.State = StateWaiting
	}
	if s.State == StateExhausted && !t.nowFunc().Before(s.ResetDate) {
		s.State = StateAvailable
		s.DailyCount = 0
	}
	return s
}

// State returns the current tracker state.
func (t *Tracker) State() State {
	return t.Snapshot().State
}

// Source returns the owning source name.
func (t *Tracker) Source() string {
	return t.cfg.Source
}

func (t *Tracker) exhausted() bool {
	return t.cfg.DailyLimit > 0 && t.dailyCount >= t.cfg.DailyLimit
}

// rollover resets the daily counter on the first call after the reset date.
func (t *Tracker) rollover(now time.Time) {
	if t.resetDate.IsZero() {
		t.resetDate = nextMidnight(now, t.cfg.Location)
		return
	}
	if now.Before(t.resetDate) {
		return
	}
	if t.dailyCount > 0 {
		zap.L().Debug("quota: daily counter reset",
			zap.String("source", t.cfg.Source),
			zap.Int("previous_count", t.dailyCount),
		)
	}
	t.dailyCount = 0
	t.resetDate = nextMidnight(now, t.cfg.Location)
}

func (t *Tracker) publish(now time.Time) {
	resetDate := t.resetDate
	if resetDate.IsZero() {
		resetDate = nextMidnight(now, t.cfg.Location)
	}
	state := StateAvailable
	if t.exhausted() {
		state = StateExhausted
	}
	t.snap.Store(&Snapshot{
		Source:      t.cfg.Source,
		State:       state,
		DailyCount:  t.dailyCount,
		DailyLimit:  t.cfg.DailyLimit,
		LastCall:    t.lastCall,
		MinInterval: t.cfg.MinInterval,
		ResetDate:   resetDate,
	})
}

func nextMidnight(now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)
	y, m, d := local.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, loc)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
