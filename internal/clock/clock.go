// Package clock provides the countdown driving timed practice sessions.
package clock

import (
	"sync"
	"time"
)

// Countdown measures elapsed wall time against a fixed deadline instead of
// decrementing a counter per tick. A process that was suspended or
// backgrounded therefore accounts for the missed time on the next tick
// rather than under-counting.
//
// Tick fires at the configured cadence with the whole seconds remaining.
// Expired fires exactly once when the deadline passes, even if ticks keep
// arriving or Stop races the final tick.
type Countdown struct {
	interval time.Duration
	deadline time.Time
	now      func() time.Time

	onTick    func(remainingSeconds int)
	onExpired func()

	expireOnce sync.Once
	stopOnce   sync.Once
	stop       chan struct{}
	done       chan struct{}
}

// Config holds the options for New.
type Config struct {
	Limit    time.Duration
	Interval time.Duration            // tick cadence, defaults to 1s
	Now      func() time.Time         // injectable for tests, defaults to time.Now
	OnTick   func(remainingSeconds int)
	OnExpire func()
}

// New creates a countdown; Start must be called to begin ticking.
func New(cfg Config) *Countdown {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	c := &Countdown{
		interval:  cfg.Interval,
		now:       cfg.Now,
		onTick:    cfg.OnTick,
		onExpired: cfg.OnExpire,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	c.deadline = cfg.Now().Add(cfg.Limit)
	return c
}

// NewAt creates a countdown against an absolute deadline. Used on resume so
// the limit keeps counting from the original start, not from the reload.
func NewAt(deadline time.Time, cfg Config) *Countdown {
	c := New(cfg)
	c.deadline = deadline
	return c
}

// Remaining returns the whole seconds left, never negative.
func (c *Countdown) Remaining() int {
	rem := c.deadline.Sub(c.now())
	if rem < 0 {
		rem = 0
	}
	// Round up so a session with 0.5s left still reports 1.
	return int((rem + time.Second - 1) / time.Second)
}

// Deadline returns the absolute expiry instant.
func (c *Countdown) Deadline() time.Time {
	return c.deadline
}

// Start begins the tick loop in its own goroutine.
func (c *Countdown) Start() {
	go c.run()
}

func (c *Countdown) run() {
	defer close(c.done)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			rem := c.Remaining()
			if c.onTick != nil {
				c.onTick(rem)
			}
			if rem == 0 {
				c.fireExpired()
				return
			}
		}
	}
}

// fireExpired delivers the expiry callback at most once.
func (c *Countdown) fireExpired() {
	c.expireOnce.Do(func() {
		if c.onExpired != nil {
			c.onExpired()
		}
	})
}

// Stop halts the tick loop. Idempotent; safe to call from any goroutine.
// It does not fire Expired.
func (c *Countdown) Stop() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

// CheckNow evaluates the deadline immediately, firing Tick and possibly
// Expired without waiting for the next cadence tick. Called after a resume
// so a countdown that ran out while the process was down expires right away.
func (c *Countdown) CheckNow() {
	rem := c.Remaining()
	if c.onTick != nil {
		c.onTick(rem)
	}
	if rem == 0 {
		c.fireExpired()
		c.Stop()
	}
}
