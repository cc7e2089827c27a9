package service

import (
	"fmt"
	"sync"
	"time"
)

// Countdown drives the exam clock for one UI instance. It is either Idle or
// Running against a single absolute end time; starting a new run always stops
// the previous one first, so two timers never tick for the same instance.
type Countdown struct {
	// emit is held while onTick runs, so Stop and Start return only after
	// any tick of the old run has been delivered. onTick must not call them.
	emit sync.Mutex

	mu       sync.Mutex
	interval time.Duration
	now      func() time.Time

	gen  uint64
	stop chan struct{}
	run  *countdownRun
}

type countdownRun struct {
	gen      uint64
	endTime  time.Time
	onTick   func(remaining string)
	onExpire func()
	expired  bool
}

// NewCountdown returns an idle countdown ticking once per second.
func NewCountdown() *Countdown {
	return &Countdown{interval: time.Second, now: time.Now}
}

// Start enters Running for endTime. onTick receives the formatted remaining
// time on every tick; onExpire is invoked exactly once when time runs out.
func (c *Countdown) Start(endTime time.Time, onTick func(remaining string), onExpire func()) {
	c.emit.Lock()
	c.mu.Lock()
	c.stopLocked()

	c.gen++
	stop := make(chan struct{})
	run := &countdownRun{gen: c.gen, endTime: endTime, onTick: onTick, onExpire: onExpire}
	c.stop = stop
	c.run = run
	interval := c.interval
	c.mu.Unlock()
	c.emit.Unlock()

	// Report immediately so a restored session shows its clock without waiting a tick.
	if !c.tick(run) {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if !c.tick(run) {
					return
				}
			}
		}
	}()
}

// Stop returns the countdown to Idle. It is safe to call when already idle.
func (c *Countdown) Stop() {
	c.emit.Lock()
	defer c.emit.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

// Running reports whether a timer is active.
func (c *Countdown) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.run != nil
}

func (c *Countdown) stopLocked() {
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
	c.run = nil
}

// tick evaluates one clock step for run and reports whether ticking should continue.
// onExpire runs after emit is released so it may stop or restart the countdown.
func (c *Countdown) tick(run *countdownRun) bool {
	c.emit.Lock()
	c.mu.Lock()
	if c.run != run || run.expired {
		c.mu.Unlock()
		c.emit.Unlock()
		return false
	}

	remaining := run.endTime.Sub(c.now())
	if remaining > 0 {
		c.mu.Unlock()
		if run.onTick != nil {
			run.onTick(FormatRemaining(remaining))
		}
		c.emit.Unlock()
		return true
	}

	run.expired = true
	c.stopLocked()
	c.mu.Unlock()

	if run.onTick != nil {
		run.onTick(FormatRemaining(0))
	}
	c.emit.Unlock()

	if run.onExpire != nil {
		run.onExpire()
	}
	return false
}

// FormatRemaining renders a duration as minutes:seconds with two-digit seconds.
// Non-positive durations render as "0:00".
func FormatRemaining(d time.Duration) string {
	if d <= 0 {
		return "0:00"
	}
	ms := d.Milliseconds()
	mins := ms / 60000
	secs := (ms % 60000) / 1000
	return fmt.Sprintf("%d:%02d", mins, secs)
}
