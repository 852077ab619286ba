package core

import (
	"sort"
	"sync"
	"time"
)

// Clock abstracts time for the correlation registry so timeout behavior
// can be driven deterministically in tests. The default implementation
// delegates to the time package.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// AfterFunc arms fn to run once d has elapsed.
	AfterFunc(d time.Duration, fn func()) Timer
}

// Timer is the cancellation handle returned by Clock.AfterFunc. Stop
// reports whether it prevented the function from running.
type Timer interface {
	Stop() bool
}

// systemClock is the wall-clock default.
type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// ManualClock is a Clock whose timers fire only from explicit Advance
// calls. It makes every timeout race reproducible: a test registers a
// request, advances the clock past the limit, and observes the rejection
// without sleeping.
type ManualClock struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers []*manualTimer
}

// NewManualClock returns a clock frozen at the current wall time. Time
// moves only through Advance.
func NewManualClock() *ManualClock {
	return &ManualClock{now: time.Now()}
}

// Now returns the clock's current frozen time.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc schedules fn at now+d. A non-positive d fires on the next
// Advance call, not immediately.
func (c *ManualClock) AfterFunc(d time.Duration, fn func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &manualTimer{
		clock: c,
		when:  c.now.Add(d),
		seq:   c.seq,
		fn:    fn,
	}
	c.timers = append(c.timers, t)
	return t
}

// Pending returns how many timers are armed and not yet fired.
func (c *ManualClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.fired && !t.stopped {
			n++
		}
	}
	return n
}

// Advance moves the clock forward by d and fires every timer whose
// deadline has been reached, in deadline order (arming order breaks
// ties). Callbacks run outside the clock's lock, so a callback may
// re-enter the clock or the registry without deadlocking.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	deadline := c.now

	var due []*manualTimer
	remaining := c.timers[:0]
	for _, t := range c.timers {
		if !t.fired && !t.stopped && !t.when.After(deadline) {
			t.fired = true
			due = append(due, t)
		} else if !t.fired && !t.stopped {
			remaining = append(remaining, t)
		}
	}
	c.timers = remaining
	sort.Slice(due, func(i, j int) bool {
		if due[i].when.Equal(due[j].when) {
			return due[i].seq < due[j].seq
		}
		return due[i].when.Before(due[j].when)
	})
	c.mu.Unlock()

	for _, t := range due {
		t.fn()
	}
}

// manualTimer's fired/stopped flags are guarded by the owning clock's
// mutex. A timer marked fired inside Advance is committed: Stop can no
// longer prevent the callback.
type manualTimer struct {
	clock   *ManualClock
	when    time.Time
	seq     int
	fn      func()
	fired   bool
	stopped bool
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}
