package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManualClockAdvanceFiresInDeadlineOrder(t *testing.T) {
	clock := NewManualClock()
	var order []string
	clock.AfterFunc(30*time.Millisecond, func() { order = append(order, "c") })
	clock.AfterFunc(10*time.Millisecond, func() { order = append(order, "a") })
	clock.AfterFunc(20*time.Millisecond, func() { order = append(order, "b") })

	clock.Advance(25 * time.Millisecond)
	assert.Equal(t, []string{"a", "b"}, order)
	assert.Equal(t, 1, clock.Pending())

	clock.Advance(5 * time.Millisecond)
	assert.Equal(t, []string{"a", "b", "c"}, order)
	assert.Equal(t, 0, clock.Pending())
}

func TestManualClockStop(t *testing.T) {
	clock := NewManualClock()
	fired := false
	timer := clock.AfterFunc(10*time.Millisecond, func() { fired = true })

	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop(), "second stop reports no effect")

	clock.Advance(time.Minute)
	assert.False(t, fired)
	assert.Equal(t, 0, clock.Pending())
}

func TestManualClockStopAfterFire(t *testing.T) {
	clock := NewManualClock()
	timer := clock.AfterFunc(10*time.Millisecond, func() {})
	clock.Advance(10 * time.Millisecond)
	assert.False(t, timer.Stop())
}

func TestManualClockReentrantCallback(t *testing.T) {
	// Callbacks run outside the clock's lock, so re-arming from inside
	// a callback must not deadlock.
	clock := NewManualClock()
	var fired []string
	clock.AfterFunc(10*time.Millisecond, func() {
		fired = append(fired, "first")
		clock.AfterFunc(10*time.Millisecond, func() { fired = append(fired, "second") })
	})

	clock.Advance(10 * time.Millisecond)
	assert.Equal(t, []string{"first"}, fired)

	clock.Advance(10 * time.Millisecond)
	assert.Equal(t, []string{"first", "second"}, fired)
}

func TestManualClockNow(t *testing.T) {
	clock := NewManualClock()
	start := clock.Now()
	clock.Advance(90 * time.Second)
	assert.Equal(t, 90*time.Second, clock.Now().Sub(start))
}
