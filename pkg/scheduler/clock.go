package scheduler

import (
	"sort"
	"time"

	"github.com/sasha-s/go-deadlock"
)

// Timer is a pending call created by a Clock.
type Timer interface {
	// Stop prevents the call from happening. It returns false if the call
	// already happened or the timer was already stopped.
	Stop() bool
}

// Clock is the time source the registry schedules against.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

// RealClock returns a Clock backed by the time package. Each firing runs in
// its own goroutine.
func RealClock() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// FakeClock is a manually advanced Clock. Timers only fire from within
// Advance, synchronously and in deadline order, which makes it suitable for
// driving scheduled tasks in tests.
type FakeClock struct {
	mutex  deadlock.Mutex
	now    time.Time
	seq    uint64
	timers []*fakeTimer
}

var _ Clock = (*FakeClock)(nil)

type fakeTimer struct {
	clock *FakeClock
	when  time.Time
	seq   uint64
	f     func()
}

func NewFakeClock() *FakeClock {
	return &FakeClock{
		now: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (c *FakeClock) Now() time.Time {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.now
}

func (c *FakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.seq++
	t := &fakeTimer{
		clock: c,
		when:  c.now.Add(d),
		seq:   c.seq,
		f:     f,
	}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	c := t.clock
	c.mutex.Lock()
	defer c.mutex.Unlock()

	for i, other := range c.timers {
		if other == t {
			c.timers = append(c.timers[:i], c.timers[i+1:]...)
			return true
		}
	}
	return false
}

// Pending returns the number of timers that have not fired or been stopped.
func (c *FakeClock) Pending() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.timers)
}

// next removes and returns the earliest timer due at or before target.
func (c *FakeClock) next(target time.Time) *fakeTimer {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if len(c.timers) == 0 {
		return nil
	}

	sort.SliceStable(c.timers, func(i, j int) bool {
		a, b := c.timers[i], c.timers[j]
		if a.when.Equal(b.when) {
			return a.seq < b.seq
		}
		return a.when.Before(b.when)
	})

	t := c.timers[0]
	if t.when.After(target) {
		return nil
	}

	c.timers = c.timers[1:]
	if t.when.After(c.now) {
		c.now = t.when
	}
	return t
}

// Advance moves the clock forward by d, firing every timer that comes due
// along the way. Timers created by those callbacks fire too if they fall
// inside the window.
func (c *FakeClock) Advance(d time.Duration) {
	target := c.Now().Add(d)

	for {
		t := c.next(target)
		if t == nil {
			break
		}
		t.f()
	}

	c.mutex.Lock()
	c.now = target
	c.mutex.Unlock()
}
