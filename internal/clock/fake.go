package clock

import (
	"sync"
	"time"
)

// FakeClock is a deterministic Clock. Time moves only when Advance is
// called; AfterFunc callbacks run synchronously inside Advance in
// deadline order. Callbacks must not call Advance.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	waiters []*fakeWaiter
}

type fakeWaiter struct {
	deadline time.Time
	callback func()
	stopped  bool
	fired    bool
}

// Fake returns a FakeClock set to initial.
func Fake(initial time.Time) *FakeClock {
	return &FakeClock{current: initial}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// AfterFunc schedules f to run once the clock has advanced by d. If
// d <= 0, f runs before AfterFunc returns.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	if d <= 0 {
		f()
		return &Timer{stopFunc: func() bool { return false }}
	}

	c.mu.Lock()
	w := &fakeWaiter{deadline: c.current.Add(d), callback: f}
	c.waiters = append(c.waiters, w)
	c.mu.Unlock()

	return &Timer{stopFunc: func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		if w.stopped || w.fired {
			return false
		}
		w.stopped = true
		return true
	}}
}

// Advance moves the clock forward by d and fires every timer whose
// deadline falls within the new time, earliest first. While a callback
// runs the clock reads that timer's deadline, so timers it schedules
// are measured from there, as with a real clock.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.current.Add(d)
	c.mu.Unlock()

	for {
		w := c.popNext(target)
		if w == nil {
			return
		}
		w.callback()
	}
}

// popNext removes the earliest live timer due by target and moves the
// clock to its deadline. With nothing due the clock moves to target.
func (c *FakeClock) popNext(target time.Time) *fakeWaiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := -1
	remaining := c.waiters[:0]
	for _, w := range c.waiters {
		if w.stopped {
			continue
		}
		remaining = append(remaining, w)
	}
	c.waiters = remaining
	for i, w := range c.waiters {
		if w.deadline.After(target) {
			continue
		}
		if next < 0 || w.deadline.Before(c.waiters[next].deadline) {
			next = i
		}
	}
	if next < 0 {
		if c.current.Before(target) {
			c.current = target
		}
		return nil
	}
	w := c.waiters[next]
	c.waiters = append(c.waiters[:next], c.waiters[next+1:]...)
	w.fired = true
	if c.current.Before(w.deadline) {
		c.current = w.deadline
	}
	return w
}

// PendingCount returns the number of timers that are neither stopped
// nor fired.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, w := range c.waiters {
		if !w.stopped {
			n++
		}
	}
	return n
}
