package clock

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Clock abstracts wall and monotonic time so components can run against a
// virtual clock in tests.
type Clock interface {
	// Now returns nanoseconds since the Unix epoch.
	Now() int64
	// After returns a channel that fires once d has elapsed.
	After(d time.Duration) <-chan time.Time
}

// Sleep blocks for d on the given clock or until ctx is done.
func Sleep(ctx context.Context, c Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.After(d):
		return nil
	}
}

type realClock struct {
	epoch time.Time
}

// Real returns a clock backed by the runtime. Now is derived from a single
// wall reading plus the monotonic delta, so it never steps backwards.
func Real() Clock {
	return realClock{epoch: time.Now()}
}

func (c realClock) Now() int64 {
	return c.epoch.UnixNano() + int64(time.Since(c.epoch))
}

func (realClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// TestClock is a deterministic clock advanced explicitly by tests.
type TestClock struct {
	mu      sync.Mutex
	now     int64
	waiters []waiter
}

type waiter struct {
	at int64
	ch chan time.Time
}

// NewTestClock creates a clock frozen at start (nanoseconds).
func NewTestClock(start int64) *TestClock {
	return &TestClock{now: start}
}

func (c *TestClock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *TestClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	c.mu.Lock()
	defer c.mu.Unlock()
	at := c.now + int64(d)
	if d <= 0 {
		ch <- time.Unix(0, c.now)
		return ch
	}
	c.waiters = append(c.waiters, waiter{at: at, ch: ch})
	return ch
}

// Advance moves the clock forward and fires every timer that became due.
func (c *TestClock) Advance(d time.Duration) {
	c.Set(c.Now() + int64(d))
}

// Set moves the clock to ts. Moving backwards is ignored.
func (c *TestClock) Set(ts int64) {
	c.mu.Lock()
	if ts < c.now {
		c.mu.Unlock()
		return
	}
	c.now = ts
	sort.Slice(c.waiters, func(i, j int) bool { return c.waiters[i].at < c.waiters[j].at })
	var due []waiter
	keep := c.waiters[:0]
	for _, w := range c.waiters {
		if w.at <= ts {
			due = append(due, w)
			continue
		}
		keep = append(keep, w)
	}
	c.waiters = keep
	c.mu.Unlock()

	for _, w := range due {
		w.ch <- time.Unix(0, ts)
	}
}

// Pending returns the number of timers not yet fired.
func (c *TestClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}
