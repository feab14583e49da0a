package clock

import (
	"sort"
	"sync"
	"time"
)

// NewFake returns a FakeClock pinned to initial. Time only moves when
// Advance is called; pending timers and tickers whose deadlines fall
// within the advanced window fire in deadline order.
func NewFake(initial time.Time) *FakeClock {
	fc := &FakeClock{now: initial}
	fc.changed = sync.NewCond(&fc.mu)
	return fc
}

// FakeClock is a deterministic Clock for tests. Safe for concurrent
// use.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	timers  []*fakeTimer
	changed *sync.Cond
}

type fakeTimer struct {
	deadline time.Time
	ch       chan time.Time
	interval time.Duration // non-zero for tickers
	stopped  bool
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After returns a channel that receives once the clock advances past
// now+d. A non-positive d fires immediately.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.timers = append(c.timers, &fakeTimer{deadline: c.now.Add(d), ch: ch})
	c.changed.Broadcast()
	return ch
}

// NewTicker returns a ticker firing once per interval of advanced
// time. Panics if d <= 0.
func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	ft := &fakeTimer{deadline: c.now.Add(d), ch: ch, interval: d}
	c.timers = append(c.timers, ft)
	c.changed.Broadcast()

	return &Ticker{
		C: ch,
		stop: func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			ft.stopped = true
		},
	}
}

// Sleep blocks until the clock advances past now+d.
func (c *FakeClock) Sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	<-c.After(d)
}

// Advance moves the clock forward by d and fires every pending timer
// and ticker whose deadline falls inside the window. Channel sends are
// non-blocking, matching time.Ticker's drop-if-full behavior.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	target := c.now
	c.mu.Unlock()

	for {
		expired := c.takeExpired(target)
		if len(expired) == 0 {
			return
		}
		sort.Slice(expired, func(i, j int) bool {
			return expired[i].deadline.Before(expired[j].deadline)
		})
		for _, ft := range expired {
			select {
			case ft.ch <- target:
			default:
			}
		}
	}
}

// BlockUntilTimers waits until at least n timers or tickers are
// registered. Call it before Advance to avoid racing a goroutine that
// is still setting up its ticker.
func (c *FakeClock) BlockUntilTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.activeLocked() < n {
		c.changed.Wait()
	}
}

func (c *FakeClock) activeLocked() int {
	n := 0
	for _, ft := range c.timers {
		if !ft.stopped {
			n++
		}
	}
	return n
}

// takeExpired removes timers due at or before target, rescheduling
// tickers for their next interval.
func (c *FakeClock) takeExpired(target time.Time) []*fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expired, remaining []*fakeTimer
	for _, ft := range c.timers {
		if ft.stopped {
			continue
		}
		if !ft.deadline.After(target) {
			expired = append(expired, ft)
		} else {
			remaining = append(remaining, ft)
		}
	}
	for _, ft := range expired {
		if ft.interval > 0 {
			ft.deadline = ft.deadline.Add(ft.interval)
			remaining = append(remaining, ft)
		}
	}
	c.timers = remaining
	return expired
}
