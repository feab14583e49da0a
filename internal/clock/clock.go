// Package clock abstracts time for the timer-driven parts of the
// daemon (scheduler loops, session monitor, flush intervals) so tests
// can drive them deterministically with a fake clock.
package clock

import "time"

// Clock provides the time operations used by the scheduler, bot
// manager, and transcript flush loops. Production code uses Real();
// tests use NewFake() and advance time explicitly.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives once d has elapsed.
	After(d time.Duration) <-chan time.Time

	// NewTicker returns a Ticker delivering ticks every d. Panics if
	// d <= 0, matching time.NewTicker.
	NewTicker(d time.Duration) *Ticker

	// Sleep blocks the calling goroutine for at least d.
	Sleep(d time.Duration)
}

// Ticker wraps a periodic timer. Read ticks from C and call Stop when
// done. C has capacity 1; ticks are dropped, not queued, when the
// consumer falls behind.
type Ticker struct {
	C <-chan time.Time

	stop func()
}

// Stop turns the ticker off. No more ticks arrive on C after Stop
// returns. Stop does not close C.
func (t *Ticker) Stop() { t.stop() }
