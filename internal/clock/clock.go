// Package clock abstracts wall-clock time so that timer-driven components
// (auto-approve windows, error debouncing, notification batching, output
// flushing) can be tested deterministically.
//
// Production code uses Real(). Tests use Fake(), which only moves when
// Advance is called and fires scheduled callbacks synchronously.
package clock

import "time"

// Clock is the subset of the time package the bridge needs.
type Clock interface {
	// Now returns the current time. Values returned by the real clock carry
	// a monotonic reading, so Sub and Before/After comparisons between two
	// Now values are immune to wall-clock adjustments.
	Now() time.Time

	// AfterFunc calls f in its own goroutine (real) or synchronously during
	// Advance (fake) once d has elapsed.
	AfterFunc(d time.Duration, f func()) *Timer

	// NewTicker delivers ticks on the returned Ticker's C every d.
	NewTicker(d time.Duration) *Ticker
}

// Timer is a cancellable scheduled callback.
type Timer struct {
	stop func() bool
}

// Stop cancels the timer. It reports whether the call prevented the
// callback from running.
func (t *Timer) Stop() bool {
	if t == nil || t.stop == nil {
		return false
	}
	return t.stop()
}

// Ticker delivers periodic ticks on C. C has capacity 1; ticks are dropped
// when the reader falls behind.
type Ticker struct {
	C <-chan time.Time

	stop func()
}

// Stop turns the ticker off. C is not closed.
func (t *Ticker) Stop() {
	if t == nil || t.stop == nil {
		return
	}
	t.stop()
}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) *Timer {
	t := time.AfterFunc(d, f)
	return &Timer{stop: t.Stop}
}

func (realClock) NewTicker(d time.Duration) *Ticker {
	t := time.NewTicker(d)
	return &Ticker{C: t.C, stop: t.Stop}
}
