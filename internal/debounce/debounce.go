// Package debounce suppresses repeated error notifications for a session.
package debounce

import (
	"sync"
	"time"

	"github.com/Iron-Ham/tether/internal/clock"
)

type record struct {
	signature string
	at        time.Time
}

// Debouncer remembers the last error notified per session. A repeat of the
// same signature within the window is suppressed; a different signature or
// one arriving after the window goes through. A zero window disables
// suppression. It is safe for concurrent use.
type Debouncer struct {
	mu     sync.Mutex
	clock  clock.Clock
	window time.Duration
	last   map[string]record
}

// New creates a Debouncer. A nil clock uses the real clock.
func New(window time.Duration, c clock.Clock) *Debouncer {
	if c == nil {
		c = clock.Real()
	}
	return &Debouncer{clock: c, window: window, last: make(map[string]record)}
}

// ShouldNotify reports whether an error with signature should be sent for
// sessionID now, and records it if so.
func (d *Debouncer) ShouldNotify(sessionID, signature string) bool {
	now := d.clock.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.window > 0 {
		if prev, ok := d.last[sessionID]; ok && prev.signature == signature && now.Sub(prev.at) <= d.window {
			return false
		}
	}
	d.last[sessionID] = record{signature: signature, at: now}
	return true
}

// Forget drops the record for a session.
func (d *Debouncer) Forget(sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.last, sessionID)
}

// Window returns the configured suppression window.
func (d *Debouncer) Window() time.Duration { return d.window }
