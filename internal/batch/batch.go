// Package batch coalesces bursts of notifications into one message per
// key and window.
package batch

import (
	"sync"
	"time"

	"github.com/Iron-Ham/tether/internal/clock"
)

// DefaultDelay is the coalescing window used when none is configured.
const DefaultDelay = 1500 * time.Millisecond

// FlushFunc receives the items of a window when its delay elapses.
type FlushFunc[T any] func(key string, items []T)

type window[T any] struct {
	items []T
	timer *clock.Timer
}

// Batcher buffers items per key. The first Add to an empty key schedules a
// flush after the delay; later Adds join the same window. Each window is
// delivered exactly once, either to the FlushFunc when the delay elapses or
// to the caller of Flush, whichever happens first. It is safe for
// concurrent use.
type Batcher[T any] struct {
	mu      sync.Mutex
	clock   clock.Clock
	delay   time.Duration
	onFlush FlushFunc[T]
	windows map[string]*window[T]
}

// New creates a Batcher. A nil clock uses the real clock.
func New[T any](delay time.Duration, c clock.Clock, onFlush FlushFunc[T]) *Batcher[T] {
	if c == nil {
		c = clock.Real()
	}
	return &Batcher[T]{
		clock:   c,
		delay:   delay,
		onFlush: onFlush,
		windows: make(map[string]*window[T]),
	}
}

// Add appends item to key's window, opening the window if needed.
func (b *Batcher[T]) Add(key string, item T) {
	b.mu.Lock()
	w, ok := b.windows[key]
	if ok {
		w.items = append(w.items, item)
		b.mu.Unlock()
		return
	}
	w = &window[T]{items: []T{item}}
	b.windows[key] = w
	b.mu.Unlock()

	// Scheduled outside the lock: the fake clock runs non-positive delays inline.
	timer := b.clock.AfterFunc(b.delay, func() { b.expire(key, w) })

	b.mu.Lock()
	if b.windows[key] == w {
		w.timer = timer
	}
	b.mu.Unlock()
}

func (b *Batcher[T]) expire(key string, w *window[T]) {
	b.mu.Lock()
	if b.windows[key] != w {
		b.mu.Unlock()
		return
	}
	delete(b.windows, key)
	items := w.items
	b.mu.Unlock()

	if b.onFlush != nil && len(items) > 0 {
		b.onFlush(key, items)
	}
}

// Flush closes key's window early, cancelling its scheduled flush, and
// returns the buffered items in insertion order. It returns nil if nothing
// is buffered.
func (b *Batcher[T]) Flush(key string) []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	w, ok := b.windows[key]
	if !ok {
		return nil
	}
	delete(b.windows, key)
	w.timer.Stop()
	if len(w.items) == 0 {
		return nil
	}
	return w.items
}

// Cancel discards key's window without delivering it.
func (b *Batcher[T]) Cancel(key string) {
	_ = b.Flush(key)
}

// Pending returns the number of items buffered for key.
func (b *Batcher[T]) Pending(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if w, ok := b.windows[key]; ok {
		return len(w.items)
	}
	return 0
}

// Stop cancels every scheduled flush and drops all buffered items.
func (b *Batcher[T]) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for key, w := range b.windows {
		w.timer.Stop()
		delete(b.windows, key)
	}
}
