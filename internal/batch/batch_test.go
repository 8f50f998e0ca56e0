package batch

import (
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/tether/internal/clock"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type recorder struct {
	mu      sync.Mutex
	flushes map[string][][]string
}

func newRecorder() *recorder {
	return &recorder{flushes: make(map[string][][]string)}
}

func (r *recorder) flush(key string, items []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushes[key] = append(r.flushes[key], items)
}

func (r *recorder) get(key string) [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flushes[key]
}

func TestBatcher_CoalescesWithinWindow(t *testing.T) {
	c := clock.Fake(epoch)
	rec := newRecorder()
	b := New(DefaultDelay, c, rec.flush)

	b.Add("s1", "Bash")
	c.Advance(500 * time.Millisecond)
	b.Add("s1", "Read")
	c.Advance(500 * time.Millisecond)
	b.Add("s1", "Write")

	if got := rec.get("s1"); len(got) != 0 {
		t.Fatalf("flushed early: %v", got)
	}

	c.Advance(time.Second)
	got := rec.get("s1")
	if len(got) != 1 {
		t.Fatalf("got %d flushes, want exactly 1", len(got))
	}
	want := []string{"Bash", "Read", "Write"}
	for i, item := range want {
		if got[0][i] != item {
			t.Errorf("item %d = %q, want %q", i, got[0][i], item)
		}
	}

	c.Advance(time.Minute)
	if len(rec.get("s1")) != 1 {
		t.Error("window flushed more than once")
	}
}

func TestBatcher_NewWindowAfterFlush(t *testing.T) {
	c := clock.Fake(epoch)
	rec := newRecorder()
	b := New(time.Second, c, rec.flush)

	b.Add("s1", "a")
	c.Advance(time.Second)
	b.Add("s1", "b")
	c.Advance(time.Second)

	got := rec.get("s1")
	if len(got) != 2 || got[0][0] != "a" || got[1][0] != "b" {
		t.Errorf("flushes = %v, want [[a] [b]]", got)
	}
}

func TestBatcher_ExplicitFlushCancelsTimer(t *testing.T) {
	c := clock.Fake(epoch)
	rec := newRecorder()
	b := New(time.Second, c, rec.flush)

	b.Add("s1", "a")
	b.Add("s1", "b")

	items := b.Flush("s1")
	if len(items) != 2 || items[0] != "a" || items[1] != "b" {
		t.Fatalf("Flush() = %v", items)
	}
	if c.PendingCount() != 0 {
		t.Errorf("PendingCount() = %d, flush timer should be stopped", c.PendingCount())
	}

	c.Advance(time.Minute)
	if len(rec.get("s1")) != 0 {
		t.Error("explicitly flushed window was delivered again")
	}
	if b.Flush("s1") != nil {
		t.Error("second Flush() should return nil")
	}
}

func TestBatcher_KeysIndependent(t *testing.T) {
	c := clock.Fake(epoch)
	rec := newRecorder()
	b := New(time.Second, c, rec.flush)

	b.Add("s1", "a")
	c.Advance(600 * time.Millisecond)
	b.Add("s2", "b")
	c.Advance(600 * time.Millisecond)

	if len(rec.get("s1")) != 1 {
		t.Error("s1 should have flushed")
	}
	if len(rec.get("s2")) != 0 {
		t.Error("s2 window is still open")
	}
	if b.Pending("s2") != 1 {
		t.Errorf("Pending(s2) = %d", b.Pending("s2"))
	}
}

func TestBatcher_CancelAndStop(t *testing.T) {
	c := clock.Fake(epoch)
	rec := newRecorder()
	b := New(time.Second, c, rec.flush)

	b.Add("s1", "a")
	b.Add("s2", "b")
	b.Cancel("s1")
	b.Stop()
	c.Advance(time.Minute)

	if len(rec.get("s1"))+len(rec.get("s2")) != 0 {
		t.Error("cancelled windows were delivered")
	}
	if c.PendingCount() != 0 {
		t.Errorf("PendingCount() = %d after Stop", c.PendingCount())
	}
}

func TestBatcher_RealClock(t *testing.T) {
	done := make(chan []string, 1)
	b := New(10*time.Millisecond, nil, func(key string, items []string) { done <- items })

	b.Add("s1", "a")
	b.Add("s1", "b")

	select {
	case items := <-done:
		if len(items) != 2 {
			t.Errorf("items = %v", items)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("real-clock flush never fired")
	}
}
