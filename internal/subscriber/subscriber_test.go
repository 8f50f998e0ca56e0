package subscriber_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/tether/internal/approval"
	"github.com/Iron-Ham/tether/internal/clock"
	"github.com/Iron-Ham/tether/internal/errors"
	"github.com/Iron-Ham/tether/internal/event"
	"github.com/Iron-Ham/tether/internal/subscriber"
)

// --- Mock implementations ------------------------------------------------

type mockRouter struct {
	mu    sync.Mutex
	calls []string

	// block, when set, holds RouteOutput calls for that session until
	// release is closed.
	block   string
	release chan struct{}

	outputErr error
	panicOn   string

	// onRemove runs before RouteRemoved records its call.
	onRemove func()
}

func (m *mockRouter) record(format string, args ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, fmt.Sprintf(format, args...))
}

func (m *mockRouter) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *mockRouter) RouteOutput(_ context.Context, sessionID, text string, final bool, hint string) error {
	if sessionID == m.block {
		<-m.release
	}
	if text == m.panicOn && text != "" {
		panic("boom")
	}
	m.record("output %s %q final=%v hint=%s", sessionID, text, final, hint)
	m.mu.Lock()
	defer m.mu.Unlock()
	err := m.outputErr
	m.outputErr = nil
	return err
}

func (m *mockRouter) RouteApproval(_ context.Context, req approval.Request, hint string) error {
	m.record("approval %s %s %s hint=%s", req.SessionID, req.ID, req.ToolName, hint)
	return nil
}

func (m *mockRouter) RouteStatus(_ context.Context, sessionID, status, message, hint string) error {
	m.record("status %s %s %q", sessionID, status, message)
	return nil
}

func (m *mockRouter) RouteTyping(_ context.Context, sessionID, hint string) error {
	m.record("typing %s", sessionID)
	return nil
}

func (m *mockRouter) RouteTypingStopped(sessionID string) {
	m.record("typing-stopped %s", sessionID)
}

func (m *mockRouter) RouteExit(_ context.Context, sessionID string, exitCode int, hint string) error {
	m.record("exit %s %d", sessionID, exitCode)
	return nil
}

func (m *mockRouter) RouteRemoved(_ context.Context, sessionID string) error {
	if m.onRemove != nil {
		m.onRemove()
	}
	m.record("removed %s", sessionID)
	return nil
}

func newSubscriber(t *testing.T, cfg subscriber.Config) (*subscriber.Subscriber, *mockRouter, *clock.FakeClock) {
	t.Helper()
	r := &mockRouter{}
	fc := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	s := subscriber.New(r, subscriber.WithConfig(cfg), subscriber.WithClock(fc))
	t.Cleanup(s.Close)
	return s, r, fc
}

func wait(t *testing.T, s *subscriber.Subscriber, sessionID string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Wait(ctx, sessionID); err != nil {
		t.Fatalf("Wait(%s) error = %v", sessionID, err)
	}
}

func enqueue(t *testing.T, s *subscriber.Subscriber, events ...event.SessionEvent) {
	t.Helper()
	for _, e := range events {
		if err := s.Enqueue(e); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}
}

func assertCalls(t *testing.T, got []string, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("calls = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("call[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

// --- Tests ---------------------------------------------------------------

func TestOutput_FlushesAfterDelay(t *testing.T) {
	s, r, fc := newSubscriber(t, subscriber.DefaultConfig())

	enqueue(t, s, event.NewOutputEvent("s1", "Hello, ", false), event.NewOutputEvent("s1", "world", false))
	wait(t, s, "s1")
	if calls := r.Calls(); len(calls) != 0 {
		t.Fatalf("output sent before delay: %q", calls)
	}
	if fc.PendingCount() != 1 {
		t.Fatalf("pending timers = %d, want 1", fc.PendingCount())
	}

	fc.Advance(2 * time.Second)
	wait(t, s, "s1")
	assertCalls(t, r.Calls(), `output s1 "Hello, world" final=false hint=`)
}

func TestOutput_FlushesAtMaxChars(t *testing.T) {
	s, r, fc := newSubscriber(t, subscriber.Config{OutputFlushMaxChars: 5})

	enqueue(t, s, event.NewOutputEvent("s1", "abc", false), event.NewOutputEvent("s1", "def", false))
	wait(t, s, "s1")
	assertCalls(t, r.Calls(), `output s1 "abcdef" final=false hint=`)
	if fc.PendingCount() != 0 {
		t.Errorf("pending timers = %d, want 0 after size flush", fc.PendingCount())
	}
}

func TestOutput_FinalJoinsBuffer(t *testing.T) {
	s, r, fc := newSubscriber(t, subscriber.DefaultConfig())

	enqueue(t, s, event.NewOutputEvent("s1", "part one, ", false), event.NewOutputEvent("s1", "part two", true))
	wait(t, s, "s1")
	assertCalls(t, r.Calls(), `output s1 "part one, part two" final=true hint=`)

	fc.Advance(5 * time.Second)
	wait(t, s, "s1")
	if n := len(r.Calls()); n != 1 {
		t.Errorf("calls after delay = %d, want 1", n)
	}
}

func TestEvents_FlushOutputFirst(t *testing.T) {
	s, r, _ := newSubscriber(t, subscriber.DefaultConfig())

	enqueue(t, s,
		event.NewOutputEvent("s1", "reading", false),
		event.NewPermissionRequestEvent("s1", "r1", "Bash", map[string]any{"command": "ls"}),
		event.NewOutputEvent("s1", "failed", false),
		event.NewErrorEvent("s1", "disk full"),
		event.NewOutputEvent("s1", "bye", false),
		event.NewExitEvent("s1", 2),
	)
	wait(t, s, "s1")
	assertCalls(t, r.Calls(),
		`output s1 "reading" final=false hint=`,
		"approval s1 r1 Bash hint=",
		`output s1 "failed" final=false hint=`,
		`status s1 error "disk full"`,
		`output s1 "bye" final=false hint=`,
		"exit s1 2",
	)
}

func TestState_Mapping(t *testing.T) {
	s, r, _ := newSubscriber(t, subscriber.DefaultConfig())

	enqueue(t, s,
		event.NewSessionStateEvent("s1", event.StateRunning),
		event.NewOutputEvent("s1", "thinking", false),
		event.NewSessionStateEvent("s1", event.StateAwaitingInput),
		event.NewSessionStateEvent("s1", event.StateError),
		event.NewSessionStateEvent("s1", event.StateIdle),
	)
	wait(t, s, "s1")
	assertCalls(t, r.Calls(),
		"typing s1",
		`output s1 "thinking" final=false hint=`,
		"typing-stopped s1",
		"typing-stopped s1",
		`status s1 error ""`,
		"typing-stopped s1",
	)
}

func TestHistory_Skipped(t *testing.T) {
	s, r, _ := newSubscriber(t, subscriber.DefaultConfig())

	enqueue(t, s, event.AsHistory(event.NewOutputEvent("s1", "old", true)))
	if s.Sessions() != 0 {
		t.Error("history event started a worker")
	}
	enqueue(t, s, event.NewOutputEvent("s1", "new", true))
	wait(t, s, "s1")
	assertCalls(t, r.Calls(), `output s1 "new" final=true hint=`)
}

func TestSubscribe_PlatformHint(t *testing.T) {
	s, r, _ := newSubscriber(t, subscriber.DefaultConfig())

	if err := s.Subscribe("s1", "discord"); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	enqueue(t, s,
		event.NewOutputEvent("s1", "hi", true),
		event.NewPermissionRequestEvent("s1", "r1", "Read", nil),
	)
	wait(t, s, "s1")
	assertCalls(t, r.Calls(),
		`output s1 "hi" final=true hint=discord`,
		"approval s1 r1 Read hint=discord",
	)
}

func TestOrdering_PerSessionWithCrossSessionProgress(t *testing.T) {
	s, r, _ := newSubscriber(t, subscriber.DefaultConfig())
	r.block = "s1"
	r.release = make(chan struct{})

	for i := range 5 {
		enqueue(t, s, event.NewOutputEvent("s1", fmt.Sprintf("m%d", i), true))
	}
	enqueue(t, s, event.NewOutputEvent("s2", "other", true))

	// s2 progresses while s1 is stuck in its first route call.
	wait(t, s, "s2")
	assertCalls(t, r.Calls(), `output s2 "other" final=true hint=`)

	close(r.release)
	wait(t, s, "s1")

	var s1 []string
	for _, c := range r.Calls() {
		if strings.HasPrefix(c, "output s1") {
			s1 = append(s1, c)
		}
	}
	for i := range 5 {
		want := fmt.Sprintf(`output s1 "m%d" final=true hint=`, i)
		if i >= len(s1) || s1[i] != want {
			t.Fatalf("s1 calls = %q, want m0..m4 in order", s1)
		}
	}
}

func TestRouteFailure_DoesNotStopWorker(t *testing.T) {
	s, r, _ := newSubscriber(t, subscriber.DefaultConfig())
	r.outputErr = errors.New("platform down")

	enqueue(t, s, event.NewOutputEvent("s1", "first", true), event.NewOutputEvent("s1", "second", true))
	wait(t, s, "s1")
	assertCalls(t, r.Calls(),
		`output s1 "first" final=true hint=`,
		`output s1 "second" final=true hint=`,
	)
}

func TestPanic_DoesNotStopWorker(t *testing.T) {
	s, r, _ := newSubscriber(t, subscriber.DefaultConfig())
	r.panicOn = "explode"

	enqueue(t, s, event.NewOutputEvent("s1", "explode", true), event.NewOutputEvent("s1", "after", true))
	wait(t, s, "s1")
	assertCalls(t, r.Calls(), `output s1 "after" final=true hint=`)
}

func TestUnsubscribe_FlushesAndRemoves(t *testing.T) {
	s, r, fc := newSubscriber(t, subscriber.DefaultConfig())

	enqueue(t, s, event.NewOutputEvent("s1", "partial", false))
	if err := s.Unsubscribe(context.Background(), "s1"); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	assertCalls(t, r.Calls(), `output s1 "partial" final=false hint=`, "removed s1")
	if s.Sessions() != 0 {
		t.Errorf("Sessions() = %d, want 0", s.Sessions())
	}
	if fc.PendingCount() != 0 {
		t.Errorf("pending timers = %d, want 0", fc.PendingCount())
	}

	// Unknown sessions are still removed downstream.
	if err := s.Unsubscribe(context.Background(), "s9"); err != nil {
		t.Fatalf("Unsubscribe(unknown) error = %v", err)
	}
	if calls := r.Calls(); calls[len(calls)-1] != "removed s9" {
		t.Errorf("last call = %q", calls[len(calls)-1])
	}
}

func TestUnsubscribe_EventsDuringRemovalRunAfterIt(t *testing.T) {
	s, r, _ := newSubscriber(t, subscriber.DefaultConfig())
	entered := make(chan struct{})
	release := make(chan struct{})
	r.onRemove = func() {
		close(entered)
		<-release
	}

	enqueue(t, s, event.NewOutputEvent("s1", "before", true))
	errc := make(chan error, 1)
	go func() { errc <- s.Unsubscribe(context.Background(), "s1") }()
	<-entered

	// The removing worker is still registered, so no second worker starts.
	enqueue(t, s, event.NewOutputEvent("s1", "after", true))
	if s.Sessions() != 1 {
		t.Errorf("Sessions() during removal = %d, want 1", s.Sessions())
	}
	close(release)

	if err := <-errc; err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	wait(t, s, "s1")
	assertCalls(t, r.Calls(),
		`output s1 "before" final=true hint=`,
		"removed s1",
		`output s1 "after" final=true hint=`,
	)
	if s.Sessions() != 1 {
		t.Errorf("Sessions() after removal = %d, want 1", s.Sessions())
	}
}

func TestAttach_Bus(t *testing.T) {
	s, r, _ := newSubscriber(t, subscriber.DefaultConfig())
	bus := event.NewBus()

	if err := s.Attach(bus); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	if err := s.Attach(bus); err == nil {
		t.Error("second Attach() should fail")
	}

	bus.Publish(event.NewOutputEvent("s1", "from bus", true))
	bus.Publish(event.NewExitEvent("s1", 0))
	wait(t, s, "s1")
	assertCalls(t, r.Calls(), `output s1 "from bus" final=true hint=`, "exit s1 0")

	s.Close()
	if bus.SubscriptionCount() != 0 {
		t.Errorf("subscriptions after Close = %d, want 0", bus.SubscriptionCount())
	}
}

func TestClose_FlushesAndRejects(t *testing.T) {
	s, r, _ := newSubscriber(t, subscriber.DefaultConfig())

	enqueue(t, s, event.NewOutputEvent("s1", "pending", false), event.NewOutputEvent("s2", "also", false))
	s.Close()

	calls := r.Calls()
	if len(calls) != 2 {
		t.Fatalf("calls after Close = %q, want both buffers flushed", calls)
	}
	if err := s.Enqueue(event.NewOutputEvent("s1", "late", true)); !errors.Is(err, subscriber.ErrClosed) {
		t.Errorf("Enqueue after Close = %v, want ErrClosed", err)
	}
	if err := s.Subscribe("s3", ""); !errors.Is(err, subscriber.ErrClosed) {
		t.Errorf("Subscribe after Close = %v, want ErrClosed", err)
	}
	s.Close()
}

func TestWait_UnknownSession(t *testing.T) {
	s, _, _ := newSubscriber(t, subscriber.DefaultConfig())
	if err := s.Wait(context.Background(), "nobody"); err != nil {
		t.Errorf("Wait(unknown) = %v", err)
	}
}
