package manager_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/tether/internal/approval"
	"github.com/Iron-Ham/tether/internal/bridge"
	"github.com/Iron-Ham/tether/internal/errors"
	"github.com/Iron-Ham/tether/internal/event"
	"github.com/Iron-Ham/tether/internal/manager"
	"github.com/Iron-Ham/tether/internal/metrics"
)

// --- Mock implementations ------------------------------------------------

type fakeTransport struct {
	platform string

	mu      sync.Mutex
	threads int
	sent    map[string][]string
}

func newFakeTransport(platform string) *fakeTransport {
	return &fakeTransport{platform: platform, sent: make(map[string][]string)}
}

func (f *fakeTransport) Platform() string { return f.platform }

func (f *fakeTransport) CreateThread(context.Context, string, string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.threads++
	return fmt.Sprintf("%s-%d", f.platform, f.threads), nil
}

func (f *fakeTransport) Send(_ context.Context, threadID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[threadID] = append(f.sent[threadID], text)
	return nil
}

func (f *fakeTransport) Sent(threadID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent[threadID]...)
}

func (f *fakeTransport) ThreadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.threads
}

type recorder struct {
	mu        sync.Mutex
	responses []bridge.PermissionResponse
}

func (r *recorder) callbacks() bridge.Callbacks {
	return bridge.Callbacks{
		SendInput: func(context.Context, string, string) error { return nil },
		RespondToPermission: func(_ context.Context, resp bridge.PermissionResponse) error {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.responses = append(r.responses, resp)
			return nil
		},
	}
}

func (r *recorder) Responses() []bridge.PermissionResponse {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bridge.PermissionResponse(nil), r.responses...)
}

type fixture struct {
	mgr     *manager.Manager
	slack   *fakeTransport
	discord *fakeTransport
	host    *recorder
	metrics *metrics.Metrics
}

func newFixture(t *testing.T, opts ...manager.Option) *fixture {
	t.Helper()
	f := &fixture{
		slack:   newFakeTransport("slack"),
		discord: newFakeTransport("discord"),
		host:    &recorder{},
		metrics: metrics.New(nil),
	}
	opts = append([]manager.Option{manager.WithMetrics(f.metrics)}, opts...)
	f.mgr = manager.New(opts...)
	for _, tr := range []*fakeTransport{f.slack, f.discord} {
		if err := f.mgr.Register(bridge.New(tr, f.host.callbacks())); err != nil {
			t.Fatalf("Register(%s) error = %v", tr.platform, err)
		}
	}
	if err := f.mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(f.mgr.Stop)
	return f
}

func sample(t *testing.T, m *metrics.Metrics, name string) float64 {
	t.Helper()
	samples, err := m.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	for _, s := range samples {
		if s.Name == name {
			return s.Value
		}
	}
	return 0
}

// --- Tests ---------------------------------------------------------------

func TestRegister(t *testing.T) {
	mgr := manager.New()
	cb := (&recorder{}).callbacks()

	if err := mgr.Register(nil); err == nil {
		t.Error("Register(nil) should fail")
	}
	if err := mgr.Register(bridge.New(newFakeTransport("slack"), cb)); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := mgr.Register(bridge.New(newFakeTransport("slack"), cb)); err == nil {
		t.Error("duplicate platform should fail")
	}
	_ = mgr.Register(bridge.New(newFakeTransport("discord"), cb))

	if got := mgr.Platforms(); len(got) != 2 || got[0] != "discord" || got[1] != "slack" {
		t.Errorf("Platforms() = %v", got)
	}
	if _, ok := mgr.Bridge("slack"); !ok {
		t.Error("Bridge(slack) not found")
	}
}

func TestStart_Twice(t *testing.T) {
	f := newFixture(t)
	if err := f.mgr.Start(context.Background()); err == nil {
		t.Error("second Start() should fail")
	}
}

func TestRoute_DefaultPlatform(t *testing.T) {
	f := newFixture(t, manager.WithDefaultPlatform("slack"))

	if err := f.mgr.RouteOutput(context.Background(), "s1", "hello", false, ""); err != nil {
		t.Fatalf("RouteOutput() error = %v", err)
	}
	if got := f.slack.Sent("slack-1"); len(got) != 1 || got[0] != "hello" {
		t.Errorf("slack sent = %v", got)
	}
	if f.discord.ThreadCount() != 0 {
		t.Error("discord should not have created a thread")
	}
	if got := sample(t, f.metrics, `tether_events_routed_total{kind="output",platform="slack"}`); got != 1 {
		t.Errorf("events routed = %v, want 1", got)
	}
}

func TestRoute_HintBeatsDefault(t *testing.T) {
	f := newFixture(t, manager.WithDefaultPlatform("slack"))

	_ = f.mgr.RouteOutput(context.Background(), "s1", "hello", false, "discord")
	if got := f.discord.Sent("discord-1"); len(got) != 1 {
		t.Errorf("discord sent = %v", got)
	}
	if f.slack.ThreadCount() != 0 {
		t.Error("slack should not have created a thread")
	}
}

func TestRoute_BindingBeatsHint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_ = f.mgr.RouteOutput(ctx, "s1", "first", false, "slack")
	_ = f.mgr.RouteOutput(ctx, "s1", "second", false, "discord")

	if got := f.slack.Sent("slack-1"); len(got) != 2 || got[1] != "second" {
		t.Errorf("slack sent = %v", got)
	}
	if f.discord.ThreadCount() != 0 {
		t.Error("bound session leaked to discord")
	}
	core, err := f.mgr.Resolve("s1", "discord")
	if err != nil || core.Platform() != "slack" {
		t.Errorf("Resolve() = %v, %v", core, err)
	}
}

func TestRoute_NoBridge(t *testing.T) {
	f := newFixture(t)

	err := f.mgr.RouteOutput(context.Background(), "s1", "hello", false, "")
	if !errors.Is(err, errors.ErrNoBridgeForSession) {
		t.Fatalf("error = %v, want ErrNoBridgeForSession", err)
	}

	err = f.mgr.RouteStatus(context.Background(), "s1", "thinking", "", "teams")
	var nb *errors.NoBridgeError
	if !errors.As(err, &nb) || nb.PlatformHint != "teams" || nb.SessionID != "s1" {
		t.Fatalf("error = %v, want NoBridgeError with hint", err)
	}
	if got := sample(t, f.metrics, "tether_routing_failures_total"); got != 2 {
		t.Errorf("routing failures = %v, want 2", got)
	}
}

func TestRoute_UnknownDefault(t *testing.T) {
	f := newFixture(t, manager.WithDefaultPlatform("teams"))
	if _, err := f.mgr.Resolve("s1", ""); !errors.Is(err, errors.ErrNoBridgeForSession) {
		t.Errorf("Resolve() error = %v", err)
	}
	f.mgr.SetDefaultPlatform("discord")
	if core, err := f.mgr.Resolve("s1", ""); err != nil || core.Platform() != "discord" {
		t.Errorf("Resolve() after SetDefaultPlatform = %v, %v", core, err)
	}
}

func TestRouteApproval_AndReply(t *testing.T) {
	f := newFixture(t, manager.WithDefaultPlatform("discord"))
	ctx := context.Background()

	req := approval.NewRequest("s1", "r1", "Bash", map[string]any{"command": "ls"}, time.Now())
	if err := f.mgr.RouteApproval(ctx, req, ""); err != nil {
		t.Fatalf("RouteApproval() error = %v", err)
	}
	msgs := f.discord.Sent("discord-1")
	if len(msgs) != 1 || !strings.Contains(msgs[0], "Permission request") {
		t.Fatalf("discord sent = %v", msgs)
	}

	if err := f.mgr.HandleHumanReply(ctx, "discord", "discord-1", "allow", "bob"); err != nil {
		t.Fatalf("HandleHumanReply() error = %v", err)
	}
	resp := f.host.Responses()
	if len(resp) != 1 || resp[0].RequestID != "r1" || !resp[0].Allow || resp[0].Actor != "bob" {
		t.Errorf("responses = %+v", resp)
	}

	if err := f.mgr.HandleHumanReply(ctx, "teams", "x", "allow", "bob"); err == nil {
		t.Error("reply from unknown platform should fail")
	}
}

func TestRouteEvent(t *testing.T) {
	f := newFixture(t, manager.WithDefaultPlatform("slack"))
	ctx := context.Background()

	history := event.AsHistory(event.NewOutputEvent("s1", "old", true))
	if err := f.mgr.RouteEvent(ctx, history, ""); err != nil {
		t.Fatalf("RouteEvent(history) error = %v", err)
	}
	if f.slack.ThreadCount() != 0 {
		t.Error("history event created a thread")
	}

	_ = f.mgr.RouteEvent(ctx, event.NewOutputEvent("s1", "new", true), "")
	_ = f.mgr.RouteEvent(ctx, event.NewExitEvent("s1", 0), "")

	msgs := f.slack.Sent("slack-1")
	if len(msgs) != 2 || msgs[0] != "new" || !strings.HasPrefix(msgs[1], "🏁 Session exited (code 0)") {
		t.Errorf("slack sent = %v", msgs)
	}
	if got := sample(t, f.metrics, `tether_events_routed_total{kind="exit",platform="slack"}`); got != 1 {
		t.Errorf("exit routed = %v", got)
	}
}

func TestRouteRemoved(t *testing.T) {
	f := newFixture(t, manager.WithDefaultPlatform("slack"))
	ctx := context.Background()

	_ = f.mgr.RouteOutput(ctx, "s1", "hello", false, "")
	if err := f.mgr.RouteRemoved(ctx, "s1"); err != nil {
		t.Fatalf("RouteRemoved() error = %v", err)
	}
	core, _ := f.mgr.Bridge("slack")
	if core.OwnsSession("s1") {
		t.Error("session still bound after removal")
	}
	// Typing stop on a session with no owner is a no-op.
	f.mgr.RouteTypingStopped("s1")
}

func TestHandleCommand(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.mgr.HandleCommand(ctx, "slack", "C1", "help", ""); err != nil {
		t.Fatalf("HandleCommand() error = %v", err)
	}
	if got := f.slack.Sent("C1"); len(got) != 1 || !strings.HasPrefix(got[0], "Commands:") {
		t.Errorf("help reply = %v", got)
	}
	if err := f.mgr.HandleCommand(ctx, "teams", "C1", "help", ""); err == nil {
		t.Error("command on unknown platform should fail")
	}
}
