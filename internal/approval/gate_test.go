package approval

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/Iron-Ham/tether/internal/errors"
)

func newReq(session, id string) Request {
	return Request{ID: id, SessionID: session, Kind: KindPermission, ToolName: "Bash", Title: "Bash"}
}

func TestGate_OpenAndPending(t *testing.T) {
	g := NewGate()

	if _, ok := g.Pending("s1"); ok {
		t.Fatal("empty gate reported a pending request")
	}
	if err := g.Open(newReq("s1", "r1")); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := g.Open(newReq("s1", "r2")); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	got, ok := g.Pending("s1")
	if !ok || got.ID != "r1" {
		t.Errorf("Pending() = %q, %v; want r1 (oldest first)", got.ID, ok)
	}
	if g.PendingCount("s1") != 2 {
		t.Errorf("PendingCount() = %d, want 2", g.PendingCount("s1"))
	}
	if _, ok := g.Get("r2"); !ok {
		t.Error("Get(r2) not found")
	}
}

func TestGate_DuplicateRequest(t *testing.T) {
	g := NewGate()
	_ = g.Open(newReq("s1", "r1"))

	if err := g.Open(newReq("s2", "r1")); !errors.Is(err, errors.ErrDuplicateRequest) {
		t.Errorf("Open(pending id) error = %v, want ErrDuplicateRequest", err)
	}

	if _, err := g.Resolve("r1", OutcomeApproved); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if err := g.Open(newReq("s1", "r1")); !errors.Is(err, errors.ErrDuplicateRequest) {
		t.Errorf("Open(resolved id) error = %v, want ErrDuplicateRequest", err)
	}
}

func TestGate_ResolveOnce(t *testing.T) {
	g := NewGate()
	_ = g.Open(newReq("s1", "r1"))

	req, err := g.Resolve("r1", OutcomeDenied)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if req.ID != "r1" {
		t.Errorf("Resolve() returned %q", req.ID)
	}
	if _, err := g.Resolve("r1", OutcomeApproved); !errors.Is(err, errors.ErrAlreadyResolved) {
		t.Errorf("second Resolve() error = %v, want ErrAlreadyResolved", err)
	}
	if outcome, _ := g.Outcome("r1"); outcome != OutcomeDenied {
		t.Errorf("Outcome() = %q, want denied", outcome)
	}
	if _, err := g.Resolve("missing", OutcomeApproved); !errors.Is(err, errors.ErrUnknownRequest) {
		t.Errorf("Resolve(missing) error = %v, want ErrUnknownRequest", err)
	}
}

func TestGate_ConcurrentResolveExactlyOnce(t *testing.T) {
	g := NewGate()
	_ = g.Open(newReq("s1", "r1"))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := g.Resolve("r1", OutcomeApproved); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("%d goroutines resolved r1, want exactly 1", wins.Load())
	}
}

func TestGate_Reopen(t *testing.T) {
	g := NewGate()
	_ = g.Open(newReq("s1", "r1"))
	_ = g.Open(newReq("s1", "r2"))

	if _, err := g.Resolve("r1", OutcomeApproved); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !g.Reopen("r1") {
		t.Fatal("Reopen() = false")
	}
	if got, _ := g.Pending("s1"); got.ID != "r1" {
		t.Errorf("Pending() = %q after Reopen, want r1 back at head", got.ID)
	}
	if _, err := g.Resolve("r1", OutcomeApproved); err != nil {
		t.Errorf("Resolve() after Reopen error = %v", err)
	}
	if g.Reopen("never") {
		t.Error("Reopen(unknown) = true")
	}
}

func TestGate_CancelSession(t *testing.T) {
	g := NewGate()
	_ = g.Open(newReq("s1", "r1"))
	_ = g.Open(newReq("s1", "r2"))
	_ = g.Open(newReq("s2", "r3"))

	cancelled := g.CancelSession("s1")
	if len(cancelled) != 2 || cancelled[0].ID != "r1" || cancelled[1].ID != "r2" {
		t.Fatalf("CancelSession() = %v", cancelled)
	}
	if g.PendingCount("s1") != 0 {
		t.Error("s1 still has pending requests")
	}
	if g.PendingCount("s2") != 1 {
		t.Error("s2 requests should be untouched")
	}
	if outcome, _ := g.Outcome("r1"); outcome != OutcomeCancelled {
		t.Errorf("Outcome(r1) = %q, want cancelled", outcome)
	}
	if _, err := g.Resolve("r2", OutcomeApproved); !errors.Is(err, errors.ErrAlreadyResolved) {
		t.Errorf("Resolve(cancelled) error = %v, want ErrAlreadyResolved", err)
	}
	if g.Reopen("r1") {
		t.Error("cancelled requests must not be reopened")
	}
}

func TestGate_Forget(t *testing.T) {
	g := NewGate()
	_ = g.Open(newReq("s1", "r1"))
	_, _ = g.Resolve("r1", OutcomeApproved)
	_ = g.Open(newReq("s1", "r2"))

	g.Forget("s1")

	if g.PendingCount("s1") != 0 {
		t.Error("Forget left pending requests")
	}
	if _, ok := g.Outcome("r1"); ok {
		t.Error("Forget left resolution records")
	}
}
