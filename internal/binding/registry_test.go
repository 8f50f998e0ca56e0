package binding

import (
	"context"
	"fmt"
	"testing"

	"github.com/Iron-Ham/tether/internal/errors"
)

type fakePersister struct {
	stored  map[string]Thread
	saves   int
	failOn  int // fail the Nth save (1-based); 0 never fails
	loadErr error
}

func newFakePersister() *fakePersister {
	return &fakePersister{stored: make(map[string]Thread)}
}

func (p *fakePersister) LoadBindings(ctx context.Context) (map[string]Thread, error) {
	if p.loadErr != nil {
		return nil, p.loadErr
	}
	out := make(map[string]Thread, len(p.stored))
	for k, v := range p.stored {
		out[k] = v
	}
	return out, nil
}

func (p *fakePersister) SaveBinding(ctx context.Context, sessionID string, thread *Thread) error {
	p.saves++
	if p.failOn != 0 && p.saves == p.failOn {
		return fmt.Errorf("disk full")
	}
	if thread == nil {
		delete(p.stored, sessionID)
		return nil
	}
	p.stored[sessionID] = *thread
	return nil
}

var (
	t1 = Thread{Platform: "slack", ID: "T1"}
	t2 = Thread{Platform: "slack", ID: "T2"}
)

func TestRegistry_BindAndLookup(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()

	if err := r.Bind(ctx, "A", t1); err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	if got, ok := r.ThreadFor("A"); !ok || got != t1 {
		t.Errorf("ThreadFor(A) = %v, %v", got, ok)
	}
	if got, ok := r.SessionFor(t1); !ok || got != "A" {
		t.Errorf("SessionFor(T1) = %q, %v", got, ok)
	}
}

func TestRegistry_RebindReleasesOldThread(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()

	_ = r.Bind(ctx, "A", t1)
	if err := r.Bind(ctx, "A", t2); err != nil {
		t.Fatalf("Bind() error = %v", err)
	}

	if got, _ := r.ThreadFor("A"); got != t2 {
		t.Errorf("ThreadFor(A) = %v, want T2", got)
	}
	if _, ok := r.SessionFor(t1); ok {
		t.Error("SessionFor(T1) should be unbound")
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d", r.Len())
	}
}

func TestRegistry_Conflict(t *testing.T) {
	ctx := context.Background()
	p := newFakePersister()
	r := NewRegistry(WithPersister(p))

	_ = r.Bind(ctx, "A", t1)
	_ = r.Bind(ctx, "B", t2)
	saves := p.saves

	err := r.Bind(ctx, "B", t1)
	if !errors.Is(err, errors.ErrBindingConflict) {
		t.Fatalf("Bind() error = %v, want ErrBindingConflict", err)
	}
	var conflict *errors.BindingConflictError
	if !errors.As(err, &conflict) || conflict.BoundTo != "A" || conflict.SessionID != "B" {
		t.Errorf("conflict = %+v", conflict)
	}
	if got, _ := r.ThreadFor("B"); got != t2 {
		t.Error("failed Bind changed B's thread")
	}
	if p.saves != saves {
		t.Error("conflicting Bind reached the persister")
	}
}

func TestRegistry_SameBindingIsNoop(t *testing.T) {
	ctx := context.Background()
	p := newFakePersister()
	r := NewRegistry(WithPersister(p))

	_ = r.Bind(ctx, "A", t1)
	if err := r.Bind(ctx, "A", t1); err != nil {
		t.Fatalf("rebinding the same thread error = %v", err)
	}
	if p.saves != 1 {
		t.Errorf("saves = %d, want 1", p.saves)
	}
}

func TestRegistry_SaveFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	p := newFakePersister()
	r := NewRegistry(WithPersister(p))

	_ = r.Bind(ctx, "A", t1)
	p.failOn = 2

	if err := r.Bind(ctx, "A", t2); err == nil {
		t.Fatal("Bind() should fail when the save fails")
	}
	if got, _ := r.ThreadFor("A"); got != t1 {
		t.Errorf("ThreadFor(A) = %v, want T1 kept", got)
	}
	if _, ok := r.SessionFor(t2); ok {
		t.Error("T2 should not be bound after a failed save")
	}
	if got, _ := r.SessionFor(t1); got != "A" {
		t.Error("T1 should still belong to A")
	}
}

func TestRegistry_Unbind(t *testing.T) {
	ctx := context.Background()
	p := newFakePersister()
	r := NewRegistry(WithPersister(p))
	_ = r.Bind(ctx, "A", t1)

	thread, ok, err := r.Unbind(ctx, "A")
	if err != nil || !ok || thread != t1 {
		t.Fatalf("Unbind() = %v, %v, %v", thread, ok, err)
	}
	if _, ok := p.stored["A"]; ok {
		t.Error("persisted binding not deleted")
	}
	if _, ok, _ := r.Unbind(ctx, "A"); ok {
		t.Error("second Unbind() reported a binding")
	}
}

func TestRegistry_UnbindSaveFailure(t *testing.T) {
	ctx := context.Background()
	p := newFakePersister()
	r := NewRegistry(WithPersister(p))
	_ = r.Bind(ctx, "A", t1)
	p.failOn = 2

	if _, _, err := r.Unbind(ctx, "A"); err == nil {
		t.Fatal("Unbind() should fail when the save fails")
	}
	if _, ok := r.ThreadFor("A"); !ok {
		t.Error("binding removed despite failed save")
	}
}

func TestRegistry_Load(t *testing.T) {
	p := newFakePersister()
	p.stored["A"] = t1
	p.stored["B"] = t1 // conflicts with A, skipped
	p.stored["C"] = Thread{Platform: "discord", ID: "D1"}
	p.stored["D"] = t2

	r := NewRegistry(WithPersister(p), WithPlatform("slack"))
	if err := r.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if r.Len() != 2 {
		t.Fatalf("Len() = %d, want 2: %v", r.Len(), r.Bindings())
	}
	if got, _ := r.SessionFor(t1); got != "A" {
		t.Errorf("SessionFor(T1) = %q, want A", got)
	}
	if _, ok := r.ThreadFor("C"); ok {
		t.Error("discord binding loaded into slack registry")
	}
}

func TestRegistry_LoadError(t *testing.T) {
	p := newFakePersister()
	p.loadErr = fmt.Errorf("corrupt")
	r := NewRegistry(WithPersister(p))

	if err := r.Load(context.Background()); err == nil {
		t.Fatal("Load() should surface persister errors")
	}
}
