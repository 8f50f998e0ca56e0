// Package binding maps agent sessions to chat threads one-to-one.
package binding

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Iron-Ham/tether/internal/errors"
	"github.com/Iron-Ham/tether/internal/logging"
)

// Thread is a platform-side conversation handle.
type Thread struct {
	Platform string `json:"platform"`
	ID       string `json:"thread_id"`
}

func (t Thread) String() string { return t.Platform + ":" + t.ID }

// IsZero reports whether t is the empty thread.
func (t Thread) IsZero() bool { return t.Platform == "" && t.ID == "" }

// Persister stores bindings durably. SaveBinding with a nil thread deletes
// the session's binding.
type Persister interface {
	LoadBindings(ctx context.Context) (map[string]Thread, error)
	SaveBinding(ctx context.Context, sessionID string, thread *Thread) error
}

// Registry enforces that a session has at most one thread and a thread at
// most one session. Every mutation is written through the Persister before
// it takes effect; a failed save leaves the previous mapping in place.
// It is safe for concurrent use.
type Registry struct {
	mu        sync.Mutex
	bySession map[string]Thread
	byThread  map[Thread]string

	persister Persister
	platform  string
	logger    *logging.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithPersister sets the durable store. Without one, bindings live in memory.
func WithPersister(p Persister) Option {
	return func(r *Registry) { r.persister = p }
}

// WithPlatform restricts Load to bindings for one platform, so several
// registries can share a Persister.
func WithPlatform(platform string) Option {
	return func(r *Registry) { r.platform = platform }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRegistry creates an empty Registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		bySession: make(map[string]Thread),
		byThread:  make(map[Thread]string),
		logger:    logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load replaces the in-memory mapping with the persisted one. Entries for
// other platforms are ignored, as are entries whose thread is already
// claimed by an earlier session (in session ID order).
func (r *Registry) Load(ctx context.Context) error {
	if r.persister == nil {
		return nil
	}
	stored, err := r.persister.LoadBindings(ctx)
	if err != nil {
		return fmt.Errorf("load bindings: %w", err)
	}

	ids := make([]string, 0, len(stored))
	for id := range stored {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	bySession := make(map[string]Thread, len(stored))
	byThread := make(map[Thread]string, len(stored))
	for _, id := range ids {
		thread := stored[id]
		if r.platform != "" && thread.Platform != r.platform {
			continue
		}
		if owner, taken := byThread[thread]; taken {
			r.logger.Warn("skipping conflicting persisted binding",
				"session_id", id, "thread_id", thread.ID, "bound_to", owner)
			continue
		}
		bySession[id] = thread
		byThread[thread] = id
	}

	r.mu.Lock()
	r.bySession = bySession
	r.byThread = byThread
	r.mu.Unlock()

	r.logger.Info("bindings loaded", "count", len(bySession))
	return nil
}

// Bind binds sessionID to thread. If the session was bound to another
// thread, that thread is released. Binding a thread held by a different
// session fails with *errors.BindingConflictError and changes nothing.
func (r *Registry) Bind(ctx context.Context, sessionID string, thread Thread) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if owner, ok := r.byThread[thread]; ok && owner != sessionID {
		return errors.NewBindingConflictError(sessionID,
			errors.Thread{Platform: thread.Platform, ID: thread.ID}, owner)
	}
	prev, hadPrev := r.bySession[sessionID]
	if hadPrev && prev == thread {
		return nil
	}

	if r.persister != nil {
		t := thread
		if err := r.persister.SaveBinding(ctx, sessionID, &t); err != nil {
			return fmt.Errorf("save binding for %s: %w", sessionID, err)
		}
	}

	if hadPrev {
		delete(r.byThread, prev)
	}
	r.bySession[sessionID] = thread
	r.byThread[thread] = sessionID
	return nil
}

// Unbind removes the session's binding and returns the thread it held.
func (r *Registry) Unbind(ctx context.Context, sessionID string) (Thread, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	thread, ok := r.bySession[sessionID]
	if !ok {
		return Thread{}, false, nil
	}
	if r.persister != nil {
		if err := r.persister.SaveBinding(ctx, sessionID, nil); err != nil {
			return Thread{}, false, fmt.Errorf("delete binding for %s: %w", sessionID, err)
		}
	}
	delete(r.bySession, sessionID)
	delete(r.byThread, thread)
	return thread, true, nil
}

// ThreadFor returns the thread bound to a session.
func (r *Registry) ThreadFor(sessionID string) (Thread, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.bySession[sessionID]
	return t, ok
}

// SessionFor returns the session bound to a thread.
func (r *Registry) SessionFor(thread Thread) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byThread[thread]
	return s, ok
}

// Bindings returns a copy of the session-to-thread mapping.
func (r *Registry) Bindings() map[string]Thread {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]Thread, len(r.bySession))
	for k, v := range r.bySession {
		out[k] = v
	}
	return out
}

// Len returns the number of bound sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bySession)
}
