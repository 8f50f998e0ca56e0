package bridge

import (
	"context"
	"fmt"
	"sync"

	"github.com/Iron-Ham/tether/internal/approval"
	"github.com/Iron-Ham/tether/internal/autoapprove"
	"github.com/Iron-Ham/tether/internal/batch"
	"github.com/Iron-Ham/tether/internal/binding"
	"github.com/Iron-Ham/tether/internal/clock"
	"github.com/Iron-Ham/tether/internal/debounce"
	"github.com/Iron-Ham/tether/internal/errors"
	"github.com/Iron-Ham/tether/internal/logging"
	"github.com/Iron-Ham/tether/internal/metrics"
	"github.com/Iron-Ham/tether/internal/util"
)

// Core is the platform-agnostic bridge engine for one chat platform.
//
// It owns the auto-approve timers, the approval gate, the error debouncer,
// the notification batcher and the thread bindings, and drives a Transport
// for everything it has to say. One Core serves many sessions; calls for
// different sessions may run concurrently, calls for the same session are
// expected in order (the subscriber guarantees this).
type Core struct {
	transport Transport
	cb        Callbacks
	cfg       Config
	logger    *logging.Logger
	clock     clock.Clock
	metrics   *metrics.Metrics

	timers    *autoapprove.Store
	gate      *approval.Gate
	debouncer *debounce.Debouncer
	batcher   *batch.Batcher[autoApproved]
	bindings  *binding.Registry
	names     *nameAllocator

	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	started  bool
	sessions map[string]*sessionState
	views    map[string]*externalView // thread ID → last list view
	wg       sync.WaitGroup
}

type sessionState struct {
	// threadMu serializes thread creation for the session.
	threadMu sync.Mutex

	exited     bool
	typing     *clock.Ticker
	typingDone chan struct{}
}

// New creates a Core for the given transport.
//
// The transport and the SendInput and RespondToPermission callbacks must be
// non-nil. Passing nil will panic early to surface wiring bugs immediately.
func New(transport Transport, cb Callbacks, opts ...Option) *Core {
	if transport == nil {
		panic("bridge: Transport must not be nil")
	}
	if cb.SendInput == nil {
		panic("bridge: SendInput callback must not be nil")
	}
	if cb.RespondToPermission == nil {
		panic("bridge: RespondToPermission callback must not be nil")
	}

	o := &options{
		config: DefaultConfig(),
		logger: logging.NopLogger(),
		clock:  clock.Real(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = logging.NopLogger()
	}
	if o.clock == nil {
		o.clock = clock.Real()
	}
	cfg := o.config.withDefaults()
	logger := o.logger.WithPlatform(transport.Platform()).WithComponent("bridge")

	ctx, cancel := context.WithCancel(context.Background())
	c := &Core{
		transport: transport,
		cb:        cb,
		cfg:       cfg,
		logger:    logger,
		clock:     o.clock,
		metrics:   o.metrics,
		timers:    autoapprove.New(o.clock),
		gate:      approval.NewGate(),
		debouncer: debounce.New(cfg.ErrorDebounce, o.clock),
		bindings: binding.NewRegistry(
			binding.WithPersister(o.persister),
			binding.WithPlatform(transport.Platform()),
			binding.WithLogger(logger),
		),
		names:    newNameAllocator(cfg.ThreadNameMaxLen),
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*sessionState),
		views:    make(map[string]*externalView),
	}
	c.batcher = batch.New(cfg.BatchDelay, o.clock, c.deliverBatch)
	return c
}

// Platform returns the platform name of the underlying transport.
func (c *Core) Platform() string { return c.transport.Platform() }

// Config returns the effective configuration.
func (c *Core) Config() Config { return c.cfg }

// Bindings exposes the thread registry for routing lookups.
func (c *Core) Bindings() *binding.Registry { return c.bindings }

// Start loads persisted bindings. The context is used for work scheduled by
// timers (batch flushes, typing refreshes) until Stop is called.
func (c *Core) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("bridge: already started")
	}
	c.cancel()
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.started = true
	c.mu.Unlock()

	if err := c.bindings.Load(ctx); err != nil {
		return fmt.Errorf("bridge: load bindings: %w", err)
	}
	c.logger.Info("bridge started", "bindings", c.bindings.Len())
	return nil
}

// Stop cancels scheduled batch flushes and typing refreshes and waits for
// background goroutines. It is safe to call multiple times.
func (c *Core) Stop() {
	c.mu.Lock()
	c.cancel()
	for _, st := range c.sessions {
		stopTypingLocked(st)
	}
	c.started = false
	c.mu.Unlock()

	c.batcher.Stop()
	c.wg.Wait()
}

func (c *Core) baseContext() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ctx
}

func (c *Core) session(sessionID string) *sessionState {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.sessions[sessionID]
	if !ok {
		st = &sessionState{}
		c.sessions[sessionID] = st
	}
	return st
}

func (c *Core) isExited(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.sessions[sessionID]
	return ok && st.exited
}

func (c *Core) setExited(sessionID string, exited bool) {
	st := c.session(sessionID)
	c.mu.Lock()
	st.exited = exited
	c.mu.Unlock()
}

// State returns the phase a session is in.
func (c *Core) State(sessionID string) Phase {
	if c.isExited(sessionID) {
		return PhaseExited
	}
	if c.gate.PendingCount(sessionID) > 0 {
		return PhaseApprovalPending
	}
	if _, ok := c.bindings.ThreadFor(sessionID); ok {
		return PhaseThreadOpen
	}
	return PhaseNoThread
}

// ThreadFor returns the ID of the thread bound to a session.
func (c *Core) ThreadFor(sessionID string) (string, bool) {
	t, ok := c.bindings.ThreadFor(sessionID)
	return t.ID, ok
}

// SessionForThread returns the session bound to a thread of this platform.
func (c *Core) SessionForThread(threadID string) (string, bool) {
	return c.bindings.SessionFor(binding.Thread{Platform: c.transport.Platform(), ID: threadID})
}

// OwnsSession reports whether a session is bound to a thread of this
// platform.
func (c *Core) OwnsSession(sessionID string) bool {
	_, ok := c.bindings.ThreadFor(sessionID)
	return ok
}

// ensureThread returns the session's thread, creating and binding one if
// the session has none yet.
func (c *Core) ensureThread(ctx context.Context, sessionID string) (string, error) {
	if t, ok := c.bindings.ThreadFor(sessionID); ok {
		return t.ID, nil
	}
	return c.openThread(ctx, sessionID, "")
}

// openThread creates and binds a thread named after base, or after the
// session's directory and runner when base is empty. A session that got a
// thread in the meantime keeps it.
func (c *Core) openThread(ctx context.Context, sessionID, base string) (string, error) {
	st := c.session(sessionID)
	st.threadMu.Lock()
	defer st.threadMu.Unlock()

	if t, ok := c.bindings.ThreadFor(sessionID); ok {
		return t.ID, nil
	}

	if base == "" {
		base = c.baseThreadName(sessionID)
	}
	name := c.names.reserve(sessionID, base)
	threadID, err := c.transport.CreateThread(ctx, sessionID, name)
	if err != nil {
		c.names.release(sessionID)
		return "", fmt.Errorf("create thread for session %s: %w", sessionID, err)
	}
	if err := c.bindThread(ctx, sessionID, threadID); err != nil {
		c.names.release(sessionID)
		return "", err
	}
	c.logger.Info("thread created", "session_id", sessionID, "thread_id", threadID, "name", name)
	return threadID, nil
}

// bindThread records the binding and tells the host about it.
func (c *Core) bindThread(ctx context.Context, sessionID, threadID string) error {
	thread := binding.Thread{Platform: c.transport.Platform(), ID: threadID}
	if err := c.bindings.Bind(ctx, sessionID, thread); err != nil {
		c.logger.Warn("bind thread failed",
			"session_id", sessionID,
			"thread_id", threadID,
			"error", err,
		)
		return err
	}
	if c.cb.OnSessionBound != nil {
		c.cb.OnSessionBound(ctx, sessionID, thread)
	}
	return nil
}

// BindThread binds an existing thread to a session, for hosts that restore
// or hand over threads themselves.
func (c *Core) BindThread(ctx context.Context, sessionID, threadID string) error {
	return c.bindThread(ctx, sessionID, threadID)
}

// send posts text to a thread, splitting it to the transport's size cap.
func (c *Core) send(ctx context.Context, threadID, text string) error {
	limit := 0
	if ml, ok := c.transport.(MessageLimiter); ok {
		limit = ml.MaxMessageLen()
	}
	chunks := []string{text}
	if limit > 0 {
		chunks = util.SplitMessage(text, limit)
	}
	for _, chunk := range chunks {
		if err := c.transport.Send(ctx, threadID, chunk); err != nil {
			return fmt.Errorf("send to thread %s: %w", threadID, err)
		}
	}
	return nil
}

// sendToSession posts text to the session's thread if it has one.
func (c *Core) sendToSession(ctx context.Context, sessionID, text string) error {
	threadID, ok := c.ThreadFor(sessionID)
	if !ok {
		c.logger.Debug("no thread for session, dropping message", "session_id", sessionID)
		return nil
	}
	return c.send(ctx, threadID, text)
}

// deliverBatch is the batcher's flush callback for elapsed windows.
func (c *Core) deliverBatch(sessionID string, items []autoApproved) {
	if err := c.sendBatch(c.baseContext(), sessionID, items); err != nil {
		c.logger.Warn("send auto-approve batch failed", "session_id", sessionID, "error", err)
	}
}

func (c *Core) sendBatch(ctx context.Context, sessionID string, items []autoApproved) error {
	if len(items) == 0 {
		return nil
	}
	c.metrics.BatchFlushed()
	return c.sendToSession(ctx, sessionID, batchText(items))
}

// flushBatch sends a session's pending auto-approve notifications now.
func (c *Core) flushBatch(ctx context.Context, sessionID string) error {
	return c.sendBatch(ctx, sessionID, c.batcher.Flush(sessionID))
}

// userMessage logs a failed host callback at its severity and returns the
// text shown in the thread.
func (c *Core) userMessage(err error) string {
	switch errors.GetSeverity(err) {
	case errors.SeverityDebug, errors.SeverityInfo:
		c.logger.Debug("host callback failed", "error", err)
	case errors.SeverityWarning:
		c.logger.Warn("host callback failed", "error", err)
	default:
		c.logger.Error("host callback failed", "error", err)
	}
	if errors.IsUserFacing(err) {
		return err.Error()
	}
	return "something went wrong, check the logs"
}
