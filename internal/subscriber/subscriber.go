package subscriber

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"github.com/Iron-Ham/tether/internal/approval"
	"github.com/Iron-Ham/tether/internal/clock"
	"github.com/Iron-Ham/tether/internal/errors"
	"github.com/Iron-Ham/tether/internal/event"
	"github.com/Iron-Ham/tether/internal/logging"
)

// ErrClosed is returned for work submitted after Close.
var ErrClosed = errors.New("subscriber: closed")

// Router is the routing surface the subscriber drives. *manager.Manager
// implements it.
type Router interface {
	RouteOutput(ctx context.Context, sessionID, text string, final bool, platformHint string) error
	RouteApproval(ctx context.Context, req approval.Request, platformHint string) error
	RouteStatus(ctx context.Context, sessionID, status, message, platformHint string) error
	RouteTyping(ctx context.Context, sessionID, platformHint string) error
	RouteTypingStopped(sessionID string)
	RouteExit(ctx context.Context, sessionID string, exitCode int, platformHint string) error
	RouteRemoved(ctx context.Context, sessionID string) error
}

// Config controls output buffering.
type Config struct {
	// OutputFlushDelay is how long non-final output is held before it is
	// sent.
	OutputFlushDelay time.Duration
	// OutputFlushMaxChars sends buffered output as soon as it reaches this
	// size.
	OutputFlushMaxChars int
}

// DefaultConfig returns the default buffering settings.
func DefaultConfig() Config {
	return Config{
		OutputFlushDelay:    2 * time.Second,
		OutputFlushMaxChars: 1800,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.OutputFlushDelay <= 0 {
		c.OutputFlushDelay = d.OutputFlushDelay
	}
	if c.OutputFlushMaxChars <= 0 {
		c.OutputFlushMaxChars = d.OutputFlushMaxChars
	}
	return c
}

// Subscriber feeds session events to a Router with one worker per session.
type Subscriber struct {
	router Router
	cfg    Config
	clock  clock.Clock
	logger *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	workers map[string]*worker
	closed  bool
	bus     *event.Bus
	busSub  string
	wg      conc.WaitGroup
}

// New creates a Subscriber that routes through router.
func New(router Router, opts ...Option) *Subscriber {
	if router == nil {
		panic("subscriber: Router must not be nil")
	}
	o := &options{config: DefaultConfig()}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = logging.NopLogger()
	}
	if o.clock == nil {
		o.clock = clock.Real()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Subscriber{
		router:  router,
		cfg:     o.config.withDefaults(),
		clock:   o.clock,
		logger:  o.logger.WithComponent("subscriber"),
		ctx:     ctx,
		cancel:  cancel,
		workers: make(map[string]*worker),
	}
}

// Subscribe starts a worker for a session. The platform hint is passed on
// every route call for the session until it is bound to a thread.
// Subscribing again only updates the hint.
func (s *Subscriber) Subscribe(sessionID, platformHint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	w := s.workerLocked(sessionID)
	w.setHint(platformHint)
	return nil
}

// workerLocked returns the session's worker, starting one if needed.
func (s *Subscriber) workerLocked(sessionID string) *worker {
	if w, ok := s.workers[sessionID]; ok {
		return w
	}
	w := newWorker(s, sessionID)
	s.workers[sessionID] = w
	s.wg.Go(w.run)
	s.logger.Debug("worker started", "session_id", sessionID)
	return w
}

// Enqueue queues an event behind the session's earlier events. It never
// blocks. History events are dropped. A session seen for the first time
// gets a worker with no platform hint.
func (s *Subscriber) Enqueue(e event.SessionEvent) error {
	if e.IsHistory() {
		return nil
	}
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return ErrClosed
		}
		w := s.workerLocked(e.Session())
		s.mu.Unlock()

		// A worker retired by Unsubscribe is already out of the map.
		if w.push(task{event: e}) {
			return nil
		}
	}
}

// Attach subscribes to every event on bus. Session events are enqueued,
// other events are ignored. Only one bus can be attached.
func (s *Subscriber) Attach(bus *event.Bus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.bus != nil {
		return fmt.Errorf("subscriber: already attached to a bus")
	}
	s.bus = bus
	s.busSub = bus.SubscribeAll(func(e event.Event) {
		se, ok := e.(event.SessionEvent)
		if !ok {
			return
		}
		if err := s.Enqueue(se); err != nil && !errors.Is(err, ErrClosed) {
			s.logger.Warn("enqueue failed", "session_id", se.Session(), "error", err)
		}
	})
	return nil
}

// Wait blocks until every event queued for the session before the call has
// been routed.
func (s *Subscriber) Wait(ctx context.Context, sessionID string) error {
	done := make(chan error, 1)
	for {
		s.mu.Lock()
		w, ok := s.workers[sessionID]
		closed := s.closed
		s.mu.Unlock()
		if !ok {
			return nil
		}
		if w.push(task{kind: taskBarrier, done: done}) {
			break
		}
		if closed {
			return ErrClosed
		}
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Unsubscribe stops the session's worker after its queued events, sends any
// buffered output and tells the router the session is gone. The worker stays
// registered until then; events enqueued meanwhile run on a fresh worker
// once the removal has been routed.
func (s *Subscriber) Unsubscribe(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	w, ok := s.workers[sessionID]
	closed := s.closed
	s.mu.Unlock()
	if !ok {
		return s.router.RouteRemoved(ctx, sessionID)
	}

	done := make(chan error, 1)
	if !w.push(task{kind: taskRemove, done: done}) {
		if closed {
			return ErrClosed
		}
		// Retired by a concurrent Unsubscribe.
		return s.router.RouteRemoved(ctx, sessionID)
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sessions returns the number of running workers.
func (s *Subscriber) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.workers)
}

// Close detaches from the bus, lets every worker drain its queue and flush
// buffered output, then waits for them. It is safe to call multiple times.
func (s *Subscriber) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.bus != nil {
		s.bus.Unsubscribe(s.busSub)
	}
	workers := make([]*worker, 0, len(s.workers))
	for _, w := range s.workers {
		workers = append(workers, w)
	}
	s.workers = make(map[string]*worker)
	s.mu.Unlock()

	for _, w := range workers {
		w.push(task{kind: taskStop})
	}
	if r := s.wg.WaitAndRecover(); r != nil {
		s.logger.Error("worker panicked", "panic", r.String())
	}
	s.cancel()
}

type taskKind int

const (
	taskEvent taskKind = iota
	taskFlush
	taskBarrier
	taskRemove
	taskStop
)

type task struct {
	kind  taskKind
	event event.SessionEvent
	gen   uint64
	done  chan error
}

// worker processes one session's tasks in order. Buffer and timer state is
// only touched from the worker goroutine.
type worker struct {
	s         *Subscriber
	sessionID string
	logger    *logging.Logger

	mu      sync.Mutex
	tasks   []task
	hint    string
	stopped bool
	notify  chan struct{}

	buf   strings.Builder
	timer *clock.Timer
	gen   uint64
}

func newWorker(s *Subscriber, sessionID string) *worker {
	return &worker{
		s:         s,
		sessionID: sessionID,
		logger:    s.logger.WithSession(sessionID),
		notify:    make(chan struct{}, 1),
	}
}

func (w *worker) setHint(hint string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.hint = hint
}

func (w *worker) platformHint() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.hint
}

// push appends a task. It reports false once the worker has stopped.
func (w *worker) push(t task) bool {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return false
	}
	w.tasks = append(w.tasks, t)
	w.mu.Unlock()

	select {
	case w.notify <- struct{}{}:
	default:
	}
	return true
}

func (w *worker) pop() (task, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.tasks) == 0 {
		return task{}, false
	}
	t := w.tasks[0]
	w.tasks[0] = task{}
	w.tasks = w.tasks[1:]
	return t, true
}

func (w *worker) run() {
	for range w.notify {
		for {
			t, ok := w.pop()
			if !ok {
				break
			}
			if w.handle(t) {
				return
			}
		}
	}
}

// handle runs one task and reports whether the worker should exit.
func (w *worker) handle(t task) bool {
	ctx := w.s.ctx
	switch t.kind {
	case taskEvent:
		w.safely(func() { w.dispatch(ctx, t.event) })
	case taskFlush:
		if t.gen == w.gen {
			w.safely(func() { w.flush(ctx, false) })
		}
	case taskBarrier:
		t.done <- nil
	case taskRemove:
		var err error
		w.safely(func() {
			w.flush(ctx, false)
			err = w.s.router.RouteRemoved(ctx, w.sessionID)
		})
		w.s.retire(w)
		t.done <- err
		return true
	case taskStop:
		w.safely(func() { w.flush(ctx, false) })
		w.shutdown()
		return true
	}
	return false
}

// shutdown marks the worker stopped and releases anyone waiting on tasks
// that will never run.
func (w *worker) shutdown() {
	w.timer.Stop()
	w.mu.Lock()
	w.stopped = true
	rest := w.tasks
	w.tasks = nil
	w.mu.Unlock()
	for _, t := range rest {
		if t.done != nil {
			t.done <- ErrClosed
		}
	}
	w.logger.Debug("worker stopped")
}

// retire stops a removed worker and drops it from the map in one step, so
// Enqueue either reaches it before it stops or starts a new worker. Tasks
// queued behind the removal move to that new worker in order.
func (s *Subscriber) retire(w *worker) {
	w.timer.Stop()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.workers[w.sessionID] == w {
		delete(s.workers, w.sessionID)
	}

	w.mu.Lock()
	w.stopped = true
	rest := w.tasks
	w.tasks = nil
	w.mu.Unlock()

	var next *worker
	for _, t := range rest {
		switch {
		case t.kind == taskFlush || t.kind == taskStop:
			continue
		case s.closed:
			if t.done != nil {
				t.done <- ErrClosed
			}
			continue
		}
		if next == nil {
			next = s.workerLocked(w.sessionID)
		}
		next.push(t)
	}
	w.logger.Debug("worker removed", "requeued", len(rest))
}

// safely runs fn, logging a panic instead of killing the worker.
func (w *worker) safely(fn func()) {
	var pc panics.Catcher
	pc.Try(fn)
	if r := pc.Recovered(); r != nil {
		w.logger.Error("event handler panicked", "panic", r.String())
	}
}

func (w *worker) dispatch(ctx context.Context, e event.SessionEvent) {
	hint := w.platformHint()
	var err error

	switch ev := e.(type) {
	case event.OutputEvent:
		err = w.output(ctx, ev.Text, ev.Final)
	case event.PermissionRequestEvent:
		w.flush(ctx, false)
		req := approval.NewRequest(ev.SessionID, ev.RequestID, ev.ToolName, ev.ToolInput, w.s.clock.Now())
		err = w.s.router.RouteApproval(ctx, req, hint)
	case event.SessionStateEvent:
		err = w.state(ctx, ev.State, hint)
	case event.ErrorEvent:
		w.flush(ctx, false)
		err = w.s.router.RouteStatus(ctx, w.sessionID, "error", ev.Message, hint)
	case event.ExitEvent:
		w.flush(ctx, false)
		err = w.s.router.RouteExit(ctx, w.sessionID, ev.ExitCode, hint)
	default:
		w.logger.Debug("ignoring event", "type", e.EventType())
	}

	if err != nil {
		w.logger.Warn("route event failed", "type", e.EventType(), "error", err)
	}
}

func (w *worker) state(ctx context.Context, state, hint string) error {
	if state == event.StateRunning {
		return w.s.router.RouteTyping(ctx, w.sessionID, hint)
	}
	w.flush(ctx, false)
	w.s.router.RouteTypingStopped(w.sessionID)
	if state == event.StateError {
		return w.s.router.RouteStatus(ctx, w.sessionID, "error", "", hint)
	}
	return nil
}

// output buffers non-final text. Final text is sent together with anything
// already buffered.
func (w *worker) output(ctx context.Context, text string, final bool) error {
	w.buf.WriteString(text)
	if final {
		return w.send(ctx, true)
	}
	if w.buf.Len() >= w.s.cfg.OutputFlushMaxChars {
		return w.send(ctx, false)
	}
	if w.timer == nil {
		gen := w.gen
		w.timer = w.s.clock.AfterFunc(w.s.cfg.OutputFlushDelay, func() {
			w.push(task{kind: taskFlush, gen: gen})
		})
	}
	return nil
}

// flush sends buffered output, logging failures.
func (w *worker) flush(ctx context.Context, final bool) {
	if err := w.send(ctx, final); err != nil {
		w.logger.Warn("flush output failed", "error", err)
	}
}

// send routes the buffer and cancels the pending delayed flush.
func (w *worker) send(ctx context.Context, final bool) error {
	w.timer.Stop()
	w.timer = nil
	w.gen++

	text := w.buf.String()
	w.buf.Reset()
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return w.s.router.RouteOutput(ctx, w.sessionID, text, final, w.platformHint())
}
