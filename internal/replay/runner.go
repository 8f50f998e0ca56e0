package replay

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Iron-Ham/tether/internal/bridge"
	"github.com/Iron-Ham/tether/internal/clock"
	"github.com/Iron-Ham/tether/internal/errors"
	"github.com/Iron-Ham/tether/internal/logging"
	"github.com/Iron-Ham/tether/internal/manager"
	"github.com/Iron-Ham/tether/internal/metrics"
	"github.com/Iron-Ham/tether/internal/subscriber"
)

// lobbyThread receives commands that name neither a thread nor a session.
const lobbyThread = "lobby"

// Epoch is the fake clock's starting time.
var Epoch = time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)

// Option configures a Runner.
type Option func(*options)

type options struct {
	bridgeConfig     bridge.Config
	subscriberConfig subscriber.Config
	defaultPlatform  string
	logger           *logging.Logger
	onCall           func(string)
}

// WithBridgeConfig sets the tunables of every bridge.
func WithBridgeConfig(cfg bridge.Config) Option {
	return func(o *options) { o.bridgeConfig = cfg }
}

// WithSubscriberConfig sets the output buffering of the subscriber.
func WithSubscriberConfig(cfg subscriber.Config) Option {
	return func(o *options) { o.subscriberConfig = cfg }
}

// WithDefaultPlatform routes unhinted sessions to platform. It defaults to
// the first transport's platform.
func WithDefaultPlatform(platform string) Option {
	return func(o *options) { o.defaultPlatform = platform }
}

// WithLogger sets the logger shared by the pipeline.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithCallLog is told about every host callback as it happens.
func WithCallLog(fn func(string)) Option {
	return func(o *options) { o.onCall = fn }
}

// Runner drives the full pipeline (subscriber, manager, one bridge per
// transport) from a script, on a fake clock so a replay is deterministic.
type Runner struct {
	clock      *clock.FakeClock
	host       *Host
	manager    *manager.Manager
	subscriber *subscriber.Subscriber
	metrics    *metrics.Metrics
	logger     *logging.Logger

	bridgeConfig     bridge.Config
	subscriberConfig subscriber.Config
	defaultPlatform  string

	mu   sync.Mutex
	seen map[string]bool
}

// NewRunner wires a pipeline around transports. The caller must Close it.
func NewRunner(transports []bridge.Transport, opts ...Option) (*Runner, error) {
	if len(transports) == 0 {
		return nil, fmt.Errorf("replay: at least one transport is required")
	}
	o := options{logger: logging.NopLogger()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.defaultPlatform == "" {
		o.defaultPlatform = transports[0].Platform()
	}

	clk := clock.Fake(Epoch)
	m := metrics.New(prometheus.NewRegistry())
	host := newHost(o.onCall)

	mgr := manager.New(
		manager.WithDefaultPlatform(o.defaultPlatform),
		manager.WithLogger(o.logger),
		manager.WithMetrics(m),
	)
	for _, t := range transports {
		core := bridge.New(t, host.Callbacks(),
			bridge.WithConfig(o.bridgeConfig),
			bridge.WithLogger(o.logger),
			bridge.WithClock(clk),
			bridge.WithMetrics(m),
		)
		if err := mgr.Register(core); err != nil {
			return nil, err
		}
	}

	sub := subscriber.New(mgr,
		subscriber.WithConfig(o.subscriberConfig),
		subscriber.WithClock(clk),
		subscriber.WithLogger(o.logger),
	)

	r := &Runner{
		clock:            clk,
		host:             host,
		manager:          mgr,
		subscriber:       sub,
		metrics:          m,
		logger:           o.logger.WithComponent("replay"),
		bridgeConfig:     bridge.DefaultConfig(),
		subscriberConfig: subscriber.DefaultConfig(),
		defaultPlatform:  o.defaultPlatform,
		seen:             make(map[string]bool),
	}
	if o.bridgeConfig.BatchDelay > 0 {
		r.bridgeConfig.BatchDelay = o.bridgeConfig.BatchDelay
	}
	if o.subscriberConfig.OutputFlushDelay > 0 {
		r.subscriberConfig.OutputFlushDelay = o.subscriberConfig.OutputFlushDelay
	}

	host.onBound = func(sessionID, platform string) {
		r.track(sessionID)
		if err := sub.Subscribe(sessionID, platform); err != nil && !errors.Is(err, subscriber.ErrClosed) {
			r.logger.Warn("subscribe bound session failed", "session_id", sessionID, "error", err)
		}
	}
	return r, nil
}

// Host returns the scripted host.
func (r *Runner) Host() *Host { return r.host }

// Manager returns the bridge manager.
func (r *Runner) Manager() *manager.Manager { return r.manager }

// Metrics returns the counters recorded during the replay.
func (r *Runner) Metrics() *metrics.Metrics { return r.metrics }

// Now returns the replay clock's current time.
func (r *Runner) Now() time.Time { return r.clock.Now() }

// Start starts every bridge.
func (r *Runner) Start(ctx context.Context) error {
	return r.manager.Start(ctx)
}

// Close stops the subscriber and every bridge.
func (r *Runner) Close() {
	r.subscriber.Close()
	r.manager.Stop()
}

// Run executes steps in order, then lets pending timers fire. A failing
// step is logged and the replay continues; the failures are returned
// joined.
func (r *Runner) Run(ctx context.Context, steps []Step) error {
	var errs []error
	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.Step(ctx, s); err != nil {
			r.logger.Warn("replay step failed", "line", s.Line, "op", s.Op, "error", err)
			errs = append(errs, fmt.Errorf("line %d (%s): %w", s.Line, s.Op, err))
		}
	}
	if err := r.Drain(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Step executes one step and waits until its effects are delivered.
func (r *Runner) Step(ctx context.Context, s Step) error {
	if e, ok := s.Event(); ok {
		r.track(s.Session)
		if s.Op == OpState && !s.History {
			r.host.SetState(s.Session, s.State)
		}
		if err := r.subscriber.Enqueue(e); err != nil {
			return err
		}
		return r.subscriber.Wait(ctx, s.Session)
	}

	switch s.Op {
	case OpSession:
		r.host.AddSession(s.Session, bridge.SessionInfo{Directory: s.Dir, Adapter: s.Adapter, RunnerType: s.Runner})
		return nil

	case OpExternal:
		transcript := make([]bridge.HistoryMessage, len(s.Transcript))
		for i, l := range s.Transcript {
			transcript[i] = bridge.HistoryMessage{Role: l.Role, Content: l.Content, Thinking: l.Thinking}
		}
		r.host.AddExternal(bridge.ExternalSession{
			ID:         s.Session,
			RunnerType: s.Runner,
			Directory:  s.Dir,
			Summary:    s.Summary,
			UpdatedAt:  r.clock.Now(),
		}, transcript)
		return nil

	case OpSubscribe:
		r.track(s.Session)
		return r.subscriber.Subscribe(s.Session, s.Platform)

	case OpReply:
		platform, threadID, err := r.threadOf(s)
		if err != nil {
			return err
		}
		actor := s.Actor
		if actor == "" {
			actor = "human"
		}
		if err := r.manager.HandleHumanReply(ctx, platform, threadID, s.Text, actor); err != nil {
			return err
		}
		return r.waitAll(ctx)

	case OpCommand:
		platform, threadID := r.defaultPlatform, lobbyThread
		if s.Platform != "" {
			platform = s.Platform
		}
		if s.Thread != "" || s.Session != "" {
			var err error
			if platform, threadID, err = r.threadOf(s); err != nil {
				return err
			}
		}
		if err := r.manager.HandleCommand(ctx, platform, threadID, s.Name, s.Args); err != nil {
			return err
		}
		return r.waitAll(ctx)

	case OpAdvance:
		return r.Advance(ctx, s.Duration())

	case OpUnsubscribe:
		r.untrack(s.Session)
		return r.subscriber.Unsubscribe(ctx, s.Session)
	}
	return fmt.Errorf("unknown op %q", s.Op)
}

// threadOf finds the platform and thread a reply or command step targets.
func (r *Runner) threadOf(s Step) (string, string, error) {
	if s.Thread != "" {
		platform := s.Platform
		if platform == "" {
			platform = r.defaultPlatform
		}
		return platform, s.Thread, nil
	}
	for _, p := range r.manager.Platforms() {
		if s.Platform != "" && p != s.Platform {
			continue
		}
		core, _ := r.manager.Bridge(p)
		if threadID, ok := core.ThreadFor(s.Session); ok {
			return p, threadID, nil
		}
	}
	return "", "", fmt.Errorf("session %s has no thread", s.Session)
}

// Advance moves the clock forward and waits for what the fired timers
// queued.
func (r *Runner) Advance(ctx context.Context, d time.Duration) error {
	r.clock.Advance(d)
	return r.waitAll(ctx)
}

// Drain fires the output flush and notification batch timers still
// pending so nothing is left unsent.
func (r *Runner) Drain(ctx context.Context) error {
	step := r.subscriberConfig.OutputFlushDelay
	if r.bridgeConfig.BatchDelay > step {
		step = r.bridgeConfig.BatchDelay
	}
	// A flushed output can start a batch, so two rounds cover both timers.
	for i := 0; i < 2; i++ {
		if err := r.Advance(ctx, step); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) track(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen[sessionID] = true
}

func (r *Runner) untrack(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.seen, sessionID)
}

func (r *Runner) waitAll(ctx context.Context) error {
	r.mu.Lock()
	ids := make([]string, 0, len(r.seen))
	for id := range r.seen {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sort.Strings(ids)

	for _, id := range ids {
		if err := r.subscriber.Wait(ctx, id); err != nil && !errors.Is(err, subscriber.ErrClosed) {
			return err
		}
	}
	return nil
}
