// Package manager routes session events to the platform bridge that owns
// the session.
//
// A session belongs to the bridge whose registry binds it to a thread. A
// session with no thread yet goes to the bridge named by the caller's
// platform hint, or failing that to the configured default platform.
// Exactly one bridge receives each event. When nothing matches, routing
// fails with an *errors.NoBridgeError.
package manager

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Iron-Ham/tether/internal/approval"
	"github.com/Iron-Ham/tether/internal/bridge"
	"github.com/Iron-Ham/tether/internal/errors"
	"github.com/Iron-Ham/tether/internal/event"
	"github.com/Iron-Ham/tether/internal/logging"
	"github.com/Iron-Ham/tether/internal/metrics"
)

// Event kinds used as the metrics label.
const (
	KindOutput   = "output"
	KindApproval = "approval"
	KindStatus   = "status"
	KindTyping   = "typing"
	KindExit     = "exit"
	KindRemoved  = "removed"
)

// Manager holds one bridge per platform.
type Manager struct {
	mu              sync.RWMutex
	bridges         map[string]*bridge.Core
	defaultPlatform string
	started         bool

	logger  *logging.Logger
	metrics *metrics.Metrics
}

// New creates an empty Manager.
func New(opts ...Option) *Manager {
	cfg := &managerConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	logger := cfg.logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Manager{
		bridges:         make(map[string]*bridge.Core),
		defaultPlatform: cfg.defaultPlatform,
		logger:          logger.WithComponent("manager"),
		metrics:         cfg.metrics,
	}
}

// Register adds a bridge. Each platform may be registered once.
func (m *Manager) Register(core *bridge.Core) error {
	if core == nil {
		return fmt.Errorf("manager: bridge must not be nil")
	}
	platform := core.Platform()

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.bridges[platform]; exists {
		return fmt.Errorf("manager: platform %q already registered", platform)
	}
	m.bridges[platform] = core
	m.logger.Info("bridge registered", "platform", platform)
	return nil
}

// Bridge returns the bridge for a platform.
func (m *Manager) Bridge(platform string) (*bridge.Core, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	core, ok := m.bridges[platform]
	return core, ok
}

// Platforms returns the registered platform names in sorted order.
func (m *Manager) Platforms() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.platformsLocked()
}

func (m *Manager) platformsLocked() []string {
	names := make([]string, 0, len(m.bridges))
	for name := range m.bridges {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultPlatform returns the platform used for sessions without a binding
// or hint.
func (m *Manager) DefaultPlatform() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.defaultPlatform
}

// SetDefaultPlatform changes the fallback platform. An empty name disables
// the fallback.
func (m *Manager) SetDefaultPlatform(platform string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultPlatform = platform
}

// Start starts every registered bridge. Bridges started before a failure
// are stopped again.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return fmt.Errorf("manager: already started")
	}

	var started []*bridge.Core
	for _, name := range m.platformsLocked() {
		core := m.bridges[name]
		if err := core.Start(ctx); err != nil {
			for _, c := range started {
				c.Stop()
			}
			return fmt.Errorf("manager: start %s bridge: %w", name, err)
		}
		started = append(started, core)
	}
	m.started = true
	return nil
}

// Stop stops every registered bridge. It is safe to call multiple times.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, name := range m.platformsLocked() {
		m.bridges[name].Stop()
	}
	m.started = false
}

// Resolve returns the bridge that should receive events for a session.
func (m *Manager) Resolve(sessionID, platformHint string) (*bridge.Core, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, name := range m.platformsLocked() {
		if core := m.bridges[name]; core.OwnsSession(sessionID) {
			return core, nil
		}
	}
	if platformHint != "" {
		if core, ok := m.bridges[platformHint]; ok {
			return core, nil
		}
	}
	if m.defaultPlatform != "" {
		if core, ok := m.bridges[m.defaultPlatform]; ok {
			return core, nil
		}
	}
	return nil, errors.NewNoBridgeError(sessionID, platformHint)
}

// owner returns the bridge that has a thread for the session, if any.
func (m *Manager) owner(sessionID string) (*bridge.Core, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, name := range m.platformsLocked() {
		if core := m.bridges[name]; core.OwnsSession(sessionID) {
			return core, true
		}
	}
	return nil, false
}

// route resolves the bridge for a session and runs fn on it.
func (m *Manager) route(sessionID, hint, kind string, fn func(*bridge.Core) error) error {
	core, err := m.Resolve(sessionID, hint)
	if err != nil {
		m.metrics.RoutingFailed()
		m.logger.Warn("no bridge for session",
			"session_id", sessionID,
			"platform_hint", hint,
			"kind", kind,
		)
		return err
	}
	m.metrics.EventRouted(core.Platform(), kind)
	return fn(core)
}

// RouteEvent delivers a store event to the owning bridge.
func (m *Manager) RouteEvent(ctx context.Context, e event.SessionEvent, platformHint string) error {
	if e.IsHistory() {
		return nil
	}
	return m.route(e.Session(), platformHint, eventKind(e), func(core *bridge.Core) error {
		return core.HandleEvent(ctx, e)
	})
}

func eventKind(e event.SessionEvent) string {
	switch e.EventType() {
	case event.TypeOutput:
		return KindOutput
	case event.TypePermissionRequest:
		return KindApproval
	case event.TypeExit:
		return KindExit
	case event.TypeState, event.TypeError:
		return KindStatus
	default:
		return e.EventType()
	}
}

// RouteOutput delivers agent output.
func (m *Manager) RouteOutput(ctx context.Context, sessionID, text string, final bool, platformHint string) error {
	return m.route(sessionID, platformHint, KindOutput, func(core *bridge.Core) error {
		return core.OnOutput(ctx, sessionID, text, final)
	})
}

// RouteStatus delivers a status change. The "error" status goes through the
// bridge's debouncer.
func (m *Manager) RouteStatus(ctx context.Context, sessionID, status, message, platformHint string) error {
	return m.route(sessionID, platformHint, KindStatus, func(core *bridge.Core) error {
		return core.OnStatusChange(ctx, sessionID, status, message)
	})
}

// RouteApproval delivers a permission or choice request.
func (m *Manager) RouteApproval(ctx context.Context, req approval.Request, platformHint string) error {
	return m.route(req.SessionID, platformHint, KindApproval, func(core *bridge.Core) error {
		return core.OnApprovalRequest(ctx, req)
	})
}

// RouteTyping starts the typing indicator on the owning bridge.
func (m *Manager) RouteTyping(ctx context.Context, sessionID, platformHint string) error {
	return m.route(sessionID, platformHint, KindTyping, func(core *bridge.Core) error {
		return core.OnTyping(ctx, sessionID)
	})
}

// RouteTypingStopped stops the typing indicator. Sessions without a thread
// have none to stop.
func (m *Manager) RouteTypingStopped(sessionID string) {
	if core, ok := m.owner(sessionID); ok {
		core.OnTypingStopped(sessionID)
	}
}

// RouteExit delivers a session exit.
func (m *Manager) RouteExit(ctx context.Context, sessionID string, exitCode int, platformHint string) error {
	return m.route(sessionID, platformHint, KindExit, func(core *bridge.Core) error {
		return core.OnSessionExit(ctx, sessionID, exitCode)
	})
}

// RouteRemoved tells every bridge to drop a session, including bridges that
// hold timers or debounce state for it without a thread.
func (m *Manager) RouteRemoved(ctx context.Context, sessionID string) error {
	m.mu.RLock()
	cores := make([]*bridge.Core, 0, len(m.bridges))
	for _, name := range m.platformsLocked() {
		cores = append(cores, m.bridges[name])
	}
	m.mu.RUnlock()

	var errs []error
	for _, core := range cores {
		if err := core.OnSessionRemoved(ctx, sessionID); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", core.Platform(), err))
		}
		m.metrics.EventRouted(core.Platform(), KindRemoved)
	}
	return errors.Join(errs...)
}

// HandleHumanReply passes a reply from a platform thread to that platform's
// bridge.
func (m *Manager) HandleHumanReply(ctx context.Context, platform, threadID, text, actor string) error {
	core, ok := m.Bridge(platform)
	if !ok {
		return fmt.Errorf("manager: no bridge for platform %q", platform)
	}
	return core.HandleHumanReply(ctx, threadID, text, actor)
}

// HandleCommand passes a command from a platform thread to that platform's
// bridge.
func (m *Manager) HandleCommand(ctx context.Context, platform, threadID, name, args string) error {
	core, ok := m.Bridge(platform)
	if !ok {
		return fmt.Errorf("manager: no bridge for platform %q", platform)
	}
	return core.HandleCommand(ctx, threadID, name, args)
}
