package bridge

import (
	"time"

	"github.com/Iron-Ham/tether/internal/autoapprove"
	"github.com/Iron-Ham/tether/internal/batch"
	"github.com/Iron-Ham/tether/internal/binding"
	"github.com/Iron-Ham/tether/internal/clock"
	"github.com/Iron-Ham/tether/internal/logging"
	"github.com/Iron-Ham/tether/internal/metrics"
)

// Config holds the tunables of a Core.
type Config struct {
	// ErrorDebounce suppresses a repeated error notification inside the
	// window. Zero disables debouncing.
	ErrorDebounce time.Duration
	// AutoApproveWindow is how long an "allow all/dir/<Tool>" rule lasts.
	AutoApproveWindow time.Duration
	// BatchDelay is the coalescing window for auto-approve notifications.
	BatchDelay time.Duration
	// UnbindOnExit releases a session's thread when the session exits.
	// By default threads stay bound for post-mortem review.
	UnbindOnExit bool
	// DefaultAdapter is used by the new command when no agent is named.
	DefaultAdapter string
	// ThreadNameMaxLen caps generated thread names.
	ThreadNameMaxLen int
	// TypingRefresh is how often the typing indicator is re-sent.
	TypingRefresh time.Duration
	// ExternalPageSize is the number of external sessions per list page.
	ExternalPageSize int
}

// DefaultConfig returns the defaults used when a field is left zero.
func DefaultConfig() Config {
	return Config{
		AutoApproveWindow: autoapprove.DefaultWindow,
		BatchDelay:        batch.DefaultDelay,
		ThreadNameMaxLen:  64,
		TypingRefresh:     8 * time.Second,
		ExternalPageSize:  10,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.AutoApproveWindow <= 0 {
		c.AutoApproveWindow = d.AutoApproveWindow
	}
	if c.BatchDelay <= 0 {
		c.BatchDelay = d.BatchDelay
	}
	if c.ThreadNameMaxLen <= 0 {
		c.ThreadNameMaxLen = d.ThreadNameMaxLen
	}
	if c.TypingRefresh <= 0 {
		c.TypingRefresh = d.TypingRefresh
	}
	if c.ExternalPageSize <= 0 {
		c.ExternalPageSize = d.ExternalPageSize
	}
	if c.ErrorDebounce < 0 {
		c.ErrorDebounce = 0
	}
	return c
}

// Option configures a Core.
type Option func(*options)

type options struct {
	config    Config
	logger    *logging.Logger
	clock     clock.Clock
	metrics   *metrics.Metrics
	persister binding.Persister
}

// WithConfig sets the tunables. Zero fields fall back to DefaultConfig.
func WithConfig(cfg Config) Option {
	return func(o *options) {
		o.config = cfg
	}
}

// WithLogger sets the logger for the core.
func WithLogger(logger *logging.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithClock replaces the real clock, for tests.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// WithMetrics records approvals, suppressed errors and flushed batches.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithPersister makes thread bindings durable.
func WithPersister(p binding.Persister) Option {
	return func(o *options) {
		o.persister = p
	}
}
