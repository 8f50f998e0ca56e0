package manager

import (
	"github.com/Iron-Ham/tether/internal/logging"
	"github.com/Iron-Ham/tether/internal/metrics"
)

// managerConfig holds optional configuration for a Manager.
type managerConfig struct {
	defaultPlatform string
	logger          *logging.Logger
	metrics         *metrics.Metrics
}

// Option configures a Manager.
type Option func(*managerConfig)

// WithDefaultPlatform sets the platform that receives sessions with neither
// a binding nor a platform hint.
func WithDefaultPlatform(platform string) Option {
	return func(c *managerConfig) { c.defaultPlatform = platform }
}

// WithLogger sets the logger for routing decisions.
func WithLogger(l *logging.Logger) Option {
	return func(c *managerConfig) { c.logger = l }
}

// WithMetrics records routed and unroutable events.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *managerConfig) { c.metrics = m }
}
