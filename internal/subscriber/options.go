package subscriber

import (
	"github.com/Iron-Ham/tether/internal/clock"
	"github.com/Iron-Ham/tether/internal/logging"
)

type options struct {
	config Config
	clock  clock.Clock
	logger *logging.Logger
}

// Option configures a Subscriber.
type Option func(*options)

// WithConfig sets the buffering configuration. Zero fields keep their
// defaults.
func WithConfig(cfg Config) Option {
	return func(o *options) { o.config = cfg }
}

// WithClock sets the clock used for delayed output flushes.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) { o.logger = l }
}
