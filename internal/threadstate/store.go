// Package threadstate persists session-to-thread bindings for hosts.
//
// Two backends implement binding.Persister: JSONStore, a single JSON file
// that is easy to inspect and edit, and SQLiteStore, for hosts that already
// keep state in SQLite. Watch reloads a JSON file when another process
// changes it.
package threadstate

import (
	"fmt"
	"time"

	"github.com/Iron-Ham/tether/internal/binding"
	"github.com/Iron-Ham/tether/internal/logging"
)

// Backend names accepted by Open.
const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

// Store is a binding.Persister that may hold open resources.
type Store interface {
	binding.Persister
	Path() string
	Close() error
}

var (
	_ Store = (*JSONStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)

// Open returns the store for a backend name.
func Open(backend, path string, opts ...Option) (Store, error) {
	switch backend {
	case "", BackendJSON:
		return NewJSONStore(path, opts...), nil
	case BackendSQLite:
		return OpenSQLite(path, opts...)
	default:
		return nil, fmt.Errorf("threadstate: unknown backend %q (want %s or %s)", backend, BackendJSON, BackendSQLite)
	}
}

type options struct {
	logger *logging.Logger
	now    func() time.Time
}

// Option configures a store.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithNow sets the time source for updated_at columns.
func WithNow(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func applyOptions(opts []Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = logging.NopLogger()
	}
	o.logger = o.logger.WithComponent("threadstate")
	if o.now == nil {
		o.now = time.Now
	}
	return o
}
