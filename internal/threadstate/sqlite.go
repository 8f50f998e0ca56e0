package threadstate

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Iron-Ham/tether/internal/binding"
	"github.com/Iron-Ham/tether/internal/errors"
	"github.com/Iron-Ham/tether/internal/logging"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS thread_bindings (
  session_id TEXT PRIMARY KEY,
  platform   TEXT NOT NULL,
  thread_id  TEXT NOT NULL,
  updated_at INTEGER NOT NULL  -- unix milliseconds
);
CREATE INDEX IF NOT EXISTS idx_thread_bindings_thread ON thread_bindings(platform, thread_id);
`

// SQLiteStore keeps bindings in a SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *logging.Logger
	now    func() time.Time
}

// OpenSQLite opens (creating if needed) the database at path and applies the
// schema.
func OpenSQLite(path string, opts ...Option) (*SQLiteStore, error) {
	o := applyOptions(opts)
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: create directory: %v", errors.ErrStorage, err)
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", errors.ErrStorage, path, err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("%w: %s: %v", errors.ErrStorage, pragma, err)
		}
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: apply schema: %v", errors.ErrStorage, err)
	}

	return &SQLiteStore{db: conn, path: path, logger: o.logger, now: o.now}, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.path }

// LoadBindings reads every binding.
func (s *SQLiteStore) LoadBindings(ctx context.Context) (map[string]binding.Thread, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT session_id, platform, thread_id FROM thread_bindings`)
	if err != nil {
		return nil, fmt.Errorf("%w: query bindings: %v", errors.ErrStorage, err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]binding.Thread)
	for rows.Next() {
		var id string
		var t binding.Thread
		if err := rows.Scan(&id, &t.Platform, &t.ID); err != nil {
			return nil, fmt.Errorf("%w: scan binding: %v", errors.ErrStorage, err)
		}
		if id == "" || t.Platform == "" || t.ID == "" {
			continue
		}
		out[id] = t
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: read bindings: %v", errors.ErrStorage, err)
	}
	return out, nil
}

// SaveBinding upserts or, with a nil thread, deletes one session's binding.
func (s *SQLiteStore) SaveBinding(ctx context.Context, sessionID string, thread *binding.Thread) error {
	var err error
	if thread == nil {
		_, err = s.db.ExecContext(ctx, `DELETE FROM thread_bindings WHERE session_id = ?`, sessionID)
	} else {
		_, err = s.db.ExecContext(ctx, `
INSERT INTO thread_bindings (session_id, platform, thread_id, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(session_id) DO UPDATE SET
  platform = excluded.platform,
  thread_id = excluded.thread_id,
  updated_at = excluded.updated_at`,
			sessionID, thread.Platform, thread.ID, s.now().UnixMilli())
	}
	if err != nil {
		s.logger.Warn("save binding failed", "session_id", sessionID, "error", err)
		return fmt.Errorf("%w: save binding %s: %v", errors.ErrStorage, sessionID, err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
