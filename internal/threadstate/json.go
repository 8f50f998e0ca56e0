package threadstate

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Iron-Ham/tether/internal/binding"
	"github.com/Iron-Ham/tether/internal/errors"
	"github.com/Iron-Ham/tether/internal/logging"
)

// JSONStore keeps bindings in a flat JSON object:
//
//	{"<session id>": {"platform": "slack", "thread_id": "C1/1700000000.1"}}
//
// Writes are atomic and hold a file lock, so several processes may share
// the file.
type JSONStore struct {
	path   string
	logger *logging.Logger

	// mu serializes read-modify-write cycles within the process; the file
	// lock covers other processes.
	mu sync.Mutex
}

// NewJSONStore creates a store backed by path. The file is created on the
// first save.
func NewJSONStore(path string, opts ...Option) *JSONStore {
	o := applyOptions(opts)
	return &JSONStore{path: path, logger: o.logger}
}

// Path returns the backing file path.
func (s *JSONStore) Path() string { return s.path }

// LoadBindings reads every binding. A missing file yields an empty map, as
// does a corrupt one, which is logged. Entries with a blank session ID,
// platform or thread ID are dropped.
func (s *JSONStore) LoadBindings(_ context.Context) (map[string]binding.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked()
}

func (s *JSONStore) readLocked() (map[string]binding.Thread, error) {
	out := make(map[string]binding.Thread)

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return out, nil
		}
		return nil, fmt.Errorf("%w: read %s: %v", errors.ErrStorage, s.path, err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return out, nil
	}

	var raw map[string]binding.Thread
	if err := json.Unmarshal(data, &raw); err != nil {
		s.logger.Warn("ignoring corrupt binding file", "path", s.path, "error", err)
		return out, nil
	}
	for id, t := range raw {
		id = strings.TrimSpace(id)
		t.Platform = strings.TrimSpace(t.Platform)
		t.ID = strings.TrimSpace(t.ID)
		if id == "" || t.Platform == "" || t.ID == "" {
			continue
		}
		out[id] = t
	}
	return out, nil
}

// SaveBinding sets or, with a nil thread, deletes one session's binding.
func (s *JSONStore) SaveBinding(_ context.Context, sessionID string, thread *binding.Thread) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("%w: create directory: %v", errors.ErrStorage, err)
	}
	lock := newFileLock(s.path)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrStorage, err)
	}
	defer func() { _ = lock.Unlock() }()

	all, err := s.readLocked()
	if err != nil {
		return err
	}
	if thread == nil {
		if _, ok := all[sessionID]; !ok {
			return nil
		}
		delete(all, sessionID)
	} else {
		all[sessionID] = *thread
	}

	// encoding/json writes map keys in sorted order.
	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal bindings: %w", err)
	}
	if err := atomicWriteFile(s.path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrStorage, err)
	}
	return nil
}

// Close is a no-op; JSONStore holds no open resources.
func (s *JSONStore) Close() error { return nil }

// atomicWriteFile writes data to a temporary file in the same directory and
// renames it over path, so readers never see a partial file.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("set permissions: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}

	success = true
	return nil
}
