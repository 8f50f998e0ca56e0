package threadstate

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Iron-Ham/tether/internal/binding"
)

// watchDebounce coalesces the bursts of events an atomic rename produces.
const watchDebounce = 100 * time.Millisecond

// Watch calls fn with the current bindings of a JSON store, then again each
// time the file changes, until ctx is done. The parent directory is watched
// because atomic writes replace the file rather than modify it.
func Watch(ctx context.Context, store *JSONStore, fn func(map[string]binding.Thread)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	dir := filepath.Dir(store.Path())
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch directory %s: %w", dir, err)
	}

	reload := func() {
		all, err := store.LoadBindings(ctx)
		if err != nil {
			store.logger.Warn("reload bindings failed", "path", store.Path(), "error", err)
			return
		}
		fn(all)
	}
	reload()

	target := filepath.Base(store.Path())
	debounce := time.NewTimer(watchDebounce)
	if !debounce.Stop() {
		<-debounce.C
	}

	for {
		select {
		case <-ctx.Done():
			debounce.Stop()
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			debounce.Reset(watchDebounce)

		case <-debounce.C:
			reload()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			store.logger.Warn("file watcher error", "path", store.Path(), "error", err)
		}
	}
}
