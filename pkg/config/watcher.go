package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// ReloadFunc receives the result of re-parsing the config file after a
// change on disk.
type ReloadFunc func(patch *RunPatch, warnings []MigrationWarning, err error)

// Watcher re-parses the YAML config whenever the file changes, so
// long-running processes (the schedule worker in particular) pick up edits
// without a restart.
type Watcher struct {
	path    string
	lookup  LookupFunc
	watcher *fsnotify.Watcher
	logger  zerolog.Logger
}

// Watch starts watching path and invokes reload after each write. Events
// are debounced, since editors commonly emit several writes per save. The
// watcher stops when ctx is cancelled or Close is called.
func Watch(ctx context.Context, path string, lookup LookupFunc, logger zerolog.Logger, reload ReloadFunc) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	// Watch the directory rather than the file: many editors replace the
	// file on save, which drops a direct file watch.
	if err := fw.Add(filepath.Dir(path)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", path, err)
	}

	w := &Watcher{path: path, lookup: lookup, watcher: fw, logger: logger}
	go w.processEvents(ctx, reload)
	return w, nil
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

func (w *Watcher) processEvents(ctx context.Context, reload ReloadFunc) {
	var reloadTimer *time.Timer
	const reloadDelay = 500 * time.Millisecond

	target := filepath.Clean(w.path)
	for {
		select {
		case <-ctx.Done():
			_ = w.watcher.Close()
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			w.logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("Config file changed")

			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(reloadDelay, func() {
				patch, warnings, err := Load(w.path, w.lookup)
				reload(patch, warnings, err)
			})

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}
