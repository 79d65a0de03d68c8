package cachestore

import (
	"context"
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// TamperWatcher watches an operator-configured directory for external
// writes that bypass the cache database — e.g. an operator also exposing
// the cache's blob storage over a read-only network share. It is purely
// diagnostic: the database, not the filesystem, remains the source of
// truth for what the cache holds (spec §4.3's content lives in the BLOB
// column), so a detected change is logged, never auto-repaired.
type TamperWatcher struct {
	watcher *fsnotify.Watcher
	logger  *slog.Logger
}

// WatchDir starts a TamperWatcher on dir. Callers should call Close when
// done; Run should be invoked in its own goroutine.
func WatchDir(dir string, logger *slog.Logger) (*TamperWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, err
	}

	return &TamperWatcher{watcher: w, logger: logger}, nil
}

// Run blocks, logging a warning for every write/remove event observed
// until ctx is cancelled.
func (t *TamperWatcher) Run(ctx context.Context) {
	for {
		select {
		case ev, ok := <-t.watcher.Events:
			if !ok {
				return
			}

			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				t.logger.Warn("cachestore: external write detected in watched cache directory",
					slog.String("path", ev.Name), slog.String("op", ev.Op.String()))
			}
		case err, ok := <-t.watcher.Errors:
			if !ok {
				return
			}

			t.logger.Error("cachestore: watch error", slog.String("error", err.Error()))
		case <-ctx.Done():
			return
		}
	}
}

// Close releases the underlying OS watch handle.
func (t *TamperWatcher) Close() error {
	return t.watcher.Close()
}
