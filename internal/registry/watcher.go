package registry

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch starts an fsnotify watcher on the sites file's directory and
// reloads the registry when the file changes, until ctx is cancelled.
//
// The parent directory is watched rather than the file itself so that
// atomic editor saves (write to temp, rename over) keep being observed.
// Events are debounced: bursts of writes collapse into one reload.
func (r *Registry) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	dir := filepath.Dir(r.path)
	if err := w.Add(dir); err != nil {
		return err
	}

	r.logger.Info("registry: watching sites file", slog.String("path", r.path))

	var reloadTimer *time.Timer
	var reloadCh <-chan time.Time

	scheduleReload := func() {
		if reloadTimer == nil {
			reloadTimer = time.NewTimer(200 * time.Millisecond)
			reloadCh = reloadTimer.C
		} else {
			reloadTimer.Reset(200 * time.Millisecond)
		}
	}

	target := filepath.Clean(r.path)
	for {
		select {
		case <-ctx.Done():
			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			r.logger.Info("registry: watcher stopped")
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				scheduleReload()
			}

		case <-reloadCh:
			if err := r.Reload(); err != nil {
				r.logger.Warn("registry: reload failed", slog.String("error", err.Error()))
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("registry: watcher error", slog.String("error", err.Error()))
		}
	}
}
