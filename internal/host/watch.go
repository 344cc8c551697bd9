package host

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

// Watcher calls Reload whenever the watched file is written. Bursts of
// events within Debounce collapse into one reload.
type Watcher struct {
	Path     string
	Reload   func(ctx context.Context) error
	Debounce time.Duration
	Logger   *log.Logger
}

// Run watches until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	logger := w.Logger
	if logger == nil {
		logger = log.Default()
	}
	debounce := w.Debounce
	if debounce <= 0 {
		debounce = 100 * time.Millisecond
	}

	path, err := filepath.Abs(w.Path)
	if err != nil {
		return fmt.Errorf("resolve watch path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("error creating fsnotify watcher: %w", err)
	}
	defer watcher.Close() //nolint:errcheck

	// Watch the directory: editors often replace the file instead of
	// writing it in place.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("error adding dir to fsnotify watcher: %w", err)
	}
	logger.Info("fsnotify watching dir", "dir", dir)

	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			logger.Debug("fsnotify event", "file", event.Name, "event", event.Op)
			timer.Reset(debounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Debug("fsnotify error", "dir", dir, "error", err)
		case <-timer.C:
			if err := w.Reload(ctx); err != nil {
				logger.Error("Reload failed", "path", path, "error", err)
			}
		}
	}
}
