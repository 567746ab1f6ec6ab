package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces bursts of file events into one reload.
const DefaultDebounce = 100 * time.Millisecond

// WatchOption configures WatchDir.
type WatchOption func(*watchOptions)

type watchOptions struct {
	debounce time.Duration
	logger   *slog.Logger
}

// WithDebounce overrides DefaultDebounce.
func WithDebounce(d time.Duration) WatchOption {
	return func(o *watchOptions) { o.debounce = d }
}

// WithWatchLogger sets the logger used for watcher errors.
func WithWatchLogger(logger *slog.Logger) WatchOption {
	return func(o *watchOptions) { o.logger = logger }
}

// WatchDir calls fn after agent definition files in dir are written, created,
// renamed or removed. Bursts of events are debounced. It blocks until ctx is
// done or the watcher fails to start.
func WatchDir(ctx context.Context, dir string, fn func(), opts ...WatchOption) error {
	o := watchOptions{debounce: DefaultDebounce, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(absDir); err != nil {
		return fmt.Errorf("failed to watch directory: %w", err)
	}

	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isAgentFile(event.Name) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(o.debounce, func() {
				if ctx.Err() != nil {
					return
				}
				o.logger.Info("agent definitions changed", "dir", absDir)
				fn()
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			o.logger.Warn("agent watcher error", "dir", absDir, "error", err)
		}
	}
}
