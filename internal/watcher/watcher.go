// Package watcher calls back when a file is changed on disk, debouncing
// bursts of writes into one call.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

const DefaultDebounce = 500 * time.Millisecond

type Option func(*config)

type config struct {
	debounce time.Duration
	logger   *slog.Logger
}

func WithDebounce(d time.Duration) Option {
	return func(c *config) { c.debounce = d }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *config) { c.logger = logger }
}

// WatchFile watches the directory holding path and runs callback after
// changes to path or its sqlite sidecar files (-wal, -journal) settle. It
// stops when ctx is done.
func WatchFile(
	ctx context.Context,
	path string,
	callback func(),
	opts ...Option,
) error {
	cfg := config{debounce: DefaultDebounce, logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("couldn't resolve '%s': %w", path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return err
	}

	reload := make(chan struct{}, 1)
	go scheduleReload(ctx, reload, callback, cfg.debounce)
	go handleWatcher(ctx, watcher, reload, abs, cfg.logger)
	return nil
}

func handleWatcher(
	ctx context.Context,
	watcher *fsnotify.Watcher,
	reload chan<- struct{},
	target string,
	logger *slog.Logger,
) {
	defer watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !strings.HasPrefix(event.Name, target) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				select {
				case reload <- struct{}{}:
				default:
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("file watcher error", "path", target, "error", err)
		}
	}
}

func scheduleReload(
	ctx context.Context,
	reload <-chan struct{},
	callback func(),
	duration time.Duration,
) {
	var timer *time.Timer = nil
	var c <-chan time.Time = nil
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case <-reload:
			if timer != nil {
				timer.Reset(duration)
			} else {
				timer = time.NewTimer(duration)
				c = timer.C
			}

		case <-c:
			c = nil
			timer = nil
			callback()
		}
	}
}
