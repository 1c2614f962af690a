package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ChangeHandler receives every configuration that was reloaded and validated.
type ChangeHandler func(Config)

const defaultDebounce = 100 * time.Millisecond

// Watcher reloads a config file when it changes on disk.
//
// The directory is watched rather than the file so that editors which save
// by renaming a temporary file are still seen. Bursts of events are collapsed
// into one reload after the debounce window. A file that fails to load or
// validate is logged and skipped; the handler only sees valid configs.
type Watcher struct {
	path     string
	handler  ChangeHandler
	logger   *slog.Logger
	debounce time.Duration
	watcher  *fsnotify.Watcher

	done     chan struct{}
	stopOnce sync.Once
}

func NewWatcher(path string, handler ChangeHandler, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	return &Watcher{
		path:     abs,
		handler:  handler,
		logger:   logger.With(slog.String("component", "config"), slog.String("path", abs)),
		debounce: defaultDebounce,
		watcher:  fw,
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching. Events are processed on a single goroutine until ctx
// is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}
	go w.loop(ctx)
	return nil
}

func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.watcher.Close()
	})
}

func (w *Watcher) loop(ctx context.Context) {
	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", slog.Any("error", err))
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Warn("config reload rejected", slog.Any("error", err))
		return
	}
	w.logger.Info("config reloaded")
	w.handler(cfg)
}
