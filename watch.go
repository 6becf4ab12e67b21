package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// configDebounce coalesces the burst of events an editor save produces.
const configDebounce = 500 * time.Millisecond

// fsWatcher is the subset of *fsnotify.Watcher the config watcher needs.
type fsWatcher interface {
	Add(name string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

type fsnotifyWatcher struct{ w *fsnotify.Watcher }

func (f fsnotifyWatcher) Add(name string) error         { return f.w.Add(name) }
func (f fsnotifyWatcher) Close() error                  { return f.w.Close() }
func (f fsnotifyWatcher) Events() <-chan fsnotify.Event { return f.w.Events }
func (f fsnotifyWatcher) Errors() <-chan error          { return f.w.Errors }

func newFsnotifyWatcher() (fsWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return fsnotifyWatcher{w: w}, nil
}

// configWatcher requests a reload whenever the config file changes.
type configWatcher struct {
	path     string
	out      chan<- struct{}
	logger   *slog.Logger
	debounce time.Duration
	factory  func() (fsWatcher, error)
}

func newConfigWatcher(path string, out chan<- struct{}, logger *slog.Logger) *configWatcher {
	return &configWatcher{
		path:     filepath.Clean(path),
		out:      out,
		logger:   logger,
		debounce: configDebounce,
		factory:  newFsnotifyWatcher,
	}
}

// Start watches the file's directory, since editors often replace the file
// by rename, and returns once the watch is established.
func (cw *configWatcher) Start(ctx context.Context) error {
	w, err := cw.factory()
	if err != nil {
		return fmt.Errorf("creating config watcher: %w", err)
	}

	if err := w.Add(filepath.Dir(cw.path)); err != nil {
		w.Close()

		return fmt.Errorf("watching %s: %w", filepath.Dir(cw.path), err)
	}

	go cw.loop(ctx, w)

	return nil
}

func (cw *configWatcher) loop(ctx context.Context, w fsWatcher) {
	defer w.Close()

	timer := time.NewTimer(cw.debounce)
	timer.Stop()

	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-w.Events():
			if !ok {
				return
			}

			if !cw.relevant(ev) {
				continue
			}

			cw.logger.Debug("config file changed",
				slog.String("path", ev.Name),
				slog.String("op", ev.Op.String()),
			)
			timer.Reset(cw.debounce)

		case err, ok := <-w.Errors():
			if !ok {
				return
			}

			cw.logger.Warn("config watcher error", slog.String("error", err.Error()))

		case <-timer.C:
			cw.logger.Info("config file changed, reloading", slog.String("path", cw.path))
			requestReload(cw.out)
		}
	}
}

func (cw *configWatcher) relevant(ev fsnotify.Event) bool {
	if filepath.Clean(ev.Name) != cw.path {
		return false
	}

	return ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename)
}
