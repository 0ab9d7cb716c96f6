// Package watch feeds live workspace file activity into the recorder
// as file-change events.
package watch

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/buildlog-ai/buildlog/internal/model"
	"github.com/buildlog-ai/buildlog/internal/recorder"
)

// excludedDirs never produce events and are not descended into.
var excludedDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	"dist":         true,
	"target":       true,
}

// Watcher observes one workspace root recursively. Events arriving
// while no session is recording are dropped — the recorder's buffer
// dedupes per path, so no debouncing is needed here beyond directory
// registration.
type Watcher struct {
	rec    *recorder.Recorder
	logger *slog.Logger
	root   string

	fsw    *fsnotify.Watcher
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a watcher for the given workspace root.
func New(rec *recorder.Recorder, root string, logger *slog.Logger) *Watcher {
	return &Watcher{rec: rec, logger: logger, root: root, done: make(chan struct{})}
}

// Start registers the directory tree and begins the event loop.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := addDirsRecursive(fsw, w.root); err != nil {
		_ = fsw.Close()
		return err
	}
	w.fsw = fsw

	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	go w.loop(loopCtx)

	w.logger.Info("watch: workspace watcher started", "root", w.root)
	return nil
}

// Stop shuts the watcher down and waits for the loop to exit.
func (w *Watcher) Stop() {
	if w.cancel == nil {
		return
	}
	w.cancel()
	_ = w.fsw.Close()
	<-w.done
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(event)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch: filesystem error", "error", err)
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	name := filepath.Base(event.Name)
	if excludedDirs[name] || isHidden(name) {
		return
	}

	// New directories join the watch set.
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.fsw.Add(event.Name); err != nil {
				w.logger.Warn("watch: add directory", "path", event.Name, "error", err)
			}
			return
		}
	}

	var kind model.FileChangeKind
	switch {
	case event.Has(fsnotify.Create):
		kind = model.FileCreated
	case event.Has(fsnotify.Write):
		kind = model.FileModified
	case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
		kind = model.FileDeleted
	default:
		return
	}

	path := event.Name
	if rel, err := filepath.Rel(w.root, event.Name); err == nil {
		path = rel
	}

	err := w.rec.HandleEvent(model.SessionEvent{
		Type:       model.EventFileChange,
		Timestamp:  time.Now(),
		FileChange: &model.FileChangePayload{Path: path, Kind: kind},
	})
	// Idle recorder just means nothing is being recorded right now.
	if err != nil && !errors.Is(err, recorder.ErrNoSession) {
		w.logger.Warn("watch: deliver event", "path", path, "error", err)
	}
}

func addDirsRecursive(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		name := d.Name()
		if path != root && (excludedDirs[name] || isHidden(name)) {
			return filepath.SkipDir
		}
		return fsw.Add(path)
	})
}

func isHidden(name string) bool {
	return len(name) > 0 && name[0] == '.'
}
