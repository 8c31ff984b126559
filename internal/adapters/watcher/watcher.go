// Package watcher provides inbox directory watching for dropped raster
// archives.
package watcher

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Handler is called when an archive has settled in the inbox.
type Handler func(ctx context.Context, path string) error

// Config holds watcher configuration.
type Config struct {
	Path     string
	Debounce time.Duration
}

// Watcher watches an inbox directory for raster archives. Events are
// debounced per path so a file still being copied in is only picked up
// once writes have stopped.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	handler   Handler
	logger    *slog.Logger
	path      string
	debounce  time.Duration
	mu        sync.Mutex
	pending   map[string]time.Time
}

// New creates a new inbox watcher.
func New(cfg Config, handler Handler, logger *slog.Logger) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if cfg.Debounce == 0 {
		cfg.Debounce = 500 * time.Millisecond
	}

	return &Watcher{
		fsWatcher: fsWatcher,
		handler:   handler,
		logger:    logger,
		path:      cfg.Path,
		debounce:  cfg.Debounce,
		pending:   make(map[string]time.Time),
	}, nil
}

// Start starts watching the inbox.
func (w *Watcher) Start(ctx context.Context) error {
	absPath, err := filepath.Abs(w.path)
	if err != nil {
		return err
	}

	if err := w.fsWatcher.Add(absPath); err != nil {
		return err
	}

	w.logger.Info("watching inbox", "path", absPath)

	go w.eventLoop(ctx)
	go w.debounceLoop(ctx)

	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	return w.fsWatcher.Close()
}

// eventLoop processes fsnotify events.
func (w *Watcher) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleFsEvent(event)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", "error", err)
		}
	}
}

// handleFsEvent records a single fsnotify event for debouncing. Only
// archive creation and writes matter; removals need no action because
// ingested layers do not reference the inbox file.
func (w *Watcher) handleFsEvent(event fsnotify.Event) {
	if !isRasterArchive(event.Name) {
		return
	}

	if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Write) {
		return
	}

	w.logger.Debug("inbox event", "path", event.Name, "op", event.Op.String())

	w.mu.Lock()
	w.pending[event.Name] = time.Now()
	w.mu.Unlock()
}

// debounceLoop flushes settled events.
func (w *Watcher) debounceLoop(ctx context.Context) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			w.processPending(ctx)
		}
	}
}

// processPending hands settled archives to the handler.
func (w *Watcher) processPending(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	for path, last := range w.pending {
		if now.Sub(last) < w.debounce {
			continue
		}

		delete(w.pending, path)

		w.logger.Info("ingesting inbox archive", "path", path)

		// Call handler in goroutine to not block
		go func(p string) {
			if err := w.handler(ctx, p); err != nil {
				w.logger.Error("inbox ingest failed", "path", p, "error", err)
			}
		}(path)
	}
}

// isRasterArchive checks if the path looks like an ingestible archive.
func isRasterArchive(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".zip", ".tif", ".tiff":
		return true
	}
	return false
}
