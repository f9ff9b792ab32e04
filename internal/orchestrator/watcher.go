package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/fyrsmithlabs/coachd/internal/logging"
	"github.com/fyrsmithlabs/coachd/internal/session"
	"go.uber.org/zap"
)

// ErrWatcherFailed indicates the filesystem watcher could not be created.
var ErrWatcherFailed = errors.New("failed to initialize definitions watcher")

// DefinitionWatcher serves definitions from a file and reloads them when the
// file changes. A reload that fails to parse or validate keeps the previous
// definitions.
type DefinitionWatcher struct {
	path    string
	current atomic.Pointer[Definitions]
	watcher *fsnotify.Watcher
	logger  *logging.Logger
	reloads chan Definitions

	mu      sync.Mutex
	started bool
	closed  bool
	stop    chan struct{}
	done    chan struct{}
}

// NewDefinitionWatcher loads path and prepares to watch it. The initial load
// must succeed.
func NewDefinitionWatcher(path string, logger *logging.Logger) (*DefinitionWatcher, error) {
	defs, err := LoadDefinitions(path)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}

	w := &DefinitionWatcher{
		path:    filepath.Clean(path),
		watcher: fw,
		logger:  logger.Named("definitions"),
		reloads: make(chan Definitions, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	w.current.Store(&defs)
	return w, nil
}

// Definition implements DefinitionSource.
func (w *DefinitionWatcher) Definition(phase session.Phase) (*Definition, bool) {
	return (*w.current.Load()).Definition(phase)
}

// Current returns the active definitions.
func (w *DefinitionWatcher) Current() Definitions {
	return *w.current.Load()
}

// Reloads delivers each successfully reloaded set. Sends never block; a
// reader that falls behind only sees the latest set.
func (w *DefinitionWatcher) Reloads() <-chan Definitions {
	return w.reloads
}

// Start watches the file's directory so that editors which replace the file
// by rename are still seen. It runs at most once and not after Close.
func (w *DefinitionWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch {
	case w.closed:
		return errors.New("definitions watcher is closed")
	case w.started:
		return errors.New("definitions watcher already started")
	}
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(w.path), err)
	}
	w.started = true
	go w.run(ctx)
	return nil
}

// Close stops watching and waits for the event loop to exit. Later calls
// return nil.
func (w *DefinitionWatcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	started := w.started
	close(w.stop)
	err := w.watcher.Close()
	w.mu.Unlock()

	if started {
		<-w.done
	} else {
		close(w.done)
	}
	return err
}

// Done is closed once the event loop has exited, or on Close when the
// watcher never started.
func (w *DefinitionWatcher) Done() <-chan struct{} {
	return w.done
}

func (w *DefinitionWatcher) run(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				w.reload(ctx)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn(ctx, "definitions watcher error", zap.Error(err))
		}
	}
}

func (w *DefinitionWatcher) reload(ctx context.Context) {
	defs, err := LoadDefinitions(w.path)
	if err != nil {
		w.logger.Warn(ctx, "keeping previous definitions",
			zap.String("path", w.path),
			zap.Error(err))
		return
	}
	w.current.Store(&defs)
	w.logger.Info(ctx, "definitions reloaded", zap.String("path", w.path))

	select {
	case <-w.reloads:
	default:
	}
	select {
	case w.reloads <- defs:
	default:
	}
}
