// Package watcher tracks which files a session has touched between
// checkpoints. A debounced fsnotify watch accumulates paths; the guard
// drains them into the active-files list of the next snapshot.
package watcher

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Tracker watches one or more directories and records every path that
// saw a create/write/rename event, deduplicated and debounced.
type Tracker struct {
	debounce time.Duration
	watcher  *fsnotify.Watcher
	logger   *slog.Logger

	done    chan struct{}
	started bool
	closed  bool
	mu      sync.Mutex

	touched   map[string]time.Time
	touchedMu sync.Mutex

	debouncer  map[string]*time.Timer
	debounceMu sync.Mutex
}

// New creates a Tracker watching path.
func New(path string, debounce time.Duration, logger *slog.Logger) (*Tracker, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch path %s: %w", path, err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Tracker{
		debounce:  debounce,
		watcher:   w,
		logger:    logger,
		done:      make(chan struct{}),
		touched:   make(map[string]time.Time),
		debouncer: make(map[string]*time.Timer),
	}, nil
}

// AddPath adds another directory to the watch set.
func (t *Tracker) AddPath(path string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return fmt.Errorf("tracker is closed")
	}
	return t.watcher.Add(path)
}

// Start begins consuming events.
func (t *Tracker) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return fmt.Errorf("tracker is closed")
	}
	if t.started {
		return fmt.Errorf("tracker already started")
	}
	t.started = true
	go t.watch()
	return nil
}

// Close stops watching and releases resources.
func (t *Tracker) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if t.started {
		close(t.done)
	}

	t.debounceMu.Lock()
	for _, timer := range t.debouncer {
		timer.Stop()
	}
	t.debouncer = make(map[string]*time.Timer)
	t.debounceMu.Unlock()

	return t.watcher.Close()
}

// Touched returns the accumulated paths, sorted, without clearing them.
func (t *Tracker) Touched() []string {
	t.touchedMu.Lock()
	defer t.touchedMu.Unlock()

	paths := make([]string, 0, len(t.touched))
	for p := range t.touched {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Drain returns the accumulated paths and resets the set. Called when a
// checkpoint has captured them.
func (t *Tracker) Drain() []string {
	t.touchedMu.Lock()
	paths := make([]string, 0, len(t.touched))
	for p := range t.touched {
		paths = append(paths, p)
	}
	t.touched = make(map[string]time.Time)
	t.touchedMu.Unlock()

	sort.Strings(paths)
	return paths
}

func (t *Tracker) watch() {
	for {
		select {
		case event, ok := <-t.watcher.Events:
			if !ok {
				return
			}
			t.handleEvent(event)
		case err, ok := <-t.watcher.Errors:
			if !ok {
				return
			}
			t.logger.Warn("file watch error", "error", err)
		case <-t.done:
			return
		}
	}
}

func (t *Tracker) handleEvent(event fsnotify.Event) {
	// Deletions don't count as touches; the git capture reports those.
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
		return
	}
	t.debounceTouch(event.Name)
}

// debounceTouch records a path after its event burst settles.
func (t *Tracker) debounceTouch(path string) {
	t.debounceMu.Lock()
	defer t.debounceMu.Unlock()

	if timer, exists := t.debouncer[path]; exists {
		timer.Stop()
	}
	t.debouncer[path] = time.AfterFunc(t.debounce, func() {
		t.debounceMu.Lock()
		delete(t.debouncer, path)
		t.debounceMu.Unlock()

		t.touchedMu.Lock()
		t.touched[path] = time.Now()
		t.touchedMu.Unlock()
	})
}
