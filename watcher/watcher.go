// Package watcher observes a single document file on disk and reports
// content-level changes: the initial content, debounced edits, deletion,
// and watch errors. Editors replace files atomically (write to temp,
// rename over), so the watch is placed on the parent directory and
// filtered to the document's name.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/justapithecus/folio/log"
)

// DefaultDebounce coalesces editor write bursts into one change event.
const DefaultDebounce = 100 * time.Millisecond

// EventType classifies watcher events.
type EventType string

const (
	// EventInitial carries the file's content at watch start.
	EventInitial EventType = "initial"
	// EventChanged carries the file's new content after an on-disk change.
	EventChanged EventType = "changed"
	// EventDeleted reports the file disappearing. The watch continues, so
	// recreation produces a changed event.
	EventDeleted EventType = "deleted"
	// EventError reports a watch or read failure.
	EventError EventType = "error"
)

// Event is one watcher notification.
type Event struct {
	Type    EventType
	Content string
	Err     error
}

// Watcher watches one file.
type Watcher struct {
	path     string
	debounce time.Duration
	logger   *log.Logger
	events   chan Event

	mu          sync.Mutex
	closed      bool
	lastContent string
	hasContent  bool
}

// New creates a watcher for the given file. A non-positive debounce
// falls back to DefaultDebounce.
func New(path string, debounce time.Duration, logger *log.Logger) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		path:     path,
		debounce: debounce,
		logger:   logger,
		events:   make(chan Event, 16),
	}
}

// Events returns the notification channel. It is closed when Run
// returns.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Run reads the initial content, then watches until the context is
// canceled. The initial read failing is fatal; later read failures are
// reported as error events and the watch continues.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.closeEvents()

	content, err := os.ReadFile(w.path)
	if err != nil {
		w.emit(Event{Type: EventError, Err: err})
		return fmt.Errorf("initial read of %s: %w", w.path, err)
	}
	w.remember(string(content))
	w.emit(Event{Type: EventInitial, Content: string(content)})

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = fsw.Close() }()

	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(w.path), err)
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
			return ctx.Err()

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(w.debounce, w.poll)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", map[string]any{
				"error": err.Error(),
			})
			w.emit(Event{Type: EventError, Err: err})
		}
	}
}

// poll re-reads the file after the debounce window and classifies the
// result. Unchanged content is suppressed; editors often touch files
// without altering them.
func (w *Watcher) poll() {
	content, err := os.ReadFile(w.path)
	if err != nil {
		if os.IsNotExist(err) {
			w.forget()
			w.emit(Event{Type: EventDeleted})
			return
		}
		w.emit(Event{Type: EventError, Err: err})
		return
	}

	if w.changed(string(content)) {
		w.emit(Event{Type: EventChanged, Content: string(content)})
	}
}

func (w *Watcher) remember(content string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastContent = content
	w.hasContent = true
}

func (w *Watcher) forget() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastContent = ""
	w.hasContent = false
}

// changed records the new content and reports whether it differs.
func (w *Watcher) changed(content string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.hasContent && w.lastContent == content {
		return false
	}
	w.lastContent = content
	w.hasContent = true
	return true
}

func (w *Watcher) emit(ev Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	select {
	case w.events <- ev:
	default:
		w.logger.Warn("dropping watcher event, consumer too slow", map[string]any{
			"type": ev.Type,
		})
	}
}

func (w *Watcher) closeEvents() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	close(w.events)
}
