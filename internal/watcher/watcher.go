package watcher

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// EventType represents the type of file system event
type EventType string

const (
	EventCreate EventType = "create"
	EventModify EventType = "modify"
	EventDelete EventType = "delete"
	EventRename EventType = "rename"
)

// Event represents a file system event. Path is relative to the watched
// root and slash separated.
type Event struct {
	Path string
	Type EventType
}

// Batch is every event collected during one quiet period, one per path
type Batch struct {
	Root   string
	Events []Event
}

// Paths returns the paths in the batch
func (b Batch) Paths() []string {
	paths := make([]string, len(b.Events))
	for i, e := range b.Events {
		paths[i] = e.Path
	}
	return paths
}

// HasRemovals reports whether any path in the batch vanished
func (b Batch) HasRemovals() bool {
	for _, e := range b.Events {
		if e.Type == EventDelete || e.Type == EventRename {
			return true
		}
	}
	return false
}

// Filter reports whether a relative path should be skipped
type Filter func(rel string, isDir bool) bool

// Option configures a Watcher
type Option func(*Watcher)

// WithFilter skips matching paths. Skipped directories are not watched.
func WithFilter(f Filter) Option {
	return func(w *Watcher) { w.skip = f }
}

// WithLogger sets the logger used for watch errors
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// Watcher watches a directory tree and delivers debounced batches of events
type Watcher struct {
	root     string
	debounce time.Duration
	callback func(Batch)
	skip     Filter
	logger   *zap.Logger
	watcher  *fsnotify.Watcher
	done     chan struct{}
	started  bool
	closed   bool
	mu       sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]EventType
	timer     *time.Timer
}

// New creates a new Watcher for the tree rooted at root
func New(root string, debounce time.Duration, callback func(Batch), opts ...Option) (*Watcher, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		root:     root,
		debounce: debounce,
		callback: callback,
		logger:   zap.NewNop(),
		watcher:  watcher,
		done:     make(chan struct{}),
		pending:  make(map[string]EventType),
	}
	for _, opt := range opts {
		opt(w)
	}

	if err := w.addTree(root, false); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch path %s: %w", root, err)
	}
	return w, nil
}

// Root returns the watched directory
func (w *Watcher) Root() string {
	return w.root
}

// addTree watches dir and every directory below it. When report is set the
// files found are recorded as created, covering writes that landed before
// the directory was watched.
func (w *Watcher) addTree(dir string, report bool) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		rel := w.rel(path)
		if path != w.root && w.skip != nil && w.skip(rel, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return w.watcher.Add(path)
		}
		if report {
			w.record(rel, EventCreate)
		}
		return nil
	})
}

func (w *Watcher) rel(path string) string {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

// Start starts watching for events
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("watcher is closed")
	}

	if w.started {
		return fmt.Errorf("watcher already started")
	}

	w.started = true

	go w.watch()

	return nil
}

// Close stops watching and cleans up resources. Pending events are dropped.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	w.closed = true

	if w.started {
		close(w.done)
	}

	w.pendingMu.Lock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.pending = make(map[string]EventType)
	w.pendingMu.Unlock()

	return w.watcher.Close()
}

// watch is the main event loop
func (w *Watcher) watch() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			// Log error but continue watching
			w.logger.Warn("watcher error", zap.String("root", w.root), zap.Error(err))

		case <-w.done:
			return
		}
	}
}

// handleEvent classifies a fsnotify event and queues it for the next batch
func (w *Watcher) handleEvent(event fsnotify.Event) {
	var eventType EventType

	switch {
	case event.Op&fsnotify.Create == fsnotify.Create:
		eventType = EventCreate
	case event.Op&fsnotify.Write == fsnotify.Write:
		eventType = EventModify
	case event.Op&fsnotify.Remove == fsnotify.Remove:
		eventType = EventDelete
	case event.Op&fsnotify.Rename == fsnotify.Rename:
		eventType = EventRename
	default:
		// Chmod only
		return
	}

	rel := w.rel(event.Name)
	if rel == "." {
		return
	}

	if eventType == EventCreate {
		if info, err := os.Lstat(event.Name); err == nil && info.IsDir() {
			if w.skip != nil && w.skip(rel, true) {
				return
			}
			if err := w.addTree(event.Name, true); err != nil {
				w.logger.Warn("failed to watch new directory", zap.String("path", rel), zap.Error(err))
			}
			w.schedule()
			return
		}
	}
	if w.skip != nil && w.skip(rel, false) {
		return
	}

	w.record(rel, eventType)
	w.schedule()
}

// record merges an event into the pending batch. A path created and then
// changed within one batch stays a create.
func (w *Watcher) record(rel string, t EventType) {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()
	if prev, ok := w.pending[rel]; ok && prev == EventCreate && t == EventModify {
		return
	}
	w.pending[rel] = t
}

// schedule restarts the quiet-period timer
func (w *Watcher) schedule() {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flush)
}

func (w *Watcher) flush() {
	w.pendingMu.Lock()
	pending := w.pending
	w.pending = make(map[string]EventType)
	w.timer = nil
	w.pendingMu.Unlock()

	if len(pending) == 0 {
		return
	}

	batch := Batch{Root: w.root, Events: make([]Event, 0, len(pending))}
	for p, t := range pending {
		batch.Events = append(batch.Events, Event{Path: p, Type: t})
	}
	sort.Slice(batch.Events, func(i, j int) bool { return batch.Events[i].Path < batch.Events[j].Path })

	w.callback(batch)
}
