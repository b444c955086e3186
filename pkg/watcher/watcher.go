// Package watcher turns raw filesystem notifications into a coalesced
// stream of sync events: debounced per-path changes, synthesized renames,
// and echo suppression for writes the sync engine made itself.
package watcher

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"swarmsync/pkg/helper/errors"
	"swarmsync/pkg/helper/log"
)

// EventKind discriminates the coalesced events a Watcher emits.
type EventKind int

const (
	EventCreated EventKind = iota
	EventModified
	EventDeleted
	EventDirCreated
	EventDirDeleted
	EventRenamed
	EventRescanRequested
)

func (k EventKind) String() string {
	switch k {
	case EventCreated:
		return "created"
	case EventModified:
		return "modified"
	case EventDeleted:
		return "deleted"
	case EventDirCreated:
		return "dir_created"
	case EventDirDeleted:
		return "dir_deleted"
	case EventRenamed:
		return "renamed"
	case EventRescanRequested:
		return "rescan_requested"
	default:
		return "unknown"
	}
}

// Event is one coalesced filesystem change, already translated to a
// sync-root-relative path.
type Event struct {
	Kind    EventKind
	RelPath string
	OldPath string // set only for EventRenamed
}

// DebounceWindow is how long the watcher waits for more activity on a
// path before emitting a coalesced event for it.
const DebounceWindow = 500 * time.Millisecond

// EchoWindow is how long a path stays suppressed after IgnoreSelfWrite.
const EchoWindow = 5 * time.Second

type pathState struct {
	sawCreate bool
	sawRemove bool
	sawWrite  bool
	size      int64
	modTime   time.Time
}

// Watcher recursively watches a root directory and emits coalesced Events.
type Watcher struct {
	root   string
	ignore IgnorePolicy
	logger log.Logger

	fsw *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]*pathState
	timer   *time.Timer

	echoMu sync.Mutex
	echo   map[string]time.Time

	events chan Event
	done   chan struct{}
	once   sync.Once
}

// New creates a Watcher rooted at root. Call Start to begin watching and
// Events to consume the output channel.
func New(root string, ignore IgnorePolicy, logger log.Logger) (*Watcher, error) {
	if logger == nil {
		logger = log.NewBasicLogger(log.InfoLevel)
	}
	if ignore == nil {
		ignore = func(string) bool { return false }
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create filesystem watcher")
	}

	w := &Watcher{
		root:    root,
		ignore:  ignore,
		logger:  logger.WithField("component", "watcher"),
		fsw:     fsw,
		pending: make(map[string]*pathState),
		echo:    make(map[string]time.Time),
		events:  make(chan Event, 256),
		done:    make(chan struct{}),
	}

	if err := w.addTree(root); err != nil {
		fsw.Close()
		return nil, err
	}

	return w, nil
}

func (w *Watcher) addTree(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(w.root, path)
		if relErr == nil && rel != "." && w.ignore(filepath.ToSlash(rel)) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return errors.Wrap(err, "failed to watch directory %s", path)
		}
		return nil
	})
}

// Events returns the channel of coalesced events. The channel is closed
// after Stop completes draining in-flight work.
func (w *Watcher) Events() <-chan Event { return w.events }

// Start begins the event loop. It blocks until Stop is called or the
// underlying watcher fails irrecoverably.
func (w *Watcher) Start() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				w.flushLocked(true)
				close(w.events)
				return
			}
			w.handleRaw(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				continue
			}
			w.logger.WithError(err).Warn("filesystem watcher error, requesting rescan")
			w.emit(Event{Kind: EventRescanRequested})
		case <-w.done:
			w.flushLocked(true)
			close(w.events)
			return
		}
	}
}

// Stop terminates the event loop and releases the underlying OS watches.
func (w *Watcher) Stop() error {
	w.once.Do(func() { close(w.done) })
	return w.fsw.Close()
}

// IgnoreSelfWrite marks relPath so that filesystem events it generates
// within EchoWindow are suppressed. The sync engine calls this right
// before it writes a file to disk as the result of an incoming message.
func (w *Watcher) IgnoreSelfWrite(relPath string) {
	w.echoMu.Lock()
	w.echo[relPath] = time.Now().Add(EchoWindow)
	w.echoMu.Unlock()
}

func (w *Watcher) isEchoed(relPath string) bool {
	w.echoMu.Lock()
	defer w.echoMu.Unlock()
	until, ok := w.echo[relPath]
	if !ok {
		return false
	}
	if time.Now().After(until) {
		delete(w.echo, relPath)
		return false
	}
	return true
}

func (w *Watcher) handleRaw(ev fsnotify.Event) {
	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || w.ignore(rel) {
		return
	}
	if w.isEchoed(rel) {
		return
	}

	if ev.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			_ = w.fsw.Add(ev.Name)
			_ = w.addTree(ev.Name)
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	st, ok := w.pending[rel]
	if !ok {
		st = &pathState{}
		w.pending[rel] = st
	}

	switch {
	case ev.Op&fsnotify.Create != 0:
		st.sawCreate = true
	case ev.Op&fsnotify.Write != 0:
		st.sawWrite = true
	case ev.Op&fsnotify.Remove != 0, ev.Op&fsnotify.Rename != 0:
		st.sawRemove = true
	}

	if info, err := os.Stat(ev.Name); err == nil {
		st.size = info.Size()
		st.modTime = info.ModTime()
	}

	w.resetTimerLocked()
}

func (w *Watcher) resetTimerLocked() {
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(DebounceWindow, func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		w.flushLocked(false)
	})
}

// flushLocked must be called with w.mu held unless final is true during
// shutdown, where no further mutation of w.pending can race.
func (w *Watcher) flushLocked(final bool) {
	if !final {
		// caller already holds w.mu
	} else {
		w.mu.Lock()
		defer w.mu.Unlock()
	}

	if len(w.pending) == 0 {
		return
	}

	removed := make(map[string]*pathState)
	created := make(map[string]*pathState)
	for rel, st := range w.pending {
		if st.sawRemove && !st.sawCreate {
			removed[rel] = st
		} else if st.sawCreate {
			created[rel] = st
		}
	}

	paired := make(map[string]bool)
	for oldPath, oldSt := range removed {
		for newPath, newSt := range created {
			if paired[newPath] {
				continue
			}
			if oldSt.size == newSt.size && filepath.Base(oldPath) != filepath.Base(newPath) {
				w.emit(Event{Kind: EventRenamed, RelPath: newPath, OldPath: oldPath})
				paired[newPath] = true
				delete(w.pending, oldPath)
				delete(w.pending, newPath)
				break
			}
		}
	}

	for rel, st := range w.pending {
		exists, isDir := statExists(filepath.Join(w.root, rel))
		switch {
		case !exists && st.sawRemove:
			w.emit(Event{Kind: EventDeleted, RelPath: rel})
		case exists && isDir && st.sawCreate:
			w.emit(Event{Kind: EventDirCreated, RelPath: rel})
		case exists && !isDir && st.sawCreate:
			w.emit(Event{Kind: EventCreated, RelPath: rel})
		case exists && !isDir && st.sawWrite:
			w.emit(Event{Kind: EventModified, RelPath: rel})
		case !exists && !st.sawRemove:
			// Transient: created then removed within the same window.
		}
	}

	w.pending = make(map[string]*pathState)
}

func statExists(path string) (exists bool, isDir bool) {
	info, err := os.Stat(path)
	if err != nil {
		return false, false
	}
	return true, info.IsDir()
}

func (w *Watcher) emit(ev Event) {
	select {
	case w.events <- ev:
	default:
		w.logger.Warn("event channel full, dropping event and requesting rescan")
		select {
		case w.events <- Event{Kind: EventRescanRequested}:
		default:
		}
	}
}
