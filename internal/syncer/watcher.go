package syncer

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/grovekit/grove/internal/storage"
)

// EventOp is the kind of file change a watcher event describes.
type EventOp int

const (
	// OpCreate indicates a new markdown file appeared.
	OpCreate EventOp = iota
	// OpModify indicates an existing markdown file was written.
	OpModify
	// OpDelete indicates a markdown file was removed or renamed away.
	OpDelete
)

func (op EventOp) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Event is a markdown file change under the graph root.
type Event struct {
	// Path is the absolute path of the changed file.
	Path string
	// Op is the kind of change.
	Op EventOp
}

// Watcher monitors the graph root and its subdirectories for markdown file
// changes, built on fsnotify. The index directory and hidden directories
// are never watched.
type Watcher struct {
	root    string
	watcher *fsnotify.Watcher
	events  chan Event
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewWatcher creates a watcher for the given graph root. Start must be
// called before events are emitted.
func NewWatcher(root string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	return &Watcher{
		root:    root,
		watcher: fsw,
		events:  make(chan Event, 100),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
	}, nil
}

// Start walks the root, registers every eligible directory, and begins
// emitting events. Directories created later are registered as their create
// events arrive.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("watcher already running")
	}

	err := filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if skipDir(w.root, path) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	w.running = true
	w.wg.Add(1)
	go w.processEvents()
	return nil
}

// Stop shuts the watcher down and blocks until the event loop has exited.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	close(w.done)
	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	w.wg.Wait()
	close(w.events)
	close(w.errors)
	return nil
}

// Events returns the event channel. Closed on Stop.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Errors returns the error channel. Closed on Stop.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Create) {
				// New subdirectories must be added to the watch set or
				// files created inside them are invisible.
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if !skipDir(w.root, event.Name) {
						_ = w.watcher.Add(event.Name)
					}
					continue
				}
			}
			if ev, ok := w.convertEvent(event); ok {
				select {
				case w.events <- ev:
				case <-w.done:
					return
				}
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			case <-w.done:
				return
			}
		}
	}
}

// convertEvent maps an fsnotify event onto an Event. Non-markdown paths and
// chmod-only events are dropped. Renames surface as deletes since the new
// name arrives as its own create event.
func (w *Watcher) convertEvent(event fsnotify.Event) (Event, bool) {
	if !strings.EqualFold(filepath.Ext(event.Name), ".md") {
		return Event{}, false
	}
	if underSkippedDir(w.root, event.Name) {
		return Event{}, false
	}

	var op EventOp
	switch {
	case event.Has(fsnotify.Create):
		op = OpCreate
	case event.Has(fsnotify.Write):
		op = OpModify
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		op = OpDelete
	default:
		return Event{}, false
	}
	return Event{Path: event.Name, Op: op}, true
}

// skipDir reports whether a directory is outside the watch set: the index
// directory and any hidden directory below the root.
func skipDir(root, path string) bool {
	if path == root {
		return false
	}
	base := filepath.Base(path)
	if base == storage.IndexDirName {
		return true
	}
	return strings.HasPrefix(base, ".")
}

// underSkippedDir reports whether any path segment between root and the file
// is a skipped directory.
func underSkippedDir(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	for _, segment := range strings.Split(filepath.ToSlash(rel), "/") {
		if segment == storage.IndexDirName || (strings.HasPrefix(segment, ".") && segment != ".") {
			return true
		}
	}
	return false
}
