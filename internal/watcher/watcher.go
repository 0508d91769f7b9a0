// Package watcher monitors transcript project directories and posts
// classified change events into a bounded channel.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/chronicle/internal/transcript"
)

// DefaultQueueSize bounds the event channel. The scheduler coalesces
// per-path bursts, so a modest queue is enough; overflow is dropped with
// a warning and recovered by the next event or rescan.
const DefaultQueueSize = 256

// Op classifies a filesystem change.
type Op string

const (
	OpCreate Op = "create"
	OpModify Op = "modify"
	OpRename Op = "rename"
	OpDelete Op = "delete"
)

// FileEvent is one classified change to a transcript file.
type FileEvent struct {
	Path        string
	Op          Op
	SessionID   string
	ProjectSlug string
}

// Watcher observes one or more projects directories. Each subdirectory of
// a watched root is a project directory holding .jsonl transcript files;
// new project directories are picked up as they appear.
type Watcher struct {
	roots   []string
	watcher *fsnotify.Watcher
	events  chan FileEvent
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	running bool
}

// New creates a Watcher over the given root directories.
func New(roots []string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Watcher{
		roots:   roots,
		watcher: fsw,
		events:  make(chan FileEvent, DefaultQueueSize),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Events is the bounded channel of classified changes. Closed on Stop.
func (w *Watcher) Events() <-chan FileEvent {
	return w.events
}

// Start adds watches for every root and its project subdirectories and
// begins the event loop.
func (w *Watcher) Start() error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	for _, root := range w.roots {
		if err := w.addTree(root); err != nil {
			log.Warn().Err(err).Str("path", root).Msg("failed to watch projects root")
			// Continue anyway - the root may appear later
		}
	}

	go w.watchLoop()
	return nil
}

// Stop stops the watcher and closes the event channel.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return nil
	}

	w.running = false
	w.cancel()
	return w.watcher.Close()
}

// addTree watches a root directory and each of its subdirectories.
func (w *Watcher) addTree(root string) error {
	if _, err := os.Stat(root); err != nil {
		return err
	}
	if err := w.watcher.Add(root); err != nil {
		return err
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		sub := filepath.Join(root, entry.Name())
		if err := w.watcher.Add(sub); err != nil {
			log.Warn().Err(err).Str("path", sub).Msg("failed to watch project directory")
		}
	}
	return nil
}

// watchLoop is the main event loop.
func (w *Watcher) watchLoop() {
	defer close(w.events)

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("watcher error")
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	path := filepath.Clean(event.Name)

	// A new project directory under a watched root gets its own watch.
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			if err := w.watcher.Add(path); err != nil {
				log.Warn().Err(err).Str("path", path).Msg("failed to watch new project directory")
			}
			return
		}
	}

	if !strings.HasSuffix(path, ".jsonl") {
		return
	}

	op, ok := classify(event.Op)
	if !ok {
		return
	}

	fe := FileEvent{
		Path:        path,
		Op:          op,
		ProjectSlug: transcript.ProjectSlug(path),
	}
	// A deleted file cannot be read; the session id comes from the name
	// alone, which covers main and event files.
	if op == OpDelete || op == OpRename {
		fe.SessionID = transcript.ClassifyFile(path).SessionID
	} else {
		fe.SessionID = transcript.SessionID(path)
	}

	select {
	case w.events <- fe:
	default:
		log.Warn().
			Str("path", path).
			Str("op", string(op)).
			Msg("watcher queue full, dropping event")
	}
}

// classify maps fsnotify ops onto the scheduler's event vocabulary. Chmod
// is noise and is dropped.
func classify(op fsnotify.Op) (Op, bool) {
	switch {
	case op&fsnotify.Create != 0:
		return OpCreate, true
	case op&fsnotify.Write != 0:
		return OpModify, true
	case op&fsnotify.Rename != 0:
		return OpRename, true
	case op&fsnotify.Remove != 0:
		return OpDelete, true
	}
	return "", false
}
