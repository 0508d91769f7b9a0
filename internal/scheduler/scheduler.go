// Package scheduler drives incremental indexing from watcher events. Each
// watched file moves through a small state machine; bursts collapse in a
// debounce window, runs are exclusive per path, and a bounded worker pool
// caps parallelism across files.
package scheduler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/thebtf/chronicle/internal/indexer"
	"github.com/thebtf/chronicle/internal/notify"
	"github.com/thebtf/chronicle/internal/transcript"
	"github.com/thebtf/chronicle/internal/watcher"
)

// State is the scheduling state of one watched file.
type State string

const (
	StateIdle           State = "idle"
	StatePendingReindex State = "pending_reindex"
	StateIndexing       State = "indexing"
	StateErrored        State = "errored"
)

const (
	DefaultDebounce   = 500 * time.Millisecond
	DefaultMaxWorkers = 4
)

type fileState struct {
	state State
	timer *time.Timer
	// rerun records an event observed while the file was indexing; the
	// run is re-queued as soon as the current one finishes.
	rerun bool
}

// Scheduler consumes FileEvents and runs the processor per file.
type Scheduler struct {
	processor   *indexer.Processor
	broadcaster *notify.Broadcaster
	debounce    time.Duration
	sem         *semaphore.Weighted
	grp         errgroup.Group

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	files  map[string]*fileState
	closed bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithDebounce overrides the burst-collapse window.
func WithDebounce(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.debounce = d
		}
	}
}

// WithMaxWorkers bounds the number of files indexing in parallel.
func WithMaxWorkers(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

// New builds a Scheduler around a processor and a result broadcaster.
func New(processor *indexer.Processor, broadcaster *notify.Broadcaster, opts ...Option) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		processor:   processor,
		broadcaster: broadcaster,
		debounce:    DefaultDebounce,
		sem:         semaphore.NewWeighted(DefaultMaxWorkers),
		ctx:         ctx,
		cancel:      cancel,
		files:       make(map[string]*fileState),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run consumes events until the channel closes or the scheduler is closed.
// Typically launched as a goroutine with a Watcher's Events channel.
func (s *Scheduler) Run(events <-chan watcher.FileEvent) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.Handle(ev)
		}
	}
}

// Handle applies one file event to the state machine.
func (s *Scheduler) Handle(ev watcher.FileEvent) {
	if ev.Op == watcher.OpDelete {
		s.remove(ev.Path)
		return
	}
	s.Enqueue(ev.Path)
}

// indexKey resolves the exclusivity key for a path. A run on a main session
// file also consumes its companion event file, so event paths map onto the
// main file's key; scheduling them under their own key would let two
// concurrent runs contend on the event file's cursor. An event file with no
// main file alongside keeps its own key and is indexed directly.
func indexKey(path string) string {
	info := transcript.ClassifyFile(path)
	if info.Kind != transcript.FileEvents {
		return path
	}
	dir := filepath.Dir(path)
	for _, name := range []string{info.SessionID + ".jsonl", info.SessionID + "_messages.jsonl"} {
		main := filepath.Join(dir, name)
		if _, err := os.Stat(main); err == nil {
			return main
		}
	}
	return path
}

// Enqueue marks a file for reindexing. Events within the debounce window
// collapse into a single run; an event during an active run re-queues it.
// Companion event files are queued under their main file's key.
func (s *Scheduler) Enqueue(path string) {
	path = indexKey(path)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	fs, ok := s.files[path]
	if !ok {
		fs = &fileState{state: StateIdle}
		s.files[path] = fs
	}

	switch fs.state {
	case StateIndexing:
		fs.rerun = true
		return
	case StatePendingReindex:
		fs.timer.Reset(s.debounce)
		return
	}

	// Idle or Errored
	fs.state = StatePendingReindex
	fs.timer = time.AfterFunc(s.debounce, func() {
		s.dispatch(path)
	})
}

// Rescan funnels every transcript file in a project directory through the
// state machine. Main session files go first; companion event files ride
// along with their main file.
func (s *Scheduler) Rescan(dir string) error {
	files, err := transcript.ListSessionFiles(dir)
	if err != nil {
		return err
	}

	var mains, agents []string
	for _, f := range files {
		switch transcript.ClassifyFile(f.Path).Kind {
		case transcript.FileMain:
			mains = append(mains, f.Path)
		case transcript.FileAgent:
			agents = append(agents, f.Path)
		}
	}
	for _, path := range append(mains, agents...) {
		s.Enqueue(path)
	}
	return nil
}

// remove drops a deleted file from the watch set. Its cursor is kept; the
// file may reappear under the same name, e.g. on rename-replace.
func (s *Scheduler) remove(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fs, ok := s.files[path]
	if !ok {
		return
	}
	if fs.timer != nil {
		fs.timer.Stop()
	}
	// An in-flight run completes on its own; the map entry is gone so
	// its finish transition is a no-op.
	delete(s.files, path)

	log.Debug().Str("path", path).Msg("file removed from watch set")
}

// dispatch fires when a file's debounce window expires.
func (s *Scheduler) dispatch(path string) {
	s.mu.Lock()
	fs, ok := s.files[path]
	if !ok || s.closed || fs.state != StatePendingReindex {
		s.mu.Unlock()
		return
	}
	fs.state = StateIndexing
	fs.rerun = false
	s.mu.Unlock()

	s.grp.Go(func() error {
		if err := s.sem.Acquire(s.ctx, 1); err != nil {
			s.finish(path, err)
			return nil
		}
		defer s.sem.Release(1)

		result, err := s.processor.IndexFile(s.ctx, path)
		if err == nil && s.broadcaster != nil {
			s.broadcaster.Publish(result)
		}
		s.finish(path, err)
		return nil
	})
}

// finish applies the post-run transition.
func (s *Scheduler) finish(path string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fs, ok := s.files[path]
	if !ok {
		// Deleted mid-run.
		return
	}

	switch {
	case err == nil:
		fs.state = StateIdle
	default:
		var ioErr *indexer.IOError
		if errors.As(err, &ioErr) {
			log.Warn().Err(err).Str("path", path).Msg("indexing aborted on I/O failure")
		} else {
			log.Error().Err(err).Str("path", path).Msg("indexing failed")
		}
		// Errored waits for the next observed event; the failed range is
		// reprocessed then, since the cursor did not move.
		fs.state = StateErrored
	}

	// An event observed during the run re-queues it, including out of
	// Errored: the failed range retries on the next triggering event.
	if fs.rerun && !s.closed {
		fs.state = StatePendingReindex
		fs.rerun = false
		fs.timer = time.AfterFunc(s.debounce, func() {
			s.dispatch(path)
		})
	}
}

// StateOf reports the scheduling state of a path.
func (s *Scheduler) StateOf(path string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fs, ok := s.files[path]; ok {
		return fs.state
	}
	return StateIdle
}

// Close stops intake, cancels pending debounce timers, and drains in-flight
// runs to their commit points.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for _, fs := range s.files {
		if fs.state == StatePendingReindex && fs.timer != nil {
			fs.timer.Stop()
			fs.state = StateIdle
		}
	}
	s.mu.Unlock()

	err := s.grp.Wait()
	s.cancel()
	return err
}
