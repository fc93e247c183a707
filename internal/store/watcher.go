package store

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"pagescope/internal/domain"
	"pagescope/internal/util"
)

// DefaultDebounce is how long the watcher waits for writes to settle.
const DefaultDebounce = 250 * time.Millisecond

// Watcher errors.
var (
	ErrFileRemoved    = errors.New("watched file was removed")
	ErrAlreadyStarted = errors.New("watcher already started")
)

// ReloadFunc receives a freshly loaded dataset.
type ReloadFunc func(name string, records []domain.Record)

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets the debounce duration.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounce = d }
}

// WithWatchScheduler sets the timer source for the debounce.
func WithWatchScheduler(s util.Scheduler) WatcherOption {
	return func(w *Watcher) { w.sched = s }
}

// WithOnError sets the callback invoked on watch and load errors.
func WithOnError(fn func(error)) WatcherOption {
	return func(w *Watcher) { w.onError = fn }
}

// WithWatchLogger sets the logger.
func WithWatchLogger(log *slog.Logger) WatcherOption {
	return func(w *Watcher) { w.log = log }
}

// Watcher reloads a dataset when its backing file changes. Bursts of writes
// collapse into one reload after the debounce.
type Watcher struct {
	path     string
	name     string
	src      DatasetSource
	onReload ReloadFunc
	onError  func(error)
	debounce time.Duration
	sched    util.Scheduler
	log      *slog.Logger

	mu      sync.Mutex
	fsw     *fsnotify.Watcher
	timer   util.Timer
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

// NewWatcher creates a watcher that reloads dataset name from src whenever
// path changes.
func NewWatcher(path, name string, src DatasetSource, onReload ReloadFunc, opts ...WatcherOption) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		path:     abs,
		name:     name,
		src:      src,
		onReload: onReload,
		onError:  func(error) {},
		debounce: DefaultDebounce,
		sched:    util.RealScheduler{},
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start begins watching. The directory is watched rather than the file so
// that atomic rename-into-place writes are seen.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return ErrAlreadyStarted
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		fsw.Close()
		return err
	}
	w.fsw = fsw
	w.ctx, w.cancel = context.WithCancel(context.Background())
	w.started = true
	go w.loop(fsw.Events, fsw.Errors)
	w.log.Info("watching dataset file", "path", w.path, "dataset", w.name)
	return nil
}

// Stop stops watching and cancels a pending reload.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return
	}
	w.cancel()
	w.fsw.Close()
	w.fsw = nil
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.started = false
}

// Path returns the watched file path.
func (w *Watcher) Path() string {
	return w.path
}

func (w *Watcher) loop(events <-chan fsnotify.Event, errs <-chan error) {
	target := filepath.Base(w.path)
	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != target {
				continue
			}
			switch {
			case event.Op&fsnotify.Remove != 0:
				w.onError(ErrFileRemoved)
			case event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0:
				w.Trigger()
			}

		case err, ok := <-errs:
			if !ok {
				return
			}
			w.onError(err)
		}
	}
}

// Trigger schedules a reload after the debounce, replacing any pending one.
func (w *Watcher) Trigger() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = w.sched.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	w.mu.Lock()
	w.timer = nil
	ctx := w.ctx
	w.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	records, err := w.src.LoadDataset(ctx, w.name)
	if err != nil {
		w.log.Warn("reloading dataset", "dataset", w.name, "error", err)
		w.onError(err)
		return
	}
	w.log.Info("dataset reloaded", "dataset", w.name, "points", len(records))
	w.onReload(w.name, records)
}
