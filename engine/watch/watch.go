// Package watch delivers debounced file-change notifications for hot
// reloading. Each watched path runs its own watcher goroutine; changes
// surface as payloads on a single channel the render loop drains once per
// frame.
package watch

import (
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce suppresses the editor save storms that fire several
// write events for one logical change.
const DefaultDebounce = 500 * time.Millisecond

// debouncer admits at most one event per interval.
type debouncer struct {
	interval time.Duration
	last     time.Time
}

func (d *debouncer) allow(now time.Time) bool {
	if !d.last.IsZero() && now.Sub(d.last) < d.interval {
		return false
	}
	d.last = now
	return true
}

// Watcher multiplexes per-file change notifications into one payload
// channel. T carries whatever the reload path needs, typically a resource
// handle.
type Watcher[T any] struct {
	events   chan T
	debounce time.Duration

	mu      sync.Mutex
	kills   map[string]chan struct{}
	wg      sync.WaitGroup
	closed  bool
}

// NewWatcher creates a watcher whose payload channel holds buffer pending
// notifications. Payloads beyond the buffer are dropped rather than
// blocking the watcher goroutines; the next change re-notifies.
//
// Parameters:
//   - buffer: payload channel capacity; values < 1 become 16
//   - debounce: minimum gap between payloads per path; 0 means
//     DefaultDebounce
//
// Returns:
//   - *Watcher[T]: the new watcher
func NewWatcher[T any](buffer int, debounce time.Duration) *Watcher[T] {
	if buffer < 1 {
		buffer = 16
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher[T]{
		events:   make(chan T, buffer),
		debounce: debounce,
		kills:    make(map[string]chan struct{}),
	}
}

// Watch begins delivering payload whenever path is written or recreated.
//
// Parameters:
//   - path: the file to watch
//   - payload: the value delivered on change
//
// Returns:
//   - error: an error if the path is already watched, the watcher is
//     closed, or the file cannot be watched
func (w *Watcher[T]) Watch(path string, payload T) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("watch: watcher is closed")
	}
	if _, ok := w.kills[path]; ok {
		return fmt.Errorf("watch: %s is already watched", path)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return fmt.Errorf("watch: %s: %w", path, err)
	}

	kill := make(chan struct{})
	w.kills[path] = kill
	w.wg.Add(1)
	go w.run(fw, kill, payload)
	return nil
}

func (w *Watcher[T]) run(fw *fsnotify.Watcher, kill chan struct{}, payload T) {
	defer w.wg.Done()
	defer fw.Close()

	deb := debouncer{interval: w.debounce}
	for {
		select {
		case <-kill:
			return
		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if !deb.allow(time.Now()) {
				continue
			}
			select {
			case w.events <- payload:
			default:
			}
		case _, ok := <-fw.Errors:
			if !ok {
				return
			}
		}
	}
}

// Unwatch stops delivery for path. Payloads already queued stay queued.
//
// Parameters:
//   - path: the file to stop watching
func (w *Watcher[T]) Unwatch(path string) {
	w.mu.Lock()
	kill, ok := w.kills[path]
	if ok {
		delete(w.kills, path)
	}
	w.mu.Unlock()
	if ok {
		close(kill)
	}
}

// Events returns the payload channel. Drain it with a non-blocking loop
// once per frame.
func (w *Watcher[T]) Events() <-chan T {
	return w.events
}

// Close stops every watcher goroutine and waits for them to exit. The
// payload channel stays open so pending drains keep working.
func (w *Watcher[T]) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	kills := make([]chan struct{}, 0, len(w.kills))
	for _, kill := range w.kills {
		kills = append(kills, kill)
	}
	w.kills = map[string]chan struct{}{}
	w.mu.Unlock()

	for _, kill := range kills {
		close(kill)
	}
	w.wg.Wait()
}
