// Package watch feeds sky-model files that appear in a directory to a sweep.
package watch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"simsweep/internal/logging"
)

// Options configures a Watcher.
type Options struct {
	// Debounce is how long a file must stay quiet before it is emitted.
	// CASA and copy tools write FITS files in several bursts.
	Debounce time.Duration

	// IgnoreSuffixes excludes files such as sweep products.
	IgnoreSuffixes []string
}

// Stats tracks watcher activity.
type Stats struct {
	Events        int
	Emitted       int
	Errors        int
	LastEventTime time.Time
	LastEventPath string
}

// Watcher emits the paths of *.fits files created or rewritten in a
// directory, once each has settled.
type Watcher struct {
	mu          sync.Mutex
	dir         string
	opts        Options
	watcher     *fsnotify.Watcher
	debounceMap map[string]time.Time
	files       chan string
	stats       Stats
}

// New creates a watcher for dir. Call Run to start it.
func New(dir string, opts Options) (*Watcher, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(abs); err != nil {
		fw.Close()
		return nil, err
	}

	logging.Watch("Watching %s (debounce %s)", abs, opts.Debounce)
	return &Watcher{
		dir:         abs,
		opts:        opts,
		watcher:     fw,
		debounceMap: make(map[string]time.Time),
		files:       make(chan string),
	}, nil
}

// Files delivers settled file paths. It is closed when Run returns.
func (w *Watcher) Files() <-chan string {
	return w.files
}

// Stats returns a snapshot of watcher activity.
func (w *Watcher) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// Run processes filesystem events until ctx is done or the underlying
// watcher fails. It closes the watcher and the Files channel on return.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.files)
	defer w.watcher.Close()

	tick := 100 * time.Millisecond
	if w.opts.Debounce > 0 && w.opts.Debounce < 2*tick {
		tick = w.opts.Debounce / 2
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.WatchDebug("Watcher stopping: %v", ctx.Err())
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			logging.WatchWarn("Watcher error: %v", err)
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()

		case <-ticker.C:
			for _, path := range w.settled() {
				select {
				case w.files <- path:
					w.mu.Lock()
					w.stats.Emitted++
					w.mu.Unlock()
				case <-ctx.Done():
					return nil
				}
			}
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !w.wanted(event.Name) {
		return
	}
	if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}

	logging.WatchDebug("%s event for %s", event.Op, event.Name)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.stats.Events++
	w.stats.LastEventTime = time.Now()
	w.stats.LastEventPath = event.Name
	w.debounceMap[event.Name] = time.Now()
}

func (w *Watcher) wanted(path string) bool {
	name := filepath.Base(path)
	if !strings.HasSuffix(name, ".fits") || strings.HasPrefix(name, ".") {
		return false
	}
	for _, suffix := range w.opts.IgnoreSuffixes {
		if suffix != "" && strings.HasSuffix(name, suffix) {
			return false
		}
	}
	return true
}

// settled removes and returns paths quiet for at least the debounce window
// that still exist as regular files.
func (w *Watcher) settled() []string {
	w.mu.Lock()
	now := time.Now()
	var ready []string
	for path, last := range w.debounceMap {
		if now.Sub(last) >= w.opts.Debounce {
			ready = append(ready, path)
			delete(w.debounceMap, path)
		}
	}
	w.mu.Unlock()

	out := ready[:0]
	for _, path := range ready {
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			logging.WatchDebug("Skipping %s: no longer a regular file", path)
			continue
		}
		out = append(out, path)
	}
	return out
}
