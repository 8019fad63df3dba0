// Package watch monitors an inbox directory and hands new or changed
// contract files to a callback once they have stopped changing.
package watch

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/fsnotify.v1"
)

// DefaultDebounce is how long a file must stay quiet before it is handled.
const DefaultDebounce = 500 * time.Millisecond

// DefaultPatterns select the files an inbox accepts.
var DefaultPatterns = []string{"*.pdf", "*.txt"}

// Options configures a Watcher.
type Options struct {
	Debounce time.Duration
	Patterns []string
	Logger   *zap.Logger
}

// HandleFunc processes one settled file.
type HandleFunc func(ctx context.Context, path string)

// Stats reports what a watcher has done so far.
type Stats struct {
	Dir       string    `json:"dir" yaml:"dir"`
	Handled   int       `json:"handled" yaml:"handled"`
	Unchanged int       `json:"unchanged" yaml:"unchanged"`
	Errors    int       `json:"errors" yaml:"errors"`
	LastEvent time.Time `json:"lastEvent,omitempty" yaml:"lastEvent,omitempty"`
}

// Watcher debounces file system events for one directory.
type Watcher struct {
	dir      string
	debounce time.Duration
	patterns []string
	log      *zap.Logger
	fsw      *fsnotify.Watcher

	mu        sync.Mutex
	pending   map[string]*time.Timer
	processed map[string]string // path -> content hash
	stats     Stats

	ready     chan string
	closed    chan struct{}
	closeOnce sync.Once
	stopped   chan struct{} // closed when Run returns
	stopOnce  sync.Once
}

// New starts watching dir. Events are delivered once Run is called.
func New(dir string, opts Options) (*Watcher, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("watching %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watching %s: not a directory", dir)
	}

	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if len(opts.Patterns) == 0 {
		opts.Patterns = DefaultPatterns
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watching directory %s: %w", dir, err)
	}

	return &Watcher{
		dir:       dir,
		debounce:  opts.Debounce,
		patterns:  opts.Patterns,
		log:       opts.Logger,
		fsw:       fsw,
		pending:   make(map[string]*time.Timer),
		processed: make(map[string]string),
		stats:     Stats{Dir: dir},
		ready:     make(chan string, 16),
		closed:    make(chan struct{}),
		stopped:   make(chan struct{}),
	}, nil
}

// Matches reports whether a file name is accepted by the watcher patterns.
func (w *Watcher) Matches(name string) bool {
	name = strings.ToLower(filepath.Base(name))
	for _, pattern := range w.patterns {
		if ok, _ := filepath.Match(strings.ToLower(pattern), name); ok {
			return true
		}
	}
	return false
}

// Existing lists matching files already present in the directory, sorted
// by name.
func (w *Watcher) Existing() ([]string, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", w.dir, err)
	}
	var paths []string
	for _, e := range entries {
		if e.Type().IsRegular() && w.Matches(e.Name()) {
			paths = append(paths, filepath.Join(w.dir, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// Run delivers settled files to handle, one at a time, until ctx is done
// or the watcher is closed. Files whose content did not change since they
// were last handled are skipped. A watcher is run once.
func (w *Watcher) Run(ctx context.Context, handle HandleFunc) error {
	defer w.stopOnce.Do(func() { close(w.stopped) })
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.closed:
			return nil

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.onEvent(event)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()
			w.log.Warn("Watcher error", zap.String("dir", w.dir), zap.Error(err))

		case path := <-w.ready:
			if w.changed(path) {
				w.log.Info("Inbox file settled", zap.String("path", path))
				handle(ctx, path)
			}
		}
	}
}

func (w *Watcher) onEvent(event fsnotify.Event) {
	if !w.Matches(event.Name) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.stats.LastEvent = time.Now()

	switch {
	case event.Op&fsnotify.Create == fsnotify.Create, event.Op&fsnotify.Write == fsnotify.Write:
		path := event.Name
		if timer, ok := w.pending[path]; ok {
			timer.Reset(w.debounce)
			return
		}
		w.pending[path] = time.AfterFunc(w.debounce, func() { w.settle(path) })

	case event.Op&fsnotify.Remove == fsnotify.Remove, event.Op&fsnotify.Rename == fsnotify.Rename:
		if timer, ok := w.pending[event.Name]; ok {
			timer.Stop()
			delete(w.pending, event.Name)
		}
		delete(w.processed, event.Name)
	}
}

func (w *Watcher) settle(path string) {
	w.mu.Lock()
	delete(w.pending, path)
	w.mu.Unlock()

	select {
	case w.ready <- path:
	case <-w.closed:
	case <-w.stopped:
	}
}

// changed hashes the file and records it as processed when its content
// differs from the last handled version.
func (w *Watcher) changed(path string) bool {
	hash, err := fileHash(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			w.log.Warn("Cannot read inbox file", zap.String("path", path), zap.Error(err))
		}
		w.mu.Lock()
		w.stats.Errors++
		w.mu.Unlock()
		return false
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.processed[path] == hash {
		w.stats.Unchanged++
		return false
	}
	w.processed[path] = hash
	w.stats.Handled++
	return true
}

// MarkProcessed records the current content of path as handled, so Run
// skips it until it changes.
func (w *Watcher) MarkProcessed(path string) error {
	hash, err := fileHash(path)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.processed[path] = hash
	w.mu.Unlock()
	return nil
}

// Stats returns a snapshot of the watcher counters.
func (w *Watcher) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// Close stops watching. Pending files are dropped.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.closed)
		w.mu.Lock()
		for path, timer := range w.pending {
			timer.Stop()
			delete(w.pending, path)
		}
		w.mu.Unlock()
		err = w.fsw.Close()
	})
	return err
}

func fileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}
