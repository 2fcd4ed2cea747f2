// Package watch tracks scanned roots on disk and reports which of them
// changed since they were last asked about, so a scanner can drop stale
// cache entries instead of rescanning every path.
package watch

import (
	"context"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/standardbeagle/classhunter/internal/config"
	"github.com/standardbeagle/classhunter/internal/debug"
	cherrors "github.com/standardbeagle/classhunter/internal/errors"
)

// Option configures a PathWatcher
type Option func(*PathWatcher)

// WithOnChange registers a callback receiving the roots marked dirty by each
// debounced batch of events
func WithOnChange(fn func(roots []string)) Option {
	return func(w *PathWatcher) { w.onChange = fn }
}

// Stats describes watcher activity
type Stats struct {
	Roots          int
	Events         int64
	Flushes        int64
	Errors         int64
	LastEventTime  time.Time
	PendingChanges int
	DirtyRoots     int
}

// PathWatcher watches scanned roots with fsnotify. A root is a directory
// (watched recursively) or a file such as an archive (watched through its
// parent directory).
type PathWatcher struct {
	watcher  *fsnotify.Watcher
	exclude  []string
	debounce time.Duration
	onChange func(roots []string)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	roots   map[string]struct{}
	dirty   map[string]struct{}
	pending map[string]struct{}
	timer   *time.Timer
	closed  bool
	stats   Stats
}

// New creates a watcher. Directories matching the configured scan exclude
// patterns are not watched.
func New(cfg *config.Config, opts ...Option) (*PathWatcher, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	debounce := time.Duration(cfg.Watch.DebounceMs) * time.Millisecond
	if debounce <= 0 {
		debounce = config.DefaultWatchDebounceMs * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &PathWatcher{
		watcher:  fw,
		exclude:  append([]string(nil), cfg.Scan.Exclude...),
		debounce: debounce,
		ctx:      ctx,
		cancel:   cancel,
		roots:    make(map[string]struct{}),
		dirty:    make(map[string]struct{}),
		pending:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	w.wg.Add(1)
	go w.processEvents()
	return w, nil
}

func normalize(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return filepath.Clean(path)
}

// Watch starts tracking roots. Roots already tracked are ignored.
func (w *PathWatcher) Watch(roots ...string) error {
	for _, root := range roots {
		root = normalize(root)
		w.mu.Lock()
		if w.closed {
			w.mu.Unlock()
			return cherrors.NewLifecycleError("watcher", "watch "+root)
		}
		if _, ok := w.roots[root]; ok {
			w.mu.Unlock()
			continue
		}
		w.roots[root] = struct{}{}
		w.stats.Roots = len(w.roots)
		w.mu.Unlock()

		if err := w.addWatches(root); err != nil {
			return err
		}
		debug.LogWatch("watching %s", root)
	}
	return nil
}

// Changed reports whether root changed since the previous call and clears
// its dirty flag. A root seen for the first time starts being watched and is
// reported as changed once, since nothing vouches for what was cached
// before. The method value fits SearchConfig.RefreshIf.
func (w *PathWatcher) Changed(root string) bool {
	root = normalize(root)
	w.mu.Lock()
	_, known := w.roots[root]
	closed := w.closed
	if known {
		_, dirty := w.dirty[root]
		delete(w.dirty, root)
		w.mu.Unlock()
		return dirty
	}
	w.mu.Unlock()
	if closed {
		return true
	}
	if err := w.Watch(root); err != nil {
		log.Printf("Warning: failed to watch %s: %v", root, err)
	}
	return true
}

// Roots returns the watched roots
func (w *PathWatcher) Roots() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.roots))
	for r := range w.roots {
		out = append(out, r)
	}
	return out
}

// Stats returns a snapshot of watcher activity
func (w *PathWatcher) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	st := w.stats
	st.PendingChanges = len(w.pending)
	st.DirtyRoots = len(w.dirty)
	return st
}

// Close stops watching. Pending events are dropped.
func (w *PathWatcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	w.cancel()
	err := w.watcher.Close()
	w.wg.Wait()
	return err
}

func (w *PathWatcher) addWatches(root string) error {
	info, err := os.Stat(root)
	if err != nil {
		// the root may appear later; watch where it would be created
		return w.addDir(filepath.Dir(root))
	}
	if !info.IsDir() {
		return w.addDir(filepath.Dir(root))
	}

	visited := make(map[string]bool)
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		resolved, err := filepath.EvalSymlinks(path)
		if err != nil {
			return filepath.SkipDir
		}
		if visited[resolved] {
			return filepath.SkipDir
		}
		visited[resolved] = true
		if path != root && w.excluded(root, path) {
			return filepath.SkipDir
		}
		return w.addDir(path)
	})
}

func (w *PathWatcher) addDir(dir string) error {
	if err := w.watcher.Add(dir); err != nil {
		log.Printf("Warning: failed to add watch for %s: %v", dir, err)
	}
	return nil
}

func (w *PathWatcher) excluded(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	for _, pattern := range w.exclude {
		dirPattern := strings.TrimSuffix(pattern, "/**")
		if ok, _ := doublestar.Match(dirPattern, rel); ok {
			return true
		}
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

func (w *PathWatcher) processEvents() {
	defer w.wg.Done()
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
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()
			log.Printf("File watcher error: %v", err)
		}
	}
}

func (w *PathWatcher) handleEvent(event fsnotify.Event) {
	if event.Op == fsnotify.Chmod {
		return
	}
	path := filepath.Clean(event.Name)
	debug.LogWatch("event %v for %s", event.Op, path)

	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			w.watchNewDir(path)
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.stats.Events++
	w.stats.LastEventTime = time.Now()
	w.pending[path] = struct{}{}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flush)
}

// watchNewDir adds watches below a directory created inside a watched root,
// unless a root excludes it
func (w *PathWatcher) watchNewDir(path string) {
	roots := w.under(path)
	if len(roots) == 0 {
		return
	}
	for _, root := range roots {
		if path != root && w.excluded(root, path) {
			debug.LogWatch("new directory %s is excluded", path)
			return
		}
	}
	if err := w.addWatches(path); err != nil {
		log.Printf("Warning: failed to add watch for new directory %s: %v", path, err)
	}
}

// under returns the watched roots containing path
func (w *PathWatcher) under(path string) []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rootsOfLocked(path)
}

func (w *PathWatcher) rootsOfLocked(path string) []string {
	var out []string
	for root := range w.roots {
		if path == root || strings.HasPrefix(path, root+string(filepath.Separator)) {
			out = append(out, root)
		}
	}
	return out
}

func (w *PathWatcher) flush() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	marked := make(map[string]struct{})
	for path := range w.pending {
		for _, root := range w.rootsOfLocked(path) {
			w.dirty[root] = struct{}{}
			marked[root] = struct{}{}
		}
	}
	clear(w.pending)
	w.stats.Flushes++
	onChange := w.onChange
	w.mu.Unlock()

	if len(marked) == 0 {
		return
	}
	roots := make([]string, 0, len(marked))
	for r := range marked {
		roots = append(roots, r)
	}
	debug.LogWatch("roots changed: %v", roots)
	if onChange != nil {
		onChange(roots)
	}
}
