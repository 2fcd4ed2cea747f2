package fsitem

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
)

// Stats exposes traversal counters, mainly for tests and diagnostics
type Stats struct {
	Listings     int64 // container listings read from disk or archives
	ArchiveOpens int64 // central directories parsed
	Items        int   // memoized items on disk
}

// Registry memoizes Items by absolute path
type Registry struct {
	mu       sync.RWMutex
	items    map[string]*Item
	listings atomic.Int64
	opens    atomic.Int64
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{items: make(map[string]*Item)}
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry
func Default() *Registry { return defaultRegistry }

// Get resolves path through the process-wide registry
func Get(path string) (*Item, error) { return defaultRegistry.Get(path) }

// Get returns the Item for path. Paths into archives use ArchiveSeparator.
// Items that do not exist are returned with KindMissing and are re-resolved
// on the next call.
func (r *Registry) Get(path string) (*Item, error) {
	if path == "" {
		return nil, fmt.Errorf("empty path")
	}
	if i := strings.Index(path, ArchiveSeparator); i >= 0 {
		return r.getInArchive(path[:i], path[i+len(ArchiveSeparator):])
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	r.mu.RLock()
	it, ok := r.items[abs]
	r.mu.RUnlock()
	if ok && it.Exists() {
		return it, nil
	}

	kind := KindMissing
	if info, err := os.Stat(abs); err == nil {
		switch {
		case info.IsDir():
			kind = KindFolder
		case IsArchiveName(abs):
			kind = KindArchive
		default:
			kind = KindFile
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.items[abs]; ok && existing.Exists() {
		return existing, nil
	}
	it = &Item{registry: r, path: abs, kind: kind}
	r.items[abs] = it
	return it, nil
}

func (r *Registry) getInArchive(archivePath, rest string) (*Item, error) {
	outer, err := r.Get(archivePath)
	if err != nil {
		return nil, err
	}
	for rest != "" {
		if !outer.IsArchive() {
			return nil, fmt.Errorf("%s is not an archive", outer.Path())
		}
		entry := rest
		rest = ""
		if i := strings.Index(entry, ArchiveSeparator); i >= 0 {
			entry, rest = entry[:i], entry[i+len(ArchiveSeparator):]
		}
		inner, ok := outer.Find(entry)
		if !ok {
			return &Item{registry: r, path: outer.Path() + ArchiveSeparator + entry, kind: KindMissing, archive: outer, entryName: entry}, nil
		}
		outer = inner
	}
	return outer, nil
}

// Reset discards memoized state for path and its subtree, if known. For a
// path inside an archive the outermost archive on disk is reset, which drops
// every nested listing and entry below it.
func (r *Registry) Reset(path string) {
	if i := strings.Index(path, ArchiveSeparator); i >= 0 {
		path = path[:i]
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return
	}
	r.mu.RLock()
	it, ok := r.items[abs]
	r.mu.RUnlock()
	if ok {
		it.Reset()
	}
}

// Stats returns a snapshot of the traversal counters
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	n := len(r.items)
	r.mu.RUnlock()
	return Stats{Listings: r.listings.Load(), ArchiveOpens: r.opens.Load(), Items: n}
}

func (r *Registry) recordListing() {
	if r != nil {
		r.listings.Add(1)
	}
}

func (r *Registry) recordOpen() {
	if r != nil {
		r.opens.Add(1)
	}
}
