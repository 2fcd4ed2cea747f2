package scan

import (
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/standardbeagle/classhunter/internal/debug"
	"github.com/standardbeagle/classhunter/internal/fsitem"
)

// cacheEntry is what an unfiltered scan found below one path: the items and
// the names of the entries that could not be read
type cacheEntry struct {
	items   map[string]*Item
	skipped []string
}

// pathCache maps an absolute scanned path to its cache entry
type pathCache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
}

func newPathCache() *pathCache {
	return &pathCache{entries: make(map[string]*cacheEntry)}
}

func (c *pathCache) get(path string) (*cacheEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[path]
	return e, ok
}

func (c *pathCache) put(path string, entry *cacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[path] = entry
}

func (c *pathCache) remove(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[path]
	delete(c.entries, path)
	return ok
}

func (c *pathCache) paths() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.entries))
	for p := range c.entries {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// pathLocks hands out one mutex per synchronization token. Tokens combine
// the scanner instance id with a path, so unrelated paths never contend.
type pathLocks struct {
	mu    sync.Mutex
	locks map[uint64]*tokenLock
}

type tokenLock struct {
	mu   sync.Mutex
	refs int
}

func newPathLocks() *pathLocks {
	return &pathLocks{locks: make(map[uint64]*tokenLock)}
}

// lock acquires the mutex for instanceID+path and returns its release func
func (p *pathLocks) lock(instanceID, path string) func() {
	key := xxhash.Sum64String(instanceID + "|" + path)

	p.mu.Lock()
	l, ok := p.locks[key]
	if !ok {
		l = &tokenLock{}
		p.locks[key] = l
	}
	l.refs++
	p.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		p.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(p.locks, key)
		}
		p.mu.Unlock()
	}
}

// FingerprintRefresher is a RefreshIf predicate that reports a path as
// stale when its fingerprint differs from the one seen on the previous call.
// The first call for a path records the fingerprint and reports false.
type FingerprintRefresher struct {
	items *fsitem.Registry

	mu   sync.Mutex
	seen map[string]uint64
}

// NewFingerprintRefresher creates a refresher over items (nil for the
// process-wide registry)
func NewFingerprintRefresher(items *fsitem.Registry) *FingerprintRefresher {
	if items == nil {
		items = fsitem.Default()
	}
	return &FingerprintRefresher{items: items, seen: make(map[string]uint64)}
}

// Changed reports whether path changed since the last call
func (f *FingerprintRefresher) Changed(path string) bool {
	it, err := f.items.Get(path)
	if err != nil {
		return true
	}
	fp, err := it.Fingerprint()
	if err != nil {
		debug.LogCache("fingerprint of %s failed: %v", path, err)
		return true
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	prev, ok := f.seen[path]
	f.seen[path] = fp
	return ok && prev != fp
}
