package scan

import (
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/standardbeagle/classhunter/internal/debug"
	cherrors "github.com/standardbeagle/classhunter/internal/errors"
	"github.com/standardbeagle/classhunter/internal/loader"
)

type pathItems struct {
	mu    sync.Mutex
	items map[string]*Item
}

// Context accumulates what one search execution finds. The flat map is
// always the union of the per-path maps; both are updated together under
// the lock of the per-path map.
type Context struct {
	id      string
	cfg     *SearchConfig
	scanner *Scanner

	mu      sync.Mutex
	byPath  map[string]*pathItems
	skipped map[string]struct{}
	closed  bool

	flatMu sync.RWMutex
	flat   map[string]*Item

	snapshotOnce sync.Once
	snapshot     []*Item

	loaderMu   sync.Mutex
	loader     *loader.Loader
	loaderErr  error
	ownsLoader bool
}

func newContext(s *Scanner, cfg *SearchConfig) *Context {
	return &Context{
		id:      uuid.NewString(),
		cfg:     cfg,
		scanner: s,
		byPath:  make(map[string]*pathItems),
		skipped: make(map[string]struct{}),
		flat:    make(map[string]*Item),
	}
}

// Config returns the frozen search configuration
func (c *Context) Config() *SearchConfig { return c.cfg }

func (c *Context) submap(base string) *pathItems {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.byPath[base]
	if !ok {
		p = &pathItems{items: make(map[string]*Item)}
		c.byPath[base] = p
	}
	return p
}

// AddItemFound records an item found below base
func (c *Context) AddItemFound(base, key string, item *Item) {
	p := c.submap(base)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.items[key] = item
	c.flatMu.Lock()
	c.flat[key] = item
	c.flatMu.Unlock()
}

// AddAllItemsFound records a batch of items found below base
func (c *Context) AddAllItemsFound(base string, items map[string]*Item) {
	p := c.submap(base)
	p.mu.Lock()
	defer p.mu.Unlock()
	c.flatMu.Lock()
	defer c.flatMu.Unlock()
	for k, v := range items {
		p.items[k] = v
		c.flat[k] = v
	}
}

// ItemsFound returns the found items. The collection is computed on the
// first call; later calls return the same snapshot.
func (c *Context) ItemsFound() []*Item {
	c.snapshotOnce.Do(func() {
		c.flatMu.RLock()
		seen := make(map[*Item]bool, len(c.flat))
		out := make([]*Item, 0, len(c.flat))
		for _, it := range c.flat {
			if !seen[it] {
				seen[it] = true
				out = append(out, it)
			}
		}
		c.flatMu.RUnlock()
		sort.Slice(out, func(i, j int) bool {
			if out[i].Name != out[j].Name {
				return out[i].Name < out[j].Name
			}
			return out[i].Path < out[j].Path
		})
		c.snapshot = out
	})
	return c.snapshot
}

// ItemsFoundFlatMap returns a copy of the key -> item map
func (c *Context) ItemsFoundFlatMap() map[string]*Item {
	c.flatMu.RLock()
	defer c.flatMu.RUnlock()
	out := make(map[string]*Item, len(c.flat))
	for k, v := range c.flat {
		out[k] = v
	}
	return out
}

// ItemsFoundMap returns a copy of the scanned path -> key -> item map
func (c *Context) ItemsFoundMap() map[string]map[string]*Item {
	c.mu.Lock()
	subs := make(map[string]*pathItems, len(c.byPath))
	for k, v := range c.byPath {
		subs[k] = v
	}
	c.mu.Unlock()

	out := make(map[string]map[string]*Item, len(subs))
	for base, p := range subs {
		p.mu.Lock()
		m := make(map[string]*Item, len(p.items))
		for k, v := range p.items {
			m[k] = v
		}
		p.mu.Unlock()
		out[base] = m
	}
	return out
}

// AddSkipped records a class that could not be classified or loaded
func (c *Context) AddSkipped(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.skipped != nil {
		c.skipped[name] = struct{}{}
	}
}

// SkippedClassNames returns the names recorded through AddSkipped
func (c *Context) SkippedClassNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.skipped))
	for n := range c.skipped {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Loader returns the loader of the search, acquiring it on first use
// according to the loader policy
func (c *Context) Loader() (*loader.Loader, error) {
	c.loaderMu.Lock()
	defer c.loaderMu.Unlock()
	if c.loader != nil || c.loaderErr != nil {
		return c.loader, c.loaderErr
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, cherrors.NewLifecycleError("search context", "acquire loader")
	}

	var (
		l   *loader.Loader
		err error
	)
	loaders := c.scanner.loaders
	switch c.cfg.policy {
	case SharedLoader:
		l, err = loaders.SharedScannerLoader(c)
	case IsolatedLoader, ParentLoader:
		l, err = loaders.Hierarchy().NewLoader("search-"+c.id[:8], c.cfg.parent)
		if err == nil {
			c.ownsLoader = true
			err = l.Register(c)
		}
	}
	if err != nil {
		c.loaderErr = err
		return nil, err
	}
	c.loader = l
	return l, nil
}

// loadedLoader returns the loader if one was acquired, without acquiring
func (c *Context) loadedLoader() *loader.Loader {
	c.loaderMu.Lock()
	defer c.loaderMu.Unlock()
	return c.loader
}

func (c *Context) loadClass(item *Item) (*loader.Class, error) {
	l, err := c.Loader()
	if err != nil {
		return nil, err
	}
	if cls, ok := l.FindLoadedClass(item.Name); ok {
		return cls, nil
	}
	return l.LoadOrDefine(item.Name, item.Bytes())
}

// Close releases the search state. Found items are cleared when the search
// asked for it; a loader private to the search is closed, the shared loader
// only loses this search's registration.
func (c *Context) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.cfg.discardOnEnd {
		for _, p := range c.byPath {
			p.mu.Lock()
			p.items = make(map[string]*Item)
			p.mu.Unlock()
		}
		c.flatMu.Lock()
		c.flat = make(map[string]*Item)
		c.flatMu.Unlock()
	}
	c.skipped = nil
	c.mu.Unlock()

	if l := c.loadedLoader(); l != nil {
		closed := l.Unregister(c, true)
		debug.LogScan("search %s released loader %s (owned=%v closed=%v)", c.id[:8], l.Name(), c.ownsLoader, closed)
	}
	c.cfg.Close()
}

// Result is the read-only view of a search. For asynchronous searches the
// accessors wait for the search to end.
type Result struct {
	ctx     *Context
	scanner *Scanner
	done    chan struct{}
	err     error

	closeOnce sync.Once
}

func newResult(s *Scanner, ctx *Context) *Result {
	return &Result{ctx: ctx, scanner: s, done: make(chan struct{})}
}

func (r *Result) finish(err error) {
	r.err = err
	close(r.done)
}

// Wait blocks until the search has ended and returns its error. There is
// no way to abort a running search.
func (r *Result) Wait() error {
	<-r.done
	return r.err
}

// Context returns the search context
func (r *Result) Context() *Context { return r.ctx }

// Items returns every item found
func (r *Result) Items() []*Item {
	_ = r.Wait()
	return r.ctx.ItemsFound()
}

// ItemsByPath returns the items found grouped by scanned path
func (r *Result) ItemsByPath() map[string]map[string]*Item {
	_ = r.Wait()
	return r.ctx.ItemsFoundMap()
}

// Skipped returns the classes that could not be classified or loaded
func (r *Result) Skipped() []string {
	_ = r.Wait()
	return r.ctx.SkippedClassNames()
}

// Loader returns the loader of the search
func (r *Result) Loader() (*loader.Loader, error) { return r.ctx.Loader() }

// Classes returns the classes loaded by a class search
func (r *Result) Classes() []*loader.Class {
	var out []*loader.Class
	for _, it := range r.Items() {
		if it.class != nil {
			out = append(out, it.class)
		}
	}
	return out
}

// ByteCodes returns class name -> byte code of the items found
func (r *Result) ByteCodes() map[string][]byte {
	items := r.Items()
	out := make(map[string][]byte, len(items))
	for _, it := range items {
		if _, ok := out[it.Name]; !ok {
			out[it.Name] = it.Bytes()
		}
	}
	return out
}

// ClassPaths returns the distinct class path roots of the items found
func (r *Result) ClassPaths() []string {
	seen := make(map[string]bool)
	var out []string
	for _, it := range r.Items() {
		if it.ClassPath != "" && !seen[it.ClassPath] {
			seen[it.ClassPath] = true
			out = append(out, it.ClassPath)
		}
	}
	sort.Strings(out)
	return out
}

// Close waits for the search to end, then releases it
func (r *Result) Close() {
	r.closeOnce.Do(func() {
		_ = r.Wait()
		r.ctx.Close()
		r.scanner.forget(r)
	})
}
