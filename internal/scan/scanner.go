// Package scan finds class files below folders and archives, tests them
// against class criteria and caches what unfiltered scans discover, per
// scanned path.
//
// A search runs in two passes. The first gathers every class file of every
// scanned path (from the cache when possible), the second tests each one
// against the search's class criteria. A single cached path therefore serves
// searches with different criteria without touching the file system again.
package scan

import (
	"context"
	"log"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/standardbeagle/classhunter/internal/classfile"
	"github.com/standardbeagle/classhunter/internal/config"
	"github.com/standardbeagle/classhunter/internal/criteria"
	"github.com/standardbeagle/classhunter/internal/debug"
	cherrors "github.com/standardbeagle/classhunter/internal/errors"
	"github.com/standardbeagle/classhunter/internal/fsitem"
	"github.com/standardbeagle/classhunter/internal/loader"
)

// Stats reports scanner activity
type Stats struct {
	Traversals  int64 // paths read from the file system
	CacheHits   int64 // paths served from the cache
	CachedPaths int
	OpenResults int
}

// Option configures a Scanner
type Option func(*Scanner)

// WithItemRegistry sets the file-system item registry
func WithItemRegistry(r *fsitem.Registry) Option {
	return func(s *Scanner) { s.items = r }
}

// WithLoaderRegistry sets the registry providing the shared loader. The
// scanner does not close a registry it did not create.
func WithLoaderRegistry(r *loader.Registry) Option {
	return func(s *Scanner) { s.loaders = r }
}

// WithDefaultRefresh sets the freshness predicate used by searches that do
// not set their own
func WithDefaultRefresh(pred func(path string) bool) Option {
	return func(s *Scanner) { s.defaultRefresh = pred }
}

// Scanner runs searches with one strategy and owns the path cache
type Scanner struct {
	id       string
	strategy Strategy
	cfg      *config.Config
	check    fsitem.CheckOption
	globs    *criteria.Criteria[*fsitem.Item]

	items          *fsitem.Registry
	loaders        *loader.Registry
	ownsLoaders    bool
	defaultRefresh func(path string) bool

	cache *pathCache
	locks *pathLocks

	resultsMu sync.Mutex
	results   map[*Result]struct{}

	async      sync.WaitGroup
	closed     atomic.Bool
	traversals atomic.Int64
	cacheHits  atomic.Int64
}

// New creates a scanner. A nil cfg uses the defaults.
func New(cfg *config.Config, strategy Strategy, opts ...Option) (*Scanner, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if strategy == nil {
		strategy = ByteCodeStrategy{}
	}
	check, err := fsitem.ParseCheckOption(cfg.Scan.ClassFileCheck)
	if err != nil {
		return nil, cherrors.NewConfigError("scan.class_file_check", cfg.Scan.ClassFileCheck, err)
	}
	globs, err := GlobFileFilter(cfg.Scan.Include, cfg.Scan.Exclude)
	if err != nil {
		return nil, cherrors.NewConfigError("scan.include", "", err)
	}

	s := &Scanner{
		id:       uuid.NewString(),
		strategy: strategy,
		cfg:      cfg,
		check:    check,
		globs:    globs,
		cache:    newPathCache(),
		locks:    newPathLocks(),
		results:  make(map[*Result]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.items == nil {
		s.items = fsitem.Default()
	}
	if s.loaders == nil {
		s.loaders = loader.NewRegistry(loader.NewHierarchy(cfg.Loader.SystemPackages, s.items))
		s.ownsLoaders = true
	}
	return s, nil
}

// ID returns the scanner instance id
func (s *Scanner) ID() string { return s.id }

// Kind returns the strategy kind
func (s *Scanner) Kind() Kind { return s.strategy.Kind() }

// Loaders returns the loader registry
func (s *Scanner) Loaders() *loader.Registry { return s.loaders }

// Items returns the file-system item registry
func (s *Scanner) Items() *fsitem.Registry { return s.items }

// Config returns the scanner configuration
func (s *Scanner) Config() *config.Config { return s.cfg }

// Find runs a caching search. A failed search is closed before returning.
func (s *Scanner) Find(ctx context.Context, sc *SearchConfig) (*Result, error) {
	return s.run(ctx, sc, true)
}

// FindBy runs a search that neither reads nor populates the cache
func (s *Scanner) FindBy(ctx context.Context, sc *SearchConfig) (*Result, error) {
	return s.run(ctx, sc, false)
}

func (s *Scanner) run(ctx context.Context, sc *SearchConfig, caching bool) (*Result, error) {
	r, err := s.start(sc, caching)
	if err != nil {
		return nil, err
	}
	r.finish(s.execute(ctx, r.ctx, caching))
	if r.err != nil {
		r.Close()
		return nil, r.err
	}
	return r, nil
}

// FindAsync starts a caching search in the background. The returned result
// must be waited on with WaitForSearchEnding (or Wait); the search cannot be
// aborted.
func (s *Scanner) FindAsync(ctx context.Context, sc *SearchConfig) (*Result, error) {
	r, err := s.start(sc, true)
	if err != nil {
		return nil, err
	}
	s.async.Add(1)
	go func() {
		defer s.async.Done()
		r.finish(s.execute(context.WithoutCancel(ctx), r.ctx, true))
	}()
	return r, nil
}

// WaitForSearchEnding blocks until an asynchronous search has ended
func (s *Scanner) WaitForSearchEnding(r *Result) error {
	return r.Wait()
}

func (s *Scanner) start(sc *SearchConfig, caching bool) (*Result, error) {
	if s.closed.Load() {
		return nil, cherrors.NewLifecycleError("scanner", "search")
	}
	if sc == nil {
		sc = NewSearchConfig()
	}
	frozen, err := sc.Init(s.cfg.Scan.DefaultPaths)
	if err != nil {
		return nil, err
	}
	if frozen.refreshIf == nil {
		frozen.refreshIf = s.defaultRefresh
	}
	r := newResult(s, newContext(s, frozen))
	s.resultsMu.Lock()
	s.results[r] = struct{}{}
	s.resultsMu.Unlock()
	debug.LogScan("search %s started (%s, caching=%v, paths=%d)", r.ctx.id[:8], s.strategy.Kind(), caching, len(frozen.paths))
	return r, nil
}

func (s *Scanner) forget(r *Result) {
	s.resultsMu.Lock()
	delete(s.results, r)
	s.resultsMu.Unlock()
}

// execute gathers the class files of every scanned path before testing any
// of them, so that classes loaded while testing resolve supertypes found
// under any other path of the search, whatever the path order.
func (s *Scanner) execute(ctx context.Context, sc *Context, caching bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	paths := sc.cfg.paths
	found := make([]map[string]*Item, len(paths))
	err := s.walkRoots(ctx, paths, func(i int, base string) error {
		items, err := s.gather(sc, base, caching)
		found[i] = items
		return err
	})
	if err != nil {
		return err
	}

	all := orderedItems(found)
	if err := s.strategy.Prepare(sc, all); err != nil {
		return err
	}
	if err := s.preload(sc, all); err != nil {
		return err
	}
	return s.walkRoots(ctx, paths, func(i int, base string) error {
		return s.collect(sc, base, found[i])
	})
}

// orderedItems flattens the per-path items in path order, then key order
func orderedItems(found []map[string]*Item) []*Item {
	var out []*Item
	for _, items := range found {
		for _, key := range sortedKeys(items) {
			out = append(out, items[key])
		}
	}
	return out
}

func sortedKeys(items map[string]*Item) []string {
	keys := make([]string, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// preload feeds every item to the search's loader and loads the classes the
// class criteria need before testing. Classes that are not found are left
// to the predicate.
func (s *Scanner) preload(sc *Context, items []*Item) error {
	names := sc.cfg.classCriteria.ClassesToPreload()
	if len(names) == 0 {
		return nil
	}
	if err := feedLoader(sc, items); err != nil {
		return err
	}
	l, err := sc.Loader()
	if err != nil {
		return err
	}
	sort.Strings(names)
	for _, n := range names {
		if _, err := l.LoadClass(n); err != nil {
			if !cherrors.IsNotFound(err) {
				return err
			}
			debug.LogScan("preload of %s: %v", n, err)
		}
	}
	return nil
}

// walkRoots scans roots concurrently when there are more of them than the
// configured threshold, sequentially otherwise
func (s *Scanner) walkRoots(ctx context.Context, roots []string, fn func(i int, root string) error) error {
	if len(roots) <= s.cfg.Scan.ParallelThreshold || len(roots) < 2 {
		for i, r := range roots {
			if err := fn(i, r); err != nil {
				return err
			}
		}
		return nil
	}

	g := new(errgroup.Group)
	if s.cfg.Scan.MaxWorkers > 0 {
		g.SetLimit(s.cfg.Scan.MaxWorkers)
	}
	for i, r := range roots {
		g.Go(func() error { return fn(i, r) })
	}
	return g.Wait()
}

// gather returns every class file below base, from the cache when the
// search shape allows it. Names skipped while reading are cached along
// with the items and replayed on a hit.
func (s *Scanner) gather(sc *Context, base string, caching bool) (map[string]*Item, error) {
	cfg := sc.cfg
	defaultShape := cfg.fileFilter.HasNoPredicate() && cfg.traversal == AllDescendants
	refresh := cfg.refreshIf != nil && cfg.refreshIf(base)

	if !caching || !cfg.useCache {
		if refresh {
			s.items.Reset(base)
		}
		items, _, err := s.traverse(sc, base)
		return items, err
	}

	unlock := s.locks.lock(s.id, base)
	defer unlock()
	if refresh {
		if s.cache.remove(base) {
			debug.LogCache("dropped stale entry for %s", base)
		}
		s.items.Reset(base)
	}
	if cached, ok := s.cache.get(base); ok && defaultShape {
		s.cacheHits.Add(1)
		for _, name := range cached.skipped {
			sc.AddSkipped(name)
		}
		debug.LogCache("hit for %s (%d items, %d skipped)", base, len(cached.items), len(cached.skipped))
		return cached.items, nil
	}
	items, skipped, err := s.traverse(sc, base)
	if err == nil && defaultShape && cfg.classCriteria.HasNoPredicate() {
		s.cache.put(base, &cacheEntry{items: items, skipped: skipped})
		debug.LogCache("stored %d items for %s", len(items), base)
	}
	return items, err
}

// traverse reads base from the file system and classifies every accepted
// class file. Failures on single entries go to the error handler; the names
// of the entries skipped are returned with the items.
func (s *Scanner) traverse(sc *Context, base string) (map[string]*Item, []string, error) {
	s.traversals.Add(1)
	out := make(map[string]*Item)

	root, err := s.items.Get(base)
	if err != nil {
		return nil, nil, err
	}
	if !root.Exists() {
		debug.LogScan("path %s does not exist", base)
		return out, nil, nil
	}

	var skipped []string
	fail := func(err error, file *fsitem.Item) error {
		name := skippedName(root, file)
		skipped = append(skipped, name)
		return s.handleError(sc, err, file, base, name)
	}
	visit := func(file *fsitem.Item) error {
		if !s.accept(sc, file) {
			return nil
		}
		item, ok, err := s.strategy.Classify(file, base)
		if err != nil {
			return fail(err, file)
		}
		if ok {
			out[s.strategy.CacheKey(item)] = item
		}
		return nil
	}

	if !root.IsContainer() {
		err := visit(root)
		return out, skipped, err
	}
	if sc.cfg.traversal == ChildrenOnly {
		children, err := root.Children()
		if err != nil {
			err = fail(err, root)
			return out, skipped, err
		}
		for _, child := range children {
			if child.IsContainer() {
				continue
			}
			if err := visit(child); err != nil {
				return out, skipped, err
			}
		}
		return out, skipped, nil
	}
	err = walk(root, visit, fail)
	return out, skipped, err
}

func walk(dir *fsitem.Item, visit func(*fsitem.Item) error, fail func(error, *fsitem.Item) error) error {
	children, err := dir.Children()
	if err != nil {
		return fail(err, dir)
	}
	for _, child := range children {
		if child.IsContainer() {
			if err := walk(child, visit, fail); err != nil {
				return err
			}
			continue
		}
		if err := visit(child); err != nil {
			return err
		}
	}
	return nil
}

// skippedName names an entry that could not be read: its class name when
// the path below root mirrors one, its path otherwise
func skippedName(root, file *fsitem.Item) string {
	if rel, ok := file.RelativeTo(root); ok {
		if n, ok := classfile.NameFromResourcePath(rel); ok {
			return n
		}
	}
	return file.Path()
}

func (s *Scanner) accept(sc *Context, file *fsitem.Item) bool {
	if !file.IsClassFile(s.check) {
		return false
	}
	if !s.globs.TestWithTrueResultForNullEntityOrTrueResultForNullPredicate(file).Result() {
		return false
	}
	return sc.cfg.fileFilter.TestWithTrueResultForNullEntityOrTrueResultForNullPredicate(file).Result()
}

// handleError hands a classification failure to the criteria's error
// handler; without one the failure is logged and the entry skipped
func (s *Scanner) handleError(sc *Context, err error, file *fsitem.Item, base, name string) error {
	sc.AddSkipped(name)

	if h := sc.cfg.classCriteria.ErrorHandler(); h != nil {
		_, herr := h(err, file, base)
		return herr
	}
	log.Printf("Warning: could not read %s under %s: %v", file.Path(), base, err)
	return nil
}

// handleLoadError is the handler for the scanner's own class loading. Once
// the scanner is closed, failures are returned so that shutdown races are
// visible instead of silently skipped.
func (s *Scanner) handleLoadError(sc *Context, err error, item *Item) error {
	if s.closed.Load() {
		return err
	}
	debug.LogScan("could not load %s from %s: %v", item.Name, item.Path, err)
	sc.AddSkipped(item.Name)
	return nil
}

// collect tests the gathered items against the class criteria and records
// the ones that pass
func (s *Scanner) collect(sc *Context, base string, items map[string]*Item) error {
	crit := sc.cfg.classCriteria
	for _, key := range sortedKeys(items) {
		item := items[key]
		cand := &Candidate{item: item, ctx: sc}
		if !crit.TestWithTrueResultForNullEntityOrTrueResultForNullPredicate(cand).Result() {
			continue
		}
		found, ok, err := s.strategy.Collect(sc, item)
		if err != nil {
			if herr := s.handleLoadError(sc, err, item); herr != nil {
				return herr
			}
			continue
		}
		if ok {
			sc.AddItemFound(base, key, found)
		}
	}
	return nil
}

// ClearCache resets the loader registry, optionally closes every open
// result of this scanner, and drops all cached paths together with the
// memoized file-system state below them.
func (s *Scanner) ClearCache(closeResults bool) {
	s.clear(closeResults, true)
}

func (s *Scanner) clear(closeResults, resetLoaders bool) {
	if resetLoaders {
		s.loaders.Reset()
	}
	if closeResults {
		s.resultsMu.Lock()
		open := make([]*Result, 0, len(s.results))
		for r := range s.results {
			open = append(open, r)
		}
		s.resultsMu.Unlock()
		for _, r := range open {
			r.Close()
		}
	}
	for _, p := range s.cache.paths() {
		unlock := s.locks.lock(s.id, p)
		s.cache.remove(p)
		s.items.Reset(p)
		unlock()
	}
	debug.LogCache("cache of scanner %s cleared", s.id[:8])
}

// CacheSnapshot returns the cached paths and the keys cached for each
func (s *Scanner) CacheSnapshot() map[string][]string {
	out := make(map[string][]string)
	for _, p := range s.cache.paths() {
		entry, ok := s.cache.get(p)
		if !ok {
			continue
		}
		out[p] = sortedKeys(entry.items)
	}
	return out
}

// IsCached reports whether path has a cache entry
func (s *Scanner) IsCached(path string) bool {
	_, ok := s.cache.get(path)
	return ok
}

// Stats returns activity counters
func (s *Scanner) Stats() Stats {
	s.resultsMu.Lock()
	open := len(s.results)
	s.resultsMu.Unlock()
	return Stats{
		Traversals:  s.traversals.Load(),
		CacheHits:   s.cacheHits.Load(),
		CachedPaths: len(s.cache.paths()),
		OpenResults: open,
	}
}

// IsClosed reports whether Close has been called
func (s *Scanner) IsClosed() bool { return s.closed.Load() }

// Close waits for running asynchronous searches, closes open results and
// clears the cache. A loader registry created by the scanner is closed too;
// a registry passed in is left as it is.
func (s *Scanner) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.async.Wait()
	s.clear(true, false)
	if s.ownsLoaders {
		s.loaders.Close()
		s.loaders.Hierarchy().Close()
	}
	s.globs.Close()
	debug.LogScan("scanner %s closed", s.id[:8])
}
