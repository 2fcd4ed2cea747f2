package loader

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/standardbeagle/classhunter/internal/classfile"
	"github.com/standardbeagle/classhunter/internal/debug"
	cherrors "github.com/standardbeagle/classhunter/internal/errors"
	"github.com/standardbeagle/classhunter/internal/fsitem"
)

// pending holds byte code registered but not yet defined. Its mutex
// serializes definition attempts for one class name.
type pending struct {
	mu   sync.Mutex
	data []byte
}

// Stats reports definition counters of a loader
type Stats struct {
	Defined     int   // classes defined by this loader
	Pending     int   // byte codes registered and not yet defined
	Definitions int64 // successful definitions, one per class name
	Duplicates  int64 // class or package definitions refused as duplicates
	ClassPaths  int
}

// Loader is a dynamic class loader. Classes are defined from byte code
// registered in memory or found on the loader's own class paths. Lookups
// delegate to the parent chain first.
type Loader struct {
	id    string
	name  string
	index int
	h     *Hierarchy

	mu            sync.Mutex
	notYetDefined map[string]*pending
	defined       map[string][]byte
	classes       map[string]*Class
	classPaths    []*fsitem.Item
	pathSet       map[string]struct{}

	pkgMu    sync.RWMutex
	packages map[string]*Package

	closing     atomic.Bool
	definitions atomic.Int64
	duplicates  atomic.Int64
}

func newLoader(h *Hierarchy, name string) *Loader {
	id := uuid.NewString()
	if name == "" {
		name = "loader-" + id[:8]
	}
	return &Loader{
		id:            id,
		name:          name,
		h:             h,
		notYetDefined: make(map[string]*pending),
		defined:       make(map[string][]byte),
		classes:       make(map[string]*Class),
		pathSet:       make(map[string]struct{}),
		packages:      make(map[string]*Package),
	}
}

// ID returns the unique loader id
func (l *Loader) ID() string { return l.id }

// Name returns the human readable loader name
func (l *Loader) Name() string { return l.name }

// Hierarchy returns the arena that owns the loader
func (l *Loader) Hierarchy() *Hierarchy { return l.h }

// Parent returns the live parent loader, nil for the platform node
func (l *Loader) Parent() *Loader { return l.h.Parent(l) }

// IsClosed reports whether the loader has begun closing
func (l *Loader) IsClosed() bool { return l.closing.Load() }

func (l *Loader) String() string { return l.name }

func (l *Loader) closedErr(op string) error {
	return cherrors.NewLifecycleError("loader "+l.name, op)
}

// AddByteCodes registers byte code for classes not yet defined. Names that
// are already defined or already registered are left untouched. It returns
// the number of newly registered classes.
func (l *Loader) AddByteCodes(byteCodes map[string][]byte) (int, error) {
	if l.IsClosed() {
		return 0, l.closedErr("add byte codes")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	added := 0
	for name, data := range byteCodes {
		if _, ok := l.classes[name]; ok {
			continue
		}
		if _, ok := l.notYetDefined[name]; ok {
			continue
		}
		l.notYetDefined[name] = &pending{data: data}
		added++
	}
	return added, nil
}

// AddClassPaths appends folders or archives to the loader's class path and
// returns the absolute paths that were not already present. Paths that do
// not denote a container are ignored.
func (l *Loader) AddClassPaths(paths ...string) ([]string, error) {
	if l.IsClosed() {
		return nil, l.closedErr("add class paths")
	}
	var added []string
	for _, p := range paths {
		it, err := l.h.items.Get(p)
		if err != nil {
			return added, err
		}
		if !it.IsContainer() {
			debug.LogLoader("%s: ignoring class path %s (%s)", l.name, p, it.Kind())
			continue
		}
		l.mu.Lock()
		if _, ok := l.pathSet[it.Path()]; !ok {
			l.pathSet[it.Path()] = struct{}{}
			l.classPaths = append(l.classPaths, it)
			added = append(added, it.Path())
		}
		l.mu.Unlock()
	}
	return added, nil
}

// ClassPaths returns the class path roots of this loader
func (l *Loader) ClassPaths() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.classPaths))
	for i, it := range l.classPaths {
		out[i] = it.Path()
	}
	return out
}

// HasClassPath reports whether path is already on the class path
func (l *Loader) HasClassPath(path string) bool {
	it, err := l.h.items.Get(path)
	if err != nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.pathSet[it.Path()]
	return ok
}

// FindLoadedClass returns a class already defined by this loader
func (l *Loader) FindLoadedClass(name string) (*Class, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.classes[name]
	return c, ok
}

// IsDefined reports whether name has been defined by this loader
func (l *Loader) IsDefined(name string) bool {
	_, ok := l.FindLoadedClass(name)
	return ok
}

// NotYetDefined returns the names registered but not yet defined
func (l *Loader) NotYetDefined() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.notYetDefined))
	for n := range l.notYetDefined {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// DefinedByteCodes returns a copy of the byte code of every defined class
func (l *Loader) DefinedByteCodes() map[string][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string][]byte, len(l.defined))
	for n, b := range l.defined {
		out[n] = b
	}
	return out
}

// DefinedClasses returns the classes defined by this loader, sorted by name
func (l *Loader) DefinedClasses() []*Class {
	l.mu.Lock()
	out := make([]*Class, 0, len(l.classes))
	for _, c := range l.classes {
		out = append(out, c)
	}
	l.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// Packages returns the packages defined by this loader
func (l *Loader) Packages() []*Package {
	l.pkgMu.RLock()
	defer l.pkgMu.RUnlock()
	out := make([]*Package, 0, len(l.packages))
	for _, p := range l.packages {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Stats returns definition counters
func (l *Loader) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{
		Defined:     len(l.classes),
		Pending:     len(l.notYetDefined),
		Definitions: l.definitions.Load(),
		Duplicates:  l.duplicates.Load(),
		ClassPaths:  len(l.classPaths),
	}
}

// LoadClass resolves name: classes already defined here first, then the
// parent chain, then byte code registered in or found by this loader.
func (l *Loader) LoadClass(name string) (*Class, error) {
	if l.IsClosed() {
		return nil, l.closedErr("load class " + name)
	}
	if c, ok := l.FindLoadedClass(name); ok {
		return c, nil
	}
	c, err := l.loadFromParent(name)
	if err == nil {
		return c, nil
	}
	if !cherrors.IsNotFound(err) {
		return nil, err
	}
	return l.resolve(name)
}

func (l *Loader) loadFromParent(name string) (*Class, error) {
	if p := l.h.Parent(l); p != nil {
		return p.LoadClass(name)
	}
	return l.h.LoadSystemClass(name)
}

// DefineClass defines name in this loader from data, without delegating
// to the parent chain. Defining an already defined class logs a warning and
// returns the existing definition.
func (l *Loader) DefineClass(name string, data []byte) (*Class, error) {
	if l.IsClosed() {
		return nil, l.closedErr("define class " + name)
	}
	if c, ok := l.FindLoadedClass(name); ok {
		l.warnDuplicate("class", name)
		return c, nil
	}
	if _, err := l.AddByteCodes(map[string][]byte{name: data}); err != nil {
		return nil, err
	}
	return l.resolve(name)
}

// LoadOrDefine loads name if it is reachable, otherwise registers data and
// defines it in this loader
func (l *Loader) LoadOrDefine(name string, data []byte) (*Class, error) {
	c, err := l.LoadClass(name)
	if err == nil {
		return c, nil
	}
	if !cherrors.IsNotFound(err) || data == nil {
		return nil, err
	}
	if _, err := l.AddByteCodes(map[string][]byte{name: data}); err != nil {
		return nil, err
	}
	return l.resolve(name)
}

// DefineAll defines every class in byteCodes that is not yet reachable and
// returns the resulting classes. Failures are collected; successful
// definitions are kept.
func (l *Loader) DefineAll(byteCodes map[string][]byte) (map[string]*Class, error) {
	if _, err := l.AddByteCodes(byteCodes); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(byteCodes))
	for n := range byteCodes {
		names = append(names, n)
	}
	sort.Strings(names)

	out := make(map[string]*Class, len(names))
	var errs []error
	for _, n := range names {
		c, err := l.LoadClass(n)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out[n] = c
	}
	return out, cherrors.NewMultiError(errs).ErrOrNil()
}

// resolve defines name and any not yet defined classes it depends on. Work
// is tracked on an explicit stack; a dependency that shows up again while
// still pending means there is no progress and the original error is
// returned.
func (l *Loader) resolve(name string) (*Class, error) {
	work := []string{name}
	visited := map[string]bool{name: true}
	var original error

	for len(work) > 0 {
		cur := work[len(work)-1]
		c, missing, err := l.defineOne(cur)
		if err == nil {
			work = work[:len(work)-1]
			if len(work) == 0 {
				return c, nil
			}
			continue
		}
		if original == nil {
			original = err
		}
		if missing == "" {
			if cur == name {
				return nil, err
			}
			return nil, cherrors.NewNoClassDefFoundError(name, cur, err)
		}
		if visited[missing] {
			debug.LogLoader("%s: no progress resolving %s (cycle through %s)", l.name, name, missing)
			return nil, original
		}
		visited[missing] = true
		work = append(work, missing)
	}
	return nil, original
}

// defineOne defines name if all of its dependencies are reachable. When a
// dependency is not reachable yet but can be defined by this loader, its
// name is returned as missing so the caller can define it first.
func (l *Loader) defineOne(name string) (*Class, string, error) {
	if c, ok := l.FindLoadedClass(name); ok {
		return c, "", nil
	}
	p := l.pendingFor(name)
	if p == nil {
		// a concurrent definition may have consumed the pending entry
		if c, ok := l.FindLoadedClass(name); ok {
			return c, "", nil
		}
		return nil, "", cherrors.NewClassNotFoundError(name, l.name)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := l.FindLoadedClass(name); ok {
		return c, "", nil
	}
	if l.IsClosed() {
		return nil, "", l.closedErr("define class " + name)
	}

	desc, err := classfile.Parse(p.data)
	if err != nil {
		l.discard(name)
		return nil, "", cherrors.NewClassFormatError(name, err)
	}
	if desc.Name != name {
		l.discard(name)
		return nil, "", cherrors.NewClassFormatError(name, fmt.Errorf("byte code defines %s", desc.Name))
	}

	c := &Class{name: name, loader: l, desc: desc, data: p.data}
	for i, dep := range desc.Dependencies() {
		dc, err := l.lookupDependency(dep)
		if err != nil {
			if !cherrors.IsNotFound(err) {
				return nil, "", err
			}
			if dep != name && l.pendingFor(dep) != nil {
				return nil, dep, cherrors.NewNoClassDefFoundError(name, dep, err)
			}
			if dep == name {
				return nil, dep, cherrors.NewNoClassDefFoundError(name, dep, errors.New("class cannot be its own supertype"))
			}
			return nil, "", cherrors.NewNoClassDefFoundError(name, dep, err)
		}
		if i == 0 && desc.SuperName != "" {
			c.super = dc
		} else {
			c.interfaces = append(c.interfaces, dc)
		}
	}
	c.pkg = l.definePackage(desc.Package())

	l.mu.Lock()
	l.classes[name] = c
	l.defined[name] = p.data
	delete(l.notYetDefined, name)
	l.mu.Unlock()
	l.definitions.Add(1)

	debug.LogLoader("%s: defined %s", l.name, name)
	return c, "", nil
}

// lookupDependency finds a dependency among classes already defined here or
// through the parent chain, without defining anything in this loader
func (l *Loader) lookupDependency(name string) (*Class, error) {
	if c, ok := l.FindLoadedClass(name); ok {
		return c, nil
	}
	return l.loadFromParent(name)
}

// pendingFor returns the registered byte code of name, registering it from
// the class path on first sight. nil means this loader cannot define name.
func (l *Loader) pendingFor(name string) *pending {
	l.mu.Lock()
	p, ok := l.notYetDefined[name]
	l.mu.Unlock()
	if ok {
		return p
	}

	data, ok := l.findOnClassPath(name)
	if !ok {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if p, ok := l.notYetDefined[name]; ok {
		return p
	}
	if _, ok := l.classes[name]; ok {
		return nil
	}
	p = &pending{data: data}
	l.notYetDefined[name] = p
	return p
}

func (l *Loader) discard(name string) {
	l.mu.Lock()
	delete(l.notYetDefined, name)
	l.mu.Unlock()
}

func (l *Loader) findOnClassPath(name string) ([]byte, bool) {
	l.mu.Lock()
	roots := append([]*fsitem.Item(nil), l.classPaths...)
	l.mu.Unlock()
	if len(roots) == 0 {
		return nil, false
	}

	rel := classfile.ResourcePath(name)
	for _, root := range roots {
		it, ok := root.Find(rel)
		if !ok {
			continue
		}
		data, err := it.ReadBytes()
		if err != nil {
			log.Printf("Warning: failed to read %s: %v", it.Path(), err)
			continue
		}
		return data, true
	}
	return nil, false
}

// definePackage returns the package named pkgName, defining it once
func (l *Loader) definePackage(pkgName string) *Package {
	l.pkgMu.RLock()
	p, ok := l.packages[pkgName]
	l.pkgMu.RUnlock()
	if ok {
		return p
	}

	l.pkgMu.Lock()
	defer l.pkgMu.Unlock()
	if existing, ok := l.packages[pkgName]; ok {
		l.warnDuplicate("package", pkgName)
		return existing
	}
	p = &Package{Name: pkgName, Loader: l}
	l.packages[pkgName] = p
	return p
}

// warnDuplicate reports a refused second definition; the existing one is
// kept and returned to the caller
func (l *Loader) warnDuplicate(kind, name string) {
	l.duplicates.Add(1)
	log.Printf("Warning: %v in %s, reusing existing definition", cherrors.NewDuplicateDefinitionError(kind, name), l.name)
}

// Register adds client to the loader's ledger. It fails once the loader
// has begun closing.
func (l *Loader) Register(client any) error {
	if client == nil {
		return cherrors.NewConfigError("client", "", errors.New("client is required"))
	}
	l.h.mu.Lock()
	defer l.h.mu.Unlock()
	if l.IsClosed() {
		return l.closedErr("register client")
	}
	l.h.addClientLocked(l.index, client)
	return nil
}

// Unregister removes client from the ledger. When the ledger becomes empty
// and closeIfEmpty is set, the loader closes. It reports whether the loader
// is closed on return.
func (l *Loader) Unregister(client any, closeIfEmpty bool) bool {
	l.h.mu.Lock()
	removed := l.h.removeClientLocked(l.index, client)
	empty := len(l.h.ledger[l.index]) == 0
	l.h.mu.Unlock()

	if !removed {
		debug.LogLoader("%s: unregister of unknown client %v ignored", l.name, client)
	}
	if empty && closeIfEmpty {
		l.shutdown()
	}
	return l.IsClosed()
}

// Clients returns the current ledger entries
func (l *Loader) Clients() []any {
	l.h.mu.RLock()
	defer l.h.mu.RUnlock()
	set := l.h.ledger[l.index]
	out := make([]any, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}

// Close closes the loader if no client is registered
func (l *Loader) Close() error {
	if l.IsClosed() {
		return nil
	}
	if n := len(l.Clients()); n > 0 {
		return fmt.Errorf("loader %s still has %d registered clients", l.name, n)
	}
	l.shutdown()
	return nil
}

// shutdown clears all byte code and removes the loader from the hierarchy
func (l *Loader) shutdown() {
	if !l.closing.CompareAndSwap(false, true) {
		return
	}
	l.mu.Lock()
	l.notYetDefined = make(map[string]*pending)
	l.defined = make(map[string][]byte)
	l.classes = make(map[string]*Class)
	l.classPaths = nil
	l.pathSet = make(map[string]struct{})
	l.mu.Unlock()

	l.pkgMu.Lock()
	l.packages = make(map[string]*Package)
	l.pkgMu.Unlock()

	l.h.detach(l)
	debug.LogLoader("closed loader %s", l.name)
}
