// Package loader implements dynamic class loaders arranged in an explicit
// hierarchy. Loaders live in an arena owned by a Hierarchy; each node keeps
// the index of its parent, and index 0 is the platform node that resolves
// system classes. Parent links can be rewired at run time with SetAsParent.
//
// Every loader has a registration ledger of clients that keep it alive. A
// loader closes only when its ledger is empty, so shared loaders are never
// closed directly by a single user.
package loader

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/standardbeagle/classhunter/internal/debug"
	cherrors "github.com/standardbeagle/classhunter/internal/errors"
	"github.com/standardbeagle/classhunter/internal/fsitem"
)

const platformIndex = 0

// DefaultSystemPackages are resolved by the platform node without byte code
var DefaultSystemPackages = []string{"java.", "javax.", "jdk.", "sun."}

type node struct {
	parent int // -1 for the platform node
	loader *Loader
	closed bool
}

// Hierarchy is the arena that owns loaders, their parent links and their
// registration ledgers
type Hierarchy struct {
	id             string
	items          *fsitem.Registry
	systemPackages []string

	mu     sync.RWMutex
	nodes  []*node
	ledger map[int]map[any]struct{}

	platformMu   sync.Mutex
	platform     map[string]*Class
	platformPkgs map[string]*Package
}

// NewHierarchy creates a hierarchy with only the platform node. A nil
// registry uses the process-wide file-system item registry.
func NewHierarchy(systemPackages []string, items *fsitem.Registry) *Hierarchy {
	if len(systemPackages) == 0 {
		systemPackages = DefaultSystemPackages
	}
	if items == nil {
		items = fsitem.Default()
	}
	return &Hierarchy{
		id:             uuid.NewString(),
		items:          items,
		systemPackages: append([]string(nil), systemPackages...),
		nodes:          []*node{{parent: -1}},
		ledger:         make(map[int]map[any]struct{}),
		platform:       make(map[string]*Class),
		platformPkgs:   make(map[string]*Package),
	}
}

// ID returns the unique identifier of the hierarchy
func (h *Hierarchy) ID() string { return h.id }

// Items returns the file-system item registry used for class paths
func (h *Hierarchy) Items() *fsitem.Registry { return h.items }

// NewLoader creates a dynamic loader below parent (nil for the platform
// node). The new loader is registered as a client of its parent.
func (h *Hierarchy) NewLoader(name string, parent *Loader) (*Loader, error) {
	if parent != nil {
		if parent.h != h {
			return nil, cherrors.NewConfigError("parent", parent.Name(), errors.New("parent belongs to another hierarchy"))
		}
		if parent.IsClosed() {
			return nil, cherrors.NewLifecycleError("loader "+parent.Name(), "create child")
		}
	}

	l := newLoader(h, name)

	h.mu.Lock()
	defer h.mu.Unlock()
	l.index = len(h.nodes)
	parentIndex := platformIndex
	if parent != nil {
		parentIndex = parent.index
	}
	h.nodes = append(h.nodes, &node{parent: parentIndex, loader: l})
	if parentIndex != platformIndex {
		h.addClientLocked(parentIndex, l)
	}
	debug.LogLoader("created loader %s (index %d, parent %d)", l.name, l.index, parentIndex)
	return l, nil
}

// Parent returns the live parent of l, nil when l delegates to the platform
// node. Closed ancestors are skipped.
func (h *Hierarchy) Parent(l *Loader) *Loader {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.parentLocked(l.index)
}

func (h *Hierarchy) parentLocked(idx int) *Loader {
	for p := h.nodes[idx].parent; p > platformIndex; p = h.nodes[p].parent {
		if !h.nodes[p].closed {
			return h.nodes[p].loader
		}
	}
	return nil
}

// Loaders returns every loader that has not been closed
func (h *Hierarchy) Loaders() []*Loader {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []*Loader
	for _, n := range h.nodes[1:] {
		if !n.closed {
			out = append(out, n.loader)
		}
	}
	return out
}

// isAncestorLocked reports whether a is b or one of b's ancestors
func (h *Hierarchy) isAncestorLocked(a, b int) bool {
	for cur := b; cur >= 0; cur = h.nodes[cur].parent {
		if cur == a {
			return true
		}
	}
	return false
}

// masterLocked returns the topmost non-platform ancestor of idx (idx itself
// when its parent is the platform node), or -1 for the platform node
func (h *Hierarchy) masterLocked(idx int) int {
	if idx == platformIndex {
		return -1
	}
	cur := idx
	for h.nodes[cur].parent > platformIndex {
		cur = h.nodes[cur].parent
	}
	return cur
}

type relink struct {
	child      int
	prevParent int
	newParent  int
	wasInPrev  bool
	wasInNew   bool
}

func (h *Hierarchy) relinkLocked(child, newParent int) relink {
	r := relink{child: child, prevParent: h.nodes[child].parent, newParent: newParent}
	c := h.nodes[child].loader
	r.wasInPrev = h.hasClientLocked(r.prevParent, c)
	r.wasInNew = h.hasClientLocked(newParent, c)

	h.nodes[child].parent = newParent
	if r.prevParent > platformIndex {
		h.removeClientLocked(r.prevParent, c)
	}
	if newParent > platformIndex {
		h.addClientLocked(newParent, c)
	}
	return r
}

func (h *Hierarchy) undoLocked(r relink) {
	c := h.nodes[r.child].loader
	h.nodes[r.child].parent = r.prevParent
	h.setClientLocked(r.prevParent, c, r.wasInPrev)
	h.setClientLocked(r.newParent, c, r.wasInNew)
}

// SetAsParent makes newParent (nil for the platform node) the parent of
// target. With preserveHierarchy the previous parent of target is first
// moved above the topmost loader of newParent's chain, so nothing that
// target could reach before becomes unreachable.
//
// The returned function undoes every link and ledger change when called
// with true; it is a no-op when called with false or a second time.
func (h *Hierarchy) SetAsParent(target, newParent *Loader, preserveHierarchy bool) (func(restore bool), error) {
	if target == nil {
		return nil, cherrors.NewConfigError("target", "", errors.New("target loader is required"))
	}
	if target.h != h || (newParent != nil && newParent.h != h) {
		return nil, cherrors.NewConfigError("parent", "", errors.New("loaders belong to different hierarchies"))
	}
	if target.IsClosed() {
		return nil, cherrors.NewLifecycleError("loader "+target.Name(), "set parent")
	}
	if newParent != nil && newParent.IsClosed() {
		return nil, cherrors.NewLifecycleError("loader "+newParent.Name(), "become parent")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ti := target.index
	ni := platformIndex
	if newParent != nil {
		ni = newParent.index
	}
	if ti == ni {
		return nil, cherrors.NewConfigError("parent", target.Name(), errors.New("a loader cannot be its own parent"))
	}
	oi := h.nodes[ti].parent
	if oi == ni {
		return nil, cherrors.NewConfigError("parent", target.Name(), errors.New("loader already has this parent"))
	}
	if h.isAncestorLocked(ti, ni) {
		return nil, cherrors.NewConfigError("parent", target.Name(), fmt.Errorf("loader is an ancestor of %s", newParent.Name()))
	}

	var changes []relink
	if preserveHierarchy && oi > platformIndex {
		master := h.masterLocked(ni)
		if master > platformIndex && !h.isAncestorLocked(oi, master) && !h.isAncestorLocked(master, oi) {
			changes = append(changes, h.relinkLocked(master, oi))
			debug.LogLoader("moved %s above %s to preserve hierarchy", h.nodes[oi].loader.name, h.nodes[master].loader.name)
		}
	}
	changes = append(changes, h.relinkLocked(ti, ni))
	debug.LogLoader("parent of %s changed from %d to %d", target.name, oi, ni)

	done := false
	return func(restore bool) {
		if !restore {
			return
		}
		h.mu.Lock()
		defer h.mu.Unlock()
		if done {
			return
		}
		done = true
		for i := len(changes) - 1; i >= 0; i-- {
			h.undoLocked(changes[i])
		}
		debug.LogLoader("restored parent of %s to %d", target.name, oi)
	}, nil
}

func (h *Hierarchy) addClientLocked(idx int, client any) {
	set, ok := h.ledger[idx]
	if !ok {
		set = make(map[any]struct{})
		h.ledger[idx] = set
	}
	set[client] = struct{}{}
}

func (h *Hierarchy) removeClientLocked(idx int, client any) bool {
	set, ok := h.ledger[idx]
	if !ok {
		return false
	}
	if _, ok := set[client]; !ok {
		return false
	}
	delete(set, client)
	return true
}

func (h *Hierarchy) hasClientLocked(idx int, client any) bool {
	_, ok := h.ledger[idx][client]
	return ok
}

func (h *Hierarchy) setClientLocked(idx int, client any, present bool) {
	if idx <= platformIndex {
		return
	}
	if present {
		h.addClientLocked(idx, client)
	} else {
		h.removeClientLocked(idx, client)
	}
}

// detach marks the node closed, drops its ledger and releases the
// registration it holds on its parent
func (h *Hierarchy) detach(l *Loader) {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := h.nodes[l.index]
	n.closed = true
	delete(h.ledger, l.index)
	if n.parent > platformIndex {
		h.removeClientLocked(n.parent, l)
	}
}

// LoadSystemClass resolves a class through the platform node
func (h *Hierarchy) LoadSystemClass(name string) (*Class, error) {
	if c, ok := h.platformClass(name); ok {
		return c, nil
	}
	return nil, cherrors.NewClassNotFoundError(name, "platform")
}

// Close shuts down every loader regardless of remaining clients
func (h *Hierarchy) Close() {
	for _, l := range h.Loaders() {
		l.shutdown()
	}
}
