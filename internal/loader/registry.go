package loader

import (
	"sync"

	"github.com/standardbeagle/classhunter/internal/debug"
	cherrors "github.com/standardbeagle/classhunter/internal/errors"
)

// ParentSupplier returns the loader to use as parent of a default loader;
// nil means the platform node. It is consulted on every access so that a
// changed value is noticed.
type ParentSupplier func() *Loader

type slot struct {
	name     string
	loader   *Loader
	parent   *Loader
	supplier ParentSupplier
}

// Registry owns the two default loaders of a scanner: the shared scanner
// loader used by searches, and the default loader of the class factory.
// Both are created lazily and recreated when their parent supplier yields a
// different loader. The registry holds a client registration on each
// default loader; users register their own.
type Registry struct {
	h *Hierarchy

	mu      sync.Mutex
	scanner slot
	factory slot
	closed  bool
}

// NewRegistry creates a registry over h
func NewRegistry(h *Hierarchy) *Registry {
	return &Registry{
		h:       h,
		scanner: slot{name: "shared-scanner"},
		factory: slot{name: "default-factory"},
	}
}

// Hierarchy returns the arena the default loaders live in
func (r *Registry) Hierarchy() *Hierarchy { return r.h }

// SetScannerParent changes the parent supplier of the shared scanner loader
func (r *Registry) SetScannerParent(s ParentSupplier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scanner.supplier = s
}

// SetFactoryParent changes the parent supplier of the default factory
// loader. Without one the factory loader is a child of the shared scanner
// loader.
func (r *Registry) SetFactoryParent(s ParentSupplier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factory.supplier = s
}

// SharedScannerLoader returns the shared scanner loader and registers
// client on it (a nil client only peeks).
func (r *Registry) SharedScannerLoader(client any) (*Loader, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, cherrors.NewLifecycleError("loader registry", "get shared scanner loader")
	}
	l, err := r.resolveLocked(&r.scanner, nil)
	if err != nil {
		return nil, err
	}
	return l, r.registerClient(l, client)
}

// DefaultFactoryLoader returns the default class factory loader and
// registers client on it
func (r *Registry) DefaultFactoryLoader(client any) (*Loader, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, cherrors.NewLifecycleError("loader registry", "get default factory loader")
	}
	l, err := r.resolveLocked(&r.factory, func() (*Loader, error) {
		return r.resolveLocked(&r.scanner, nil)
	})
	if err != nil {
		return nil, err
	}
	return l, r.registerClient(l, client)
}

// IsShared reports whether l is one of the registry's default loaders
func (r *Registry) IsShared(l *Loader) bool {
	if l == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return l == r.scanner.loader || l == r.factory.loader
}

func (r *Registry) registerClient(l *Loader, client any) error {
	if client == nil {
		return nil
	}
	return l.Register(client)
}

func (r *Registry) resolveLocked(s *slot, fallback func() (*Loader, error)) (*Loader, error) {
	var parent *Loader
	switch {
	case s.supplier != nil:
		parent = s.supplier()
	case fallback != nil:
		p, err := fallback()
		if err != nil {
			return nil, err
		}
		parent = p
	}

	if s.loader != nil && !s.loader.IsClosed() && s.parent == parent {
		return s.loader, nil
	}
	if s.loader != nil {
		debug.LogLoader("%s loader parent changed, replacing %s", s.name, s.loader.Name())
		s.loader.Unregister(r, true)
	}

	l, err := r.h.NewLoader(s.name, parent)
	if err != nil {
		return nil, err
	}
	if err := l.Register(r); err != nil {
		return nil, err
	}
	s.loader = l
	s.parent = parent
	return l, nil
}

// Reset releases the default loaders. Each one closes as soon as its last
// client unregisters; the next access creates fresh loaders.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.releaseLocked()
}

func (r *Registry) releaseLocked() {
	// the factory loader is a client-holding child of the scanner loader,
	// release it first
	for _, s := range []*slot{&r.factory, &r.scanner} {
		if s.loader != nil {
			s.loader.Unregister(r, true)
			s.loader = nil
			s.parent = nil
		}
	}
}

// Close releases the default loaders and rejects further accesses
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	r.releaseLocked()
}
