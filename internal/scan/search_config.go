package scan

import (
	"errors"
	"path/filepath"
	"strings"

	"github.com/standardbeagle/classhunter/internal/criteria"
	cherrors "github.com/standardbeagle/classhunter/internal/errors"
	"github.com/standardbeagle/classhunter/internal/fsitem"
	"github.com/standardbeagle/classhunter/internal/loader"
)

// Traversal selects which entries below a scanned path are considered
type Traversal int

const (
	// AllDescendants walks folders and archives recursively
	AllDescendants Traversal = iota
	// ChildrenOnly considers the immediate children of a path
	ChildrenOnly
)

// LoaderPolicy selects the loader used by a search
type LoaderPolicy int

const (
	// SharedLoader uses the scanner's shared loader
	SharedLoader LoaderPolicy = iota
	// IsolatedLoader creates a transient loader below the platform node
	IsolatedLoader
	// ParentLoader creates a transient loader below a supplied parent
	ParentLoader
)

var errInitialized = errors.New("search config is initialized and cannot change")

// SearchConfig describes one search. Init returns a frozen copy that a
// search execution works on; mutating a frozen config panics.
type SearchConfig struct {
	paths         []string
	defaultPaths  func() []string
	fileFilter    *criteria.Criteria[*fsitem.Item]
	classCriteria *criteria.Criteria[*Candidate]
	useCache      bool
	refreshIf     func(path string) bool
	traversal     Traversal
	policy        LoaderPolicy
	parent        *loader.Loader
	discardOnEnd  bool
	initialized   bool
}

// NewSearchConfig creates a caching search over paths. With no paths the
// default paths are used.
func NewSearchConfig(paths ...string) *SearchConfig {
	return &SearchConfig{
		paths:    append([]string(nil), paths...),
		useCache: true,
	}
}

func (c *SearchConfig) mutable() *SearchConfig {
	if c.initialized {
		panic(cherrors.NewConfigError("search config", "", errInitialized))
	}
	return c
}

// AddPaths appends paths to scan
func (c *SearchConfig) AddPaths(paths ...string) *SearchConfig {
	c.mutable().paths = append(c.paths, paths...)
	return c
}

// WithDefaultPaths sets the supplier consulted when no path is given
func (c *SearchConfig) WithDefaultPaths(supplier func() []string) *SearchConfig {
	c.mutable().defaultPaths = supplier
	return c
}

// WithFileFilter restricts the files considered. A file filter makes the
// search bypass the path cache.
func (c *SearchConfig) WithFileFilter(filter *criteria.Criteria[*fsitem.Item]) *SearchConfig {
	c.mutable().fileFilter = filter
	return c
}

// By sets the class criteria
func (c *SearchConfig) By(crit *criteria.Criteria[*Candidate]) *SearchConfig {
	c.mutable().classCriteria = crit
	return c
}

// UseCache enables or disables the path cache for Find
func (c *SearchConfig) UseCache(enabled bool) *SearchConfig {
	c.mutable().useCache = enabled
	return c
}

// RefreshIf sets the predicate deciding whether a cached path is stale
func (c *SearchConfig) RefreshIf(pred func(path string) bool) *SearchConfig {
	c.mutable().refreshIf = pred
	return c
}

// RefreshAlways forces every path to be rescanned
func (c *SearchConfig) RefreshAlways() *SearchConfig {
	return c.RefreshIf(func(string) bool { return true })
}

// WithTraversal sets the traversal mode
func (c *SearchConfig) WithTraversal(t Traversal) *SearchConfig {
	c.mutable().traversal = t
	return c
}

// UseSharedLoader loads classes through the scanner's shared loader (default)
func (c *SearchConfig) UseSharedLoader() *SearchConfig {
	c.mutable().policy = SharedLoader
	c.parent = nil
	return c
}

// UseIsolatedLoader loads classes through a loader private to the search
func (c *SearchConfig) UseIsolatedLoader() *SearchConfig {
	c.mutable().policy = IsolatedLoader
	c.parent = nil
	return c
}

// UseParentLoader loads classes through a loader private to the search
// whose parent is parent
func (c *SearchConfig) UseParentLoader(parent *loader.Loader) *SearchConfig {
	c.mutable().policy = ParentLoader
	c.parent = parent
	return c
}

// DiscardFoundOnClose clears found items when the result is closed
func (c *SearchConfig) DiscardFoundOnClose() *SearchConfig {
	c.mutable().discardOnEnd = true
	return c
}

// Paths returns the configured paths
func (c *SearchConfig) Paths() []string { return append([]string(nil), c.paths...) }

// ClassCriteria returns the class criteria, nil when none
func (c *SearchConfig) ClassCriteria() *criteria.Criteria[*Candidate] { return c.classCriteria }

// FileFilter returns the file filter, nil when none
func (c *SearchConfig) FileFilter() *criteria.Criteria[*fsitem.Item] { return c.fileFilter }

// Traversal returns the traversal mode
func (c *SearchConfig) Traversal() Traversal { return c.traversal }

// Policy returns the loader policy
func (c *SearchConfig) Policy() LoaderPolicy { return c.policy }

// IsInitialized reports whether the config is frozen
func (c *SearchConfig) IsInitialized() bool { return c.initialized }

// Copy returns an unfrozen deep copy
func (c *SearchConfig) Copy() *SearchConfig {
	cp := *c
	cp.paths = append([]string(nil), c.paths...)
	if c.fileFilter != nil {
		cp.fileFilter = c.fileFilter.Copy()
	}
	if c.classCriteria != nil {
		cp.classCriteria = c.classCriteria.Copy()
	}
	cp.initialized = false
	return &cp
}

// Init returns a frozen copy with paths resolved to absolute, deduplicated
// paths. fallback supplies paths when neither paths nor a default supplier
// yield any.
func (c *SearchConfig) Init(fallback []string) (*SearchConfig, error) {
	if c.policy == ParentLoader && c.parent == nil {
		return nil, cherrors.NewConfigError("parent", "", errors.New("a parent loader is required"))
	}
	cp := c.Copy()
	paths := cp.paths
	if len(paths) == 0 && cp.defaultPaths != nil {
		paths = cp.defaultPaths()
	}
	if len(paths) == 0 {
		paths = fallback
	}
	if len(paths) == 0 {
		return nil, cherrors.NewConfigError("paths", "", errors.New("no path to scan"))
	}

	seen := make(map[string]bool, len(paths))
	cp.paths = make([]string, 0, len(paths))
	for _, p := range paths {
		abs := p
		if !isArchivePath(p) {
			a, err := filepath.Abs(p)
			if err != nil {
				return nil, cherrors.NewConfigError("paths", p, err)
			}
			abs = a
		}
		if !seen[abs] {
			seen[abs] = true
			cp.paths = append(cp.paths, abs)
		}
	}
	cp.initialized = true
	return cp, nil
}

// Close releases the criteria held by the config
func (c *SearchConfig) Close() {
	c.fileFilter.Close()
	c.classCriteria.Close()
}

func isArchivePath(p string) bool {
	return strings.Contains(p, fsitem.ArchiveSeparator)
}
