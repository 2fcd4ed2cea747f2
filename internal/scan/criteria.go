package scan

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/standardbeagle/classhunter/internal/classfile"
	"github.com/standardbeagle/classhunter/internal/criteria"
	"github.com/standardbeagle/classhunter/internal/fsitem"
)

// ClassCriteria is the criteria type class searches test
type ClassCriteria = criteria.Criteria[*Candidate]

// FileCriteria is the criteria type file filters test
type FileCriteria = criteria.Criteria[*fsitem.Item]

func descriptorCriteria(match func(*classfile.Descriptor) bool) *ClassCriteria {
	return criteria.Func(func(c *Candidate) bool {
		d, err := c.Descriptor()
		if err != nil {
			return false
		}
		return match(d)
	})
}

// ClassNamed matches classes by exact binary name
func ClassNamed(names ...string) *ClassCriteria {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return criteria.Func(func(c *Candidate) bool { return set[c.Name()] })
}

// SimpleNamed matches classes by simple name
func SimpleNamed(name string) *ClassCriteria {
	return criteria.Func(func(c *Candidate) bool { return classfile.SimpleName(c.Name()) == name })
}

// ClassNameMatches matches binary names against a glob where "." separates
// segments, e.g. "com.acme.**.*Service"
func ClassNameMatches(pattern string) *ClassCriteria {
	glob := strings.ReplaceAll(pattern, ".", "/")
	return criteria.Func(func(c *Candidate) bool {
		ok, _ := doublestar.Match(glob, classfile.InternalName(c.Name()))
		return ok
	})
}

// InPackage matches classes declared directly in one of pkgs
func InPackage(pkgs ...string) *ClassCriteria {
	set := make(map[string]bool, len(pkgs))
	for _, p := range pkgs {
		set[p] = true
	}
	return criteria.Func(func(c *Candidate) bool { return set[classfile.PackageOf(c.Name())] })
}

// DirectlyExtends matches classes whose declared superclass is super
func DirectlyExtends(super string) *ClassCriteria {
	return descriptorCriteria(func(d *classfile.Descriptor) bool { return d.SuperName == super })
}

// DirectlyImplements matches classes that list iface among their declared
// interfaces
func DirectlyImplements(iface string) *ClassCriteria {
	return descriptorCriteria(func(d *classfile.Descriptor) bool {
		for _, i := range d.Interfaces {
			if i == iface {
				return true
			}
		}
		return false
	})
}

// Interfaces matches interface declarations
func Interfaces() *ClassCriteria {
	return descriptorCriteria(func(d *classfile.Descriptor) bool { return d.IsInterface() })
}

// DeclaresMethod matches classes declaring a method named name
func DeclaresMethod(name string) *ClassCriteria {
	return descriptorCriteria(func(d *classfile.Descriptor) bool {
		for _, m := range d.Methods {
			if m.Name == name {
				return true
			}
		}
		return false
	})
}

// AssignableTo matches classes that can be assigned to target, walking the
// full hierarchy through the search's loader. target is preloaded before
// the search starts. Classes that fail to load do not match.
func AssignableTo(target string) *ClassCriteria {
	return criteria.New(func(ctx *criteria.TestContext[*Candidate], c *Candidate) bool {
		if c.Name() == target {
			return false
		}
		cls, err := c.Class()
		if err != nil {
			return false
		}
		l := cls.Loader()
		if l == nil {
			return false
		}
		t, err := l.LoadClass(target)
		if err != nil {
			return false
		}
		if t.IsAssignableFrom(cls) {
			ctx.Collect(cls)
			return true
		}
		return false
	}).WithClassesToPreload(target)
}

// GlobFileFilter builds a file filter from include and exclude globs matched
// against slash-separated absolute paths without the leading slash. Archive
// entries match on their virtual path. Empty include means everything.
func GlobFileFilter(include, exclude []string) (*FileCriteria, error) {
	for _, p := range append(append([]string(nil), include...), exclude...) {
		if !doublestar.ValidatePattern(p) {
			return nil, doublestar.ErrBadPattern
		}
	}
	if len(include) == 0 && len(exclude) == 0 {
		return criteria.Empty[*fsitem.Item](), nil
	}
	inc := append([]string(nil), include...)
	exc := append([]string(nil), exclude...)
	return criteria.Func(func(it *fsitem.Item) bool {
		p := strings.TrimPrefix(strings.ReplaceAll(it.Path(), "\\", "/"), "/")
		for _, e := range exc {
			if ok, _ := doublestar.Match(e, p); ok {
				return false
			}
		}
		if len(inc) == 0 {
			return true
		}
		for _, i := range inc {
			if ok, _ := doublestar.Match(i, p); ok {
				return true
			}
		}
		return false
	}), nil
}
