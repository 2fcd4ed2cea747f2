package loader

import (
	"strings"

	"github.com/standardbeagle/classhunter/internal/classfile"
)

// RootType is the universal superclass
const RootType = "java.lang.Object"

// Class is a class defined by a Loader, or a system class resolved by the
// platform node (Loader() returns nil for those).
type Class struct {
	name       string
	loader     *Loader
	desc       *classfile.Descriptor
	data       []byte
	super      *Class
	interfaces []*Class
	pkg        *Package
}

// Name returns the binary class name
func (c *Class) Name() string { return c.name }

// Loader returns the defining loader, nil for platform classes
func (c *Class) Loader() *Loader { return c.loader }

// IsPlatform reports whether the class was resolved by the platform node
func (c *Class) IsPlatform() bool { return c.loader == nil }

// Descriptor returns the parsed class header
func (c *Class) Descriptor() *classfile.Descriptor { return c.desc }

// Bytes returns the byte code the class was defined from, nil for platform classes
func (c *Class) Bytes() []byte { return c.data }

// Super returns the resolved superclass, nil for the root type and interfaces
// without an explicit superclass
func (c *Class) Super() *Class { return c.super }

// Interfaces returns the resolved direct superinterfaces
func (c *Class) Interfaces() []*Class { return c.interfaces }

// Package returns the package the class belongs to
func (c *Class) Package() *Package { return c.pkg }

// IsInterface reports whether the class is an interface
func (c *Class) IsInterface() bool { return c.desc != nil && c.desc.IsInterface() }

// IsAssignableFrom reports whether a value of type other can be used where c
// is expected: other is c, or c is among other's supertypes.
func (c *Class) IsAssignableFrom(other *Class) bool {
	if c == nil || other == nil {
		return false
	}
	if c.name == RootType && c.IsPlatform() {
		return true
	}
	seen := make(map[*Class]bool)
	queue := []*Class{other}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == nil || seen[cur] {
			continue
		}
		if cur == c {
			return true
		}
		seen[cur] = true
		queue = append(queue, cur.super)
		queue = append(queue, cur.interfaces...)
	}
	return false
}

// Hierarchy returns the class followed by its superclasses up to the root type
func (c *Class) Hierarchy() []*Class {
	var out []*Class
	for cur := c; cur != nil; cur = cur.super {
		out = append(out, cur)
	}
	return out
}

func (c *Class) String() string {
	if c.loader == nil {
		return c.name + " (platform)"
	}
	return c.name + " (" + c.loader.Name() + ")"
}

// Package is a package defined in a loader
type Package struct {
	Name   string
	Loader *Loader // nil for platform packages
}

// platformShape lists well-known system types whose supertypes matter when
// testing assignability. Other system classes extend the root type.
var platformShape = map[string]struct {
	super      string
	interfaces []string
	iface      bool
}{
	"java.lang.Object":            {},
	"java.lang.String":            {super: RootType, interfaces: []string{"java.io.Serializable", "java.lang.Comparable", "java.lang.CharSequence"}},
	"java.lang.Number":            {super: RootType, interfaces: []string{"java.io.Serializable"}},
	"java.lang.Integer":           {super: "java.lang.Number", interfaces: []string{"java.lang.Comparable"}},
	"java.lang.Long":              {super: "java.lang.Number", interfaces: []string{"java.lang.Comparable"}},
	"java.lang.Double":            {super: "java.lang.Number", interfaces: []string{"java.lang.Comparable"}},
	"java.lang.Exception":         {super: "java.lang.Throwable"},
	"java.lang.RuntimeException":  {super: "java.lang.Exception"},
	"java.lang.Throwable":         {super: RootType, interfaces: []string{"java.io.Serializable"}},
	"java.lang.Runnable":          {iface: true},
	"java.lang.Comparable":        {iface: true},
	"java.lang.CharSequence":      {iface: true},
	"java.lang.Cloneable":         {iface: true},
	"java.lang.AutoCloseable":     {iface: true},
	"java.lang.Iterable":          {iface: true},
	"java.io.Serializable":        {iface: true},
	"java.io.Closeable":           {iface: true, interfaces: []string{"java.lang.AutoCloseable"}},
	"java.util.Collection":        {iface: true, interfaces: []string{"java.lang.Iterable"}},
	"java.util.List":              {iface: true, interfaces: []string{"java.util.Collection"}},
	"java.util.Map":               {iface: true},
	"java.util.function.Supplier": {iface: true},
	"java.util.function.Function": {iface: true},
}

func (h *Hierarchy) isSystemClass(name string) bool {
	for _, p := range h.systemPackages {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// platformClass returns the shared synthetic class for a system class name
func (h *Hierarchy) platformClass(name string) (*Class, bool) {
	if !h.isSystemClass(name) {
		return nil, false
	}
	h.platformMu.Lock()
	defer h.platformMu.Unlock()
	return h.platformClassLocked(name), true
}

func (h *Hierarchy) platformClassLocked(name string) *Class {
	if c, ok := h.platform[name]; ok {
		return c
	}
	shape, known := platformShape[name]
	desc := &classfile.Descriptor{
		Name:   name,
		Access: classfile.AccPublic,
	}
	if known {
		desc.SuperName = shape.super
		desc.Interfaces = shape.interfaces
		if shape.iface {
			desc.Access |= classfile.AccInterface | classfile.AccAbstract
		}
	} else if name != RootType {
		desc.SuperName = RootType
	}

	c := &Class{name: name, desc: desc}
	pkgName := classfile.PackageOf(name)
	pkg, ok := h.platformPkgs[pkgName]
	if !ok {
		pkg = &Package{Name: pkgName}
		h.platformPkgs[pkgName] = pkg
	}
	c.pkg = pkg
	h.platform[name] = c

	if desc.SuperName != "" {
		c.super = h.platformClassLocked(desc.SuperName)
	}
	for _, i := range desc.Interfaces {
		c.interfaces = append(c.interfaces, h.platformClassLocked(i))
	}
	return c
}
