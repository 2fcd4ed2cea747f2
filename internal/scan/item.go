package scan

import (
	"strings"
	"sync"

	"github.com/standardbeagle/classhunter/internal/classfile"
	cherrors "github.com/standardbeagle/classhunter/internal/errors"
	"github.com/standardbeagle/classhunter/internal/fsitem"
	"github.com/standardbeagle/classhunter/internal/loader"
)

// classData is shared by every copy of an Item, including cached ones
type classData struct {
	bytes []byte
	once  sync.Once
	desc  *classfile.Descriptor
	err   error
}

// Item is a class file found below a scanned path. Items are cached per
// scanned path and shared between searches; per-search state (the loaded
// class) lives on copies.
type Item struct {
	Name      string // binary class name
	Path      string // absolute path of the class file, archive entries use "!/"
	Base      string // scanned path the item was found under
	ClassPath string // class path root containing the class (folder or archive)

	data  *classData
	class *loader.Class
}

func newItem(name, path, base string, data []byte) *Item {
	return &Item{
		Name:      name,
		Path:      path,
		Base:      base,
		ClassPath: classPathRoot(path, name),
		data:      &classData{bytes: data},
	}
}

// Bytes returns the class file content
func (it *Item) Bytes() []byte { return it.data.bytes }

// Descriptor parses the class header once
func (it *Item) Descriptor() (*classfile.Descriptor, error) {
	d := it.data
	d.once.Do(func() {
		d.desc, d.err = classfile.Parse(d.bytes)
		if d.err != nil {
			d.err = cherrors.NewClassFormatError(it.Path, d.err)
		}
	})
	return d.desc, d.err
}

// Class returns the class loaded for this item by a class search, nil for
// other searches
func (it *Item) Class() *loader.Class { return it.class }

func (it *Item) withClass(c *loader.Class) *Item {
	cp := *it
	cp.class = c
	return &cp
}

// classPathRoot strips the resource path of name from the end of path
func classPathRoot(path, name string) string {
	rel := classfile.ResourcePath(name)
	slashed := strings.ReplaceAll(path, "\\", "/")
	if !strings.HasSuffix(slashed, rel) {
		return ""
	}
	root := path[:len(path)-len(rel)]
	root = strings.TrimSuffix(root, fsitem.ArchiveSeparator)
	return strings.TrimRight(root, `/\`)
}

// Candidate is what class criteria test: a found class file plus lazy access
// to its parsed header and to the class loaded by the search's loader.
type Candidate struct {
	item *Item
	ctx  *Context
}

// Name returns the binary class name
func (c *Candidate) Name() string { return c.item.Name }

// Path returns the class file path
func (c *Candidate) Path() string { return c.item.Path }

// Base returns the scanned path
func (c *Candidate) Base() string { return c.item.Base }

// Bytes returns the class file content
func (c *Candidate) Bytes() []byte { return c.item.Bytes() }

// Item returns the underlying item
func (c *Candidate) Item() *Item { return c.item }

// Descriptor returns the parsed class header
func (c *Candidate) Descriptor() (*classfile.Descriptor, error) { return c.item.Descriptor() }

// Class loads the class through the search's loader
func (c *Candidate) Class() (*loader.Class, error) { return c.ctx.loadClass(c.item) }

// Kind tags the closed set of hunt strategies
type Kind int

const (
	KindByteCode Kind = iota
	KindClass
	KindClassPath
)

func (k Kind) String() string {
	switch k {
	case KindByteCode:
		return "byte-code"
	case KindClass:
		return "class"
	case KindClassPath:
		return "class-path"
	}
	return "unknown"
}

// Strategy decides what a scanner produces from the class files it finds.
// Classify and CacheKey work on the cacheable, search-independent form;
// Prepare and Collect turn cached items into what a particular search
// returns. Prepare sees the items of every scanned path, in path order,
// before Collect is called for any of them.
type Strategy interface {
	Kind() Kind
	Classify(file *fsitem.Item, base string) (*Item, bool, error)
	CacheKey(item *Item) string
	Prepare(ctx *Context, items []*Item) error
	Collect(ctx *Context, item *Item) (*Item, bool, error)
}

// classify reads a class file and names it from its header
func classify(file *fsitem.Item, base string) (*Item, bool, error) {
	data, err := file.ReadBytes()
	if err != nil {
		return nil, false, err
	}
	name, err := classfile.ReadName(data)
	if err != nil {
		return nil, false, err
	}
	return newItem(name, file.Path(), base, data), true, nil
}

// ByteCodeStrategy yields class names and byte code without defining anything
type ByteCodeStrategy struct{}

func (ByteCodeStrategy) Kind() Kind { return KindByteCode }

func (ByteCodeStrategy) Classify(file *fsitem.Item, base string) (*Item, bool, error) {
	return classify(file, base)
}

func (ByteCodeStrategy) CacheKey(item *Item) string { return item.Path }

func (ByteCodeStrategy) Prepare(*Context, []*Item) error { return nil }

func (ByteCodeStrategy) Collect(_ *Context, item *Item) (*Item, bool, error) {
	return item, true, nil
}

// ClassStrategy loads every matching class through the search's loader.
// All byte code found by the search is handed to the loader first so that
// supertypes found under any scanned path resolve.
type ClassStrategy struct{}

func (ClassStrategy) Kind() Kind { return KindClass }

func (ClassStrategy) Classify(file *fsitem.Item, base string) (*Item, bool, error) {
	return classify(file, base)
}

func (ClassStrategy) CacheKey(item *Item) string { return item.Path }

func (ClassStrategy) Prepare(ctx *Context, items []*Item) error {
	return feedLoader(ctx, items)
}

// feedLoader registers the byte code of items with the search's loader. The
// first item of a name wins.
func feedLoader(ctx *Context, items []*Item) error {
	if len(items) == 0 {
		return nil
	}
	l, err := ctx.Loader()
	if err != nil {
		return err
	}
	byteCodes := make(map[string][]byte, len(items))
	for _, it := range items {
		if _, ok := byteCodes[it.Name]; !ok {
			byteCodes[it.Name] = it.Bytes()
		}
	}
	_, err = l.AddByteCodes(byteCodes)
	return err
}

func (ClassStrategy) Collect(ctx *Context, item *Item) (*Item, bool, error) {
	c, err := ctx.loadClass(item)
	if err != nil {
		return nil, false, err
	}
	return item.withClass(c), true, nil
}

// ClassPathStrategy yields the class path roots containing matching classes.
// Items stay per class so that class criteria can be tested on cached
// entries; results group them by root.
type ClassPathStrategy struct{}

func (ClassPathStrategy) Kind() Kind { return KindClassPath }

func (ClassPathStrategy) Classify(file *fsitem.Item, base string) (*Item, bool, error) {
	it, ok, err := classify(file, base)
	if err != nil || !ok {
		return it, ok, err
	}
	// a class whose path does not mirror its package cannot be found
	// through a class path
	if it.ClassPath == "" {
		return nil, false, nil
	}
	return it, true, nil
}

func (ClassPathStrategy) CacheKey(item *Item) string { return item.ClassPath + "#" + item.Name }

func (ClassPathStrategy) Prepare(*Context, []*Item) error { return nil }

func (ClassPathStrategy) Collect(_ *Context, item *Item) (*Item, bool, error) {
	return item, true, nil
}
