// Package fsitem abstracts the file system for the scanner and the loaders:
// folders, regular files, zip-family archives and entries nested inside
// archives at any depth are all Items addressed by an absolute path. Archive
// entries use "!/" as separator: /lib/app.jar!/lib/inner.jar!/a/B.class.
//
// Listings and entry contents are memoized per Item until Reset is called.
// An archive is read into memory once when it is listed; its entries read
// from that copy without reopening the archive.
package fsitem

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/klauspost/compress/zip"

	"github.com/standardbeagle/classhunter/internal/classfile"
)

// ArchiveSeparator separates an archive path from the path of an entry inside it
const ArchiveSeparator = "!/"

// Kind classifies an Item
type Kind int

const (
	KindMissing Kind = iota
	KindFile
	KindFolder
	KindArchive
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindFolder:
		return "folder"
	case KindArchive:
		return "archive"
	}
	return "missing"
}

var archiveExtensions = map[string]bool{
	".jar": true,
	".zip": true,
	".war": true,
	".ear": true,
}

// IsArchiveName reports whether name has an archive extension
func IsArchiveName(name string) bool {
	return archiveExtensions[strings.ToLower(filepath.Ext(name))]
}

// Item is a node of the file system: a folder, a file, an archive, or an
// entry inside an archive.
type Item struct {
	registry *Registry
	path     string
	kind     Kind

	// set for items living inside an archive
	archive   *Item
	entryName string

	mu       sync.Mutex
	children []*Item
	listed   bool
	data     []byte
	entry    *zip.File // central directory record, nil until listed
}

// Path returns the absolute path of the item
func (it *Item) Path() string { return it.path }

// Name returns the last path element
func (it *Item) Name() string {
	p := it.path
	if i := strings.LastIndex(p, ArchiveSeparator); i >= 0 {
		p = p[i+len(ArchiveSeparator):]
	}
	return filepath.Base(filepath.FromSlash(p))
}

// Kind returns the item kind
func (it *Item) Kind() Kind { return it.kind }

// Exists reports whether the item was found when it was first resolved
func (it *Item) Exists() bool { return it.kind != KindMissing }

// IsContainer reports whether the item can have children
func (it *Item) IsContainer() bool { return it.kind == KindFolder || it.kind == KindArchive }

// IsArchive reports whether the item is a zip-family archive
func (it *Item) IsArchive() bool { return it.kind == KindArchive }

// IsFolder reports whether the item is a directory on disk
func (it *Item) IsFolder() bool { return it.kind == KindFolder }

// InArchive reports whether the item lives inside an archive
func (it *Item) InArchive() bool { return it.archive != nil }

// Parent archive of an archive entry, nil for items on disk
func (it *Item) Archive() *Item { return it.archive }

// EntryName is the path of the item inside its archive
func (it *Item) EntryName() string { return it.entryName }

// RelativeTo returns the slash-separated path of it below root, or false
// when it is not a descendant of root.
func (it *Item) RelativeTo(root *Item) (string, bool) {
	rp := root.path
	if root.kind == KindArchive {
		rp += ArchiveSeparator
	} else {
		rp = strings.TrimSuffix(rp, "/") + "/"
	}
	p := filepath.ToSlash(it.path)
	rp = filepath.ToSlash(rp)
	if !strings.HasPrefix(p, rp) {
		return "", false
	}
	return strings.TrimPrefix(p, rp), true
}

// Children returns the immediate children of a container, sorted by path
func (it *Item) Children() ([]*Item, error) {
	if !it.IsContainer() {
		return nil, nil
	}
	it.mu.Lock()
	if it.listed {
		children := it.children
		it.mu.Unlock()
		return children, nil
	}
	it.mu.Unlock()

	// listing a nested archive reads this item's bytes, so no lock is held here
	var (
		children []*Item
		err      error
	)
	if it.kind == KindFolder {
		children, err = it.listFolder()
	} else {
		children, err = it.listArchive()
	}
	if err != nil {
		return nil, err
	}
	sort.Slice(children, func(i, j int) bool { return children[i].path < children[j].path })

	it.mu.Lock()
	defer it.mu.Unlock()
	if !it.listed {
		it.children = children
		it.listed = true
	}
	return it.children, nil
}

func (it *Item) listFolder() ([]*Item, error) {
	it.registry.recordListing()
	entries, err := os.ReadDir(it.path)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", it.path, err)
	}
	children := make([]*Item, 0, len(entries))
	for _, e := range entries {
		child, err := it.registry.Get(filepath.Join(it.path, e.Name()))
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	return children, nil
}

// listArchive flattens the archive: every non-directory entry becomes a
// child, nested archives become archive items of their own.
func (it *Item) listArchive() ([]*Item, error) {
	it.registry.recordListing()
	r, err := it.openArchive()
	if err != nil {
		return nil, err
	}

	children := make([]*Item, 0, len(r.File))
	for _, f := range r.File {
		if f.FileInfo().IsDir() || strings.HasSuffix(f.Name, "/") {
			continue
		}
		kind := KindFile
		if IsArchiveName(f.Name) {
			kind = KindArchive
		}
		children = append(children, &Item{
			registry:  it.registry,
			path:      it.path + ArchiveSeparator + f.Name,
			kind:      kind,
			archive:   it,
			entryName: f.Name,
			entry:     f,
		})
	}
	return children, nil
}

// openArchive parses the central directory over the archive's memoized
// bytes. Entries opened later read from the same bytes.
func (it *Item) openArchive() (*zip.Reader, error) {
	data, err := it.ReadBytes()
	if err != nil {
		return nil, err
	}
	it.registry.recordOpen()
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open archive %s: %w", it.path, err)
	}
	return r, nil
}

// AllChildren walks the subtree depth first, expanding folders and
// archives, and returns every leaf accepted by filter (nil accepts all).
func (it *Item) AllChildren(filter func(*Item) bool) ([]*Item, error) {
	var out []*Item
	err := it.Walk(func(leaf *Item) error {
		if filter == nil || filter(leaf) {
			out = append(out, leaf)
		}
		return nil
	})
	return out, err
}

// Walk visits every leaf below the item depth first
func (it *Item) Walk(visit func(*Item) error) error {
	children, err := it.Children()
	if err != nil {
		return err
	}
	for _, child := range children {
		if child.IsContainer() {
			if err := child.Walk(visit); err != nil {
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

// Find resolves a slash-separated path below a container
func (it *Item) Find(rel string) (*Item, bool) {
	rel = strings.TrimPrefix(filepath.ToSlash(rel), "/")
	switch it.kind {
	case KindFolder:
		child, err := it.registry.Get(filepath.Join(it.path, filepath.FromSlash(rel)))
		if err != nil || !child.Exists() {
			return nil, false
		}
		return child, true
	case KindArchive:
		children, err := it.Children()
		if err != nil {
			return nil, false
		}
		// children share the archive prefix, so path order is entry order
		i := sort.Search(len(children), func(i int) bool { return children[i].entryName >= rel })
		if i < len(children) && children[i].entryName == rel {
			return children[i], true
		}
	}
	return nil, false
}

// ReadBytes returns the content of a file or archive entry
func (it *Item) ReadBytes() ([]byte, error) {
	if it.kind == KindFolder {
		return nil, fmt.Errorf("%s is a folder", it.path)
	}
	it.mu.Lock()
	if it.data != nil {
		data := it.data
		it.mu.Unlock()
		return data, nil
	}
	it.mu.Unlock()

	var (
		data []byte
		err  error
	)
	if it.archive == nil {
		data, err = os.ReadFile(it.path)
	} else {
		data, err = it.readEntry()
	}
	if err != nil {
		return nil, err
	}
	it.mu.Lock()
	it.data = data
	it.mu.Unlock()
	return data, nil
}

func (it *Item) readEntry() ([]byte, error) {
	it.mu.Lock()
	f := it.entry
	it.mu.Unlock()
	if f == nil {
		// reset or never listed: take the record from a fresh listing
		current, ok := it.archive.Find(it.entryName)
		if !ok || current == it {
			return nil, fmt.Errorf("entry %s not found", it.path)
		}
		current.mu.Lock()
		f = current.entry
		current.mu.Unlock()
		if f == nil {
			return nil, fmt.Errorf("entry %s not found", it.path)
		}
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open entry %s: %w", it.path, err)
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// Reset discards memoized listings and contents for the whole subtree
func (it *Item) Reset() {
	it.mu.Lock()
	children := it.children
	it.children = nil
	it.listed = false
	it.data = nil
	it.mu.Unlock()
	for _, c := range children {
		c.Reset()
		// entry records point into the archive bytes just dropped
		c.mu.Lock()
		c.entry = nil
		c.mu.Unlock()
	}
}

// CheckOption selects how class files are recognised
type CheckOption int

const (
	// ByExtensionAndHeader requires both the .class extension and the magic number
	ByExtensionAndHeader CheckOption = iota
	// ByExtension trusts the file name only
	ByExtension
	// ByHeader reads the magic number regardless of the name
	ByHeader
)

// ParseCheckOption maps a configuration value to a CheckOption
func ParseCheckOption(s string) (CheckOption, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "extension_and_header", "default":
		return ByExtensionAndHeader, nil
	case "extension":
		return ByExtension, nil
	case "header":
		return ByHeader, nil
	}
	return ByExtensionAndHeader, fmt.Errorf("unknown class file check option %q", s)
}

func (o CheckOption) String() string {
	switch o {
	case ByExtension:
		return "extension"
	case ByHeader:
		return "header"
	}
	return "extension_and_header"
}

// IsClassFile reports whether the item is a compiled class under option
func (it *Item) IsClassFile(option CheckOption) bool {
	if it.kind != KindFile {
		return false
	}
	hasExt := strings.HasSuffix(it.Name(), classfile.Extension)
	switch option {
	case ByExtension:
		return hasExt
	case ByExtensionAndHeader:
		if !hasExt {
			return false
		}
	}
	data, err := it.ReadBytes()
	if err != nil {
		return false
	}
	return classfile.HasMagic(data)
}
