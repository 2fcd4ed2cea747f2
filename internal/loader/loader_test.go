package loader

import (
	"bytes"
	"errors"
	"log"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cherrors "github.com/standardbeagle/classhunter/internal/errors"
	"github.com/standardbeagle/classhunter/internal/fsitem"
	"github.com/standardbeagle/classhunter/testhelpers"
)

func newTestHierarchy(t *testing.T) *Hierarchy {
	t.Helper()
	h := NewHierarchy(nil, fsitem.NewRegistry())
	t.Cleanup(h.Close)
	return h
}

func newTestLoader(t *testing.T, h *Hierarchy, name string, parent *Loader) *Loader {
	t.Helper()
	l, err := h.NewLoader(name, parent)
	require.NoError(t, err)
	return l
}

func TestLoadClassResolvesDependencyChain(t *testing.T) {
	h := newTestHierarchy(t)
	l := newTestLoader(t, h, "app", nil)

	_, err := l.AddByteCodes(map[string][]byte{
		"p.A":   testhelpers.ClassBytes("p.A", "p.B", "p.Api"),
		"p.B":   testhelpers.ClassBytes("p.B", "p.C"),
		"p.C":   testhelpers.ClassBytes("p.C", ""),
		"p.Api": testhelpers.InterfaceBytes("p.Api"),
	})
	require.NoError(t, err)
	assert.Len(t, l.NotYetDefined(), 4)

	a, err := l.LoadClass("p.A")
	require.NoError(t, err)
	assert.Equal(t, "p.A", a.Name())
	assert.Same(t, l, a.Loader())
	require.NotNil(t, a.Super())
	assert.Equal(t, "p.B", a.Super().Name())
	assert.Equal(t, "p.C", a.Super().Super().Name())
	assert.Equal(t, RootType, a.Super().Super().Super().Name())
	require.Len(t, a.Interfaces(), 1)
	assert.True(t, a.Interfaces()[0].IsInterface())

	c, ok := l.FindLoadedClass("p.C")
	require.True(t, ok)
	assert.True(t, c.IsAssignableFrom(a))
	assert.False(t, a.IsAssignableFrom(c))
	assert.True(t, a.Interfaces()[0].IsAssignableFrom(a))

	object, err := l.LoadClass(RootType)
	require.NoError(t, err)
	assert.True(t, object.IsAssignableFrom(a))

	assert.Empty(t, l.NotYetDefined())
	assert.Equal(t, int64(4), l.Stats().Definitions)
	assert.Len(t, l.DefinedByteCodes(), 4)
}

func TestConcurrentResolutionDefinesOnce(t *testing.T) {
	h := newTestHierarchy(t)
	l := newTestLoader(t, h, "app", nil)
	_, err := l.AddByteCodes(map[string][]byte{
		"p.Shared": testhelpers.ClassBytes("p.Shared", "p.Base"),
		"p.Base":   testhelpers.ClassBytes("p.Base", ""),
	})
	require.NoError(t, err)

	const workers = 32
	results := make([]*Class, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := l.LoadClass("p.Shared")
			if err == nil {
				results[i] = c
			}
		}(i)
	}
	wg.Wait()

	for _, c := range results {
		require.NotNil(t, c)
		assert.Same(t, results[0], c)
	}
	assert.Equal(t, int64(2), l.Stats().Definitions)
}

func TestUnresolvableDependencyTerminates(t *testing.T) {
	h := newTestHierarchy(t)
	l := newTestLoader(t, h, "app", nil)
	_, err := l.AddByteCodes(map[string][]byte{
		"p.A": testhelpers.ClassBytes("p.A", "p.B"),
		"p.B": testhelpers.ClassBytes("p.B", "p.Missing"),
	})
	require.NoError(t, err)

	_, err = l.LoadClass("p.A")
	require.Error(t, err)
	assert.True(t, cherrors.IsNotFound(err))
	assert.Contains(t, cherrors.NotFoundClassNames(err), "p.Missing")

	var cnf *cherrors.ClassNotFoundError
	require.ErrorAs(t, cherrors.DeepestNotFound(err), &cnf)
	assert.Equal(t, "p.Missing", cnf.Name)
	assert.False(t, l.IsDefined("p.A"))
}

func TestCircularDependencyTerminates(t *testing.T) {
	h := newTestHierarchy(t)
	l := newTestLoader(t, h, "app", nil)
	_, err := l.AddByteCodes(map[string][]byte{
		"p.A":    testhelpers.ClassBytes("p.A", "p.B"),
		"p.B":    testhelpers.ClassBytes("p.B", "p.A"),
		"p.Self": testhelpers.ClassBytes("p.Self", "p.Self"),
	})
	require.NoError(t, err)

	_, err = l.LoadClass("p.A")
	require.Error(t, err)
	var ncdf *cherrors.NoClassDefFoundError
	require.ErrorAs(t, err, &ncdf)
	assert.Equal(t, "p.A", ncdf.Name)
	assert.Equal(t, "p.B", ncdf.Missing)

	_, err = l.LoadClass("p.Self")
	assert.Error(t, err)
}

func TestMalformedByteCode(t *testing.T) {
	h := newTestHierarchy(t)
	l := newTestLoader(t, h, "app", nil)

	_, err := l.DefineClass("p.Bad", []byte{0xCA, 0xFE, 0xBA, 0xBE, 0, 0})
	var cfe *cherrors.ClassFormatError
	require.ErrorAs(t, err, &cfe)
	assert.Empty(t, l.NotYetDefined())

	_, err = l.DefineClass("p.Other", testhelpers.ClassBytes("p.Named", ""))
	require.ErrorAs(t, err, &cfe)
}

func TestDefineClassTwiceReusesDefinition(t *testing.T) {
	h := newTestHierarchy(t)
	l := newTestLoader(t, h, "app", nil)
	data := testhelpers.ClassBytes("p.Once", "")

	var logs bytes.Buffer
	log.SetOutput(&logs)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })

	first, err := l.DefineClass("p.Once", data)
	require.NoError(t, err)
	second, err := l.DefineClass("p.Once", data)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, int64(1), l.Stats().Definitions)
	assert.Equal(t, int64(1), l.Stats().Duplicates)
	assert.Contains(t, logs.String(), "Warning: duplicate class definition: p.Once")
}

func TestLoadOrDefine(t *testing.T) {
	h := newTestHierarchy(t)
	parent := newTestLoader(t, h, "parent", nil)
	child := newTestLoader(t, h, "child", parent)
	_, err := parent.AddByteCodes(map[string][]byte{"p.Shared": testhelpers.ClassBytes("p.Shared", "")})
	require.NoError(t, err)

	// reachable through the parent: the given bytes are ignored
	shared, err := child.LoadOrDefine("p.Shared", testhelpers.ClassBytes("p.Shared", "p.Other"))
	require.NoError(t, err)
	assert.Same(t, parent, shared.Loader())
	assert.False(t, child.IsDefined("p.Shared"))

	// unreachable: defined in the child from the given bytes
	own, err := child.LoadOrDefine("p.Own", testhelpers.ClassBytes("p.Own", "p.Shared"))
	require.NoError(t, err)
	assert.Same(t, child, own.Loader())
	assert.Same(t, shared, own.Super())

	again, err := child.LoadOrDefine("p.Own", nil)
	require.NoError(t, err)
	assert.Same(t, own, again)

	_, err = child.LoadOrDefine("p.Nowhere", nil)
	assert.True(t, cherrors.IsNotFound(err))
}

func TestPackagesDefinedOnce(t *testing.T) {
	h := newTestHierarchy(t)
	l := newTestLoader(t, h, "app", nil)
	_, err := l.DefineAll(map[string][]byte{
		"p.q.One": testhelpers.ClassBytes("p.q.One", ""),
		"p.q.Two": testhelpers.ClassBytes("p.q.Two", ""),
		"r.Three": testhelpers.ClassBytes("r.Three", ""),
	})
	require.NoError(t, err)

	pkgs := l.Packages()
	require.Len(t, pkgs, 2)
	assert.Equal(t, "p.q", pkgs[0].Name)
	one, _ := l.FindLoadedClass("p.q.One")
	two, _ := l.FindLoadedClass("p.q.Two")
	assert.Same(t, one.Package(), two.Package())
}

func TestClassPathLoading(t *testing.T) {
	root := t.TempDir()
	testhelpers.WriteClasses(t, root, "cp.Folder")
	jar := testhelpers.WriteJar(t, filepath.Join(t.TempDir(), "lib.jar"),
		testhelpers.ClassEntries(testhelpers.ClassBytes("cp.Archived", "cp.Folder")))

	h := newTestHierarchy(t)
	l := newTestLoader(t, h, "app", nil)

	added, err := l.AddClassPaths(root, jar, filepath.Join(root, "missing"))
	require.NoError(t, err)
	assert.Len(t, added, 2)
	added, err = l.AddClassPaths(root)
	require.NoError(t, err)
	assert.Empty(t, added)
	assert.True(t, l.HasClassPath(jar))

	c, err := l.LoadClass("cp.Archived")
	require.NoError(t, err)
	assert.Equal(t, "cp.Folder", c.Super().Name())

	_, err = l.LoadClass("cp.Nowhere")
	var cnf *cherrors.ClassNotFoundError
	require.ErrorAs(t, err, &cnf)
	assert.Equal(t, "cp.Nowhere", cnf.Name)
}

func TestParentDelegation(t *testing.T) {
	h := newTestHierarchy(t)
	parent := newTestLoader(t, h, "parent", nil)
	child := newTestLoader(t, h, "child", parent)
	data := testhelpers.ClassBytes("p.Common", "")

	fromParent, err := parent.DefineClass("p.Common", data)
	require.NoError(t, err)

	viaChild, err := child.LoadClass("p.Common")
	require.NoError(t, err)
	assert.Same(t, fromParent, viaChild)

	own, err := child.DefineClass("p.Common", data)
	require.NoError(t, err)
	assert.NotSame(t, fromParent, own)
	assert.Same(t, child, own.Loader())

	assert.Same(t, parent, child.Parent())
	assert.Contains(t, parent.Clients(), any(child))
}

func TestSystemClasses(t *testing.T) {
	h := newTestHierarchy(t)
	l := newTestLoader(t, h, "app", nil)

	str, err := l.LoadClass("java.lang.String")
	require.NoError(t, err)
	assert.True(t, str.IsPlatform())
	cs, err := l.LoadClass("java.lang.CharSequence")
	require.NoError(t, err)
	assert.True(t, cs.IsAssignableFrom(str))

	custom := NewHierarchy([]string{"kotlin."}, fsitem.NewRegistry())
	_, err = custom.LoadSystemClass("java.lang.String")
	assert.True(t, cherrors.IsNotFound(err))
	_, err = custom.LoadSystemClass("kotlin.Unit")
	assert.NoError(t, err)
}

func TestLedgerControlsClose(t *testing.T) {
	h := newTestHierarchy(t)
	l := newTestLoader(t, h, "app", nil)
	_, err := l.DefineClass("p.X", testhelpers.ClassBytes("p.X", ""))
	require.NoError(t, err)

	client := &struct{ name string }{"result"}
	require.NoError(t, l.Register(client))
	assert.Error(t, l.Close())
	assert.False(t, l.IsClosed())

	assert.True(t, l.Unregister(client, true))
	assert.True(t, l.IsClosed())
	assert.Empty(t, l.DefinedClasses())

	err = l.Register(client)
	assert.ErrorIs(t, err, cherrors.ErrClosed)
	_, err = l.LoadClass("p.X")
	assert.ErrorIs(t, err, cherrors.ErrClosed)
	assert.NotContains(t, h.Loaders(), l)

	// a second unregister after close is tolerated
	assert.True(t, l.Unregister(client, true))
}

func TestClosedParentIsSkipped(t *testing.T) {
	h := newTestHierarchy(t)
	grand := newTestLoader(t, h, "grand", nil)
	parent := newTestLoader(t, h, "parent", grand)
	child := newTestLoader(t, h, "child", parent)
	_, err := grand.DefineClass("p.G", testhelpers.ClassBytes("p.G", ""))
	require.NoError(t, err)

	parent.shutdown()
	assert.Same(t, grand, child.Parent())
	_, err = child.LoadClass("p.G")
	assert.NoError(t, err)
}

func TestSetAsParentRoundTrip(t *testing.T) {
	h := newTestHierarchy(t)
	a := newTestLoader(t, h, "a", nil)
	b := newTestLoader(t, h, "b", nil)
	target := newTestLoader(t, h, "target", a)
	bystander := &struct{}{}
	require.NoError(t, b.Register(bystander))

	undo, err := h.SetAsParent(target, b, false)
	require.NoError(t, err)
	assert.Same(t, b, target.Parent())
	assert.Contains(t, b.Clients(), any(target))
	assert.NotContains(t, a.Clients(), any(target))

	undo(false)
	assert.Same(t, b, target.Parent())

	undo(true)
	assert.Same(t, a, target.Parent())
	assert.Contains(t, a.Clients(), any(target))
	assert.NotContains(t, b.Clients(), any(target))
	assert.Contains(t, b.Clients(), any(bystander))

	// undo is applied once
	undo(true)
	assert.Same(t, a, target.Parent())
}

func TestSetAsParentRejectsDegenerateChains(t *testing.T) {
	h := newTestHierarchy(t)
	a := newTestLoader(t, h, "a", nil)
	child := newTestLoader(t, h, "child", a)

	tests := []struct {
		name      string
		target    *Loader
		newParent *Loader
	}{
		{"own parent", a, a},
		{"same parent", child, a},
		{"cycle", a, child},
		{"nil target", nil, a},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.SetAsParent(tt.target, tt.newParent, false)
			var cfgErr *cherrors.ConfigError
			assert.True(t, errors.As(err, &cfgErr), "got %v", err)
		})
	}
}

func TestSetAsParentPreservesHierarchy(t *testing.T) {
	h := newTestHierarchy(t)
	old := newTestLoader(t, h, "old", nil)
	master := newTestLoader(t, h, "master", nil)
	newParent := newTestLoader(t, h, "new", master)
	target := newTestLoader(t, h, "target", old)
	_, err := old.DefineClass("p.FromOld", testhelpers.ClassBytes("p.FromOld", ""))
	require.NoError(t, err)

	undo, err := h.SetAsParent(target, newParent, true)
	require.NoError(t, err)
	assert.Same(t, newParent, target.Parent())
	assert.Same(t, old, master.Parent())
	assert.Contains(t, old.Clients(), any(master))

	// classes of the former parent stay reachable
	_, err = target.LoadClass("p.FromOld")
	assert.NoError(t, err)

	undo(true)
	assert.Same(t, old, target.Parent())
	assert.Nil(t, master.Parent())
	assert.NotContains(t, old.Clients(), any(master))
	assert.Contains(t, old.Clients(), any(target))
}

func TestRegistryDefaultLoaders(t *testing.T) {
	h := newTestHierarchy(t)
	r := NewRegistry(h)
	client := &struct{}{}

	shared, err := r.SharedScannerLoader(client)
	require.NoError(t, err)
	again, err := r.SharedScannerLoader(nil)
	require.NoError(t, err)
	assert.Same(t, shared, again)
	assert.True(t, r.IsShared(shared))

	factory, err := r.DefaultFactoryLoader(nil)
	require.NoError(t, err)
	assert.Same(t, shared, factory.Parent())

	// a changed parent supplier replaces the shared loader; the old one
	// stays open while client holds it
	custom := newTestLoader(t, h, "custom", nil)
	r.SetScannerParent(func() *Loader { return custom })
	replaced, err := r.SharedScannerLoader(nil)
	require.NoError(t, err)
	assert.NotSame(t, shared, replaced)
	assert.Same(t, custom, replaced.Parent())
	assert.False(t, shared.IsClosed())

	factory2, err := r.DefaultFactoryLoader(nil)
	require.NoError(t, err)
	assert.NotSame(t, factory, factory2)
	assert.True(t, factory.IsClosed())

	// the factory supplier is re-read on every call; only a different
	// parent identity replaces the factory loader
	var factoryParent *Loader = custom
	r.SetFactoryParent(func() *Loader { return factoryParent })
	factory3, err := r.DefaultFactoryLoader(nil)
	require.NoError(t, err)
	assert.Same(t, custom, factory3.Parent())
	assert.True(t, factory2.IsClosed())
	same, err := r.DefaultFactoryLoader(nil)
	require.NoError(t, err)
	assert.Same(t, factory3, same)

	other := newTestLoader(t, h, "other", nil)
	factoryParent = other
	factory4, err := r.DefaultFactoryLoader(nil)
	require.NoError(t, err)
	assert.NotSame(t, factory3, factory4)
	assert.Same(t, other, factory4.Parent())
	assert.True(t, factory3.IsClosed())
	assert.True(t, r.IsShared(factory4))
	r.SetFactoryParent(nil)

	shared.Unregister(client, true)
	assert.True(t, shared.IsClosed())

	r.Reset()
	assert.True(t, replaced.IsClosed())
	assert.True(t, factory4.IsClosed())

	r.Close()
	_, err = r.SharedScannerLoader(nil)
	assert.ErrorIs(t, err, cherrors.ErrClosed)
}
