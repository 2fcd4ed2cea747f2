package build

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/classhunter/internal/config"
	cherrors "github.com/standardbeagle/classhunter/internal/errors"
	"github.com/standardbeagle/classhunter/internal/fsitem"
	"github.com/standardbeagle/classhunter/internal/loader"
	"github.com/standardbeagle/classhunter/testhelpers"
)

// fakeCompiler understands one declaration per line:
//
//	class a.B extends a.C implements a.I, a.J
//	interface a.I
type fakeCompiler struct {
	calls   atomic.Int32
	deps    []string
	fail    error
	release chan struct{}
	closed  atomic.Bool
}

func (c *fakeCompiler) Compile(_ context.Context, req CompileRequest) (*CompileResult, error) {
	c.calls.Add(1)
	if c.release != nil {
		<-c.release
	}
	if c.fail != nil {
		return nil, c.fail
	}
	out := make(map[string][]byte)
	for _, text := range req.Sources {
		for _, line := range strings.Split(text, "\n") {
			f := strings.Fields(strings.ReplaceAll(line, ",", " "))
			if len(f) < 2 {
				continue
			}
			name := f[1]
			if f[0] == "interface" {
				out[name] = testhelpers.InterfaceBytes(name)
				continue
			}
			var super string
			var ifaces []string
			for i := 2; i < len(f); i++ {
				switch f[i] {
				case "extends":
					i++
					super = f[i]
				case "implements":
					ifaces = append(ifaces, f[i+1:]...)
					i = len(f)
				}
			}
			out[name] = testhelpers.ClassBytes(name, super, ifaces...)
		}
	}
	return &CompileResult{ByteCodes: out, DependencyPaths: c.deps}, nil
}

func (c *fakeCompiler) Close() { c.closed.Store(true) }

// countingHelper records every lookup it forwards
type countingHelper struct {
	inner  ClassPathHelper
	mu     sync.Mutex
	lookup [][]string
	closed atomic.Bool
}

func (h *countingHelper) FindAndAppend(ctx context.Context, l *loader.Loader, paths []string, names ...string) ([]string, error) {
	h.mu.Lock()
	h.lookup = append(h.lookup, append([]string(nil), names...))
	h.mu.Unlock()
	return h.inner.FindAndAppend(ctx, l, paths, names...)
}

func (h *countingHelper) Close() { h.closed.Store(true) }

func (h *countingHelper) calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.lookup)
}

func unit(path string, lines ...string) SourceUnit {
	u := Unit{Path: path, Text: strings.Join(lines, "\n")}
	for _, l := range lines {
		if f := strings.Fields(l); len(f) > 1 {
			u.Classes = append(u.Classes, f[1])
		}
	}
	return u
}

func newTestFactory(t *testing.T, compiler Compiler, opts ...FactoryOption) *Factory {
	t.Helper()
	cfg := config.Default()
	cfg.Build.TempDir = t.TempDir()
	h := loader.NewHierarchy(nil, fsitem.NewRegistry())
	reg := loader.NewRegistry(h)
	f, err := NewFactory(cfg, reg, compiler, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		f.Close()
		reg.Close()
		h.Close()
	})
	return f
}

func TestRetrieverCompilesLazilyAndOnce(t *testing.T) {
	comp := &fakeCompiler{}
	f := newTestFactory(t, comp)

	r, err := f.BuildAndLoad(context.Background(), []SourceUnit{
		unit("p/A.java", "class p.A extends p.B implements p.Api"),
		unit("p/B.java", "class p.B", "interface p.Api"),
	})
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, int32(0), comp.calls.Load(), "nothing is compiled before a class is requested")

	classes, err := r.GetAll(context.Background())
	require.NoError(t, err)
	require.Len(t, classes, 3)
	assert.Equal(t, "p.B", classes["p.A"].Super().Name())
	assert.Same(t, r.Loader(), classes["p.A"].Loader())
	assert.Equal(t, int32(1), comp.calls.Load())
}

func TestCompiledClassesArePersistedInBucket(t *testing.T) {
	f := newTestFactory(t, &fakeCompiler{})

	r, err := f.BuildAndLoad(context.Background(), []SourceUnit{unit("a/b/C.java", "class a.b.C")}, WithBucket("gen"))
	require.NoError(t, err)
	defer r.Close()

	c, err := r.Get(context.Background(), "a.b.C")
	require.NoError(t, err)
	assert.Equal(t, "a.b.C", c.Name())

	res, err := r.Compiled(context.Background())
	require.NoError(t, err)
	want := filepath.Join(f.cfg.Build.TempDir, "classhunter-"+f.ID(), "gen")
	assert.Equal(t, want, res.OutputDir)
	assert.FileExists(t, filepath.Join(want, "a", "b", "C.class"))
	assert.True(t, r.Loader().HasClassPath(want))
	assert.Equal(t, filepath.Join(f.cfg.Build.TempDir, "classhunter-"+f.ID(), config.DefaultBucket), f.BucketDir(""))
}

func TestInMemoryCompilationDefinesFromByteCode(t *testing.T) {
	f := newTestFactory(t, &fakeCompiler{})

	r, err := f.BuildAndLoad(context.Background(), []SourceUnit{unit("m/M.java", "class m.M")}, WithPersistence(false))
	require.NoError(t, err)
	defer r.Close()

	c, err := r.Get(context.Background(), "m.M")
	require.NoError(t, err)
	assert.Equal(t, "m.M", c.Name())
	res, err := r.Compiled(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.OutputDir)
	assert.Empty(t, r.Loader().ClassPaths())
	_, err = os.Stat(f.BucketDir(""))
	assert.True(t, os.IsNotExist(err))
}

func TestExtraRepositoriesResolveMissingDependency(t *testing.T) {
	repo := t.TempDir()
	jar := testhelpers.WriteJar(t, filepath.Join(repo, "lib", "base.jar"), testhelpers.ClassEntries(
		testhelpers.ClassBytes("lib.Base", ""),
	))
	f := newTestFactory(t, &fakeCompiler{})

	r, err := f.BuildAndLoad(context.Background(),
		[]SourceUnit{unit("app/App.java", "class app.App extends lib.Base")},
		WithExtraRepositories(repo))
	require.NoError(t, err)
	defer r.Close()

	c, err := r.Get(context.Background(), "app.App")
	require.NoError(t, err)
	assert.Equal(t, "lib.Base", c.Super().Name())
	assert.True(t, r.Loader().HasClassPath(jar))
	repos, _ := r.SearchedNames()
	assert.Equal(t, []string{"lib.Base"}, repos)
}

func TestDependencyPathsResolveMissingDependency(t *testing.T) {
	deps := t.TempDir()
	testhelpers.WriteClasses(t, deps, "dep.Support")
	f := newTestFactory(t, &fakeCompiler{deps: []string{deps}})

	r, err := f.BuildAndLoad(context.Background(), []SourceUnit{unit("x/X.java", "class x.X extends dep.Support")})
	require.NoError(t, err)
	defer r.Close()

	c, err := r.Get(context.Background(), "x.X")
	require.NoError(t, err)
	assert.Equal(t, "dep.Support", c.Super().Name())
	_, searched := r.SearchedNames()
	assert.Equal(t, []string{"dep.Support"}, searched)
}

func TestLastStageDefinesFromScannedByteCode(t *testing.T) {
	repo := t.TempDir()
	// stored outside its package folder, so no class path root contains it
	misplaced := filepath.Join(repo, "misc", "Hidden.class")
	require.NoError(t, os.MkdirAll(filepath.Dir(misplaced), 0o755))
	require.NoError(t, os.WriteFile(misplaced, testhelpers.ClassBytes("q.Hidden", ""), 0o644))
	f := newTestFactory(t, &fakeCompiler{})

	r, err := f.BuildAndLoad(context.Background(),
		[]SourceUnit{unit("q/Q.java", "class q.Q extends q.Hidden")},
		WithExtraRepositories(repo))
	require.NoError(t, err)
	defer r.Close()

	c, err := r.Get(context.Background(), "q.Q")
	require.NoError(t, err)
	assert.Equal(t, "q.Hidden", c.Super().Name())
	assert.Equal(t, []string{f.BucketDir("")}, r.Loader().ClassPaths(), "only the compiler output is on the class path")
}

func TestUnresolvableClassReportsDeepestMissingName(t *testing.T) {
	repo := t.TempDir()
	testhelpers.WriteClasses(t, repo, "unrelated.Thing")
	comp := &fakeCompiler{}
	f := newTestFactory(t, comp)
	helper := &countingHelper{inner: f.helper}

	r, err := f.BuildAndLoad(context.Background(),
		[]SourceUnit{unit("p/P.java", "class p.P extends nowhere.Missing")},
		WithExtraRepositories(repo), WithOneShotClassPathHelper(helper))
	require.NoError(t, err)

	_, err = r.Get(context.Background(), "p.P")
	require.Error(t, err)
	var cnf *cherrors.ClassNotFoundError
	require.ErrorAs(t, err, &cnf)
	assert.Equal(t, "nowhere.Missing", cnf.Name)
	assert.Equal(t, 1, helper.calls())

	_, err = r.Get(context.Background(), "p.P")
	require.Error(t, err)
	assert.Equal(t, 1, helper.calls(), "names already searched are not searched again")
	assert.Equal(t, int32(1), comp.calls.Load())

	r.Close()
	assert.True(t, helper.closed.Load(), "one-shot helpers are closed with the retriever")
}

func TestSharedCollaboratorsSurviveRetrieverClose(t *testing.T) {
	comp := &fakeCompiler{}
	f := newTestFactory(t, comp)
	r, err := f.BuildAndLoad(context.Background(), []SourceUnit{unit("s/S.java", "class s.S")})
	require.NoError(t, err)
	r.Close()
	assert.False(t, comp.closed.Load())

	own := &fakeCompiler{}
	r, err = f.BuildAndLoad(context.Background(), []SourceUnit{unit("s/T.java", "class s.T")}, WithOneShotCompiler(own))
	require.NoError(t, err)
	_, err = r.Get(context.Background(), "s.T")
	require.NoError(t, err)
	assert.Equal(t, int32(0), comp.calls.Load())
	r.Close()
	assert.True(t, own.closed.Load())
}

func TestCompileFailurePropagates(t *testing.T) {
	boom := errors.New("cannot find symbol: class Gone")
	f := newTestFactory(t, &fakeCompiler{fail: boom})

	r, err := f.BuildAndLoad(context.Background(), []SourceUnit{unit("g/G.java", "class g.G extends Gone")})
	require.NoError(t, err)
	defer r.Close()
	_, err = r.Get(context.Background(), "g.G")
	require.ErrorIs(t, err, boom)
}

func TestLoadOrBuildAndDefineCompilesOnlyWhenMissing(t *testing.T) {
	comp := &fakeCompiler{}
	f := newTestFactory(t, comp)
	units := []SourceUnit{unit("k/K.java", "class k.K", "class k.L extends k.K")}

	classes, err := f.LoadOrBuildAndDefine(context.Background(), []string{"k.K", "k.L"}, units)
	require.NoError(t, err)
	require.Len(t, classes, 2)
	assert.Equal(t, 0, f.OpenRetrievers())

	again, err := f.LoadOrBuildAndDefine(context.Background(), []string{"k.L"}, units)
	require.NoError(t, err)
	assert.Same(t, classes["k.L"], again["k.L"])
	assert.Equal(t, int32(1), comp.calls.Load())
}

func TestRetrieverCloseSemantics(t *testing.T) {
	f := newTestFactory(t, &fakeCompiler{})
	target, err := f.Loaders().Hierarchy().NewLoader("target", nil)
	require.NoError(t, err)

	r, err := f.BuildAndLoad(context.Background(), []SourceUnit{unit("c/C.java", "class c.C")}, WithTargetLoader(target))
	require.NoError(t, err)
	assert.Equal(t, 1, f.OpenRetrievers())
	assert.Contains(t, target.Clients(), any(r))

	r.Close()
	r.Close()
	assert.Equal(t, 0, f.OpenRetrievers())
	assert.NotContains(t, target.Clients(), any(r))
	assert.False(t, target.IsClosed(), "a caller supplied loader stays open")
	_, err = r.Get(context.Background(), "c.C")
	require.ErrorIs(t, err, cherrors.ErrClosed)
}

func TestEagerCompilationIsJoinedOnClose(t *testing.T) {
	comp := &fakeCompiler{release: make(chan struct{})}
	f := newTestFactory(t, comp)

	r, err := f.BuildAndLoad(context.Background(), []SourceUnit{unit("e/E.java", "class e.E")}, CompileEagerly())
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		r.Close()
		close(done)
	}()
	close(comp.release)
	<-done
	assert.Equal(t, int32(1), comp.calls.Load())
}

func TestFactoryCloseClosesRetrieversAndOutput(t *testing.T) {
	cfg := config.Default()
	cfg.Build.TempDir = t.TempDir()
	h := loader.NewHierarchy(nil, fsitem.NewRegistry())
	defer h.Close()
	reg := loader.NewRegistry(h)
	defer reg.Close()
	f, err := NewFactory(cfg, reg, &fakeCompiler{})
	require.NoError(t, err)

	r, err := f.BuildAndLoad(context.Background(), []SourceUnit{unit("z/Z.java", "class z.Z")})
	require.NoError(t, err)
	_, err = r.Get(context.Background(), "z.Z")
	require.NoError(t, err)
	require.DirExists(t, f.BucketDir(""))

	f.Close()
	assert.Equal(t, 0, f.OpenRetrievers())
	assert.NoDirExists(t, filepath.Join(cfg.Build.TempDir, "classhunter-"+f.ID()))
	_, err = f.BuildAndLoad(context.Background(), nil)
	require.ErrorIs(t, err, cherrors.ErrClosed)
}

func TestNewFactoryValidatesCollaborators(t *testing.T) {
	_, err := NewFactory(nil, nil, &fakeCompiler{})
	var cfgErr *cherrors.ConfigError
	require.ErrorAs(t, err, &cfgErr)

	reg := loader.NewRegistry(loader.NewHierarchy(nil, fsitem.NewRegistry()))
	defer reg.Close()
	_, err = NewFactory(nil, reg, nil)
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "compiler", cfgErr.Field)
}
