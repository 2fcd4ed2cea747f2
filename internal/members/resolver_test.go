package members

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/classhunter/internal/classfile"
	"github.com/standardbeagle/classhunter/internal/config"
	cherrors "github.com/standardbeagle/classhunter/internal/errors"
	"github.com/standardbeagle/classhunter/internal/fsitem"
	"github.com/standardbeagle/classhunter/internal/loader"
)

const pub = classfile.AccPublic

func shapes() map[string][]byte {
	return map[string][]byte{
		"p.Base": classfile.NewBuilder("p.Base").
			Field(pub, "id", "long").
			Method(pub, "run", "void").
			Method(pub, "describe", "java.lang.String", "java.lang.Object").
			Constructor(pub).
			Bytes(),
		"p.Mid": classfile.NewBuilder("p.Mid").Extends("p.Base").
			Field(pub, "label", "java.lang.String").
			Method(pub, "run", "void").
			Constructor(pub, "int").
			Bytes(),
		"p.Leaf": classfile.NewBuilder("p.Leaf").Extends("p.Mid").
			Field(pub|classfile.AccStatic, "COUNT", "int").
			Method(pub, "describe", "java.lang.String", "java.lang.String").
			Method(pub|classfile.AccVarArgs, "join", "java.lang.String", "java.lang.String[]").
			Method(pub, "put", "void", "int").
			Method(pub, "put", "void", "java.lang.Integer").
			Method(pub|classfile.AccStatic, "of", "p.Leaf", "java.lang.String").
			Constructor(pub).
			Constructor(pub, "java.lang.String").
			Bytes(),
	}
}

func newLoader(t *testing.T, h *loader.Hierarchy, name string) *loader.Loader {
	t.Helper()
	l, err := h.NewLoader(name, nil)
	require.NoError(t, err)
	_, err = l.AddByteCodes(shapes())
	require.NoError(t, err)
	return l
}

func setup(t *testing.T, inv Invoker) (*Resolver, *loader.Class) {
	t.Helper()
	h := loader.NewHierarchy(nil, fsitem.NewRegistry())
	t.Cleanup(h.Close)
	l := newLoader(t, h, "app")
	leaf, err := l.LoadClass("p.Leaf")
	require.NoError(t, err)
	r, err := NewResolver(config.Default().Cache, inv)
	require.NoError(t, err)
	return r, leaf
}

func names(ms []*Member) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.Declaring.Name() + "." + m.Name
	}
	return out
}

func TestFindAllWalksHierarchyBelowRoot(t *testing.T) {
	r, leaf := setup(t, nil)

	fields, err := r.FindAllAndMakeThemAccessible(leaf, Fields())
	require.NoError(t, err)
	assert.Equal(t, []string{"p.Leaf.COUNT", "p.Mid.label", "p.Base.id"}, names(fields))
	for _, f := range fields {
		assert.True(t, f.Accessible())
	}

	runs, err := r.FindAllAndMakeThemAccessible(leaf, Methods().Named("run"))
	require.NoError(t, err)
	assert.Equal(t, []string{"p.Mid.run", "p.Base.run"}, names(runs))
}

func TestConstructorsComeOnlyFromTheClass(t *testing.T) {
	r, leaf := setup(t, nil)

	ctors, err := r.FindAllAndMakeThemAccessible(leaf, Constructors())
	require.NoError(t, err)
	require.Len(t, ctors, 2)
	for _, c := range ctors {
		assert.Equal(t, "p.Leaf", c.Declaring.Name())
		assert.True(t, c.IsConstructor())
	}

	one, err := r.FindOne(leaf, Constructors().WithArguments("java.lang.String"))
	require.NoError(t, err)
	assert.Equal(t, []string{"java.lang.String"}, one.Params())
}

func TestScanUpToIsInclusive(t *testing.T) {
	r, leaf := setup(t, nil)

	q := Fields().ScanUpTo(func(_, current string) bool { return current == "p.Mid" })
	fields, err := r.FindAllAndMakeThemAccessible(leaf, q)
	require.NoError(t, err)
	assert.Equal(t, []string{"p.Leaf.COUNT", "p.Mid.label"}, names(fields))
	assert.Equal(t, "", q.Key())
}

func TestSkipClassContinuesAbove(t *testing.T) {
	r, leaf := setup(t, nil)

	q := Fields().SkipClass(func(c *loader.Class) bool { return c.Name() == "p.Mid" })
	fields, err := r.FindAllAndMakeThemAccessible(leaf, q)
	require.NoError(t, err)
	assert.Equal(t, []string{"p.Leaf.COUNT", "p.Base.id"}, names(fields))
}

func TestWherePredicate(t *testing.T) {
	r, leaf := setup(t, nil)

	statics, err := r.FindAllAndMakeThemAccessible(leaf, Methods().Where(func(m *Member) bool { return m.IsStatic() }))
	require.NoError(t, err)
	assert.Equal(t, []string{"p.Leaf.of"}, names(statics))
}

func TestLookupsAreCachedPerQueryShape(t *testing.T) {
	r, leaf := setup(t, nil)

	q := Methods().Named("run")
	_, err := r.FindAllAndMakeThemAccessible(leaf, q)
	require.NoError(t, err)
	_, err = r.FindAllAndMakeThemAccessible(leaf, Methods().Named("run"))
	require.NoError(t, err)
	st := r.Stats()
	assert.Equal(t, int64(1), st.Hits)
	assert.Equal(t, int64(1), st.Misses)
	assert.Equal(t, 1, st.Lookups)

	// predicates are not cached without an explicit key
	pred := func(m *Member) bool { return true }
	_, _ = r.FindAllAndMakeThemAccessible(leaf, Methods().Where(pred))
	_, _ = r.FindAllAndMakeThemAccessible(leaf, Methods().Where(pred))
	assert.Equal(t, int64(1), r.Stats().Hits)

	keyed := Methods().Where(pred).WithKey("all")
	_, _ = r.FindAllAndMakeThemAccessible(leaf, keyed)
	_, _ = r.FindAllAndMakeThemAccessible(leaf, keyed)
	assert.Equal(t, int64(2), r.Stats().Hits)
}

func TestCacheIsolatedPerLoader(t *testing.T) {
	h := loader.NewHierarchy(nil, fsitem.NewRegistry())
	t.Cleanup(h.Close)
	a := newLoader(t, h, "a")
	b := newLoader(t, h, "b")

	leafA, err := a.LoadClass("p.Leaf")
	require.NoError(t, err)
	leafB, err := b.LoadClass("p.Leaf")
	require.NoError(t, err)
	require.NotSame(t, leafA, leafB)

	r, err := NewResolver(config.Default().Cache, nil)
	require.NoError(t, err)

	ma, err := r.FindOne(leafA, Methods().Named("of"))
	require.NoError(t, err)
	mb, err := r.FindOne(leafB, Methods().Named("of"))
	require.NoError(t, err)
	assert.Same(t, leafA, ma.Declaring)
	assert.Same(t, leafB, mb.Declaring)
	assert.Equal(t, int64(0), r.Stats().Hits)
	assert.Equal(t, 2, r.Stats().Lookups)

	assert.NotSame(t, r.Handle(ma), r.Handle(mb))

	r.Forget(a)
	st := r.Stats()
	assert.Equal(t, 1, st.Lookups)
	assert.Equal(t, 1, st.Handles)

	_, err = r.FindOne(leafB, Methods().Named("of"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), r.Stats().Hits)
}

func TestWithArgumentsHandlesBoxingAndVarArgs(t *testing.T) {
	r, leaf := setup(t, nil)

	joins, err := r.FindAllAndMakeThemAccessible(leaf, Methods().Named("join").WithArguments("java.lang.String", "java.lang.String"))
	require.NoError(t, err)
	assert.Len(t, joins, 1)

	joins, err = r.FindAllAndMakeThemAccessible(leaf, Methods().Named("join").WithArguments())
	require.NoError(t, err)
	assert.Len(t, joins, 1)

	joins, err = r.FindAllAndMakeThemAccessible(leaf, Methods().Named("join").WithArguments("java.lang.String[]"))
	require.NoError(t, err)
	assert.Len(t, joins, 1)

	joins, err = r.FindAllAndMakeThemAccessible(leaf, Methods().Named("join").WithArguments("int"))
	require.NoError(t, err)
	assert.Empty(t, joins)

	puts, err := r.FindAllAndMakeThemAccessible(leaf, Methods().Named("put").WithArguments("int"))
	require.NoError(t, err)
	assert.Len(t, puts, 2)
}

func TestFindFirstPrefersExactMatch(t *testing.T) {
	r, leaf := setup(t, nil)

	m, err := r.FindFirstAndMakeItAccessible(leaf, Methods().Named("put").WithArguments("java.lang.Integer"))
	require.NoError(t, err)
	assert.Equal(t, []string{"java.lang.Integer"}, m.Params())

	m, err = r.FindFirstAndMakeItAccessible(leaf, Methods().Named("describe").WithArguments("java.lang.String"))
	require.NoError(t, err)
	assert.Equal(t, "p.Leaf", m.Declaring.Name())

	_, err = r.FindFirstAndMakeItAccessible(leaf, Methods().Named("missing"))
	var nf *cherrors.MemberNotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "p.Leaf", nf.Class)
}

func TestFindOneReportsAmbiguity(t *testing.T) {
	r, leaf := setup(t, nil)

	_, err := r.FindOne(leaf, Methods().Named("run"))
	var amb *cherrors.AmbiguousMemberError
	require.ErrorAs(t, err, &amb)
	assert.Len(t, amb.Candidates, 2)

	m, err := r.FindOne(leaf, Methods().Named("put").WithArguments("int"))
	require.NoError(t, err)
	assert.Equal(t, []string{"int"}, m.Params())
}

func TestNormalizeArgs(t *testing.T) {
	r, leaf := setup(t, nil)
	join, err := r.FindOne(leaf, Methods().Named("join"))
	require.NoError(t, err)

	got, err := NormalizeArgs(join, []any{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []any{[]any{"a", "b"}}, got)

	got, err = NormalizeArgs(join, nil)
	require.NoError(t, err)
	assert.Equal(t, []any{[]any{}}, got)

	got, err = NormalizeArgs(join, []any{[]string{"x"}})
	require.NoError(t, err)
	assert.Equal(t, []any{[]string{"x"}}, got)

	of, err := r.FindOne(leaf, Methods().Named("of"))
	require.NoError(t, err)
	_, err = NormalizeArgs(of, []any{"a", "b"})
	var cfgErr *cherrors.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "args", cfgErr.Field)
}

type recordingInvoker struct {
	mu    sync.Mutex
	calls []string
	args  [][]any
}

func (ri *recordingInvoker) Invoke(_ context.Context, m *Member, _ any, args []any) (any, error) {
	ri.mu.Lock()
	defer ri.mu.Unlock()
	ri.calls = append(ri.calls, m.Name)
	ri.args = append(ri.args, args)
	return len(ri.calls), nil
}

func TestHandlesAreBuiltOnceAndInvoke(t *testing.T) {
	inv := &recordingInvoker{}
	r, leaf := setup(t, inv)
	ctx := context.Background()

	join, err := r.FindOne(leaf, Methods().Named("join"))
	require.NoError(t, err)
	h1 := r.Handle(join)
	h2 := r.Handle(join)
	assert.Same(t, h1, h2)
	assert.Equal(t, 1, r.Stats().Handles)

	_, err = h1.Invoke(ctx, "target", "a", "b", "c")
	require.NoError(t, err)
	require.Len(t, inv.args, 1)
	assert.Equal(t, []any{[]any{"a", "b", "c"}}, inv.args[0])

	_, err = h1.Invoke(ctx, nil, "a")
	var cfgErr *cherrors.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "target", cfgErr.Field)

	of, err := r.FindOne(leaf, Methods().Named("of"))
	require.NoError(t, err)
	out, err := r.Invoke(ctx, of, nil, "x")
	require.NoError(t, err)
	assert.Equal(t, 2, out)
	assert.Equal(t, []string{"join", "of"}, inv.calls)
}

func TestInvokeWithoutInvoker(t *testing.T) {
	r, leaf := setup(t, nil)
	of, err := r.FindOne(leaf, Methods().Named("of"))
	require.NoError(t, err)

	_, err = r.Handle(of).Invoke(context.Background(), nil, "x")
	var cfgErr *cherrors.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "invoker", cfgErr.Field)
}
