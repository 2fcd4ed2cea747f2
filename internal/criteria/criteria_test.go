package criteria

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startsWith(prefix string) *Criteria[string] {
	return Func(func(s string) bool { return strings.HasPrefix(s, prefix) })
}

func endsWith(suffix string) *Criteria[string] {
	return Func(func(s string) bool { return strings.HasSuffix(s, suffix) })
}

func TestCompositionMatchesBooleanAlgebra(t *testing.T) {
	a := startsWith("com.")
	b := endsWith("Service")
	inputs := []string{"com.acme.Service", "com.acme.Repo", "org.acme.Service", "org.Repo", ""}

	and := a.And(b)
	or := a.Or(b)
	notA := a.Not()
	for _, x := range inputs {
		ra, rb := a.Test(x).Result(), b.Test(x).Result()
		assert.Equal(t, ra && rb, and.Test(x).Result(), "and(%q)", x)
		assert.Equal(t, ra || rb, or.Test(x).Result(), "or(%q)", x)
		assert.Equal(t, !ra, notA.Test(x).Result(), "not(%q)", x)
	}
}

func TestCompositionLeavesOperandsUntouched(t *testing.T) {
	a := startsWith("a").WithClassesToPreload("x.A")
	b := startsWith("b").WithClassesToPreload("x.B")

	c := a.And(b)
	assert.ElementsMatch(t, []string{"x.A", "x.B"}, c.ClassesToPreload())
	assert.ElementsMatch(t, []string{"x.A"}, a.ClassesToPreload())
	assert.ElementsMatch(t, []string{"x.B"}, b.ClassesToPreload())
	assert.True(t, a.Test("abc").Result())
}

func TestScanUpToBoundsAreOrMerged(t *testing.T) {
	stopAtBase := func(_, current string) bool { return current == "a.Base" }
	stopAtObject := func(_, current string) bool { return current == "java.lang.Object" }

	a := Empty[string]().WithScanUpTo(stopAtBase)
	b := Empty[string]().WithScanUpTo(stopAtObject)

	merged := a.Or(b).ScanUpTo()
	require.NotNil(t, merged)
	assert.True(t, merged("a.Child", "a.Base"))
	assert.True(t, merged("a.Child", "java.lang.Object"))
	assert.False(t, merged("a.Child", "a.Middle"))

	// A single bound is carried as is
	only := a.And(Empty[string]()).ScanUpTo()
	require.NotNil(t, only)
	assert.False(t, only("a.Child", "java.lang.Object"))
}

// The two no-predicate defaults disagree on purpose. Callers pick one by
// name; swapping them silently turns an empty file filter into "reject all"
// or makes every cache look populated.
func TestEmptyCriteriaDefaults(t *testing.T) {
	empty := Empty[string]()

	// Cache/emptiness checks: an empty criteria has nothing to test
	assert.True(t, empty.HasNoPredicate())
	assert.False(t, empty.TestWithFalseResultForNullEntityOrFalseResultForNullPredicate("x").Result())
	assert.False(t, empty.Test("x").Result())

	// File filters: an empty criteria accepts everything
	assert.True(t, empty.TestWithTrueResultForNullEntityOrTrueResultForNullPredicate("x").Result())
	assert.True(t, empty.AsFilter()("anything"))

	// Composition with an empty side is the identity
	a := startsWith("a")
	assert.True(t, a.And(empty).Test("abc").Result())
	assert.False(t, a.And(empty).Test("xyz").Result())
	assert.False(t, empty.And(empty).Test("abc").Result())
	assert.True(t, empty.And(empty).HasNoPredicate())

	// The negation of "no criteria" rejects everything
	assert.False(t, empty.Not().Test("x").Result())
	assert.False(t, empty.Not().HasNoPredicate())
}

func TestNullEntityShortCircuits(t *testing.T) {
	called := false
	c := New(func(_ *TestContext[*string], s *string) bool {
		called = true
		return *s == "x"
	})

	assert.True(t, c.TestWithTrueResultForNullEntityOrTrueResultForNullPredicate(nil).Result())
	assert.False(t, c.TestWithFalseResultForNullEntityOrFalseResultForNullPredicate(nil).Result())
	assert.False(t, called)

	x := "x"
	assert.True(t, c.TestWithFalseResultForNullEntityOrFalseResultForNullPredicate(&x).Result())
	assert.True(t, called)
}

func TestContextCollectsSideChannel(t *testing.T) {
	c := New(func(ctx *TestContext[[]string], items []string) bool {
		for _, it := range items {
			if strings.HasPrefix(it, "get") {
				ctx.Collect(it)
			}
		}
		return len(ctx.Collected()) > 0
	})

	ctx := c.Test([]string{"getName", "setName", "getId"})
	assert.True(t, ctx.Result())
	assert.Equal(t, []any{"getName", "getId"}, ctx.Collected())
	assert.Equal(t, c, ctx.Criteria())
	assert.Len(t, ctx.Entity(), 3)
}

func TestCloseIsIdempotentAndKeepsCopiesAlive(t *testing.T) {
	a := startsWith("a").WithClassesToPreload("x.A")
	cp := a.Copy()
	composed := a.Or(endsWith("z"))

	a.Close()
	a.Close()

	assert.True(t, a.IsClosed())
	assert.True(t, a.HasNoPredicate())
	assert.Empty(t, a.ClassesToPreload())
	assert.False(t, a.Test("abc").Result())

	assert.True(t, cp.Test("abc").Result())
	assert.ElementsMatch(t, []string{"x.A"}, cp.ClassesToPreload())
	assert.True(t, composed.Test("abc").Result())
	assert.True(t, composed.Test("xyz").Result())
}

func TestErrorHandlerTravelsWithComposition(t *testing.T) {
	handled := errors.New("handled")
	h := func(err error, _ ...any) (bool, error) { return false, handled }

	a := startsWith("a").WithErrorHandler(h)
	composed := endsWith("z").And(a)

	got := composed.ErrorHandler()
	require.NotNil(t, got)
	_, err := got(errors.New("boom"))
	assert.ErrorIs(t, err, handled)
	assert.Nil(t, startsWith("a").ErrorHandler())
}

func TestNilCriteriaIsSafe(t *testing.T) {
	var c *Criteria[string]
	assert.True(t, c.HasNoPredicate())
	assert.Nil(t, c.ClassesToPreload())
	assert.True(t, c.AsFilter()("x"))
	assert.True(t, c.Or(startsWith("a")).Test("abc").Result())
	c.Close()
}
