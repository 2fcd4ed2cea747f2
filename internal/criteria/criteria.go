// Package criteria provides composable, closeable predicates over typed
// entities. Composition never mutates its operands: And, Or, Not and Copy
// always return a new Criteria carrying merged auxiliary state.
//
// A Criteria without a predicate is "empty". Call sites pick the default
// that applies to them explicitly:
//
//   - file filters treat an empty criteria as accept-all
//     (AsFilter, TestWithTrueResultForNullEntityOrTrueResultForNullPredicate)
//   - cache and emptiness checks treat it as "nothing to test"
//     (HasNoPredicate, TestWithFalseResultForNullEntityOrFalseResultForNullPredicate)
//
// The two defaults differ on purpose and are kept as separate operations.
package criteria

import (
	"reflect"
	"sync"
)

// Predicate tests an entity. The context gives access to the criteria being
// evaluated and a side channel for collecting values during the test.
type Predicate[E any] func(ctx *TestContext[E], entity E) bool

// Bound decides, while walking a class hierarchy upward from initial, whether
// current is the last level to visit.
type Bound func(initial, current string) bool

// ErrorHandler is invoked when producing or testing a candidate fails.
// It returns the result to use for that candidate, or a non-nil error to
// abort the surrounding operation.
type ErrorHandler func(err error, args ...any) (bool, error)

// TestContext is the structured result of a single test
type TestContext[E any] struct {
	criteria  *Criteria[E]
	entity    E
	result    bool
	collected []any
}

// Result returns the boolean outcome of the test
func (c *TestContext[E]) Result() bool { return c.result }

// Entity returns the tested entity
func (c *TestContext[E]) Entity() E { return c.entity }

// Criteria returns the criteria that produced this context
func (c *TestContext[E]) Criteria() *Criteria[E] { return c.criteria }

// Collect records a value observed while testing (e.g. a matched member)
func (c *TestContext[E]) Collect(v any) { c.collected = append(c.collected, v) }

// Collected returns the values recorded through Collect
func (c *TestContext[E]) Collected() []any { return c.collected }

// Criteria wraps a predicate plus the auxiliary state that travels with it
// through composition.
type Criteria[E any] struct {
	mu        sync.RWMutex
	predicate Predicate[E]
	preload   map[string]struct{}
	scanUpTo  Bound
	onError   ErrorHandler
	closed    bool
}

// New creates a criteria from a predicate; a nil predicate yields an empty criteria
func New[E any](p Predicate[E]) *Criteria[E] {
	return &Criteria[E]{predicate: p, preload: map[string]struct{}{}}
}

// Empty creates a criteria without a predicate
func Empty[E any]() *Criteria[E] {
	return New[E](nil)
}

// Func adapts a plain boolean function
func Func[E any](f func(E) bool) *Criteria[E] {
	if f == nil {
		return Empty[E]()
	}
	return New(func(_ *TestContext[E], e E) bool { return f(e) })
}

// WithClassesToPreload returns a copy that also requires the named classes
// to be loaded before testing.
func (c *Criteria[E]) WithClassesToPreload(names ...string) *Criteria[E] {
	cp := c.Copy()
	for _, n := range names {
		cp.preload[n] = struct{}{}
	}
	return cp
}

// WithScanUpTo returns a copy whose hierarchy walk stops where bound says so
func (c *Criteria[E]) WithScanUpTo(bound Bound) *Criteria[E] {
	cp := c.Copy()
	cp.scanUpTo = bound
	return cp
}

// WithErrorHandler returns a copy using handler for failures
func (c *Criteria[E]) WithErrorHandler(handler ErrorHandler) *Criteria[E] {
	cp := c.Copy()
	cp.onError = handler
	return cp
}

// ClassesToPreload returns the classes that must be loaded before testing
func (c *Criteria[E]) ClassesToPreload() []string {
	if c == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.preload))
	for n := range c.preload {
		out = append(out, n)
	}
	return out
}

// ScanUpTo returns the hierarchy bound, nil when none was set
func (c *Criteria[E]) ScanUpTo() Bound {
	if c == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.scanUpTo
}

// ErrorHandler returns the failure handler, nil when none was set
func (c *Criteria[E]) ErrorHandler() ErrorHandler {
	if c == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.onError
}

func (c *Criteria[E]) snapshot() (Predicate[E], map[string]struct{}, Bound, ErrorHandler) {
	if c == nil {
		return nil, nil, nil, nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	preload := make(map[string]struct{}, len(c.preload))
	for k := range c.preload {
		preload[k] = struct{}{}
	}
	return c.predicate, preload, c.scanUpTo, c.onError
}

// Copy returns an independent criteria with the same predicate and a copy
// of the auxiliary state
func (c *Criteria[E]) Copy() *Criteria[E] {
	p, preload, bound, handler := c.snapshot()
	if preload == nil {
		preload = map[string]struct{}{}
	}
	return &Criteria[E]{predicate: p, preload: preload, scanUpTo: bound, onError: handler}
}

// And returns a criteria matching when both c and other match
func (c *Criteria[E]) And(other *Criteria[E]) *Criteria[E] {
	return c.compose(other, func(a, b Predicate[E]) Predicate[E] {
		return func(ctx *TestContext[E], e E) bool { return a(ctx, e) && b(ctx, e) }
	})
}

// Or returns a criteria matching when either c or other matches
func (c *Criteria[E]) Or(other *Criteria[E]) *Criteria[E] {
	return c.compose(other, func(a, b Predicate[E]) Predicate[E] {
		return func(ctx *TestContext[E], e E) bool { return a(ctx, e) || b(ctx, e) }
	})
}

// Not returns the negation of c. The negation of an empty criteria rejects
// everything.
func (c *Criteria[E]) Not() *Criteria[E] {
	cp := c.Copy()
	p := cp.predicate
	if p == nil {
		cp.predicate = func(*TestContext[E], E) bool { return false }
		return cp
	}
	cp.predicate = func(ctx *TestContext[E], e E) bool { return !p(ctx, e) }
	return cp
}

func (c *Criteria[E]) compose(other *Criteria[E], join func(a, b Predicate[E]) Predicate[E]) *Criteria[E] {
	pa, preloadA, boundA, handlerA := c.snapshot()
	pb, preloadB, boundB, handlerB := other.snapshot()

	out := &Criteria[E]{preload: map[string]struct{}{}}
	for k := range preloadA {
		out.preload[k] = struct{}{}
	}
	for k := range preloadB {
		out.preload[k] = struct{}{}
	}
	out.scanUpTo = orBounds(boundA, boundB)
	out.onError = handlerA
	if out.onError == nil {
		out.onError = handlerB
	}
	switch {
	case pa == nil:
		out.predicate = pb
	case pb == nil:
		out.predicate = pa
	default:
		out.predicate = join(pa, pb)
	}
	return out
}

// orBounds merges two hierarchy bounds so that either one can stop the walk
func orBounds(a, b Bound) Bound {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	return func(initial, current string) bool {
		return a(initial, current) || b(initial, current)
	}
}

// HasNoPredicate reports whether the criteria is empty (or closed).
func (c *Criteria[E]) HasNoPredicate() bool {
	if c == nil {
		return true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.predicate == nil
}

// Test evaluates the predicate against entity. An empty criteria yields a
// false result.
func (c *Criteria[E]) Test(entity E) *TestContext[E] {
	ctx := &TestContext[E]{criteria: c, entity: entity}
	p := c.currentPredicate()
	if p != nil {
		ctx.result = p(ctx, entity)
	}
	return ctx
}

// TestWithTrueResultForNullEntityOrTrueResultForNullPredicate evaluates
// entity, short-circuiting to true when there is nothing to test.
func (c *Criteria[E]) TestWithTrueResultForNullEntityOrTrueResultForNullPredicate(entity E) *TestContext[E] {
	ctx := &TestContext[E]{criteria: c, entity: entity, result: true}
	p := c.currentPredicate()
	if p == nil || isNil(entity) {
		return ctx
	}
	ctx.result = p(ctx, entity)
	return ctx
}

// TestWithFalseResultForNullEntityOrFalseResultForNullPredicate evaluates
// entity, short-circuiting to false when there is nothing to test.
func (c *Criteria[E]) TestWithFalseResultForNullEntityOrFalseResultForNullPredicate(entity E) *TestContext[E] {
	ctx := &TestContext[E]{criteria: c, entity: entity}
	p := c.currentPredicate()
	if p == nil || isNil(entity) {
		return ctx
	}
	ctx.result = p(ctx, entity)
	return ctx
}

// AsFilter returns a plain function suitable for file filtering. An empty
// criteria accepts everything.
func (c *Criteria[E]) AsFilter() func(E) bool {
	return func(e E) bool {
		return c.TestWithTrueResultForNullEntityOrTrueResultForNullPredicate(e).Result()
	}
}

func (c *Criteria[E]) currentPredicate() Predicate[E] {
	if c == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.predicate
}

// Close releases the predicate and auxiliary state. Closing twice is a no-op;
// copies and compositions made earlier keep working.
func (c *Criteria[E]) Close() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.predicate = nil
	c.preload = nil
	c.scanUpTo = nil
	c.onError = nil
}

// IsClosed reports whether Close has been called
func (c *Criteria[E]) IsClosed() bool {
	if c == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Interface, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
