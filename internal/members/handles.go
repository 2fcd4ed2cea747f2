package members

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/standardbeagle/classhunter/internal/classfile"
	"github.com/standardbeagle/classhunter/internal/config"
	"github.com/standardbeagle/classhunter/internal/debug"
	cherrors "github.com/standardbeagle/classhunter/internal/errors"
)

const (
	fieldKind       = classfile.KindField
	constructorKind = classfile.KindConstructor
)

// Invoker executes a member. Byte code is never run here; the invoker is
// whatever runtime owns the instances.
type Invoker interface {
	Invoke(ctx context.Context, m *Member, target any, args []any) (any, error)
}

// InvokerFunc adapts a function to Invoker
type InvokerFunc func(ctx context.Context, m *Member, target any, args []any) (any, error)

func (f InvokerFunc) Invoke(ctx context.Context, m *Member, target any, args []any) (any, error) {
	return f(ctx, m, target, args)
}

var errNoInvoker = errors.New("no invoker configured")

// NormalizeArgs arranges args for m. Variable-arity members receive their
// trailing arguments packed into one slice; an argument already passed as
// a slice in the last position is used as is.
func NormalizeArgs(m *Member, args []any) ([]any, error) {
	n := len(m.ParamTypes())
	if !m.IsVarArgs() || n == 0 {
		if len(args) != n {
			return nil, cherrors.NewConfigError("args", m.String(), fmt.Errorf("expected %d arguments, got %d", n, len(args)))
		}
		return append([]any(nil), args...), nil
	}
	if len(args) < n-1 {
		return nil, cherrors.NewConfigError("args", m.String(), fmt.Errorf("expected at least %d arguments, got %d", n-1, len(args)))
	}
	if len(args) == n && isSlice(args[n-1]) {
		return append([]any(nil), args...), nil
	}
	out := make([]any, 0, n)
	out = append(out, args[:n-1]...)
	return append(out, append([]any{}, args[n-1:]...)), nil
}

func isSlice(v any) bool {
	if v == nil {
		return false
	}
	k := reflect.TypeOf(v).Kind()
	return k == reflect.Slice || k == reflect.Array
}

func invoke(ctx context.Context, inv Invoker, m *Member, target any, args []any) (any, error) {
	if inv == nil {
		return nil, cherrors.NewConfigError("invoker", "", errNoInvoker)
	}
	norm, err := NormalizeArgs(m, args)
	if err != nil {
		return nil, err
	}
	if target == nil && !m.IsStatic() && !m.IsConstructor() {
		return nil, cherrors.NewConfigError("target", m.String(), errors.New("instance member needs a target"))
	}
	return inv.Invoke(ctx, m, target, norm)
}

// Handle is a member bound to an invoker
type Handle struct {
	member  *Member
	invoker Invoker
}

// Member returns the member the handle invokes
func (h *Handle) Member() *Member { return h.member }

// Invoke calls the member on target (nil for static members and
// constructors)
func (h *Handle) Invoke(ctx context.Context, target any, args ...any) (any, error) {
	return invoke(ctx, h.invoker, h.member, target, args)
}

type handleKey struct {
	loaderID   string
	class      string
	name       string
	descriptor string
}

// HandleCache converts each member into a handle once
type HandleCache struct {
	mu      sync.Mutex
	cache   *lru.Cache[handleKey, *Handle]
	invoker Invoker
}

// NewHandleCache creates a cache holding up to size handles
func NewHandleCache(size int, invoker Invoker) (*HandleCache, error) {
	if size <= 0 {
		size = config.DefaultHandleCacheSize
	}
	c, err := lru.New[handleKey, *Handle](size)
	if err != nil {
		return nil, err
	}
	return &HandleCache{cache: c, invoker: invoker}, nil
}

// Resolve returns the handle of m, creating it on first use
func (c *HandleCache) Resolve(m *Member) *Handle {
	key := handleKey{loaderID: m.LoaderID(), class: m.Declaring.Name(), name: m.Name, descriptor: m.Descriptor}
	c.mu.Lock()
	defer c.mu.Unlock()
	if h, ok := c.cache.Get(key); ok {
		return h
	}
	h := &Handle{member: m, invoker: c.invoker}
	c.cache.Add(key, h)
	debug.LogMembers("handle for %s", m)
	return h
}

// Len returns the number of cached handles
func (c *HandleCache) Len() int { return c.cache.Len() }

func (c *HandleCache) forget(loaderID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, k := range c.cache.Keys() {
		if k.loaderID == loaderID {
			c.cache.Remove(k)
			n++
		}
	}
	return n
}
