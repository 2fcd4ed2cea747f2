package members

import (
	"context"
	"errors"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/standardbeagle/classhunter/internal/config"
	"github.com/standardbeagle/classhunter/internal/debug"
	cherrors "github.com/standardbeagle/classhunter/internal/errors"
	"github.com/standardbeagle/classhunter/internal/loader"
)

type lookupKey struct {
	loaderID  string
	class     string
	query     string
	signature string
}

// Stats reports cache activity
type Stats struct {
	Hits    int64
	Misses  int64
	Lookups int // cached lookups
	Handles int // cached handles
}

// Resolver finds members and caches the lookups per defining loader
type Resolver struct {
	lookups *lru.Cache[lookupKey, []*Member]
	handles *HandleCache
	invoker Invoker

	hits   atomic.Int64
	misses atomic.Int64
}

// NewResolver creates a resolver with caches sized from cfg. invoker may be
// nil when nothing is invoked.
func NewResolver(cfg config.Cache, invoker Invoker) (*Resolver, error) {
	size := cfg.MemberCacheSize
	if size <= 0 {
		size = config.DefaultMemberCacheSize
	}
	lookups, err := lru.New[lookupKey, []*Member](size)
	if err != nil {
		return nil, err
	}
	handles, err := NewHandleCache(cfg.HandleCacheSize, invoker)
	if err != nil {
		return nil, err
	}
	return &Resolver{lookups: lookups, handles: handles, invoker: invoker}, nil
}

// Handles returns the handle cache
func (r *Resolver) Handles() *HandleCache { return r.handles }

// FindAllAndMakeThemAccessible returns every member matching q, walking from
// c up the superclass chain. The walk stops at the root type unless the
// query sets its own bound. Constructors are only looked up on c.
func (r *Resolver) FindAllAndMakeThemAccessible(c *loader.Class, q *Query) ([]*Member, error) {
	if c == nil || q == nil {
		return nil, cherrors.NewConfigError("class", "", errors.New("class and query are required"))
	}
	key := lookupKey{loaderID: loaderID(c), class: c.Name(), query: q.Key(), signature: q.Signature()}
	if key.query != "" {
		if cached, ok := r.lookups.Get(key); ok {
			r.hits.Add(1)
			return append([]*Member(nil), cached...), nil
		}
	}
	r.misses.Add(1)

	found := r.walk(c, q)
	if key.query != "" {
		r.lookups.Add(key, found)
	}
	debug.LogMembers("%s %s: %d members", c.Name(), q, len(found))
	return append([]*Member(nil), found...), nil
}

func (r *Resolver) walk(c *loader.Class, q *Query) []*Member {
	bound := q.crit.ScanUpTo()
	var out []*Member
	for cur := c; cur != nil; cur = cur.Super() {
		if bound == nil && cur.Name() == loader.RootType {
			break
		}
		if q.skip == nil || !q.skip(cur) {
			out = append(out, declared(cur, q)...)
		}
		if q.kind == constructorKind || (bound != nil && bound(c.Name(), cur.Name())) {
			break
		}
	}
	return out
}

func declared(c *loader.Class, q *Query) []*Member {
	d := c.Descriptor()
	if d == nil {
		return nil
	}
	src := d.Methods
	if q.kind == fieldKind {
		src = d.Fields
	}
	var out []*Member
	for _, cm := range src {
		m := &Member{Member: cm, Declaring: c, accessible: true}
		if q.matches(m) {
			out = append(out, m)
		}
	}
	return out
}

// FindFirstAndMakeItAccessible returns the first match. When several
// members accept the query's arguments, one whose parameter types equal
// the arguments exactly is preferred.
func (r *Resolver) FindFirstAndMakeItAccessible(c *loader.Class, q *Query) (*Member, error) {
	all, err := r.FindAllAndMakeThemAccessible(c, q)
	if err != nil {
		return nil, err
	}
	switch {
	case len(all) == 0:
		return nil, cherrors.NewMemberNotFoundError(c.Name(), q.String())
	case len(all) == 1 || !q.hasArgs:
		return all[0], nil
	}
	for _, m := range all {
		if q.exactly(m) {
			return m, nil
		}
	}
	return all[0], nil
}

// FindOne returns the single match. Several matches are an error unless
// exactly one of them matches the query's arguments exactly.
func (r *Resolver) FindOne(c *loader.Class, q *Query) (*Member, error) {
	all, err := r.FindAllAndMakeThemAccessible(c, q)
	if err != nil {
		return nil, err
	}
	switch len(all) {
	case 0:
		return nil, cherrors.NewMemberNotFoundError(c.Name(), q.String())
	case 1:
		return all[0], nil
	}
	if q.hasArgs {
		var exact []*Member
		for _, m := range all {
			if q.exactly(m) {
				exact = append(exact, m)
			}
		}
		if len(exact) == 1 {
			return exact[0], nil
		}
	}
	names := make([]string, len(all))
	for i, m := range all {
		names[i] = m.String()
	}
	return nil, cherrors.NewAmbiguousMemberError(c.Name(), q.String(), names)
}

// Invoke calls m through the invoker without building a handle. Arguments
// are normalized exactly as Handle.Invoke does.
func (r *Resolver) Invoke(ctx context.Context, m *Member, target any, args ...any) (any, error) {
	return invoke(ctx, r.invoker, m, target, args)
}

// Handle returns the cached invocation handle of m
func (r *Resolver) Handle(m *Member) *Handle { return r.handles.Resolve(m) }

// Forget drops every cached lookup and handle of classes defined by l
func (r *Resolver) Forget(l *loader.Loader) {
	if l == nil {
		return
	}
	id := l.ID()
	n := 0
	for _, k := range r.lookups.Keys() {
		if k.loaderID == id {
			r.lookups.Remove(k)
			n++
		}
	}
	n += r.handles.forget(id)
	debug.LogMembers("dropped %d entries of loader %s", n, l.Name())
}

// Stats returns cache counters
func (r *Resolver) Stats() Stats {
	return Stats{
		Hits:    r.hits.Load(),
		Misses:  r.misses.Load(),
		Lookups: r.lookups.Len(),
		Handles: r.handles.Len(),
	}
}
