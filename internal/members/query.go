// Package members finds fields, methods and constructors of loaded classes
// and caches both the lookups and the invocation handles built from them.
// Every cache entry is scoped to the loader that defined the class, so two
// loaders defining the same class name never share entries.
package members

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/standardbeagle/classhunter/internal/classfile"
	"github.com/standardbeagle/classhunter/internal/criteria"
	"github.com/standardbeagle/classhunter/internal/loader"
)

// Member is a field, method or constructor of a loaded class
type Member struct {
	classfile.Member
	Declaring *loader.Class

	accessible bool
}

// Accessible reports whether the member was returned by a lookup that makes
// members accessible
func (m *Member) Accessible() bool { return m.accessible }

// Params returns the parameter types
func (m *Member) Params() []string { return m.ParamTypes() }

// LoaderID returns the id of the loader that defined the declaring class
func (m *Member) LoaderID() string { return loaderID(m.Declaring) }

func (m *Member) String() string {
	if m.Kind == classfile.KindField {
		return m.Declaring.Name() + "." + m.Name
	}
	return m.Declaring.Name() + "." + m.Name + "(" + strings.Join(m.ParamTypes(), ", ") + ")"
}

func loaderID(c *loader.Class) string {
	if c == nil || c.Loader() == nil {
		return "platform"
	}
	return c.Loader().ID()
}

// Query describes which members to find. Builders return copies, so a
// query can be shared and refined freely.
type Query struct {
	kind    classfile.MemberKind
	name    string
	params  int
	args    []string
	hasArgs bool
	crit    *criteria.Criteria[*Member]
	skip    func(*loader.Class) bool
	key     []string
	keyable bool
}

func newQuery(kind classfile.MemberKind) *Query {
	return &Query{kind: kind, params: -1, crit: criteria.Empty[*Member](), key: []string{kind.String()}, keyable: true}
}

// Fields queries fields
func Fields() *Query { return newQuery(classfile.KindField) }

// Methods queries methods
func Methods() *Query { return newQuery(classfile.KindMethod) }

// Constructors queries the constructors of the class itself
func Constructors() *Query { return newQuery(classfile.KindConstructor) }

func (q *Query) clone() *Query {
	cp := *q
	cp.args = append([]string(nil), q.args...)
	cp.key = append([]string(nil), q.key...)
	return &cp
}

// Named restricts to members called name
func (q *Query) Named(name string) *Query {
	cp := q.clone()
	cp.name = name
	cp.key = append(cp.key, "name="+name)
	return cp
}

// WithParamCount restricts to members taking n parameters
func (q *Query) WithParamCount(n int) *Query {
	cp := q.clone()
	cp.params = n
	cp.key = append(cp.key, "params="+strconv.Itoa(n))
	return cp
}

// WithArguments restricts to members that accept arguments of the given
// types. An empty type stands for a null argument. Variable-arity members
// match when the trailing arguments fit the element type.
func (q *Query) WithArguments(types ...string) *Query {
	cp := q.clone()
	cp.args = append([]string(nil), types...)
	cp.hasArgs = true
	return cp
}

// Where adds a predicate. A query with a predicate is only cached when it
// is given a key with WithKey.
func (q *Query) Where(pred func(*Member) bool) *Query {
	cp := q.clone()
	cp.crit = cp.crit.And(criteria.Func(pred))
	cp.keyable = false
	return cp
}

// WithKey names the query shape for caching
func (q *Query) WithKey(key string) *Query {
	cp := q.clone()
	cp.key = append(cp.key, "key="+key)
	cp.keyable = true
	return cp
}

// ScanUpTo sets where the hierarchy walk stops. bound receives the names
// of the initial class and of the class being visited; the visited class is
// still searched when it returns true.
func (q *Query) ScanUpTo(bound criteria.Bound) *Query {
	cp := q.clone()
	cp.crit = cp.crit.WithScanUpTo(bound)
	cp.keyable = false
	return cp
}

// SkipClass excludes the members declared at levels for which skip
// returns true; the walk continues above them
func (q *Query) SkipClass(skip func(*loader.Class) bool) *Query {
	cp := q.clone()
	cp.skip = skip
	cp.keyable = false
	return cp
}

// Key returns the cache key of the query shape, empty when not cacheable
func (q *Query) Key() string {
	if !q.keyable {
		return ""
	}
	return strings.Join(q.key, "|")
}

// Signature returns the argument types the query matches against
func (q *Query) Signature() string {
	if !q.hasArgs {
		return "*"
	}
	return "(" + strings.Join(q.args, ",") + ")"
}

func (q *Query) String() string {
	return fmt.Sprintf("%s%s", strings.Join(q.key, " "), q.Signature())
}

// matches runs the structural tests and the predicate
func (q *Query) matches(m *Member) bool {
	if m.Kind != q.kind {
		return false
	}
	if q.name != "" && m.Name != q.name {
		return false
	}
	params := m.ParamTypes()
	if q.params >= 0 && len(params) != q.params {
		return false
	}
	if q.hasArgs && !acceptsArguments(m, params, q.args) {
		return false
	}
	return q.crit.TestWithTrueResultForNullEntityOrTrueResultForNullPredicate(m).Result()
}

// exactly reports whether the parameter types equal the argument types
func (q *Query) exactly(m *Member) bool {
	params := m.ParamTypes()
	if len(params) != len(q.args) {
		return false
	}
	for i := range params {
		if params[i] != q.args[i] {
			return false
		}
	}
	return true
}
