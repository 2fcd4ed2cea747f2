// Package build turns generated source units into classes. A Factory hands
// out Retrievers; each Retriever compiles its units lazily and loads the
// requested classes through a fallback chain that augments the target
// loader's class path until the class resolves or nothing new can be found.
package build

import (
	"context"
	"sort"

	"github.com/standardbeagle/classhunter/internal/loader"
)

// SourceUnit is one compilation unit of generated source
type SourceUnit interface {
	// Name identifies the unit, e.g. "com/acme/Foo.java"
	Name() string
	// Render returns the source text
	Render() string
	// DeclaredClasses returns the binary names of the classes the unit declares
	DeclaredClasses() []string
}

// Unit is a SourceUnit holding pre-rendered text
type Unit struct {
	Path    string
	Text    string
	Classes []string
}

func (u Unit) Name() string              { return u.Path }
func (u Unit) Render() string            { return u.Text }
func (u Unit) DeclaredClasses() []string { return u.Classes }

// CompileRequest is the input handed to a Compiler
type CompileRequest struct {
	Sources      map[string]string // unit name -> source text
	ClassPath    []string          // class path entries of the target loader
	Repositories []string          // locations searched for missing dependencies
}

// CompileResult is what a Compiler produced
type CompileResult struct {
	ByteCodes       map[string][]byte // binary class name -> class file
	DependencyPaths []string          // class path entries used or discovered while compiling
	OutputDir       string            // persisted class-path root, empty when kept in memory
}

// Names returns the compiled class names, sorted
func (r *CompileResult) Names() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.ByteCodes))
	for n := range r.ByteCodes {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Compiler compiles source text. Diagnostics about missing classes are
// expected to be resolved by the compiler itself (by searching the
// repositories and retrying); what it cannot resolve is returned as an
// error carrying the original diagnostic.
type Compiler interface {
	Compile(ctx context.Context, req CompileRequest) (*CompileResult, error)
}

// CompilerFunc adapts a function to Compiler
type CompilerFunc func(ctx context.Context, req CompileRequest) (*CompileResult, error)

func (f CompilerFunc) Compile(ctx context.Context, req CompileRequest) (*CompileResult, error) {
	return f(ctx, req)
}

// ClassPathHelper locates the class path roots below paths that contain
// names and appends the new ones to l, returning what was added
type ClassPathHelper interface {
	FindAndAppend(ctx context.Context, l *loader.Loader, paths []string, names ...string) ([]string, error)
}

// closer is implemented by collaborators that hold resources
type closer interface {
	Close()
}

func closeIfPossible(v any) {
	switch c := v.(type) {
	case closer:
		c.Close()
	case interface{ Close() error }:
		_ = c.Close()
	}
}
