package scan

import (
	"context"
	"sort"

	"github.com/standardbeagle/classhunter/internal/config"
	"github.com/standardbeagle/classhunter/internal/debug"
	"github.com/standardbeagle/classhunter/internal/loader"
)

// ClassHunter finds classes and loads them through the search's loader
type ClassHunter struct{ *Scanner }

// NewClassHunter creates a scanner with the class strategy
func NewClassHunter(cfg *config.Config, opts ...Option) (*ClassHunter, error) {
	s, err := New(cfg, ClassStrategy{}, opts...)
	if err != nil {
		return nil, err
	}
	return &ClassHunter{s}, nil
}

// ByteCodeHunter finds class names and byte code without defining anything
type ByteCodeHunter struct{ *Scanner }

// NewByteCodeHunter creates a scanner with the byte-code strategy
func NewByteCodeHunter(cfg *config.Config, opts ...Option) (*ByteCodeHunter, error) {
	s, err := New(cfg, ByteCodeStrategy{}, opts...)
	if err != nil {
		return nil, err
	}
	return &ByteCodeHunter{s}, nil
}

// ClassPathHunter finds the class path roots (folders and archives) that
// contain matching classes
type ClassPathHunter struct{ *Scanner }

// NewClassPathHunter creates a scanner with the class-path strategy
func NewClassPathHunter(cfg *config.Config, opts ...Option) (*ClassPathHunter, error) {
	s, err := New(cfg, ClassPathStrategy{}, opts...)
	if err != nil {
		return nil, err
	}
	return &ClassPathHunter{s}, nil
}

// FindContaining returns the class path roots below paths that contain at
// least one of names. The search goes through the cache.
func (h *ClassPathHunter) FindContaining(ctx context.Context, paths []string, names ...string) ([]string, error) {
	if len(names) == 0 || len(paths) == 0 {
		return nil, nil
	}
	r, err := h.Find(ctx, NewSearchConfig(paths...).By(ClassNamed(names...)))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	roots := r.ClassPaths()
	debug.LogScan("class paths containing %v: %v", names, roots)
	return roots, nil
}

// FindAndAppend looks for the class path roots containing names below paths
// and appends the ones l does not have yet. It returns the roots actually
// added; an empty result means nothing new was found.
func (h *ClassPathHunter) FindAndAppend(ctx context.Context, l *loader.Loader, paths []string, names ...string) ([]string, error) {
	roots, err := h.FindContaining(ctx, paths, names...)
	if err != nil || len(roots) == 0 {
		return nil, err
	}
	added, err := l.AddClassPaths(roots...)
	if err != nil {
		return nil, err
	}
	sort.Strings(added)
	return added, nil
}
