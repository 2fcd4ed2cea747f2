package build

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/standardbeagle/classhunter/internal/config"
	"github.com/standardbeagle/classhunter/internal/debug"
	cherrors "github.com/standardbeagle/classhunter/internal/errors"
	"github.com/standardbeagle/classhunter/internal/loader"
	"github.com/standardbeagle/classhunter/internal/scan"
	"github.com/standardbeagle/classhunter/internal/security"
)

// FactoryOption configures a Factory
type FactoryOption func(*Factory)

// WithClassPathHelper replaces the default class path helper. The factory
// does not close a helper it did not create.
func WithClassPathHelper(h ClassPathHelper) FactoryOption {
	return func(f *Factory) { f.helper = h }
}

// WithByteCodeHunter sets the hunter used for the last fallback stage. The
// factory does not close a hunter it did not create.
func WithByteCodeHunter(h *scan.ByteCodeHunter) FactoryOption {
	return func(f *Factory) { f.byteCodes = h }
}

// Factory builds classes from source units and keeps track of the
// retrievers it handed out
type Factory struct {
	id       string
	cfg      *config.Config
	loaders  *loader.Registry
	compiler Compiler
	helper   ClassPathHelper

	byteCodes  *scan.ByteCodeHunter
	ownHelper  *scan.ClassPathHunter
	ownHunter  bool
	persistDir string
	validator  *security.ClassValidator

	mu         sync.Mutex
	retrievers map[*Retriever]struct{}
	closed     bool
}

// NewFactory creates a factory compiling with compiler and loading into
// loaders. Without options it scans with its own hunters sharing the
// registry and its file-system items.
func NewFactory(cfg *config.Config, loaders *loader.Registry, compiler Compiler, opts ...FactoryOption) (*Factory, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if loaders == nil {
		return nil, cherrors.NewConfigError("loaders", "", errors.New("a loader registry is required"))
	}
	if compiler == nil {
		return nil, cherrors.NewConfigError("compiler", "", errors.New("a compiler is required"))
	}
	f := &Factory{
		id:         uuid.NewString(),
		cfg:        cfg,
		loaders:    loaders,
		compiler:   compiler,
		validator:  security.NewClassValidator(0),
		retrievers: make(map[*Retriever]struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}

	shared := []scan.Option{
		scan.WithLoaderRegistry(loaders),
		scan.WithItemRegistry(loaders.Hierarchy().Items()),
	}
	if f.helper == nil {
		h, err := scan.NewClassPathHunter(cfg, shared...)
		if err != nil {
			return nil, err
		}
		f.helper = h
		f.ownHelper = h
		f.id = h.ID()
	}
	if f.byteCodes == nil {
		h, err := scan.NewByteCodeHunter(cfg, shared...)
		if err != nil {
			f.closeOwned()
			return nil, err
		}
		f.byteCodes = h
		f.ownHunter = true
	}
	f.persistDir = filepath.Join(cfg.Build.TempDir, "classhunter-"+f.id)
	return f, nil
}

// ID returns the instance id used to namespace persisted output
func (f *Factory) ID() string { return f.id }

// Loaders returns the loader registry
func (f *Factory) Loaders() *loader.Registry { return f.loaders }

// BucketDir returns the directory persisted classes of bucket are written
// to. An empty bucket is the configured default.
func (f *Factory) BucketDir(bucket string) string {
	if bucket == "" {
		bucket = f.cfg.Build.Bucket
	}
	if bucket == "" {
		bucket = config.DefaultBucket
	}
	return filepath.Join(f.persistDir, bucket)
}

// BuildAndLoad returns a retriever for the classes declared by units. Nothing
// is compiled until a class cannot be found otherwise, unless
// CompileEagerly is given.
func (f *Factory) BuildAndLoad(ctx context.Context, units []SourceUnit, opts ...BuildOption) (*Retriever, error) {
	o := buildOptions{bucket: f.cfg.Build.Bucket}
	for _, opt := range opts {
		opt(&o)
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, cherrors.NewLifecycleError("class factory", "build")
	}
	r := newRetriever(f, units, o)
	f.retrievers[r] = struct{}{}
	f.mu.Unlock()

	if err := r.acquireLoader(); err != nil {
		f.forget(r)
		return nil, err
	}
	if o.eager {
		r.task.start(ctx, r.compile)
	}
	debug.LogBuild("retriever for %d units on %s", len(units), r.loader.Name())
	return r, nil
}

// LoadOrBuildAndDefine returns the named classes, compiling units only when
// some of them cannot be loaded already
func (f *Factory) LoadOrBuildAndDefine(ctx context.Context, names []string, units []SourceUnit, opts ...BuildOption) (map[string]*loader.Class, error) {
	o := buildOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	target := o.target
	if target == nil {
		l, err := f.loaders.DefaultFactoryLoader(nil)
		if err != nil {
			return nil, err
		}
		target = l
	}

	out := make(map[string]*loader.Class, len(names))
	var missing []string
	for _, n := range names {
		c, err := target.LoadClass(n)
		switch {
		case err == nil:
			out[n] = c
		case cherrors.IsNotFound(err):
			missing = append(missing, n)
		default:
			return nil, err
		}
	}
	if len(missing) == 0 {
		return out, nil
	}

	r, err := f.BuildAndLoad(ctx, units, opts...)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	for _, n := range missing {
		c, err := r.Get(ctx, n)
		if err != nil {
			return nil, err
		}
		out[n] = c
	}
	return out, nil
}

// OpenRetrievers returns the number of retrievers not closed yet
func (f *Factory) OpenRetrievers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.retrievers)
}

func (f *Factory) forget(r *Retriever) {
	f.mu.Lock()
	delete(f.retrievers, r)
	f.mu.Unlock()
}

// persist writes compiled classes below the bucket directory and returns it
func (f *Factory) persist(bucket string, byteCodes map[string][]byte) (string, error) {
	dir := f.BucketDir(bucket)
	names := make([]string, 0, len(byteCodes))
	for n := range byteCodes {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		path, err := f.validator.OutputPath(dir, n, byteCodes[n])
		if err != nil {
			return "", fmt.Errorf("refusing to persist %s: %w", n, err)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
		}
		if err := os.WriteFile(path, byteCodes[n], 0o644); err != nil {
			return "", fmt.Errorf("failed to persist %s: %w", n, err)
		}
	}
	debug.LogBuild("persisted %d classes to %s", len(names), dir)
	return dir, nil
}

func (f *Factory) closeOwned() {
	if f.ownHelper != nil {
		f.ownHelper.Close()
		f.ownHelper = nil
	}
	if f.ownHunter && f.byteCodes != nil {
		f.byteCodes.Close()
		f.byteCodes = nil
	}
}

// Close closes every open retriever, the hunters the factory created and
// removes the persisted output
func (f *Factory) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	open := make([]*Retriever, 0, len(f.retrievers))
	for r := range f.retrievers {
		open = append(open, r)
	}
	f.mu.Unlock()

	for _, r := range open {
		r.Close()
	}
	f.closeOwned()
	if err := os.RemoveAll(f.persistDir); err != nil {
		debug.LogBuild("could not remove %s: %v", f.persistDir, err)
	}
}
