package build

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/standardbeagle/classhunter/internal/debug"
	cherrors "github.com/standardbeagle/classhunter/internal/errors"
	"github.com/standardbeagle/classhunter/internal/loader"
	"github.com/standardbeagle/classhunter/internal/scan"
)

// BuildOption configures one BuildAndLoad call
type BuildOption func(*buildOptions)

type buildOptions struct {
	target     *loader.Loader
	repos      []string
	compiler   Compiler
	helper     ClassPathHelper
	bucket     string
	eager      bool
	noPersist  bool
	persistSet bool
}

// WithTargetLoader loads into l instead of the default factory loader
func WithTargetLoader(l *loader.Loader) BuildOption {
	return func(o *buildOptions) { o.target = l }
}

// WithExtraRepositories adds locations searched for classes the target
// loader cannot find
func WithExtraRepositories(paths ...string) BuildOption {
	return func(o *buildOptions) { o.repos = append(o.repos, paths...) }
}

// WithOneShotCompiler compiles with c instead of the factory's compiler.
// The retriever owns c and closes it, if it can be closed, on Close.
func WithOneShotCompiler(c Compiler) BuildOption {
	return func(o *buildOptions) { o.compiler = c }
}

// WithOneShotClassPathHelper searches class paths with h instead of the
// factory's helper. The retriever owns h and closes it on Close.
func WithOneShotClassPathHelper(h ClassPathHelper) BuildOption {
	return func(o *buildOptions) { o.helper = h }
}

// WithBucket persists compiled classes in bucket
func WithBucket(bucket string) BuildOption {
	return func(o *buildOptions) { o.bucket = bucket }
}

// WithPersistence overrides the configured persistence of compiled classes
func WithPersistence(enabled bool) BuildOption {
	return func(o *buildOptions) { o.noPersist, o.persistSet = !enabled, true }
}

// CompileEagerly starts compiling in the background right away
func CompileEagerly() BuildOption {
	return func(o *buildOptions) { o.eager = true }
}

// compileTask runs one compilation in the background. It cannot be
// cancelled; waiting joins it.
type compileTask struct {
	once    sync.Once
	started chan struct{}
	done    chan struct{}
	res     *CompileResult
	err     error
}

func newCompileTask() *compileTask {
	return &compileTask{started: make(chan struct{}), done: make(chan struct{})}
}

func (t *compileTask) start(ctx context.Context, fn func(context.Context) (*CompileResult, error)) {
	t.once.Do(func() {
		close(t.started)
		ctx = context.WithoutCancel(ctx)
		go func() {
			defer close(t.done)
			t.res, t.err = fn(ctx)
		}()
	})
}

func (t *compileTask) wait() (*CompileResult, error) {
	<-t.done
	return t.res, t.err
}

func (t *compileTask) isStarted() bool {
	select {
	case <-t.started:
		return true
	default:
		return false
	}
}

// Retriever loads the classes of one build request. It is not reusable
// after Close.
type Retriever struct {
	factory *Factory
	units   []SourceUnit
	opts    buildOptions

	compiler    Compiler
	helper      ClassPathHelper
	ownCompiler bool
	ownHelper   bool
	persist     bool

	loader *loader.Loader
	repos  []string
	task   *compileTask

	mu            sync.Mutex
	searchedRepos map[string]struct{}
	searchedDeps  map[string]struct{}
	closed        bool
}

func newRetriever(f *Factory, units []SourceUnit, o buildOptions) *Retriever {
	r := &Retriever{
		factory:       f,
		units:         append([]SourceUnit(nil), units...),
		opts:          o,
		compiler:      f.compiler,
		helper:        f.helper,
		persist:       f.cfg.Build.PersistCompiled,
		task:          newCompileTask(),
		searchedRepos: make(map[string]struct{}),
		searchedDeps:  make(map[string]struct{}),
	}
	if o.compiler != nil {
		r.compiler, r.ownCompiler = o.compiler, true
	}
	if o.helper != nil {
		r.helper, r.ownHelper = o.helper, true
	}
	if o.persistSet {
		r.persist = !o.noPersist
	}
	seen := make(map[string]bool)
	for _, p := range append(append([]string(nil), o.repos...), f.cfg.Build.ExtraRepositories...) {
		if !seen[p] {
			seen[p] = true
			r.repos = append(r.repos, p)
		}
	}
	return r
}

func (r *Retriever) acquireLoader() error {
	if r.opts.target != nil {
		r.loader = r.opts.target
		return r.loader.Register(r)
	}
	l, err := r.factory.loaders.DefaultFactoryLoader(r)
	if err != nil {
		return err
	}
	r.loader = l
	return nil
}

// Loader returns the target loader
func (r *Retriever) Loader() *loader.Loader { return r.loader }

// Compiled waits for the compilation, starting it if needed
func (r *Retriever) Compiled(ctx context.Context) (*CompileResult, error) {
	r.task.start(ctx, r.compile)
	return r.task.wait()
}

func (r *Retriever) compile(ctx context.Context) (*CompileResult, error) {
	if len(r.units) == 0 {
		return &CompileResult{}, nil
	}
	req := CompileRequest{
		Sources:      make(map[string]string, len(r.units)),
		ClassPath:    r.loader.ClassPaths(),
		Repositories: append([]string(nil), r.repos...),
	}
	for _, u := range r.units {
		req.Sources[u.Name()] = u.Render()
	}
	debug.LogBuild("compiling %d units", len(req.Sources))
	res, err := r.compiler.Compile(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("compilation failed: %w", err)
	}
	if res == nil {
		res = &CompileResult{}
	}
	if r.persist && res.OutputDir == "" && len(res.ByteCodes) > 0 {
		dir, err := r.factory.persist(r.opts.bucket, res.ByteCodes)
		if err != nil {
			return nil, err
		}
		res.OutputDir = dir
	}
	return res, nil
}

// Get returns the class name, trying in order: the target loader; the
// persisted compiler output added to the loader's class path; the compiled
// byte code defined directly; the class path roots of the extra
// repositories that contain the missing classes; the same for the
// compiler's dependency paths; and finally every class file found in both.
// The last failure reports the deepest class that could not be found.
func (r *Retriever) Get(ctx context.Context, name string) (*loader.Class, error) {
	if r.isClosed() {
		return nil, cherrors.NewLifecycleError("class retriever", "get "+name)
	}

	for {
		c, err := r.load(ctx, name)
		if err == nil || !cherrors.IsNotFound(err) {
			return c, err
		}

		missing := cherrors.NotFoundClassNames(err)
		if len(missing) == 0 {
			missing = []string{name}
		}
		added, aerr := r.augment(ctx, r.repos, r.searchedRepos, missing)
		if aerr != nil {
			return nil, aerr
		}
		if len(added) > 0 {
			continue
		}

		res, cerr := r.Compiled(ctx)
		if cerr != nil {
			return nil, cerr
		}
		added, aerr = r.augment(ctx, res.DependencyPaths, r.searchedDeps, missing)
		if aerr != nil {
			return nil, aerr
		}
		if len(added) > 0 {
			continue
		}

		return r.defineFromScan(ctx, name, res, err)
	}
}

// load runs the first three stages
func (r *Retriever) load(ctx context.Context, name string) (*loader.Class, error) {
	c, err := r.loader.LoadClass(name)
	if err == nil || !cherrors.IsNotFound(err) {
		return c, err
	}

	res, cerr := r.Compiled(ctx)
	if cerr != nil {
		return nil, cerr
	}
	if r.persist && res.OutputDir != "" && !r.loader.HasClassPath(res.OutputDir) {
		if _, aerr := r.loader.AddClassPaths(res.OutputDir); aerr != nil {
			return nil, aerr
		}
		debug.LogBuild("added compiler output %s to %s", res.OutputDir, r.loader.Name())
		if c, err = r.loader.LoadClass(name); err == nil || !cherrors.IsNotFound(err) {
			return c, err
		}
	}

	if _, ok := res.ByteCodes[name]; ok {
		if _, aerr := r.loader.AddByteCodes(res.ByteCodes); aerr != nil {
			return nil, aerr
		}
		c, err = r.loader.LoadClass(name)
	}
	return c, err
}

// augment asks the class path helper for the roots containing the missing
// names that were not searched yet in paths
func (r *Retriever) augment(ctx context.Context, paths []string, searched map[string]struct{}, missing []string) ([]string, error) {
	if len(paths) == 0 || r.helper == nil {
		return nil, nil
	}
	r.mu.Lock()
	var fresh []string
	for _, n := range missing {
		if _, ok := searched[n]; !ok {
			searched[n] = struct{}{}
			fresh = append(fresh, n)
		}
	}
	r.mu.Unlock()
	if len(fresh) == 0 {
		return nil, nil
	}
	added, err := r.helper.FindAndAppend(ctx, r.loader, paths, fresh...)
	if err != nil {
		return nil, err
	}
	debug.LogBuild("searching %v for %v added %v", paths, fresh, added)
	return added, nil
}

// defineFromScan is the last stage: every class file below the extra
// repositories and dependency paths, merged with the compiled byte code, is
// handed to the loader
func (r *Retriever) defineFromScan(ctx context.Context, name string, res *CompileResult, cause error) (*loader.Class, error) {
	paths := append(append([]string(nil), r.repos...), res.DependencyPaths...)
	byteCodes := make(map[string][]byte)
	if len(paths) > 0 && r.factory.byteCodes != nil {
		found, err := r.factory.byteCodes.Find(ctx, scan.NewSearchConfig(paths...))
		if err != nil {
			return nil, err
		}
		for n, data := range found.ByteCodes() {
			byteCodes[n] = data
		}
		found.Close()
	}
	for n, data := range res.ByteCodes {
		byteCodes[n] = data
	}
	if len(byteCodes) > 0 {
		if _, err := r.loader.AddByteCodes(byteCodes); err != nil {
			return nil, err
		}
	}

	c, err := r.loader.LoadClass(name)
	if err == nil {
		return c, nil
	}
	if !cherrors.IsNotFound(err) {
		return nil, err
	}
	if deepest := cherrors.DeepestNotFound(err); deepest != nil {
		return nil, deepest
	}
	if deepest := cherrors.DeepestNotFound(cause); deepest != nil {
		return nil, deepest
	}
	return nil, err
}

// GetAll returns every class declared by the retriever's units
func (r *Retriever) GetAll(ctx context.Context) (map[string]*loader.Class, error) {
	var names []string
	for _, u := range r.units {
		names = append(names, u.DeclaredClasses()...)
	}
	sort.Strings(names)
	out := make(map[string]*loader.Class, len(names))
	for _, n := range names {
		c, err := r.Get(ctx, n)
		if err != nil {
			return out, err
		}
		out[n] = c
	}
	return out, nil
}

// SearchedNames returns the class names already looked up in the extra
// repositories and in the dependency paths
func (r *Retriever) SearchedNames() (repos, deps []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for n := range r.searchedRepos {
		repos = append(repos, n)
	}
	for n := range r.searchedDeps {
		deps = append(deps, n)
	}
	sort.Strings(repos)
	sort.Strings(deps)
	return repos, deps
}

func (r *Retriever) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Close unregisters the retriever from its factory and its loader, waits
// for a running compilation and closes the compiler and helper it owns.
// Shared collaborators are left open.
func (r *Retriever) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()

	r.factory.forget(r)
	if r.task.isStarted() {
		if _, err := r.task.wait(); err != nil {
			debug.LogBuild("compilation ended with %v", err)
		}
	}
	if r.loader != nil {
		r.loader.Unregister(r, false)
	}
	if r.ownCompiler {
		closeIfPossible(r.compiler)
	}
	if r.ownHelper {
		closeIfPossible(r.helper)
	}
}
