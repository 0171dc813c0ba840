// Package trace drives the static import-graph traversal: it seeds from
// entry files, extracts import declarations, resolves them to on-disk
// artifacts, and produces the closed file set annotated with why each
// file was included.
package trace

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/jaredpalmer/pytrace/internal/extractor"
	"github.com/jaredpalmer/pytrace/internal/pyenv"
	"github.com/jaredpalmer/pytrace/internal/resolver"
	"github.com/jaredpalmer/pytrace/pkg/types"
)

// Trace computes the file set required to run the given entry files.
// Per-file problems (read failures, parse failures, unresolved imports)
// are recovered into the result; only invalid configuration and missing
// entry files terminate. On context cancellation the partial result
// accumulated so far is returned together with the context error; it
// still satisfies the result invariants.
func Trace(ctx context.Context, entryFiles []string, opts Options) (*types.Result, error) {
	if len(entryFiles) == 0 {
		return nil, fmt.Errorf("no entry files given")
	}
	if err := opts.normalize(); err != nil {
		return nil, err
	}

	matcher, err := newIgnoreMatcher(opts.Base, opts.Ignore, opts.UseGitignore)
	if err != nil {
		return nil, err
	}

	cache := opts.Cache
	if cache == nil {
		cache = NewCache()
	}

	res := newResultSet()

	env := opts.Runtime
	if env == nil {
		env = cache.RuntimeEnv()
	}
	if env == nil {
		var probeWarnings []string
		env, probeWarnings = pyenv.Probe(ctx, opts.RuntimeLocator)
		res.warn(probeWarnings...)
		cache.SetRuntimeEnv(env)
	}

	ext := extractor.New(opts.RuntimeLocator, opts.SubprocessTimeout)
	defer ext.Close()

	t := &tracer{
		opts:    opts,
		ext:     ext,
		resolv:  resolver.New(opts.resolverConfig(env), cache.Memo()),
		matcher: matcher,
		cache:   cache,
		res:     res,
		sem:     semaphore.NewWeighted(opts.FileIOConcurrency),
		pending: make(map[string]struct{}),
		traced:  make(map[string]struct{}),
	}
	group, gctx := errgroup.WithContext(ctx)
	t.group = group
	t.ctx = gctx

	// Seed the frontier. A missing entry file is a terminating failure,
	// not a warning.
	for _, entry := range entryFiles {
		abs, err := filepath.Abs(entry)
		if err != nil {
			return nil, fmt.Errorf("resolve entry %s: %w", entry, err)
		}
		info, err := opts.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("entry file not found: %s", entry)
		}
		if info.IsDir() {
			return nil, fmt.Errorf("entry %s is a directory", entry)
		}
		res.record(abs, types.ReasonEntry, "", "", false)
		t.enqueue(abs, 0)
	}

	_ = t.group.Wait()

	if err := ctx.Err(); err != nil {
		return res.freeze(), err
	}
	return res.freeze(), nil
}

// tracer is the in-flight traversal state shared by all file tasks.
type tracer struct {
	opts    Options
	ext     *extractor.Extractor
	resolv  *resolver.Resolver
	matcher *ignoreMatcher
	cache   *Cache
	res     *resultSet

	group *errgroup.Group
	ctx   context.Context
	sem   *semaphore.Weighted

	mu      sync.Mutex
	pending map[string]struct{}
	traced  map[string]struct{}
}

// enqueue spawns a task for a file unless it is already traced or in
// flight. The pending set is the cycle break: a file rediscovered during
// its own descent only accumulates parents and is not re-descended.
func (t *tracer) enqueue(path string, depth int) {
	t.mu.Lock()
	if _, done := t.traced[path]; done {
		t.mu.Unlock()
		return
	}
	if _, inFlight := t.pending[path]; inFlight {
		t.mu.Unlock()
		return
	}
	t.pending[path] = struct{}{}
	t.mu.Unlock()

	t.group.Go(func() error {
		t.process(path, depth)
		return nil
	})
}

// process runs one file through extract-resolve-record.
func (t *tracer) process(path string, depth int) {
	defer func() {
		t.mu.Lock()
		delete(t.pending, path)
		t.traced[path] = struct{}{}
		t.mu.Unlock()
	}()

	if t.ctx.Err() != nil {
		return // draining after cancellation
	}

	if depth > t.opts.MaxDepth {
		t.res.warnf("max depth %d exceeded at %s, not descending", t.opts.MaxDepth, path)
		return
	}

	if t.matcher.Match(path) {
		t.res.setIgnored(path)
		return
	}

	t.opts.OnProgress(path)

	records, ok := t.cache.Imports(path)
	if !ok {
		content, err := t.readFile(path)
		if err != nil {
			t.res.warnf("read %s: %v", path, err)
			return
		}
		var warnings []string
		records, warnings = t.extract(path, content)
		t.res.warn(warnings...)
		t.cache.PutImports(path, records)
	}

	for _, rec := range records {
		t.handleRecord(path, depth, rec)
	}
}

// readFile loads content through the concurrency gate and content cache.
func (t *tracer) readFile(path string) ([]byte, error) {
	if content, ok := t.cache.Content(path); ok {
		return content, nil
	}
	if err := t.sem.Acquire(t.ctx, 1); err != nil {
		return nil, err
	}
	defer t.sem.Release(1)

	content, err := t.opts.ReadFile(path)
	if err != nil {
		return nil, err
	}
	t.cache.PutContent(path, content)
	return content, nil
}

// extract runs the extractor under the concurrency gate (the structural
// backend may spawn a subprocess).
func (t *tracer) extract(path string, content []byte) ([]types.ImportRecord, []string) {
	if err := t.sem.Acquire(t.ctx, 1); err != nil {
		return nil, nil
	}
	defer t.sem.Release(1)
	return t.ext.Extract(t.ctx, path, content)
}

// handleRecord dispatches one import record.
func (t *tracer) handleRecord(importer string, depth int, rec types.ImportRecord) {
	switch rec.Kind {
	case types.ImportPlain:
		t.resolveAndRecord(importer, depth, rec.Module, 0, types.ReasonPlainImport)

	case types.ImportFrom:
		kind := types.ReasonFromImport
		if rec.Relative() {
			kind = types.ReasonRelativeImport
		}
		base := t.resolveAndRecord(importer, depth, rec.Module, rec.Level, kind)
		t.promoteSubmodules(importer, depth, base, rec)

	case types.ImportDynamic:
		if !t.opts.AnalyzeDynamic {
			return
		}
		t.handleDynamic(importer, depth, rec)
	}
}

// promoteSubmodules probes each from-import name as a child module of the
// resolved base. Positive probes are distinct from_import inclusions;
// ordinary attributes yield no inclusion and no warning.
func (t *tracer) promoteSubmodules(importer string, depth int, base types.Resolution, rec types.ImportRecord) {
	if base.Kind != types.ResolvedPackage && base.Kind != types.ResolvedNamespace {
		return
	}
	for _, name := range rec.Names {
		if name.Wildcard() {
			continue
		}
		sub := t.resolv.ResolveSubmodule(base, name.Name)
		if !sub.Resolved() {
			continue // an ordinary attribute, not a submodule
		}
		module := joinModule(rec.Module, name.Name)
		t.recordResolution(importer, depth, sub, module, types.ReasonFromImport)
	}
}

// handleDynamic records recognized runtime-import idioms. Non-literal
// arguments are flagged with a warning quoting the expression; nothing is
// fabricated for them.
func (t *tracer) handleDynamic(importer string, depth int, rec types.ImportRecord) {
	if rec.Expression != "" {
		t.res.warnf("dynamic import with non-literal argument %q at %s:%d", rec.Expression, importer, rec.Line)
		return
	}

	if rec.Dynamic == types.DynamicRunPath {
		if rec.Path == "" {
			return
		}
		t.handleRunPath(importer, depth, rec.Path)
		return
	}

	if rec.Module == "" && rec.Level == 0 {
		return
	}
	t.resolveAndRecord(importer, depth, rec.Module, rec.Level, types.ReasonDynamicImport)
}

// handleRunPath resolves a literal script path against the importing
// file's directory, then Base.
func (t *tracer) handleRunPath(importer string, depth int, path string) {
	candidates := []string{path}
	if !filepath.IsAbs(path) {
		candidates = []string{
			filepath.Join(filepath.Dir(importer), path),
			filepath.Join(t.opts.Base, path),
		}
	}
	for _, candidate := range candidates {
		info, err := t.opts.Stat(candidate)
		if err != nil || info.IsDir() {
			continue
		}
		if t.matcher.Match(candidate) {
			return
		}
		t.res.record(candidate, types.ReasonDynamicImport, importer, "", false)
		t.enqueue(candidate, depth+1)
		return
	}
	t.res.addUnresolved(path, importer)
}

// resolveAndRecord resolves one module name and records the outcome,
// returning the resolution for submodule promotion.
func (t *tracer) resolveAndRecord(importer string, depth int, module string, level int, kind types.ReasonKind) types.Resolution {
	if module == "" && level == 0 {
		return types.Resolution{Kind: types.ResolutionUnresolved}
	}

	res, warnings := t.resolv.Resolve(module, level, importer)
	t.res.warn(warnings...)
	t.recordResolution(importer, depth, res, displayModule(module, level), kind)
	return res
}

// recordResolution translates a resolution into result entries: files and
// package initializers are recorded and descended, namespace directories
// are marked without recursion, unresolved names land in the unresolved
// map (stdlib suppressions land nowhere). Files matching an ignore
// pattern are excluded outright; they only stay in the result when some
// non-ignored path (such as being an entry) already recorded them.
func (t *tracer) recordResolution(importer string, depth int, res types.Resolution, module string, kind types.ReasonKind) {
	switch res.Kind {
	case types.ResolvedFile:
		if t.matcher.Match(res.Path) {
			return
		}
		t.res.record(res.Path, kind, importer, module, false)
		t.enqueue(res.Path, depth+1)

	case types.ResolvedPackage:
		if t.matcher.Match(res.InitPath) {
			return
		}
		t.res.record(res.InitPath, kind, importer, module, true)
		t.enqueue(res.InitPath, depth+1)

	case types.ResolvedNamespace:
		// The directory's existence is marked; its contents are not
		// enumerated and nothing is descended.
		t.res.record(res.Dir, types.ReasonNamespaceMarker, importer, module, false)

	case types.ResolutionSuppressed:
		// Stdlib name with stdlib inclusion off: neither traced nor
		// reported unresolved.

	default:
		t.res.addUnresolved(module, importer)
	}
}

// displayModule renders a module name with its relative-level dots for
// reporting.
func displayModule(module string, level int) string {
	return strings.Repeat(".", level) + module
}

// joinModule joins a base module and a child name, tolerating the empty
// relative base.
func joinModule(base, name string) string {
	if base == "" {
		return name
	}
	return base + "." + name
}
