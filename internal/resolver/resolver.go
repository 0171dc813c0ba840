// Package resolver maps Python module names to on-disk artifacts: plain
// module files, regular packages (directory + initializer), or namespace
// packages (initializer-less directories with at least one member).
package resolver

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/jaredpalmer/pytrace/pkg/types"
)

const initFile = "__init__.py"

// StatFunc stats a path. Overridable for virtual filesystems and tests.
type StatFunc func(string) (fs.FileInfo, error)

// ReadDirFunc lists a directory. Used only for the namespace-package
// membership check.
type ReadDirFunc func(string) ([]fs.DirEntry, error)

// Config carries everything the search-root construction needs.
type Config struct {
	Env                 *types.RuntimeEnv
	Base                string
	ExtraRoots          []string
	IncludeStdlib       bool
	IncludeSitePackages bool
	FollowSymlinks      bool
	Stat                StatFunc
	ReadDir             ReadDirFunc
}

// Memo caches resolutions keyed on (module, level, importing directory).
// Keying on the directory rather than the file shares hits across
// co-located sources. Safe for concurrent use; reusable across traces.
type Memo struct {
	mu sync.Mutex
	m  map[memoKey]types.Resolution
}

type memoKey struct {
	module string
	level  int
	dir    string
}

// NewMemo creates an empty resolution cache.
func NewMemo() *Memo {
	return &Memo{m: make(map[memoKey]types.Resolution)}
}

func (m *Memo) get(k memoKey) (types.Resolution, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, ok := m.m[k]
	return res, ok
}

func (m *Memo) put(k memoKey, res types.Resolution) {
	m.mu.Lock()
	m.m[k] = res
	m.mu.Unlock()
}

// Resolver resolves module names against a fixed environment snapshot.
type Resolver struct {
	cfg  Config
	memo *Memo
}

// New creates a resolver. A nil memo gets a private one; passing a shared
// memo lets callers reuse resolutions across traces.
func New(cfg Config, memo *Memo) *Resolver {
	if cfg.Stat == nil {
		if cfg.FollowSymlinks {
			cfg.Stat = os.Stat
		} else {
			cfg.Stat = func(p string) (fs.FileInfo, error) { return os.Lstat(p) }
		}
	}
	if cfg.ReadDir == nil {
		cfg.ReadDir = os.ReadDir
	}
	if memo == nil {
		memo = NewMemo()
	}
	return &Resolver{cfg: cfg, memo: memo}
}

// Resolve maps (module, level, importing file) to a resolution. Relative
// names (level >= 1) anchor at the importing file's directory climbed
// level-1 times and use that as the sole root; absolute names walk the
// configured search roots in order, first success wins. The returned
// warnings flag ambiguous inputs; they are not memoized failures.
func (r *Resolver) Resolve(module string, level int, importingFile string) (types.Resolution, []string) {
	dir := ""
	if importingFile != "" {
		dir = filepath.Dir(importingFile)
	}

	key := memoKey{module: module, level: level, dir: dir}
	if res, ok := r.memo.get(key); ok {
		return res, nil
	}

	var res types.Resolution
	var warnings []string
	if level >= 1 {
		res, warnings = r.resolveRelative(module, level, dir)
	} else {
		res = r.resolveAbsolute(module, dir)
	}

	r.memo.put(key, res)
	return res, warnings
}

// ResolveSubmodule probes name as a child module of a resolved package
// base. Only regular and namespace packages have children; anything else
// is unresolved (the name was an ordinary attribute).
func (r *Resolver) ResolveSubmodule(base types.Resolution, name string) types.Resolution {
	var dir string
	switch base.Kind {
	case types.ResolvedPackage, types.ResolvedNamespace:
		dir = base.Dir
	default:
		return types.Resolution{Kind: types.ResolutionUnresolved}
	}
	return r.resolveFinal(dir, name)
}

func (r *Resolver) resolveRelative(module string, level int, importingDir string) (types.Resolution, []string) {
	if importingDir == "" {
		return types.Resolution{Kind: types.ResolutionUnresolved}, nil
	}

	var warnings []string
	if !r.isFile(filepath.Join(importingDir, initFile)) {
		warnings = append(warnings, "relative import from non-package directory "+importingDir)
	}

	root := importingDir
	for i := 1; i < level; i++ {
		root = filepath.Dir(root)
	}

	if module == "" {
		return r.resolveDirAsPackage(root), warnings
	}
	return r.walk(strings.Split(module, "."), root), warnings
}

func (r *Resolver) resolveAbsolute(module string, importingDir string) types.Resolution {
	if module == "" {
		return types.Resolution{Kind: types.ResolutionUnresolved}
	}

	parts := strings.Split(module, ".")
	if !r.cfg.IncludeStdlib && r.cfg.Env.IsStdlib(parts[0]) {
		return types.Resolution{Kind: types.ResolutionSuppressed}
	}

	for _, root := range r.searchRoots(importingDir) {
		if res := r.walk(parts, root); res.Resolved() {
			return res
		}
	}
	return types.Resolution{Kind: types.ResolutionUnresolved}
}

// searchRoots builds the ordered root list for absolute imports: the
// importing file's directory, the trace base, extra roots, site roots,
// then the stdlib root when stdlib inclusion is enabled.
func (r *Resolver) searchRoots(importingDir string) []string {
	var roots []string
	if importingDir != "" {
		roots = append(roots, importingDir)
	}
	if r.cfg.Base != "" {
		roots = append(roots, r.cfg.Base)
	}
	roots = append(roots, r.cfg.ExtraRoots...)
	if r.cfg.IncludeSitePackages && r.cfg.Env != nil {
		roots = append(roots, r.cfg.Env.SiteRoots...)
	}
	if r.cfg.IncludeStdlib && r.cfg.Env != nil && r.cfg.Env.StdlibRoot != "" {
		roots = append(roots, r.cfg.Env.StdlibRoot)
	}
	return roots
}

// walk consumes dotted components under root: every non-final component
// must be a child directory; the final component resolves as a module
// file, regular package, or namespace package, in that order.
func (r *Resolver) walk(parts []string, root string) types.Resolution {
	dir := root
	for _, part := range parts[:len(parts)-1] {
		dir = filepath.Join(dir, part)
		if !r.isDir(dir) {
			return types.Resolution{Kind: types.ResolutionUnresolved}
		}
	}
	return r.resolveFinal(dir, parts[len(parts)-1])
}

// resolveFinal applies the final-component preference order inside dir.
func (r *Resolver) resolveFinal(dir, name string) types.Resolution {
	if file := filepath.Join(dir, name+".py"); r.isFile(file) {
		return types.Resolution{Kind: types.ResolvedFile, Path: file}
	}

	sub := filepath.Join(dir, name)
	if !r.isDir(sub) {
		return types.Resolution{Kind: types.ResolutionUnresolved}
	}
	return r.resolveDirAsPackage(sub)
}

// resolveDirAsPackage classifies an existing directory: regular package
// when it has an initializer, namespace package when it has at least one
// Python file or subdirectory, otherwise unresolved.
func (r *Resolver) resolveDirAsPackage(dir string) types.Resolution {
	if !r.isDir(dir) {
		return types.Resolution{Kind: types.ResolutionUnresolved}
	}
	if init := filepath.Join(dir, initFile); r.isFile(init) {
		return types.Resolution{Kind: types.ResolvedPackage, InitPath: init, Dir: dir}
	}
	if r.hasPythonMember(dir) {
		return types.Resolution{Kind: types.ResolvedNamespace, Dir: dir}
	}
	return types.Resolution{Kind: types.ResolutionUnresolved}
}

func (r *Resolver) hasPythonMember(dir string) bool {
	entries, err := r.cfg.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), ".py") {
			return true
		}
	}
	return false
}

func (r *Resolver) isFile(path string) bool {
	info, err := r.cfg.Stat(path)
	return err == nil && !info.IsDir()
}

func (r *Resolver) isDir(path string) bool {
	info, err := r.cfg.Stat(path)
	return err == nil && info.IsDir()
}
