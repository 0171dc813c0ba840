package trace

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/jaredpalmer/pytrace/internal/pyexec"
	"github.com/jaredpalmer/pytrace/internal/resolver"
	"github.com/jaredpalmer/pytrace/pkg/types"
)

// Default limits applied by DefaultOptions.
const (
	DefaultMaxDepth          = 100
	DefaultFileIOConcurrency = 1024
)

// ProgressFunc is called as files are processed, for live progress UIs.
type ProgressFunc func(path string)

// Options configures a trace. Construct with DefaultOptions and override;
// the zero value leaves the documented boolean defaults off.
type Options struct {
	// Base anchors relative-path reporting, ignore-pattern matching, and
	// is the default absolute-import search root. Defaults to the current
	// working directory.
	Base string

	// ExtraSearchRoots are appended to the absolute-import search path
	// after Base.
	ExtraSearchRoots []string

	// RuntimeLocator is the command used to invoke the target runtime for
	// probing and subprocess parsing. Defaults to "python3".
	RuntimeLocator string

	// FollowSymlinks controls whether traversal dereferences links.
	FollowSymlinks bool

	// Ignore holds glob patterns (doublestar syntax) matched against both
	// absolute and Base-relative paths. A matched file reached through an
	// import is left out of the result; a matched file that is recorded
	// anyway (an entry file) carries Ignored. In both cases its imports are
	// not traversed.
	Ignore []string

	// UseGitignore additionally applies Base's .gitignore as ignore
	// patterns.
	UseGitignore bool

	// MaxDepth guards against pathological graphs.
	MaxDepth int

	// IncludeStdlib makes standard-library module files resolvable and
	// traced. Off by default: stdlib imports are suppressed silently.
	IncludeStdlib bool

	// IncludeSitePackages keeps site-installed roots on the search path.
	IncludeSitePackages bool

	// AnalyzeDynamic enables tracing of recognized runtime-import idioms.
	AnalyzeDynamic bool

	// FileIOConcurrency bounds parallel filesystem and subprocess work.
	FileIOConcurrency int64

	// SubprocessTimeout bounds one structural-parser subprocess call.
	SubprocessTimeout time.Duration

	// Cache is an optional persistent cache container reused across
	// traces. Nil means a fresh per-trace cache.
	Cache *Cache

	// Runtime is an optional pre-probed environment snapshot. When set,
	// the runtime is not invoked at all.
	Runtime *types.RuntimeEnv

	// ReadFile and Stat override platform I/O, enabling virtual
	// filesystems and tests.
	ReadFile func(string) ([]byte, error)
	Stat     func(string) (fs.FileInfo, error)

	// OnProgress, when set, receives each file path as it is processed.
	OnProgress ProgressFunc
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{
		RuntimeLocator:      pyexec.DefaultLocator,
		FollowSymlinks:      true,
		MaxDepth:            DefaultMaxDepth,
		IncludeSitePackages: true,
		AnalyzeDynamic:      true,
		FileIOConcurrency:   DefaultFileIOConcurrency,
	}
}

// normalize fills computed defaults and validates the combination.
// Invalid options are terminating errors, never warnings.
func (o *Options) normalize() error {
	if o.Base == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("determine working directory: %w", err)
		}
		o.Base = cwd
	}
	abs, err := filepath.Abs(o.Base)
	if err != nil {
		return fmt.Errorf("resolve base %s: %w", o.Base, err)
	}
	o.Base = abs

	info, err := os.Stat(o.Base)
	if err != nil {
		return fmt.Errorf("base directory %s: %w", o.Base, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("base %s is not a directory", o.Base)
	}

	if o.RuntimeLocator == "" {
		o.RuntimeLocator = pyexec.DefaultLocator
	}
	if o.MaxDepth <= 0 {
		o.MaxDepth = DefaultMaxDepth
	}
	if o.FileIOConcurrency <= 0 {
		o.FileIOConcurrency = DefaultFileIOConcurrency
	}
	if o.SubprocessTimeout <= 0 {
		o.SubprocessTimeout = pyexec.DefaultTimeout
	}
	if o.ReadFile == nil {
		o.ReadFile = os.ReadFile
	}
	if o.Stat == nil {
		if o.FollowSymlinks {
			o.Stat = os.Stat
		} else {
			o.Stat = func(p string) (fs.FileInfo, error) { return os.Lstat(p) }
		}
	}
	if o.OnProgress == nil {
		o.OnProgress = func(string) {}
	}
	return nil
}

// resolverConfig builds the resolver view of these options.
func (o *Options) resolverConfig(env *types.RuntimeEnv) resolver.Config {
	return resolver.Config{
		Env:                 env,
		Base:                o.Base,
		ExtraRoots:          o.ExtraSearchRoots,
		IncludeStdlib:       o.IncludeStdlib,
		IncludeSitePackages: o.IncludeSitePackages,
		FollowSymlinks:      o.FollowSymlinks,
		Stat:                resolver.StatFunc(o.Stat),
	}
}
