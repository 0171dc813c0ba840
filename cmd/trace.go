package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jaredpalmer/pytrace/internal/config"
	"github.com/jaredpalmer/pytrace/internal/output"
	"github.com/jaredpalmer/pytrace/pkg/trace"
	"github.com/jaredpalmer/pytrace/pkg/types"
)

// Exit code for argument and configuration errors, distinct from the
// generic failure code used for fatal I/O errors mid-trace.
const exitUsage = 2

var (
	basePath            string
	searchRoots         []string
	pythonCmd           string
	ignorePatterns      []string
	useGitignore        bool
	maxDepth            int
	includeStdlib       bool
	includeSitePackages bool
	analyzeDynamic      bool
	followSymlinks      bool
	concurrency         int64
	jsonOutput          bool
	reasonsOutput       bool
	configPath          string
)

var traceCmd = &cobra.Command{
	Use:   "trace <entry.py>...",
	Short: "Trace the import graph of one or more entry files",
	Long: `Trace the import graph of one or more Python entry files and print the
set of files required to run them.

The exit code is zero when tracing completes, even with unresolved imports
or warnings. Warnings go to stderr.`,
	Args: func(cmd *cobra.Command, args []string) error {
		if err := cobra.MinimumNArgs(1)(cmd, args); err != nil {
			return &types.ExitError{Code: exitUsage, Message: err.Error()}
		}
		return nil
	},
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		base := basePath
		if base == "" {
			var err error
			base, err = os.Getwd()
			if err != nil {
				return fmt.Errorf("determine working directory: %s", err)
			}
		}
		base, err := filepath.Abs(base)
		if err != nil {
			return &types.ExitError{Code: exitUsage, Message: fmt.Sprintf("cannot resolve base path: %s", err)}
		}

		opts := trace.DefaultOptions()
		opts.Base = base

		// Project config (.pytracerc.yml) layers over defaults; flags the
		// user passed explicitly layer over the config.
		projectCfg, err := config.LoadProjectConfig(base, configPath)
		if err != nil {
			return &types.ExitError{Code: exitUsage, Message: err.Error()}
		}
		projectCfg.ApplyToOptions(&opts)
		applyFlags(cmd, &opts)

		progress := output.NewProgress(os.Stderr, base)
		opts.OnProgress = progress.FileDone
		progress.Start()

		result, err := trace.Trace(cmd.Context(), args, opts)
		progress.Stop()
		if err != nil {
			return err
		}

		output.RenderWarnings(os.Stderr, result.Warnings)
		if verbose {
			fmt.Fprintf(os.Stderr, "traced %d files, %d unresolved, %d warnings\n",
				len(result.Files), len(result.Unresolved), len(result.Warnings))
		}

		switch {
		case jsonOutput:
			report := output.BuildJSONReport(result, base)
			if err := output.RenderJSON(cmd.OutOrStdout(), report); err != nil {
				return fmt.Errorf("render JSON: %w", err)
			}
		case reasonsOutput:
			output.RenderReasons(cmd.OutOrStdout(), result, base)
		default:
			output.RenderFileList(cmd.OutOrStdout(), result, base)
		}

		return nil
	},
}

// applyFlags copies explicitly-set CLI flags onto the options so they win
// over project-config values.
func applyFlags(cmd *cobra.Command, opts *trace.Options) {
	flags := cmd.Flags()

	opts.Ignore = append(opts.Ignore, ignorePatterns...)
	opts.ExtraSearchRoots = append(opts.ExtraSearchRoots, searchRoots...)

	if flags.Changed("python") {
		opts.RuntimeLocator = pythonCmd
	}
	if flags.Changed("gitignore") {
		opts.UseGitignore = useGitignore
	}
	if flags.Changed("max-depth") {
		opts.MaxDepth = maxDepth
	}
	if flags.Changed("include-stdlib") {
		opts.IncludeStdlib = includeStdlib
	}
	if flags.Changed("include-site-packages") {
		opts.IncludeSitePackages = includeSitePackages
	}
	if flags.Changed("dynamic") {
		opts.AnalyzeDynamic = analyzeDynamic
	}
	if flags.Changed("follow-symlinks") {
		opts.FollowSymlinks = followSymlinks
	}
	if flags.Changed("concurrency") {
		opts.FileIOConcurrency = concurrency
	}
}

func init() {
	traceCmd.Flags().StringVar(&basePath, "base", "", "base directory for relative paths and ignore matching (default: cwd)")
	traceCmd.Flags().StringArrayVar(&searchRoots, "search-root", nil, "extra absolute-import search root (repeatable)")
	traceCmd.Flags().StringVar(&pythonCmd, "python", "python3", "python command used to probe the runtime")
	traceCmd.Flags().StringArrayVar(&ignorePatterns, "ignore", nil, "glob pattern for files whose imports are not traversed (repeatable)")
	traceCmd.Flags().BoolVar(&useGitignore, "gitignore", false, "also honor the base directory's .gitignore")
	traceCmd.Flags().IntVar(&maxDepth, "max-depth", trace.DefaultMaxDepth, "maximum import depth")
	traceCmd.Flags().BoolVar(&includeStdlib, "include-stdlib", false, "trace standard-library modules")
	traceCmd.Flags().BoolVar(&includeSitePackages, "include-site-packages", true, "keep site-packages on the search path")
	traceCmd.Flags().BoolVar(&analyzeDynamic, "dynamic", true, "trace __import__/importlib/runpy calls with literal arguments")
	traceCmd.Flags().BoolVar(&followSymlinks, "follow-symlinks", true, "dereference symlinks during traversal")
	traceCmd.Flags().Int64Var(&concurrency, "concurrency", trace.DefaultFileIOConcurrency, "upper bound on parallel file I/O")
	traceCmd.Flags().BoolVar(&jsonOutput, "json", false, "output the result as JSON")
	traceCmd.Flags().BoolVar(&reasonsOutput, "reasons", false, "show why each file was included")
	traceCmd.Flags().StringVar(&configPath, "config", "", "path to .pytracerc.yml project config file")
	traceCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &types.ExitError{Code: exitUsage, Message: err.Error()}
	})
	rootCmd.AddCommand(traceCmd)
}
