package output

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fatih/color"

	"github.com/jaredpalmer/pytrace/pkg/types"
)

// DisplayPath renders path relative to base when it falls under it,
// otherwise absolute.
func DisplayPath(base, path string) string {
	rel, err := filepath.Rel(base, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return rel
}

// RenderFileList writes the newline-delimited file list, the default CLI
// output.
func RenderFileList(w io.Writer, result *types.Result, base string) {
	for _, f := range result.Files {
		fmt.Fprintln(w, DisplayPath(base, f))
	}
}

// reasonColors maps each inclusion kind to a display color. Entry files
// stand out bold; unresolved-adjacent kinds lean yellow.
var reasonColors = map[types.ReasonKind]*color.Color{
	types.ReasonEntry:           color.New(color.Bold),
	types.ReasonPlainImport:     color.New(color.FgGreen),
	types.ReasonFromImport:      color.New(color.FgGreen),
	types.ReasonRelativeImport:  color.New(color.FgCyan),
	types.ReasonDynamicImport:   color.New(color.FgMagenta),
	types.ReasonNamespaceMarker: color.New(color.FgYellow),
}

// RenderReasons writes the per-file reasons view: one line per file with
// its kind, module, and parent attribution.
func RenderReasons(w io.Writer, result *types.Result, base string) {
	for _, f := range result.Files {
		reason := result.Reasons[f]
		c, ok := reasonColors[reason.Kind]
		if !ok {
			c = color.New(color.FgWhite)
		}

		kind := string(reason.Kind)
		if reason.PackageInit {
			kind += "+package_init"
		}
		if reason.Ignored {
			kind += " (ignored)"
		}

		fmt.Fprintf(w, "%s  %s", DisplayPath(base, f), c.Sprint(kind))
		if reason.Module != "" {
			fmt.Fprintf(w, "  %s", reason.Module)
		}
		if parents := reason.SortedParents(); len(parents) > 0 {
			shown := make([]string, len(parents))
			for i, p := range parents {
				shown[i] = DisplayPath(base, p)
			}
			fmt.Fprintf(w, "  <- %s", strings.Join(shown, ", "))
		}
		fmt.Fprintln(w)
	}

	RenderUnresolved(w, result, base)
}

// RenderUnresolved lists the modules that could not be resolved, with the
// files that tried to import them.
func RenderUnresolved(w io.Writer, result *types.Result, base string) {
	if len(result.Unresolved) == 0 {
		return
	}

	modules := make([]string, 0, len(result.Unresolved))
	for m := range result.Unresolved {
		modules = append(modules, m)
	}
	sort.Strings(modules)

	red := color.New(color.FgRed)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Unresolved:")
	for _, m := range modules {
		importers := make([]string, 0, len(result.Unresolved[m]))
		for _, imp := range result.Unresolved[m] {
			importers = append(importers, DisplayPath(base, imp))
		}
		fmt.Fprintf(w, "  %s  <- %s\n", red.Sprint(m), strings.Join(importers, ", "))
	}
}

// RenderWarnings writes warnings, typically to stderr.
func RenderWarnings(w io.Writer, warnings []string) {
	yellow := color.New(color.FgYellow)
	for _, warning := range warnings {
		fmt.Fprintf(w, "%s %s\n", yellow.Sprint("warning:"), warning)
	}
}
