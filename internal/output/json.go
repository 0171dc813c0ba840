// Package output renders trace results as a newline-delimited file list,
// a JSON report, or a colorized per-file reasons view. Paths are shown
// relative to the trace base when they fall under it.
package output

import (
	"encoding/json"
	"io"
	"sort"

	"github.com/jaredpalmer/pytrace/pkg/types"
	"github.com/jaredpalmer/pytrace/pkg/version"
)

// JSONReport is the top-level JSON output structure, mirroring the result
// shape.
type JSONReport struct {
	Version    string                `json:"version"`
	Base       string                `json:"base"`
	Files      []string              `json:"files"`
	Reasons    map[string]JSONReason `json:"reasons"`
	Warnings   []string              `json:"warnings"`
	Unresolved map[string][]string   `json:"unresolved"`
}

// JSONReason is one file's inclusion reason in JSON output.
type JSONReason struct {
	Kind        string   `json:"kind"`
	Parents     []string `json:"parents,omitempty"`
	Module      string   `json:"module,omitempty"`
	Ignored     bool     `json:"ignored,omitempty"`
	PackageInit bool     `json:"package_init,omitempty"`
}

// BuildJSONReport converts a trace result into the JSON report, rewriting
// paths relative to base.
func BuildJSONReport(result *types.Result, base string) *JSONReport {
	report := &JSONReport{
		Version:    version.Version,
		Base:       base,
		Files:      make([]string, 0, len(result.Files)),
		Reasons:    make(map[string]JSONReason, len(result.Reasons)),
		Warnings:   result.Warnings,
		Unresolved: make(map[string][]string, len(result.Unresolved)),
	}
	if report.Warnings == nil {
		report.Warnings = []string{}
	}

	for _, f := range result.Files {
		report.Files = append(report.Files, DisplayPath(base, f))
	}
	sort.Strings(report.Files)

	for path, reason := range result.Reasons {
		jr := JSONReason{
			Kind:        string(reason.Kind),
			Module:      reason.Module,
			Ignored:     reason.Ignored,
			PackageInit: reason.PackageInit,
		}
		for _, p := range reason.SortedParents() {
			jr.Parents = append(jr.Parents, DisplayPath(base, p))
		}
		report.Reasons[DisplayPath(base, path)] = jr
	}

	for module, importers := range result.Unresolved {
		rel := make([]string, 0, len(importers))
		for _, imp := range importers {
			rel = append(rel, DisplayPath(base, imp))
		}
		report.Unresolved[module] = rel
	}

	return report
}

// RenderJSON writes the report to w with pretty-printed indentation.
func RenderJSON(w io.Writer, report *JSONReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
