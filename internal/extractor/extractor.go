// Package extractor turns Python source text into structured import
// records. Two structural backends exist: an in-process tree-sitter
// parser and a subprocess driving the target runtime's own parser. Both
// degrade per-file to a best-effort regex scanner on failure.
package extractor

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jaredpalmer/pytrace/pkg/types"
)

// Backend is one extraction strategy. Extract returns the records in file
// order plus non-fatal warnings; an error means the backend produced
// nothing usable for this file.
type Backend interface {
	Name() string
	Extract(ctx context.Context, content []byte) ([]types.ImportRecord, []string, error)
}

// Extractor coordinates a structural backend with the regex fallback.
type Extractor struct {
	structural Backend
	fallback   Backend
}

// New builds an extractor around the best structural backend available:
// tree-sitter when the grammar initializes, otherwise the runtime
// subprocess when a locator is given, otherwise regex only. Mirrors the
// degraded-startup stance used for optional parsers elsewhere: never fail
// construction over a missing parser.
func New(runtimeLocator string, subprocessTimeout time.Duration) *Extractor {
	e := &Extractor{fallback: NewRegexBackend()}

	if ts, err := NewTreeSitterBackend(); err == nil {
		e.structural = ts
		return e
	}
	if runtimeLocator != "" {
		e.structural = NewSubprocessBackend(runtimeLocator, subprocessTimeout)
	}
	return e
}

// NewWithBackend builds an extractor around an explicit structural
// backend. A nil backend means regex only.
func NewWithBackend(structural Backend) *Extractor {
	return &Extractor{structural: structural, fallback: NewRegexBackend()}
}

// Close releases backend resources.
func (e *Extractor) Close() {
	if ts, ok := e.structural.(*TreeSitterBackend); ok {
		ts.Close()
	}
}

// StructuralName reports which structural backend is active, or "" when
// only the fallback is.
func (e *Extractor) StructuralName() string {
	if e.structural == nil {
		return ""
	}
	return e.structural.Name()
}

// Extract produces the import records for one file. A structural backend
// failure is recovered: it becomes a warning and the regex fallback's
// best-effort records are returned instead. A file with no recognizable
// imports yields an empty list, not an error.
func (e *Extractor) Extract(ctx context.Context, path string, content []byte) ([]types.ImportRecord, []string) {
	var warnings []string

	if e.structural != nil {
		records, ws, err := e.structural.Extract(ctx, content)
		if err == nil {
			for _, w := range ws {
				warnings = append(warnings, fmt.Sprintf("%s: %s", path, w))
			}
			return sortByLine(records), warnings
		}
		warnings = append(warnings, fmt.Sprintf("%s: %s backend failed (%v), using regex fallback", path, e.structural.Name(), err))
	}

	records, ws, err := e.fallback.Extract(ctx, content)
	if err != nil {
		warnings = append(warnings, fmt.Sprintf("%s: %v", path, err))
		return nil, warnings
	}
	for _, w := range ws {
		warnings = append(warnings, fmt.Sprintf("%s: %s", path, w))
	}
	return sortByLine(records), warnings
}

// sortByLine orders records by file position. Backends emit near-ordered
// lists; the sort makes the contract explicit.
func sortByLine(records []types.ImportRecord) []types.ImportRecord {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Line < records[j].Line
	})
	return records
}
