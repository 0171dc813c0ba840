package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jaredpalmer/pytrace/internal/pyexec"
	"github.com/jaredpalmer/pytrace/pkg/types"
)

// SubprocessBackend extracts imports by handing the source to the target
// runtime's own parser through the embedded helper. Keeping the parser
// behind a process boundary isolates parser crashes; a crash or timeout
// surfaces as an error and the caller degrades to the regex fallback.
type SubprocessBackend struct {
	locator string
	timeout time.Duration
	run     pyexec.RunFunc
}

// NewSubprocessBackend creates a backend invoking the given runtime
// locator. A zero timeout means pyexec.DefaultTimeout.
func NewSubprocessBackend(locator string, timeout time.Duration) *SubprocessBackend {
	if timeout <= 0 {
		timeout = pyexec.DefaultTimeout
	}
	return &SubprocessBackend{locator: locator, timeout: timeout, run: pyexec.Run}
}

// Name identifies the backend in warnings.
func (b *SubprocessBackend) Name() string { return "python-ast" }

// parseListing mirrors the helper's "parse" JSON document.
type parseListing struct {
	Imports []struct {
		Module string `json:"module"`
		Alias  string `json:"alias"`
		Line   int    `json:"line"`
	} `json:"imports"`
	FromImports []struct {
		Module string `json:"module"`
		Level  int    `json:"level"`
		Names  []struct {
			Name  string `json:"name"`
			Alias string `json:"alias"`
		} `json:"names"`
		Line int `json:"line"`
	} `json:"from_imports"`
	DynamicImports []struct {
		Kind       string `json:"kind"`
		Module     string `json:"module"`
		Package    string `json:"package"`
		Level      int    `json:"level"`
		Path       string `json:"path"`
		Expression string `json:"expression"`
		Line       int    `json:"line"`
	} `json:"dynamic_imports"`
	Errors []string `json:"errors"`
}

// Extract runs the helper's parse subcommand under the backend timeout and
// converts the listing into import records. Helper-reported syntax errors
// become warnings, not failures.
func (b *SubprocessBackend) Extract(ctx context.Context, content []byte) ([]types.ImportRecord, []string, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	out, err := b.run(ctx, b.locator, "parse", content)
	if err != nil {
		return nil, nil, err
	}

	var listing parseListing
	if err := json.Unmarshal(out, &listing); err != nil {
		return nil, nil, fmt.Errorf("parse listing: %w", err)
	}

	var records []types.ImportRecord
	for _, imp := range listing.Imports {
		records = append(records, types.ImportRecord{
			Kind:   types.ImportPlain,
			Module: imp.Module,
			Alias:  imp.Alias,
			Line:   imp.Line,
		})
	}
	for _, imp := range listing.FromImports {
		rec := types.ImportRecord{
			Kind:   types.ImportFrom,
			Module: imp.Module,
			Level:  imp.Level,
			Line:   imp.Line,
		}
		for _, n := range imp.Names {
			rec.Names = append(rec.Names, types.ImportedName{Name: n.Name, Alias: n.Alias})
		}
		records = append(records, rec)
	}
	for _, dyn := range listing.DynamicImports {
		records = append(records, types.ImportRecord{
			Kind:       types.ImportDynamic,
			Dynamic:    types.DynamicKind(dyn.Kind),
			Module:     dyn.Module,
			Package:    dyn.Package,
			Level:      dyn.Level,
			Path:       dyn.Path,
			Expression: dyn.Expression,
			Line:       dyn.Line,
		})
	}

	return records, listing.Errors, nil
}
