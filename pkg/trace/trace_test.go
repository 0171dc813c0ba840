package trace

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/jaredpalmer/pytrace/pkg/types"
)

func writeFile(t *testing.T, dir, rel, content string) string {
	t.Helper()
	path := filepath.Join(dir, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// testOptions avoids probing an installed runtime: a stubbed snapshot with
// a small stdlib set stands in for the environment probe.
func testOptions(base string) Options {
	opts := DefaultOptions()
	opts.Base = base
	opts.Runtime = &types.RuntimeEnv{
		StdlibModules: map[string]struct{}{"os": {}, "sys": {}, "json": {}, "importlib": {}, "runpy": {}},
	}
	opts.FileIOConcurrency = 8
	return opts
}

func runTrace(t *testing.T, entries []string, opts Options) *types.Result {
	t.Helper()
	result, err := Trace(context.Background(), entries, opts)
	if err != nil {
		t.Fatalf("Trace error: %v", err)
	}
	return result
}

func kindOf(t *testing.T, result *types.Result, path string) types.ReasonKind {
	t.Helper()
	reason, ok := result.Reasons[path]
	if !ok {
		t.Fatalf("%s not in result (files: %v)", path, result.Files)
	}
	return reason.Kind
}

func TestSimpleChain(t *testing.T) {
	base := t.TempDir()
	main := writeFile(t, base, "main.py", "import utils\nfrom helpers import h\n")
	utils := writeFile(t, base, "utils.py", "")
	helpers := writeFile(t, base, "helpers.py", "")

	result := runTrace(t, []string{main}, testOptions(base))

	if len(result.Files) != 3 {
		t.Fatalf("files = %v, want 3 entries", result.Files)
	}
	if got := kindOf(t, result, main); got != types.ReasonEntry {
		t.Errorf("main kind = %s, want entry", got)
	}
	if got := kindOf(t, result, utils); got != types.ReasonPlainImport {
		t.Errorf("utils kind = %s, want plain_import", got)
	}
	if got := kindOf(t, result, helpers); got != types.ReasonFromImport {
		t.Errorf("helpers kind = %s, want from_import", got)
	}
	if parents := result.Reasons[utils].SortedParents(); len(parents) != 1 || parents[0] != main {
		t.Errorf("utils parents = %v, want [main]", parents)
	}
	if len(result.Reasons[main].Parents) != 0 {
		t.Errorf("entry parents = %v, want empty", result.Reasons[main].Parents)
	}
}

func TestRegularPackageSubmodulePromotion(t *testing.T) {
	base := t.TempDir()
	main := writeFile(t, base, "main.py", "from mypkg import module_a\n")
	init := writeFile(t, base, "mypkg/__init__.py", "")
	modA := writeFile(t, base, "mypkg/module_a.py", "")
	modB := writeFile(t, base, "mypkg/module_b.py", "")

	result := runTrace(t, []string{main}, testOptions(base))

	if got := kindOf(t, result, init); got != types.ReasonFromImport {
		t.Errorf("init kind = %s, want from_import", got)
	}
	if !result.Reasons[init].PackageInit {
		t.Error("init should carry the package_init flag")
	}
	if got := kindOf(t, result, modA); got != types.ReasonFromImport {
		t.Errorf("module_a kind = %s, want from_import", got)
	}
	if result.Contains(modB) {
		t.Errorf("module_b should not be included; files = %v", result.Files)
	}
}

func TestRelativeImport(t *testing.T) {
	base := t.TempDir()
	init := writeFile(t, base, "pkg/__init__.py", "")
	a := writeFile(t, base, "pkg/a.py", "from . import b\n")
	b := writeFile(t, base, "pkg/b.py", "")

	result := runTrace(t, []string{a}, testOptions(base))

	if got := kindOf(t, result, a); got != types.ReasonEntry {
		t.Errorf("a kind = %s, want entry", got)
	}
	if got := kindOf(t, result, init); got != types.ReasonRelativeImport {
		t.Errorf("init kind = %s, want relative_import", got)
	}
	if got := kindOf(t, result, b); got != types.ReasonFromImport {
		t.Errorf("b kind = %s, want from_import", got)
	}
}

func TestDynamicImport(t *testing.T) {
	base := t.TempDir()
	main := writeFile(t, base, "main.py",
		"import importlib\nimportlib.import_module(\"plugin\")\nimportlib.import_module(name_var)\n")
	plugin := writeFile(t, base, "plugin.py", "")

	result := runTrace(t, []string{main}, testOptions(base))

	if got := kindOf(t, result, plugin); got != types.ReasonDynamicImport {
		t.Errorf("plugin kind = %s, want dynamic_import", got)
	}

	found := false
	for _, w := range result.Warnings {
		if strings.Contains(w, "name_var") {
			found = true
		}
	}
	if !found {
		t.Errorf("warnings = %v, want one referencing name_var", result.Warnings)
	}

	for _, f := range result.Files {
		if strings.Contains(f, "name_var") {
			t.Errorf("fabricated file for non-literal import: %s", f)
		}
	}
}

func TestDynamicAnalysisDisabled(t *testing.T) {
	base := t.TempDir()
	main := writeFile(t, base, "main.py", "import importlib\nimportlib.import_module(\"plugin\")\n")
	plugin := writeFile(t, base, "plugin.py", "")

	opts := testOptions(base)
	opts.AnalyzeDynamic = false
	result := runTrace(t, []string{main}, opts)

	if result.Contains(plugin) {
		t.Errorf("plugin traced despite dynamic analysis off; files = %v", result.Files)
	}

	// The result with dynamic analysis off is a subset of the one with it on.
	full := runTrace(t, []string{main}, testOptions(base))
	for _, f := range result.Files {
		if !full.Contains(f) {
			t.Errorf("%s missing from the dynamic-on result", f)
		}
	}
}

func TestIgnorePattern(t *testing.T) {
	base := t.TempDir()
	main := writeFile(t, base, "main.py", "import utils\nfrom helpers import h\n")
	utils := writeFile(t, base, "utils.py", "")
	helpers := writeFile(t, base, "helpers.py", "import extra\n")
	extra := writeFile(t, base, "extra.py", "")

	opts := testOptions(base)
	opts.Ignore = []string{"**/helpers.py"}
	result := runTrace(t, []string{main}, opts)

	if result.Contains(helpers) {
		t.Errorf("helpers.py should be excluded; files = %v", result.Files)
	}
	if result.Contains(extra) {
		t.Errorf("imports of an ignored file must not be traversed; files = %v", result.Files)
	}
	if !result.Contains(main) || !result.Contains(utils) {
		t.Errorf("files = %v, want main and utils", result.Files)
	}

	// Ignoring strictly shrinks the file set.
	full := runTrace(t, []string{main}, testOptions(base))
	if len(result.Files) >= len(full.Files) {
		t.Errorf("ignored trace has %d files, full has %d", len(result.Files), len(full.Files))
	}
}

func TestIgnoredEntryIsRecordedButNotTraversed(t *testing.T) {
	base := t.TempDir()
	main := writeFile(t, base, "main.py", "import utils\n")
	utils := writeFile(t, base, "utils.py", "")

	opts := testOptions(base)
	opts.Ignore = []string{"main.py"}
	result := runTrace(t, []string{main}, opts)

	reason, ok := result.Reasons[main]
	if !ok {
		t.Fatalf("entry missing from result; files = %v", result.Files)
	}
	if reason.Kind != types.ReasonEntry || !reason.Ignored {
		t.Errorf("entry reason = %+v, want entry with ignored flag", reason)
	}
	if result.Contains(utils) {
		t.Errorf("ignored entry's imports were traversed; files = %v", result.Files)
	}
}

func TestConditionalBranchesBothTraced(t *testing.T) {
	base := t.TempDir()
	main := writeFile(t, base, "main.py", "try:\n    import fast\nexcept ImportError:\n    import slow\n")
	fast := writeFile(t, base, "fast.py", "")

	result := runTrace(t, []string{main}, testOptions(base))

	if !result.Contains(fast) {
		t.Errorf("fast.py missing; files = %v", result.Files)
	}
	importers, ok := result.Unresolved["slow"]
	if !ok {
		t.Fatalf("unresolved = %v, want slow", result.Unresolved)
	}
	if len(importers) != 1 || importers[0] != main {
		t.Errorf("slow importers = %v, want [main]", importers)
	}
}

func TestCycleTerminates(t *testing.T) {
	base := t.TempDir()
	a := writeFile(t, base, "a.py", "import b\n")
	b := writeFile(t, base, "b.py", "import a\n")

	result := runTrace(t, []string{a}, testOptions(base))

	if !result.Contains(a) || !result.Contains(b) {
		t.Fatalf("files = %v, want both cycle members", result.Files)
	}
	if parents := result.Reasons[b].SortedParents(); len(parents) != 1 || parents[0] != a {
		t.Errorf("b parents = %v, want [a]", parents)
	}
	// a is an entry, but the back-edge still accumulates b as a parent.
	if _, ok := result.Reasons[a].Parents[b]; !ok {
		t.Errorf("a parents = %v, want b accumulated", result.Reasons[a].SortedParents())
	}
}

func TestNamespacePackageMarker(t *testing.T) {
	base := t.TempDir()
	main := writeFile(t, base, "main.py", "import ns\n")
	mod := writeFile(t, base, "ns/mod.py", "import utils\n")
	writeFile(t, base, "utils.py", "")

	result := runTrace(t, []string{main}, testOptions(base))

	nsDir := filepath.Join(base, "ns")
	if got := kindOf(t, result, nsDir); got != types.ReasonNamespaceMarker {
		t.Errorf("ns kind = %s, want namespace_marker", got)
	}
	// The namespace directory is marked without enumerating its children.
	if result.Contains(mod) {
		t.Errorf("namespace child traced without an explicit import; files = %v", result.Files)
	}
}

func TestNamespaceChildImportedExplicitly(t *testing.T) {
	base := t.TempDir()
	main := writeFile(t, base, "main.py", "from ns import mod\n")
	mod := writeFile(t, base, "ns/mod.py", "")

	result := runTrace(t, []string{main}, testOptions(base))

	if got := kindOf(t, result, mod); got != types.ReasonFromImport {
		t.Errorf("mod kind = %s, want from_import via submodule promotion", got)
	}
}

func TestStdlibSuppressedNotUnresolved(t *testing.T) {
	base := t.TempDir()
	main := writeFile(t, base, "main.py", "import os\nimport sys\nimport missing_thing\n")

	result := runTrace(t, []string{main}, testOptions(base))

	if len(result.Files) != 1 {
		t.Errorf("files = %v, want only the entry", result.Files)
	}
	if _, ok := result.Unresolved["os"]; ok {
		t.Error("suppressed stdlib module appeared in unresolved map")
	}
	if _, ok := result.Unresolved["missing_thing"]; !ok {
		t.Errorf("unresolved = %v, want missing_thing", result.Unresolved)
	}
}

func TestRuntimeAbsentReportsStdlibUnresolved(t *testing.T) {
	base := t.TempDir()
	main := writeFile(t, base, "main.py", "import os\n")

	opts := testOptions(base)
	opts.Runtime = &types.RuntimeEnv{} // no runtime probed
	result := runTrace(t, []string{main}, opts)

	if _, ok := result.Unresolved["os"]; !ok {
		t.Errorf("unresolved = %v, want os reported when stdlib detection is off", result.Unresolved)
	}
}

func TestZeroImportFile(t *testing.T) {
	base := t.TempDir()
	main := writeFile(t, base, "main.py", "x = 1\n")

	result := runTrace(t, []string{main}, testOptions(base))

	if len(result.Files) != 1 || result.Files[0] != main {
		t.Errorf("files = %v, want exactly the entry", result.Files)
	}
}

func TestMaxDepth(t *testing.T) {
	base := t.TempDir()
	a := writeFile(t, base, "a.py", "import b\n")
	writeFile(t, base, "b.py", "import c\n")
	c := writeFile(t, base, "c.py", "import d\n")
	d := writeFile(t, base, "d.py", "")

	opts := testOptions(base)
	opts.MaxDepth = 1
	result := runTrace(t, []string{a}, opts)

	// c was referenced so it is recorded, but not parsed: d is absent.
	if !result.Contains(c) {
		t.Errorf("files = %v, want c recorded", result.Files)
	}
	if result.Contains(d) {
		t.Errorf("files = %v, d should be beyond the depth limit", result.Files)
	}
	found := false
	for _, w := range result.Warnings {
		if strings.Contains(w, "depth") {
			found = true
		}
	}
	if !found {
		t.Errorf("warnings = %v, want a depth warning", result.Warnings)
	}
}

func TestMissingEntryFails(t *testing.T) {
	base := t.TempDir()
	_, err := Trace(context.Background(), []string{filepath.Join(base, "nope.py")}, testOptions(base))
	if err == nil {
		t.Error("expected error for missing entry file")
	}
}

func TestNoEntriesFails(t *testing.T) {
	if _, err := Trace(context.Background(), nil, DefaultOptions()); err == nil {
		t.Error("expected error for empty entry set")
	}
}

func TestInvalidIgnorePatternFails(t *testing.T) {
	base := t.TempDir()
	main := writeFile(t, base, "main.py", "")

	opts := testOptions(base)
	opts.Ignore = []string{"[unclosed"}
	if _, err := Trace(context.Background(), []string{main}, opts); err == nil {
		t.Error("expected error for invalid ignore pattern")
	}
}

func TestTraceIsIdempotent(t *testing.T) {
	base := t.TempDir()
	main := writeFile(t, base, "main.py", "import utils\nfrom mypkg import module_a\nimport gone\n")
	writeFile(t, base, "utils.py", "")
	writeFile(t, base, "mypkg/__init__.py", "")
	writeFile(t, base, "mypkg/module_a.py", "")

	first := runTrace(t, []string{main}, testOptions(base))
	second := runTrace(t, []string{main}, testOptions(base))

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("trace not idempotent (-first +second):\n%s", diff)
	}
}

func TestDisjointEntryUnion(t *testing.T) {
	base := t.TempDir()
	one := writeFile(t, base, "one.py", "import shared\n")
	two := writeFile(t, base, "two.py", "import shared\n")
	writeFile(t, base, "shared.py", "")

	both := runTrace(t, []string{one, two}, testOptions(base))
	first := runTrace(t, []string{one}, testOptions(base))
	second := runTrace(t, []string{two}, testOptions(base))

	union := map[string]struct{}{}
	for _, f := range first.Files {
		union[f] = struct{}{}
	}
	for _, f := range second.Files {
		union[f] = struct{}{}
	}
	if len(both.Files) != len(union) {
		t.Errorf("union files = %v, individual union has %d", both.Files, len(union))
	}
	for _, f := range both.Files {
		if _, ok := union[f]; !ok {
			t.Errorf("file %s missing from individual traces", f)
		}
	}
}

func TestParentsAreInResult(t *testing.T) {
	base := t.TempDir()
	main := writeFile(t, base, "main.py", "import mid\n")
	writeFile(t, base, "mid.py", "import leaf\n")
	writeFile(t, base, "leaf.py", "")

	result := runTrace(t, []string{main}, testOptions(base))

	for path, reason := range result.Reasons {
		for parent := range reason.Parents {
			if !result.Contains(parent) {
				t.Errorf("%s has parent %s outside the result", path, parent)
			}
		}
		if reason.Kind != types.ReasonEntry && len(reason.Parents) == 0 {
			t.Errorf("non-entry %s has no parents", path)
		}
	}
}

func TestSharedCacheAcrossTraces(t *testing.T) {
	base := t.TempDir()
	main := writeFile(t, base, "main.py", "import utils\n")
	utils := writeFile(t, base, "utils.py", "")

	opts := testOptions(base)
	opts.Cache = NewCache()

	first := runTrace(t, []string{main}, opts)
	if !first.Contains(utils) {
		t.Fatalf("files = %v", first.Files)
	}

	// Deleting the file does not invalidate the shared cache: the second
	// trace sees the memoized resolution and cached content.
	if err := os.Remove(utils); err != nil {
		t.Fatal(err)
	}
	second := runTrace(t, []string{main}, opts)
	if !second.Contains(utils) {
		t.Errorf("cached trace lost %s; files = %v", utils, second.Files)
	}
}

func TestCancellationReturnsPartialResult(t *testing.T) {
	base := t.TempDir()
	main := writeFile(t, base, "main.py", "import utils\n")
	writeFile(t, base, "utils.py", "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := Trace(ctx, []string{main}, testOptions(base))
	if err == nil {
		t.Fatal("expected context error")
	}
	if result == nil {
		t.Fatal("expected a partial result")
	}
	// Entries are seeded before the fan-out, so the invariants hold even
	// for a drained trace.
	if !result.Contains(main) {
		t.Errorf("files = %v, want the entry present", result.Files)
	}
	for _, reason := range result.Reasons {
		for parent := range reason.Parents {
			if !result.Contains(parent) {
				t.Errorf("parent %s outside partial result", parent)
			}
		}
	}
}
