package extractor

import (
	"context"
	"fmt"
	"strings"
	"sync"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_python "github.com/tree-sitter/tree-sitter-python/bindings/go"

	"github.com/jaredpalmer/pytrace/pkg/types"
)

// TreeSitterBackend extracts imports with an in-process tree-sitter Python
// parser. The parser is pooled and NOT thread-safe, so parse operations
// are serialized via a mutex; produced trees are safe to read after
// parsing. Requires CGO_ENABLED=1.
type TreeSitterBackend struct {
	mu     sync.Mutex
	parser *tree_sitter.Parser
}

// NewTreeSitterBackend creates the pooled Python parser. Returns an error
// when the parser rejects the grammar (for example an incompatible grammar
// ABI version). With CGO disabled this package does not build at all.
func NewTreeSitterBackend() (*TreeSitterBackend, error) {
	parser := tree_sitter.NewParser()
	lang := tree_sitter.NewLanguage(tree_sitter_python.Language())
	if err := parser.SetLanguage(lang); err != nil {
		parser.Close()
		return nil, fmt.Errorf("set python language: %w", err)
	}
	return &TreeSitterBackend{parser: parser}, nil
}

// Name identifies the backend in warnings.
func (b *TreeSitterBackend) Name() string { return "tree-sitter" }

// Close releases the parser. Must be called when done.
func (b *TreeSitterBackend) Close() {
	if b.parser != nil {
		b.parser.Close()
	}
}

// Extract parses the source and returns every import declaration found
// anywhere in the tree. Declarations inside conditionals, try/except,
// functions, and classes are all returned: the source is treated as a
// union of possibilities, never as control flow to evaluate.
func (b *TreeSitterBackend) Extract(ctx context.Context, content []byte) ([]types.ImportRecord, []string, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	b.mu.Lock()
	tree := b.parser.Parse(content, nil)
	b.mu.Unlock()
	if tree == nil {
		return nil, nil, fmt.Errorf("tree-sitter parse returned nil")
	}
	defer tree.Close()

	root := tree.RootNode()
	bindings := collectBindings(root, content)

	var records []types.ImportRecord
	var warnings []string
	walkTree(root, func(node *tree_sitter.Node) {
		switch node.Kind() {
		case "import_statement":
			records = append(records, parsePlainImports(node, content)...)
		case "import_from_statement":
			records = append(records, parseFromImport(node, content))
		case "call":
			if rec, ok := parseDynamicCall(node, content, bindings); ok {
				records = append(records, rec)
			}
		case "ERROR":
			warnings = append(warnings, fmt.Sprintf("syntax error near line %d", nodeLine(node)))
		}
	})

	return records, warnings, nil
}

// dynamicBindings holds the local names bound to the runtime-import
// modules and their functions by module-level imports.
type dynamicBindings struct {
	importlibMods map[string]bool // names an importlib module is bound to
	runpyMods     map[string]bool
	importModule  map[string]bool // direct bindings of import_module
	runModule     map[string]bool
	runPath       map[string]bool
}

func newDynamicBindings() *dynamicBindings {
	return &dynamicBindings{
		importlibMods: map[string]bool{"importlib": true},
		runpyMods:     map[string]bool{"runpy": true},
		importModule:  map[string]bool{},
		runModule:     map[string]bool{},
		runPath:       map[string]bool{},
	}
}

// collectBindings scans module-level import statements for aliases of the
// runtime-import modules, so that later calls through those aliases can be
// recognized. Only top-level bindings are tracked.
func collectBindings(root *tree_sitter.Node, content []byte) *dynamicBindings {
	b := newDynamicBindings()

	for i := uint(0); i < root.ChildCount(); i++ {
		stmt := root.Child(i)
		if stmt == nil {
			continue
		}
		switch stmt.Kind() {
		case "import_statement":
			for _, rec := range parsePlainImports(stmt, content) {
				bound := rec.Alias
				if bound == "" {
					bound = strings.SplitN(rec.Module, ".", 2)[0]
				}
				if rec.Module == "importlib" || strings.HasPrefix(rec.Module, "importlib.") {
					b.importlibMods[bound] = true
				}
				if rec.Module == "runpy" {
					b.runpyMods[bound] = true
				}
			}
		case "import_from_statement":
			rec := parseFromImport(stmt, content)
			if rec.Level != 0 {
				continue
			}
			for _, n := range rec.Names {
				bound := n.Alias
				if bound == "" {
					bound = n.Name
				}
				switch {
				case rec.Module == "importlib" && n.Name == "import_module":
					b.importModule[bound] = true
				case rec.Module == "runpy" && n.Name == "run_module":
					b.runModule[bound] = true
				case rec.Module == "runpy" && n.Name == "run_path":
					b.runPath[bound] = true
				}
			}
		}
	}

	return b
}

// parsePlainImports handles "import a.b.c" including the comma-separated
// form, yielding one record per module.
func parsePlainImports(node *tree_sitter.Node, content []byte) []types.ImportRecord {
	var records []types.ImportRecord
	line := nodeLine(node)

	for i := uint(0); i < node.ChildCount(); i++ {
		child := node.Child(i)
		if child == nil {
			continue
		}
		switch child.Kind() {
		case "dotted_name":
			records = append(records, types.ImportRecord{
				Kind:   types.ImportPlain,
				Module: nodeText(child, content),
				Line:   line,
			})
		case "aliased_import":
			name, alias := parseAliased(child, content)
			if name != "" {
				records = append(records, types.ImportRecord{
					Kind:   types.ImportPlain,
					Module: name,
					Alias:  alias,
					Line:   line,
				})
			}
		}
	}

	return records
}

// parseFromImport handles "from base import names", including relative
// bases, parenthesized multi-line name lists, wildcard, and aliases. The
// grammar already joins backslash-continued physical lines.
func parseFromImport(node *tree_sitter.Node, content []byte) types.ImportRecord {
	rec := types.ImportRecord{Kind: types.ImportFrom, Line: nodeLine(node)}
	sawBase := false

	for i := uint(0); i < node.ChildCount(); i++ {
		child := node.Child(i)
		if child == nil {
			continue
		}
		switch child.Kind() {
		case "relative_import":
			rec.Level, rec.Module = parseRelativeBase(child, content)
			sawBase = true
		case "dotted_name":
			// First dotted_name is the base; the rest are imported names.
			if !sawBase {
				rec.Module = nodeText(child, content)
				sawBase = true
			} else {
				rec.Names = append(rec.Names, types.ImportedName{Name: nodeText(child, content)})
			}
		case "aliased_import":
			name, alias := parseAliased(child, content)
			if name != "" {
				rec.Names = append(rec.Names, types.ImportedName{Name: name, Alias: alias})
			}
		case "wildcard_import":
			rec.Names = append(rec.Names, types.ImportedName{Name: "*"})
		}
	}

	return rec
}

// parseRelativeBase splits a relative_import node into its dot level and
// optional dotted base name.
func parseRelativeBase(node *tree_sitter.Node, content []byte) (int, string) {
	level := 0
	base := ""
	for i := uint(0); i < node.ChildCount(); i++ {
		child := node.Child(i)
		if child == nil {
			continue
		}
		switch child.Kind() {
		case "import_prefix":
			level = strings.Count(nodeText(child, content), ".")
		case "dotted_name":
			base = nodeText(child, content)
		}
	}
	return level, base
}

// parseAliased splits an aliased_import node ("name as alias").
func parseAliased(node *tree_sitter.Node, content []byte) (name, alias string) {
	if n := node.ChildByFieldName("name"); n != nil {
		name = nodeText(n, content)
	}
	if a := node.ChildByFieldName("alias"); a != nil {
		alias = nodeText(a, content)
	}
	return name, alias
}

// parseDynamicCall recognizes the runtime-import idioms. A call of a
// tracked name or attribute whose first argument is a string literal
// yields a resolvable record; a non-literal argument yields a record with
// Expression set so the orchestrator can warn about it.
func parseDynamicCall(node *tree_sitter.Node, content []byte, bindings *dynamicBindings) (types.ImportRecord, bool) {
	fn := node.ChildByFieldName("function")
	args := node.ChildByFieldName("arguments")
	if fn == nil || args == nil {
		return types.ImportRecord{}, false
	}

	var kind types.DynamicKind
	var keywords []string

	switch fn.Kind() {
	case "identifier":
		name := nodeText(fn, content)
		switch {
		case name == "__import__":
			kind, keywords = types.DynamicBuiltinImport, []string{"name"}
		case bindings.importModule[name]:
			kind, keywords = types.DynamicImportModule, []string{"name"}
		case bindings.runModule[name]:
			kind, keywords = types.DynamicRunModule, []string{"mod_name", "name"}
		case bindings.runPath[name]:
			kind, keywords = types.DynamicRunPath, []string{"path_name", "name"}
		default:
			return types.ImportRecord{}, false
		}
	case "attribute":
		obj := fn.ChildByFieldName("object")
		attr := fn.ChildByFieldName("attribute")
		if obj == nil || attr == nil || obj.Kind() != "identifier" {
			return types.ImportRecord{}, false
		}
		objName := nodeText(obj, content)
		switch nodeText(attr, content) {
		case "import_module":
			if !bindings.importlibMods[objName] {
				return types.ImportRecord{}, false
			}
			kind, keywords = types.DynamicImportModule, []string{"name"}
		case "run_module":
			if !bindings.runpyMods[objName] {
				return types.ImportRecord{}, false
			}
			kind, keywords = types.DynamicRunModule, []string{"mod_name", "name"}
		case "run_path":
			if !bindings.runpyMods[objName] {
				return types.ImportRecord{}, false
			}
			kind, keywords = types.DynamicRunPath, []string{"path_name", "name"}
		default:
			return types.ImportRecord{}, false
		}
	default:
		return types.ImportRecord{}, false
	}

	rec := types.ImportRecord{Kind: types.ImportDynamic, Dynamic: kind, Line: nodeLine(node)}

	arg := firstArgument(args, content, keywords)
	if arg == nil {
		return rec, true
	}
	lit, ok := stringLiteral(arg, content)
	if !ok {
		rec.Expression = nodeText(arg, content)
		return rec, true
	}

	if kind == types.DynamicRunPath {
		rec.Path = lit
		return rec, true
	}
	for strings.HasPrefix(lit, ".") {
		rec.Level++
		lit = lit[1:]
	}
	rec.Module = lit
	if kind == types.DynamicImportModule {
		if pkg := keywordArgument(args, content, "package"); pkg != nil {
			if p, ok := stringLiteral(pkg, content); ok {
				rec.Package = p
			}
		}
	}
	return rec, true
}

// firstArgument returns the first positional argument, or the value of the
// first keyword argument whose name is in keywords.
func firstArgument(args *tree_sitter.Node, content []byte, keywords []string) *tree_sitter.Node {
	for i := uint(0); i < args.ChildCount(); i++ {
		child := args.Child(i)
		if child == nil {
			continue
		}
		switch child.Kind() {
		case "(", ")", ",", "comment", "keyword_argument":
			continue
		default:
			return child
		}
	}
	for _, kw := range keywords {
		if v := keywordArgument(args, content, kw); v != nil {
			return v
		}
	}
	return nil
}

// keywordArgument returns the value node of the named keyword argument.
func keywordArgument(args *tree_sitter.Node, content []byte, name string) *tree_sitter.Node {
	for i := uint(0); i < args.ChildCount(); i++ {
		child := args.Child(i)
		if child == nil || child.Kind() != "keyword_argument" {
			continue
		}
		n := child.ChildByFieldName("name")
		if n == nil || nodeText(n, content) != name {
			continue
		}
		return child.ChildByFieldName("value")
	}
	return nil
}

// stringLiteral extracts the value of a plain string literal node.
// f-strings and strings containing interpolation are not literals.
func stringLiteral(node *tree_sitter.Node, content []byte) (string, bool) {
	if node.Kind() != "string" {
		return "", false
	}
	var sb strings.Builder
	for i := uint(0); i < node.ChildCount(); i++ {
		child := node.Child(i)
		if child == nil {
			continue
		}
		switch child.Kind() {
		case "interpolation":
			return "", false
		case "string_start":
			if strings.ContainsAny(strings.ToLower(nodeText(child, content)), "f") {
				return "", false
			}
		case "string_content":
			sb.WriteString(unescapeStringContent(child, content))
		}
	}
	return sb.String(), true
}

// unescapeStringContent renders a string_content node, resolving the
// escape sequences that matter for module names and paths.
func unescapeStringContent(node *tree_sitter.Node, content []byte) string {
	hasEscape := false
	for i := uint(0); i < node.ChildCount(); i++ {
		child := node.Child(i)
		if child != nil && child.Kind() == "escape_sequence" {
			hasEscape = true
			break
		}
	}
	if !hasEscape {
		return nodeText(node, content)
	}
	var sb strings.Builder
	last := node.StartByte()
	for i := uint(0); i < node.ChildCount(); i++ {
		child := node.Child(i)
		if child == nil || child.Kind() != "escape_sequence" {
			continue
		}
		sb.Write(content[last:child.StartByte()])
		sb.WriteString(unescape(nodeText(child, content)))
		last = child.EndByte()
	}
	sb.Write(content[last:node.EndByte()])
	return sb.String()
}

func unescape(seq string) string {
	if len(seq) != 2 || seq[0] != '\\' {
		return seq
	}
	switch seq[1] {
	case '\\':
		return `\`
	case '\'':
		return "'"
	case '"':
		return `"`
	case 'n':
		return "\n"
	case 't':
		return "\t"
	default:
		return seq
	}
}

// walkTree walks a tree-sitter tree depth-first, calling fn for each node.
func walkTree(node *tree_sitter.Node, fn func(*tree_sitter.Node)) {
	if node == nil {
		return
	}
	fn(node)
	for i := uint(0); i < node.ChildCount(); i++ {
		child := node.Child(i)
		if child != nil {
			walkTree(child, fn)
		}
	}
}

// nodeText extracts the text content of a tree-sitter node.
func nodeText(node *tree_sitter.Node, content []byte) string {
	return string(content[node.StartByte():node.EndByte()])
}

// nodeLine returns the 1-based line of a node.
func nodeLine(node *tree_sitter.Node) int {
	return int(node.StartPosition().Row) + 1
}
