package extractor

import (
	"context"
	"regexp"
	"strings"

	"github.com/jaredpalmer/pytrace/pkg/types"
)

// RegexBackend is the best-effort fallback extractor used when no
// structural backend is available or a structural parse fails. It scans a
// blanked copy of the source in which string literals, triple-quoted
// sections, and comments are replaced by spaces of identical length, so
// byte offsets and line numbers stay faithful to the original.
type RegexBackend struct{}

// NewRegexBackend creates the fallback extractor.
func NewRegexBackend() *RegexBackend { return &RegexBackend{} }

// Name identifies the backend in warnings.
func (b *RegexBackend) Name() string { return "regex" }

var (
	plainImportRe = regexp.MustCompile(`^\s*import\s+(.+?)\s*$`)
	fromImportRe  = regexp.MustCompile(`^\s*from\s+([.\w]+)\s+import\s+(.+?)\s*$`)
	importItemRe  = regexp.MustCompile(`^([\w.]+)(?:\s+as\s+(\w+))?$`)
	nameItemRe    = regexp.MustCompile(`^(\w+|\*)(?:\s+as\s+(\w+))?$`)

	dynamicCallRe = regexp.MustCompile(`(?:\b__import__|\bimportlib\s*\.\s*import_module|\brunpy\s*\.\s*run_module|\brunpy\s*\.\s*run_path)\s*\(`)
)

// Extract scans the source for the declaration shapes the structural
// backends recognize. It is explicitly best-effort: aliased bindings of
// the runtime-import functions are not tracked, only the canonical
// spellings are matched.
func (b *RegexBackend) Extract(ctx context.Context, content []byte) ([]types.ImportRecord, []string, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	blanked := blankLiterals(content)

	var records []types.ImportRecord
	for _, ll := range logicalLines(blanked) {
		if m := plainImportRe.FindStringSubmatch(ll.text); m != nil {
			records = append(records, parsePlainItems(m[1], ll.line)...)
			continue
		}
		if m := fromImportRe.FindStringSubmatch(ll.text); m != nil {
			records = append(records, parseFromItems(m[1], m[2], ll.line))
		}
	}

	records = append(records, b.dynamicCalls(content, blanked)...)
	return records, nil, nil
}

// parsePlainItems splits the comma-separated tail of an import statement.
func parsePlainItems(tail string, line int) []types.ImportRecord {
	var records []types.ImportRecord
	for _, item := range strings.Split(tail, ",") {
		m := importItemRe.FindStringSubmatch(strings.TrimSpace(item))
		if m == nil {
			continue
		}
		records = append(records, types.ImportRecord{
			Kind:   types.ImportPlain,
			Module: m[1],
			Alias:  m[2],
			Line:   line,
		})
	}
	return records
}

// parseFromItems builds a from-import record out of the base and the
// comma-separated (possibly parenthesized) name list.
func parseFromItems(base, tail string, line int) types.ImportRecord {
	rec := types.ImportRecord{Kind: types.ImportFrom, Line: line}
	for strings.HasPrefix(base, ".") {
		rec.Level++
		base = base[1:]
	}
	rec.Module = base

	tail = strings.Trim(strings.TrimSpace(tail), "()")
	for _, item := range strings.Split(tail, ",") {
		m := nameItemRe.FindStringSubmatch(strings.TrimSpace(item))
		if m == nil {
			continue
		}
		rec.Names = append(rec.Names, types.ImportedName{Name: m[1], Alias: m[2]})
	}
	return rec
}

// dynamicCalls finds the canonical runtime-import call sites in the
// blanked text and reads their first argument from the original source at
// the same offsets.
func (b *RegexBackend) dynamicCalls(content, blanked []byte) []types.ImportRecord {
	var records []types.ImportRecord
	text := string(blanked)

	for _, loc := range dynamicCallRe.FindAllStringIndex(text, -1) {
		match := strings.Join(strings.Fields(text[loc[0]:loc[1]]), "")
		var kind types.DynamicKind
		switch {
		case strings.HasPrefix(match, "__import__"):
			kind = types.DynamicBuiltinImport
		case strings.HasPrefix(match, "importlib"):
			kind = types.DynamicImportModule
		case strings.Contains(match, "run_module"):
			kind = types.DynamicRunModule
		default:
			kind = types.DynamicRunPath
		}

		rec := types.ImportRecord{
			Kind:    types.ImportDynamic,
			Dynamic: kind,
			Line:    1 + strings.Count(text[:loc[0]], "\n"),
		}

		lit, expr, ok := readFirstArgument(content, loc[1])
		switch {
		case !ok:
			// Empty argument list; record the call with nothing resolvable.
		case lit == "":
			rec.Expression = expr
		case kind == types.DynamicRunPath:
			rec.Path = lit
		default:
			for strings.HasPrefix(lit, ".") {
				rec.Level++
				lit = lit[1:]
			}
			rec.Module = lit
		}
		records = append(records, rec)
	}

	return records
}

// readFirstArgument reads the first argument after the opening paren at
// offset. Returns the string literal value when the argument is a quoted
// string, otherwise the raw expression text.
func readFirstArgument(content []byte, offset int) (lit, expr string, ok bool) {
	i := offset
	for i < len(content) && (content[i] == ' ' || content[i] == '\t' || content[i] == '\n' || content[i] == '\r') {
		i++
	}
	if i >= len(content) || content[i] == ')' {
		return "", "", false
	}

	if content[i] == '\'' || content[i] == '"' {
		quote := content[i]
		j := i + 1
		var sb strings.Builder
		for j < len(content) && content[j] != quote {
			if content[j] == '\\' && j+1 < len(content) {
				sb.WriteString(unescape(string(content[j : j+2])))
				j += 2
				continue
			}
			sb.WriteByte(content[j])
			j++
		}
		return sb.String(), "", true
	}

	depth := 0
	j := i
	for j < len(content) {
		switch content[j] {
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			if depth == 0 {
				return "", strings.TrimSpace(string(content[i:j])), true
			}
			depth--
		case ',':
			if depth == 0 {
				return "", strings.TrimSpace(string(content[i:j])), true
			}
		}
		j++
	}
	return "", strings.TrimSpace(string(content[i:])), true
}

// blankLiterals replaces string literals, triple-quoted sections, and
// comments with spaces, preserving length and newlines so downstream
// offsets map one-to-one onto the original source.
func blankLiterals(content []byte) []byte {
	out := make([]byte, len(content))
	copy(out, content)

	const (
		code = iota
		comment
		single // ' or "
		triple // ''' or """
	)
	state := code
	var quote byte
	i := 0
	for i < len(out) {
		c := out[i]
		switch state {
		case code:
			switch {
			case c == '#':
				state = comment
				out[i] = ' '
			case c == '\'' || c == '"':
				quote = c
				if i+2 < len(out) && out[i+1] == quote && out[i+2] == quote {
					state = triple
					out[i], out[i+1], out[i+2] = ' ', ' ', ' '
					i += 2
				} else {
					state = single
					out[i] = ' '
				}
			}
		case comment:
			if c == '\n' {
				state = code
			} else {
				out[i] = ' '
			}
		case single:
			switch {
			case c == '\\' && i+1 < len(out):
				out[i] = ' '
				if out[i+1] != '\n' {
					out[i+1] = ' '
				}
				i++
			case c == quote:
				out[i] = ' '
				state = code
			case c == '\n':
				// Unterminated literal; resynchronize.
				state = code
			default:
				out[i] = ' '
			}
		case triple:
			switch {
			case c == quote && i+2 < len(out) && out[i+1] == quote && out[i+2] == quote:
				out[i], out[i+1], out[i+2] = ' ', ' ', ' '
				i += 2
				state = code
			case c != '\n':
				out[i] = ' '
			}
		}
		i++
	}

	return out
}

// logicalLine is a physical-line sequence joined into one statement, with
// the 1-based line number of its first physical line.
type logicalLine struct {
	text string
	line int
}

// logicalLines joins backslash-continued lines and lines with unbalanced
// brackets into single statements.
func logicalLines(blanked []byte) []logicalLine {
	physical := strings.Split(string(blanked), "\n")
	var out []logicalLine

	var buf strings.Builder
	start := 0
	depth := 0
	for idx, line := range physical {
		if buf.Len() == 0 {
			start = idx
		}
		cont := strings.HasSuffix(line, "\\")
		if cont {
			line = line[:len(line)-1]
		}
		buf.WriteString(line)
		depth += bracketDelta(line)

		if cont || depth > 0 {
			buf.WriteByte(' ')
			continue
		}
		out = append(out, logicalLine{text: buf.String(), line: start + 1})
		buf.Reset()
		depth = 0
	}
	if buf.Len() > 0 {
		out = append(out, logicalLine{text: buf.String(), line: start + 1})
	}
	return out
}

func bracketDelta(line string) int {
	delta := 0
	for i := 0; i < len(line); i++ {
		switch line[i] {
		case '(', '[', '{':
			delta++
		case ')', ']', '}':
			delta--
		}
	}
	return delta
}
