package trace

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
	ignore "github.com/sabhiram/go-gitignore"
)

// ignoreMatcher decides whether a file's imports should be traversed.
// Patterns are doublestar globs matched against both the absolute path and
// the base-relative path; a .gitignore in base can be layered on top.
type ignoreMatcher struct {
	base      string
	patterns  []string
	gitIgnore *ignore.GitIgnore
}

// newIgnoreMatcher validates the patterns up front: a malformed pattern is
// a configuration error, not a warning.
func newIgnoreMatcher(base string, patterns []string, useGitignore bool) (*ignoreMatcher, error) {
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid ignore pattern %q", p)
		}
	}

	m := &ignoreMatcher{base: base, patterns: patterns}

	if useGitignore {
		gitignorePath := filepath.Join(base, ".gitignore")
		if _, err := os.Stat(gitignorePath); err == nil {
			gi, err := ignore.CompileIgnoreFile(gitignorePath)
			if err != nil {
				return nil, fmt.Errorf("parse %s: %w", gitignorePath, err)
			}
			m.gitIgnore = gi
		}
	}

	return m, nil
}

// Match reports whether the absolute path is ignored.
func (m *ignoreMatcher) Match(path string) bool {
	slashAbs := filepath.ToSlash(path)

	rel, err := filepath.Rel(m.base, path)
	slashRel := ""
	if err == nil {
		slashRel = filepath.ToSlash(rel)
	}

	for _, p := range m.patterns {
		if ok, _ := doublestar.Match(p, slashAbs); ok {
			return true
		}
		if slashRel != "" {
			if ok, _ := doublestar.Match(p, slashRel); ok {
				return true
			}
		}
	}

	if m.gitIgnore != nil && slashRel != "" && m.gitIgnore.MatchesPath(slashRel) {
		return true
	}

	return false
}
