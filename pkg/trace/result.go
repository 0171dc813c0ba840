package trace

import (
	"fmt"
	"sort"
	"sync"

	"github.com/jaredpalmer/pytrace/pkg/types"
)

// resultSet is the mutable, concurrently-written trace state. Inserts are
// atomic insert-or-augment: the first writer creates a path's reason,
// later writers only union parents and may upgrade flags. Freeze produces
// the deterministic public Result.
type resultSet struct {
	mu         sync.Mutex
	reasons    map[string]*types.Reason
	warnings   []string
	unresolved map[string]map[string]struct{}
}

func newResultSet() *resultSet {
	return &resultSet{
		reasons:    make(map[string]*types.Reason),
		unresolved: make(map[string]map[string]struct{}),
	}
}

// record includes path with the given reason kind, attributing parent.
// A repeat discovery keeps the first writer's kind and accumulates the
// parent; packageInit upgrades stick.
func (s *resultSet) record(path string, kind types.ReasonKind, parent, module string, packageInit bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reason, ok := s.reasons[path]
	if !ok {
		reason = types.NewReason(kind, module)
		s.reasons[path] = reason
	}
	reason.AddParent(parent)
	if packageInit {
		reason.PackageInit = true
	}
}

// setIgnored flags an already-recorded path as ignored.
func (s *resultSet) setIgnored(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if reason, ok := s.reasons[path]; ok {
		reason.Ignored = true
	}
}

// warnf appends a formatted warning in arrival order.
func (s *resultSet) warnf(format string, args ...any) {
	s.mu.Lock()
	s.warnings = append(s.warnings, fmt.Sprintf(format, args...))
	s.mu.Unlock()
}

// warn appends pre-formatted warnings.
func (s *resultSet) warn(warnings ...string) {
	if len(warnings) == 0 {
		return
	}
	s.mu.Lock()
	s.warnings = append(s.warnings, warnings...)
	s.mu.Unlock()
}

// addUnresolved records that importer failed to resolve module.
func (s *resultSet) addUnresolved(module, importer string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.unresolved[module]
	if !ok {
		set = make(map[string]struct{})
		s.unresolved[module] = set
	}
	set[importer] = struct{}{}
}

// freeze produces the sorted, immutable Result.
func (s *resultSet) freeze() *types.Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := &types.Result{
		Files:      make([]string, 0, len(s.reasons)),
		Reasons:    make(map[string]*types.Reason, len(s.reasons)),
		Warnings:   append([]string(nil), s.warnings...),
		Unresolved: make(map[string][]string, len(s.unresolved)),
	}

	for path, reason := range s.reasons {
		result.Files = append(result.Files, path)
		result.Reasons[path] = reason
	}
	sort.Strings(result.Files)

	for module, importers := range s.unresolved {
		list := make([]string, 0, len(importers))
		for imp := range importers {
			list = append(list, imp)
		}
		sort.Strings(list)
		result.Unresolved[module] = list
	}

	return result
}
