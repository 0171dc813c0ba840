// Package pyenv probes the target Python runtime for its module search
// roots, standard-library module set, and site-package roots. A trace
// consumes one snapshot; filesystem changes after the probe do not
// retroactively influence earlier decisions.
package pyenv

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jaredpalmer/pytrace/internal/pyexec"
	"github.com/jaredpalmer/pytrace/pkg/types"
)

// Probe interrogates the runtime named by locator and returns a snapshot.
// A missing or failing runtime is not an error: the returned snapshot is
// empty, stdlib identification is structurally disabled, and the warning
// explains why.
func Probe(ctx context.Context, locator string) (*types.RuntimeEnv, []string) {
	return probe(ctx, locator, pyexec.Run)
}

func probe(ctx context.Context, locator string, run pyexec.RunFunc) (*types.RuntimeEnv, []string) {
	var warnings []string

	envOut, err := run(ctx, locator, "env", nil)
	if err != nil {
		warnings = append(warnings, fmt.Sprintf("python runtime unavailable, stdlib detection disabled: %v", err))
		return &types.RuntimeEnv{}, warnings
	}

	var raw struct {
		Version     string   `json:"version"`
		SearchRoots []string `json:"search_roots"`
		StdlibRoot  string   `json:"stdlib_root"`
		SiteRoots   []string `json:"site_roots"`
	}
	if err := json.Unmarshal(envOut, &raw); err != nil {
		warnings = append(warnings, fmt.Sprintf("python environment probe returned malformed JSON: %v", err))
		return &types.RuntimeEnv{}, warnings
	}

	env := &types.RuntimeEnv{
		Version:       raw.Version,
		SearchRoots:   raw.SearchRoots,
		StdlibRoot:    raw.StdlibRoot,
		SiteRoots:     raw.SiteRoots,
		StdlibModules: make(map[string]struct{}),
	}

	stdlibOut, err := run(ctx, locator, "stdlib", nil)
	if err != nil {
		warnings = append(warnings, fmt.Sprintf("stdlib module listing failed: %v", err))
		return env, warnings
	}
	var names []string
	if err := json.Unmarshal(stdlibOut, &names); err != nil {
		warnings = append(warnings, fmt.Sprintf("stdlib module listing returned malformed JSON: %v", err))
		return env, warnings
	}
	for _, n := range names {
		env.StdlibModules[n] = struct{}{}
	}

	return env, warnings
}
