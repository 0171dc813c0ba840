// Package pyexec invokes the target Python runtime with an embedded helper
// script. The helper speaks a small subcommand protocol: "parse" reads
// source on stdin and emits an import listing, "env" emits the interpreter
// environment, "stdlib" emits the standard-library module names. All
// output is JSON on stdout; a non-zero exit means unrecoverable failure.
package pyexec

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

//go:embed helper.py
var helperScript string

// DefaultLocator is the runtime command used when none is configured.
const DefaultLocator = "python3"

// DefaultTimeout bounds a single helper invocation.
const DefaultTimeout = 30 * time.Second

// RunFunc is the signature of Run. Callers hold one so tests can swap in
// a fake runtime.
type RunFunc func(ctx context.Context, locator, subcommand string, stdin []byte) ([]byte, error)

// Run invokes the runtime helper with the given subcommand, feeding stdin
// to the subprocess, and returns its stdout. The context bounds the
// subprocess wall clock; callers that need a tighter limit wrap ctx with
// context.WithTimeout.
func Run(ctx context.Context, locator, subcommand string, stdin []byte) ([]byte, error) {
	if locator == "" {
		locator = DefaultLocator
	}

	cmd := exec.CommandContext(ctx, locator, "-c", helperScript, subcommand)
	cmd.Stdin = bytes.NewReader(stdin)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s %s: %w", locator, subcommand, ctx.Err())
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return nil, fmt.Errorf("%s %s: %w", locator, subcommand, err)
		}
		return nil, fmt.Errorf("%s %s: %s", locator, subcommand, msg)
	}

	return stdout.Bytes(), nil
}

// Available reports whether the runtime can be invoked at all.
func Available(ctx context.Context, locator string) bool {
	if locator == "" {
		locator = DefaultLocator
	}
	if _, err := exec.LookPath(locator); err != nil {
		return false
	}
	return exec.CommandContext(ctx, locator, "--version").Run() == nil
}
