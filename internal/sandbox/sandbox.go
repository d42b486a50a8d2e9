// Package sandbox provides isolated execution environments for sessions.
//
// A Runtime is the container-style primitive (create, exec, destroy). A Handle
// wraps one environment for one session and enforces the lifecycle contract:
// commands only run between Provision and Teardown, one at a time, each under
// a timeout, and teardown happens exactly once.
package sandbox

import (
	"context"
	"path"
	"strings"
	"time"
)

// Spec describes the environment a session wants.
type Spec struct {
	// Name identifies the environment, unique per session.
	Name string
	// Branch is the git branch the session works on.
	Branch string
}

// Environment is a provisioned environment as reported by its runtime.
type Environment struct {
	// ID is the runtime's identifier (container name, worktree path).
	ID string
	// Workdir is the repository root inside the environment.
	Workdir string
	// HostPath is where the repository is visible on the host, if anywhere.
	HostPath string
	// Branch is set when the runtime already checked out Spec.Branch.
	Branch string
}

// Command is a shell command to run inside an environment.
type Command struct {
	// Script is passed to sh -c.
	Script string
	// Dir is the working directory, relative to the environment's workdir
	// unless absolute. Empty means the workdir.
	Dir string
	// Stdin is fed to the command when non-nil.
	Stdin []byte
	// Timeout overrides the handle's default per-command timeout.
	Timeout time.Duration
}

// Result is the outcome of a command that ran to completion.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Combined returns stdout followed by stderr.
func (r Result) Combined() string {
	switch {
	case r.Stderr == "":
		return r.Stdout
	case r.Stdout == "":
		return r.Stderr
	case strings.HasSuffix(r.Stdout, "\n"):
		return r.Stdout + r.Stderr
	default:
		return r.Stdout + "\n" + r.Stderr
	}
}

// Runtime creates, drives and destroys environments.
//
// Exec reports a command that ran, whatever its exit status, as a Result with
// a nil error. An error means the command could not be run or was interrupted
// by ctx.
type Runtime interface {
	Name() string
	Create(ctx context.Context, spec Spec) (Environment, error)
	Exec(ctx context.Context, env Environment, cmd Command) (Result, error)
	Destroy(ctx context.Context, env Environment) error
}

// Quote returns s as a single-quoted shell word.
func Quote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' ||
			strings.ContainsRune("-_./=:@+,", r)) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// QuoteArgs quotes each argument and joins them with spaces.
func QuoteArgs(args ...string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = Quote(a)
	}
	return strings.Join(quoted, " ")
}

// resolveDir returns the directory a command runs in.
func resolveDir(workdir, dir string) string {
	switch {
	case dir == "":
		return workdir
	case path.IsAbs(dir):
		return dir
	default:
		return path.Join(workdir, dir)
	}
}
