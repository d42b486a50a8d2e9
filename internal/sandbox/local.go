package sandbox

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/Iron-Ham/warren/internal/errors"
	"github.com/Iron-Ham/warren/internal/worktree"
)

// WorktreeRuntime provisions each environment as a git worktree of the base
// repository and runs commands on the host with sh.
type WorktreeRuntime struct {
	manager *worktree.Manager
	rootDir string
	shell   string
}

// NewWorktreeRuntime creates a runtime that places worktrees under rootDir.
func NewWorktreeRuntime(manager *worktree.Manager, rootDir string) *WorktreeRuntime {
	return &WorktreeRuntime{manager: manager, rootDir: rootDir, shell: "sh"}
}

// Name implements Runtime.
func (r *WorktreeRuntime) Name() string { return "worktree" }

// Create adds a worktree on a new branch from the base repository's HEAD.
func (r *WorktreeRuntime) Create(ctx context.Context, spec Spec) (Environment, error) {
	if _, err := exec.LookPath(r.shell); err != nil {
		return Environment{}, errors.NewProvisionError("shell not available", errors.ErrRuntimeUnavailable).
			WithRuntime(r.Name())
	}

	path := filepath.Join(r.rootDir, spec.Name)
	if err := r.manager.Create(ctx, path, spec.Branch); err != nil {
		return Environment{}, errors.NewProvisionError("failed to create worktree", err).
			WithRuntime(r.Name())
	}
	return Environment{
		ID:       path,
		Workdir:  path,
		HostPath: path,
		Branch:   spec.Branch,
	}, nil
}

// Exec runs the command with sh -c inside the worktree.
func (r *WorktreeRuntime) Exec(ctx context.Context, env Environment, cmd Command) (Result, error) {
	if info, err := os.Stat(env.Workdir); err != nil || !info.IsDir() {
		return Result{ExitCode: -1}, errors.NewExecError(errors.ExecUnreachable, cmd.Script, err)
	}

	dir := resolveDir(env.Workdir, cmd.Dir)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return Result{ExitCode: 1, Stderr: "no such directory: " + cmd.Dir + "\n"}, nil
	}

	c := exec.CommandContext(ctx, r.shell, "-c", cmd.Script)
	c.Dir = dir
	if cmd.Stdin != nil {
		c.Stdin = bytes.NewReader(cmd.Stdin)
	}
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	err := c.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return res, nil
	}
	if ctx.Err() != nil {
		res.ExitCode = -1
		return res, ctx.Err()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	res.ExitCode = -1
	return res, err
}

// Destroy removes the worktree. The branch is kept so committed work survives.
func (r *WorktreeRuntime) Destroy(ctx context.Context, env Environment) error {
	return r.manager.Remove(ctx, env.ID)
}
