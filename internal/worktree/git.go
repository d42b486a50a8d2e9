// Package worktree provides git worktree management and the git operations
// sessions run against their sandbox.
//
// Git commands go through a CommandExecutor so the same operations work on a
// host worktree and inside a container.
package worktree

import (
	"context"
	"os/exec"
	"strings"

	"github.com/Iron-Ham/warren/internal/errors"
)

// -----------------------------------------------------------------------------
// Command Executor
// -----------------------------------------------------------------------------

// CommandExecutor abstracts command execution for testability and for
// running git inside a sandbox.
type CommandExecutor interface {
	// Run executes a command in dir and returns combined output.
	Run(ctx context.Context, dir string, name string, args ...string) ([]byte, error)
}

// CLICommandExecutor executes commands on the host using os/exec.
type CLICommandExecutor struct{}

// NewCLICommandExecutor creates a new CLI command executor.
func NewCLICommandExecutor() *CLICommandExecutor {
	return &CLICommandExecutor{}
}

// Run executes a command and returns combined output.
func (e *CLICommandExecutor) Run(ctx context.Context, dir string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	return cmd.CombinedOutput()
}

// -----------------------------------------------------------------------------
// CLIGitOperations
// -----------------------------------------------------------------------------

// CLIGitOperations implements GitOperations using git CLI commands run
// through a CommandExecutor.
type CLIGitOperations struct {
	dir      string
	executor CommandExecutor
}

// NewCLIGitOperations creates git operations bound to a host directory.
func NewCLIGitOperations(dir string) *CLIGitOperations {
	return &CLIGitOperations{dir: dir, executor: NewCLICommandExecutor()}
}

// NewCLIGitOperationsWithExecutor creates git operations that run through a
// custom executor. An empty dir means the executor's default directory.
func NewCLIGitOperationsWithExecutor(dir string, executor CommandExecutor) *CLIGitOperations {
	return &CLIGitOperations{dir: dir, executor: executor}
}

func (g *CLIGitOperations) git(ctx context.Context, args ...string) (string, error) {
	output, err := g.executor.Run(ctx, g.dir, "git", args...)
	return string(output), err
}

func (g *CLIGitOperations) gitError(message string, err error, output string) *errors.GitError {
	return errors.NewGitError(message, err).
		WithRepository(g.dir).
		WithGitOutput(output)
}

// HasUncommittedChanges returns true if git status reports anything.
func (g *CLIGitOperations) HasUncommittedChanges(ctx context.Context) (bool, error) {
	output, err := g.git(ctx, "status", "--porcelain")
	if err != nil {
		return false, g.gitError("failed to check git status", err, output)
	}
	return len(strings.TrimSpace(output)) > 0, nil
}

// HeadSHA returns the commit id of HEAD.
func (g *CLIGitOperations) HeadSHA(ctx context.Context) (string, error) {
	output, err := g.git(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", g.gitError("failed to resolve HEAD", err, output)
	}
	return strings.TrimSpace(output), nil
}

// CurrentBranch returns the checked out branch name.
func (g *CLIGitOperations) CurrentBranch(ctx context.Context) (string, error) {
	output, err := g.git(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", g.gitError("failed to get branch", err, output)
	}
	return strings.TrimSpace(output), nil
}

// Diff returns the diff of the working tree against ref, untracked files
// excluded. An empty ref diffs against the index.
func (g *CLIGitOperations) Diff(ctx context.Context, ref string) (string, error) {
	args := []string{"diff"}
	if ref != "" {
		args = append(args, ref)
	}
	output, err := g.git(ctx, args...)
	if err != nil {
		return "", g.gitError("failed to get diff", err, output).WithBranch(ref)
	}
	return output, nil
}

// ChangedFiles lists files that differ from ref, plus untracked files. An
// empty ref compares against the index.
func (g *CLIGitOperations) ChangedFiles(ctx context.Context, ref string) ([]string, error) {
	args := []string{"diff", "--name-only"}
	if ref != "" {
		args = append(args, ref)
	}
	output, err := g.git(ctx, args...)
	if err != nil {
		return nil, g.gitError("failed to list changed files", err, output).WithBranch(ref)
	}
	untracked, err := g.git(ctx, "ls-files", "--others", "--exclude-standard")
	if err != nil {
		return nil, g.gitError("failed to list untracked files", err, untracked)
	}

	seen := make(map[string]bool)
	var files []string
	for _, line := range strings.Split(output+"\n"+untracked, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || seen[line] {
			continue
		}
		seen[line] = true
		files = append(files, line)
	}
	return files, nil
}

// HasRemote reports whether the named remote is configured.
func (g *CLIGitOperations) HasRemote(ctx context.Context, name string) (bool, error) {
	output, err := g.git(ctx, "remote")
	if err != nil {
		return false, g.gitError("failed to list remotes", err, output)
	}
	for _, remote := range strings.Fields(output) {
		if remote == name {
			return true, nil
		}
	}
	return false, nil
}

// ConfigureIdentity sets the committer identity and push defaults.
func (g *CLIGitOperations) ConfigureIdentity(ctx context.Context, name, email string) error {
	settings := [][2]string{
		{"user.name", name},
		{"user.email", email},
		{"push.autoSetupRemote", "true"},
	}
	for _, kv := range settings {
		if kv[1] == "" {
			continue
		}
		if output, err := g.git(ctx, "config", kv[0], kv[1]); err != nil {
			return g.gitError("failed to configure "+kv[0], err, output)
		}
	}
	return nil
}

// CreateBranch creates and checks out a new branch at HEAD.
func (g *CLIGitOperations) CreateBranch(ctx context.Context, branch string) error {
	output, err := g.git(ctx, "checkout", "-b", branch)
	if err != nil {
		return g.gitError("failed to create branch", err, output).WithBranch(branch)
	}
	return nil
}

// CommitAll stages and commits all changes with the given message.
// It reports false without error when there was nothing to commit.
func (g *CLIGitOperations) CommitAll(ctx context.Context, message string) (bool, error) {
	if output, err := g.git(ctx, "add", "-A"); err != nil {
		return false, g.gitError("failed to stage changes", err, output)
	}

	output, err := g.git(ctx, "commit", "-m", message)
	if err != nil {
		if strings.Contains(output, "nothing to commit") {
			return false, nil
		}
		return false, g.gitError("failed to commit changes", err, output)
	}
	return true, nil
}

// Checkout restores paths from ref, or switches to ref when no paths are given.
func (g *CLIGitOperations) Checkout(ctx context.Context, ref string, paths ...string) error {
	args := []string{"checkout", ref}
	if len(paths) > 0 {
		args = append(args, "--")
		args = append(args, paths...)
	}
	output, err := g.git(ctx, args...)
	if err != nil {
		return g.gitError("failed to checkout", err, output).WithBranch(ref)
	}
	return nil
}

// snapshotIndex is the private index file used to record working tree
// snapshots, kept inside the git dir of the working tree.
const snapshotIndex = "warren-snapshot.index"

// Snapshot identifies a recorded working tree state.
type Snapshot struct {
	// Tree is the tree object of every non-ignored file in the working tree.
	Tree string
	// Index is the tree object of the real index; empty when the index had
	// unmerged entries and could not be recorded.
	Index string
}

// gitWithIndex runs git against the private snapshot index so the real
// index is left alone.
func (g *CLIGitOperations) gitWithIndex(ctx context.Context, index string, args ...string) (string, error) {
	argv := append([]string{"GIT_INDEX_FILE=" + index, "git"}, args...)
	output, err := g.executor.Run(ctx, g.dir, "env", argv...)
	return string(output), err
}

func (g *CLIGitOperations) snapshotIndexPath(ctx context.Context) (string, error) {
	output, err := g.git(ctx, "rev-parse", "--git-path", snapshotIndex)
	if err != nil {
		return "", g.gitError("failed to locate git dir", err, output)
	}
	return strings.TrimSpace(output), nil
}

// SnapshotWorkTree records the current working tree, including untracked
// files, without touching HEAD or the real index.
func (g *CLIGitOperations) SnapshotWorkTree(ctx context.Context) (Snapshot, error) {
	index, err := g.snapshotIndexPath(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	if output, err := g.gitWithIndex(ctx, index, "add", "--all"); err != nil {
		return Snapshot{}, g.gitError("failed to stage snapshot", err, output)
	}
	output, err := g.gitWithIndex(ctx, index, "write-tree")
	if err != nil {
		return Snapshot{}, g.gitError("failed to write snapshot tree", err, output)
	}
	snap := Snapshot{Tree: strings.TrimSpace(output)}
	if output, err := g.git(ctx, "write-tree"); err == nil {
		snap.Index = strings.TrimSpace(output)
	}
	return snap, nil
}

// RestoreWorkTree puts the working tree back to snap: files recorded in the
// snapshot get their recorded content, files created since are removed.
// Ignored files and HEAD are left as they are.
func (g *CLIGitOperations) RestoreWorkTree(ctx context.Context, snap Snapshot) error {
	if snap.Tree == "" {
		return errors.New("empty snapshot")
	}
	index, err := g.snapshotIndexPath(ctx)
	if err != nil {
		return err
	}
	if output, err := g.gitWithIndex(ctx, index, "read-tree", snap.Tree); err != nil {
		return g.gitError("failed to read snapshot tree", err, output)
	}
	if output, err := g.gitWithIndex(ctx, index, "checkout-index", "--all", "--force"); err != nil {
		return g.gitError("failed to restore snapshot files", err, output)
	}
	if output, err := g.gitWithIndex(ctx, index, "clean", "-fd", "--quiet"); err != nil {
		return g.gitError("failed to remove files created after the snapshot", err, output)
	}
	if snap.Index != "" {
		if output, err := g.git(ctx, "read-tree", snap.Index); err != nil {
			return g.gitError("failed to restore index", err, output)
		}
	}
	return nil
}

// Push pushes branch to remote and sets upstream.
// Network failures are marked retryable.
func (g *CLIGitOperations) Push(ctx context.Context, remote, branch string) error {
	output, err := g.git(ctx, "push", "-u", remote, branch)
	if err != nil {
		gitErr := g.gitError("failed to push", err, output).WithBranch(branch)
		if isTransientPushFailure(output) {
			gitErr = gitErr.WithRetryable(true)
		}
		return gitErr
	}
	return nil
}

func isTransientPushFailure(output string) bool {
	lower := strings.ToLower(output)
	for _, marker := range []string{
		"could not resolve host",
		"connection timed out",
		"connection reset",
		"operation timed out",
		"the remote end hung up",
		"unable to access",
		"http 5",
		"rpc failed",
	} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
