// Package cleanup removes sandboxes left behind by warren processes that did
// not shut down cleanly: worktrees under the data directory, their branches,
// and sandbox containers.
package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/Iron-Ham/warren/internal/errors"
	"github.com/Iron-Ham/warren/internal/worktree"
)

// ContainerPrefix is the name prefix of sandbox containers.
const ContainerPrefix = "warren-"

// Options selects what Snapshot looks for.
type Options struct {
	RepoDir string
	// WorktreeDir is where the worktree runtime places sandboxes.
	WorktreeDir string
	// BranchPrefix selects sandbox branches, e.g. "warren".
	BranchPrefix string
	// Branches also collects sandbox branches without a worktree.
	Branches bool
	// Containers also collects sandbox containers.
	Containers bool
	// Force removes worktrees even when they hold uncommitted changes.
	Force bool
	// Executor runs git and docker. Defaults to the host.
	Executor worktree.CommandExecutor
}

// StaleWorktree is a sandbox worktree found at snapshot time.
type StaleWorktree struct {
	Path           string `json:"path"`
	Branch         string `json:"branch"`
	HasUncommitted bool   `json:"has_uncommitted"`
}

// Plan is the set of resources captured by Snapshot. Execute only touches
// what the plan names, so sandboxes created afterwards are safe.
type Plan struct {
	RepoDir    string          `json:"repo_dir"`
	Force      bool            `json:"force"`
	Worktrees  []StaleWorktree `json:"worktrees"`
	Branches   []string        `json:"branches,omitempty"`
	Containers []string        `json:"containers,omitempty"`
}

// Empty reports whether there is nothing to remove.
func (p *Plan) Empty() bool {
	return len(p.Worktrees) == 0 && len(p.Branches) == 0 && len(p.Containers) == 0
}

// Snapshot collects the stale resources of the repository. Callers must make
// sure no warren process is using them; see LivePIDs.
func Snapshot(ctx context.Context, opts Options) (*Plan, error) {
	if opts.Executor == nil {
		opts.Executor = worktree.NewCLICommandExecutor()
	}
	mgr, err := worktree.New(opts.RepoDir)
	if err != nil {
		return nil, err
	}
	plan := &Plan{RepoDir: mgr.RepoDir(), Force: opts.Force}

	paths, err := mgr.List(ctx)
	if err != nil {
		return nil, err
	}
	root := resolve(opts.WorktreeDir)
	for _, p := range paths {
		if !within(root, resolve(p)) {
			continue
		}
		git := worktree.NewCLIGitOperationsWithExecutor(p, opts.Executor)
		stale := StaleWorktree{Path: p}
		if branch, err := git.CurrentBranch(ctx); err == nil && branch != "HEAD" {
			stale.Branch = branch
		}
		if dirty, err := git.HasUncommittedChanges(ctx); err == nil {
			stale.HasUncommitted = dirty
		}
		plan.Worktrees = append(plan.Worktrees, stale)
	}

	if opts.Branches && opts.BranchPrefix != "" {
		branches, err := sandboxBranches(ctx, opts.Executor, plan.RepoDir, opts.BranchPrefix)
		if err != nil {
			return nil, err
		}
		plan.Branches = branches
	}

	if opts.Containers {
		containers, err := sandboxContainers(ctx, opts.Executor)
		if err != nil {
			return nil, err
		}
		plan.Containers = containers
	}
	return plan, nil
}

func sandboxBranches(ctx context.Context, x worktree.CommandExecutor, repoDir, prefix string) ([]string, error) {
	out, err := x.Run(ctx, repoDir, "git", "branch", "--list", "--format=%(refname:short)", prefix+"/*")
	if err != nil {
		return nil, errors.NewGitError("failed to list branches", err).
			WithRepository(repoDir).
			WithGitOutput(string(out))
	}
	return lines(string(out)), nil
}

func sandboxContainers(ctx context.Context, x worktree.CommandExecutor) ([]string, error) {
	out, err := x.Run(ctx, "", "docker", "ps", "--all", "--filter", "name=^"+ContainerPrefix, "--format", "{{.Names}}")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list containers: %s", strings.TrimSpace(string(out)))
	}
	var names []string
	for _, name := range lines(string(out)) {
		// The name filter is a substring match on older daemons.
		if strings.HasPrefix(name, ContainerPrefix) {
			names = append(names, name)
		}
	}
	return names, nil
}

func lines(s string) []string {
	var out []string
	for line := range strings.SplitSeq(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	slices.Sort(out)
	return out
}

func resolve(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	if real, err := filepath.EvalSymlinks(path); err == nil {
		return real
	}
	return path
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator))
}
