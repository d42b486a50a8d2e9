package cleanup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Iron-Ham/warren/internal/logging"
	"github.com/Iron-Ham/warren/internal/worktree"
)

// Results is the outcome of Execute.
type Results struct {
	WorktreesRemoved  int      `json:"worktrees_removed"`
	BranchesDeleted   int      `json:"branches_deleted"`
	ContainersRemoved int      `json:"containers_removed"`
	Errors            []string `json:"errors,omitempty"`
}

// Total returns the number of removed resources.
func (r Results) Total() int {
	return r.WorktreesRemoved + r.BranchesDeleted + r.ContainersRemoved
}

// Executor removes the resources of a Plan.
type Executor struct {
	plan     *Plan
	wt       *worktree.Manager
	executor worktree.CommandExecutor
	logger   *logging.Logger
}

// NewExecutor creates an executor for plan. A nil executor runs on the host.
func NewExecutor(plan *Plan, executor worktree.CommandExecutor, logger *logging.Logger) (*Executor, error) {
	wt, err := worktree.New(plan.RepoDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create worktree manager: %w", err)
	}
	if executor == nil {
		executor = worktree.NewCLICommandExecutor()
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Executor{plan: plan, wt: wt, executor: executor, logger: logger.WithComponent("cleanup")}, nil
}

// Execute removes everything in the plan that still exists. Individual
// failures are collected in Results.Errors.
func (e *Executor) Execute(ctx context.Context) Results {
	var res Results

	kept := make(map[string]bool)
	for _, sw := range e.plan.Worktrees {
		if _, err := os.Stat(sw.Path); os.IsNotExist(err) {
			continue
		}
		if sw.HasUncommitted && !e.plan.Force {
			res.Errors = append(res.Errors, fmt.Sprintf("skipped %s: has uncommitted changes", filepath.Base(sw.Path)))
			kept[sw.Branch] = true
			continue
		}
		if err := e.wt.Remove(ctx, sw.Path); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("failed to remove worktree %s: %v", filepath.Base(sw.Path), err))
			kept[sw.Branch] = true
			continue
		}
		e.logger.Info("removed stale worktree", "path", sw.Path, "branch", sw.Branch)
		res.WorktreesRemoved++
	}

	for _, branch := range e.plan.Branches {
		if kept[branch] {
			continue
		}
		if _, err := e.executor.Run(ctx, e.plan.RepoDir, "git", "rev-parse", "--verify", "--quiet", "refs/heads/"+branch); err != nil {
			continue
		}
		if err := e.wt.DeleteBranch(ctx, branch); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("failed to delete branch %s: %v", branch, err))
			continue
		}
		e.logger.Info("deleted sandbox branch", "branch", branch)
		res.BranchesDeleted++
	}

	for _, name := range e.plan.Containers {
		out, err := e.executor.Run(ctx, "", "docker", "rm", "--force", name)
		if err != nil {
			msg := strings.TrimSpace(string(out))
			if strings.Contains(strings.ToLower(msg), "no such container") {
				continue
			}
			res.Errors = append(res.Errors, fmt.Sprintf("failed to remove container %s: %s", name, msg))
			continue
		}
		e.logger.Info("removed sandbox container", "container", name)
		res.ContainersRemoved++
	}
	return res
}
