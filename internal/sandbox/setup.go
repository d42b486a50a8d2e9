package sandbox

import (
	"context"

	"github.com/Iron-Ham/warren/internal/worktree"
)

// SetupOptions configures the repository inside a fresh environment.
type SetupOptions struct {
	UserName  string
	UserEmail string
	// Branch is checked out unless the runtime already created it.
	Branch string
	// Remote is the remote name to look for (default "origin").
	Remote string
}

// SetupResult describes the prepared repository.
type SetupResult struct {
	Branch    string
	StartRef  string
	HasRemote bool
}

// Git returns git operations that run inside the sandbox.
func (h *Handle) Git() *worktree.CLIGitOperations {
	return worktree.NewCLIGitOperationsWithExecutor("", h.Executor())
}

// Setup configures git identity, checks out the session branch and records
// the commit the session starts from.
func (h *Handle) Setup(ctx context.Context, opts SetupOptions) (SetupResult, error) {
	if opts.Remote == "" {
		opts.Remote = "origin"
	}
	git := h.Git()

	if err := git.ConfigureIdentity(ctx, opts.UserName, opts.UserEmail); err != nil {
		return SetupResult{}, err
	}

	env := h.Environment()
	branch := env.Branch
	if branch == "" && opts.Branch != "" {
		if err := git.CreateBranch(ctx, opts.Branch); err != nil {
			return SetupResult{}, err
		}
		branch = opts.Branch
	}

	startRef, err := git.HeadSHA(ctx)
	if err != nil {
		return SetupResult{}, err
	}

	hasRemote, err := git.HasRemote(ctx, opts.Remote)
	if err != nil {
		h.logger.Warn("could not detect git remote", "error", err.Error())
		hasRemote = false
	}

	h.logger.Info("sandbox repository prepared",
		"branch", branch,
		"start_ref", startRef,
		"has_remote", hasRemote,
	)
	return SetupResult{Branch: branch, StartRef: startRef, HasRemote: hasRemote}, nil
}
