package worktree

import "context"

// GitOperations defines the git operations sessions perform on their sandbox.
// Paths are implicit: an implementation is bound to one working tree.
type GitOperations interface {
	// Inspection
	HasUncommittedChanges(ctx context.Context) (bool, error)
	HeadSHA(ctx context.Context) (string, error)
	CurrentBranch(ctx context.Context) (string, error)
	Diff(ctx context.Context, ref string) (string, error)
	ChangedFiles(ctx context.Context, ref string) ([]string, error)
	HasRemote(ctx context.Context, name string) (bool, error)

	// Mutation
	ConfigureIdentity(ctx context.Context, name, email string) error
	CreateBranch(ctx context.Context, branch string) error
	CommitAll(ctx context.Context, message string) (bool, error)
	Checkout(ctx context.Context, ref string, paths ...string) error
	Push(ctx context.Context, remote, branch string) error
}

// WorktreeManager defines operations for managing git worktrees.
type WorktreeManager interface {
	Create(ctx context.Context, path, branch string) error
	Remove(ctx context.Context, path string) error
	List(ctx context.Context) ([]string, error)
	RepoDir() string
}

var (
	_ GitOperations   = (*CLIGitOperations)(nil)
	_ WorktreeManager = (*Manager)(nil)
)
