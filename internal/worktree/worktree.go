package worktree

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Iron-Ham/warren/internal/errors"
)

// Manager handles git worktree operations against a base repository
type Manager struct {
	repoDir  string
	executor CommandExecutor
}

// FindGitRoot finds the root of the git repository by traversing up from startDir.
// It returns the directory containing .git (either a directory or a file for worktrees).
// Returns an error if no git repository is found.
func FindGitRoot(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}
	for {
		gitPath := filepath.Join(dir, ".git")
		if info, err := os.Stat(gitPath); err == nil {
			// .git can be a directory (normal repo) or a file (worktree)
			if info.IsDir() || info.Mode().IsRegular() {
				return dir, nil
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.ErrNotGitRepository
		}
		dir = parent
	}
}

// New creates a new worktree Manager for the repository containing repoDir
func New(repoDir string) (*Manager, error) {
	gitRoot, err := FindGitRoot(repoDir)
	if err != nil {
		return nil, errors.NewGitError("cannot manage worktrees", err).WithRepository(repoDir)
	}

	return &Manager{repoDir: gitRoot, executor: NewCLICommandExecutor()}, nil
}

// RepoDir returns the repository's root directory
func (m *Manager) RepoDir() string {
	return m.repoDir
}

// Create creates a new worktree at the given path with a new branch from HEAD
func (m *Manager) Create(ctx context.Context, path, branch string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create worktree parent: %w", err)
	}

	output, err := m.executor.Run(ctx, m.repoDir, "git", "worktree", "add", "-b", branch, path)
	if err != nil {
		return errors.NewGitError("failed to create worktree", err).
			WithRepository(m.repoDir).
			WithBranch(branch).
			WithGitOutput(string(output))
	}
	return nil
}

// Remove removes a worktree, falling back to deleting the directory and
// pruning stale worktree references when git refuses.
func (m *Manager) Remove(ctx context.Context, path string) error {
	output, err := m.executor.Run(ctx, m.repoDir, "git", "worktree", "remove", "--force", path)
	if err == nil {
		return nil
	}

	_ = os.RemoveAll(path)
	// prune runs even when ctx has expired.
	_, _ = m.executor.Run(context.Background(), m.repoDir, "git", "worktree", "prune")

	if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
		return nil
	}
	return errors.NewGitError("failed to remove worktree", err).
		WithRepository(m.repoDir).
		WithGitOutput(string(output))
}

// List returns the paths of all worktrees, the main working tree included
func (m *Manager) List(ctx context.Context) ([]string, error) {
	output, err := m.executor.Run(ctx, m.repoDir, "git", "worktree", "list", "--porcelain")
	if err != nil {
		return nil, errors.NewGitError("failed to list worktrees", err).
			WithRepository(m.repoDir).
			WithGitOutput(string(output))
	}

	var worktrees []string
	for _, line := range strings.Split(string(output), "\n") {
		if strings.HasPrefix(line, "worktree ") {
			worktrees = append(worktrees, strings.TrimPrefix(line, "worktree "))
		}
	}
	return worktrees, nil
}

// DeleteBranch deletes a local branch
func (m *Manager) DeleteBranch(ctx context.Context, branch string) error {
	output, err := m.executor.Run(ctx, m.repoDir, "git", "branch", "-D", branch)
	if err != nil {
		return errors.NewGitError("failed to delete branch", err).
			WithRepository(m.repoDir).
			WithBranch(branch).
			WithGitOutput(string(output))
	}
	return nil
}
