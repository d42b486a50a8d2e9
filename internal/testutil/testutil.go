// Package testutil provides testing utilities for warren tests.
package testutil

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// SetupTestRepo creates a temporary git repository with one commit on main.
// The repository is automatically cleaned up when the test completes.
func SetupTestRepo(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()

	mustGit(t, dir, "init")
	mustGit(t, dir, "config", "user.email", "test@warren.dev")
	mustGit(t, dir, "config", "user.name", "Warren Test")

	// git worktree requires at least one commit
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("# Test Repository\n"), 0644); err != nil {
		t.Fatalf("failed to create README: %v", err)
	}
	mustGit(t, dir, "add", ".")
	mustGit(t, dir, "commit", "-m", "Initial commit")
	mustGit(t, dir, "branch", "-M", "main")

	return dir
}

// SetupTestRepoWithContent creates a test repository with specified files
// committed on top of the initial commit.
func SetupTestRepoWithContent(t *testing.T, files map[string]string) string {
	t.Helper()

	dir := SetupTestRepo(t)
	for path, content := range files {
		WriteFile(t, dir, path, content)
	}
	mustGit(t, dir, "add", ".")
	mustGit(t, dir, "commit", "-m", "Add test files")

	return dir
}

// SetupTestRepoWithRemote creates a test repository whose origin is a bare
// repository in another temp directory.
func SetupTestRepoWithRemote(t *testing.T) (repoDir, remoteDir string) {
	t.Helper()

	remoteDir = t.TempDir()
	mustGit(t, remoteDir, "init", "--bare")

	repoDir = SetupTestRepo(t)
	mustGit(t, repoDir, "remote", "add", "origin", remoteDir)
	mustGit(t, repoDir, "push", "-u", "origin", "main")

	return repoDir, remoteDir
}

// WriteFile creates or replaces a file below dir without committing it.
func WriteFile(t *testing.T, dir, path, content string) {
	t.Helper()

	fullPath := filepath.Join(dir, path)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		t.Fatalf("failed to create directory for %s: %v", path, err)
	}
	if err := os.WriteFile(fullPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write file %s: %v", path, err)
	}
}

// CommitFile creates or updates a file and commits it.
func CommitFile(t *testing.T, repoDir, path, content, message string) {
	t.Helper()

	WriteFile(t, repoDir, path, content)
	mustGit(t, repoDir, "add", path)
	mustGit(t, repoDir, "commit", "-m", message)
}

// Git runs a git command in dir and returns its trimmed output.
func Git(t *testing.T, dir string, args ...string) string {
	t.Helper()
	return strings.TrimSpace(mustGit(t, dir, args...))
}

// RemoteHasBranch reports whether a bare remote repository contains branch.
func RemoteHasBranch(t *testing.T, remoteDir, branch string) bool {
	t.Helper()

	cmd := exec.Command("git", "rev-parse", "--verify", "--quiet", "refs/heads/"+branch)
	cmd.Dir = remoteDir
	return cmd.Run() == nil
}

// SkipIfNoGit skips the test if git is not installed.
func SkipIfNoGit(t *testing.T) {
	t.Helper()

	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not found in PATH, skipping test")
	}
}

// SkipIfNoShell skips the test if sh is not installed.
func SkipIfNoShell(t *testing.T) {
	t.Helper()

	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not found in PATH, skipping test")
	}
}

func mustGit(t *testing.T, dir string, args ...string) string {
	t.Helper()

	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=Warren Test",
		"GIT_AUTHOR_EMAIL=test@warren.dev",
		"GIT_COMMITTER_NAME=Warren Test",
		"GIT_COMMITTER_EMAIL=test@warren.dev",
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %s: %v\n%s", strings.Join(args, " "), err, output)
	}
	return string(output)
}
