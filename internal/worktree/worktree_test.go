package worktree

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/Iron-Ham/warren/internal/errors"
	"github.com/Iron-Ham/warren/internal/testutil"
)

func TestFindGitRoot(t *testing.T) {
	testutil.SkipIfNoGit(t)

	tests := []struct {
		name    string
		setup   func(t *testing.T) (startDir string, wantRoot string)
		wantErr bool
	}{
		{
			name: "from repository root",
			setup: func(t *testing.T) (string, string) {
				repoDir := testutil.SetupTestRepo(t)
				return repoDir, repoDir
			},
		},
		{
			name: "from nested subdirectory",
			setup: func(t *testing.T) (string, string) {
				repoDir := testutil.SetupTestRepo(t)
				subDir := filepath.Join(repoDir, "a", "b", "c")
				if err := os.MkdirAll(subDir, 0755); err != nil {
					t.Fatalf("failed to create subdirectory: %v", err)
				}
				return subDir, repoDir
			},
		},
		{
			name: "non-git directory",
			setup: func(t *testing.T) (string, string) {
				return t.TempDir(), ""
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			startDir, wantRoot := tt.setup(t)

			got, err := FindGitRoot(startDir)
			if tt.wantErr {
				if !errors.Is(err, errors.ErrNotGitRepository) {
					t.Errorf("FindGitRoot() error = %v, want ErrNotGitRepository", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("FindGitRoot() error = %v", err)
			}
			if got != wantRoot {
				t.Errorf("FindGitRoot() = %q, want %q", got, wantRoot)
			}
		})
	}
}

func TestManager_CreateListRemove(t *testing.T) {
	testutil.SkipIfNoGit(t)
	ctx := context.Background()

	repoDir := testutil.SetupTestRepo(t)
	mgr, err := New(repoDir)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	wtPath := filepath.Join(t.TempDir(), "nested", "wt-1")
	if err := mgr.Create(ctx, wtPath, "warren/test-1"); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(wtPath, "README.md")); err != nil {
		t.Errorf("worktree is missing checked out files: %v", err)
	}

	branch, err := NewCLIGitOperations(wtPath).CurrentBranch(ctx)
	if err != nil || branch != "warren/test-1" {
		t.Errorf("CurrentBranch() = %q, %v; want warren/test-1", branch, err)
	}

	list, err := mgr.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 2 {
		t.Errorf("List() = %v, want main tree and one worktree", list)
	}

	if err := mgr.Create(ctx, filepath.Join(t.TempDir(), "wt-2"), "warren/test-1"); err == nil {
		t.Error("Create() with an existing branch should fail")
	}

	// dirty worktrees are removed too
	testutil.WriteFile(t, wtPath, "scratch.txt", "x")
	if err := mgr.Remove(ctx, wtPath); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, err := os.Stat(wtPath); !os.IsNotExist(err) {
		t.Errorf("worktree directory still exists after Remove()")
	}

	if err := mgr.DeleteBranch(ctx, "warren/test-1"); err != nil {
		t.Errorf("DeleteBranch() error = %v", err)
	}
}

func TestManager_RemoveMissingPath(t *testing.T) {
	testutil.SkipIfNoGit(t)

	mgr, err := New(testutil.SetupTestRepo(t))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	missing := filepath.Join(t.TempDir(), "never-created")
	if err := mgr.Remove(context.Background(), missing); err != nil {
		t.Errorf("Remove() of a missing path = %v, want nil", err)
	}
}

func TestCLIGitOperations_RealRepository(t *testing.T) {
	testutil.SkipIfNoGit(t)
	ctx := context.Background()

	repoDir := testutil.SetupTestRepo(t)
	g := NewCLIGitOperations(repoDir)

	start, err := g.HeadSHA(ctx)
	if err != nil {
		t.Fatalf("HeadSHA() error = %v", err)
	}

	testutil.WriteFile(t, repoDir, "README.md", "# changed\n")
	testutil.WriteFile(t, repoDir, "new.go", "package main\n")

	dirty, err := g.HasUncommittedChanges(ctx)
	if err != nil || !dirty {
		t.Fatalf("HasUncommittedChanges() = %v, %v; want true", dirty, err)
	}

	files, err := g.ChangedFiles(ctx, start)
	if err != nil {
		t.Fatalf("ChangedFiles() error = %v", err)
	}
	if len(files) != 2 {
		t.Errorf("ChangedFiles() = %v, want README.md and new.go", files)
	}

	if err := g.Checkout(ctx, start, "README.md"); err != nil {
		t.Fatalf("Checkout() error = %v", err)
	}
	content, _ := os.ReadFile(filepath.Join(repoDir, "README.md"))
	if string(content) != "# Test Repository\n" {
		t.Errorf("README.md after Checkout() = %q", content)
	}

	committed, err := g.CommitAll(ctx, "add new.go")
	if err != nil || !committed {
		t.Fatalf("CommitAll() = %v, %v", committed, err)
	}
	committed, err = g.CommitAll(ctx, "again")
	if err != nil || committed {
		t.Errorf("second CommitAll() = %v, %v; want false, nil", committed, err)
	}

	diff, err := g.Diff(ctx, start)
	if err != nil {
		t.Fatalf("Diff() error = %v", err)
	}
	if diff == "" {
		t.Error("Diff() against start should include the committed file")
	}

	has, err := g.HasRemote(ctx, "origin")
	if err != nil || has {
		t.Errorf("HasRemote() = %v, %v; want false", has, err)
	}
}

func TestCLIGitOperations_PushToRemote(t *testing.T) {
	testutil.SkipIfNoGit(t)
	ctx := context.Background()

	repoDir, remoteDir := testutil.SetupTestRepoWithRemote(t)
	g := NewCLIGitOperations(repoDir)

	if err := g.CreateBranch(ctx, "warren/push-test"); err != nil {
		t.Fatalf("CreateBranch() error = %v", err)
	}
	testutil.CommitFile(t, repoDir, "feature.txt", "hello", "feature")

	if err := g.Push(ctx, "origin", "warren/push-test"); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	if !testutil.RemoteHasBranch(t, remoteDir, "warren/push-test") {
		t.Error("remote is missing the pushed branch")
	}
}

func TestCLIGitOperations_SnapshotAndRestore(t *testing.T) {
	testutil.SkipIfNoGit(t)
	repo := testutil.SetupTestRepo(t)
	testutil.CommitFile(t, repo, ".gitignore", "*.log\n", "Ignore logs")
	ctx := context.Background()

	// Uncommitted work that predates the snapshot.
	testutil.WriteFile(t, repo, "README.md", "# edited earlier\n")
	testutil.WriteFile(t, repo, "earlier.txt", "keep me\n")

	g := NewCLIGitOperations(repo)
	snap, err := g.SnapshotWorkTree(ctx)
	if err != nil {
		t.Fatalf("SnapshotWorkTree() error = %v", err)
	}
	if snap.Tree == "" || snap.Index == "" {
		t.Fatalf("SnapshotWorkTree() = %+v", snap)
	}
	if status := testutil.Git(t, repo, "diff", "--cached", "--name-only"); status != "" {
		t.Errorf("snapshot staged %q in the real index", status)
	}

	testutil.WriteFile(t, repo, "README.md", "# overwritten\n")
	if err := os.Remove(filepath.Join(repo, "earlier.txt")); err != nil {
		t.Fatal(err)
	}
	testutil.WriteFile(t, repo, "later.txt", "drop me\n")
	testutil.WriteFile(t, repo, "nested/later.txt", "drop me too\n")
	testutil.WriteFile(t, repo, "debug.log", "ignored\n")
	testutil.Git(t, repo, "add", "later.txt")

	if err := g.RestoreWorkTree(ctx, snap); err != nil {
		t.Fatalf("RestoreWorkTree() error = %v", err)
	}

	for path, want := range map[string]string{
		"README.md":   "# edited earlier\n",
		"earlier.txt": "keep me\n",
		"debug.log":   "ignored\n",
	} {
		got, err := os.ReadFile(filepath.Join(repo, path))
		if err != nil || string(got) != want {
			t.Errorf("%s = %q, %v; want %q", path, got, err, want)
		}
	}
	for _, path := range []string{"later.txt", "nested"} {
		if _, err := os.Stat(filepath.Join(repo, path)); !os.IsNotExist(err) {
			t.Errorf("%s survived the restore: %v", path, err)
		}
	}
	if staged := testutil.Git(t, repo, "diff", "--cached", "--name-only"); staged != "" {
		t.Errorf("index not restored, staged: %q", staged)
	}
}
