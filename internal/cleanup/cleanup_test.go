package cleanup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"testing"

	"github.com/Iron-Ham/warren/internal/testutil"
	"github.com/Iron-Ham/warren/internal/worktree"
)

// dockerStub answers docker commands and runs everything else on the host.
type dockerStub struct {
	host      worktree.CommandExecutor
	ps        string
	removed   []string
	rmFailure string
}

func (d *dockerStub) Run(ctx context.Context, dir string, name string, args ...string) ([]byte, error) {
	if name != "docker" {
		return d.host.Run(ctx, dir, name, args...)
	}
	switch args[0] {
	case "ps":
		return []byte(d.ps), nil
	case "rm":
		target := args[len(args)-1]
		if target == d.rmFailure {
			return []byte("Error response from daemon: No such container: " + target), fmt.Errorf("exit status 1")
		}
		d.removed = append(d.removed, target)
		return []byte(target + "\n"), nil
	}
	return nil, fmt.Errorf("unexpected docker %v", args)
}

func setupSandboxes(t *testing.T) (repo, worktreeDir string, mgr *worktree.Manager) {
	t.Helper()
	testutil.SkipIfNoGit(t)

	repo = testutil.SetupTestRepo(t)
	worktreeDir = filepath.Join(repo, ".warren", "worktrees")
	mgr, err := worktree.New(repo)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	for _, name := range []string{"clean", "dirty"} {
		if err := mgr.Create(ctx, filepath.Join(worktreeDir, name), "warren/"+name); err != nil {
			t.Fatalf("Create(%s) error = %v", name, err)
		}
	}
	// Outside the sandbox directory; never touched.
	if err := mgr.Create(ctx, filepath.Join(t.TempDir(), "mine"), "feature/mine"); err != nil {
		t.Fatal(err)
	}
	testutil.WriteFile(t, filepath.Join(worktreeDir, "dirty"), "wip.txt", "unsaved\n")
	testutil.Git(t, repo, "branch", "warren/orphan")
	return repo, worktreeDir, mgr
}

func TestSnapshot(t *testing.T) {
	repo, worktreeDir, _ := setupSandboxes(t)

	plan, err := Snapshot(context.Background(), Options{
		RepoDir:      repo,
		WorktreeDir:  worktreeDir,
		BranchPrefix: "warren",
		Branches:     true,
	})
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}

	if len(plan.Worktrees) != 2 {
		t.Fatalf("Worktrees = %+v, want the two sandboxes", plan.Worktrees)
	}
	byBranch := make(map[string]StaleWorktree)
	for _, sw := range plan.Worktrees {
		byBranch[sw.Branch] = sw
	}
	if sw := byBranch["warren/clean"]; sw.Path == "" || sw.HasUncommitted {
		t.Errorf("clean sandbox = %+v", sw)
	}
	if sw := byBranch["warren/dirty"]; !sw.HasUncommitted {
		t.Errorf("dirty sandbox = %+v, want HasUncommitted", sw)
	}

	want := []string{"warren/clean", "warren/dirty", "warren/orphan"}
	if !slices.Equal(plan.Branches, want) {
		t.Errorf("Branches = %v, want %v", plan.Branches, want)
	}
	if len(plan.Containers) != 0 {
		t.Errorf("Containers = %v without Options.Containers", plan.Containers)
	}
}

func TestExecute(t *testing.T) {
	tests := []struct {
		name          string
		force         bool
		wantWorktrees int
		wantBranches  int
		wantErrors    int
		dirtyRemains  bool
	}{
		{name: "keeps uncommitted work", wantWorktrees: 1, wantBranches: 2, wantErrors: 1, dirtyRemains: true},
		{name: "force", force: true, wantWorktrees: 2, wantBranches: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, worktreeDir, _ := setupSandboxes(t)
			ctx := context.Background()

			plan, err := Snapshot(ctx, Options{
				RepoDir:      repo,
				WorktreeDir:  worktreeDir,
				BranchPrefix: "warren",
				Branches:     true,
				Force:        tt.force,
			})
			if err != nil {
				t.Fatal(err)
			}
			x, err := NewExecutor(plan, nil, nil)
			if err != nil {
				t.Fatal(err)
			}
			res := x.Execute(ctx)

			if res.WorktreesRemoved != tt.wantWorktrees || res.BranchesDeleted != tt.wantBranches || len(res.Errors) != tt.wantErrors {
				t.Errorf("Execute() = %+v", res)
			}
			if _, err := os.Stat(filepath.Join(worktreeDir, "clean")); !os.IsNotExist(err) {
				t.Errorf("clean sandbox still exists: %v", err)
			}
			_, err = os.Stat(filepath.Join(worktreeDir, "dirty"))
			if tt.dirtyRemains && err != nil {
				t.Errorf("dirty sandbox removed without force: %v", err)
			}
			if !tt.dirtyRemains && !os.IsNotExist(err) {
				t.Errorf("dirty sandbox still exists with force: %v", err)
			}

			branches := testutil.Git(t, repo, "branch", "--list")
			if !strings.Contains(branches, "feature/mine") {
				t.Errorf("unrelated branch deleted: %s", branches)
			}
			if strings.Contains(branches, "warren/orphan") {
				t.Errorf("orphan sandbox branch survived: %s", branches)
			}

			if again := x.Execute(ctx); again.Total() != 0 {
				t.Errorf("second Execute() = %+v, want nothing removed", again)
			}
		})
	}
}

func TestContainers(t *testing.T) {
	testutil.SkipIfNoGit(t)
	repo := testutil.SetupTestRepo(t)
	stub := &dockerStub{
		host:      worktree.NewCLICommandExecutor(),
		ps:        "warren-app-1a2b3c4d\nunrelated-warren-x\nwarren-app-gone\n",
		rmFailure: "warren-app-gone",
	}
	ctx := context.Background()

	plan, err := Snapshot(ctx, Options{
		RepoDir:     repo,
		WorktreeDir: filepath.Join(repo, ".warren", "worktrees"),
		Containers:  true,
		Executor:    stub,
	})
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if want := []string{"warren-app-1a2b3c4d", "warren-app-gone"}; !slices.Equal(plan.Containers, want) {
		t.Fatalf("Containers = %v, want %v", plan.Containers, want)
	}

	x, err := NewExecutor(plan, stub, nil)
	if err != nil {
		t.Fatal(err)
	}
	res := x.Execute(ctx)
	if res.ContainersRemoved != 1 || len(res.Errors) != 0 {
		t.Errorf("Execute() = %+v", res)
	}
	if !slices.Equal(stub.removed, []string{"warren-app-1a2b3c4d"}) {
		t.Errorf("removed = %v", stub.removed)
	}
}

func TestPlan_Empty(t *testing.T) {
	if !(&Plan{}).Empty() {
		t.Error("zero plan is not empty")
	}
	if (&Plan{Containers: []string{"warren-x"}}).Empty() {
		t.Error("plan with a container is empty")
	}
}

func TestRegisterAndLivePIDs(t *testing.T) {
	dataDir := t.TempDir()

	release, err := Register(dataDir)
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	self := filepath.Join(dataDir, RunDir, strconv.Itoa(os.Getpid()))
	if _, err := os.Stat(self); err != nil {
		t.Fatalf("process record missing: %v", err)
	}

	dead := filepath.Join(dataDir, RunDir, "999999999")
	if err := os.WriteFile(dead, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dataDir, RunDir, "notes.txt"), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	live, err := LivePIDs(dataDir)
	if err != nil {
		t.Fatalf("LivePIDs() error = %v", err)
	}
	if len(live) != 0 {
		t.Errorf("LivePIDs() = %v, want none besides this process", live)
	}
	if _, err := os.Stat(dead); !os.IsNotExist(err) {
		t.Error("record of a dead process was kept")
	}

	release()
	if _, err := os.Stat(self); !os.IsNotExist(err) {
		t.Error("release did not remove the record")
	}
}

func TestLivePIDs_NoRunDir(t *testing.T) {
	live, err := LivePIDs(filepath.Join(t.TempDir(), "missing"))
	if err != nil || live != nil {
		t.Errorf("LivePIDs() = %v, %v", live, err)
	}
}

func TestWithin(t *testing.T) {
	tests := []struct {
		root, path string
		want       bool
	}{
		{"/repo/.warren/worktrees", "/repo/.warren/worktrees/a", true},
		{"/repo/.warren/worktrees", "/repo/.warren/worktrees", false},
		{"/repo/.warren/worktrees", "/repo/.warren/worktrees-old/a", false},
		{"/repo/.warren/worktrees", "/repo", false},
	}
	for _, tt := range tests {
		if got := within(tt.root, tt.path); got != tt.want {
			t.Errorf("within(%q, %q) = %v, want %v", tt.root, tt.path, got, tt.want)
		}
	}
}
