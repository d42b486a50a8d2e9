package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/warren/internal/cleanup"
	"github.com/Iron-Ham/warren/internal/config"
	"github.com/Iron-Ham/warren/internal/worktree"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove sandboxes left behind by an interrupted run",
	Long: `Cleanup removes sandbox resources that a warren process could not release,
for example after it was killed:

- Worktrees in <data_dir>/worktrees/
- Containers named warren-* (with --containers, default for the docker runtime)
- <prefix>/* branches (only with --branches; they may hold unpushed commits)

Worktrees with uncommitted changes are kept unless --include-dirty is given.
Cleanup refuses to run while another warren process uses the repository.
Use --dry-run to see what would be removed.`,
	RunE: runCleanup,
}

var (
	cleanupDryRun       bool
	cleanupForce        bool
	cleanupBranches     bool
	cleanupContainers   bool
	cleanupIncludeDirty bool
)

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "Show what would be removed without making changes")
	cleanupCmd.Flags().BoolVarP(&cleanupForce, "force", "f", false, "Skip confirmation prompt")
	cleanupCmd.Flags().BoolVar(&cleanupBranches, "branches", false, "Also delete sandbox branches")
	cleanupCmd.Flags().BoolVar(&cleanupContainers, "containers", false, "Also remove sandbox containers")
	cleanupCmd.Flags().BoolVar(&cleanupIncludeDirty, "include-dirty", false, "Remove worktrees with uncommitted changes")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get current directory: %w", err)
	}
	repo, err := worktree.FindGitRoot(cwd)
	if err != nil {
		return err
	}

	dataDir := cfg.Paths.ResolveDataDir(repo)
	live, err := cleanup.LivePIDs(dataDir)
	if err != nil {
		return fmt.Errorf("failed to check for running warren processes: %w", err)
	}
	if len(live) > 0 {
		return fmt.Errorf("warren is running in this repository (pid %v); stop it first", live)
	}

	plan, err := cleanup.Snapshot(cmd.Context(), cleanup.Options{
		RepoDir:      repo,
		WorktreeDir:  cfg.Paths.WorktreeDir(repo),
		BranchPrefix: cfg.Git.BranchPrefix,
		Branches:     cleanupBranches,
		Containers:   cleanupContainers || cfg.Sandbox.Runtime == "docker",
		Force:        cleanupIncludeDirty,
	})
	if err != nil {
		return fmt.Errorf("failed to discover stale resources: %w", err)
	}
	if plan.Empty() {
		fmt.Fprintln(out, "No stale resources found. Nothing to clean up.")
		return nil
	}

	printCleanupPlan(out, plan)
	if cleanupDryRun {
		fmt.Fprintln(out, "\nDry run mode - no changes made.")
		return nil
	}

	if !cleanupForce {
		fmt.Fprint(out, "\nProceed with cleanup? [y/N] ")
		response, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		response = strings.TrimSpace(strings.ToLower(response))
		if response != "y" && response != "yes" {
			fmt.Fprintln(out, "Cleanup cancelled.")
			return nil
		}
	}

	x, err := cleanup.NewExecutor(plan, nil, nil)
	if err != nil {
		return err
	}
	res := x.Execute(cmd.Context())
	for _, msg := range res.Errors {
		fmt.Fprintf(out, "  %s %s\n", warningStyle.Render("!"), msg)
	}
	fmt.Fprintf(out, "Removed %d worktrees, %d branches, %d containers.\n",
		res.WorktreesRemoved, res.BranchesDeleted, res.ContainersRemoved)
	if res.Total() == 0 && len(res.Errors) > 0 {
		return fmt.Errorf("cleanup failed: %d errors", len(res.Errors))
	}
	return nil
}

func printCleanupPlan(out io.Writer, plan *cleanup.Plan) {
	if len(plan.Worktrees) > 0 {
		fmt.Fprintf(out, "Worktrees (%d):\n", len(plan.Worktrees))
		for _, sw := range plan.Worktrees {
			note := ""
			if sw.HasUncommitted {
				note = warningStyle.Render(" [uncommitted changes]")
				if !plan.Force {
					note += dimStyle.Render(" kept")
				}
			}
			fmt.Fprintf(out, "  %s %s%s\n", sw.Path, dimStyle.Render(sw.Branch), note)
		}
	}
	if len(plan.Branches) > 0 {
		fmt.Fprintf(out, "Branches (%d):\n", len(plan.Branches))
		for _, b := range plan.Branches {
			fmt.Fprintf(out, "  %s\n", b)
		}
	}
	if len(plan.Containers) > 0 {
		fmt.Fprintf(out, "Containers (%d):\n", len(plan.Containers))
		for _, c := range plan.Containers {
			fmt.Fprintf(out, "  %s\n", c)
		}
	}
}
