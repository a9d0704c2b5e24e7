package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/vibeflow/internal/cleanup"
	"github.com/Iron-Ham/vibeflow/internal/config"
	"github.com/Iron-Ham/vibeflow/internal/session"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove task worktrees and agent sessions left by a run",
	Long: `Cleanup removes everything an interrupted or crashed run can leave behind:

- Worktrees under the worktree directory (default .vibe_worktrees/)
- Agent tmux sessions (<session.prefix>-*)
- With --branches, the vibe-task_* branches as well

Cleanup refuses to run while another run holds the lock.`,
	Args: cobra.NoArgs,
	RunE: runCleanup,
}

var cleanupBranches bool

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().BoolVar(&cleanupBranches, "branches", false, "Also delete vibe-task_* branches")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	root, err := repoRoot()
	if err != nil {
		return err
	}
	if lock, locked := session.IsLocked(config.Resolve(root, cfg.Paths.LogDir)); locked {
		return fmt.Errorf("run %s (pid %d) is still active", lock.RunID, lock.PID)
	}

	e, err := newEnv(cfg, root, nil)
	if err != nil {
		return err
	}
	defer e.close()

	res := cleanup.Sweep(cmd.Context(), cleanup.Options{
		Worktrees:      e.worktrees,
		Sessions:       e.sessions,
		Branches:       e.worktrees.Git(),
		DeleteBranches: cleanupBranches,
		Logger:         e.logger,
	})

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Removed %d worktrees, killed %d sessions, deleted %d branches\n",
		res.WorktreesRemoved, res.SessionsKilled, res.BranchesDeleted)
	for _, msg := range res.Errors {
		fmt.Fprintf(out, "  ! %s\n", msg)
	}
	if len(res.Errors) > 0 && res.Total() == 0 {
		return fmt.Errorf("cleanup failed: %d errors", len(res.Errors))
	}
	return nil
}
