package cmd

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/vibeflow/internal/config"
	"github.com/Iron-Ham/vibeflow/internal/orchestrator"
	"github.com/Iron-Ham/vibeflow/internal/session"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of the current or last run",
	Long:  `Display the run snapshot: phase, tasks, statuses and failed attempts.`,
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	root, err := repoRoot()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	snap, err := session.NewStore(config.Resolve(root, cfg.Paths.StateFile)).Load()
	if errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintln(out, "No run recorded")
		return nil
	}
	if err != nil {
		return err
	}
	lock, alive := session.IsLocked(config.Resolve(root, cfg.Paths.LogDir))
	if !alive {
		lock = nil
	}
	printSnapshot(out, snap, lock, time.Now())
	return nil
}

func printSnapshot(w io.Writer, snap orchestrator.Snapshot, lock *session.Lock, now time.Time) {
	if lock != nil {
		fmt.Fprintf(w, "Run %s in progress (pid %d, started %s)\n", lock.RunID, lock.PID, lock.StartedAt.Format("2006-01-02 15:04:05"))
	}
	fmt.Fprintf(w, "Mode: %s  Domain: %s  Phase: %s\n", snap.Mode, snap.Domain, orDash(snap.Phase))
	fmt.Fprintf(w, "Started: %s  Updated: %s ago\n\n",
		snap.StartedAt.Format("2006-01-02 15:04:05"), now.Sub(snap.UpdatedAt).Truncate(time.Second))

	if len(snap.Tasks) == 0 {
		fmt.Fprintln(w, "No tasks planned yet")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tFAILED\tDURATION\tBRANCH")
	for _, t := range snap.Tasks {
		dur := "-"
		if d := t.Duration(); d > 0 {
			dur = d.Truncate(time.Second).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n", t.ID, t.Name, t.Status, t.Attempts, dur, orDash(t.BranchName))
	}
	_ = tw.Flush()

	for _, t := range snap.Tasks {
		if t.Status == orchestrator.StatusFailed && t.LastError != "" {
			fmt.Fprintf(w, "\n%s: %s", t.ID, t.LastError)
		}
	}
	fmt.Fprintln(w)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
