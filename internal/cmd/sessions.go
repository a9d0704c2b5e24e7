package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Iron-Ham/vibeflow/internal/tmux"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect and manage agent tmux sessions",
	Long: `Each task's agent runs in a detached tmux session named
<session.prefix>-<task id>. These commands list, attach to, inspect and
kill those sessions.`,
}

var sessionsListCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List agent sessions",
	Args:    cobra.NoArgs,
	RunE:    runSessionsList,
}

var sessionsAttachCmd = &cobra.Command{
	Use:   "attach <task>",
	Short: "Attach the terminal to a task's session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsAttach,
}

var sessionsKillCmd = &cobra.Command{
	Use:   "kill [task]",
	Short: "Kill a task's session, or every session with --all",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSessionsKill,
}

var sessionsCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Check that tmux is installed and report its version",
	Args:  cobra.NoArgs,
	RunE:  runSessionsCheck,
}

var sessionsStatusCmd = &cobra.Command{
	Use:   "status <task>",
	Short: "Show the last lines of a task's session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsStatus,
}

var (
	sessionsKillAll bool
	sessionsLines   int
)

func init() {
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsAttachCmd)
	sessionsCmd.AddCommand(sessionsKillCmd)
	sessionsCmd.AddCommand(sessionsCheckCmd)
	sessionsCmd.AddCommand(sessionsStatusCmd)

	sessionsKillCmd.Flags().BoolVar(&sessionsKillAll, "all", false, "Kill every agent session")
	sessionsStatusCmd.Flags().IntVarP(&sessionsLines, "lines", "n", 40, "Number of lines to capture")
}

func sessionsEnv() (*env, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	root, err := repoRoot()
	if err != nil {
		return nil, err
	}
	return newEnv(cfg, root, nil)
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	e, err := sessionsEnv()
	if err != nil {
		return err
	}
	defer e.close()

	sessions, err := e.sessions.Sessions(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(sessions) == 0 {
		fmt.Fprintln(out, "No agent sessions")
		return nil
	}
	printSessions(out, sessions, time.Now())
	return nil
}

func printSessions(w io.Writer, sessions []tmux.Session, now time.Time) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tCREATED\tATTACHED")
	for _, s := range sessions {
		created := "-"
		if !s.Created.IsZero() {
			created = now.Sub(s.Created).Truncate(time.Second).String() + " ago"
		}
		attached := "no"
		if s.Attached {
			attached = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", s.Name, created, attached)
	}
	_ = tw.Flush()
}

func runSessionsAttach(cmd *cobra.Command, args []string) error {
	e, err := sessionsEnv()
	if err != nil {
		return err
	}
	defer e.close()

	name := e.sessions.SessionName(args[0])
	if !e.tmux.HasSession(cmd.Context(), name) {
		return fmt.Errorf("no agent session %q", name)
	}
	argv := e.sessions.AttachCommand(args[0])
	c := exec.CommandContext(cmd.Context(), argv[0], argv[1:]...)
	c.Stdin = os.Stdin
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr
	return c.Run()
}

func runSessionsKill(cmd *cobra.Command, args []string) error {
	if sessionsKillAll == (len(args) == 1) {
		return fmt.Errorf("give either a task or --all")
	}
	e, err := sessionsEnv()
	if err != nil {
		return err
	}
	defer e.close()
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if !sessionsKillAll {
		if err := e.sessions.Kill(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(out, "Killed %s\n", e.sessions.SessionName(args[0]))
		return nil
	}

	sessions, err := e.sessions.Sessions(ctx)
	if err != nil {
		return err
	}
	n, err := killSessions(ctx, e.tmux, sessions)
	fmt.Fprintf(out, "Killed %d of %d sessions\n", n, len(sessions))
	return err
}

// killSessions kills sessions concurrently, returning how many went away
// and the first failure.
func killSessions(ctx context.Context, client *tmux.Client, sessions []tmux.Session) (int, error) {
	var g errgroup.Group
	g.SetLimit(4)
	killed := make([]bool, len(sessions))
	for i, s := range sessions {
		g.Go(func() error {
			if err := client.KillSession(ctx, s.Name); err != nil {
				return fmt.Errorf("kill %s: %w", s.Name, err)
			}
			killed[i] = true
			return nil
		})
	}
	err := g.Wait()
	n := 0
	for _, k := range killed {
		if k {
			n++
		}
	}
	return n, err
}

func runSessionsCheck(cmd *cobra.Command, args []string) error {
	e, err := sessionsEnv()
	if err != nil {
		return err
	}
	defer e.close()

	version, err := e.tmux.Version(cmd.Context())
	if err != nil {
		return fmt.Errorf("tmux is not available: %w", err)
	}
	sessions, _ := e.sessions.Sessions(cmd.Context())
	fmt.Fprintf(cmd.OutOrStdout(), "%s\n%d agent sessions (limit %d)\n", version, len(sessions), e.cfg.Session.MaxSessions)
	return nil
}

func runSessionsStatus(cmd *cobra.Command, args []string) error {
	e, err := sessionsEnv()
	if err != nil {
		return err
	}
	defer e.close()

	text, err := e.sessions.Tail(cmd.Context(), args[0], sessionsLines)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), text)
	return nil
}
