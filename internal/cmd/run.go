package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/vibeflow/internal/cleanup"
	"github.com/Iron-Ham/vibeflow/internal/event"
	"github.com/Iron-Ham/vibeflow/internal/monitor"
	"github.com/Iron-Ham/vibeflow/internal/orchestrator"
	"github.com/Iron-Ham/vibeflow/internal/workflow"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a full development session in the current repository",
	Long: `Run detects the repository state and drives every phase:

  librarian    index the repository (skipped when the index is current)
  architect    plan independent tasks from REQUIREMENTS.md
  factory      build, review and heal each task in its own worktree
  merge        merge task branches into the integration branch
  integration  run the global test suite and heal cross-task breakage
  report       write the CTO review and the session report

In a fresh directory run initializes a repository, writes a
REQUIREMENTS.md template and stops so it can be filled in.

On a terminal a live monitor shows task progress. Press ':' for the
console (pause, resume, kill <task>, status, logs <task>).`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

var (
	runMaxRetries  int
	runMaxParallel int
	runDirect      bool
	runPlain       bool
)

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().IntVar(&runMaxRetries, "max-retries", 0, "Attempt budget per task (overrides factory.max_retries)")
	runCmd.Flags().IntVarP(&runMaxParallel, "parallel", "p", 0, "Tasks run at once (overrides factory.max_parallel_agents)")
	runCmd.Flags().BoolVar(&runDirect, "direct", false, "Invoke the agent headless instead of inside tmux sessions")
	runCmd.Flags().BoolVar(&runPlain, "plain", false, "Print progress lines instead of the live monitor")
}

func runRun(cmd *cobra.Command, args []string) error {
	if cmd.Flags().Changed("max-retries") {
		viper.Set("factory.max_retries", runMaxRetries)
	}
	if cmd.Flags().Changed("parallel") {
		viper.Set("factory.max_parallel_agents", runMaxParallel)
	}
	if runDirect {
		viper.Set("factory.interactive", false)
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	root, err := repoRoot()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	interactive := !runPlain && monitor.IsTerminal(os.Stdout) && monitor.IsTerminal(os.Stdin)
	var console io.Writer
	if !interactive {
		console = os.Stderr
	}
	e, err := newEnv(cfg, root, console)
	if err != nil {
		return err
	}
	defer e.close()

	agent, err := e.agent()
	if err != nil {
		return err
	}

	ctx, trap := cleanup.NewTrap(cmd.Context())
	defer trap.Stop()

	bus := event.NewBus(e.logger)
	if interactive {
		// The monitor only covers the factory; keep the other phases visible.
		phases := monitor.NewPlain(out)
		bus.Subscribe(event.TypePhaseStarted, phases.Handle)
		bus.Subscribe(event.TypePhaseCompleted, phases.Handle)
	}
	s := workflow.New(workflow.Deps{
		Config:    cfg,
		Root:      root,
		Git:       e.worktrees.Git(),
		Worktrees: e.worktrees,
		Agent:     agent,
		Runner:    e.runner,
		Bus:       bus,
		Logger:    e.logger,
		Out:       out,
		Styled:    monitor.IsTerminal(os.Stdout),
		Monitor: func(ctx context.Context, state *orchestrator.SessionState, control *orchestrator.Control) func() {
			m := monitor.Start(ctx, bus, state, control, monitor.Options{
				Interactive: interactive,
				Out:         out,
				OnAbort:     trap.Interrupt,
				Logger:      e.logger,
			})
			return m.Stop
		},
	})

	res, runErr := s.Run(ctx)
	if sig := trap.Signal(); sig != nil {
		e.logger.Warn("interrupted, sweeping worktrees and agent sessions", "signal", sig.String())
		swept := cleanup.Sweep(context.Background(), cleanup.Options{
			Worktrees: e.worktrees,
			Sessions:  e.sessions,
			Logger:    e.logger,
		})
		fmt.Fprintf(cmd.ErrOrStderr(), "Interrupted: removed %d worktrees and %d agent sessions\n",
			swept.WorktreesRemoved, swept.SessionsKilled)
		return &ExitError{Code: trap.ExitCode()}
	}
	if runErr != nil {
		return runErr
	}
	if res.RequirementsCreated {
		fmt.Fprintf(out, "Created %s. Describe what to build there, then run vibeflow again.\n", cfg.Paths.RequirementsFile)
	}
	return nil
}
