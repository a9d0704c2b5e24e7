package cmd

import (
	"fmt"
	"io"

	"github.com/Iron-Ham/vibeflow/internal/ai"
	"github.com/Iron-Ham/vibeflow/internal/config"
	"github.com/Iron-Ham/vibeflow/internal/executil"
	"github.com/Iron-Ham/vibeflow/internal/instance"
	"github.com/Iron-Ham/vibeflow/internal/logging"
	"github.com/Iron-Ham/vibeflow/internal/tmux"
	"github.com/Iron-Ham/vibeflow/internal/worktree"
)

// env holds the collaborators shared by the commands.
type env struct {
	cfg       *config.Config
	root      string
	logger    *logging.Logger
	runner    *executil.Exec
	tmux      *tmux.Client
	sessions  *instance.Runner
	worktrees *worktree.Manager
}

// newEnv wires the process-level collaborators for root. console, when
// set, mirrors log lines to the terminal.
func newEnv(cfg *config.Config, root string, console io.Writer) (*env, error) {
	logger, err := logging.NewLoggerWithRotation(
		config.Resolve(root, cfg.Paths.LogDir),
		cfg.Logging.Level,
		logging.RotationConfig{MaxSizeMB: cfg.Logging.MaxSizeMB, MaxBackups: cfg.Logging.MaxBackups},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	if console != nil {
		logger = logger.WithConsole(console)
	}

	runner := executil.New()
	runner.MaxOutput = cfg.Exec.MaxOutputBytes

	client := tmux.New(runner, cfg.Session.Socket)
	sessions := instance.NewRunner(client, cfg.Session, cfg.Agent,
		instance.WithLogger(logger),
		instance.WithStateHook(func(taskID string, s instance.State) {
			logger.WithTask(taskID).Debug("agent session state", "state", string(s))
		}),
	)

	wt, err := worktree.New(root, config.Resolve(root, cfg.Paths.WorktreeDir), runner, worktree.WithLogger(logger))
	if err != nil {
		_ = logger.Close()
		return nil, fmt.Errorf("failed to create worktree manager: %w", err)
	}

	return &env{
		cfg:       cfg,
		root:      root,
		logger:    logger,
		runner:    runner,
		tmux:      client,
		sessions:  sessions,
		worktrees: wt,
	}, nil
}

func (e *env) agent() (ai.Backend, error) {
	return ai.NewFromConfig(e.cfg, e.runner, e.sessions, e.logger)
}

func (e *env) close() {
	_ = e.logger.Close()
}
