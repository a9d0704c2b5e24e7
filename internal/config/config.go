package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	vferrors "github.com/Iron-Ham/vibeflow/internal/errors"
)

// Config represents the complete vibeflow configuration. It is loaded once
// at startup and treated as immutable afterwards.
type Config struct {
	Paths       PathsConfig       `mapstructure:"paths"`
	Factory     FactoryConfig     `mapstructure:"factory"`
	Session     SessionConfig     `mapstructure:"session"`
	Agent       AgentConfig       `mapstructure:"agent"`
	Context     ContextConfig     `mapstructure:"context"`
	Integration IntegrationConfig `mapstructure:"integration"`
	Exec        ExecConfig        `mapstructure:"exec"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// PathsConfig holds the files vibeflow reads and writes, relative to the
// repository root unless absolute.
type PathsConfig struct {
	IndexFile        string `mapstructure:"index_file"`
	PlanFile         string `mapstructure:"plan_file"`
	ReportFile       string `mapstructure:"report_file"`
	CTOReportFile    string `mapstructure:"cto_report_file"`
	RequirementsFile string `mapstructure:"requirements_file"`
	LogDir           string `mapstructure:"log_dir"`
	WorktreeDir      string `mapstructure:"worktree_dir"`
	StateFile        string `mapstructure:"state_file"`
}

// Resolve returns p joined onto root when p is relative.
func Resolve(root, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}

// FactoryConfig controls the task scheduler and its self-healing loop.
type FactoryConfig struct {
	// MaxRetries is the attempt budget per task. Must be at least 1.
	MaxRetries int `mapstructure:"max_retries"`
	// MaxParallelAgents bounds how many tasks run at once. Must be at least 1.
	MaxParallelAgents int `mapstructure:"max_parallel_agents"`
	// Interactive runs agents inside tmux sessions instead of headless.
	Interactive bool `mapstructure:"interactive"`
	// ResetBeforeHeal hard-resets a task worktree to its last known-good
	// commit before every heal attempt.
	ResetBeforeHeal bool `mapstructure:"reset_before_heal"`
	// WatchOverlaps reports files written by more than one running task.
	WatchOverlaps     bool          `mapstructure:"watch_overlaps"`
	BaseDelay         time.Duration `mapstructure:"base_delay"`
	MaxDelay          time.Duration `mapstructure:"max_delay"`
	RateLimitDelay    time.Duration `mapstructure:"rate_limit_delay"`
	TaskTimeout       time.Duration `mapstructure:"task_timeout"`
	IntegrationBranch string        `mapstructure:"integration_branch"`
}

// SessionConfig controls the tmux-hosted agent sessions.
type SessionConfig struct {
	Prefix       string        `mapstructure:"prefix"`
	MaxSessions  int           `mapstructure:"max_sessions"`
	StaleAfter   time.Duration `mapstructure:"stale_after"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Warmup       time.Duration `mapstructure:"warmup"`
	// ConfirmKeys dismiss the agent's one-time confirmation screen.
	ConfirmKeys []string      `mapstructure:"confirm_keys"`
	ConfirmWait time.Duration `mapstructure:"confirm_wait"`
	ExitWait    time.Duration `mapstructure:"exit_wait"`
	StartCheck  time.Duration `mapstructure:"start_check"`
	// Socket selects a dedicated tmux server (tmux -L). Empty uses the default server.
	Socket string `mapstructure:"socket"`
}

// AgentConfig describes how the agent CLI is invoked.
type AgentConfig struct {
	Command string   `mapstructure:"command"`
	Args    []string `mapstructure:"args"`
}

// ContextConfig controls the repository context fed to the librarian.
type ContextConfig struct {
	MaxSizeKB      int      `mapstructure:"max_size_kb"`
	IgnorePatterns []string `mapstructure:"ignore_patterns"`
}

// IntegrationConfig controls the post-merge test and heal phase.
type IntegrationConfig struct {
	TestCommand  string `mapstructure:"test_command"`
	HealAttempts int    `mapstructure:"heal_attempts"`
	LogTailLines int    `mapstructure:"log_tail_lines"`
}

// ExecConfig controls external command execution.
type ExecConfig struct {
	MaxOutputBytes int           `mapstructure:"max_output_bytes"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// LoggingConfig controls debug logging behavior.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// DefaultIgnorePatterns are skipped when building repository context.
func DefaultIgnorePatterns() []string {
	return []string{
		"**/*.lock", "**/node_modules", "**/dist", "**/.git", "**/.DS_Store", "**/build",
		"**/.pio", "**/.env*", "**/*.key", "**/secrets.*", "**/__pycache__",
		"**/.vibe_worktrees", "**/.vibe_logs",
	}
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Paths: PathsConfig{
			IndexFile:        "project_index.json",
			PlanFile:         "vibe_plan.json",
			ReportFile:       "vibe_report.md",
			CTOReportFile:    "vibe_cto_report.md",
			RequirementsFile: "REQUIREMENTS.md",
			LogDir:           ".vibe_logs",
			WorktreeDir:      ".vibe_worktrees",
			StateFile:        ".vibe_logs/session.yaml",
		},
		Factory: FactoryConfig{
			MaxRetries:        3,
			MaxParallelAgents: 2,
			Interactive:       true,
			ResetBeforeHeal:   true,
			WatchOverlaps:     true,
			BaseDelay:         2 * time.Second,
			MaxDelay:          60 * time.Second,
			RateLimitDelay:    60 * time.Second,
			TaskTimeout:       0,
			IntegrationBranch: "vibe",
		},
		Session: SessionConfig{
			Prefix:       "vibe-task",
			MaxSessions:  10,
			StaleAfter:   time.Hour,
			PollInterval: 2 * time.Second,
			Warmup:       3 * time.Second,
			ConfirmKeys:  []string{"Down", "Enter"},
			ConfirmWait:  time.Second,
			ExitWait:     1500 * time.Millisecond,
			StartCheck:   500 * time.Millisecond,
		},
		Agent: AgentConfig{
			Command: "claude",
			Args:    []string{"--dangerously-skip-permissions"},
		},
		Context: ContextConfig{
			MaxSizeKB:      500,
			IgnorePatterns: DefaultIgnorePatterns(),
		},
		Integration: IntegrationConfig{
			HealAttempts: 2,
			LogTailLines: 100,
		},
		Exec: ExecConfig{
			MaxOutputBytes: 10 * 1024 * 1024,
			DefaultTimeout: 5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// SetDefaults registers default values and environment bindings with viper.
func SetDefaults() {
	d := Default()

	viper.SetDefault("paths.index_file", d.Paths.IndexFile)
	viper.SetDefault("paths.plan_file", d.Paths.PlanFile)
	viper.SetDefault("paths.report_file", d.Paths.ReportFile)
	viper.SetDefault("paths.cto_report_file", d.Paths.CTOReportFile)
	viper.SetDefault("paths.requirements_file", d.Paths.RequirementsFile)
	viper.SetDefault("paths.log_dir", d.Paths.LogDir)
	viper.SetDefault("paths.worktree_dir", d.Paths.WorktreeDir)
	viper.SetDefault("paths.state_file", d.Paths.StateFile)

	viper.SetDefault("factory.max_retries", d.Factory.MaxRetries)
	viper.SetDefault("factory.max_parallel_agents", d.Factory.MaxParallelAgents)
	viper.SetDefault("factory.interactive", d.Factory.Interactive)
	viper.SetDefault("factory.reset_before_heal", d.Factory.ResetBeforeHeal)
	viper.SetDefault("factory.watch_overlaps", d.Factory.WatchOverlaps)
	viper.SetDefault("factory.base_delay", d.Factory.BaseDelay)
	viper.SetDefault("factory.max_delay", d.Factory.MaxDelay)
	viper.SetDefault("factory.rate_limit_delay", d.Factory.RateLimitDelay)
	viper.SetDefault("factory.task_timeout", d.Factory.TaskTimeout)
	viper.SetDefault("factory.integration_branch", d.Factory.IntegrationBranch)

	viper.SetDefault("session.prefix", d.Session.Prefix)
	viper.SetDefault("session.max_sessions", d.Session.MaxSessions)
	viper.SetDefault("session.stale_after", d.Session.StaleAfter)
	viper.SetDefault("session.poll_interval", d.Session.PollInterval)
	viper.SetDefault("session.warmup", d.Session.Warmup)
	viper.SetDefault("session.confirm_keys", d.Session.ConfirmKeys)
	viper.SetDefault("session.confirm_wait", d.Session.ConfirmWait)
	viper.SetDefault("session.exit_wait", d.Session.ExitWait)
	viper.SetDefault("session.start_check", d.Session.StartCheck)
	viper.SetDefault("session.socket", d.Session.Socket)

	viper.SetDefault("agent.command", d.Agent.Command)
	viper.SetDefault("agent.args", d.Agent.Args)

	viper.SetDefault("context.max_size_kb", d.Context.MaxSizeKB)
	viper.SetDefault("context.ignore_patterns", d.Context.IgnorePatterns)

	viper.SetDefault("integration.test_command", d.Integration.TestCommand)
	viper.SetDefault("integration.heal_attempts", d.Integration.HealAttempts)
	viper.SetDefault("integration.log_tail_lines", d.Integration.LogTailLines)

	viper.SetDefault("exec.max_output_bytes", d.Exec.MaxOutputBytes)
	viper.SetDefault("exec.default_timeout", d.Exec.DefaultTimeout)

	viper.SetDefault("logging.level", d.Logging.Level)
	viper.SetDefault("logging.max_size_mb", d.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", d.Logging.MaxBackups)

	// The two historical knobs are read without the VIBEFLOW_ prefix too.
	_ = viper.BindEnv("factory.max_retries", "VIBEFLOW_FACTORY_MAX_RETRIES", "MAX_RETRIES")
	_ = viper.BindEnv("factory.max_parallel_agents", "VIBEFLOW_FACTORY_MAX_PARALLEL_AGENTS", "MAX_PARALLEL_AGENTS")
}

// Load unmarshals and validates the configuration held by viper.
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", vferrors.ErrConfigInvalid, err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "vibeflow")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".vibeflow"
	}
	return filepath.Join(home, ".config", "vibeflow")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
