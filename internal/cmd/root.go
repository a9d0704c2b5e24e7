// Package cmd implements the vibeflow command line.
package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/vibeflow/internal/config"
	vferrors "github.com/Iron-Ham/vibeflow/internal/errors"
	"github.com/Iron-Ham/vibeflow/internal/worktree"
)

var rootCmd = &cobra.Command{
	Use:   "vibeflow",
	Short: "Plan, build, review and merge with parallel coding agents",
	Long: `Vibeflow drives the claude CLI through a full development session:
it indexes the repository, plans independent tasks, runs them in parallel
git worktrees, reviews and heals each one, merges the results into the
integration branch, runs the global test suite and writes a report.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// ExitError carries a specific process exit status.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode maps an Execute error to a process exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return 1
}

// Execute runs the root command.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		var ee *ExitError
		if !errors.As(err, &ee) || ee.Err != nil {
			fmt.Fprintln(os.Stderr, formatError(err, debugLogPath()))
		}
	}
	return err
}

// formatError renders err for the terminal. Errors not meant for users
// point at the debug log, which has the context they lack.
func formatError(err error, debugLog string) string {
	if vferrors.IsUserFacing(err) {
		return "Error: " + err.Error()
	}
	return fmt.Sprintf("Error: %v\nThis is unexpected; details are in %s", err, debugLog)
}

func debugLogPath() string {
	logDir := config.Default().Paths.LogDir
	if cfg, err := config.Load(); err == nil {
		logDir = cfg.Paths.LogDir
	}
	root, err := repoRoot()
	if err != nil {
		return filepath.Join(logDir, "debug.log")
	}
	return filepath.Join(config.Resolve(root, logDir), "debug.log")
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/vibeflow/config.yaml)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

func initConfig() {
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix("VIBEFLOW")
	// VIBEFLOW_FACTORY_MAX_RETRIES for factory.max_retries
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	_ = viper.ReadInConfig()
}

// loadConfig returns the validated configuration; an invalid one stops
// the command before any work begins.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// repoRoot is the repository containing the working directory, or the
// working directory itself when it is not inside one yet.
func repoRoot() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current directory: %w", err)
	}
	if root, err := worktree.FindGitRoot(cwd); err == nil {
		return root, nil
	}
	return cwd, nil
}
