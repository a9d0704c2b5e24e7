package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/vibeflow/internal/config"
	"github.com/Iron-Ham/vibeflow/internal/logging"
)

var logsCmd = &cobra.Command{
	Use:   "logs [name]",
	Short: "View run logs",
	Long: `View and filter the logs of the current or last run.

Without arguments, shows entries from the structured debug log. With a
name, shows the tail of that log file: a task id, a phase such as
"architect" or "merge", or "integration_system" for raw test output.

Examples:
  # Last 50 warnings and errors
  vibeflow logs --level warn

  # Everything task_2 did
  vibeflow logs --task task_2 -n 0

  # Raw integration test output
  vibeflow logs integration_system`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLogs,
}

var (
	logsTail  int
	logsLevel string
	logsTask  string
	logsPhase string
	logsGrep  string
)

func init() {
	rootCmd.AddCommand(logsCmd)

	logsCmd.Flags().IntVarP(&logsTail, "tail", "n", 50, "Number of lines to show (0 for all)")
	logsCmd.Flags().StringVar(&logsLevel, "level", "", "Filter by minimum level (debug/info/warn/error)")
	logsCmd.Flags().StringVar(&logsTask, "task", "", "Only entries for this task id")
	logsCmd.Flags().StringVar(&logsPhase, "phase", "", "Only entries for this phase")
	logsCmd.Flags().StringVar(&logsGrep, "grep", "", "Only entries whose message contains this text")
}

func runLogs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	root, err := repoRoot()
	if err != nil {
		return err
	}
	logDir := config.Resolve(root, cfg.Paths.LogDir)
	out := cmd.OutOrStdout()

	if len(args) == 1 {
		return printLogFile(out, logDir, args[0], logsTail)
	}

	entries, err := logging.ReadEntries(logDir)
	if err != nil {
		return err
	}
	entries = logging.FilterLogs(entries, logging.LogFilter{
		Level:           logsLevel,
		TaskID:          logsTask,
		Phase:           logsPhase,
		MessageContains: logsGrep,
	})
	if logsTail > 0 && len(entries) > logsTail {
		entries = entries[len(entries)-logsTail:]
	}
	for _, e := range entries {
		fmt.Fprintln(out, e.Format())
	}
	return nil
}

func printLogFile(w io.Writer, logDir, name string, n int) error {
	name = strings.TrimSuffix(name, ".log")
	path := logging.FilePath(logDir, name)
	lines, err := logging.Tail(path, n)
	if err != nil {
		return err
	}
	if lines == nil {
		return fmt.Errorf("no log named %q in %s", name, logDir)
	}
	fmt.Fprintln(w, strings.Join(lines, "\n"))
	return nil
}
