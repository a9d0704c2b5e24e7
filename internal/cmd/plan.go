package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/vibeflow/internal/config"
	"github.com/Iron-Ham/vibeflow/internal/plan"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Work with task plans",
}

var planValidateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Validate a plan file against the plan schema",
	Long: `Validate checks that a plan is a non-empty JSON array of
{"id", "name", "desc"} objects with unique ids made of letters, digits,
'_' and '-'. Without a file the configured plan file is checked.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPlanValidate,
}

func init() {
	rootCmd.AddCommand(planCmd)
	planCmd.AddCommand(planValidateCmd)
}

func runPlanValidate(cmd *cobra.Command, args []string) error {
	path := ""
	if len(args) == 1 {
		path = args[0]
	} else {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		root, err := repoRoot()
		if err != nil {
			return err
		}
		path = config.Resolve(root, cfg.Paths.PlanFile)
	}

	p, err := plan.Load(path)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s: %d tasks\n", path, len(p))
	for _, it := range p {
		fmt.Fprintf(out, "  %s  %s\n", it.ID, it.Name)
	}
	return nil
}
