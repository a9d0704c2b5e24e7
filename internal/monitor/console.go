package monitor

import (
	"fmt"
	"strings"

	"github.com/Iron-Ham/vibeflow/internal/orchestrator"
)

// ConsoleHelp lists the debug console commands.
const ConsoleHelp = "pause | resume | kill <task> | status | logs <task>"

// ParseCommand turns a debug console line into a scheduler command.
func ParseCommand(line string) (orchestrator.Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return orchestrator.Command{}, fmt.Errorf("empty command; try %s", ConsoleHelp)
	}
	kind := orchestrator.CommandKind(strings.ToLower(fields[0]))
	args := fields[1:]

	switch kind {
	case orchestrator.CmdPause, orchestrator.CmdResume, orchestrator.CmdStatus:
		if len(args) != 0 {
			return orchestrator.Command{}, fmt.Errorf("%s takes no arguments", kind)
		}
		return orchestrator.Command{Kind: kind}, nil
	case orchestrator.CmdKill, orchestrator.CmdLogs:
		if len(args) != 1 {
			return orchestrator.Command{}, fmt.Errorf("usage: %s <task>", kind)
		}
		return orchestrator.Command{Kind: kind, TaskID: args[0]}, nil
	}
	return orchestrator.Command{}, fmt.Errorf("unknown command %q; try %s", fields[0], ConsoleHelp)
}

// FormatReply renders a scheduler reply as console lines.
func FormatReply(cmd orchestrator.Command, r orchestrator.Reply) []string {
	if r.Err != nil {
		return []string{fmt.Sprintf("%s: %v", cmd.Kind, r.Err)}
	}
	switch cmd.Kind {
	case orchestrator.CmdLogs:
		if len(r.Lines) == 0 {
			return []string{fmt.Sprintf("logs %s: no entries", cmd.TaskID)}
		}
		return append([]string{fmt.Sprintf("logs %s:", cmd.TaskID)}, r.Lines...)
	case orchestrator.CmdStatus:
		lines := make([]string, 0, len(r.Tasks))
		for _, t := range r.Tasks {
			lines = append(lines, taskLine(t))
		}
		return lines
	case orchestrator.CmdKill:
		return []string{fmt.Sprintf("killed %s", cmd.TaskID)}
	}
	return []string{string(cmd.Kind) + ": ok"}
}

func taskLine(t orchestrator.Task) string {
	line := fmt.Sprintf("%-16s %-10s attempts=%d", t.ID, t.Status, t.Attempts)
	if t.LastError != "" {
		line += "  " + t.LastError
	}
	return line
}
