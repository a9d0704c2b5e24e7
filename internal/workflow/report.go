package workflow

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/natefinch/atomic"

	"github.com/Iron-Ham/vibeflow/internal/ai"
	"github.com/Iron-Ham/vibeflow/internal/logging"
	"github.com/Iron-Ham/vibeflow/internal/merge"
	"github.com/Iron-Ham/vibeflow/internal/orchestrator"
	"github.com/Iron-Ham/vibeflow/internal/prompt"
)

// HistoryReader reads what changed since the session began.
type HistoryReader interface {
	DiffStatSince(ctx context.Context, from string) (string, error)
	LogSince(ctx context.Context, from string) (string, error)
}

// CTOReview asks the agent for an architectural review of the session's
// commits and writes it to path.
func CTOReview(ctx context.Context, agent ai.Backend, git HistoryReader, root, startHash, path string, logger *logging.Logger) (string, error) {
	logger = logger.WithPhase("cto")
	commits, err := git.LogSince(ctx, startHash)
	if err != nil {
		return "", fmt.Errorf("read session commits: %w", err)
	}
	stat, err := git.DiffStatSince(ctx, startHash)
	if err != nil {
		return "", fmt.Errorf("read session diff: %w", err)
	}

	out, err := agent.Run(ctx, ai.Request{
		TaskID:      "cto",
		Prompt:      prompt.CTO(prompt.CTOData{Commits: commits, Stat: stat}),
		Dir:         root,
		NeedsOutput: true,
	})
	if err != nil {
		return "", fmt.Errorf("cto agent: %w", err)
	}
	if strings.TrimSpace(out) == "" {
		return "", fmt.Errorf("cto agent returned an empty report")
	}
	if err := writeReport(path, out); err != nil {
		return "", err
	}
	logger.Info("cto report written", "path", path)
	return out, nil
}

// SessionReport renders the run summary as markdown.
func SessionReport(snap orchestrator.Snapshot, outcomes []merge.Outcome, integrationErr error) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Session Report\n\n")
	fmt.Fprintf(&b, "- **Mode:** %s\n- **Domain:** %s\n", snap.Mode, snap.Domain)
	fmt.Fprintf(&b, "- **Started:** %s\n", snap.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "- **Start commit:** `%s`\n", short(snap.StartCommit))

	counts := snap.Counts()
	fmt.Fprintf(&b, "- **Tasks:** %d (%d succeeded, %d healed, %d failed)\n\n",
		len(snap.Tasks), counts[orchestrator.StatusSucceeded], counts[orchestrator.StatusHealed], counts[orchestrator.StatusFailed])

	b.WriteString("## Tasks\n\n")
	b.WriteString("| ID | Name | Status | Failed attempts | Duration | Branch |\n")
	b.WriteString("|---|---|---|---|---|---|\n")
	for _, t := range snap.Tasks {
		dur := "-"
		if d := t.Duration(); d > 0 {
			dur = d.Truncate(time.Second).String()
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %d | %s | %s |\n",
			cell(t.ID), cell(t.Name), t.Status, t.Attempts, dur, cell(t.BranchName))
	}

	var failed []orchestrator.Task
	for _, t := range snap.Tasks {
		if t.Status == orchestrator.StatusFailed {
			failed = append(failed, t)
		}
	}
	if len(failed) > 0 {
		b.WriteString("\n## Failures\n\n")
		for _, t := range failed {
			fmt.Fprintf(&b, "- **%s**: %s\n", t.ID, firstLine(t.LastError))
		}
	}

	var untested []orchestrator.Task
	for _, t := range snap.Tasks {
		if t.Untested && t.Status.Mergeable() {
			untested = append(untested, t)
		}
	}
	if len(untested) > 0 {
		b.WriteString("\n## Untested\n\n")
		b.WriteString("These tasks passed review with a placeholder test command; no tests ran.\n\n")
		for _, t := range untested {
			fmt.Fprintf(&b, "- **%s**: `%s`\n", t.ID, t.TestCommand)
		}
	}

	if len(outcomes) > 0 {
		b.WriteString("\n## Merges\n\n")
		for _, o := range outcomes {
			line := fmt.Sprintf("- `%s` %s", o.Branch, o.Result)
			if o.Reason != "" {
				line += ": " + o.Reason
			}
			b.WriteString(line + "\n")
		}
	}

	b.WriteString("\n## Integration\n\n")
	if integrationErr != nil {
		fmt.Fprintf(&b, "Failed: %v\n", integrationErr)
	} else {
		b.WriteString("Passed.\n")
	}
	return b.String()
}

func cell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func writeReport(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create report directory: %w", err)
	}
	if err := atomic.WriteFile(path, strings.NewReader(content)); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

// RenderMarkdown writes md to w, styled for a terminal when styled is set.
// Rendering problems fall back to the raw text.
func RenderMarkdown(w io.Writer, md string, styled bool, width int) {
	if styled {
		if width <= 0 {
			width = 100
		}
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(width),
			glamour.WithPreservedNewLines(),
		)
		if err == nil {
			if out, err := r.Render(md); err == nil {
				fmt.Fprint(w, out)
				return
			}
		}
	}
	fmt.Fprintln(w, md)
}
