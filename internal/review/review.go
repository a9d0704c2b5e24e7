// Package review gates a task's branch before it may merge.
//
// A reviewer agent inspects the last commit of the task worktree, runs the
// project's tests and reports PASS or FAIL. The gate does not take the
// agent's word for it: the reported test command is run again in the
// worktree and must exit zero. Failures leave a markdown report in the log
// directory that the next heal attempt is given as feedback.
package review

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/natefinch/atomic"

	"github.com/Iron-Ham/vibeflow/internal/ai"
	"github.com/Iron-Ham/vibeflow/internal/errors"
	"github.com/Iron-Ham/vibeflow/internal/executil"
	"github.com/Iron-Ham/vibeflow/internal/logging"
	"github.com/Iron-Ham/vibeflow/internal/project"
	"github.com/Iron-Ham/vibeflow/internal/prompt"
	"github.com/Iron-Ham/vibeflow/internal/worktree"
)

const (
	StatusPass = "PASS"
	StatusFail = "FAIL"

	// testOutputLines bounds the test output copied into a report.
	testOutputLines = 80
)

// Target identifies the task under review.
type Target struct {
	TaskID   string
	TaskName string
	Worktree string
	Domain   project.Domain
}

// Verdict is the outcome of a review.
type Verdict struct {
	Passed bool
	// AgentStatus is PASS or FAIL as reported by the reviewer, or "" when
	// the reviewer produced no usable result.
	AgentStatus string
	Message     string
	TestCommand string
	// NoTests is set when TestCommand is a placeholder that tests nothing.
	NoTests    bool
	TestExit   int
	TestOutput string
	Stats      DiffStats
	// Feedback is the report handed to the next heal attempt. Empty on pass.
	Feedback   string
	ReportPath string
}

// Gate runs reviews.
type Gate struct {
	git         worktree.DiffProvider
	agent       ai.Backend
	runner      executil.Runner
	logDir      string
	logger      *logging.Logger
	testTimeout time.Duration
}

// Option configures a Gate.
type Option func(*Gate)

// WithLogger sets the gate's logger.
func WithLogger(l *logging.Logger) Option {
	return func(g *Gate) { g.logger = l }
}

// WithTestTimeout bounds the independent test run.
func WithTestTimeout(d time.Duration) Option {
	return func(g *Gate) { g.testTimeout = d }
}

// NewGate creates a Gate that writes reports under logDir.
func NewGate(git worktree.DiffProvider, agent ai.Backend, runner executil.Runner, logDir string, opts ...Option) *Gate {
	g := &Gate{
		git:         git,
		agent:       agent,
		runner:      runner,
		logDir:      logDir,
		logger:      logging.NopLogger(),
		testTimeout: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ReportPath is where the failure report for taskID is written.
func ReportPath(logDir, taskID string) string {
	return filepath.Join(logDir, "review_report_"+taskID+".md")
}

// ReadFeedback returns the last failure report for taskID, or "".
func ReadFeedback(logDir, taskID string) string {
	data, err := os.ReadFile(ReportPath(logDir, taskID))
	if err != nil {
		return ""
	}
	return string(data)
}

// Review inspects t's worktree. A failed review is a Verdict with Passed
// unset, not an error; errors are reserved for cancellation and for
// failures to talk to the agent at all.
func (g *Gate) Review(ctx context.Context, t Target) (Verdict, error) {
	logger := g.logger.WithTask(t.TaskID).WithPhase("review")

	diff, err := g.git.DiffParent(ctx, t.Worktree)
	if err != nil {
		logger.Warn("failed to read task diff", "error", err)
	}
	stat, err := g.git.DiffParentStat(ctx, t.Worktree)
	if err != nil {
		logger.Warn("failed to read task diff stat", "error", err)
	}
	stats, err := ParseDiffStats(diff)
	if err != nil {
		logger.Debug("diff not parseable", "error", err)
	}

	suggested := project.ReviewTestCommand(t.Domain, t.Worktree)
	text := prompt.Review(prompt.ReviewData{
		TaskID:           t.TaskID,
		TaskName:         t.TaskName,
		Domain:           string(t.Domain),
		Worktree:         t.Worktree,
		Stat:             stat,
		Diff:             diff,
		FileSummary:      stats.Summary(),
		SuggestedTestCmd: suggested,
	})

	out, err := g.agent.Run(ctx, ai.Request{
		TaskID:       "review-" + t.TaskID,
		Prompt:       text,
		Dir:          t.Worktree,
		NeedsOutput:  true,
		OutputFormat: ai.FormatJSON,
	})
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Verdict{}, ctxErr
	}

	v := Verdict{Stats: stats, TestCommand: suggested}
	if err != nil {
		logger.Warn("reviewer agent failed", "error", err)
		v.Message = "Reviewer agent failed: " + err.Error()
	} else if res, perr := ai.ParseResult(out); perr != nil {
		logger.Warn("reviewer returned no verdict", "output_bytes", len(out))
		v.Message = "Reviewer did not write a JSON verdict"
	} else {
		v.AgentStatus = res.Status()
		v.Message = res.Message()
		if cmd := res.Get("testCommand"); cmd != "" {
			v.TestCommand = cmd
		}
	}

	g.runTests(ctx, t.Worktree, &v)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Verdict{}, ctxErr
	}

	v.Passed = v.AgentStatus == StatusPass && v.TestExit == 0
	logger.Info("review complete",
		"passed", v.Passed,
		"agent_status", v.AgentStatus,
		"test_command", v.TestCommand,
		"no_tests", v.NoTests,
		"test_exit", v.TestExit,
		"diff", stats.String(),
	)
	if v.Passed {
		return v, nil
	}

	v.Feedback = Report(t, v)
	v.ReportPath = ReportPath(g.logDir, t.TaskID)
	if err := writeReport(v.ReportPath, v.Feedback); err != nil {
		logger.Warn("failed to write review report", "path", v.ReportPath, "error", err)
		v.ReportPath = ""
	}
	return v, nil
}

func (g *Gate) runTests(ctx context.Context, dir string, v *Verdict) {
	res := g.runner.Run(ctx, "sh", []string{"-c", v.TestCommand}, executil.Options{
		Dir:     dir,
		Timeout: g.testTimeout,
		Env:     []string{"CI=true"},
	})
	v.NoTests = project.IsPlaceholderTestCommand(v.TestCommand)
	v.TestExit = res.Code()
	v.TestOutput = tail(res.Combined(), testOutputLines)
	if res.TimedOut {
		v.TestOutput = strings.TrimSpace(v.TestOutput + "\n" + errors.NewTimeoutError("test command", g.testTimeout).Error())
	}
}

// Report renders the markdown fed back to a heal attempt.
func Report(t Target, v Verdict) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Review report: %s (%s)\n\n", t.TaskName, t.TaskID)
	status := v.AgentStatus
	if status == "" {
		status = "NONE"
	}
	fmt.Fprintf(&b, "- Reviewer verdict: %s\n", status)
	if v.NoTests {
		fmt.Fprintf(&b, "- Test command: `%s` (placeholder, no tests ran)\n", v.TestCommand)
	} else {
		fmt.Fprintf(&b, "- Test command: `%s`\n", v.TestCommand)
	}
	fmt.Fprintf(&b, "- Test exit code: %d\n", v.TestExit)
	fmt.Fprintf(&b, "- Changes: %s\n", v.Stats)
	b.WriteString("\n## Review\n\n")
	if v.Message != "" {
		b.WriteString(v.Message)
	} else {
		b.WriteString("No message.")
	}
	b.WriteString("\n")
	if v.TestOutput != "" {
		b.WriteString("\n## Test output\n\n```\n")
		b.WriteString(v.TestOutput)
		b.WriteString("\n```\n")
	}
	return b.String()
}

func writeReport(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return atomic.WriteFile(path, strings.NewReader(content))
}

func tail(s string, n int) string {
	s = strings.TrimRight(s, "\n")
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
