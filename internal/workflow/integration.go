package workflow

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Iron-Ham/vibeflow/internal/ai"
	"github.com/Iron-Ham/vibeflow/internal/config"
	"github.com/Iron-Ham/vibeflow/internal/errors"
	"github.com/Iron-Ham/vibeflow/internal/executil"
	"github.com/Iron-Ham/vibeflow/internal/logging"
	"github.com/Iron-Ham/vibeflow/internal/orchestrator/retry"
	"github.com/Iron-Ham/vibeflow/internal/project"
	"github.com/Iron-Ham/vibeflow/internal/prompt"
)

// IntegrationLogName is the raw test output log under the log directory.
const IntegrationLogName = "integration_system"

// Integration runs the global test suite on the integration branch and
// lets the agent fix cross-task breakage.
type Integration struct {
	agent   ai.Backend
	runner  executil.Runner
	root    string
	logDir  string
	cfg     config.IntegrationConfig
	timeout time.Duration
	sleep   retry.SleepFunc
	logger  *logging.Logger
}

// NewIntegration creates the integration healer.
func NewIntegration(agent ai.Backend, runner executil.Runner, root, logDir string, cfg config.IntegrationConfig, timeout time.Duration, logger *logging.Logger) *Integration {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Integration{
		agent:   agent,
		runner:  runner,
		root:    root,
		logDir:  logDir,
		cfg:     cfg,
		timeout: timeout,
		logger:  logger.WithPhase("integration"),
	}
}

// LogPath is where raw test and healer output is appended.
func (h *Integration) LogPath() string {
	return logging.FilePath(h.logDir, IntegrationLogName)
}

// Run passes when the suite passes, possibly after healing. A suite that
// still fails after every heal attempt returns ErrIntegrationFailed.
func (h *Integration) Run(ctx context.Context, domain project.Domain) error {
	cmd := h.cfg.TestCommand
	if cmd == "" {
		cmd = project.TestCommand(domain)
	}
	h.appendLog(">>> Starting Integration Phase: %s", cmd)
	h.logger.Info("running global test suite", "command", cmd)
	if project.IsPlaceholderTestCommand(cmd) {
		h.logger.Warn("no global test suite detected; integration check runs nothing", "command", cmd)
	}

	if h.test(ctx, cmd) {
		h.logger.Info("integration tests passed")
		return nil
	}
	h.logger.Warn("integration tests failed, starting healer", "attempts", h.cfg.HealAttempts)
	if h.cfg.HealAttempts < 1 {
		return h.failed(cmd, errors.New("healing disabled"))
	}

	policy := retry.Policy{
		MaxAttempts:    h.cfg.HealAttempts,
		RateLimitDelay: retry.DefaultPolicy(1, 0).RateLimitDelay,
		Sleep:          h.sleep,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			h.logger.Warn("heal attempt did not fix the suite", "attempt", attempt, "delay", delay.String(), "error", err)
		},
	}
	_, err := retry.Do(ctx, policy, func(ctx context.Context, attempt int) (struct{}, error) {
		return struct{}{}, h.heal(ctx, cmd, attempt)
	})
	if err == nil {
		return nil
	}
	if ctx.Err() != nil || errors.Is(err, errors.ErrTmuxUnavailable) {
		return err
	}
	return h.failed(cmd, err)
}

// heal runs one healer pass followed by the suite. A rate-limited healer
// is reported as is so the retry waits out the cool-down.
func (h *Integration) heal(ctx context.Context, cmd string, attempt int) error {
	h.appendLog(">>> System Healer Attempt %d", attempt)
	tail, _ := logging.Tail(h.LogPath(), h.cfg.LogTailLines)

	out, err := h.agent.Run(ctx, ai.Request{
		TaskID: fmt.Sprintf("integration-%d", attempt),
		Prompt: prompt.Integration(prompt.IntegrationData{TestCommand: cmd, ErrorLog: joinLines(tail)}),
		Dir:    h.root,
	})
	switch {
	case err == nil:
		if out != "" {
			h.appendLog("%s", out)
		}
	case ctx.Err() != nil:
		return retry.Permanent(ctx.Err())
	case errors.Is(err, errors.ErrTmuxUnavailable):
		return retry.Permanent(err)
	case errors.IsRateLimited(err):
		h.appendLog("healer rate limited: %v", err)
		return err
	default:
		h.logger.Warn("healer agent failed", "attempt", attempt, "error", err)
		h.appendLog("healer error: %v", err)
	}

	if h.test(ctx, cmd) {
		h.logger.Info("healer fixed the integration failure", "attempt", attempt)
		return nil
	}
	if err := ctx.Err(); err != nil {
		return retry.Permanent(err)
	}
	return errors.ErrIntegrationFailed
}

func (h *Integration) failed(cmd string, last error) error {
	h.logger.Error("integration tests still failing; manual check required", "log", h.LogPath(), "last_error", last)
	return fmt.Errorf("%w: %q still failing after %d heal attempts (see %s)",
		errors.ErrIntegrationFailed, cmd, h.cfg.HealAttempts, h.LogPath())
}

func (h *Integration) test(ctx context.Context, cmd string) bool {
	res := h.runner.Run(ctx, "sh", []string{"-c", cmd}, executil.Options{
		Dir:     h.root,
		Env:     []string{"CI=true"},
		Timeout: h.timeout,
	})
	h.appendLog("$ %s (exit %d)\n%s", cmd, res.Code(), res.Combined())
	return res.OK()
}

func (h *Integration) appendLog(format string, args ...any) {
	if err := os.MkdirAll(filepath.Dir(h.LogPath()), 0o755); err != nil {
		return
	}
	f, err := os.OpenFile(h.LogPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		h.logger.Warn("cannot write integration log", "error", err)
		return
	}
	defer f.Close()
	fmt.Fprintf(f, format+"\n", args...)
}

func joinLines(lines []string) string {
	if len(lines) == 0 {
		return "(no output captured)"
	}
	return strings.Join(lines, "\n")
}
