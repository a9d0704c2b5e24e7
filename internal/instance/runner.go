// Package instance runs one agent turn inside a detached, named tmux
// session so an operator can attach and intervene while vibeflow polls for
// completion.
//
// A run moves through CREATING, STARTED, WARMUP, PROMPT_INJECTED and
// WAITING, and ends COMPLETED, TIMED_OUT or SESSION_DIED. Completion is
// signalled by the agent creating an empty sentinel file in its working
// directory; a result, when requested, is read from a scratch output file.
// Both files are removed whatever the outcome, and any failure kills the
// session so the next attempt starts clean.
package instance

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Iron-Ham/vibeflow/internal/config"
	"github.com/Iron-Ham/vibeflow/internal/errors"
	"github.com/Iron-Ham/vibeflow/internal/logging"
	"github.com/Iron-Ham/vibeflow/internal/tmux"
)

// State is a step of a session run.
type State string

const (
	StateCreating       State = "CREATING"
	StateStarted        State = "STARTED"
	StateWarmup         State = "WARMUP"
	StatePromptInjected State = "PROMPT_INJECTED"
	StateWaiting        State = "WAITING"
	StateCompleted      State = "COMPLETED"
	StateTimedOut       State = "TIMED_OUT"
	StateSessionDied    State = "SESSION_DIED"
)

// IsTerminal reports whether no further transitions follow s.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateTimedOut || s == StateSessionDied
}

// Output formats understood by the completion instructions.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Request describes one agent turn.
type Request struct {
	TaskID string
	Prompt string
	// Dir is the working directory the agent runs in. Scratch files live here.
	Dir string
	// NeedsOutput asks the agent to write its answer to the output file.
	NeedsOutput bool
	// OutputFormat is FormatText or FormatJSON. Empty means text.
	OutputFormat string
	// Timeout bounds the wait for the sentinel. Zero waits indefinitely.
	Timeout time.Duration
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Runner hosts agent turns in tmux sessions.
type Runner struct {
	tmux    *tmux.Client
	cfg     config.SessionConfig
	agent   config.AgentConfig
	logger  *logging.Logger
	now     func() time.Time
	sleep   SleepFunc
	onState func(taskID string, s State)
	watch   bool
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithClock replaces time.Now, used for session staleness and timeouts.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// WithSleep replaces the fixed waits (start check, warm-up, confirm, exit).
func WithSleep(sleep SleepFunc) Option {
	return func(r *Runner) { r.sleep = sleep }
}

// WithStateHook registers a callback invoked on every state transition.
func WithStateHook(fn func(taskID string, s State)) Option {
	return func(r *Runner) { r.onState = fn }
}

// WithoutWatcher disables the filesystem watcher; completion is then
// detected by polling alone.
func WithoutWatcher() Option {
	return func(r *Runner) { r.watch = false }
}

// NewRunner creates a Runner.
func NewRunner(client *tmux.Client, cfg config.SessionConfig, agent config.AgentConfig, opts ...Option) *Runner {
	r := &Runner{
		tmux:   client,
		cfg:    cfg,
		agent:  agent,
		logger: logging.NopLogger(),
		now:    time.Now,
		sleep:  sleepContext,
		watch:  true,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SessionName returns the tmux session hosting taskID.
func (r *Runner) SessionName(taskID string) string {
	if strings.HasPrefix(taskID, r.cfg.Prefix+"-") {
		return taskID
	}
	return r.cfg.Prefix + "-" + taskID
}

// Run executes one agent turn and returns the trimmed output file content
// when req.NeedsOutput is set and the agent wrote one, or "" otherwise.
func (r *Runner) Run(ctx context.Context, req Request) (string, error) {
	name := r.SessionName(req.TaskID)
	logger := r.logger.WithTask(req.TaskID).WithSession(name)

	if err := r.preflight(ctx, logger); err != nil {
		return "", err
	}

	sc := newScratch(req)
	sc.remove()
	defer sc.remove()

	out, err := r.run(ctx, name, req, sc, logger)
	if err != nil {
		// ctx may already be canceled; the kill must still reach tmux.
		kctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if kerr := r.tmux.KillSession(kctx, name); kerr != nil {
			logger.Warn("failed to kill session after error", "error", kerr)
		}
		logger.Error("session run failed", "error", err)
		return "", err
	}
	return out, nil
}

func (r *Runner) run(ctx context.Context, name string, req Request, sc scratch, logger *logging.Logger) (string, error) {
	r.transition(req.TaskID, StateCreating, logger)
	if err := r.start(ctx, name, req.Dir, logger); err != nil {
		return "", err
	}
	r.transition(req.TaskID, StateStarted, logger)

	r.transition(req.TaskID, StateWarmup, logger)
	if err := r.sleep(ctx, r.cfg.Warmup); err != nil {
		return "", err
	}
	r.dismissConfirmation(ctx, name, logger)
	if err := r.sleep(ctx, r.cfg.ConfirmWait); err != nil {
		return "", err
	}

	prompt := CompletionInstructions(req.Prompt, sc.sentinelName(), sc.outputName(), req.NeedsOutput, sc.format)
	if err := r.inject(ctx, name, prompt); err != nil {
		return "", errors.NewSessionError("failed to inject prompt", err).WithSession(name).WithTaskID(req.TaskID).WithRetryable(true)
	}
	r.transition(req.TaskID, StatePromptInjected, logger)
	logger.Info("agent session running", "attach", strings.Join(r.tmux.AttachArgs(name), " "))

	r.transition(req.TaskID, StateWaiting, logger)
	final, err := r.wait(ctx, name, sc, req.Timeout)
	if final != "" {
		r.transition(req.TaskID, final, logger)
	}
	if err != nil {
		return "", err
	}

	r.teardown(ctx, name, logger)

	if !req.NeedsOutput {
		return "", nil
	}
	data, err := os.ReadFile(sc.output)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Warn("agent finished without writing an output file", "file", sc.output)
			return "", nil
		}
		return "", fmt.Errorf("read agent output: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func (r *Runner) transition(taskID string, s State, logger *logging.Logger) {
	logger.Debug("session state", "state", string(s))
	if r.onState != nil {
		r.onState(taskID, s)
	}
}

// start kills any session left under the same name, launches the agent
// behind a shell that keeps the window open after the agent exits, and
// confirms the session came up.
func (r *Runner) start(ctx context.Context, name, dir string, logger *logging.Logger) error {
	if err := r.tmux.KillSession(ctx, name); err != nil {
		logger.Warn("failed to kill previous session", "error", err)
	}

	if err := r.tmux.NewSession(ctx, name, dir, "bash", "-c", r.InnerCommand(dir)); err != nil {
		return err
	}
	if err := r.sleep(ctx, r.cfg.StartCheck); err != nil {
		return err
	}
	if !r.tmux.HasSession(ctx, name) {
		return errors.NewSessionError("session not found after start", errors.ErrSessionStart).WithSession(name).WithRetryable(true)
	}
	return nil
}

// InnerCommand is the shell line run inside the session. The trailing read
// holds the pane open so an attaching operator still sees a crash.
func (r *Runner) InnerCommand(dir string) string {
	parts := []string{shellQuote(r.agent.Command)}
	for _, a := range r.agent.Args {
		parts = append(parts, shellQuote(a))
	}
	return fmt.Sprintf("cd %s && %s; read", shellQuote(dir), strings.Join(parts, " "))
}

// dismissConfirmation answers the agent's one-time warning screen. A
// failure here is logged only; the prompt injection that follows surfaces
// a dead session.
func (r *Runner) dismissConfirmation(ctx context.Context, name string, logger *logging.Logger) {
	if len(r.cfg.ConfirmKeys) == 0 {
		return
	}
	if err := r.tmux.SendKeys(ctx, name, r.cfg.ConfirmKeys...); err != nil {
		logger.Warn("failed to dismiss confirmation screen", "error", err)
	}
}

// inject delivers the prompt through a paste buffer named after the
// session, so concurrent runs never share the default buffer.
func (r *Runner) inject(ctx context.Context, name, prompt string) error {
	if err := r.tmux.LoadBuffer(ctx, name, prompt); err != nil {
		return err
	}
	if err := r.tmux.PasteBuffer(ctx, name, name); err != nil {
		return err
	}
	return r.tmux.SendKeys(ctx, name, "Enter")
}

// teardown asks the agent to exit, then kills the session regardless.
func (r *Runner) teardown(ctx context.Context, name string, logger *logging.Logger) {
	if err := r.tmux.SendKeys(ctx, name, "/exit", "Enter"); err != nil {
		logger.Debug("exit command not delivered", "error", err)
	}
	_ = r.sleep(ctx, r.cfg.ExitWait)
	if err := r.tmux.KillSession(context.WithoutCancel(ctx), name); err != nil {
		logger.Warn("failed to kill session", "error", err)
	}
}

// CompletionInstructions appends the machine-actionable completion
// protocol to prompt.
func CompletionInstructions(prompt, sentinelName, outputName string, needsOutput bool, format string) string {
	var sb strings.Builder
	sb.WriteString(prompt)
	sb.WriteString("\n\n[SYSTEM INSTRUCTION]\n")
	step := 1
	if needsOutput {
		if format == FormatJSON {
			fmt.Fprintf(&sb, "%d. Write your response as a JSON object to file %q. Do not output to stdout.\n", step, outputName)
		} else {
			fmt.Fprintf(&sb, "%d. Write your response to file %q. Do not output to stdout.\n", step, outputName)
		}
		step++
	}
	fmt.Fprintf(&sb, "%d. WHEN DONE, create an empty file named %q\n", step, sentinelName)
	return sb.String()
}

func shellQuote(s string) string {
	if s != "" && strings.IndexFunc(s, func(c rune) bool {
		return !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || strings.ContainsRune("-_./=:@+,", c))
	}) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
