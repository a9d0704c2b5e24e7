// Package ai is the boundary between vibeflow and the coding agent CLI.
//
// Every phase talks to the agent through Backend: a prompt and working
// directory go in, text comes out. Two backends exist. The interactive
// backend hosts each turn in a tmux session an operator can attach to;
// the direct backend runs the agent once in print mode and returns stdout.
package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/Iron-Ham/vibeflow/internal/config"
	"github.com/Iron-Ham/vibeflow/internal/errors"
	"github.com/Iron-Ham/vibeflow/internal/executil"
	"github.com/Iron-Ham/vibeflow/internal/instance"
	"github.com/Iron-Ham/vibeflow/internal/logging"
)

// BackendName identifies how the agent is driven.
type BackendName string

const (
	BackendInteractive BackendName = "interactive"
	BackendDirect      BackendName = "direct"
)

// Request is one agent turn.
type Request = instance.Request

// Output formats for Request.OutputFormat.
const (
	FormatText = instance.FormatText
	FormatJSON = instance.FormatJSON
)

// Backend runs agent turns.
type Backend interface {
	Name() BackendName
	// Run executes req. When req.NeedsOutput is set the agent's answer is
	// returned; otherwise the result is whatever the agent printed, if
	// anything, and callers inspect the working directory instead.
	Run(ctx context.Context, req Request) (string, error)
}

// NewFromConfig picks the backend selected by factory.interactive.
func NewFromConfig(cfg *config.Config, runner executil.Runner, sessions *instance.Runner, logger *logging.Logger) (Backend, error) {
	if cfg == nil {
		return nil, fmt.Errorf("missing config")
	}
	if cfg.Factory.Interactive {
		if sessions == nil {
			return nil, fmt.Errorf("interactive backend requires a session runner")
		}
		return NewInteractiveBackend(sessions), nil
	}
	return NewDirectBackend(cfg.Agent, runner, logger), nil
}

// InteractiveBackend runs each turn in a tmux session.
type InteractiveBackend struct {
	sessions *instance.Runner
}

// NewInteractiveBackend wraps a session runner.
func NewInteractiveBackend(sessions *instance.Runner) *InteractiveBackend {
	return &InteractiveBackend{sessions: sessions}
}

func (b *InteractiveBackend) Name() BackendName { return BackendInteractive }

func (b *InteractiveBackend) Run(ctx context.Context, req Request) (string, error) {
	return b.sessions.Run(ctx, req)
}

// DirectBackend runs the agent non-interactively in print mode.
type DirectBackend struct {
	command string
	args    []string
	runner  executil.Runner
	logger  *logging.Logger
	newID   func() string
}

// NewDirectBackend creates a direct backend from agent config.
func NewDirectBackend(cfg config.AgentConfig, runner executil.Runner, logger *logging.Logger) *DirectBackend {
	command := cfg.Command
	if command == "" {
		command = "claude"
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &DirectBackend{
		command: command,
		args:    append([]string(nil), cfg.Args...),
		runner:  runner,
		logger:  logger,
		newID:   func() string { return uuid.NewString() },
	}
}

func (b *DirectBackend) Name() BackendName { return BackendDirect }

// BuildArgs returns the argv (without the command) for a print-mode turn.
func (b *DirectBackend) BuildArgs(prompt, sessionID string) []string {
	args := append(append([]string(nil), b.args...), "-p", prompt)
	if sessionID != "" {
		args = append(args, "--session-id", sessionID)
	}
	return args
}

// PrintInstructions returns req's prompt as sent in print mode. Prompts
// that ask for an output file are told to print the answer instead, since
// print mode only captures stdout.
func PrintInstructions(req Request) string {
	if !req.NeedsOutput {
		return req.Prompt
	}
	var sb strings.Builder
	sb.WriteString(req.Prompt)
	sb.WriteString("\n\n[SYSTEM INSTRUCTION]\n")
	sb.WriteString("Do not write your answer to a file. ")
	if req.OutputFormat == FormatJSON {
		sb.WriteString("Print only the JSON object as your final answer, with no other text.\n")
	} else {
		sb.WriteString("Print your answer as your final message.\n")
	}
	return sb.String()
}

// Run executes the agent with CI=true and NO_COLOR=1 so it never waits on
// a terminal and prints plain text. The agent gets no hard timeout unless
// the request sets one.
func (b *DirectBackend) Run(ctx context.Context, req Request) (string, error) {
	sessionID := b.newID()
	logger := b.logger.WithTask(req.TaskID)
	logger.Debug("running agent", "mode", string(BackendDirect), "agent_session", sessionID)

	res := b.runner.Run(ctx, b.command, b.BuildArgs(PrintInstructions(req), sessionID), executil.Options{
		Dir:     req.Dir,
		Env:     []string{"CI=true", "NO_COLOR=1"},
		Timeout: req.Timeout,
	})
	if res.TimedOut {
		return "", errors.NewTimeoutError("agent "+req.TaskID, req.Timeout)
	}
	if err := res.Err(); err != nil {
		return "", errors.NewTaskError("agent invocation failed", err).WithTaskID(req.TaskID)
	}
	return strings.TrimSpace(res.Stdout), nil
}
