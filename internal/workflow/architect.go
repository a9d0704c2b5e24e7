package workflow

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/Iron-Ham/vibeflow/internal/ai"
	"github.com/Iron-Ham/vibeflow/internal/errors"
	"github.com/Iron-Ham/vibeflow/internal/logging"
	"github.com/Iron-Ham/vibeflow/internal/orchestrator/retry"
	"github.com/Iron-Ham/vibeflow/internal/plan"
	"github.com/Iron-Ham/vibeflow/internal/project"
	"github.com/Iron-Ham/vibeflow/internal/prompt"
)

// ArchitectAttempts bounds planning calls per run.
const ArchitectAttempts = 3

// Architect turns requirements and the index into a validated plan.
type Architect struct {
	agent            ai.Backend
	root             string
	planPath         string
	requirementsPath string
	maxParallel      int
	sleep            retry.SleepFunc
	logger           *logging.Logger
}

// NewArchitect creates an Architect that saves its plan to planPath.
func NewArchitect(agent ai.Backend, root, planPath, requirementsPath string, maxParallel int, logger *logging.Logger) *Architect {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Architect{
		agent:            agent,
		root:             root,
		planPath:         planPath,
		requirementsPath: requirementsPath,
		maxParallel:      maxParallel,
		logger:           logger.WithPhase("architect"),
	}
}

// Plan asks the agent for a task plan, re-prompting with the validation
// error when the answer is unusable, and saves the result.
func (a *Architect) Plan(ctx context.Context, domain project.Domain, index string) (plan.Plan, error) {
	requirements := ""
	if data, err := os.ReadFile(a.requirementsPath); err == nil {
		requirements = string(data)
	}
	base := prompt.Architect(prompt.ArchitectData{
		Domain:            string(domain),
		Index:             index,
		Requirements:      requirements,
		MaxParallelAgents: a.maxParallel,
	})

	var lastErr error
	policy := retry.Policy{
		MaxAttempts:    ArchitectAttempts,
		RateLimitDelay: retry.DefaultPolicy(1, 0).RateLimitDelay,
		Sleep:          a.sleep,
		OnRetry: func(attempt int, err error, _ time.Duration) {
			a.logger.Warn("plan rejected, asking again", "attempt", attempt, "error", err)
		},
	}
	p, err := retry.Do(ctx, policy, func(ctx context.Context, attempt int) (plan.Plan, error) {
		text := base
		if attempt > 1 && lastErr != nil {
			text = prompt.ArchitectRetry(prompt.ArchitectRetryData{Error: lastErr.Error(), Original: base})
		}
		out, err := a.agent.Run(ctx, ai.Request{
			TaskID:      "architect",
			Prompt:      text,
			Dir:         a.root,
			NeedsOutput: true,
		})
		if err != nil {
			if errors.Is(err, errors.ErrTmuxUnavailable) || ctx.Err() != nil {
				return nil, retry.Permanent(err)
			}
			lastErr = err
			return nil, err
		}
		p, err := plan.Extract(out)
		if err != nil {
			lastErr = err
			return nil, err
		}
		return p, nil
	})
	if err != nil {
		a.logger.Error("planning failed", "error", err)
		return nil, fmt.Errorf("architect: %w", err)
	}

	if err := plan.Save(a.planPath, p); err != nil {
		return nil, err
	}
	a.logger.Info("plan saved", "path", a.planPath, "tasks", len(p))
	return p, nil
}
