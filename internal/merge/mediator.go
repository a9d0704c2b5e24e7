package merge

import (
	"context"
	"fmt"

	"github.com/Iron-Ham/vibeflow/internal/ai"
	"github.com/Iron-Ham/vibeflow/internal/logging"
	"github.com/Iron-Ham/vibeflow/internal/prompt"
	"github.com/Iron-Ham/vibeflow/internal/worktree"
)

// Resolver resolves the conflicted merge in progress.
type Resolver interface {
	Resolve(ctx context.Context, branch string) (Report, error)
}

// Mediator asks the agent to resolve a conflicted merge in the repository
// root and commit the result.
type Mediator struct {
	git     worktree.Merger
	agent   ai.Backend
	repoDir string
	logger  *logging.Logger
}

// NewMediator creates a Mediator working in repoDir.
func NewMediator(git worktree.Merger, agent ai.Backend, repoDir string, logger *logging.Logger) *Mediator {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Mediator{git: git, agent: agent, repoDir: repoDir, logger: logger}
}

// Resolve runs one mediation. A missing or malformed answer is reported
// as FAILED rather than as an error; errors mean the agent could not be
// run at all.
func (m *Mediator) Resolve(ctx context.Context, branch string) (Report, error) {
	logger := m.logger.WithPhase("mediator_" + branch)

	files, err := m.git.UnresolvedFiles(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("list conflicted files: %w", err)
	}
	diff, err := m.git.ConflictDiff(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("read conflict diff: %w", err)
	}
	logger.Info("mediating conflict", "branch", branch, "files", files)

	out, err := m.agent.Run(ctx, ai.Request{
		TaskID:       "mediator-" + branch,
		Prompt:       prompt.Mediator(prompt.MediatorData{Branch: branch, Files: files, Diff: diff}),
		Dir:          m.repoDir,
		NeedsOutput:  true,
		OutputFormat: ai.FormatJSON,
	})
	if err != nil {
		logger.Error("mediator agent failed", "error", err)
		return Report{}, err
	}

	res, err := ai.ParseResult(out)
	if err != nil {
		logger.Warn("mediator returned no report", "output_bytes", len(out))
		return Report{Status: StatusFailed, Message: "mediator wrote no JSON report"}, nil
	}
	r := Report{
		Status:     res.Status(),
		Message:    res.Message(),
		CommitHash: res.Get("commitHash"),
	}
	logger.Info("mediator reported", "status", r.Status, "commit", r.CommitHash, "message", r.Message)
	return r, nil
}
