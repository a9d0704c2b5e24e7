// Package merge folds finished task branches into the integration branch.
//
// Branches merge one at a time in plan order; each merge assumes the
// previous one left a clean tree. A conflict goes to the mediator, and the
// mediator's claim of success is checked against the repository before the
// next branch is touched. Any conflict that cannot be verified as resolved
// stops the phase.
package merge

import (
	"context"

	"github.com/Iron-Ham/vibeflow/internal/errors"
	"github.com/Iron-Ham/vibeflow/internal/event"
	"github.com/Iron-Ham/vibeflow/internal/logging"
	"github.com/Iron-Ham/vibeflow/internal/orchestrator"
	"github.com/Iron-Ham/vibeflow/internal/worktree"
)

// Outcome records what happened to one branch.
type Outcome struct {
	TaskID string
	Branch string
	Result string
	Files  []string
	Commit string
	Reason string
}

// Coordinator runs the merge phase.
type Coordinator struct {
	git      worktree.Merger
	resolver Resolver
	bus      *event.Bus
	logger   *logging.Logger
}

// NewCoordinator creates a Coordinator. bus and logger may be nil.
func NewCoordinator(git worktree.Merger, resolver Resolver, bus *event.Bus, logger *logging.Logger) *Coordinator {
	if logger == nil {
		logger = logging.NopLogger()
	}
	if bus == nil {
		bus = event.NewBus(logger)
	}
	return &Coordinator{git: git, resolver: resolver, bus: bus, logger: logger}
}

// MergeAll merges every SUCCEEDED or HEALED task's branch in the order
// given. It returns the outcomes so far and, on an unresolved conflict, an
// error matching ErrMergeConflict or ErrMediatorUnverified.
func (c *Coordinator) MergeAll(ctx context.Context, tasks []orchestrator.Task) ([]Outcome, error) {
	logger := c.logger.WithPhase("merge")
	var outcomes []Outcome

	for _, t := range tasks {
		if !t.Status.Mergeable() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}

		o, err := c.mergeOne(ctx, t, logger)
		outcomes = append(outcomes, o)
		c.bus.Publish(event.NewMergeBranchEvent(o.TaskID, o.Branch, o.Result, o.Files))
		if err != nil {
			logger.Error("merge phase aborted", "task_id", t.ID, "branch", t.BranchName, "error", err)
			return outcomes, err
		}
	}
	logger.Info("merge phase complete", "branches", len(outcomes))
	return outcomes, nil
}

func (c *Coordinator) mergeOne(ctx context.Context, t orchestrator.Task, logger *logging.Logger) (Outcome, error) {
	o := Outcome{TaskID: t.ID, Branch: t.BranchName}
	logger = logger.With("task_id", t.ID, "branch", t.BranchName)

	if t.BranchName == "" || !c.git.BranchExists(ctx, t.BranchName) {
		o.Result = event.MergeSkipped
		o.Reason = "branch not found"
		logger.Warn("branch missing, skipping merge")
		return o, nil
	}

	preMerge, err := c.git.HeadHash(ctx, "")
	if err != nil {
		o.Result = event.MergeFailed
		o.Reason = err.Error()
		return o, err
	}

	conflicted, err := c.git.Merge(ctx, t.BranchName)
	if err != nil {
		o.Result = event.MergeFailed
		o.Reason = err.Error()
		return o, err
	}
	if !conflicted {
		o.Result = event.MergeClean
		logger.Info("merged")
		return o, nil
	}

	files, _ := c.git.UnresolvedFiles(ctx)
	o.Files = files
	logger.Warn("merge conflict, invoking mediator", "files", files)

	report, err := c.resolver.Resolve(ctx, t.BranchName)
	if err != nil {
		o.Result = event.MergeFailed
		o.Reason = err.Error()
		return o, errors.NewGitError("mediator could not run", errors.Join(errors.ErrMergeConflict, err)).
			WithOp("merge").WithBranch(t.BranchName)
	}

	post := c.inspect(ctx, preMerge, report.CommitHash, logger)
	verdict := Verify(post, report)
	if !verdict.Resolved {
		o.Result = event.MergeFailed
		o.Reason = verdict.Reason
		cause := errors.ErrMergeConflict
		if report.Status == StatusResolved {
			cause = errors.ErrMediatorUnverified
		}
		logger.Error("conflict not resolved; repository left mid-merge for manual resolution",
			"reason", verdict.Reason, "mediator_status", report.Status)
		return o, errors.NewGitError(verdict.Reason, cause).WithOp("merge").WithBranch(t.BranchName)
	}

	o.Result = event.MergeMediated
	o.Commit = report.CommitHash
	logger.Info("conflict resolved by mediator", "commit", report.CommitHash)
	return o, nil
}

// inspect gathers the post-mediation state Verify judges. Scan failures
// are recorded as findings so they fail verification.
func (c *Coordinator) inspect(ctx context.Context, preMerge, hash string, logger *logging.Logger) PostState {
	post := PostState{PreMergeHead: preMerge}
	markers, err := c.git.FilesWithConflictMarkers(ctx)
	if err != nil {
		logger.Warn("conflict marker scan failed", "error", err)
		markers = []string{"(scan failed: " + err.Error() + ")"}
	}
	post.MarkerFiles = markers
	unresolved, err := c.git.UnresolvedFiles(ctx)
	if err != nil {
		logger.Warn("unmerged path check failed", "error", err)
		unresolved = []string{"(check failed: " + err.Error() + ")"}
	}
	post.Unresolved = unresolved
	head, err := c.git.HeadHash(ctx, "")
	if err != nil {
		logger.Warn("HEAD lookup failed", "error", err)
	}
	post.Head = head
	post.ReportedCommit = c.git.ResolveCommit(ctx, hash)
	post.MergeInProgress = c.git.MergeInProgress(ctx)
	return post
}
