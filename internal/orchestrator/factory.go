// Package orchestrator schedules planned tasks across isolated worktrees
// and drives each one through the build, commit check, review and heal
// loop.
//
// Factory.Run creates every worktree serially, then fans tasks out to a
// bounded pool. Each task runs independently: a failure is recorded on the
// task and never cancels its siblings. An operator can pause, resume and
// kill tasks through Control while the run is in progress.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/Iron-Ham/vibeflow/internal/ai"
	"github.com/Iron-Ham/vibeflow/internal/config"
	"github.com/Iron-Ham/vibeflow/internal/errors"
	"github.com/Iron-Ham/vibeflow/internal/event"
	"github.com/Iron-Ham/vibeflow/internal/logging"
	"github.com/Iron-Ham/vibeflow/internal/orchestrator/retry"
	"github.com/Iron-Ham/vibeflow/internal/plan"
	"github.com/Iron-Ham/vibeflow/internal/prompt"
	"github.com/Iron-Ham/vibeflow/internal/review"
	"github.com/Iron-Ham/vibeflow/internal/worktree"
)

// Reviewer judges a task's latest commit.
type Reviewer interface {
	Review(ctx context.Context, t review.Target) (review.Verdict, error)
}

// Watcher observes a task worktree while the task runs.
type Watcher interface {
	Watch(taskID, dir string) error
	Unwatch(taskID string)
}

// Deps are the collaborators a Factory drives.
type Deps struct {
	Worktrees worktree.Provisioner
	Git       worktree.CommitInspector
	Agent     ai.Backend
	Reviewer  Reviewer
	State     *SessionState
	Bus       *event.Bus
	Control   *Control
	Retries   *retry.Manager
	// Watcher is optional.
	Watcher Watcher
	Logger  *logging.Logger
	LogDir  string
	// Index is the project index text given to first attempts.
	Index string
	// Sleep replaces the retry backoff wait. Tests use it to skip delays.
	Sleep retry.SleepFunc
	Now   func() time.Time
}

// Factory runs a plan's tasks.
type Factory struct {
	cfg config.FactoryConfig
	Deps
}

// NewFactory creates a Factory. Optional dependencies left nil get
// defaults.
func NewFactory(cfg config.FactoryConfig, deps Deps) *Factory {
	if deps.Logger == nil {
		deps.Logger = logging.NopLogger()
	}
	if deps.Bus == nil {
		deps.Bus = event.NewBus(deps.Logger)
	}
	if deps.Control == nil {
		deps.Control = NewControl()
	}
	if deps.Retries == nil {
		deps.Retries = retry.NewManager()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.State == nil {
		deps.State = NewSessionState("", "", "", deps.Now())
	}
	if cfg.MaxParallelAgents < 1 {
		cfg.MaxParallelAgents = 1
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	return &Factory{cfg: cfg, Deps: deps}
}

// Run executes every task in p and returns them in plan order once all
// have finished. The error is non-nil only when worktrees could not be
// provisioned or ctx ended; task failures are reported on the tasks.
func (f *Factory) Run(ctx context.Context, p plan.Plan) ([]*Task, error) {
	logger := f.Logger.WithPhase("factory")
	tasks := NewTasks(p)
	f.State.AddTasks(tasks...)

	assignments, err := f.Worktrees.CreateAllSerially(ctx, p.IDs())
	if err != nil {
		for _, a := range assignments {
			f.Worktrees.RemoveWorktree(ctx, a.TaskID)
		}
		logger.Error("worktree provisioning failed", "created", len(assignments), "error", err)
		return tasks, fmt.Errorf("provision worktrees: %w", err)
	}
	base := make(map[string]string, len(assignments))
	for _, a := range assignments {
		base[a.TaskID] = a.BaseCommit
		f.State.Update(a.TaskID, func(t *Task) {
			t.BranchName = a.BranchName
			t.WorktreePath = a.WorktreePath
			t.LogPath = logging.FilePath(f.LogDir, a.TaskID)
		})
	}
	logger.Info("worktrees ready", "tasks", len(assignments), "parallel", f.cfg.MaxParallelAgents)

	serveCtx, stopServe := context.WithCancel(ctx)
	served := make(chan struct{})
	go func() {
		defer close(served)
		f.serve(serveCtx)
	}()

	wp := pool.New().WithMaxGoroutines(f.cfg.MaxParallelAgents)
	for _, t := range tasks {
		wp.Go(func() { f.runTask(ctx, t.ID, base[t.ID]) })
	}
	wp.Wait()

	stopServe()
	<-served

	if err := ctx.Err(); err != nil {
		return tasks, err
	}
	return tasks, nil
}

// serve applies operator commands until ctx ends.
func (f *Factory) serve(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-f.Control.Commands():
			f.handle(cmd)
		}
	}
}

func (f *Factory) handle(cmd Command) {
	var reply Reply
	switch cmd.Kind {
	case CmdPause:
		f.Control.Pause()
		f.Logger.Info("scheduler paused by operator")
	case CmdResume:
		f.Control.Resume()
		f.Logger.Info("scheduler resumed by operator")
	case CmdKill:
		reply.Err = f.kill(cmd.TaskID)
	case CmdStatus:
		reply.Tasks = f.State.Tasks()
	case CmdLogs:
		t, ok := f.State.Task(cmd.TaskID)
		if !ok {
			reply.Err = errors.ErrTaskNotFound
			break
		}
		reply.Lines, reply.Err = logging.Tail(t.LogPath, 50)
	default:
		reply.Err = fmt.Errorf("unknown command %q", cmd.Kind)
	}
	if cmd.Kind != CmdLogs && reply.Tasks == nil {
		reply.Tasks = f.State.Tasks()
	}
	if cmd.Reply != nil {
		select {
		case cmd.Reply <- reply:
		default:
		}
	}
}

// kill marks a task FAILED at once and cancels its context; the session
// runner's teardown then ends the agent session.
func (f *Factory) kill(taskID string) error {
	t, ok := f.State.Task(taskID)
	if !ok {
		return errors.ErrTaskNotFound
	}
	if t.Status.IsTerminal() {
		return fmt.Errorf("task %s already %s", taskID, t.Status)
	}
	f.Control.kill(taskID)
	f.setStatus(taskID, StatusFailed, errors.ErrTaskKilled.Error())
	f.Logger.WithTask(taskID).Warn("task killed by operator")
	return nil
}

// setStatus moves a task to s. Terminal statuses are final, so a task
// killed by the operator stays FAILED however its goroutine ends.
func (f *Factory) setStatus(taskID string, s Status, reason string) {
	var prev Status
	var snap Task
	changed := false
	f.State.Update(taskID, func(t *Task) {
		if t.Status.IsTerminal() {
			return
		}
		changed = true
		prev = t.Status
		t.Status = s
		switch {
		case s == StatusRunning && t.StartTime.IsZero():
			t.StartTime = f.Now()
		case s.IsTerminal():
			t.EndTime = f.Now()
		}
		if reason != "" {
			t.LastError = reason
		}
		snap = *t
	})
	if !changed {
		return
	}
	if prev == StatusPending && s == StatusRunning {
		f.Bus.Publish(event.NewTaskStartedEvent(taskID, snap.Name, snap.BranchName, snap.WorktreePath))
	}
	f.Bus.Publish(event.NewTaskStatusEvent(taskID, snap.Name, string(prev), string(s), snap.Attempts, reason))
}

// runTask drives one task to a terminal status.
func (f *Factory) runTask(ctx context.Context, taskID, baseCommit string) {
	logger := f.Logger.WithTask(taskID)
	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	f.Control.register(taskID, cancel)
	defer f.Control.unregister(taskID)

	if err := f.Control.Checkpoint(taskCtx, taskID); err != nil {
		f.finish(taskID, err, logger)
		return
	}

	f.Retries.Track(taskID, f.cfg.MaxRetries)
	f.setStatus(taskID, StatusRunning, "")
	t, _ := f.State.Task(taskID)
	logger.Info("task started", "name", t.Name, "branch", t.BranchName, "worktree", t.WorktreePath)
	if f.Watcher != nil {
		if err := f.Watcher.Watch(taskID, t.WorktreePath); err != nil {
			logger.Warn("worktree not watched for overlapping writes", "error", err)
		} else {
			defer f.Watcher.Unwatch(taskID)
		}
	}

	lastGood := baseCommit
	policy := retry.Policy{
		MaxAttempts:    f.cfg.MaxRetries,
		BaseDelay:      f.cfg.BaseDelay,
		MaxDelay:       f.cfg.MaxDelay,
		RateLimitDelay: f.cfg.RateLimitDelay,
		Sleep:          f.Sleep,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			logger.Info("healing after backoff", "failed_attempt", attempt, "delay", delay.String())
		},
	}
	_, err := retry.Do(taskCtx, policy, func(ctx context.Context, attempt int) (review.Verdict, error) {
		return f.attempt(ctx, t, attempt, &lastGood, logger)
	})
	f.finish(taskID, err, logger)
}

func (f *Factory) finish(taskID string, err error, logger *logging.Logger) {
	if f.Control.Killed(taskID) {
		// Already FAILED when the kill was handled.
		logger.Info("killed task stopped", "error", err)
		return
	}
	if err != nil {
		f.setStatus(taskID, StatusFailed, err.Error())
		logger.Error("task failed", "error", err)
		return
	}
	f.Retries.RecordSuccess(taskID)
	t, _ := f.State.Task(taskID)
	status := StatusSucceeded
	if t.Attempts > 0 {
		status = StatusHealed
	}
	f.setStatus(taskID, status, "")
	logger.Info("task finished", "status", string(status), "attempts", t.Attempts)
}

// attempt runs one build or heal pass. attempt is 1-based.
func (f *Factory) attempt(ctx context.Context, t Task, attempt int, lastGood *string, logger *logging.Logger) (review.Verdict, error) {
	if err := f.checkpoint(ctx, t.ID); err != nil {
		return review.Verdict{}, err
	}
	f.Bus.Publish(event.NewTaskAttemptEvent(t.ID, attempt))
	logger = logger.With("attempt", attempt)

	heal := attempt > 1
	if heal && f.cfg.ResetBeforeHeal && *lastGood != "" {
		if err := f.Git.ResetHard(ctx, t.WorktreePath, *lastGood); err != nil {
			logger.Warn("reset before heal failed", "commit", *lastGood, "error", err)
		} else {
			logger.Info("worktree reset before heal", "commit", short(*lastGood))
		}
	}

	before, err := f.Git.HeadHash(ctx, t.WorktreePath)
	if err != nil {
		return review.Verdict{}, f.failAttempt(t, attempt, err, "")
	}

	text := f.buildPrompt(ctx, t, attempt)
	if _, err := f.Agent.Run(ctx, ai.Request{
		TaskID:  t.ID,
		Prompt:  text,
		Dir:     t.WorktreePath,
		Timeout: f.cfg.TaskTimeout,
	}); err != nil {
		if ctxErr := f.checkpoint(ctx, t.ID); ctxErr != nil {
			return review.Verdict{}, ctxErr
		}
		if errors.Is(err, errors.ErrTmuxUnavailable) {
			return review.Verdict{}, retry.Permanent(f.failAttempt(t, attempt, err, ""))
		}
		return review.Verdict{}, f.failAttempt(t, attempt, err, "")
	}
	if err := f.checkpoint(ctx, t.ID); err != nil {
		return review.Verdict{}, err
	}

	head, ok := f.verifyCommit(ctx, t, before, logger)
	if !ok {
		feedback := fmt.Sprintf("No commit found with message %q. Commit your work with: git add -A && git commit -m '%s'",
			prompt.CommitMarker(t.Name), prompt.FixCommitMessage(t.Name, attempt+1))
		return review.Verdict{}, f.failAttempt(t, attempt, errors.ErrNoCommit, feedback)
	}
	f.Retries.RecordCommit(t.ID, head)
	*lastGood = head

	if err := f.checkpoint(ctx, t.ID); err != nil {
		return review.Verdict{}, err
	}
	verdict, err := f.Reviewer.Review(ctx, review.Target{
		TaskID:   t.ID,
		TaskName: t.Name,
		Worktree: t.WorktreePath,
		Domain:   f.State.Domain(),
	})
	if err != nil {
		if ctxErr := f.checkpoint(ctx, t.ID); ctxErr != nil {
			return review.Verdict{}, ctxErr
		}
		return review.Verdict{}, f.failAttempt(t, attempt, err, "")
	}
	if !verdict.Passed {
		cause := errors.NewTaskError(verdict.Message, errors.ErrReviewFailed).WithTaskID(t.ID).WithAttempt(attempt).WithPhase("review")
		return review.Verdict{}, f.failAttempt(t, attempt, cause, verdict.Feedback)
	}
	f.State.Update(t.ID, func(task *Task) {
		task.TestCommand = verdict.TestCommand
		task.Untested = verdict.NoTests
	})
	if verdict.NoTests {
		logger.Warn("review passed without running tests", "test_command", verdict.TestCommand)
	}
	logger.Info("review passed", "test_command", verdict.TestCommand, "diff", verdict.Stats.String())
	return verdict, nil
}

// checkpoint stops the attempt for good when the task was killed or the
// run is over; neither is worth retrying.
func (f *Factory) checkpoint(ctx context.Context, taskID string) error {
	if err := f.Control.Checkpoint(ctx, taskID); err != nil {
		return retry.Permanent(err)
	}
	return nil
}

// failAttempt records a failed attempt and returns err for the retry loop.
func (f *Factory) failAttempt(t Task, attempt int, err error, feedback string) error {
	f.Retries.RecordFailure(t.ID, err.Error(), feedback)
	var attempts int
	f.State.Update(t.ID, func(task *Task) {
		task.Attempts++
		task.LastError = err.Error()
		attempts = task.Attempts
	})
	f.Logger.WithTask(t.ID).Warn("attempt failed", "attempt", attempt, "attempts", attempts, "error", err)
	return err
}

// verifyCommit checks that the agent committed during this attempt with the
// task's marker in the subject. It returns the new HEAD.
func (f *Factory) verifyCommit(ctx context.Context, t Task, before string, logger *logging.Logger) (string, bool) {
	head, err := f.Git.HeadHash(ctx, t.WorktreePath)
	if err != nil {
		logger.Warn("failed to read HEAD", "error", err)
		return "", false
	}
	if head == before {
		logger.Warn("agent did not commit", "head", short(head))
		return "", false
	}
	last, err := f.Git.LastCommit(ctx, t.WorktreePath)
	if err != nil {
		logger.Warn("failed to read last commit", "error", err)
		return "", false
	}
	if !strings.Contains(last, prompt.CommitMarker(t.Name)) {
		logger.Warn("last commit lacks the task marker", "commit", last, "marker", prompt.CommitMarker(t.Name))
		return "", false
	}
	return head, true
}

func (f *Factory) buildPrompt(ctx context.Context, t Task, attempt int) string {
	if attempt == 1 {
		return prompt.Build(prompt.BuildData{
			TaskName: t.Name,
			TaskDesc: t.Desc,
			Worktree: t.WorktreePath,
			Domain:   string(f.State.Domain()),
			Index:    f.Index,
		})
	}
	previous, err := f.Git.LastCommit(ctx, t.WorktreePath)
	if err != nil {
		previous = ""
	}
	feedback := f.Retries.Feedback(t.ID)
	if feedback == "" {
		feedback = review.ReadFeedback(f.LogDir, t.ID)
	}
	if feedback == "" {
		if st, ok := f.Retries.Get(t.ID); ok && st.LastError != "" {
			feedback = "The previous attempt failed: " + st.LastError
		}
	}
	return prompt.Heal(prompt.HealData{
		TaskName:       t.Name,
		TaskDesc:       t.Desc,
		PreviousCommit: previous,
		Feedback:       feedback,
		Attempt:        attempt,
	})
}

func short(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}
