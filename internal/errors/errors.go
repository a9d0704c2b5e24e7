// Package errors defines the error vocabulary shared by every vibeflow
// subsystem: sentinel errors for well-known failure conditions, typed
// errors that carry task/session/git context, and classification helpers
// used by the retry loop and the CLI.
//
// # Taxonomy
//
// Failures fall into five groups, and callers decide what to do with an
// error by asking which group it belongs to:
//
//   - Transient: external command failures. Retryable through the
//     retry policy; rate-limit shaped errors get a fixed cool-down.
//   - Agent non-compliance: ErrNoCommit, ErrReviewFailed, ErrPlanInvalid,
//     ErrNoPlanArray. Consume one attempt of the self-healing loop.
//   - Resource limits: ErrTmuxUnavailable, ErrTooManySessions. Fail fast
//     with an actionable message.
//   - Verification: ErrMediatorUnverified. An external collaborator
//     claimed success that could not be confirmed.
//   - Fatal: ErrMergeConflict, ErrIntegrationFailed. Abort the phase.
//
// # Usage
//
//	err := errors.NewTaskError("no agent commit found", errors.ErrNoCommit).
//		WithTaskID("task_1").WithAttempt(2)
//
//	if errors.Is(err, errors.ErrNoCommit) { ... }
//
//	var taskErr *errors.TaskError
//	if errors.As(err, &taskErr) { ... }
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Re-export standard library functions so callers only import this package.
var (
	Is   = errors.Is
	As   = errors.As
	New  = errors.New
	Join = errors.Join
)

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Interactive session errors
var (
	// ErrTmuxUnavailable indicates the terminal multiplexer is not installed.
	ErrTmuxUnavailable = New("tmux is not installed; install it with 'brew install tmux' or 'apt install tmux'")
	// ErrTooManySessions indicates the active session cap has been reached.
	ErrTooManySessions = New("too many active agent sessions; try again later")
	// ErrSessionDied indicates a session ended without signalling completion.
	ErrSessionDied = New("session ended unexpectedly")
	// ErrSessionStart indicates a session could not be created.
	ErrSessionStart = New("session failed to start")
)

// Task errors
var (
	// ErrNoCommit indicates the agent did not produce the expected commit.
	ErrNoCommit = New("no agent commit found")
	// ErrReviewFailed indicates the review gate rejected an attempt.
	ErrReviewFailed = New("review failed")
	// ErrTaskKilled indicates the operator killed a task from the monitor.
	ErrTaskKilled = New("task killed by operator")
	// ErrTaskNotFound indicates an unknown task id.
	ErrTaskNotFound = New("task not found")
)

// Plan errors
var (
	// ErrNoPlanArray indicates no JSON array could be located in agent output.
	ErrNoPlanArray = New("No JSON array found in content")
	// ErrPlanInvalid indicates the plan failed schema validation.
	ErrPlanInvalid = New("plan is invalid")
)

// Git errors
var (
	ErrNotGitRepository = New("not a git repository")
	ErrWorktreeMissing  = New("worktree directory was not created")
	// ErrMergeConflict indicates a merge conflict that could not be resolved.
	ErrMergeConflict = New("merge conflict")
	// ErrMediatorUnverified indicates the mediator reported a resolution
	// that could not be confirmed against repository state.
	ErrMediatorUnverified = New("mediator resolution could not be verified")
)

// Workflow errors
var (
	ErrIntegrationFailed = New("integration tests still failing")
	ErrConfigInvalid     = New("invalid configuration")
	ErrTimeout           = New("operation timed out")
)

// -----------------------------------------------------------------------------
// Base Error
// -----------------------------------------------------------------------------

// VibeError is implemented by every typed error in this package.
type VibeError interface {
	error
	Unwrap() error
	Is(target error) bool
	IsRetryable() bool
	IsUserFacing() bool
}

type baseError struct {
	message    string
	cause      error
	retryable  bool
	userFacing bool
}

func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func (e *baseError) Unwrap() error { return e.cause }

func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

func (e *baseError) IsRetryable() bool  { return e.retryable }
func (e *baseError) IsUserFacing() bool { return e.userFacing }

// format renders "<kind> error [k=v, ...]: message: cause".
func (e *baseError) format(kind string, parts []string) string {
	prefix := kind + " error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("%s error [%s]", kind, strings.Join(parts, ", "))
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// -----------------------------------------------------------------------------
// Domain Errors
// -----------------------------------------------------------------------------

// SessionError represents a failure of an interactive agent session.
//
//	err := errors.NewSessionError("wait failed", errors.ErrSessionDied).WithSession("vibe-task-task_1")
//	fmt.Println(err) // "session error [session=vibe-task-task_1]: wait failed: session ended unexpectedly"
type SessionError struct {
	baseError
	Session string
	TaskID  string
}

// NewSessionError creates a new SessionError.
func NewSessionError(message string, cause error) *SessionError {
	return &SessionError{baseError: baseError{
		message:    message,
		cause:      cause,
		userFacing: true,
	}}
}

// WithSession adds the tmux session name.
func (e *SessionError) WithSession(name string) *SessionError {
	e.Session = name
	return e
}

// WithTaskID adds the owning task id.
func (e *SessionError) WithTaskID(id string) *SessionError {
	e.TaskID = id
	return e
}

// WithRetryable sets whether the error is retryable.
func (e *SessionError) WithRetryable(r bool) *SessionError {
	e.retryable = r
	return e
}

func (e *SessionError) Error() string {
	var parts []string
	if e.Session != "" {
		parts = append(parts, "session="+e.Session)
	}
	if e.TaskID != "" {
		parts = append(parts, "task="+e.TaskID)
	}
	return e.format("session", parts)
}

func (e *SessionError) Is(target error) bool {
	if _, ok := target.(*SessionError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// TaskError represents a failed attempt of a task's build/review loop.
type TaskError struct {
	baseError
	TaskID  string
	Attempt int
	Phase   string
}

// NewTaskError creates a new TaskError. Task attempt failures are
// retryable by default since the self-healing loop consumes them.
func NewTaskError(message string, cause error) *TaskError {
	return &TaskError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			retryable:  true,
			userFacing: true,
		},
		Attempt: -1,
	}
}

// WithTaskID adds a task ID to the error context.
func (e *TaskError) WithTaskID(id string) *TaskError {
	e.TaskID = id
	return e
}

// WithAttempt adds the attempt number.
func (e *TaskError) WithAttempt(n int) *TaskError {
	e.Attempt = n
	return e
}

// WithPhase adds the step of the loop that failed (build, commit, review).
func (e *TaskError) WithPhase(phase string) *TaskError {
	e.Phase = phase
	return e
}

// WithRetryable sets whether the error is retryable.
func (e *TaskError) WithRetryable(r bool) *TaskError {
	e.retryable = r
	return e
}

func (e *TaskError) Error() string {
	var parts []string
	if e.TaskID != "" {
		parts = append(parts, "task="+e.TaskID)
	}
	if e.Attempt >= 0 {
		parts = append(parts, fmt.Sprintf("attempt=%d", e.Attempt))
	}
	if e.Phase != "" {
		parts = append(parts, "phase="+e.Phase)
	}
	return e.format("task", parts)
}

func (e *TaskError) Is(target error) bool {
	if _, ok := target.(*TaskError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// GitError represents a failed git invocation.
type GitError struct {
	baseError
	Op     string
	Branch string
	Output string
}

// NewGitError creates a new GitError.
func NewGitError(message string, cause error) *GitError {
	return &GitError{baseError: baseError{
		message:    message,
		cause:      cause,
		userFacing: true,
	}}
}

// WithOp adds the git subcommand.
func (e *GitError) WithOp(op string) *GitError {
	e.Op = op
	return e
}

// WithBranch adds a branch name to the error context.
func (e *GitError) WithBranch(branch string) *GitError {
	e.Branch = branch
	return e
}

// WithOutput attaches git's combined output.
func (e *GitError) WithOutput(output string) *GitError {
	e.Output = strings.TrimSpace(output)
	return e
}

func (e *GitError) Error() string {
	var parts []string
	if e.Op != "" {
		parts = append(parts, "op="+e.Op)
	}
	if e.Branch != "" {
		parts = append(parts, "branch="+e.Branch)
	}
	msg := e.format("git", parts)
	if e.Output != "" {
		msg += " (" + e.Output + ")"
	}
	return msg
}

func (e *GitError) Is(target error) bool {
	if _, ok := target.(*GitError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// ValidationError represents invalid input, configuration or agent output.
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{baseError: baseError{
		message:    message,
		userFacing: true,
	}}
}

// WithField adds a field name to the error context.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue adds the invalid value to the error context.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// WithCause adds a cause to the error.
func (e *ValidationError) WithCause(cause error) *ValidationError {
	e.cause = cause
	return e
}

// WithRetryable sets whether the error is retryable.
func (e *ValidationError) WithRetryable(r bool) *ValidationError {
	e.retryable = r
	return e
}

func (e *ValidationError) Error() string {
	var parts []string
	if e.Field != "" {
		parts = append(parts, "field="+e.Field)
	}
	if e.Value != nil {
		parts = append(parts, fmt.Sprintf("value=%v", e.Value))
	}
	return e.format("validation", parts)
}

func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// TimeoutError represents an operation that exceeded its deadline.
//
//	err := errors.NewTimeoutError("waiting for sentinel", 30*time.Minute)
//	fmt.Println(err) // "timeout error: waiting for sentinel (timeout: 30m0s)"
type TimeoutError struct {
	baseError
	Operation string
	Duration  time.Duration
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(operation string, duration time.Duration) *TimeoutError {
	return &TimeoutError{
		baseError: baseError{
			message:    operation,
			retryable:  true,
			userFacing: true,
		},
		Operation: operation,
		Duration:  duration,
	}
}

// WithCause adds a cause to the error.
func (e *TimeoutError) WithCause(cause error) *TimeoutError {
	e.cause = cause
	return e
}

func (e *TimeoutError) Error() string {
	base := fmt.Sprintf("timeout error: %s (timeout: %s)", e.Operation, e.Duration)
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", base, e.cause)
	}
	return base
}

func (e *TimeoutError) Is(target error) bool {
	if _, ok := target.(*TimeoutError); ok {
		return true
	}
	if target == ErrTimeout {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Classification
// -----------------------------------------------------------------------------

// IsRetryable reports whether err represents a transient condition.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var ve VibeError
	if As(err, &ve) {
		return ve.IsRetryable()
	}
	return Is(err, ErrTimeout)
}

// IsUserFacing reports whether err is safe to print without the debug log.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	var ve VibeError
	if As(err, &ve) {
		return ve.IsUserFacing()
	}
	return Is(err, ErrTmuxUnavailable) || Is(err, ErrTooManySessions) || Is(err, ErrConfigInvalid)
}

// IsRateLimited reports whether err looks like an agent rate-limit response:
// an HTTP 429 or the phrase "rate limit" in any case.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "429") || strings.Contains(strings.ToLower(msg), "rate limit")
}
