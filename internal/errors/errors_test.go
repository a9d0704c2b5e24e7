package errors

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestSessionError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *SessionError
		want string
	}{
		{
			name: "basic error",
			err:  NewSessionError("wait failed", nil),
			want: "session error: wait failed",
		},
		{
			name: "with cause",
			err:  NewSessionError("wait failed", ErrSessionDied),
			want: "session error: wait failed: session ended unexpectedly",
		},
		{
			name: "with session and task",
			err:  NewSessionError("wait failed", ErrSessionDied).WithSession("vibe-task-a").WithTaskID("a"),
			want: "session error [session=vibe-task-a, task=a]: wait failed: session ended unexpectedly",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTaskError(t *testing.T) {
	err := NewTaskError("no commit", ErrNoCommit).WithTaskID("task_1").WithAttempt(2).WithPhase("commit")

	want := "task error [task=task_1, attempt=2, phase=commit]: no commit: no agent commit found"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !err.IsRetryable() {
		t.Error("task errors should be retryable by default")
	}
	if !Is(err, ErrNoCommit) {
		t.Error("Is(err, ErrNoCommit) = false, want true")
	}
	var te *TaskError
	if !As(fmt.Errorf("wrapped: %w", err), &te) || te.TaskID != "task_1" {
		t.Error("As through wrapping failed")
	}
}

func TestGitError_Error(t *testing.T) {
	err := NewGitError("merge failed", ErrMergeConflict).WithOp("merge").WithBranch("feature").WithOutput("CONFLICT (content)\n")
	want := "git error [op=merge, branch=feature]: merge failed: merge conflict (CONFLICT (content))"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !Is(err, ErrMergeConflict) {
		t.Error("expected to match ErrMergeConflict")
	}
}

func TestTimeoutError(t *testing.T) {
	err := NewTimeoutError("waiting for sentinel", 30*time.Second)
	if got, want := err.Error(), "timeout error: waiting for sentinel (timeout: 30s)"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !Is(err, ErrTimeout) {
		t.Error("TimeoutError should match ErrTimeout")
	}
	if !IsRetryable(err) {
		t.Error("TimeoutError should be retryable")
	}
}

func TestValidationError(t *testing.T) {
	err := NewValidationError("must be at least 1").WithField("factory.max_retries").WithValue(0)
	want := "validation error [field=factory.max_retries, value=0]: must be at least 1"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error", errors.New("boom"), false},
		{"bare timeout sentinel", ErrTimeout, true},
		{"task error", NewTaskError("x", nil), true},
		{"non retryable task error", NewTaskError("x", nil).WithRetryable(false), false},
		{"session error", NewSessionError("x", ErrTooManySessions), false},
		{"validation error", NewValidationError("x"), false},
		{"retryable validation error", NewValidationError("x").WithRetryable(true), true},
		{"wrapped timeout", fmt.Errorf("outer: %w", NewTimeoutError("op", time.Second)), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsUserFacing(t *testing.T) {
	if IsUserFacing(nil) {
		t.Error("nil should not be user facing")
	}
	if !IsUserFacing(fmt.Errorf("start: %w", ErrTmuxUnavailable)) {
		t.Error("tmux missing should be user facing")
	}
	if IsUserFacing(errors.New("internal")) {
		t.Error("plain errors should not be user facing")
	}
}

func TestIsRateLimited(t *testing.T) {
	tests := []struct {
		msg  string
		want bool
	}{
		{"HTTP 429 Too Many Requests", true},
		{"Rate Limit exceeded", true},
		{"you hit the RATE LIMIT", true},
		{"ratelimit", false},
		{"exit status 1", false},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			if got := IsRateLimited(errors.New(tt.msg)); got != tt.want {
				t.Errorf("IsRateLimited(%q) = %v, want %v", tt.msg, got, tt.want)
			}
		})
	}
	if IsRateLimited(nil) {
		t.Error("nil should not be rate limited")
	}
}
