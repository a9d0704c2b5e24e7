package instance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Iron-Ham/vibeflow/internal/errors"
	"github.com/Iron-Ham/vibeflow/internal/logging"
	"github.com/Iron-Ham/vibeflow/internal/tmux"
)

// preflight fails fast when tmux is missing, reaps stale sessions when the
// pool is nearly full, and refuses to exceed the session cap.
func (r *Runner) preflight(ctx context.Context, logger *logging.Logger) error {
	if _, err := r.tmux.Version(ctx); err != nil {
		return err
	}

	sessions, err := r.Sessions(ctx)
	if err != nil {
		return errors.NewSessionError("failed to list sessions", err).WithRetryable(true)
	}
	if r.nearlyFull(len(sessions)) {
		reaped := r.reap(ctx, sessions, logger)
		if reaped > 0 {
			if sessions, err = r.Sessions(ctx); err != nil {
				return errors.NewSessionError("failed to list sessions", err).WithRetryable(true)
			}
		}
	}

	if r.cfg.MaxSessions > 0 && len(sessions) >= r.cfg.MaxSessions {
		return errors.NewSessionError(
			fmt.Sprintf("%d/%d sessions active", len(sessions), r.cfg.MaxSessions),
			errors.ErrTooManySessions,
		).WithRetryable(true)
	}
	return nil
}

// nearlyFull reports whether n exceeds 80% of the session cap.
func (r *Runner) nearlyFull(n int) bool {
	return r.cfg.MaxSessions > 0 && n*5 > r.cfg.MaxSessions*4
}

func (r *Runner) reap(ctx context.Context, sessions []tmux.Session, logger *logging.Logger) int {
	if r.cfg.StaleAfter <= 0 {
		return 0
	}
	now := r.now()
	n := 0
	for _, s := range sessions {
		if s.Created.IsZero() || now.Sub(s.Created) <= r.cfg.StaleAfter {
			continue
		}
		logger.Info("reaping stale session", "stale_session", s.Name, "age", now.Sub(s.Created).Round(time.Second).String())
		if err := r.tmux.KillSession(ctx, s.Name); err != nil {
			logger.Warn("failed to reap session", "stale_session", s.Name, "error", err)
			continue
		}
		n++
	}
	return n
}

// Sessions lists the sessions vibeflow owns.
func (r *Runner) Sessions(ctx context.Context) ([]tmux.Session, error) {
	return r.tmux.ListSessions(ctx, r.cfg.Prefix)
}

// Kill terminates the session for taskID (or a full session name).
func (r *Runner) Kill(ctx context.Context, taskID string) error {
	return r.tmux.KillSession(ctx, r.SessionName(taskID))
}

// KillAll terminates every vibeflow session and returns how many it killed.
func (r *Runner) KillAll(ctx context.Context) (int, error) {
	sessions, err := r.Sessions(ctx)
	if err != nil {
		return 0, err
	}
	var errs []error
	n := 0
	for _, s := range sessions {
		if err := r.tmux.KillSession(ctx, s.Name); err != nil {
			errs = append(errs, err)
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

// Tail returns the last lines visible in taskID's session.
func (r *Runner) Tail(ctx context.Context, taskID string, lines int) (string, error) {
	name := r.SessionName(taskID)
	if !r.tmux.HasSession(ctx, name) {
		return "", errors.NewSessionError("no such session", errors.ErrTaskNotFound).WithSession(name)
	}
	return r.tmux.CapturePane(ctx, name, lines)
}

// AttachCommand returns the argv an operator runs to attach to taskID.
func (r *Runner) AttachCommand(taskID string) []string {
	return r.tmux.AttachArgs(r.SessionName(taskID))
}

// TaskID recovers the task id from a session name.
func (r *Runner) TaskID(session string) string {
	return strings.TrimPrefix(session, r.cfg.Prefix+"-")
}
