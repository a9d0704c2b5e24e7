// Package retry provides the single retry primitive used by vibeflow and
// per-task attempt bookkeeping.
//
// Policy.Do runs an operation up to MaxAttempts times. Between attempts it
// sleeps for an exponentially growing delay, capped at MaxDelay, except when
// the failure looks like an agent rate limit, in which case it always waits
// the fixed RateLimitDelay.
package retry

import (
	"context"
	"time"

	vferrors "github.com/Iron-Ham/vibeflow/internal/errors"
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Policy configures Do.
type Policy struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	RateLimitDelay time.Duration
	// Sleep defaults to a context-aware timer wait. Tests substitute it.
	Sleep SleepFunc
	// OnRetry, when set, is called before each backoff sleep.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultPolicy mirrors the agent defaults: 60s ceiling and 60s rate-limit cool-down.
func DefaultPolicy(maxAttempts int, base time.Duration) Policy {
	return Policy{
		MaxAttempts:    maxAttempts,
		BaseDelay:      base,
		MaxDelay:       60 * time.Second,
		RateLimitDelay: 60 * time.Second,
	}
}

// Delay returns the wait after the given failed attempt (1-based).
func (p Policy) Delay(attempt int, err error) time.Duration {
	if vferrors.IsRateLimited(err) {
		return p.RateLimitDelay
	}
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// permanentError stops Do from retrying.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Do returns the wrapped error.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do runs op until it succeeds, returns a Permanent error or a typed error
// not marked retryable, ctx is done, or MaxAttempts is exhausted, in which
// case the last error is returned.
// op receives the 1-based attempt number.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var zero T
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, lastErr
			}
			return zero, err
		}

		v, err := op(ctx, attempt)
		if err == nil {
			return v, nil
		}
		var perm *permanentError
		if vferrors.As(err, &perm) {
			return zero, perm.err
		}
		var typed vferrors.VibeError
		if vferrors.As(err, &typed) && !vferrors.IsRetryable(err) {
			return zero, err
		}
		lastErr = err
		if attempt == maxAttempts {
			break
		}

		delay := p.Delay(attempt, err)
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, delay)
		}
		if err := sleep(ctx, delay); err != nil {
			return zero, lastErr
		}
	}
	return zero, lastErr
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
