package instance

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Iron-Ham/vibeflow/internal/errors"
)

// scratch holds the per-turn files the agent writes into its directory.
type scratch struct {
	sentinel string
	output   string
	format   string
}

func newScratch(req Request) scratch {
	format := req.OutputFormat
	if format == "" {
		format = FormatText
	}
	return scratch{
		sentinel: SentinelPath(req.Dir, req.TaskID),
		output:   OutputPath(req.Dir, req.TaskID, format),
		format:   format,
	}
}

// SentinelPath is the completion marker for taskID inside dir.
func SentinelPath(dir, taskID string) string {
	return filepath.Join(dir, ".vibe_done_"+taskID)
}

// OutputPath is the result file for taskID inside dir.
func OutputPath(dir, taskID, format string) string {
	return filepath.Join(dir, ".vibe_output_"+taskID+"."+format)
}

func (s scratch) sentinelName() string { return filepath.Base(s.sentinel) }
func (s scratch) outputName() string   { return filepath.Base(s.output) }

func (s scratch) done() bool {
	_, err := os.Stat(s.sentinel)
	return err == nil
}

func (s scratch) remove() {
	_ = os.Remove(s.sentinel)
	_ = os.Remove(s.output)
}

// wait polls until the sentinel appears, the session disappears, the
// timeout passes, or ctx ends. It returns the terminal state reached, or ""
// when ctx ended first.
func (r *Runner) wait(ctx context.Context, name string, sc scratch, timeout time.Duration) (State, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = r.now().Add(timeout)
	}

	var wake <-chan struct{}
	if r.watch {
		ch, stop := watchFile(sc.sentinel)
		defer stop()
		wake = ch
	}

	interval := r.cfg.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if sc.done() {
			return StateCompleted, nil
		}
		if !r.tmux.HasSession(ctx, name) {
			// The agent may create the sentinel and exit between checks.
			if sc.done() {
				return StateCompleted, nil
			}
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return StateSessionDied, errors.NewSessionError("tmux session ended without completion signal", errors.ErrSessionDied).
				WithSession(name).WithRetryable(true)
		}
		if !deadline.IsZero() && !r.now().Before(deadline) {
			return StateTimedOut, errors.NewTimeoutError("session "+name, timeout)
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		case <-wake:
		}
	}
}

// watchFile signals on the returned channel whenever path is created or
// written. Polling stays authoritative; when the watcher cannot be set up
// the channel is nil and never fires.
func watchFile(path string) (<-chan struct{}, func()) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, func() {}
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		_ = w.Close()
		return nil, func() {}
	}

	target := filepath.Base(path)
	ch := make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != target || event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
					continue
				}
				select {
				case ch <- struct{}{}:
				default:
				}
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return ch, func() {
		close(done)
		_ = w.Close()
	}
}
