package monitor

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/Iron-Ham/vibeflow/internal/event"
)

// describe renders an event as one human line, or "" for events not
// worth showing.
func describe(ev event.Event) string {
	switch e := ev.(type) {
	case event.TaskStartedEvent:
		return fmt.Sprintf("[%s] started on %s", e.TaskID, e.Branch)
	case event.TaskStatusEvent:
		line := fmt.Sprintf("[%s] %s -> %s (failed attempts: %d)", e.TaskID, e.Previous, e.Status, e.Attempts)
		if e.Reason != "" && e.Status == "FAILED" {
			line += ": " + firstLine(e.Reason)
		}
		return line
	case event.TaskAttemptEvent:
		if e.Heal {
			return fmt.Sprintf("[%s] heal attempt %d", e.TaskID, e.Attempt)
		}
		return ""
	case event.FileOverlapEvent:
		return fmt.Sprintf("[overlap] %s written by %s", e.Path, strings.Join(e.Tasks, ", "))
	case event.MergeBranchEvent:
		line := fmt.Sprintf("[merge] %s %s", e.Branch, e.Outcome)
		if len(e.Files) > 0 {
			line += " (" + strings.Join(e.Files, ", ") + ")"
		}
		return line
	case event.PhaseEvent:
		if e.EventType() == event.TypePhaseStarted {
			return fmt.Sprintf("== %s ==", e.Phase)
		}
		if e.Err != nil {
			return fmt.Sprintf("== %s failed: %v ==", e.Phase, e.Err)
		}
		return ""
	}
	return ""
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// Plain prints events as timestamped lines. It is used when stdout is not
// a terminal and after the operator detaches the live monitor.
type Plain struct {
	mu  sync.Mutex
	w   io.Writer
	now func() time.Time
}

// NewPlain creates a Plain printer writing to w.
func NewPlain(w io.Writer) *Plain {
	return &Plain{w: w, now: time.Now}
}

// Handle prints ev. It satisfies event.Handler.
func (p *Plain) Handle(ev event.Event) {
	line := describe(ev)
	if line == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "%s %s\n", p.now().Format("15:04:05"), line)
}
