package event

import "time"

// Event types.
const (
	TypeTaskStarted    = "task.started"
	TypeTaskStatus     = "task.status"
	TypeTaskAttempt    = "task.attempt"
	TypeFileOverlap    = "file.overlap"
	TypeMergeBranch    = "merge.branch"
	TypePhaseStarted   = "phase.started"
	TypePhaseCompleted = "phase.completed"
)

// Event is implemented by every published value.
type Event interface {
	EventType() string
	Timestamp() time.Time
}

type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{eventType: eventType, timestamp: time.Now()}
}

// TaskStatusEvent is published whenever a task changes status.
type TaskStatusEvent struct {
	baseEvent
	TaskID   string
	Name     string
	Previous string
	Status   string
	Attempts int
	Reason   string
}

// NewTaskStatusEvent creates a TaskStatusEvent.
func NewTaskStatusEvent(taskID, name, previous, status string, attempts int, reason string) TaskStatusEvent {
	return TaskStatusEvent{
		baseEvent: newBaseEvent(TypeTaskStatus),
		TaskID:    taskID,
		Name:      name,
		Previous:  previous,
		Status:    status,
		Attempts:  attempts,
		Reason:    reason,
	}
}

// TaskStartedEvent is published once, when a task first leaves PENDING.
type TaskStartedEvent struct {
	baseEvent
	TaskID   string
	Name     string
	Branch   string
	Worktree string
}

// NewTaskStartedEvent creates a TaskStartedEvent.
func NewTaskStartedEvent(taskID, name, branch, worktree string) TaskStartedEvent {
	return TaskStartedEvent{
		baseEvent: newBaseEvent(TypeTaskStarted),
		TaskID:    taskID,
		Name:      name,
		Branch:    branch,
		Worktree:  worktree,
	}
}

// TaskAttemptEvent is published when an attempt begins. Attempt is 1-based.
type TaskAttemptEvent struct {
	baseEvent
	TaskID  string
	Attempt int
	Heal    bool
}

// NewTaskAttemptEvent creates a TaskAttemptEvent.
func NewTaskAttemptEvent(taskID string, attempt int) TaskAttemptEvent {
	return TaskAttemptEvent{
		baseEvent: newBaseEvent(TypeTaskAttempt),
		TaskID:    taskID,
		Attempt:   attempt,
		Heal:      attempt > 1,
	}
}

// FileOverlapEvent is published when running tasks write the same
// relative path in their worktrees.
type FileOverlapEvent struct {
	baseEvent
	Path  string
	Tasks []string
}

// NewFileOverlapEvent creates a FileOverlapEvent.
func NewFileOverlapEvent(path string, tasks []string) FileOverlapEvent {
	return FileOverlapEvent{
		baseEvent: newBaseEvent(TypeFileOverlap),
		Path:      path,
		Tasks:     tasks,
	}
}

// Merge outcomes.
const (
	MergeClean    = "merged"
	MergeMediated = "mediated"
	MergeSkipped  = "skipped"
	MergeFailed   = "failed"
)

// MergeBranchEvent is published once per branch the merge phase handles.
type MergeBranchEvent struct {
	baseEvent
	TaskID  string
	Branch  string
	Outcome string
	Files   []string
}

// NewMergeBranchEvent creates a MergeBranchEvent.
func NewMergeBranchEvent(taskID, branch, outcome string, files []string) MergeBranchEvent {
	return MergeBranchEvent{
		baseEvent: newBaseEvent(TypeMergeBranch),
		TaskID:    taskID,
		Branch:    branch,
		Outcome:   outcome,
		Files:     files,
	}
}

// PhaseEvent marks the start or end of a workflow phase.
type PhaseEvent struct {
	baseEvent
	Phase string
	// Err is set on a failed phase.completed event.
	Err error
}

// NewPhaseStartedEvent creates a phase.started event.
func NewPhaseStartedEvent(phase string) PhaseEvent {
	return PhaseEvent{baseEvent: newBaseEvent(TypePhaseStarted), Phase: phase}
}

// NewPhaseCompletedEvent creates a phase.completed event.
func NewPhaseCompletedEvent(phase string, err error) PhaseEvent {
	return PhaseEvent{baseEvent: newBaseEvent(TypePhaseCompleted), Phase: phase, Err: err}
}
