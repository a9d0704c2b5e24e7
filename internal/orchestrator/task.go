package orchestrator

import (
	"slices"
	"sync"
	"time"

	"github.com/Iron-Ham/vibeflow/internal/plan"
	"github.com/Iron-Ham/vibeflow/internal/project"
)

// Status is a task's lifecycle position.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusSucceeded Status = "SUCCEEDED"
	StatusHealed    Status = "HEALED"
	StatusFailed    Status = "FAILED"
)

// IsTerminal reports whether the task has finished.
func (s Status) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusHealed || s == StatusFailed
}

// Mergeable reports whether a task in this status is merged.
func (s Status) Mergeable() bool {
	return s == StatusSucceeded || s == StatusHealed
}

// Task is one planned unit of work and the resources bound to it.
// Attempts counts failed attempts.
type Task struct {
	ID           string    `yaml:"id" json:"id"`
	Name         string    `yaml:"name" json:"name"`
	Desc         string    `yaml:"desc" json:"desc"`
	BranchName   string    `yaml:"branch,omitempty" json:"branch,omitempty"`
	WorktreePath string    `yaml:"worktree,omitempty" json:"worktree,omitempty"`
	Status       Status    `yaml:"status" json:"status"`
	Attempts     int       `yaml:"attempts" json:"attempts"`
	LogPath      string    `yaml:"log,omitempty" json:"log,omitempty"`
	StartTime    time.Time `yaml:"start_time,omitempty" json:"start_time,omitempty"`
	EndTime      time.Time `yaml:"end_time,omitempty" json:"end_time,omitempty"`
	LastError    string    `yaml:"last_error,omitempty" json:"last_error,omitempty"`
	// TestCommand is what the passing review ran; Untested marks a
	// placeholder command that tested nothing.
	TestCommand string `yaml:"test_command,omitempty" json:"test_command,omitempty"`
	Untested    bool   `yaml:"untested,omitempty" json:"untested,omitempty"`
}

// Duration is the wall time the task ran, or zero if it has not finished.
func (t Task) Duration() time.Duration {
	if t.StartTime.IsZero() || t.EndTime.IsZero() {
		return 0
	}
	return t.EndTime.Sub(t.StartTime)
}

// NewTasks creates PENDING tasks in plan order.
func NewTasks(p plan.Plan) []*Task {
	tasks := make([]*Task, len(p))
	for i, it := range p {
		tasks[i] = &Task{ID: it.ID, Name: it.Name, Desc: it.Desc, Status: StatusPending}
	}
	return tasks
}

// SessionState is the shared record of one workflow run. Tasks are only
// mutated through Update, which serializes writers and snapshot readers.
type SessionState struct {
	mu          sync.RWMutex
	mode        project.Mode
	domain      project.Domain
	startCommit string
	startedAt   time.Time
	phase       string
	tasks       []*Task
}

// NewSessionState creates the run record.
func NewSessionState(mode project.Mode, domain project.Domain, startCommit string, startedAt time.Time) *SessionState {
	return &SessionState{mode: mode, domain: domain, startCommit: startCommit, startedAt: startedAt}
}

func (s *SessionState) Mode() project.Mode     { return s.mode }
func (s *SessionState) Domain() project.Domain { return s.domain }
func (s *SessionState) StartCommit() string    { return s.startCommit }

// SetPhase records the workflow phase in progress.
func (s *SessionState) SetPhase(phase string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = phase
}

// AddTasks appends tasks to the run.
func (s *SessionState) AddTasks(tasks ...*Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, tasks...)
}

// Update applies fn to the task with id under the state lock. It reports
// whether the task exists.
func (s *SessionState) Update(id string, fn func(*Task)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if t.ID == id {
			fn(t)
			return true
		}
	}
	return false
}

// Task returns a copy of the task with id.
func (s *SessionState) Task(id string) (Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tasks {
		if t.ID == id {
			return *t, true
		}
	}
	return Task{}, false
}

// Tasks returns copies of every task in plan order.
func (s *SessionState) Tasks() []Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Task, len(s.tasks))
	for i, t := range s.tasks {
		out[i] = *t
	}
	return out
}

// Snapshot is a point-in-time copy of a SessionState, suitable for
// persisting and rendering.
type Snapshot struct {
	Mode        project.Mode   `yaml:"mode" json:"mode"`
	Domain      project.Domain `yaml:"domain" json:"domain"`
	StartCommit string         `yaml:"start_commit,omitempty" json:"start_commit,omitempty"`
	StartedAt   time.Time      `yaml:"started_at" json:"started_at"`
	UpdatedAt   time.Time      `yaml:"updated_at" json:"updated_at"`
	Phase       string         `yaml:"phase,omitempty" json:"phase,omitempty"`
	Tasks       []Task         `yaml:"tasks" json:"tasks"`
}

// Snapshot copies the state.
func (s *SessionState) Snapshot(now time.Time) Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		Mode:        s.mode,
		Domain:      s.domain,
		StartCommit: s.startCommit,
		StartedAt:   s.startedAt,
		UpdatedAt:   now,
		Phase:       s.phase,
		Tasks:       make([]Task, len(s.tasks)),
	}
	for i, t := range s.tasks {
		snap.Tasks[i] = *t
	}
	return snap
}

// Counts tallies tasks by status.
func (s Snapshot) Counts() map[Status]int {
	out := make(map[Status]int)
	for _, t := range s.Tasks {
		out[t.Status]++
	}
	return out
}

// Mergeable returns the tasks the merge phase should process, in plan order.
func (s Snapshot) Mergeable() []Task {
	return slices.DeleteFunc(slices.Clone(s.Tasks), func(t Task) bool { return !t.Status.Mergeable() })
}
