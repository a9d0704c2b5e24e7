package retry

import (
	"slices"
	"sync"
)

// TaskState is the attempt history of one task.
type TaskState struct {
	TaskID     string   `json:"task_id" yaml:"task_id"`
	Attempts   int      `json:"attempts" yaml:"attempts"`
	MaxRetries int      `json:"max_retries" yaml:"max_retries"`
	LastError  string   `json:"last_error,omitempty" yaml:"last_error,omitempty"`
	Feedback   string   `json:"feedback,omitempty" yaml:"feedback,omitempty"`
	Commits    []string `json:"commits,omitempty" yaml:"commits,omitempty"`
	Succeeded  bool     `json:"succeeded,omitempty" yaml:"succeeded,omitempty"`
}

// Manager tracks attempt history per task. It is safe for concurrent use.
type Manager struct {
	mu     sync.RWMutex
	states map[string]*TaskState
}

// NewManager creates a new Manager.
func NewManager() *Manager {
	return &Manager{states: make(map[string]*TaskState)}
}

// Track registers a task with its attempt budget. Tracking an already
// known task is a no-op.
func (m *Manager) Track(taskID string, maxRetries int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.states[taskID]; !ok {
		m.states[taskID] = &TaskState{TaskID: taskID, MaxRetries: maxRetries}
	}
}

func (m *Manager) update(taskID string, fn func(*TaskState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.states[taskID]; ok {
		fn(s)
	}
}

// RecordFailure counts a failed attempt and stores its error and any
// review feedback for the next heal prompt.
func (m *Manager) RecordFailure(taskID string, errMsg, feedback string) {
	m.update(taskID, func(s *TaskState) {
		s.Attempts++
		s.LastError = errMsg
		if feedback != "" {
			s.Feedback = feedback
		}
	})
}

// RecordSuccess marks the task as done.
func (m *Manager) RecordSuccess(taskID string) {
	m.update(taskID, func(s *TaskState) { s.Succeeded = true })
}

// RecordCommit appends the agent commit produced by an attempt.
func (m *Manager) RecordCommit(taskID, hash string) {
	m.update(taskID, func(s *TaskState) { s.Commits = append(s.Commits, hash) })
}

// ShouldRetry reports whether the task has budget left and has not succeeded.
func (m *Manager) ShouldRetry(taskID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.states[taskID]
	return ok && !s.Succeeded && s.Attempts < s.MaxRetries
}

// Feedback returns the latest review feedback stored for the task.
func (m *Manager) Feedback(taskID string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.states[taskID]; ok {
		return s.Feedback
	}
	return ""
}

// Get returns a copy of the task's state.
func (m *Manager) Get(taskID string) (TaskState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.states[taskID]
	if !ok {
		return TaskState{}, false
	}
	c := *s
	c.Commits = slices.Clone(s.Commits)
	return c, true
}

// FailedTasks returns the ids of tasks that exhausted their budget, sorted.
func (m *Manager) FailedTasks() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var failed []string
	for id, s := range m.states {
		if !s.Succeeded && s.Attempts >= s.MaxRetries {
			failed = append(failed, id)
		}
	}
	slices.Sort(failed)
	return failed
}

// All returns copies of every tracked state keyed by task id.
func (m *Manager) All() map[string]TaskState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]TaskState, len(m.states))
	for id, s := range m.states {
		c := *s
		c.Commits = slices.Clone(s.Commits)
		out[id] = c
	}
	return out
}
