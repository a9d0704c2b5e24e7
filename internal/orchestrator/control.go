package orchestrator

import (
	"context"
	"sync"

	"github.com/Iron-Ham/vibeflow/internal/errors"
)

// CommandKind names an operator command.
type CommandKind string

const (
	CmdPause  CommandKind = "pause"
	CmdResume CommandKind = "resume"
	CmdKill   CommandKind = "kill"
	CmdStatus CommandKind = "status"
	CmdLogs   CommandKind = "logs"
)

// Command is a message from the monitor to the scheduler. Reply, when set,
// receives exactly one Reply; it should be buffered.
type Command struct {
	Kind   CommandKind
	TaskID string
	Reply  chan<- Reply
}

// Reply answers a Command.
type Reply struct {
	Tasks []Task
	Lines []string
	Err   error
}

// Control is the channel between the monitor and a running Factory. The
// monitor sends commands; the Factory applies them and its tasks consult
// Checkpoint between steps. Tasks are never mutated by the sender.
type Control struct {
	cmds chan Command

	mu      sync.Mutex
	paused  bool
	resumed chan struct{}
	killed  map[string]bool
	cancels map[string]context.CancelFunc
}

// NewControl creates an unpaused Control.
func NewControl() *Control {
	resumed := make(chan struct{})
	close(resumed)
	return &Control{
		cmds:    make(chan Command, 16),
		resumed: resumed,
		killed:  make(map[string]bool),
		cancels: make(map[string]context.CancelFunc),
	}
}

// Send queues cmd for the scheduler.
func (c *Control) Send(ctx context.Context, cmd Command) error {
	select {
	case c.cmds <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Commands is the receive side the scheduler serves.
func (c *Control) Commands() <-chan Command { return c.cmds }

// Pause holds every task at its next checkpoint.
func (c *Control) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.paused {
		c.paused = true
		c.resumed = make(chan struct{})
	}
}

// Resume releases paused tasks.
func (c *Control) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused {
		c.paused = false
		close(c.resumed)
	}
}

// Paused reports whether the scheduler is paused.
func (c *Control) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// WaitIfPaused blocks while paused or until ctx is done.
func (c *Control) WaitIfPaused(ctx context.Context) error {
	c.mu.Lock()
	ch := c.resumed
	c.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Checkpoint is called by a task between steps. It waits out a pause and
// fails with ErrTaskKilled once the task has been killed.
func (c *Control) Checkpoint(ctx context.Context, taskID string) error {
	if c.Killed(taskID) {
		return errors.ErrTaskKilled
	}
	if err := c.WaitIfPaused(ctx); err != nil {
		if c.Killed(taskID) {
			return errors.ErrTaskKilled
		}
		return err
	}
	if c.Killed(taskID) {
		return errors.ErrTaskKilled
	}
	return nil
}

// Killed reports whether taskID was killed by the operator.
func (c *Control) Killed(taskID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.killed[taskID]
}

func (c *Control) register(taskID string, cancel context.CancelFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancels[taskID] = cancel
}

func (c *Control) unregister(taskID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cancels, taskID)
}

// kill marks taskID killed and cancels its context when it is running.
func (c *Control) kill(taskID string) {
	c.mu.Lock()
	c.killed[taskID] = true
	cancel := c.cancels[taskID]
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
