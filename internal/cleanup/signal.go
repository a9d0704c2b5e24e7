package cleanup

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// Exit codes for a run ended by a signal.
const (
	ExitInterrupted = 130
	ExitTerminated  = 143
)

// Trap cancels its context on the first SIGINT or SIGTERM and remembers
// which signal arrived.
type Trap struct {
	mu     sync.Mutex
	sig    os.Signal
	ch     chan os.Signal
	cancel context.CancelFunc
	done   chan struct{}
}

// NewTrap returns a context canceled by SIGINT or SIGTERM.
func NewTrap(parent context.Context) (context.Context, *Trap) {
	ctx, cancel := context.WithCancel(parent)
	t := &Trap{ch: make(chan os.Signal, 1), cancel: cancel, done: make(chan struct{})}
	signal.Notify(t.ch, os.Interrupt, syscall.SIGTERM)
	go t.wait(ctx)
	return ctx, t
}

func (t *Trap) wait(ctx context.Context) {
	defer close(t.done)
	select {
	case s := <-t.ch:
		t.mu.Lock()
		t.sig = s
		t.mu.Unlock()
		t.cancel()
	case <-ctx.Done():
	}
}

// Interrupt ends the run as if SIGINT had arrived.
func (t *Trap) Interrupt() {
	select {
	case t.ch <- os.Interrupt:
	default:
	}
}

// Signal returns the signal that canceled the context, if any.
func (t *Trap) Signal() os.Signal {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sig
}

// ExitCode maps the received signal to a shell exit status; zero when no
// signal arrived.
func (t *Trap) ExitCode() int {
	return ExitCode(t.Signal())
}

// ExitCode maps a signal to the conventional 128+n status.
func ExitCode(s os.Signal) int {
	switch s {
	case os.Interrupt:
		return ExitInterrupted
	case syscall.SIGTERM:
		return ExitTerminated
	default:
		return 0
	}
}

// Stop restores default signal handling and releases the context.
func (t *Trap) Stop() {
	signal.Stop(t.ch)
	t.cancel()
	<-t.done
}
