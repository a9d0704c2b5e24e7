// Package monitor shows task progress while the Factory runs and carries
// the operator's debug console.
//
// On a terminal the monitor is a bubbletea program: a task table, the
// event stream and a console whose commands (pause, resume, kill, status,
// logs) travel over the Factory's control channel. Elsewhere it prints one
// line per event.
package monitor

import (
	"context"
	"io"
	"os"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"

	"github.com/Iron-Ham/vibeflow/internal/event"
	"github.com/Iron-Ham/vibeflow/internal/logging"
)

const eventBuffer = 256

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return f != nil && term.IsTerminal(int(f.Fd()))
}

// Options configures Start.
type Options struct {
	// Interactive selects the live monitor. When false events are printed
	// as plain lines.
	Interactive bool
	In          io.Reader
	Out         io.Writer
	// OnAbort is called when the operator aborts the run from the monitor.
	OnAbort func()
	Logger  *logging.Logger
}

// Monitor is a running progress display.
type Monitor struct {
	bus    *event.Bus
	opts   Options
	logger *logging.Logger

	mu     sync.Mutex
	ch     chan event.Event
	closed bool
	subID  string
	plain  *Plain
	done   chan struct{}
}

// Start subscribes to bus and begins displaying. The returned Monitor
// must be stopped.
func Start(ctx context.Context, bus *event.Bus, state StateSource, sender Sender, opts Options) *Monitor {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Logger == nil {
		opts.Logger = logging.NopLogger()
	}
	m := &Monitor{bus: bus, opts: opts, logger: opts.Logger, done: make(chan struct{})}

	if !opts.Interactive {
		m.plain = NewPlain(opts.Out)
		m.subID = bus.SubscribeAll(m.plain.Handle)
		close(m.done)
		return m
	}

	m.ch = make(chan event.Event, eventBuffer)
	m.subID = bus.SubscribeAll(m.forward)

	progOpts := []tea.ProgramOption{tea.WithAltScreen(), tea.WithContext(ctx), tea.WithOutput(opts.Out)}
	if opts.In != nil {
		progOpts = append(progOpts, tea.WithInput(opts.In))
	}
	prog := tea.NewProgram(NewModel(state, sender, m.ch, opts.OnAbort), progOpts...)

	go func() {
		defer close(m.done)
		final, err := prog.Run()
		if err != nil && ctx.Err() == nil {
			m.logger.Warn("monitor exited", "error", err)
		}
		if fm, ok := final.(Model); ok && fm.Detached() {
			m.detach()
		}
	}()
	return m
}

// forward hands an event to the live monitor without blocking the
// publisher. The monitor re-reads task state every second, so a dropped
// event only delays a line of output.
func (m *Monitor) forward(ev event.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	select {
	case m.ch <- ev:
	default:
	}
}

// detach swaps the live monitor for plain output.
func (m *Monitor) detach() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.bus.Unsubscribe(m.subID)
	m.plain = NewPlain(m.opts.Out)
	m.subID = m.bus.SubscribeAll(m.plain.Handle)
}

// Stop ends the display and waits for the live monitor to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.closed {
		m.closed = true
		m.bus.Unsubscribe(m.subID)
		if m.ch != nil {
			close(m.ch)
		}
	}
	m.mu.Unlock()
	<-m.done
}
