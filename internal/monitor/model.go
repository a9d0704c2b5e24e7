package monitor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/Iron-Ham/vibeflow/internal/event"
	"github.com/Iron-Ham/vibeflow/internal/orchestrator"
)

const (
	maxOutputLines = 200
	replyTimeout   = 5 * time.Second
	refreshEvery   = time.Second
)

// Sender delivers operator commands to the scheduler.
type Sender interface {
	Send(ctx context.Context, cmd orchestrator.Command) error
}

// StateSource provides the task rows.
type StateSource interface {
	Snapshot(now time.Time) orchestrator.Snapshot
}

type (
	eventMsg struct{ ev event.Event }
	replyMsg struct {
		cmd   orchestrator.Command
		reply orchestrator.Reply
	}
	refreshMsg time.Time
	closedMsg  struct{}
)

// Model is the live monitor.
type Model struct {
	state   StateSource
	sender  Sender
	events  <-chan event.Event
	onAbort func()

	table   table.Model
	spinner spinner.Model
	help    help.Model
	keys    keyMap
	input   textinput.Model

	snap     orchestrator.Snapshot
	output   []string
	console  bool
	paused   bool
	width    int
	height   int
	aborted  bool
	detached bool
}

// NewModel creates a Model reading events from events. onAbort is called
// when the operator aborts the whole run.
func NewModel(state StateSource, sender Sender, events <-chan event.Event, onAbort func()) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = ConsoleHelp
	ti.CharLimit = 128

	sp := spinner.New(spinner.WithSpinner(spinner.Dot))
	sp.Style = lipgloss.NewStyle().Foreground(blueColor)

	t := table.New(
		table.WithColumns(columns(100)),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	t.SetStyles(tableStyles())

	m := Model{
		state:   state,
		sender:  sender,
		events:  events,
		onAbort: onAbort,
		table:   t,
		spinner: sp,
		help:    help.New(),
		keys:    defaultKeys(),
		input:   ti,
		width:   100,
		height:  30,
	}
	m.refresh(time.Now())
	return m
}

func columns(width int) []table.Column {
	fixed := 16 + 10 + 8 + 9 + 12
	nameW := max(12, (width-fixed)/2)
	branchW := max(12, width-fixed-nameW)
	return []table.Column{
		{Title: "Task", Width: 16},
		{Title: "Name", Width: nameW},
		{Title: "Status", Width: 12},
		{Title: "Attempts", Width: 8},
		{Title: "Duration", Width: 9},
		{Title: "Branch", Width: branchW},
	}
}

// Init starts the spinner and the event and refresh loops.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForEvent(m.events), tickRefresh())
}

func waitForEvent(ch <-chan event.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return closedMsg{}
		}
		return eventMsg{ev: ev}
	}
}

func tickRefresh() tea.Cmd {
	return tea.Tick(refreshEvery, func(t time.Time) tea.Msg { return refreshMsg(t) })
}

// Update handles input, events and replies.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.table.SetColumns(columns(msg.Width - 4))
		m.table.SetHeight(max(3, msg.Height/2-4))
		m.help.Width = msg.Width
		return m, nil

	case eventMsg:
		m.appendOutput(describe(msg.ev))
		m.refresh(time.Now())
		return m, waitForEvent(m.events)

	case closedMsg:
		m.refresh(time.Now())
		return m, tea.Quit

	case refreshMsg:
		m.refresh(time.Time(msg))
		return m, tickRefresh()

	case replyMsg:
		if msg.cmd.Kind == orchestrator.CmdPause && msg.reply.Err == nil {
			m.paused = true
		}
		if msg.cmd.Kind == orchestrator.CmdResume && msg.reply.Err == nil {
			m.paused = false
		}
		for _, l := range FormatReply(msg.cmd, msg.reply) {
			m.appendOutput(l)
		}
		m.refresh(time.Now())
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		if m.console {
			return m.updateConsole(msg)
		}
		return m.updateKeys(msg)
	}
	return m, nil
}

func (m Model) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Abort):
		m.aborted = true
		if m.onAbort != nil {
			m.onAbort()
		}
		return m, tea.Quit
	case key.Matches(msg, m.keys.Detach):
		m.detached = true
		return m, tea.Quit
	case key.Matches(msg, m.keys.Pause):
		return m, m.send(orchestrator.Command{Kind: orchestrator.CmdPause})
	case key.Matches(msg, m.keys.Resume):
		return m, m.send(orchestrator.Command{Kind: orchestrator.CmdResume})
	case key.Matches(msg, m.keys.Kill):
		if id := m.selectedTask(); id != "" {
			return m, m.send(orchestrator.Command{Kind: orchestrator.CmdKill, TaskID: id})
		}
		return m, nil
	case key.Matches(msg, m.keys.Logs):
		if id := m.selectedTask(); id != "" {
			return m, m.send(orchestrator.Command{Kind: orchestrator.CmdLogs, TaskID: id})
		}
		return m, nil
	case key.Matches(msg, m.keys.Console):
		m.console = true
		return m, m.input.Focus()
	}
	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m Model) updateConsole(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.console = false
		m.input.Blur()
		m.input.SetValue("")
		return m, nil
	case tea.KeyEnter:
		line := m.input.Value()
		m.input.SetValue("")
		m.console = false
		m.input.Blur()
		m.appendOutput("> " + line)
		cmd, err := ParseCommand(line)
		if err != nil {
			m.appendOutput(err.Error())
			return m, nil
		}
		return m, m.send(cmd)
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// send issues cmd and waits for the scheduler's reply off the UI loop.
func (m Model) send(cmd orchestrator.Command) tea.Cmd {
	sender := m.sender
	return func() tea.Msg {
		reply := make(chan orchestrator.Reply, 1)
		cmd.Reply = reply
		ctx, cancel := context.WithTimeout(context.Background(), replyTimeout)
		defer cancel()
		if err := sender.Send(ctx, cmd); err != nil {
			return replyMsg{cmd: cmd, reply: orchestrator.Reply{Err: err}}
		}
		select {
		case r := <-reply:
			return replyMsg{cmd: cmd, reply: r}
		case <-ctx.Done():
			return replyMsg{cmd: cmd, reply: orchestrator.Reply{Err: fmt.Errorf("no reply from scheduler: %w", ctx.Err())}}
		}
	}
}

func (m Model) selectedTask() string {
	row := m.table.SelectedRow()
	if len(row) == 0 {
		return ""
	}
	return row[0]
}

func (m *Model) refresh(now time.Time) {
	if m.state == nil {
		return
	}
	m.snap = m.state.Snapshot(now)
	rows := make([]table.Row, 0, len(m.snap.Tasks))
	for _, t := range m.snap.Tasks {
		rows = append(rows, table.Row{
			t.ID,
			t.Name,
			string(t.Status),
			fmt.Sprintf("%d", t.Attempts),
			formatDuration(t, now),
			t.BranchName,
		})
	}
	m.table.SetRows(rows)
}

func formatDuration(t orchestrator.Task, now time.Time) string {
	switch {
	case t.StartTime.IsZero():
		return "-"
	case t.EndTime.IsZero():
		return now.Sub(t.StartTime).Truncate(time.Second).String()
	}
	return t.Duration().Truncate(time.Second).String()
}

func (m *Model) appendOutput(line string) {
	if line == "" {
		return
	}
	m.output = append(m.output, line)
	if over := len(m.output) - maxOutputLines; over > 0 {
		m.output = m.output[over:]
	}
}

// Aborted reports whether the operator aborted the run.
func (m Model) Aborted() bool { return m.aborted }

// Detached reports whether the operator closed the monitor only.
func (m Model) Detached() bool { return m.detached }

// View renders the monitor.
func (m Model) View() string {
	var b strings.Builder

	header := titleStyle.Render("vibeflow") + "  " + mutedStyle.Render(fmt.Sprintf("%s · %s · phase %s",
		m.snap.Mode, m.snap.Domain, orDash(m.snap.Phase)))
	if m.paused {
		header += "  " + pausedBadge.Render("PAUSED")
	}
	b.WriteString(header + "\n")
	b.WriteString(m.countsLine() + "\n\n")
	b.WriteString(m.table.View() + "\n")

	outHeight := max(3, m.height-m.table.Height()-10)
	lines := m.output
	if len(lines) > outHeight {
		lines = lines[len(lines)-outHeight:]
	}
	inner := max(10, m.width-6)
	clipped := make([]string, len(lines))
	for i, l := range lines {
		clipped[i] = ansi.Truncate(l, inner, "…")
	}
	b.WriteString(outputBox.Width(max(12, m.width-2)).Render(strings.Join(clipped, "\n")) + "\n")

	if m.console {
		b.WriteString(m.input.View() + "\n")
	}
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

func (m Model) countsLine() string {
	counts := m.snap.Counts()
	parts := make([]string, 0, 5)
	for _, s := range []orchestrator.Status{
		orchestrator.StatusPending,
		orchestrator.StatusRunning,
		orchestrator.StatusSucceeded,
		orchestrator.StatusHealed,
		orchestrator.StatusFailed,
	} {
		parts = append(parts, statusStyle(s).Render(fmt.Sprintf("%s %d", s, counts[s])))
	}
	line := strings.Join(parts, "  ")
	if counts[orchestrator.StatusRunning] > 0 {
		line = m.spinner.View() + " " + line
	}
	return statusBar.Render(line)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
