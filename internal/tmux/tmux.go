// Package tmux wraps the tmux CLI operations vibeflow needs to host agent
// sessions: create, inspect, list, feed input into, capture, and kill
// named detached sessions.
//
// All commands go through an executil.Runner so tests can script tmux
// without a server. When a socket name is configured every command carries
// "-L socket", isolating vibeflow's sessions on a dedicated tmux server.
package tmux

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/x/ansi"

	"github.com/Iron-Ham/vibeflow/internal/errors"
	"github.com/Iron-Ham/vibeflow/internal/executil"
)

// Default pane size for new sessions.
const (
	DefaultWidth  = 200
	DefaultHeight = 50
)

// Session describes a listed tmux session.
type Session struct {
	Name     string
	Created  time.Time
	Attached bool
}

// Client issues tmux commands.
type Client struct {
	runner executil.Runner
	socket string
}

// New returns a Client. An empty socket uses the default tmux server.
func New(runner executil.Runner, socket string) *Client {
	return &Client{runner: runner, socket: socket}
}

// Args prefixes args with the socket selection, if any.
func (c *Client) Args(args ...string) []string {
	if c.socket == "" {
		return args
	}
	return append([]string{"-L", c.socket}, args...)
}

func (c *Client) run(ctx context.Context, opts executil.Options, args ...string) executil.Result {
	return c.runner.Run(ctx, "tmux", c.Args(args...), opts)
}

func (c *Client) exec(ctx context.Context, args ...string) error {
	res := c.run(ctx, executil.Options{}, args...)
	if !res.OK() {
		return fmt.Errorf("tmux %s: %w", args[0], res.Err())
	}
	return nil
}

// exact builds a session target that matches name exactly rather than
// by prefix.
func exact(name string) string { return "=" + name }

// pane targets the active pane of the exactly named session.
func pane(name string) string { return "=" + name + ":" }

// IsSessionNotFound reports whether err comes from tmux not knowing the
// session or having no server at all. Both are expected during cleanup.
func IsSessionNotFound(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, s := range []string{"can't find session", "session not found", "no server running", "error connecting to", "no sessions"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// Version returns tmux's version string or ErrTmuxUnavailable.
func (c *Client) Version(ctx context.Context) (string, error) {
	res := c.runner.Run(ctx, "tmux", []string{"-V"}, executil.Options{})
	if !res.OK() {
		return "", errors.NewSessionError("tmux check failed", errors.ErrTmuxUnavailable)
	}
	return strings.TrimSpace(res.Stdout), nil
}

// HasSession reports whether a session with exactly this name exists.
func (c *Client) HasSession(ctx context.Context, name string) bool {
	return c.run(ctx, executil.Options{}, "has-session", "-t", exact(name)).OK()
}

// NewSession starts a detached session running command in dir.
func (c *Client) NewSession(ctx context.Context, name, dir string, command ...string) error {
	args := []string{"new-session", "-d", "-s", name,
		"-x", strconv.Itoa(DefaultWidth), "-y", strconv.Itoa(DefaultHeight)}
	if dir != "" {
		args = append(args, "-c", dir)
	}
	args = append(args, command...)
	res := c.run(ctx, executil.Options{Dir: dir, Env: []string{"TERM=xterm-256color"}}, args...)
	if !res.OK() {
		return errors.NewSessionError("new-session failed", res.Err()).WithSession(name).WithRetryable(true)
	}
	return nil
}

// KillSession kills a session. A missing session is not an error.
func (c *Client) KillSession(ctx context.Context, name string) error {
	err := c.exec(ctx, "kill-session", "-t", exact(name))
	if IsSessionNotFound(err) {
		return nil
	}
	return err
}

// SendKeys sends tmux key names (Enter, Down, C-c) to a session.
func (c *Client) SendKeys(ctx context.Context, name string, keys ...string) error {
	return c.exec(ctx, append([]string{"send-keys", "-t", pane(name)}, keys...)...)
}

// LoadBuffer loads content into the named paste buffer through stdin, so
// arbitrarily long prompts never hit argv limits or shell quoting.
func (c *Client) LoadBuffer(ctx context.Context, buffer, content string) error {
	res := c.run(ctx, executil.Options{Input: []byte(content)}, "load-buffer", "-b", buffer, "-")
	if !res.OK() {
		return fmt.Errorf("tmux load-buffer: %w", res.Err())
	}
	return nil
}

// PasteBuffer pastes the named buffer into a session and deletes it.
func (c *Client) PasteBuffer(ctx context.Context, name, buffer string) error {
	return c.exec(ctx, "paste-buffer", "-d", "-b", buffer, "-t", pane(name))
}

// ListSessions returns sessions whose name starts with prefix. No tmux
// server running yields an empty list.
func (c *Client) ListSessions(ctx context.Context, prefix string) ([]Session, error) {
	res := c.run(ctx, executil.Options{}, "list-sessions", "-F", "#{session_name}\t#{session_created}\t#{session_attached}")
	if err := res.Err(); err != nil {
		if IsSessionNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("tmux list-sessions: %w", err)
	}
	return parseSessions(res.Stdout, prefix), nil
}

func parseSessions(out, prefix string) []Session {
	var sessions []Session
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Split(strings.TrimSpace(line), "\t")
		if len(fields) == 0 || fields[0] == "" || !strings.HasPrefix(fields[0], prefix) {
			continue
		}
		s := Session{Name: fields[0]}
		if len(fields) > 1 {
			if secs, err := strconv.ParseInt(fields[1], 10, 64); err == nil {
				s.Created = time.Unix(secs, 0)
			}
		}
		if len(fields) > 2 {
			s.Attached = fields[2] != "" && fields[2] != "0"
		}
		sessions = append(sessions, s)
	}
	return sessions
}

// SessionCreated returns when a session was created.
func (c *Client) SessionCreated(ctx context.Context, name string) (time.Time, error) {
	res := c.run(ctx, executil.Options{}, "display-message", "-p", "-t", pane(name), "#{session_created}")
	if !res.OK() {
		return time.Time{}, fmt.Errorf("tmux display-message: %w", res.Err())
	}
	secs, err := strconv.ParseInt(strings.TrimSpace(res.Stdout), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse session_created %q: %w", res.Stdout, err)
	}
	return time.Unix(secs, 0), nil
}

// CapturePane returns the last lines of a session's pane as plain text.
func (c *Client) CapturePane(ctx context.Context, name string, lines int) (string, error) {
	args := []string{"capture-pane", "-p", "-J", "-t", pane(name)}
	if lines > 0 {
		args = append(args, "-S", "-"+strconv.Itoa(lines))
	}
	res := c.run(ctx, executil.Options{}, args...)
	if !res.OK() {
		return "", fmt.Errorf("tmux capture-pane: %w", res.Err())
	}
	return strings.TrimRight(ansi.Strip(res.Stdout), "\n "), nil
}

// AttachArgs returns the argv for attaching a terminal to a session.
func (c *Client) AttachArgs(name string) []string {
	return append([]string{"tmux"}, c.Args("attach-session", "-t", exact(name))...)
}
