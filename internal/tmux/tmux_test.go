package tmux

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	vferrors "github.com/Iron-Ham/vibeflow/internal/errors"
	"github.com/Iron-Ham/vibeflow/internal/executil"
)

func TestClient_Args(t *testing.T) {
	tests := []struct {
		name   string
		socket string
		want   []string
	}{
		{"default server", "", []string{"list-sessions"}},
		{"dedicated socket", "vibeflow", []string{"-L", "vibeflow", "list-sessions"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := New(executil.NewFakeRunner(), tt.socket).Args("list-sessions")
			if !slices.Equal(got, tt.want) {
				t.Errorf("Args() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClient_Version(t *testing.T) {
	f := executil.NewFakeRunner()
	c := New(f, "")

	if _, err := c.Version(context.Background()); !errors.Is(err, vferrors.ErrTmuxUnavailable) {
		t.Errorf("Version() with no tmux = %v, want ErrTmuxUnavailable", err)
	}

	f.Script("tmux", []string{"-V"}, executil.OK("tmux 3.4\n"))
	if v, err := c.Version(context.Background()); err != nil || v != "tmux 3.4" {
		t.Errorf("Version() = %q, %v", v, err)
	}
}

func TestClient_KillSession_IgnoresMissing(t *testing.T) {
	f := executil.NewFakeRunner()
	f.Script("tmux", []string{"kill-session"}, executil.Fail(1, "can't find session: vibe-task-x"))

	if err := New(f, "").KillSession(context.Background(), "vibe-task-x"); err != nil {
		t.Errorf("KillSession() on missing session = %v, want nil", err)
	}
	calls := f.CallsTo("tmux", "kill-session", "-t", "=vibe-task-x")
	if len(calls) != 1 {
		t.Errorf("expected exact-match kill-session call, got %v", f.Calls())
	}
}

func TestClient_LoadAndPasteBuffer(t *testing.T) {
	f := executil.NewFakeRunner()
	f.Default = func(executil.Call) executil.Result { return executil.OK("") }
	c := New(f, "")
	ctx := context.Background()

	prompt := "a very long prompt with 'quotes' and $VARS"
	if err := c.LoadBuffer(ctx, "vibe-task-a", prompt); err != nil {
		t.Fatalf("LoadBuffer() error = %v", err)
	}
	if err := c.PasteBuffer(ctx, "vibe-task-a", "vibe-task-a"); err != nil {
		t.Fatalf("PasteBuffer() error = %v", err)
	}

	calls := f.Calls()
	if len(calls) != 2 {
		t.Fatalf("calls = %v", calls)
	}
	if calls[0].Input != prompt || !calls[0].HasPrefix("tmux", "load-buffer", "-b", "vibe-task-a", "-") {
		t.Errorf("load-buffer call = %+v", calls[0])
	}
	if !calls[1].HasPrefix("tmux", "paste-buffer", "-d", "-b", "vibe-task-a", "-t", "=vibe-task-a:") {
		t.Errorf("paste-buffer call = %+v", calls[1])
	}
}

func TestClient_ListSessions(t *testing.T) {
	f := executil.NewFakeRunner()
	f.Script("tmux", []string{"list-sessions"}, executil.OK(
		"vibe-task-task_1\t1700000000\t0\nother\t1700000001\t1\nvibe-task-task_2\t1700000002\t1\n"))

	got, err := New(f, "").ListSessions(context.Background(), "vibe-task")
	if err != nil {
		t.Fatalf("ListSessions() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ListSessions() = %+v", got)
	}
	if got[0].Name != "vibe-task-task_1" || !got[0].Created.Equal(time.Unix(1700000000, 0)) || got[0].Attached {
		t.Errorf("session[0] = %+v", got[0])
	}
	if !got[1].Attached {
		t.Errorf("session[1] should be attached")
	}
}

func TestClient_ListSessions_NoServer(t *testing.T) {
	f := executil.NewFakeRunner()
	f.Script("tmux", []string{"list-sessions"}, executil.Fail(1, "no server running on /tmp/tmux-0/default"))

	got, err := New(f, "").ListSessions(context.Background(), "vibe-task")
	if err != nil || len(got) != 0 {
		t.Errorf("ListSessions() = %v, %v; want empty", got, err)
	}
}

func TestClient_CapturePane_StripsEscapes(t *testing.T) {
	f := executil.NewFakeRunner()
	f.Script("tmux", []string{"capture-pane"}, executil.OK("\x1b[31mred\x1b[0m line\n\n"))

	got, err := New(f, "").CapturePane(context.Background(), "s", 20)
	if err != nil || got != "red line" {
		t.Errorf("CapturePane() = %q, %v", got, err)
	}
	if calls := f.CallsTo("tmux", "capture-pane", "-p", "-J", "-t", "=s:", "-S", "-20"); len(calls) != 1 {
		t.Errorf("unexpected capture-pane args: %v", f.Calls())
	}
}

func TestClient_SessionCreated(t *testing.T) {
	f := executil.NewFakeRunner()
	f.Script("tmux", []string{"display-message"}, executil.OK("1700000000\n"))

	got, err := New(f, "").SessionCreated(context.Background(), "s")
	if err != nil || !got.Equal(time.Unix(1700000000, 0)) {
		t.Errorf("SessionCreated() = %v, %v", got, err)
	}
}

func TestIsSessionNotFound(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("can't find session: x"), true},
		{errors.New("no server running on /tmp/tmux-1000/default"), true},
		{errors.New("error connecting to /tmp/tmux-1000/default"), true},
		{errors.New("permission denied"), false},
	}
	for _, tt := range tests {
		if got := IsSessionNotFound(tt.err); got != tt.want {
			t.Errorf("IsSessionNotFound(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
