package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	vferrors "github.com/Iron-Ham/vibeflow/internal/errors"
	"github.com/Iron-Ham/vibeflow/internal/executil"
	"github.com/Iron-Ham/vibeflow/internal/orchestrator"
	"github.com/Iron-Ham/vibeflow/internal/project"
	"github.com/Iron-Ham/vibeflow/internal/session"
	"github.com/Iron-Ham/vibeflow/internal/tmux"
)

// executeCommand runs a cobra command with args and returns captured output
func executeCommand(root *cobra.Command, args ...string) (string, error) {
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func TestRootCommand(t *testing.T) {
	if rootCmd.Use != "vibeflow" {
		t.Errorf("rootCmd.Use = %q", rootCmd.Use)
	}
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"run", "sessions", "cleanup", "plan", "status", "logs", "config", "version"} {
		if !names[want] {
			t.Errorf("missing subcommand %q", want)
		}
	}

	sub := map[string]bool{}
	for _, c := range sessionsCmd.Commands() {
		sub[c.Name()] = true
	}
	for _, want := range []string{"ls", "attach", "kill", "check", "status"} {
		if !sub[want] {
			t.Errorf("missing sessions subcommand %q", want)
		}
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"plain error", errors.New("boom"), 1},
		{"interrupted", &ExitError{Code: 130}, 130},
		{"wrapped", errors.Join(errors.New("x"), &ExitError{Code: 143}), 143},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestFormatError(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		wantLogHint  bool
		wantContains string
	}{
		{"tmux missing", fmt.Errorf("preflight: %w", vferrors.ErrTmuxUnavailable), false, "tmux is not installed"},
		{"invalid config", fmt.Errorf("invalid configuration: %w", vferrors.ErrConfigInvalid), false, "invalid configuration"},
		{"git failure", vferrors.NewGitError("merge failed", nil).WithOp("merge"), false, "op=merge"},
		{"internal failure", errors.New("unexpected EOF"), true, "unexpected EOF"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := formatError(tt.err, "/repo/.vibe_logs/debug.log")
			if !strings.HasPrefix(got, "Error: ") || !strings.Contains(got, tt.wantContains) {
				t.Errorf("formatError() = %q", got)
			}
			if hint := strings.Contains(got, "/repo/.vibe_logs/debug.log"); hint != tt.wantLogHint {
				t.Errorf("debug log hint = %v, want %v: %q", hint, tt.wantLogHint, got)
			}
		})
	}
}

func TestPlanValidate(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.json")
	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(good, []byte(`[{"id":"task_1","name":"API","desc":"Build it"}]`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(bad, []byte(`[{"id":"task 1","name":"API","desc":"Build it"}]`), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := executeCommand(rootCmd, "plan", "validate", good)
	if err != nil {
		t.Fatalf("validate good plan: %v", err)
	}
	if !strings.Contains(out, "1 tasks") || !strings.Contains(out, "task_1  API") {
		t.Errorf("output = %q", out)
	}

	if _, err := executeCommand(rootCmd, "plan", "validate", bad); err == nil || !strings.Contains(err.Error(), "/0/id") {
		t.Errorf("bad plan error = %v", err)
	}
}

func TestStatusCommand(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	out, err := executeCommand(rootCmd, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "No run recorded") {
		t.Errorf("output = %q", out)
	}

	snap := orchestrator.Snapshot{
		Mode:      project.ModeMaintain,
		Domain:    project.DomainGeneric,
		Phase:     "merge",
		StartedAt: time.Now().Add(-time.Minute),
		UpdatedAt: time.Now(),
		Tasks: []orchestrator.Task{
			{ID: "task_1", Name: "API", Status: orchestrator.StatusHealed, Attempts: 1, BranchName: "vibe-task_task_1_1"},
		},
	}
	if err := session.NewStore(filepath.Join(dir, ".vibe_logs", "session.yaml")).Save(snap); err != nil {
		t.Fatal(err)
	}
	out, err = executeCommand(rootCmd, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for _, want := range []string{"Phase: merge", "task_1", "HEALED", "vibe-task_task_1_1"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintSnapshot(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	snap := orchestrator.Snapshot{
		Mode:      project.ModeInitIndex,
		Domain:    project.DomainWeb,
		StartedAt: now.Add(-10 * time.Minute),
		UpdatedAt: now.Add(-5 * time.Second),
		Tasks: []orchestrator.Task{
			{ID: "task_1", Name: "API", Status: orchestrator.StatusSucceeded, StartTime: now.Add(-9 * time.Minute), EndTime: now.Add(-6 * time.Minute)},
			{ID: "task_2", Name: "UI", Status: orchestrator.StatusFailed, Attempts: 3, LastError: "review failed"},
		},
	}
	lock := &session.Lock{RunID: "run-1", PID: 42, StartedAt: now.Add(-10 * time.Minute)}

	var buf bytes.Buffer
	printSnapshot(&buf, snap, lock, now)
	out := buf.String()
	for _, want := range []string{
		"Run run-1 in progress (pid 42",
		"Phase: -",
		"Updated: 5s ago",
		"3m0s",
		"task_2: review failed",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintLogFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "task_1.log"), []byte("one\ntwo\nthree\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := printLogFile(&buf, dir, "task_1.log", 2); err != nil {
		t.Fatalf("printLogFile() error = %v", err)
	}
	if buf.String() != "two\nthree\n" {
		t.Errorf("output = %q", buf.String())
	}
	if err := printLogFile(&buf, dir, "missing", 2); err == nil {
		t.Error("a missing log should be an error")
	}
}

func TestPrintSessions(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	printSessions(&buf, []tmux.Session{
		{Name: "vibe-task-task_1", Created: now.Add(-90 * time.Second), Attached: true},
		{Name: "vibe-task-task_2"},
	}, now)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("lines = %q", lines)
	}
	if !strings.Contains(lines[1], "1m30s ago") || !strings.Contains(lines[1], "yes") {
		t.Errorf("row = %q", lines[1])
	}
	if !strings.Contains(lines[2], "-") || !strings.Contains(lines[2], "no") {
		t.Errorf("row = %q", lines[2])
	}
}

func TestKillSessions(t *testing.T) {
	runner := executil.NewFakeRunner()
	runner.Default = func(executil.Call) executil.Result { return executil.OK("") }
	runner.Handle(func(c executil.Call) bool {
		return c.HasPrefix("tmux", "kill-session", "-t", "=vibe-task-b")
	}, func(executil.Call) executil.Result { return executil.Fail(1, "permission denied") })
	runner.Handle(func(c executil.Call) bool {
		return c.HasPrefix("tmux", "kill-session", "-t", "=vibe-task-c")
	}, func(executil.Call) executil.Result { return executil.Fail(1, "can't find session: vibe-task-c") })

	sessions := []tmux.Session{{Name: "vibe-task-a"}, {Name: "vibe-task-b"}, {Name: "vibe-task-c"}}
	n, err := killSessions(context.Background(), tmux.New(runner, ""), sessions)
	if n != 2 {
		t.Errorf("killed = %d, want 2", n)
	}
	if err == nil || !strings.Contains(err.Error(), "vibe-task-b") {
		t.Errorf("error = %v", err)
	}
	if got := len(runner.CallsTo("tmux", "kill-session")); got != 3 {
		t.Errorf("kill calls = %d", got)
	}
}

func TestConfigCommands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vibeflow", "config.yaml")
	t.Cleanup(func() { _ = rootCmd.PersistentFlags().Set("config", "") })

	out, err := executeCommand(rootCmd, "config", "init", "--config", path)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	if !strings.Contains(out, "Wrote "+path) {
		t.Errorf("init output = %q", out)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	if !strings.Contains(string(data), "factory:") || !strings.Contains(string(data), "max_retries: 3") {
		t.Errorf("config file =\n%s", data)
	}

	if _, err := executeCommand(rootCmd, "config", "init", "--config", path); err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Errorf("second init error = %v, want already exists", err)
	}

	out, err = executeCommand(rootCmd, "config", "path", "--config", path)
	if err != nil {
		t.Fatalf("config path: %v", err)
	}
	if strings.TrimSpace(out) != path {
		t.Errorf("config path = %q, want %q", out, path)
	}

	out, err = executeCommand(rootCmd, "config", "show", "--config", path)
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if !strings.Contains(out, "# Config file: "+path) || !strings.Contains(out, "max_parallel_agents: 2") {
		t.Errorf("show output =\n%s", out)
	}
}
