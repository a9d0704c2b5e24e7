package review

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/Iron-Ham/vibeflow/internal/ai"
	"github.com/Iron-Ham/vibeflow/internal/errors"
	"github.com/Iron-Ham/vibeflow/internal/executil"
	"github.com/Iron-Ham/vibeflow/internal/project"
)

const sampleDiff = `diff --git a/src/app.go b/src/app.go
index 1111111..2222222 100644
--- a/src/app.go
+++ b/src/app.go
@@ -1,3 +1,4 @@
 package app
-var x = 1
+var x = 2
+var y = 3
 // end
diff --git a/README.md b/README.md
new file mode 100644
index 0000000..3333333
--- /dev/null
+++ b/README.md
@@ -0,0 +1,2 @@
+# App
+hello
`

type fakeDiff struct {
	diff string
	stat string
	err  error
}

func (f fakeDiff) DiffParent(context.Context, string) (string, error)     { return f.diff, f.err }
func (f fakeDiff) DiffParentStat(context.Context, string) (string, error) { return f.stat, f.err }

func reply(out string, err error) *ai.FakeBackend {
	return &ai.FakeBackend{Respond: func(context.Context, ai.Request) (string, error) { return out, err }}
}

func TestParseDiffStats(t *testing.T) {
	stats, err := ParseDiffStats(sampleDiff)
	if err != nil {
		t.Fatalf("ParseDiffStats() error = %v", err)
	}
	if len(stats.Files) != 2 {
		t.Fatalf("Files = %+v, want 2 entries", stats.Files)
	}
	if stats.Files[0].Path != "src/app.go" || stats.Files[1].Path != "README.md" {
		t.Errorf("paths = %q, %q", stats.Files[0].Path, stats.Files[1].Path)
	}
	if stats.Added != 4 || stats.Deleted != 1 {
		t.Errorf("totals = +%d -%d, want +4 -1", stats.Added, stats.Deleted)
	}
	if got := stats.String(); got != "2 files, +4 -1" {
		t.Errorf("String() = %q", got)
	}
	if !strings.Contains(stats.Summary(), "README.md +2 -0") {
		t.Errorf("Summary() = %q", stats.Summary())
	}

	empty, err := ParseDiffStats("  \n")
	if err != nil || len(empty.Files) != 0 {
		t.Errorf("ParseDiffStats(empty) = %+v, %v", empty, err)
	}
}

func TestGate_Review(t *testing.T) {
	tests := []struct {
		name       string
		agentOut   string
		agentErr   error
		testResult executil.Result
		wantPass   bool
		wantStatus string
		wantCmd    string
	}{
		{
			name:       "agent pass and tests pass",
			agentOut:   `{"status":"PASS","message":"looks good","testCommand":"go test ./..."}`,
			testResult: executil.OK("ok"),
			wantPass:   true,
			wantStatus: StatusPass,
			wantCmd:    "go test ./...",
		},
		{
			name:       "agent pass but tests fail",
			agentOut:   `{"status":"PASS","message":"looks good","testCommand":"go test ./..."}`,
			testResult: executil.Fail(1, "FAIL app_test.go:12"),
			wantStatus: StatusPass,
			wantCmd:    "go test ./...",
		},
		{
			name:       "agent fail",
			agentOut:   "```json\n{\"status\":\"FAIL\",\"message\":\"missing error handling\"}\n```",
			testResult: executil.OK(""),
			wantStatus: StatusFail,
			wantCmd:    `echo "No standard tests for this domain"`,
		},
		{
			name:       "no verdict",
			agentOut:   "I reviewed it.",
			testResult: executil.OK(""),
			wantCmd:    `echo "No standard tests for this domain"`,
		},
		{
			name:       "agent error",
			agentErr:   errors.ErrSessionDied,
			testResult: executil.OK(""),
			wantCmd:    `echo "No standard tests for this domain"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logDir := t.TempDir()
			runner := executil.NewFakeRunner()
			runner.Script("sh", []string{"-c"}, tt.testResult)
			agent := reply(tt.agentOut, tt.agentErr)
			g := NewGate(fakeDiff{diff: sampleDiff, stat: " 2 files changed"}, agent, runner, logDir)

			target := Target{TaskID: "task_1", TaskName: "Add feature", Worktree: "/wt/task_1", Domain: project.DomainGeneric}
			v, err := g.Review(context.Background(), target)
			if err != nil {
				t.Fatalf("Review() error = %v", err)
			}
			if v.Passed != tt.wantPass {
				t.Errorf("Passed = %v, want %v", v.Passed, tt.wantPass)
			}
			if v.AgentStatus != tt.wantStatus {
				t.Errorf("AgentStatus = %q, want %q", v.AgentStatus, tt.wantStatus)
			}
			if v.TestCommand != tt.wantCmd {
				t.Errorf("TestCommand = %q, want %q", v.TestCommand, tt.wantCmd)
			}

			reqs := agent.Requests()
			if len(reqs) != 1 {
				t.Fatalf("agent calls = %d, want 1", len(reqs))
			}
			req := reqs[0]
			if req.TaskID != "review-task_1" || !req.NeedsOutput || req.OutputFormat != ai.FormatJSON || req.Dir != "/wt/task_1" {
				t.Errorf("request = %+v", req)
			}
			if !strings.Contains(req.Prompt, "src/app.go +2 -1") {
				t.Errorf("prompt should carry the file summary:\n%s", req.Prompt)
			}

			calls := runner.CallsTo("sh", "-c")
			if len(calls) != 1 || calls[0].Args[1] != tt.wantCmd || calls[0].Dir != "/wt/task_1" {
				t.Errorf("test calls = %v", calls)
			}

			_, statErr := os.Stat(ReportPath(logDir, "task_1"))
			if tt.wantPass {
				if v.Feedback != "" || !os.IsNotExist(statErr) {
					t.Errorf("passing review should leave no report (feedback %q, stat %v)", v.Feedback, statErr)
				}
				return
			}
			if statErr != nil {
				t.Fatalf("report missing: %v", statErr)
			}
			if got := ReadFeedback(logDir, "task_1"); got != v.Feedback || !strings.Contains(got, "# Review report: Add feature (task_1)") {
				t.Errorf("ReadFeedback() = %q", got)
			}
		})
	}
}

func TestGate_Review_ReportContents(t *testing.T) {
	logDir := t.TempDir()
	runner := executil.NewFakeRunner()
	runner.Script("sh", []string{"-c"}, executil.Fail(2, "assertion failed: want 3"))
	agent := reply(`{"status":"PASS","message":"fine","testCommand":"make test"}`, nil)
	g := NewGate(fakeDiff{diff: sampleDiff}, agent, runner, logDir)

	v, err := g.Review(context.Background(), Target{TaskID: "t", TaskName: "T", Worktree: "/wt"})
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"Reviewer verdict: PASS", "`make test`", "Test exit code: 2", "2 files, +4 -1", "assertion failed: want 3"} {
		if !strings.Contains(v.Feedback, want) {
			t.Errorf("report should contain %q:\n%s", want, v.Feedback)
		}
	}
	if v.ReportPath != ReportPath(logDir, "t") {
		t.Errorf("ReportPath = %q", v.ReportPath)
	}
}

func TestGate_Review_PlaceholderTestCommand(t *testing.T) {
	tests := []struct {
		name        string
		agentOut    string
		wantNoTests bool
		wantPass    bool
	}{
		{"fallback placeholder passes but is flagged", `{"status":"PASS"}`, true, true},
		{"reviewer supplied placeholder", `{"status":"FAIL","testCommand":"echo \"No tests configured\""}`, true, false},
		{"real command", `{"status":"FAIL","testCommand":"go test ./..."}`, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := executil.NewFakeRunner()
			runner.Script("sh", []string{"-c"}, executil.OK(""))
			g := NewGate(fakeDiff{diff: sampleDiff}, reply(tt.agentOut, nil), runner, t.TempDir())

			v, err := g.Review(context.Background(), Target{TaskID: "t", TaskName: "T", Worktree: "/wt", Domain: project.DomainWeb})
			if err != nil {
				t.Fatal(err)
			}
			if v.NoTests != tt.wantNoTests || v.Passed != tt.wantPass {
				t.Errorf("NoTests = %v, Passed = %v; want %v, %v", v.NoTests, v.Passed, tt.wantNoTests, tt.wantPass)
			}
			if tt.wantPass {
				return
			}
			if got := strings.Contains(v.Feedback, "(placeholder, no tests ran)"); got != tt.wantNoTests {
				t.Errorf("report placeholder note = %v, want %v:\n%s", got, tt.wantNoTests, v.Feedback)
			}
		})
	}
}

func TestGate_Review_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	agent := &ai.FakeBackend{Respond: func(context.Context, ai.Request) (string, error) {
		cancel()
		return "", context.Canceled
	}}
	runner := executil.NewFakeRunner()
	g := NewGate(fakeDiff{}, agent, runner, t.TempDir())

	if _, err := g.Review(ctx, Target{TaskID: "t", Worktree: "/wt"}); !errors.Is(err, context.Canceled) {
		t.Errorf("Review() error = %v, want context.Canceled", err)
	}
	if n := len(runner.CallsTo("sh")); n != 0 {
		t.Errorf("tests should not run after cancellation, got %d calls", n)
	}
}

func TestGate_Review_DiffUnavailable(t *testing.T) {
	runner := executil.NewFakeRunner()
	runner.Script("sh", []string{"-c"}, executil.OK(""))
	agent := reply(`{"status":"PASS","message":"ok"}`, nil)
	g := NewGate(fakeDiff{err: errors.New("no parent commit")}, agent, runner, t.TempDir())

	v, err := g.Review(context.Background(), Target{TaskID: "t", Worktree: "/wt"})
	if err != nil || !v.Passed {
		t.Fatalf("Review() = %+v, %v", v, err)
	}
	if p := agent.Requests()[0].Prompt; !strings.Contains(p, "No commits yet") {
		t.Errorf("prompt should fall back when no stat is available:\n%s", p)
	}
}
