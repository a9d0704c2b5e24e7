package merge

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/Iron-Ham/vibeflow/internal/ai"
	"github.com/Iron-Ham/vibeflow/internal/errors"
	"github.com/Iron-Ham/vibeflow/internal/event"
	"github.com/Iron-Ham/vibeflow/internal/orchestrator"
)

// fakeMerger simulates the integration branch. Branches listed in conflicts
// leave the repository mid-merge until resolve is called.
type fakeMerger struct {
	mu        sync.Mutex
	branches  map[string]bool
	conflicts map[string][]string
	mergeErr  map[string]error
	commits   map[string]bool

	head       string
	mergeHead  bool
	merged     []string
	unresolved []string
	markers    []string
}

const baseHead = "0000base0000"

func newFakeMerger(branches ...string) *fakeMerger {
	m := &fakeMerger{
		branches:  map[string]bool{},
		conflicts: map[string][]string{},
		mergeErr:  map[string]error{},
		commits:   map[string]bool{baseHead: true},
		head:      baseHead,
	}
	for _, b := range branches {
		m.branches[b] = true
	}
	return m
}

func (m *fakeMerger) BranchExists(_ context.Context, branch string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.branches[branch]
}

func (m *fakeMerger) Merge(_ context.Context, branch string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.merged = append(m.merged, branch)
	if err := m.mergeErr[branch]; err != nil {
		return false, err
	}
	if files, ok := m.conflicts[branch]; ok {
		m.unresolved = append([]string(nil), files...)
		m.markers = append([]string(nil), files...)
		m.mergeHead = true
		return true, nil
	}
	return false, nil
}

func (m *fakeMerger) AbortMerge(context.Context) error { return nil }

func (m *fakeMerger) UnresolvedFiles(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.unresolved...), nil
}

func (m *fakeMerger) ConflictDiff(context.Context) (string, error) {
	return "<<<<<<< HEAD\na\n=======\nb\n>>>>>>> branch\n", nil
}

func (m *fakeMerger) FilesWithConflictMarkers(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.markers...), nil
}

func (m *fakeMerger) ResolveCommit(_ context.Context, rev string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.commits[rev] {
		return rev
	}
	return ""
}

func (m *fakeMerger) MergeInProgress(context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mergeHead
}

func (m *fakeMerger) HeadHash(context.Context, string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.head, nil
}

// resolve simulates the mediator finishing its work. An empty hash stages
// the resolution without committing it.
func (m *fakeMerger) resolve(hash string, keepMarkers bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unresolved = nil
	if !keepMarkers {
		m.markers = nil
	}
	if hash != "" {
		m.commits[hash] = true
		m.head = hash
		m.mergeHead = false
	}
}

func mergeable(id, branch string) orchestrator.Task {
	return orchestrator.Task{ID: id, Name: id, BranchName: branch, Status: orchestrator.StatusSucceeded}
}

func TestVerify(t *testing.T) {
	const before, after = "1111111111", "abcdef12"
	clean := PostState{PreMergeHead: before, Head: after, ReportedCommit: after}
	resolved := Report{Status: StatusResolved, CommitHash: after}
	withMarkers := clean
	withMarkers.MarkerFiles = []string{"a.go"}
	withUnmerged := clean
	withUnmerged.Unresolved = []string{"b.go"}

	tests := []struct {
		name       string
		post       PostState
		report     Report
		want       bool
		wantReason string
	}{
		{"clean and committed", clean, resolved, true, ""},
		{"mediator failed", clean, Report{Status: StatusFailed, Message: "too hard"}, false, "too hard"},
		{"no status", clean, Report{}, false, "no status"},
		{"markers remain despite claim", withMarkers, resolved, false, "a.go"},
		{"unmerged paths remain", withUnmerged, resolved, false, "b.go"},
		{"short hash", clean, Report{Status: StatusResolved, CommitHash: "abc"}, false, "too short"},
		{"missing hash", clean, Report{Status: StatusResolved}, false, "missing"},
		{"commit not in history", PostState{PreMergeHead: before, Head: after}, resolved, false, "not found"},
		{
			"reported commit is an older one",
			PostState{PreMergeHead: before, Head: after, ReportedCommit: before},
			Report{Status: StatusResolved, CommitHash: before}, false, "not HEAD",
		},
		{
			"staged but not committed",
			PostState{PreMergeHead: before, Head: before, ReportedCommit: before, MergeInProgress: true},
			Report{Status: StatusResolved, CommitHash: before}, false, "no merge commit",
		},
		{
			"merge head left behind",
			PostState{PreMergeHead: before, Head: after, ReportedCommit: after, MergeInProgress: true},
			resolved, false, "MERGE_HEAD",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Verify(tt.post, tt.report)
			if got.Resolved != tt.want {
				t.Fatalf("Verify().Resolved = %v, want %v (reason %q)", got.Resolved, tt.want, got.Reason)
			}
			if tt.wantReason != "" && !strings.Contains(got.Reason, tt.wantReason) {
				t.Errorf("Verify().Reason = %q, want it to contain %q", got.Reason, tt.wantReason)
			}
		})
	}
}

func TestVerify_Deterministic(t *testing.T) {
	post := PostState{MarkerFiles: []string{"x"}, PreMergeHead: "a", Head: "b", ReportedCommit: "b"}
	r := Report{Status: StatusResolved, CommitHash: "abcdef12"}
	first := Verify(post, r)
	for range 10 {
		if got := Verify(post, r); got != first {
			t.Fatalf("Verify() = %+v, then %+v", first, got)
		}
	}
}

func TestMergeAll_OrderAndSkips(t *testing.T) {
	git := newFakeMerger("b1", "b3")
	bus := event.NewBus(nil)
	var events []event.MergeBranchEvent
	bus.Subscribe(event.TypeMergeBranch, func(e event.Event) {
		events = append(events, e.(event.MergeBranchEvent))
	})

	failed := mergeable("t4", "b4")
	failed.Status = orchestrator.StatusFailed
	healed := mergeable("t3", "b3")
	healed.Status = orchestrator.StatusHealed

	c := NewCoordinator(git, nil, bus, nil)
	outcomes, err := c.MergeAll(context.Background(), []orchestrator.Task{
		mergeable("t1", "b1"),
		mergeable("t2", "b2"), // branch gone
		healed,
		failed,
	})
	if err != nil {
		t.Fatalf("MergeAll() error = %v", err)
	}
	if got := strings.Join(git.merged, ","); got != "b1,b3" {
		t.Errorf("merged = %s, want b1,b3", got)
	}
	want := []string{event.MergeClean, event.MergeSkipped, event.MergeClean}
	if len(outcomes) != len(want) {
		t.Fatalf("outcomes = %+v", outcomes)
	}
	for i, o := range outcomes {
		if o.Result != want[i] {
			t.Errorf("outcome[%d] = %s, want %s", i, o.Result, want[i])
		}
	}
	if len(events) != 3 || events[1].Outcome != event.MergeSkipped {
		t.Errorf("events = %+v", events)
	}
}

func TestMergeAll_MediatedConflict(t *testing.T) {
	git := newFakeMerger("b1", "b2")
	git.conflicts["b2"] = []string{"shared.go"}

	agent := &ai.FakeBackend{Respond: func(_ context.Context, req ai.Request) (string, error) {
		git.resolve("abcdef1234", false)
		return `{"status":"resolved","message":"kept both","commitHash":"abcdef1234"}`, nil
	}}
	c := NewCoordinator(git, NewMediator(git, agent, "/repo", nil), nil, nil)

	outcomes, err := c.MergeAll(context.Background(), []orchestrator.Task{mergeable("t1", "b1"), mergeable("t2", "b2")})
	if err != nil {
		t.Fatalf("MergeAll() error = %v", err)
	}
	o := outcomes[1]
	if o.Result != event.MergeMediated || o.Commit != "abcdef1234" {
		t.Errorf("outcome = %+v", o)
	}
	if len(o.Files) != 1 || o.Files[0] != "shared.go" {
		t.Errorf("conflicted files = %v", o.Files)
	}

	reqs := agent.RequestsFor("mediator-")
	if len(reqs) != 1 {
		t.Fatalf("mediator requests = %d, want 1", len(reqs))
	}
	req := reqs[0]
	if req.TaskID != "mediator-b2" || req.Dir != "/repo" || !req.NeedsOutput || req.OutputFormat != ai.FormatJSON {
		t.Errorf("request = %+v", req)
	}
	if !strings.Contains(req.Prompt, "shared.go") || !strings.Contains(req.Prompt, "<<<<<<<") {
		t.Errorf("prompt should name the files and carry the conflict diff:\n%s", req.Prompt)
	}
}

func TestMergeAll_ConflictFailures(t *testing.T) {
	tests := []struct {
		name    string
		respond func(git *fakeMerger) (string, error)
		wantErr error
	}{
		{
			name: "mediator reports failure",
			respond: func(*fakeMerger) (string, error) {
				return `{"status":"FAILED","message":"incompatible"}`, nil
			},
			wantErr: errors.ErrMergeConflict,
		},
		{
			name: "mediator writes nothing",
			respond: func(*fakeMerger) (string, error) {
				return "I tried my best", nil
			},
			wantErr: errors.ErrMergeConflict,
		},
		{
			name: "agent cannot run",
			respond: func(*fakeMerger) (string, error) {
				return "", errors.ErrTmuxUnavailable
			},
			wantErr: errors.ErrMergeConflict,
		},
		{
			name: "claims resolved but markers remain",
			respond: func(git *fakeMerger) (string, error) {
				git.resolve("abcdef1234", true)
				return `{"status":"RESOLVED","commitHash":"abcdef1234"}`, nil
			},
			wantErr: errors.ErrMediatorUnverified,
		},
		{
			name: "claims resolved without committing",
			respond: func(git *fakeMerger) (string, error) {
				git.resolve("", false)
				return `{"status":"RESOLVED","commitHash":"abcdef1234"}`, nil
			},
			wantErr: errors.ErrMediatorUnverified,
		},
		{
			name: "stages and reports the pre-merge HEAD",
			respond: func(git *fakeMerger) (string, error) {
				git.resolve("", false)
				return `{"status":"RESOLVED","commitHash":"` + baseHead + `"}`, nil
			},
			wantErr: errors.ErrMediatorUnverified,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			git := newFakeMerger("b1", "b2", "b3")
			git.conflicts["b2"] = []string{"shared.go"}
			agent := &ai.FakeBackend{Respond: func(context.Context, ai.Request) (string, error) {
				return tt.respond(git)
			}}
			c := NewCoordinator(git, NewMediator(git, agent, "/repo", nil), nil, nil)

			outcomes, err := c.MergeAll(context.Background(), []orchestrator.Task{
				mergeable("t1", "b1"), mergeable("t2", "b2"), mergeable("t3", "b3"),
			})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("MergeAll() error = %v, want %v", err, tt.wantErr)
			}
			var gitErr *errors.GitError
			if !errors.As(err, &gitErr) {
				t.Errorf("error should be a GitError: %T", err)
			}
			if got := strings.Join(git.merged, ","); got != "b1,b2" {
				t.Errorf("merged = %s; later branches must not be attempted", got)
			}
			if last := outcomes[len(outcomes)-1]; last.Result != event.MergeFailed || last.Reason == "" {
				t.Errorf("last outcome = %+v", last)
			}
		})
	}
}

func TestMergeAll_MergeErrorIsFatal(t *testing.T) {
	git := newFakeMerger("b1", "b2")
	git.mergeErr["b1"] = errors.NewGitError("merge failed", nil).WithOp("merge")
	c := NewCoordinator(git, nil, nil, nil)

	_, err := c.MergeAll(context.Background(), []orchestrator.Task{mergeable("t1", "b1"), mergeable("t2", "b2")})
	if err == nil {
		t.Fatal("MergeAll() should fail")
	}
	if len(git.merged) != 1 {
		t.Errorf("merged = %v", git.merged)
	}
}

func TestMergeAll_Canceled(t *testing.T) {
	git := newFakeMerger("b1")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewCoordinator(git, nil, nil, nil).MergeAll(ctx, []orchestrator.Task{mergeable("t1", "b1")})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("MergeAll() error = %v, want context.Canceled", err)
	}
}
