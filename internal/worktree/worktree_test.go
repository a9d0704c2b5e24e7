package worktree

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Iron-Ham/vibeflow/internal/executil"
	"github.com/Iron-Ham/vibeflow/internal/testutil"
)

// tickingClock returns a clock that advances one second per call.
func tickingClock() func() time.Time {
	t := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	testutil.SkipIfNoGit(t)
	repo := testutil.SetupTestRepo(t)
	m, err := New(repo, ".vibe_worktrees", executil.New(), WithClock(tickingClock()))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return m, repo
}

func TestBranchName(t *testing.T) {
	ts := time.UnixMilli(1700000000123)
	if got := BranchName("task_1", ts); got != "vibe-task_task_1_1700000000123" {
		t.Errorf("BranchName() = %q", got)
	}
}

func TestFindGitRoot(t *testing.T) {
	testutil.SkipIfNoGit(t)
	repo := testutil.SetupTestRepo(t)
	sub := filepath.Join(repo, "a", "b")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatal(err)
	}
	got, err := FindGitRoot(sub)
	if err != nil {
		t.Fatalf("FindGitRoot() error = %v", err)
	}
	if got != repo {
		t.Errorf("FindGitRoot() = %q, want %q", got, repo)
	}

	if _, err := FindGitRoot(t.TempDir()); err == nil {
		t.Error("FindGitRoot() outside a repo should fail")
	}
}

func TestCreateAllSerially(t *testing.T) {
	m, repo := newTestManager(t)
	ids := []string{"task_1", "task_2", "task_3"}

	got, err := m.CreateAllSerially(context.Background(), ids)
	if err != nil {
		t.Fatalf("CreateAllSerially() error = %v", err)
	}
	if len(got) != len(ids) {
		t.Fatalf("got %d assignments, want %d", len(got), len(ids))
	}

	head := testutil.Head(t, repo)
	for i, a := range got {
		if a.TaskID != ids[i] {
			t.Errorf("assignment %d TaskID = %q, want %q (input order)", i, a.TaskID, ids[i])
		}
		if i > 0 && !a.CreatedAt.After(got[i-1].CreatedAt) {
			t.Errorf("creation times not strictly increasing at %d", i)
		}
		if !filepath.IsAbs(a.WorktreePath) {
			t.Errorf("WorktreePath %q is not absolute", a.WorktreePath)
		}
		if _, err := os.Stat(filepath.Join(a.WorktreePath, "README.md")); err != nil {
			t.Errorf("worktree %s not checked out: %v", a.TaskID, err)
		}
		if branch := testutil.GetCurrentBranch(t, a.WorktreePath); branch != a.BranchName {
			t.Errorf("worktree branch = %q, want %q", branch, a.BranchName)
		}
		if !strings.HasPrefix(a.BranchName, "vibe-task_"+a.TaskID+"_") {
			t.Errorf("BranchName = %q", a.BranchName)
		}
		if a.BaseCommit != head {
			t.Errorf("BaseCommit = %q, want %q", a.BaseCommit, head)
		}
	}
}

func TestCreate_ReplacesStaleDirectory(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	first, err := m.Create(ctx, "task_1")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	testutil.WriteFile(t, first.WorktreePath, "leftover.txt", "stale")

	second, err := m.Create(ctx, "task_1")
	if err != nil {
		t.Fatalf("second Create() error = %v", err)
	}
	if second.BranchName == first.BranchName {
		t.Error("recreated worktree should use a new branch")
	}
	if _, err := os.Stat(filepath.Join(second.WorktreePath, "leftover.txt")); !os.IsNotExist(err) {
		t.Error("stale file survived worktree recreation")
	}
}

func TestRemoveWorktree_IsBestEffort(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	a, err := m.Create(ctx, "task_1")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	m.RemoveWorktree(ctx, "task_1")
	if _, err := os.Stat(a.WorktreePath); !os.IsNotExist(err) {
		t.Errorf("worktree still exists after removal")
	}

	// Removing again, or removing an unknown task, must not panic or fail.
	m.RemoveWorktree(ctx, "task_1")
	m.RemoveWorktree(ctx, "never_created")
}

func TestCleanupAll(t *testing.T) {
	m, repo := newTestManager(t)
	ctx := context.Background()

	if _, err := m.CreateAllSerially(ctx, []string{"a", "b"}); err != nil {
		t.Fatalf("CreateAllSerially() error = %v", err)
	}
	// An orphan directory that git does not know about.
	if err := os.MkdirAll(filepath.Join(m.BaseDir(), "orphan"), 0755); err != nil {
		t.Fatal(err)
	}

	if n := m.CleanupAll(ctx); n != 3 {
		t.Errorf("CleanupAll() removed %d, want 3", n)
	}
	if left := m.Sweep(); len(left) != 0 {
		t.Errorf("Sweep() after cleanup = %v", left)
	}
	list := testutil.Git(t, repo, "worktree", "list", "--porcelain")
	if strings.Contains(list, m.BaseDir()) {
		t.Errorf("git still lists task worktrees:\n%s", list)
	}
}

func TestCreate_FailsOnCanceledContext(t *testing.T) {
	m, _ := newTestManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := m.CreateAllSerially(ctx, []string{"x"}); err == nil {
		t.Error("expected error on canceled context")
	}
}
