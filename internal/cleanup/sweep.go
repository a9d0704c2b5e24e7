// Package cleanup removes what a run leaves behind: task worktrees, agent
// tmux sessions and, on request, task branches.
//
// Sweep runs each resource kind concurrently and never stops at the first
// failure; every error is collected into the Result so the operator sees
// the complete picture.
package cleanup

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Iron-Ham/vibeflow/internal/logging"
	"github.com/Iron-Ham/vibeflow/internal/worktree"
)

// WorktreeCleaner removes every task worktree.
type WorktreeCleaner interface {
	CleanupAll(ctx context.Context) int
}

// SessionKiller terminates every agent session.
type SessionKiller interface {
	KillAll(ctx context.Context) (int, error)
}

// BranchPruner lists and deletes task branches.
type BranchPruner interface {
	ListBranches(ctx context.Context, pattern string) ([]string, error)
	DeleteBranch(ctx context.Context, branch string) error
}

// Options selects what Sweep removes. A nil collaborator skips its kind.
type Options struct {
	Worktrees WorktreeCleaner
	Sessions  SessionKiller
	// Branches is only consulted when DeleteBranches is set.
	Branches       BranchPruner
	DeleteBranches bool
	Logger         *logging.Logger
}

// Result counts what was removed.
type Result struct {
	WorktreesRemoved int
	SessionsKilled   int
	BranchesDeleted  int
	Errors           []string
}

// Total is the number of resources removed.
func (r Result) Total() int {
	return r.WorktreesRemoved + r.SessionsKilled + r.BranchesDeleted
}

// Sweep removes the selected resources concurrently.
func Sweep(ctx context.Context, opts Options) Result {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	logger = logger.WithPhase("cleanup")

	var (
		mu  sync.Mutex
		res Result
	)
	fail := func(format string, args ...any) {
		mu.Lock()
		defer mu.Unlock()
		res.Errors = append(res.Errors, fmt.Sprintf(format, args...))
	}

	var g errgroup.Group
	if opts.Worktrees != nil {
		g.Go(func() error {
			n := opts.Worktrees.CleanupAll(ctx)
			mu.Lock()
			res.WorktreesRemoved = n
			mu.Unlock()
			return nil
		})
	}
	if opts.Sessions != nil {
		g.Go(func() error {
			n, err := opts.Sessions.KillAll(ctx)
			if err != nil {
				fail("kill sessions: %v", err)
			}
			mu.Lock()
			res.SessionsKilled = n
			mu.Unlock()
			return nil
		})
	}
	if opts.DeleteBranches && opts.Branches != nil {
		g.Go(func() error {
			n := pruneBranches(ctx, opts.Branches, fail)
			mu.Lock()
			res.BranchesDeleted = n
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	logger.Info("cleanup finished",
		"worktrees", res.WorktreesRemoved,
		"sessions", res.SessionsKilled,
		"branches", res.BranchesDeleted,
		"errors", len(res.Errors),
	)
	return res
}

func pruneBranches(ctx context.Context, b BranchPruner, fail func(string, ...any)) int {
	branches, err := b.ListBranches(ctx, worktree.BranchPrefix+"_*")
	if err != nil {
		fail("list branches: %v", err)
		return 0
	}
	n := 0
	for _, br := range branches {
		if err := b.DeleteBranch(ctx, br); err != nil {
			fail("delete branch %s: %v", br, err)
			continue
		}
		n++
	}
	return n
}
