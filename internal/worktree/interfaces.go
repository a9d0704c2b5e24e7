package worktree

import "context"

// Provisioner creates and reclaims task worktrees.
type Provisioner interface {
	CreateAllSerially(ctx context.Context, taskIDs []string) ([]Assignment, error)
	RemoveWorktree(ctx context.Context, taskID string)
	CleanupAll(ctx context.Context) int
}

// CommitInspector reads and rewinds commits inside a task worktree.
type CommitInspector interface {
	HeadHash(ctx context.Context, dir string) (string, error)
	LastCommit(ctx context.Context, dir string) (string, error)
	ResetHard(ctx context.Context, dir, rev string) error
}

// DiffProvider exposes the diff of a task's latest commit.
type DiffProvider interface {
	DiffParent(ctx context.Context, dir string) (string, error)
	DiffParentStat(ctx context.Context, dir string) (string, error)
}

// Merger performs merges into the integration branch and reports the
// repository state needed to verify a conflict resolution.
type Merger interface {
	BranchExists(ctx context.Context, branch string) bool
	Merge(ctx context.Context, branch string) (conflicted bool, err error)
	AbortMerge(ctx context.Context) error
	UnresolvedFiles(ctx context.Context) ([]string, error)
	ConflictDiff(ctx context.Context) (string, error)
	FilesWithConflictMarkers(ctx context.Context) ([]string, error)
	ResolveCommit(ctx context.Context, rev string) string
	MergeInProgress(ctx context.Context) bool
	HeadHash(ctx context.Context, dir string) (string, error)
}

var (
	_ Provisioner     = (*Manager)(nil)
	_ CommitInspector = (*Git)(nil)
	_ DiffProvider    = (*Git)(nil)
	_ Merger          = (*Git)(nil)
)
