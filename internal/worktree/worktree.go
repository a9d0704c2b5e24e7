package worktree

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Iron-Ham/vibeflow/internal/errors"
	"github.com/Iron-Ham/vibeflow/internal/executil"
	"github.com/Iron-Ham/vibeflow/internal/logging"
)

// BranchPrefix prefixes every task branch.
const BranchPrefix = "vibe-task"

// Assignment binds a task to its branch and worktree directory.
type Assignment struct {
	TaskID       string
	BranchName   string
	WorktreePath string
	// BaseCommit is HEAD at creation time, the first known-good commit.
	BaseCommit string
	CreatedAt  time.Time
}

// Manager creates and reclaims per-task worktrees under a single base
// directory of the repository.
type Manager struct {
	git     *Git
	baseDir string
	logger  *logging.Logger
	now     func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source used for branch names.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLogger sets the Manager's logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// New creates a Manager for the repository containing repoDir. baseDir is
// resolved against the repository root when relative. A repoDir outside
// any repository is taken as the root of one yet to be initialized.
func New(repoDir, baseDir string, runner executil.Runner, opts ...Option) (*Manager, error) {
	root, err := FindGitRoot(repoDir)
	if errors.Is(err, errors.ErrNotGitRepository) {
		root, err = filepath.Abs(repoDir)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", repoDir, err)
	}
	if !filepath.IsAbs(baseDir) {
		baseDir = filepath.Join(root, baseDir)
	}
	m := &Manager{
		git:     NewGit(root, runner),
		baseDir: baseDir,
		logger:  logging.NopLogger(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m, nil
}

// Git returns the git client bound to the repository root.
func (m *Manager) Git() *Git { return m.git }

// BaseDir returns the directory that holds every task worktree.
func (m *Manager) BaseDir() string { return m.baseDir }

// PathFor returns the worktree directory for a task.
func (m *Manager) PathFor(taskID string) string {
	return filepath.Join(m.baseDir, taskID)
}

// BranchName derives a branch for taskID that stays unique across runs.
func BranchName(taskID string, t time.Time) string {
	return fmt.Sprintf("%s_%s_%d", BranchPrefix, taskID, t.UnixMilli())
}

// CreateAllSerially creates one worktree per task id, strictly one after
// another and in input order. git's worktree bookkeeping is not safe for
// concurrent creation against one repository. The first failure stops
// creation and is returned along with the assignments made so far.
func (m *Manager) CreateAllSerially(ctx context.Context, taskIDs []string) ([]Assignment, error) {
	out := make([]Assignment, 0, len(taskIDs))
	for _, id := range taskIDs {
		a, err := m.Create(ctx, id)
		if err != nil {
			return out, err
		}
		out = append(out, a)
	}
	return out, nil
}

// Create makes a fresh worktree for taskID on a new branch from HEAD,
// replacing any stale directory a previous run left behind.
func (m *Manager) Create(ctx context.Context, taskID string) (Assignment, error) {
	if err := ctx.Err(); err != nil {
		return Assignment{}, err
	}
	created := m.now()
	branch := BranchName(taskID, created)
	path := m.PathFor(taskID)
	log := m.logger.WithTask(taskID)

	if _, err := os.Stat(path); err == nil {
		log.Warn("removing stale worktree", "path", path)
		m.RemoveWorktree(ctx, taskID)
	}
	if err := os.MkdirAll(m.baseDir, 0755); err != nil {
		return Assignment{}, fmt.Errorf("failed to create worktree base dir: %w", err)
	}

	base, err := m.git.HeadHash(ctx, "")
	if err != nil {
		return Assignment{}, err
	}

	if _, err := m.git.run(ctx, "", "worktree", "add", "-b", branch, path); err != nil {
		if !m.git.BranchExists(ctx, branch) {
			return Assignment{}, err
		}
		log.Warn("branch already exists, attaching worktree to it", "branch", branch)
		if _, err := m.git.run(ctx, "", "worktree", "add", path, branch); err != nil {
			return Assignment{}, err
		}
	}

	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return Assignment{}, errors.NewGitError(path, errors.ErrWorktreeMissing).WithBranch(branch)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return Assignment{}, err
	}

	log.Info("worktree created", "branch", branch, "path", abs)
	return Assignment{
		TaskID:       taskID,
		BranchName:   branch,
		WorktreePath: abs,
		BaseCommit:   base,
		CreatedAt:    created,
	}, nil
}

// RemoveWorktree reclaims a task's worktree. It never fails: problems are
// logged and the directory is removed by hand as a fallback.
func (m *Manager) RemoveWorktree(ctx context.Context, taskID string) {
	m.removePath(ctx, m.PathFor(taskID))
}

func (m *Manager) removePath(ctx context.Context, path string) {
	if _, err := m.git.run(ctx, "", "worktree", "remove", "--force", path); err != nil {
		m.logger.Debug("git worktree remove failed, removing directory", "path", path, "error", err.Error())
		if rmErr := os.RemoveAll(path); rmErr != nil {
			m.logger.Warn("failed to remove worktree directory", "path", path, "error", rmErr.Error())
		}
		if _, err := m.git.run(ctx, "", "worktree", "prune"); err != nil {
			m.logger.Warn("git worktree prune failed", "error", err.Error())
		}
	}
}

// Sweep returns every directory under the base dir, independent of any
// task bookkeeping.
func (m *Manager) Sweep() []string {
	entries, err := os.ReadDir(m.baseDir)
	if err != nil {
		return nil
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			paths = append(paths, filepath.Join(m.baseDir, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths
}

// CleanupAll removes every worktree under the base dir plus any registered
// worktree that points inside it, then prunes git's metadata.
func (m *Manager) CleanupAll(ctx context.Context) int {
	seen := map[string]bool{}
	for _, p := range m.Sweep() {
		seen[p] = true
	}
	if registered, err := m.git.ListWorktrees(ctx); err == nil {
		for _, p := range registered {
			if strings.HasPrefix(p, m.baseDir+string(filepath.Separator)) {
				seen[p] = true
			}
		}
	}
	for p := range seen {
		m.removePath(ctx, p)
	}
	if _, err := m.git.run(ctx, "", "worktree", "prune"); err != nil {
		m.logger.Warn("git worktree prune failed", "error", err.Error())
	}
	return len(seen)
}
