// Package worktree owns every git interaction vibeflow performs: isolated
// per-task worktrees, branch bookkeeping, commit inspection, merges, and the
// conflict checks used to verify mediator resolutions.
package worktree

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Iron-Ham/vibeflow/internal/errors"
	"github.com/Iron-Ham/vibeflow/internal/executil"
)

// EmptyTreeHash is git's well-known hash of the empty tree, used as the
// start point of a repository without commits.
const EmptyTreeHash = "4b825dc642cb6eb9a060e54bf8d69288fbee4904"

// Git runs git commands against a repository through an executil.Runner.
type Git struct {
	repoDir string
	runner  executil.Runner
}

// NewGit returns a Git bound to repoDir.
func NewGit(repoDir string, runner executil.Runner) *Git {
	return &Git{repoDir: repoDir, runner: runner}
}

// RepoDir returns the repository root.
func (g *Git) RepoDir() string { return g.repoDir }

// FindGitRoot walks up from startDir to the directory containing .git.
func FindGitRoot(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}
	for {
		if info, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			if info.IsDir() || info.Mode().IsRegular() {
				return dir, nil
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.ErrNotGitRepository
		}
		dir = parent
	}
}

func (g *Git) dir(d string) string {
	if d == "" {
		return g.repoDir
	}
	return d
}

// run executes git in dir (the repository root when empty) and returns
// trimmed stdout, or a GitError carrying git's output.
func (g *Git) run(ctx context.Context, dir string, args ...string) (string, error) {
	res := g.runner.Run(ctx, "git", args, executil.Options{Dir: g.dir(dir)})
	if !res.OK() {
		op := ""
		if len(args) > 0 {
			op = args[0]
		}
		return "", errors.NewGitError(fmt.Sprintf("git %s failed", strings.Join(args, " ")), res.Err()).
			WithOp(op).WithOutput(res.Combined())
	}
	return strings.TrimSpace(res.Stdout), nil
}

// succeeds reports whether git exits zero.
func (g *Git) succeeds(ctx context.Context, dir string, args ...string) bool {
	return g.runner.Run(ctx, "git", args, executil.Options{Dir: g.dir(dir)}).OK()
}

func lines(s string) []string {
	var out []string
	for _, l := range strings.Split(s, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}

// Init runs git init in the repository directory.
func (g *Git) Init(ctx context.Context) error {
	_, err := g.run(ctx, "", "init")
	return err
}

// HeadHash returns the full hash of HEAD in dir, or EmptyTreeHash when the
// repository has no commits yet.
func (g *Git) HeadHash(ctx context.Context, dir string) (string, error) {
	if !g.succeeds(ctx, dir, "rev-parse", "--verify", "--quiet", "HEAD") {
		return EmptyTreeHash, nil
	}
	return g.run(ctx, dir, "rev-parse", "HEAD")
}

// EnsureInitialCommit creates an empty commit when the repository has none.
func (g *Git) EnsureInitialCommit(ctx context.Context) error {
	if g.succeeds(ctx, "", "rev-parse", "--verify", "--quiet", "HEAD") {
		return nil
	}
	_, err := g.run(ctx, "", "commit", "--allow-empty", "-m", "Initial commit")
	return err
}

// CurrentBranch returns the branch checked out in dir.
func (g *Git) CurrentBranch(ctx context.Context, dir string) (string, error) {
	return g.run(ctx, dir, "rev-parse", "--abbrev-ref", "HEAD")
}

// BranchExists reports whether refs/heads/<branch> exists.
func (g *Git) BranchExists(ctx context.Context, branch string) bool {
	return g.succeeds(ctx, "", "show-ref", "--verify", "--quiet", "refs/heads/"+branch)
}

// EnsureBranch checks out branch in the repository root, creating it from
// HEAD when missing.
func (g *Git) EnsureBranch(ctx context.Context, branch string) error {
	if current, err := g.CurrentBranch(ctx, ""); err == nil && current == branch {
		return nil
	}
	if g.BranchExists(ctx, branch) {
		_, err := g.run(ctx, "", "checkout", branch)
		return err
	}
	_, err := g.run(ctx, "", "checkout", "-b", branch)
	return err
}

// DeleteBranch force-deletes a branch.
func (g *Git) DeleteBranch(ctx context.Context, branch string) error {
	_, err := g.run(ctx, "", "branch", "-D", branch)
	return err
}

// ListBranches returns local branches matching a git ref pattern.
func (g *Git) ListBranches(ctx context.Context, pattern string) ([]string, error) {
	out, err := g.run(ctx, "", "branch", "--list", "--format=%(refname:short)", pattern)
	if err != nil {
		return nil, err
	}
	return lines(out), nil
}

// LastCommit returns `git log --oneline -1` for dir.
func (g *Git) LastCommit(ctx context.Context, dir string) (string, error) {
	return g.run(ctx, dir, "log", "--oneline", "-1")
}

// ResetHard resets dir to rev and removes untracked files.
func (g *Git) ResetHard(ctx context.Context, dir, rev string) error {
	if _, err := g.run(ctx, dir, "reset", "--hard", rev); err != nil {
		return err
	}
	_, err := g.run(ctx, dir, "clean", "-fd")
	return err
}

// DiffParent returns the patch of HEAD against its parent in dir.
func (g *Git) DiffParent(ctx context.Context, dir string) (string, error) {
	return g.run(ctx, dir, "diff", "HEAD~1")
}

// DiffParentStat returns `git diff HEAD~1 --stat` for dir.
func (g *Git) DiffParentStat(ctx context.Context, dir string) (string, error) {
	return g.run(ctx, dir, "diff", "HEAD~1", "--stat")
}

// DiffStatSince returns `git diff <from> HEAD --stat` in the repository root.
func (g *Git) DiffStatSince(ctx context.Context, from string) (string, error) {
	return g.run(ctx, "", "diff", from, "HEAD", "--stat")
}

// LogSince returns `git log <from>..HEAD --oneline`. An empty-tree start
// point logs the whole history.
func (g *Git) LogSince(ctx context.Context, from string) (string, error) {
	if from == "" || from == EmptyTreeHash {
		return g.run(ctx, "", "log", "--oneline")
	}
	return g.run(ctx, "", "log", from+"..HEAD", "--oneline")
}

// Merge merges branch into the current branch of the repository root.
// A conflict is reported as conflicted=true with a nil error; other
// failures return an error.
func (g *Git) Merge(ctx context.Context, branch string) (conflicted bool, err error) {
	res := g.runner.Run(ctx, "git", []string{"merge", "--no-edit", branch}, executil.Options{Dir: g.repoDir})
	if res.OK() {
		return false, nil
	}
	unresolved, uerr := g.UnresolvedFiles(ctx)
	if uerr == nil && len(unresolved) > 0 {
		return true, nil
	}
	return false, errors.NewGitError("merge failed", res.Err()).WithOp("merge").WithBranch(branch).WithOutput(res.Combined())
}

// AbortMerge aborts an in-progress merge.
func (g *Git) AbortMerge(ctx context.Context) error {
	_, err := g.run(ctx, "", "merge", "--abort")
	return err
}

// UnresolvedFiles lists paths git still considers unmerged.
func (g *Git) UnresolvedFiles(ctx context.Context) ([]string, error) {
	out, err := g.run(ctx, "", "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, err
	}
	return lines(out), nil
}

// ConflictDiff returns the full working-tree diff during a conflicted merge.
func (g *Git) ConflictDiff(ctx context.Context) (string, error) {
	return g.run(ctx, "", "diff")
}

// FilesWithConflictMarkers lists tracked files that still contain
// conflict markers at the start of a line.
func (g *Git) FilesWithConflictMarkers(ctx context.Context) ([]string, error) {
	res := g.runner.Run(ctx, "git",
		[]string{"grep", "-l", "-I", "-E", "^(<<<<<<<|>>>>>>>)( |$)"},
		executil.Options{Dir: g.repoDir})
	switch res.Code() {
	case 0:
		return lines(res.Stdout), nil
	case 1:
		return nil, nil
	default:
		return nil, errors.NewGitError("conflict marker scan failed", res.Err()).WithOp("grep")
	}
}

// ResolveCommit returns the full hash of the commit rev names, or "" when
// rev is not a commit.
func (g *Git) ResolveCommit(ctx context.Context, rev string) string {
	rev = strings.TrimSpace(rev)
	if rev == "" || strings.HasPrefix(rev, "-") {
		return ""
	}
	out, err := g.run(ctx, "", "rev-parse", "--verify", "--quiet", rev+"^{commit}")
	if err != nil {
		return ""
	}
	return out
}

// MergeInProgress reports whether the repository root has a MERGE_HEAD.
func (g *Git) MergeInProgress(ctx context.Context) bool {
	return g.succeeds(ctx, "", "rev-parse", "--verify", "--quiet", "MERGE_HEAD")
}

// ListWorktrees returns the paths of all registered worktrees.
func (g *Git) ListWorktrees(ctx context.Context) ([]string, error) {
	out, err := g.run(ctx, "", "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, l := range lines(out) {
		if p, ok := strings.CutPrefix(l, "worktree "); ok {
			paths = append(paths, p)
		}
	}
	return paths, nil
}
