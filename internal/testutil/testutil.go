// Package testutil provides git fixtures shared by vibeflow tests.
package testutil

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// SetupTestRepo creates a temporary git repository on branch main with one
// commit. It is removed when the test completes.
func SetupTestRepo(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	Git(t, dir, "init")
	Git(t, dir, "config", "user.email", "test@vibeflow.dev")
	Git(t, dir, "config", "user.name", "Vibeflow Test")
	Git(t, dir, "config", "commit.gpgsign", "false")

	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("# Test Repository\n"), 0644); err != nil {
		t.Fatalf("failed to create README: %v", err)
	}
	Git(t, dir, "add", ".")
	Git(t, dir, "commit", "-m", "Initial commit")
	Git(t, dir, "branch", "-M", "main")
	return dir
}

// SetupTestRepoWithContent creates a test repository with the given files
// committed on top of the initial commit.
func SetupTestRepoWithContent(t *testing.T, files map[string]string) string {
	t.Helper()

	dir := SetupTestRepo(t)
	for path, content := range files {
		WriteFile(t, dir, path, content)
	}
	Git(t, dir, "add", ".")
	Git(t, dir, "commit", "-m", "Add test files")
	return dir
}

// WriteFile writes content to dir/path, creating parent directories.
func WriteFile(t *testing.T, dir, path, content string) {
	t.Helper()
	full := filepath.Join(dir, path)
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		t.Fatalf("failed to create directory for %s: %v", path, err)
	}
	if err := os.WriteFile(full, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write file %s: %v", path, err)
	}
}

// CommitFile creates or updates a file and commits it.
func CommitFile(t *testing.T, repoDir, path, content, message string) {
	t.Helper()
	WriteFile(t, repoDir, path, content)
	Git(t, repoDir, "add", path)
	Git(t, repoDir, "commit", "-m", message)
}

// CreateBranch creates a new branch without checking it out.
func CreateBranch(t *testing.T, repoDir, branch string) {
	t.Helper()
	Git(t, repoDir, "branch", branch)
}

// CheckoutBranch switches to an existing branch.
func CheckoutBranch(t *testing.T, repoDir, branch string) {
	t.Helper()
	Git(t, repoDir, "checkout", branch)
}

// GetCurrentBranch returns the branch checked out in repoDir.
func GetCurrentBranch(t *testing.T, repoDir string) string {
	t.Helper()
	return Git(t, repoDir, "rev-parse", "--abbrev-ref", "HEAD")
}

// Head returns the full hash of HEAD.
func Head(t *testing.T, repoDir string) string {
	t.Helper()
	return Git(t, repoDir, "rev-parse", "HEAD")
}

// Git runs git in dir, failing the test on error, and returns trimmed output.
func Git(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %s failed: %v\n%s", strings.Join(args, " "), err, out)
	}
	return strings.TrimSpace(string(out))
}

// SkipIfNoGit skips the test if git is not available.
func SkipIfNoGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
}

// SkipIfNoTmux skips the test if tmux is not available.
func SkipIfNoTmux(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("tmux"); err != nil {
		t.Skip("tmux not available")
	}
}
