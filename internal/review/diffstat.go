package review

import (
	"fmt"
	"strings"

	godiff "github.com/sourcegraph/go-diff/diff"
)

// FileStat is the line churn of one file in a diff.
type FileStat struct {
	Path    string
	Added   int
	Deleted int
}

// DiffStats summarizes a unified diff.
type DiffStats struct {
	Files   []FileStat
	Added   int
	Deleted int
}

// ParseDiffStats counts added and deleted lines per file. Changed lines in
// go-diff's accounting are a deletion paired with an addition.
func ParseDiffStats(diff string) (DiffStats, error) {
	var stats DiffStats
	if strings.TrimSpace(diff) == "" {
		return stats, nil
	}
	fds, err := godiff.ParseMultiFileDiff([]byte(diff))
	if err != nil {
		return stats, fmt.Errorf("parse diff: %w", err)
	}
	for _, fd := range fds {
		if fd == nil {
			continue
		}
		st := fd.Stat()
		fs := FileStat{
			Path:    diffPath(fd),
			Added:   int(st.Added + st.Changed),
			Deleted: int(st.Deleted + st.Changed),
		}
		stats.Files = append(stats.Files, fs)
		stats.Added += fs.Added
		stats.Deleted += fs.Deleted
	}
	return stats, nil
}

func diffPath(fd *godiff.FileDiff) string {
	name := fd.NewName
	if name == "" || name == "/dev/null" {
		return strings.TrimPrefix(fd.OrigName, "a/")
	}
	return strings.TrimPrefix(name, "b/")
}

// Summary renders one line per file, e.g. "src/app.ts +12 -3".
func (s DiffStats) Summary() string {
	var b strings.Builder
	for _, f := range s.Files {
		fmt.Fprintf(&b, "%s +%d -%d\n", f.Path, f.Added, f.Deleted)
	}
	return strings.TrimRight(b.String(), "\n")
}

// String renders the totals.
func (s DiffStats) String() string {
	noun := "files"
	if len(s.Files) == 1 {
		noun = "file"
	}
	return fmt.Sprintf("%d %s, +%d -%d", len(s.Files), noun, s.Added, s.Deleted)
}
