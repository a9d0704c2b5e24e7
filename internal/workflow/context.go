package workflow

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
)

// binarySniffLen is how much of a file is checked for NUL bytes.
const binarySniffLen = 8000

// Matcher reports whether a slash-separated relative path is ignored.
type Matcher struct {
	globs []glob.Glob
}

// NewMatcher compiles ignore patterns. A leading "**/" also matches at the
// repository root.
func NewMatcher(patterns []string) (*Matcher, error) {
	m := &Matcher{}
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		variants := []string{p}
		if rest, ok := strings.CutPrefix(p, "**/"); ok {
			variants = append(variants, rest)
		}
		for _, v := range variants {
			g, err := glob.Compile(v, '/')
			if err != nil {
				return nil, fmt.Errorf("compile ignore pattern %q: %w", p, err)
			}
			m.globs = append(m.globs, g)
		}
	}
	return m, nil
}

// Match reports whether rel is ignored.
func (m *Matcher) Match(rel string) bool {
	for _, g := range m.globs {
		if g.Match(rel) {
			return true
		}
	}
	return false
}

// BuildContext concatenates the text files under root for the librarian,
// skipping ignored paths and binaries and stopping once maxKB kilobytes
// have been collected.
func BuildContext(root string, patterns []string, maxKB int) (string, error) {
	m, err := NewMatcher(patterns)
	if err != nil {
		return "", err
	}
	limit := maxKB * 1024
	var b strings.Builder
	truncated := false

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if d.Name() == ".git" || m.Match(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || m.Match(rel) {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil || isBinary(data) {
			return nil
		}
		entry := fmt.Sprintf("### %s\n```\n%s\n```\n\n", rel, strings.TrimRight(string(data), "\n"))
		if limit > 0 && b.Len()+len(entry) > limit {
			truncated = true
			return filepath.SkipAll
		}
		b.WriteString(entry)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("walk %s: %w", root, err)
	}
	if truncated {
		fmt.Fprintf(&b, "[context truncated at %d KB]\n", maxKB)
	}
	return b.String(), nil
}

func isBinary(data []byte) bool {
	return bytes.IndexByte(data[:min(len(data), binarySniffLen)], 0) >= 0
}
