package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/natefinch/atomic"
	"github.com/tidwall/gjson"

	"github.com/Iron-Ham/vibeflow/internal/ai"
	"github.com/Iron-Ham/vibeflow/internal/config"
	"github.com/Iron-Ham/vibeflow/internal/logging"
	"github.com/Iron-Ham/vibeflow/internal/project"
	"github.com/Iron-Ham/vibeflow/internal/prompt"
	"github.com/Iron-Ham/vibeflow/internal/worktree"
)

var commitComment = regexp.MustCompile(`<!--\s*COMMIT:\s*([0-9a-fA-F]+)\s*-->`)

// IndexHash returns the commit an index was generated at, read from
// metadata.gitHash or a "<!-- COMMIT: x -->" comment.
func IndexHash(data []byte) string {
	if gjson.ValidBytes(data) {
		if h := gjson.GetBytes(data, "metadata.gitHash").String(); h != "" {
			return h
		}
	}
	if m := commitComment.FindSubmatch(data); m != nil {
		return string(m[1])
	}
	return ""
}

// IsIndexStale reports whether the index at path needs regenerating for
// head. Missing files, missing hashes and empty repositories are stale.
func IsIndexStale(path, head string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return true
	}
	h := IndexHash(data)
	if h == "" || head == "" || head == worktree.EmptyTreeHash {
		return true
	}
	return h != head
}

// HeadReader reads the current commit.
type HeadReader interface {
	HeadHash(ctx context.Context, dir string) (string, error)
}

// Librarian maintains the project index.
type Librarian struct {
	agent     ai.Backend
	git       HeadReader
	root      string
	indexPath string
	ctxCfg    config.ContextConfig
	logger    *logging.Logger
}

// NewLibrarian creates a Librarian writing indexPath.
func NewLibrarian(agent ai.Backend, git HeadReader, root, indexPath string, ctxCfg config.ContextConfig, logger *logging.Logger) *Librarian {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Librarian{agent: agent, git: git, root: root, indexPath: indexPath, ctxCfg: ctxCfg, logger: logger.WithPhase("librarian")}
}

// Run regenerates the index unless mode is MAINTAIN and the stored hash
// matches HEAD. It reports whether a new index was written.
func (l *Librarian) Run(ctx context.Context, mode project.Mode, domain project.Domain) (bool, error) {
	head, err := l.git.HeadHash(ctx, "")
	if err != nil {
		return false, fmt.Errorf("read HEAD: %w", err)
	}
	if mode == project.ModeMaintain && !IsIndexStale(l.indexPath, head) {
		l.logger.Info("index is up to date", "hash", short(head))
		return false, nil
	}
	l.logger.Info("generating project index", "mode", mode)

	repoContext, err := BuildContext(l.root, l.ctxCfg.IgnorePatterns, l.ctxCfg.MaxSizeKB)
	if err != nil {
		return false, err
	}
	out, err := l.agent.Run(ctx, ai.Request{
		TaskID:       "librarian",
		Prompt:       prompt.Librarian(prompt.LibrarianData{Mode: string(mode), Domain: string(domain), Context: repoContext}),
		Dir:          l.root,
		NeedsOutput:  true,
		OutputFormat: ai.FormatJSON,
	})
	if err != nil {
		return false, fmt.Errorf("librarian agent: %w", err)
	}

	index, err := decodeIndex(out)
	if err != nil {
		if mode == project.ModeMaintain {
			return false, fmt.Errorf("librarian produced no usable index: %w", err)
		}
		l.logger.Warn("agent returned no index, writing an empty one", "error", err)
		index = map[string]any{
			"name":        "Project Index",
			"description": "Auto-generated project context index",
			"components":  []any{},
			"files":       []any{},
		}
	}
	meta, _ := index["metadata"].(map[string]any)
	if meta == nil {
		meta = map[string]any{}
	}
	meta["gitHash"] = head
	index["metadata"] = meta

	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return false, fmt.Errorf("marshal index: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(l.indexPath), 0o755); err != nil {
		return false, fmt.Errorf("create index directory: %w", err)
	}
	if err := atomic.WriteFile(l.indexPath, bytes.NewReader(append(data, '\n'))); err != nil {
		return false, fmt.Errorf("write index: %w", err)
	}
	l.logger.Info("index written", "path", l.indexPath, "hash", short(head))
	return true, nil
}

func decodeIndex(out string) (map[string]any, error) {
	res, err := ai.ParseResult(out)
	if err != nil {
		return nil, err
	}
	var index map[string]any
	if err := json.Unmarshal([]byte(res.Raw()), &index); err != nil {
		return nil, err
	}
	return index, nil
}

// ReadIndex returns the index file's contents, or "" when it is missing.
func ReadIndex(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}

func short(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}
