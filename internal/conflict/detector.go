// Package conflict watches running task worktrees and reports files that
// more than one task has written. Such overlaps usually surface later as
// merge conflicts, so the factory reports them while tasks still run.
package conflict

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Iron-Ham/vibeflow/internal/logging"
)

// Overlap is a relative path written in more than one task worktree.
type Overlap struct {
	Path     string
	Tasks    []string
	LastSeen time.Time
}

// DefaultIgnore lists directory names never watched.
var DefaultIgnore = []string{".git", "node_modules", "venv", ".venv", "__pycache__", "dist", "build"}

// Option configures a Detector.
type Option func(*Detector)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(d *Detector) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithDebounce sets how long writes are collected before being processed.
func WithDebounce(wait time.Duration) Option {
	return func(d *Detector) { d.debounce = wait }
}

// WithIgnore replaces the ignored directory names.
func WithIgnore(names ...string) Option {
	return func(d *Detector) { d.ignore = names }
}

// Detector tracks writes per task worktree.
type Detector struct {
	watcher  *fsnotify.Watcher
	logger   *logging.Logger
	debounce time.Duration
	ignore   []string

	mu sync.RWMutex
	// task id -> worktree root
	roots map[string]string
	// relative path -> task id -> last write
	writes map[string]map[string]time.Time
	// relative path -> task set already reported
	reported  map[string]string
	onOverlap func(Overlap)

	startOnce sync.Once
	started   atomic.Bool
	stopOnce  sync.Once
	stopCh    chan struct{}
	done      chan struct{}
}

// New creates a Detector. It fails only when the platform watcher cannot
// be created.
func New(opts ...Option) (*Detector, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	d := &Detector{
		watcher:  w,
		logger:   logging.NopLogger(),
		debounce: 50 * time.Millisecond,
		ignore:   DefaultIgnore,
		roots:    make(map[string]string),
		writes:   make(map[string]map[string]time.Time),
		reported: make(map[string]string),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// OnOverlap registers cb for every new overlap. A path is reported again
// only when the set of tasks writing it grows.
func (d *Detector) OnOverlap(cb func(Overlap)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onOverlap = cb
}

// Watch starts tracking writes below dir on behalf of taskID.
func (d *Detector) Watch(taskID, dir string) error {
	root, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	if err := d.watcher.Add(root); err != nil {
		return err
	}
	d.mu.Lock()
	d.roots[taskID] = root
	d.mu.Unlock()
	d.addTree(root)
	return nil
}

// Unwatch stops tracking taskID. Writes already recorded are kept: the
// task's branch still has to be merged.
func (d *Detector) Unwatch(taskID string) {
	d.mu.Lock()
	root, ok := d.roots[taskID]
	delete(d.roots, taskID)
	d.mu.Unlock()
	if !ok {
		return
	}
	for _, p := range d.watcher.WatchList() {
		if p == root || strings.HasPrefix(p, root+string(filepath.Separator)) {
			_ = d.watcher.Remove(p)
		}
	}
}

func (d *Detector) addTree(root string) {
	_ = filepath.WalkDir(root, func(path string, e fs.DirEntry, err error) error {
		if err != nil || !e.IsDir() {
			return nil
		}
		if path != root && d.ignored(e.Name()) {
			return filepath.SkipDir
		}
		_ = d.watcher.Add(path)
		return nil
	})
}

func (d *Detector) ignored(name string) bool {
	return slices.Contains(d.ignore, name)
}

// Start processes filesystem events until ctx ends or Stop is called.
func (d *Detector) Start(ctx context.Context) {
	d.startOnce.Do(func() {
		d.started.Store(true)
		go d.loop(ctx)
	})
}

// Stop ends event processing and releases the watcher. It is safe to call
// more than once.
func (d *Detector) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopCh)
		_ = d.watcher.Close()
	})
	if d.started.Load() {
		<-d.done
	}
}

func (d *Detector) loop(ctx context.Context) {
	defer close(d.done)
	timer := time.NewTimer(d.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	pending := make(map[string]time.Time)

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		case ev, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			pending[ev.Name] = time.Now()
			timer.Reset(d.debounce)
		case <-timer.C:
			for path, at := range pending {
				d.record(path, at)
			}
			clear(pending)
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.logger.Warn("file watcher error", "error", err)
		}
	}
}

// record attributes a write at path to the task owning it.
func (d *Detector) record(path string, at time.Time) {
	d.mu.Lock()
	taskID, rel := d.owner(path)
	if taskID == "" || d.ignoredPath(rel) {
		d.mu.Unlock()
		return
	}
	if isDir(path) {
		d.mu.Unlock()
		d.addTree(path)
		return
	}
	tasks := d.writes[rel]
	if tasks == nil {
		tasks = make(map[string]time.Time)
		d.writes[rel] = tasks
	}
	tasks[taskID] = at

	var overlap *Overlap
	if len(tasks) > 1 {
		o := d.overlapLocked(rel)
		key := strings.Join(o.Tasks, ",")
		if d.reported[rel] != key {
			d.reported[rel] = key
			overlap = &o
		}
	}
	cb := d.onOverlap
	d.mu.Unlock()

	if overlap != nil {
		d.logger.Warn("file written by several tasks", "path", overlap.Path, "tasks", overlap.Tasks)
		if cb != nil {
			cb(*overlap)
		}
	}
}

func (d *Detector) owner(path string) (taskID, rel string) {
	for id, root := range d.roots {
		if path == root || !strings.HasPrefix(path, root+string(filepath.Separator)) {
			continue
		}
		r, err := filepath.Rel(root, path)
		if err != nil {
			continue
		}
		return id, filepath.ToSlash(r)
	}
	return "", ""
}

func (d *Detector) ignoredPath(rel string) bool {
	for _, part := range strings.Split(rel, "/") {
		if d.ignored(part) {
			return true
		}
	}
	return false
}

func (d *Detector) overlapLocked(rel string) Overlap {
	o := Overlap{Path: rel}
	for id, at := range d.writes[rel] {
		o.Tasks = append(o.Tasks, id)
		if at.After(o.LastSeen) {
			o.LastSeen = at
		}
	}
	slices.Sort(o.Tasks)
	return o
}

// Overlaps returns every current overlap ordered by path.
func (d *Detector) Overlaps() []Overlap {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []Overlap
	for rel, tasks := range d.writes {
		if len(tasks) > 1 {
			out = append(out, d.overlapLocked(rel))
		}
	}
	slices.SortFunc(out, func(a, b Overlap) int { return strings.Compare(a.Path, b.Path) })
	return out
}

// FilesWrittenBy returns the relative paths taskID has written, sorted.
func (d *Detector) FilesWrittenBy(taskID string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var files []string
	for rel, tasks := range d.writes {
		if _, ok := tasks[taskID]; ok {
			files = append(files, rel)
		}
	}
	slices.Sort(files)
	return files
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
