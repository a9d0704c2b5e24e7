// Package session persists what one workflow run leaves behind: the run
// lock that keeps two runs out of the same repository, and the YAML
// snapshot of task progress that `vibeflow status` reads.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/Iron-Ham/vibeflow/internal/errors"
	"github.com/Iron-Ham/vibeflow/internal/logging"
)

// LockFileName is the lock file inside the log directory.
const LockFileName = "vibeflow.lock"

// ErrLocked is returned when another live process holds the run lock.
var ErrLocked = errors.New("another vibeflow run is active in this repository")

// Lock is an acquired run lock.
type Lock struct {
	RunID     string    `json:"run_id"`
	PID       int       `json:"pid"`
	Hostname  string    `json:"hostname"`
	StartedAt time.Time `json:"started_at"`

	path   string
	logger *logging.Logger
}

// AcquireLock takes the run lock in dir. A lock left by a dead process is
// removed first. logger may be nil.
func AcquireLock(dir, runID string, logger *logging.Logger) (*Lock, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	path := filepath.Join(dir, LockFileName)

	if existing, err := ReadLock(path); err == nil {
		if isProcessAlive(existing.PID) {
			return nil, fmt.Errorf("%w: PID %d on %s since %s", ErrLocked,
				existing.PID, existing.Hostname, existing.StartedAt.Format(time.RFC3339))
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("remove stale lock: %w", err)
		}
		logger.Warn("stale run lock removed", "old_pid", existing.PID, "old_run", existing.RunID)
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	l := &Lock{
		RunID:     runID,
		PID:       os.Getpid(),
		Hostname:  hostname,
		StartedAt: time.Now(),
		path:      path,
		logger:    logger,
	}
	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal lock: %w", err)
	}

	// O_EXCL settles a race between two runs starting together.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("create lock file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("write lock file: %w", err)
	}

	logger.Info("run lock acquired", "run_id", runID, "pid", l.PID)
	return l, nil
}

// Release removes the lock file if this process still owns it. It is safe
// to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.path == "" {
		return nil
	}
	existing, err := ReadLock(l.path)
	if err != nil || existing.PID != l.PID || existing.RunID != l.RunID {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	l.logger.Info("run lock released", "run_id", l.RunID)
	return nil
}

// ReadLock reads the lock file at path.
func ReadLock(path string) (*Lock, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var l Lock
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("parse lock file: %w", err)
	}
	l.path = path
	return &l, nil
}

// IsLocked reports whether a live process holds the lock in dir.
func IsLocked(dir string) (*Lock, bool) {
	l, err := ReadLock(filepath.Join(dir, LockFileName))
	if err != nil {
		return nil, false
	}
	return l, isProcessAlive(l.PID)
}

// isProcessAlive sends signal 0, which checks existence without effect.
func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}
