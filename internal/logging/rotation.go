package logging

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// RotationConfig bounds the size of every log file the logger owns:
// debug.log and the per-task and per-phase files.
type RotationConfig struct {
	// MaxSizeMB is the size at which a file is rotated. 0 disables rotation.
	MaxSizeMB int
	// MaxBackups is the number of rotated files kept as <name>.1..N.
	MaxBackups int
}

// DefaultRotationConfig matches the logging.* config defaults.
func DefaultRotationConfig() RotationConfig {
	return RotationConfig{MaxSizeMB: 10, MaxBackups: 3}
}

func (c RotationConfig) limit() int64 {
	return int64(c.MaxSizeMB) << 20
}

var errWriterClosed = errors.New("log file is closed")

// RotatingWriter appends to a file and rotates it once a write would push
// it past the size limit. It is safe for concurrent use.
type RotatingWriter struct {
	mu   sync.Mutex
	path string
	cfg  RotationConfig
	file *os.File
	size int64
	// rotateErr is the last rotation failure, reported once by Write.
	rotateErr error
}

// NewRotatingWriter opens path for appending, creating its directory.
func NewRotatingWriter(path string, cfg RotationConfig) (*RotatingWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	rw := &RotatingWriter{path: path, cfg: cfg}
	if err := rw.open(); err != nil {
		return nil, err
	}
	return rw, nil
}

func (rw *RotatingWriter) open() error {
	f, err := os.OpenFile(rw.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	rw.file, rw.size = f, info.Size()
	return nil
}

// Write implements io.Writer. A failed rotation keeps appending to the
// current file; the failure is returned once, after the data is written.
func (rw *RotatingWriter) Write(p []byte) (int, error) {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if rw.file == nil {
		return 0, errWriterClosed
	}

	if limit := rw.cfg.limit(); limit > 0 && rw.size > 0 && rw.size+int64(len(p)) > limit {
		if err := rw.rotate(); err != nil {
			rw.rotateErr = err
		}
		if rw.file == nil {
			return 0, errWriterClosed
		}
	}

	n, err := rw.file.Write(p)
	rw.size += int64(n)
	if err == nil && rw.rotateErr != nil {
		err, rw.rotateErr = rw.rotateErr, nil
	}
	return n, err
}

// rotate moves <path> to <path>.1, shifting older backups up and dropping
// the oldest. The caller holds the mutex.
func (rw *RotatingWriter) rotate() error {
	if err := rw.file.Close(); err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}
	rw.file = nil

	var renameErr error
	if rw.cfg.MaxBackups <= 0 {
		renameErr = removeIfExists(rw.path)
	} else {
		_ = removeIfExists(rw.backup(rw.cfg.MaxBackups))
		for i := rw.cfg.MaxBackups - 1; i >= 1; i-- {
			if err := os.Rename(rw.backup(i), rw.backup(i+1)); err != nil && !errors.Is(err, fs.ErrNotExist) {
				renameErr = err
			}
		}
		if err := os.Rename(rw.path, rw.backup(1)); err != nil {
			renameErr = err
		}
	}

	if err := rw.open(); err != nil {
		return err
	}
	if renameErr != nil {
		return fmt.Errorf("failed to rotate %s: %w", filepath.Base(rw.path), renameErr)
	}
	return nil
}

func (rw *RotatingWriter) backup(n int) string {
	return fmt.Sprintf("%s.%d", rw.path, n)
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Close syncs and closes the file. Later writes fail.
func (rw *RotatingWriter) Close() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if rw.file == nil {
		return nil
	}
	f := rw.file
	rw.file = nil
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to sync log file: %w", err)
	}
	return f.Close()
}

// CurrentSize returns the size of the active file in bytes.
func (rw *RotatingWriter) CurrentSize() int64 {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	return rw.size
}
