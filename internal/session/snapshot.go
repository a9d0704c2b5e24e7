package session

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/natefinch/atomic"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/vibeflow/internal/event"
	"github.com/Iron-Ham/vibeflow/internal/logging"
	"github.com/Iron-Ham/vibeflow/internal/orchestrator"
)

// Store reads and writes the run snapshot file.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore creates a Store for path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the snapshot file.
func (s *Store) Path() string { return s.path }

// Save replaces the snapshot file atomically.
func (s *Store) Save(snap orchestrator.Snapshot) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(snap); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}
	if err := atomic.WriteFile(s.path, &buf); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

// Load reads the snapshot file.
func (s *Store) Load() (orchestrator.Snapshot, error) {
	var snap orchestrator.Snapshot
	data, err := os.ReadFile(s.path)
	if err != nil {
		return snap, err
	}
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return snap, fmt.Errorf("parse snapshot %s: %w", s.path, err)
	}
	return snap, nil
}

// Recorder rewrites the snapshot whenever a task or phase changes.
type Recorder struct {
	store  *Store
	state  *orchestrator.SessionState
	logger *logging.Logger
	now    func() time.Time
	bus    *event.Bus
	subID  string
}

// Record subscribes to bus and persists state on every task status and
// phase event until Stop is called.
func Record(bus *event.Bus, store *Store, state *orchestrator.SessionState, logger *logging.Logger) *Recorder {
	if logger == nil {
		logger = logging.NopLogger()
	}
	r := &Recorder{store: store, state: state, logger: logger, now: time.Now, bus: bus}
	r.subID = bus.SubscribeAll(func(e event.Event) {
		switch ev := e.(type) {
		case event.PhaseEvent:
			if ev.EventType() == event.TypePhaseStarted {
				state.SetPhase(ev.Phase)
			}
			r.Flush()
		case event.TaskStatusEvent:
			r.Flush()
		}
	})
	r.Flush()
	return r
}

// Flush writes the current state.
func (r *Recorder) Flush() {
	if err := r.store.Save(r.state.Snapshot(r.now())); err != nil {
		r.logger.Warn("failed to write session snapshot", "path", r.store.Path(), "error", err)
	}
}

// Stop unsubscribes and writes a final snapshot.
func (r *Recorder) Stop() {
	r.bus.Unsubscribe(r.subID)
	r.Flush()
}
