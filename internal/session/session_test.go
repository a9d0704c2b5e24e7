package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Iron-Ham/vibeflow/internal/errors"
	"github.com/Iron-Ham/vibeflow/internal/event"
	"github.com/Iron-Ham/vibeflow/internal/orchestrator"
)

func TestAcquireLock(t *testing.T) {
	dir := t.TempDir()

	l, err := AcquireLock(dir, "run-1", nil)
	if err != nil {
		t.Fatalf("AcquireLock() error = %v", err)
	}
	if held, ok := IsLocked(dir); !ok || held.RunID != "run-1" {
		t.Errorf("IsLocked() = %+v, %v", held, ok)
	}

	if _, err := AcquireLock(dir, "run-2", nil); !errors.Is(err, ErrLocked) {
		t.Errorf("second AcquireLock() error = %v, want ErrLocked", err)
	}

	if err := l.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if err := l.Release(); err != nil {
		t.Errorf("second Release() error = %v", err)
	}
	if _, ok := IsLocked(dir); ok {
		t.Error("lock should be gone after Release")
	}
}

func TestAcquireLock_RemovesStaleLock(t *testing.T) {
	dir := t.TempDir()
	stale := `{"run_id":"old","pid":999999999,"hostname":"h","started_at":"2024-01-01T00:00:00Z"}`
	if err := os.WriteFile(filepath.Join(dir, LockFileName), []byte(stale), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, ok := IsLocked(dir); ok {
		t.Fatal("a dead PID should not count as locked")
	}

	l, err := AcquireLock(dir, "new", nil)
	if err != nil {
		t.Fatalf("AcquireLock() error = %v", err)
	}
	defer l.Release()
	if l.PID != os.Getpid() {
		t.Errorf("PID = %d", l.PID)
	}
}

func TestRelease_LeavesForeignLock(t *testing.T) {
	dir := t.TempDir()
	l, err := AcquireLock(dir, "mine", nil)
	if err != nil {
		t.Fatal(err)
	}
	foreign := `{"run_id":"theirs","pid":1,"hostname":"h","started_at":"2024-01-01T00:00:00Z"}`
	if err := os.WriteFile(filepath.Join(dir, LockFileName), []byte(foreign), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := l.Release(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, LockFileName)); err != nil {
		t.Error("Release should not remove a lock it does not own")
	}
}

func TestStore_SaveLoad(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "logs", "session.yaml"))
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	snap := orchestrator.Snapshot{
		Mode:        "MAINTAIN",
		Domain:      "WEB",
		StartCommit: "abc123",
		StartedAt:   start,
		UpdatedAt:   start.Add(time.Minute),
		Phase:       "factory",
		Tasks: []orchestrator.Task{
			{ID: "task_1", Name: "Add logging", Status: orchestrator.StatusHealed, Attempts: 1, BranchName: "vibe-task_task_1_1"},
		},
	}
	if err := store.Save(snap); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.Phase != "factory" || got.StartCommit != "abc123" || !got.StartedAt.Equal(start) {
		t.Errorf("Load() = %+v", got)
	}
	if len(got.Tasks) != 1 || got.Tasks[0].Status != orchestrator.StatusHealed || got.Tasks[0].Attempts != 1 {
		t.Errorf("tasks = %+v", got.Tasks)
	}
}

func TestRecorder(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "session.yaml"))
	state := orchestrator.NewSessionState("MAINTAIN", "GENERIC", "abc", time.Now())
	state.AddTasks(&orchestrator.Task{ID: "t1", Name: "One", Status: orchestrator.StatusPending})
	bus := event.NewBus(nil)

	r := Record(bus, store, state, nil)
	if snap, err := store.Load(); err != nil || len(snap.Tasks) != 1 {
		t.Fatalf("initial snapshot = %+v, %v", snap, err)
	}

	bus.Publish(event.NewPhaseStartedEvent("factory"))
	state.Update("t1", func(task *orchestrator.Task) { task.Status = orchestrator.StatusRunning })
	bus.Publish(event.NewTaskStatusEvent("t1", "One", "PENDING", "RUNNING", 0, ""))

	snap, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if snap.Phase != "factory" || snap.Tasks[0].Status != orchestrator.StatusRunning {
		t.Errorf("snapshot = %+v", snap)
	}

	r.Stop()
	if bus.SubscriptionCount() != 0 {
		t.Error("Stop should unsubscribe")
	}
}
