package workflow

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/Iron-Ham/vibeflow/internal/ai"
	"github.com/Iron-Ham/vibeflow/internal/config"
	"github.com/Iron-Ham/vibeflow/internal/errors"
	"github.com/Iron-Ham/vibeflow/internal/executil"
	"github.com/Iron-Ham/vibeflow/internal/project"
)

func TestIntegration_Run(t *testing.T) {
	tests := []struct {
		name       string
		results    []bool // test outcomes in order
		wantErr    bool
		wantHeals  int
		wantTestsN int
	}{
		{name: "passes first time", results: []bool{true}, wantHeals: 0, wantTestsN: 1},
		{name: "healed on first attempt", results: []bool{false, true}, wantHeals: 1, wantTestsN: 2},
		{name: "healed on second attempt", results: []bool{false, false, true}, wantHeals: 2, wantTestsN: 3},
		{name: "still failing", results: []bool{false, false, false}, wantErr: true, wantHeals: 2, wantTestsN: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			logDir := t.TempDir()
			runner := executil.NewFakeRunner()
			n := 0
			runner.Handle(func(c executil.Call) bool { return c.Name == "sh" }, func(c executil.Call) executil.Result {
				ok := tt.results[min(n, len(tt.results)-1)]
				n++
				if ok {
					return executil.OK("all green")
				}
				return executil.Fail(1, "FAIL: TestCheckout (api mismatch)")
			})
			agent := &ai.FakeBackend{}
			cfg := config.IntegrationConfig{TestCommand: "make test", HealAttempts: 2, LogTailLines: 50}
			h := NewIntegration(agent, runner, root, logDir, cfg, 0, nil)

			err := h.Run(context.Background(), project.DomainGeneric)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Run() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, errors.ErrIntegrationFailed) {
				t.Errorf("error should wrap ErrIntegrationFailed: %v", err)
			}
			if got := len(agent.RequestsFor("integration-")); got != tt.wantHeals {
				t.Errorf("heal attempts = %d, want %d", got, tt.wantHeals)
			}
			calls := runner.CallsTo("sh", "-c", "make test")
			if len(calls) != tt.wantTestsN {
				t.Errorf("test runs = %d, want %d", len(calls), tt.wantTestsN)
			}
			for _, c := range calls {
				if c.Dir != root {
					t.Errorf("tests should run in the repository root, ran in %q", c.Dir)
				}
			}
			if tt.wantHeals > 0 {
				p := agent.RequestsFor("integration-1")[0].Prompt
				if !strings.Contains(p, "api mismatch") || !strings.Contains(p, "make test") {
					t.Errorf("healer prompt should carry the failing output:\n%s", p)
				}
			}
			data, err := os.ReadFile(h.LogPath())
			if err != nil || !strings.Contains(string(data), ">>> Starting Integration Phase") {
				t.Errorf("integration log = %q, %v", data, err)
			}
		})
	}
}

func TestIntegration_DefaultCommandFromDomain(t *testing.T) {
	runner := executil.NewFakeRunner()
	runner.Default = func(executil.Call) executil.Result { return executil.OK("") }
	h := NewIntegration(&ai.FakeBackend{}, runner, t.TempDir(), t.TempDir(), config.IntegrationConfig{HealAttempts: 2}, 0, nil)
	if err := h.Run(context.Background(), project.DomainWeb); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(runner.CallsTo("sh", "-c", "npm test")) != 1 {
		t.Errorf("calls = %v", runner.Calls())
	}
}

func TestIntegration_HealerErrors(t *testing.T) {
	tests := []struct {
		name       string
		agentErr   error
		wantErr    error
		wantHeals  int
		wantDelays []time.Duration
	}{
		{
			name:       "rate limited healer waits the cool-down",
			agentErr:   errors.New("API Error: 429 rate limit exceeded"),
			wantErr:    errors.ErrIntegrationFailed,
			wantHeals:  3,
			wantDelays: []time.Duration{time.Minute, time.Minute},
		},
		{
			name:       "ordinary healer failure still reruns the suite",
			agentErr:   errors.New("exit status 1"),
			wantErr:    errors.ErrIntegrationFailed,
			wantHeals:  3,
			wantDelays: []time.Duration{0, 0},
		},
		{
			name:      "missing tmux stops healing",
			agentErr:  errors.NewSessionError("tmux check failed", errors.ErrTmuxUnavailable),
			wantErr:   errors.ErrTmuxUnavailable,
			wantHeals: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := executil.NewFakeRunner()
			runner.Default = func(executil.Call) executil.Result { return executil.Fail(1, "FAIL") }
			agent := &ai.FakeBackend{Respond: func(context.Context, ai.Request) (string, error) {
				return "", tt.agentErr
			}}
			cfg := config.IntegrationConfig{TestCommand: "make test", HealAttempts: 3, LogTailLines: 10}
			h := NewIntegration(agent, runner, t.TempDir(), t.TempDir(), cfg, 0, nil)
			var delays []time.Duration
			h.sleep = func(_ context.Context, d time.Duration) error {
				delays = append(delays, d)
				return nil
			}

			err := h.Run(context.Background(), project.DomainGeneric)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Run() error = %v, want %v", err, tt.wantErr)
			}
			if got := len(agent.RequestsFor("integration-")); got != tt.wantHeals {
				t.Errorf("heal attempts = %d, want %d", got, tt.wantHeals)
			}
			if len(delays) != len(tt.wantDelays) {
				t.Fatalf("delays = %v, want %v", delays, tt.wantDelays)
			}
			for i, d := range delays {
				if d != tt.wantDelays[i] {
					t.Errorf("delay[%d] = %v, want %v", i, d, tt.wantDelays[i])
				}
			}
		})
	}
}

func TestIntegration_RateLimitedHealerSkipsSuite(t *testing.T) {
	runner := executil.NewFakeRunner()
	runner.Default = func(executil.Call) executil.Result { return executil.Fail(1, "FAIL") }
	agent := &ai.FakeBackend{Respond: func(context.Context, ai.Request) (string, error) {
		return "", errors.New("429 Too Many Requests")
	}}
	cfg := config.IntegrationConfig{TestCommand: "make test", HealAttempts: 2}
	h := NewIntegration(agent, runner, t.TempDir(), t.TempDir(), cfg, 0, nil)
	h.sleep = noSleep

	if err := h.Run(context.Background(), project.DomainGeneric); !errors.Is(err, errors.ErrIntegrationFailed) {
		t.Fatalf("Run() error = %v", err)
	}
	if got := len(runner.CallsTo("sh", "-c", "make test")); got != 1 {
		t.Errorf("test runs = %d, want 1 (suite is not rerun after a rate-limited heal)", got)
	}
}
