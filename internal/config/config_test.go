package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"

	vferrors "github.com/Iron-Ham/vibeflow/internal/errors"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Factory.MaxRetries != 3 {
		t.Errorf("Factory.MaxRetries = %d, want 3", cfg.Factory.MaxRetries)
	}
	if cfg.Factory.MaxParallelAgents != 2 {
		t.Errorf("Factory.MaxParallelAgents = %d, want 2", cfg.Factory.MaxParallelAgents)
	}
	if cfg.Session.MaxSessions != 10 {
		t.Errorf("Session.MaxSessions = %d, want 10", cfg.Session.MaxSessions)
	}
	if cfg.Session.PollInterval != 2*time.Second {
		t.Errorf("Session.PollInterval = %v, want 2s", cfg.Session.PollInterval)
	}
	if cfg.Paths.PlanFile != "vibe_plan.json" || cfg.Paths.LogDir != ".vibe_logs" {
		t.Errorf("unexpected default paths: %+v", cfg.Paths)
	}
	if cfg.Exec.MaxOutputBytes != 10*1024*1024 {
		t.Errorf("Exec.MaxOutputBytes = %d", cfg.Exec.MaxOutputBytes)
	}
	if errs := cfg.Validate(); len(errs) != 0 {
		t.Errorf("Default() should validate, got %v", ValidationErrors(errs))
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantField string
	}{
		{"zero retries", func(c *Config) { c.Factory.MaxRetries = 0 }, "factory.max_retries"},
		{"negative parallelism", func(c *Config) { c.Factory.MaxParallelAgents = -1 }, "factory.max_parallel_agents"},
		{"no sessions", func(c *Config) { c.Session.MaxSessions = 0 }, "session.max_sessions"},
		{"bad prefix", func(c *Config) { c.Session.Prefix = "a:b" }, "session.prefix"},
		{"zero poll", func(c *Config) { c.Session.PollInterval = 0 }, "session.poll_interval"},
		{"empty agent", func(c *Config) { c.Agent.Command = " " }, "agent.command"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"max below base", func(c *Config) { c.Factory.MaxDelay = time.Millisecond }, "factory.max_delay"},
		{"empty plan path", func(c *Config) { c.Paths.PlanFile = "" }, "paths.plan_file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			errs := cfg.Validate()
			if len(errs) != 1 {
				t.Fatalf("Validate() returned %d errors, want 1: %v", len(errs), ValidationErrors(errs))
			}
			if errs[0].Field != tt.wantField {
				t.Errorf("Field = %q, want %q", errs[0].Field, tt.wantField)
			}
		})
	}
}

func TestValidationErrors_Error(t *testing.T) {
	errs := ValidationErrors{
		{Field: "a", Value: 0, Message: "must be a positive integer"},
		{Field: "b", Value: "", Message: "must not be empty"},
	}
	got := errs.Error()
	if !strings.HasPrefix(got, "2 validation errors:") || !strings.Contains(got, "  2. b: must not be empty") {
		t.Errorf("Error() = %q", got)
	}
	if !vferrors.Is(errs, vferrors.ErrConfigInvalid) {
		t.Error("ValidationErrors should match ErrConfigInvalid")
	}
}

func TestLoad_Environment(t *testing.T) {
	tests := []struct {
		name        string
		env         map[string]string
		wantRetries int
		wantAgents  int
		wantErr     bool
	}{
		{name: "defaults", wantRetries: 3, wantAgents: 2},
		{name: "bare knobs", env: map[string]string{"MAX_RETRIES": "5", "MAX_PARALLEL_AGENTS": "4"}, wantRetries: 5, wantAgents: 4},
		{name: "prefixed knob", env: map[string]string{"VIBEFLOW_FACTORY_MAX_RETRIES": "7"}, wantRetries: 7, wantAgents: 2},
		{name: "zero is rejected", env: map[string]string{"MAX_PARALLEL_AGENTS": "0"}, wantErr: true},
		{name: "non numeric is rejected", env: map[string]string{"MAX_RETRIES": "many"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			viper.Reset()
			t.Cleanup(viper.Reset)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			SetDefaults()

			cfg, err := Load()
			if tt.wantErr {
				if err == nil {
					t.Fatal("Load() succeeded, want error")
				}
				if !vferrors.Is(err, vferrors.ErrConfigInvalid) {
					t.Errorf("Load() error = %v, want ErrConfigInvalid", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Load() failed: %v", err)
			}
			if cfg.Factory.MaxRetries != tt.wantRetries || cfg.Factory.MaxParallelAgents != tt.wantAgents {
				t.Errorf("got retries=%d agents=%d", cfg.Factory.MaxRetries, cfg.Factory.MaxParallelAgents)
			}
			if cfg.Session.Warmup != 3*time.Second {
				t.Errorf("Session.Warmup = %v, want 3s", cfg.Session.Warmup)
			}
		})
	}
}

func TestResolve(t *testing.T) {
	if got := Resolve("/repo", "vibe_plan.json"); got != "/repo/vibe_plan.json" {
		t.Errorf("Resolve(relative) = %q", got)
	}
	if got := Resolve("/repo", "/tmp/x"); got != "/tmp/x" {
		t.Errorf("Resolve(absolute) = %q", got)
	}
}
