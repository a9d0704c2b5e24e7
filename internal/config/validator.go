package config

import (
	"fmt"
	"slices"
	"strings"

	vferrors "github.com/Iron-Ham/vibeflow/internal/errors"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "factory.max_retries")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// Is lets callers test any validation failure against ErrConfigInvalid.
func (e ValidationErrors) Is(target error) bool {
	return target == vferrors.ErrConfigInvalid
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errs []ValidationError
	errs = append(errs, c.validateFactory()...)
	errs = append(errs, c.validateSession()...)
	errs = append(errs, c.validateAgent()...)
	errs = append(errs, c.validateContext()...)
	errs = append(errs, c.validateIntegration()...)
	errs = append(errs, c.validateExec()...)
	errs = append(errs, c.validateLogging()...)
	errs = append(errs, c.validatePaths()...)
	return errs
}

func atLeastOne(field string, v int) []ValidationError {
	if v < 1 {
		return []ValidationError{{Field: field, Value: v, Message: "must be a positive integer"}}
	}
	return nil
}

func (c *Config) validateFactory() []ValidationError {
	var errs []ValidationError
	errs = append(errs, atLeastOne("factory.max_retries", c.Factory.MaxRetries)...)
	errs = append(errs, atLeastOne("factory.max_parallel_agents", c.Factory.MaxParallelAgents)...)
	if c.Factory.BaseDelay < 0 {
		errs = append(errs, ValidationError{Field: "factory.base_delay", Value: c.Factory.BaseDelay, Message: "must be non-negative"})
	}
	if c.Factory.MaxDelay < c.Factory.BaseDelay {
		errs = append(errs, ValidationError{Field: "factory.max_delay", Value: c.Factory.MaxDelay, Message: "must be at least factory.base_delay"})
	}
	if c.Factory.RateLimitDelay < 0 {
		errs = append(errs, ValidationError{Field: "factory.rate_limit_delay", Value: c.Factory.RateLimitDelay, Message: "must be non-negative"})
	}
	if c.Factory.TaskTimeout < 0 {
		errs = append(errs, ValidationError{Field: "factory.task_timeout", Value: c.Factory.TaskTimeout, Message: "must be non-negative (0 waits indefinitely)"})
	}
	if strings.TrimSpace(c.Factory.IntegrationBranch) == "" {
		errs = append(errs, ValidationError{Field: "factory.integration_branch", Value: c.Factory.IntegrationBranch, Message: "must not be empty"})
	}
	return errs
}

func (c *Config) validateSession() []ValidationError {
	var errs []ValidationError
	if strings.TrimSpace(c.Session.Prefix) == "" || strings.ContainsAny(c.Session.Prefix, ":. ") {
		errs = append(errs, ValidationError{Field: "session.prefix", Value: c.Session.Prefix, Message: "must be non-empty and contain no ':', '.' or spaces"})
	}
	errs = append(errs, atLeastOne("session.max_sessions", c.Session.MaxSessions)...)
	if c.Session.PollInterval <= 0 {
		errs = append(errs, ValidationError{Field: "session.poll_interval", Value: c.Session.PollInterval, Message: "must be positive"})
	}
	if c.Session.StaleAfter <= 0 {
		errs = append(errs, ValidationError{Field: "session.stale_after", Value: c.Session.StaleAfter, Message: "must be positive"})
	}
	for _, d := range []struct {
		field string
		v     any
		neg   bool
	}{
		{"session.warmup", c.Session.Warmup, c.Session.Warmup < 0},
		{"session.confirm_wait", c.Session.ConfirmWait, c.Session.ConfirmWait < 0},
		{"session.exit_wait", c.Session.ExitWait, c.Session.ExitWait < 0},
		{"session.start_check", c.Session.StartCheck, c.Session.StartCheck < 0},
	} {
		if d.neg {
			errs = append(errs, ValidationError{Field: d.field, Value: d.v, Message: "must be non-negative"})
		}
	}
	return errs
}

func (c *Config) validateAgent() []ValidationError {
	if strings.TrimSpace(c.Agent.Command) == "" {
		return []ValidationError{{Field: "agent.command", Value: c.Agent.Command, Message: "must not be empty"}}
	}
	return nil
}

func (c *Config) validateContext() []ValidationError {
	return atLeastOne("context.max_size_kb", c.Context.MaxSizeKB)
}

func (c *Config) validateIntegration() []ValidationError {
	var errs []ValidationError
	if c.Integration.HealAttempts < 0 {
		errs = append(errs, ValidationError{Field: "integration.heal_attempts", Value: c.Integration.HealAttempts, Message: "must be non-negative"})
	}
	errs = append(errs, atLeastOne("integration.log_tail_lines", c.Integration.LogTailLines)...)
	return errs
}

func (c *Config) validateExec() []ValidationError {
	var errs []ValidationError
	errs = append(errs, atLeastOne("exec.max_output_bytes", c.Exec.MaxOutputBytes)...)
	if c.Exec.DefaultTimeout < 0 {
		errs = append(errs, ValidationError{Field: "exec.default_timeout", Value: c.Exec.DefaultTimeout, Message: "must be non-negative"})
	}
	return errs
}

func (c *Config) validateLogging() []ValidationError {
	var errs []ValidationError
	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}
	if c.Logging.MaxSizeMB <= 0 {
		errs = append(errs, ValidationError{Field: "logging.max_size_mb", Value: c.Logging.MaxSizeMB, Message: "must be positive"})
	}
	if c.Logging.MaxBackups < 0 {
		errs = append(errs, ValidationError{Field: "logging.max_backups", Value: c.Logging.MaxBackups, Message: "must be non-negative"})
	}
	return errs
}

func (c *Config) validatePaths() []ValidationError {
	var errs []ValidationError
	for field, v := range map[string]string{
		"paths.index_file":   c.Paths.IndexFile,
		"paths.plan_file":    c.Paths.PlanFile,
		"paths.report_file":  c.Paths.ReportFile,
		"paths.log_dir":      c.Paths.LogDir,
		"paths.worktree_dir": c.Paths.WorktreeDir,
	} {
		if strings.TrimSpace(v) == "" {
			errs = append(errs, ValidationError{Field: field, Value: v, Message: "must not be empty"})
		}
	}
	slices.SortFunc(errs, func(a, b ValidationError) int { return strings.Compare(a.Field, b.Field) })
	return errs
}
