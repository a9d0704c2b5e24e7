// Package executil runs external commands and reports their outcome as a
// value. Run never returns an error: spawn failures, non-zero exits,
// timeouts, and signals are all folded into a Result.
package executil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// DefaultMaxOutput caps captured stdout and stderr independently.
const DefaultMaxOutput = 10 * 1024 * 1024

// Options controls a single command invocation.
type Options struct {
	// Dir is the working directory. Empty means the current directory.
	Dir string
	// Env entries (KEY=VALUE) are appended to the parent environment.
	Env []string
	// Input is written to stdin. When nil, stdin is closed immediately so
	// commands that read stdin cannot block.
	Input []byte
	// Timeout kills the command once exceeded. Zero means no timeout.
	Timeout time.Duration
	// MaxOutput caps captured bytes per stream. Zero uses the runner default.
	MaxOutput int
}

// Result is the outcome of a command.
type Result struct {
	Stdout string
	Stderr string
	// ExitCode is nil when the process did not exit normally (signal,
	// timeout, cancellation).
	ExitCode  *int
	TimedOut  bool
	Truncated bool
	Duration  time.Duration
}

// Code returns the exit code, or -1 for abnormal termination.
func (r Result) Code() int {
	if r.ExitCode == nil {
		return -1
	}
	return *r.ExitCode
}

// OK reports whether the command exited with status zero.
func (r Result) OK() bool {
	return r.ExitCode != nil && *r.ExitCode == 0
}

// Err converts a failed result into an error carrying stderr (or stdout
// when stderr is empty). It returns nil for successful results.
func (r Result) Err() error {
	if r.OK() {
		return nil
	}
	msg := strings.TrimSpace(r.Stderr)
	if msg == "" {
		msg = strings.TrimSpace(r.Stdout)
	}
	if r.ExitCode == nil {
		return fmt.Errorf("command terminated abnormally: %s", msg)
	}
	return fmt.Errorf("exit status %d: %s", *r.ExitCode, msg)
}

// Combined returns stdout followed by stderr.
func (r Result) Combined() string {
	if r.Stderr == "" {
		return r.Stdout
	}
	if r.Stdout == "" {
		return r.Stderr
	}
	return r.Stdout + "\n" + r.Stderr
}

// Code returns a pointer to n, for building Results.
func Code(n int) *int { return &n }

// Runner executes external commands.
type Runner interface {
	Run(ctx context.Context, name string, args []string, opts Options) Result
}

// Exec is the os/exec backed Runner.
type Exec struct {
	// MaxOutput is used when Options.MaxOutput is zero.
	MaxOutput int
	// WaitDelay bounds how long Run waits for I/O after the process is killed.
	WaitDelay time.Duration
}

// New returns an Exec with the default output cap.
func New() *Exec {
	return &Exec{MaxOutput: DefaultMaxOutput, WaitDelay: 2 * time.Second}
}

var _ Runner = (*Exec)(nil)

// Run implements Runner.
func (e *Exec) Run(ctx context.Context, name string, args []string, opts Options) Result {
	start := time.Now()

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	limit := opts.MaxOutput
	if limit <= 0 {
		limit = e.MaxOutput
	}
	if limit <= 0 {
		limit = DefaultMaxOutput
	}
	stdout := &cappedBuffer{limit: limit}
	stderr := &cappedBuffer{limit: limit}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = opts.Dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if opts.Input != nil {
		cmd.Stdin = bytes.NewReader(opts.Input)
	}
	if len(opts.Env) > 0 {
		cmd.Env = append(os.Environ(), opts.Env...)
	}
	killProcessGroup(cmd)
	cmd.WaitDelay = e.WaitDelay

	err := cmd.Run()

	res := Result{
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Truncated: stdout.truncated || stderr.truncated,
		Duration:  time.Since(start),
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		res.ExitCode = Code(0)
	case opts.Timeout > 0 && errors.Is(ctx.Err(), context.DeadlineExceeded):
		res.TimedOut = true
		res.Stderr = appendLine(res.Stderr, fmt.Sprintf("command timed out after %s", opts.Timeout))
	case ctx.Err() != nil:
		res.Stderr = appendLine(res.Stderr, ctx.Err().Error())
	case errors.As(err, &exitErr):
		if code := exitErr.ExitCode(); code >= 0 {
			res.ExitCode = Code(code)
		}
	default:
		// Spawn failure such as a missing binary.
		res.ExitCode = Code(1)
		res.Stderr = appendLine(res.Stderr, err.Error())
	}

	if res.Truncated {
		res.Stderr = appendLine(res.Stderr, fmt.Sprintf("output exceeded %d bytes and was truncated", limit))
		if res.OK() {
			res.ExitCode = Code(1)
		}
	}
	return res
}

func appendLine(s, line string) string {
	if s == "" || strings.HasSuffix(s, "\n") {
		return s + line
	}
	return s + "\n" + line
}

// cappedBuffer keeps the first limit bytes written and silently drops the
// rest so the child never blocks on a full pipe.
type cappedBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if room := b.limit - b.buf.Len(); room < len(p) {
		if room > 0 {
			b.buf.Write(p[:room])
		}
		b.truncated = true
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *cappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
