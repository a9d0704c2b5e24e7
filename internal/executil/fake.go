package executil

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// Call records one invocation seen by a FakeRunner.
type Call struct {
	Name  string
	Args  []string
	Dir   string
	Env   []string
	Input string
}

// String renders the call as a shell-like line, handy in test failures.
func (c Call) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// HasPrefix reports whether the call is name followed by prefix args.
func (c Call) HasPrefix(name string, prefix ...string) bool {
	return c.Name == name && len(c.Args) >= len(prefix) && slices.Equal(c.Args[:len(prefix)], prefix)
}

type handler struct {
	match   func(Call) bool
	respond func(Call) Result
}

// FakeRunner is a scripted Runner for tests. Handlers registered later take
// precedence over earlier ones. Unmatched calls return exit code 127.
type FakeRunner struct {
	mu       sync.Mutex
	calls    []Call
	handlers []handler
	// Default answers unmatched calls when set.
	Default func(Call) Result
}

// NewFakeRunner returns an empty FakeRunner.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{}
}

var _ Runner = (*FakeRunner)(nil)

// Handle registers a dynamic handler.
func (f *FakeRunner) Handle(match func(Call) bool, respond func(Call) Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = append(f.handlers, handler{match: match, respond: respond})
}

// Script answers calls whose name and leading args match with res.
func (f *FakeRunner) Script(name string, prefix []string, res Result) {
	f.Handle(func(c Call) bool { return c.HasPrefix(name, prefix...) }, func(Call) Result { return res })
}

// Run implements Runner.
func (f *FakeRunner) Run(_ context.Context, name string, args []string, opts Options) Result {
	call := Call{
		Name:  name,
		Args:  append([]string(nil), args...),
		Dir:   opts.Dir,
		Env:   append([]string(nil), opts.Env...),
		Input: string(opts.Input),
	}

	f.mu.Lock()
	f.calls = append(f.calls, call)
	var respond func(Call) Result
	for i := len(f.handlers) - 1; i >= 0; i-- {
		if f.handlers[i].match(call) {
			respond = f.handlers[i].respond
			break
		}
	}
	fallback := f.Default
	f.mu.Unlock()

	switch {
	case respond != nil:
		return respond(call)
	case fallback != nil:
		return fallback(call)
	default:
		return Result{ExitCode: Code(127), Stderr: fmt.Sprintf("missing stub for command %s", call)}
	}
}

// Calls returns a copy of every recorded call.
func (f *FakeRunner) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallsTo returns recorded calls matching name and leading args.
func (f *FakeRunner) CallsTo(name string, prefix ...string) []Call {
	var out []Call
	for _, c := range f.Calls() {
		if c.HasPrefix(name, prefix...) {
			out = append(out, c)
		}
	}
	return out
}

// OK builds a successful Result with the given stdout.
func OK(stdout string) Result {
	return Result{Stdout: stdout, ExitCode: Code(0)}
}

// Fail builds a failed Result.
func Fail(code int, stderr string) Result {
	return Result{Stderr: stderr, ExitCode: Code(code)}
}
