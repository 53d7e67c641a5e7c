package process

import (
	"strings"
	"sync"

	"github.com/atomic-update/au/pkg/errclass"
)

// HandlerFunc scripts the result of a faked command.
type HandlerFunc func(args []string) ([]byte, error)

// Call is one recorded invocation.
type Call struct {
	Name   string
	Args   []string
	Stream bool
}

// String returns the command line of the call.
func (c Call) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// FakeRunner records invocations and returns scripted results.
// Commands with no handler succeed with empty output.
type FakeRunner struct {
	mu       sync.Mutex
	handlers map[string]HandlerFunc
	calls    []Call
}

// NewFakeRunner creates an empty FakeRunner.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{handlers: make(map[string]HandlerFunc)}
}

// Handle registers fn for invocations of name.
func (f *FakeRunner) Handle(name string, fn HandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[name] = fn
}

// Reply makes name return out.
func (f *FakeRunner) Reply(name, out string) {
	f.Handle(name, func([]string) ([]byte, error) { return []byte(out), nil })
}

// Fail makes name exit with code.
func (f *FakeRunner) Fail(name string, code int, stderr string) {
	f.Handle(name, func(args []string) ([]byte, error) {
		return nil, errclass.ErrProcess.Wrap(&ExitError{Command: name, Args: args, Code: code, Stderr: stderr})
	})
}

// Output implements Runner.
func (f *FakeRunner) Output(name string, args ...string) ([]byte, error) {
	return f.run(Call{Name: name, Args: args})
}

// Stream implements Runner.
func (f *FakeRunner) Stream(name string, args ...string) error {
	_, err := f.run(Call{Name: name, Args: args, Stream: true})
	return err
}

func (f *FakeRunner) run(c Call) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	fn := f.handlers[c.Name]
	f.mu.Unlock()

	if fn == nil {
		return nil, nil
	}
	return fn(c.Args)
}

// Calls returns a copy of the recorded invocations.
func (f *FakeRunner) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Commands returns the recorded invocations as command lines.
func (f *FakeRunner) Commands() []string {
	calls := f.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.String()
	}
	return out
}
