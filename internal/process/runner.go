// Package process runs external programs.
//
// All shelling out goes through a Runner so callers can be tested with a FakeRunner.
package process

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"emperror.dev/errors"
	"github.com/rs/zerolog"

	"github.com/atomic-update/au/pkg/errclass"
	"github.com/atomic-update/au/pkg/logging"
)

// Runner executes external programs.
type Runner interface {
	// Output runs name with args and returns its stdout. Stderr is captured into the error.
	Output(name string, args ...string) ([]byte, error)
	// Stream runs name with args connected to the terminal.
	Stream(name string, args ...string) error
}

// ExitError is returned when a program exits with a non-zero status.
type ExitError struct {
	Command string
	Args    []string
	Code    int
	Stderr  string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s exited with status %d", e.CommandLine(), e.Code)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

// CommandLine returns the command and its arguments joined by spaces.
func (e *ExitError) CommandLine() string {
	return strings.Join(append([]string{e.Command}, e.Args...), " ")
}

// ExitCode returns the exit status carried by err, or -1 if err holds no ExitError.
func ExitCode(err error) int {
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return -1
}

// ExecRunner runs programs with os/exec.
type ExecRunner struct {
	logger zerolog.Logger
	stdout *os.File
	stderr *os.File
}

// NewExecRunner creates a runner streaming to the process's stdout and stderr.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{
		logger: logging.GetLogger("process"),
		stdout: os.Stdout,
		stderr: os.Stderr,
	}
}

// Output implements Runner.
func (r *ExecRunner) Output(name string, args ...string) ([]byte, error) {
	logging.LogCommand(r.logger, name, args)

	var stdout, stderr bytes.Buffer
	cmd := exec.Command(name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return stdout.Bytes(), r.classify(name, args, err, stderr.String())
	}
	return stdout.Bytes(), nil
}

// Stream implements Runner.
func (r *ExecRunner) Stream(name string, args ...string) error {
	logging.LogCommand(r.logger, name, args)

	cmd := exec.Command(name, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = r.stdout
	cmd.Stderr = r.stderr

	if err := cmd.Run(); err != nil {
		return r.classify(name, args, err, "")
	}
	return nil
}

func (r *ExecRunner) classify(name string, args []string, err error, stderr string) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		ee := &ExitError{Command: name, Args: args, Code: exitErr.ExitCode(), Stderr: stderr}
		r.logger.Debug().Int("code", ee.Code).Str("command", name).Msg("command failed")
		return errclass.ErrProcess.Wrap(ee)
	}
	return errclass.ErrProcess.WithMessagef("run %s", name).Wrap(err)
}
