// Package sandbox runs commands inside a snapshot with chroot.
package sandbox

import (
	"bytes"
	"os"
	"path/filepath"

	"emperror.dev/errors"
	"github.com/rs/zerolog"

	"github.com/atomic-update/au/internal/process"
	"github.com/atomic-update/au/pkg/fsutil"
	"github.com/atomic-update/au/pkg/logging"
)

// Status is the outcome of one sandbox step.
type Status int

const (
	OK Status = iota
	Warning
	Fatal
)

func (s Status) String() string {
	switch s {
	case OK:
		return "ok"
	case Warning:
		return "warning"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// StepResult reports a single step.
type StepResult struct {
	Step   string
	Status Status
	Err    error
}

// Result collects the steps of a sandbox run.
type Result struct {
	Snapshot string
	Steps    []StepResult
}

// Warnings returns the steps that completed with a warning.
func (r *Result) Warnings() []StepResult {
	var out []StepResult
	for _, s := range r.Steps {
		if s.Status == Warning {
			out = append(out, s)
		}
	}
	return out
}

// OK reports whether no step was fatal.
func (r *Result) OK() bool {
	for _, s := range r.Steps {
		if s.Status == Fatal {
			return false
		}
	}
	return true
}

const (
	StepDNS        = "dns"
	StepCommand    = "command"
	StepDNSRestore = "dns_restore"
)

// Executor prepares snapshots and runs commands in them.
type Executor struct {
	runner     process.Runner
	hostResolv string
	logger     zerolog.Logger
}

// NewExecutor creates an Executor copying hostResolv into snapshots.
func NewExecutor(r process.Runner, hostResolv string) *Executor {
	return &Executor{
		runner:     r,
		hostResolv: hostResolv,
		logger:     logging.GetLogger("sandbox"),
	}
}

// PrepareDNS replaces <snapshot>/etc/resolv.conf with the host's copy. The
// returned function puts the snapshot's own entry back; it is nil when nothing
// was replaced. Failure yields a Warning; it never aborts the run.
func (e *Executor) PrepareDNS(snapshot string) (StepResult, func() StepResult) {
	dst := filepath.Join(snapshot, "etc", "resolv.conf")
	logger := e.logger.With().Str("path", dst).Logger()

	saved, err := fsutil.SaveEntry(dst)
	if err != nil {
		logger.Warn().Err(err).Msg("could not copy DNS configuration into snapshot")
		return StepResult{Step: StepDNS, Status: Warning, Err: err}, nil
	}
	if err := fsutil.ReplaceFile(e.hostResolv, dst); err != nil {
		logger.Warn().Err(err).Msg("could not copy DNS configuration into snapshot")
		if rerr := saved.Restore(); rerr != nil {
			logger.Warn().Err(rerr).Msg("could not restore DNS configuration")
		}
		return StepResult{Step: StepDNS, Status: Warning, Err: err}, nil
	}
	written, _ := os.ReadFile(dst)

	restore := func() StepResult {
		// Leave it alone if the command installed its own.
		if info, err := os.Lstat(dst); err == nil {
			cur, _ := os.ReadFile(dst)
			if !info.Mode().IsRegular() || !bytes.Equal(cur, written) {
				logger.Debug().Msg("DNS configuration changed by the command, keeping it")
				return StepResult{Step: StepDNSRestore, Status: OK}
			}
		}
		if err := saved.Restore(); err != nil {
			logger.Warn().Err(err).Msg("could not restore DNS configuration")
			return StepResult{Step: StepDNSRestore, Status: Warning, Err: err}
		}
		return StepResult{Step: StepDNSRestore, Status: OK}
	}
	return StepResult{Step: StepDNS, Status: OK}, restore
}

// Run prepares snapshot and runs command with snapshot as its root. Output is
// streamed to the terminal. Only exit status 0 is success; the snapshot is left
// in place either way, with its own DNS configuration restored.
func (e *Executor) Run(snapshot, command string, args ...string) (*Result, error) {
	res := &Result{Snapshot: snapshot}
	dns, restore := e.PrepareDNS(snapshot)
	res.Steps = append(res.Steps, dns)

	e.logger.Info().Str("snapshot", snapshot).Str("command", command).Strs("args", args).Msg("running command in snapshot")
	chrootArgs := append([]string{snapshot, command}, args...)
	runErr := e.runner.Stream("chroot", chrootArgs...)
	if runErr != nil {
		res.Steps = append(res.Steps, StepResult{Step: StepCommand, Status: Fatal, Err: runErr})
	} else {
		res.Steps = append(res.Steps, StepResult{Step: StepCommand, Status: OK})
	}

	if restore != nil {
		res.Steps = append(res.Steps, restore())
	}
	if runErr != nil {
		return res, errors.WithDetails(runErr, "snapshot", snapshot)
	}
	return res, nil
}
