// Package update runs a command in a fresh snapshot of the live root and promotes
// the snapshot when the command succeeds.
package update

import (
	"context"
	"path/filepath"
	"time"

	"emperror.dev/errors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/atomic-update/au/internal/audit"
	"github.com/atomic-update/au/internal/lock"
	"github.com/atomic-update/au/internal/sandbox"
	"github.com/atomic-update/au/internal/snapshot"
	"github.com/atomic-update/au/internal/swap"
	"github.com/atomic-update/au/pkg/config"
	"github.com/atomic-update/au/pkg/errclass"
	"github.com/atomic-update/au/pkg/logging"
	"github.com/atomic-update/au/pkg/model"
)

// Request describes the command to run in a new snapshot.
type Request struct {
	// Purpose is recorded in the lock file.
	Purpose string
	Command string
	Args    []string
}

// UpdateRequest builds the package-manager update request from cfg.
func UpdateRequest(cfg *config.Config) (Request, error) {
	if err := cfg.Validate(); err != nil {
		return Request{}, err
	}
	name, args := cfg.UpdateArgs()
	return Request{Purpose: "update", Command: name, Args: args}, nil
}

// InstallRequest builds the package-manager install request for pkgs.
func InstallRequest(cfg *config.Config, pkgs []string) (Request, error) {
	if len(pkgs) == 0 {
		return Request{}, errors.New("no packages given")
	}
	if err := cfg.Validate(); err != nil {
		return Request{}, err
	}
	if cfg.InstallCommand == "" || cfg.InstallCommand == config.Placeholder {
		return Request{}, errclass.ErrConfig.WithMessage("set INSTALL_COMMAND in the configuration file")
	}
	name, args := cfg.InstallArgs(pkgs)
	return Request{Purpose: "install", Command: name, Args: args}, nil
}

// ExecRequest builds a request running an arbitrary command.
func ExecRequest(command string, args []string) Request {
	return Request{Purpose: "exec", Command: command, Args: args}
}

// Outcome reports what Apply did.
type Outcome struct {
	OperationID  string           `json:"operation_id"`
	SnapshotID   model.SnapshotID `json:"snapshot_id"`
	SnapshotPath string           `json:"snapshot_path"`
	Promoted     bool             `json:"promoted"`
	Warnings     []string         `json:"warnings,omitempty"`
}

// Manager runs transactions.
type Manager struct {
	Locks      *lock.Manager
	Wait       time.Duration
	Allocator  *snapshot.Allocator
	Creator    *snapshot.Creator
	Executor   *sandbox.Executor
	Swapper    *swap.Swapper
	Audit      audit.Recorder
	Privileged func() error
	// Pending reports a promotion still waiting for a reboot.
	Pending func() (bool, error)

	logger zerolog.Logger
}

// init fills in defaults. It is called by Apply and Rollback.
func (m *Manager) init() {
	if m.Audit == nil {
		m.Audit = audit.Nop{}
	}
	m.logger = logging.GetLogger("update")
}

// Apply takes the lock, snapshots the live root, runs req inside the snapshot and
// promotes it when the command exits 0. A failed command leaves the snapshot in
// place un-promoted.
func (m *Manager) Apply(ctx context.Context, req Request) (*Outcome, error) {
	m.init()
	if err := m.checkPrivilege(); err != nil {
		return nil, err
	}

	l, err := m.Locks.AcquireWait(ctx, req.Purpose, m.Wait)
	if err != nil {
		return nil, err
	}
	defer m.release(l)

	if err := m.checkPending(); err != nil {
		return nil, err
	}

	out := &Outcome{OperationID: uuid.NewString()}
	logger := m.logger.With().Str("operation_id", out.OperationID).Logger()

	out.SnapshotPath, err = m.Allocator.NextPath()
	if err != nil {
		return nil, err
	}
	out.SnapshotID, _ = model.ParseSnapshotID(filepath.Base(out.SnapshotPath))

	if err := m.Creator.Create(out.SnapshotPath); err != nil {
		return out, errors.WithDetails(err, "snapshot", out.SnapshotPath)
	}
	m.record(logger, model.EventTypeSnapshotCreate, out, map[string]any{"path": out.SnapshotPath})
	logger.Info().Str("path", out.SnapshotPath).Msg("snapshot created")

	res, runErr := m.Executor.Run(out.SnapshotPath, req.Command, req.Args...)
	for _, w := range res.Warnings() {
		out.Warnings = append(out.Warnings, w.Step+": "+w.Err.Error())
	}
	details := map[string]any{"command": req.Command, "args": req.Args, "ok": runErr == nil}
	m.record(logger, model.EventTypeSandboxRun, out, details)
	if runErr != nil {
		return out, runErr
	}

	if err := m.Swapper.PromoteAs(out.OperationID, out.SnapshotPath); err != nil {
		return out, err
	}
	out.Promoted = true
	return out, nil
}

// Rollback takes the lock and restores the rollback subvolume as root.
func (m *Manager) Rollback(ctx context.Context) (string, error) {
	m.init()
	if err := m.checkPrivilege(); err != nil {
		return "", err
	}

	l, err := m.Locks.AcquireWait(ctx, "rollback", m.Wait)
	if err != nil {
		return "", err
	}
	defer m.release(l)

	opID := uuid.NewString()
	return opID, m.Swapper.RollbackAs(opID)
}

func (m *Manager) checkPrivilege() error {
	if m.Privileged == nil {
		return nil
	}
	return m.Privileged()
}

// checkPending refuses to stack a second promotion on a root that is not running
// yet. Rollback is still allowed, it undoes the pending promotion.
func (m *Manager) checkPending() error {
	if m.Pending == nil {
		return nil
	}
	pending, err := m.Pending()
	if err != nil {
		m.logger.Warn().Err(err).Msg("could not tell whether a promotion is pending")
		return nil
	}
	if pending {
		return errclass.ErrRebootPending.WithMessage("a promoted root is waiting for a reboot, reboot first or run rollback")
	}
	return nil
}

func (m *Manager) release(l *lock.Lock) {
	if err := l.Release(); err != nil {
		m.logger.Warn().Err(err).Msg("could not release lock")
	}
}

func (m *Manager) record(logger zerolog.Logger, eventType model.AuditEventType, out *Outcome, details map[string]any) {
	if err := m.Audit.Append(eventType, out.OperationID, out.SnapshotID, details); err != nil {
		logger.Warn().Err(err).Msg("could not write audit record")
	}
}
