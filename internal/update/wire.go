package update

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/atomic-update/au/internal/audit"
	"github.com/atomic-update/au/internal/btrfs"
	"github.com/atomic-update/au/internal/lock"
	"github.com/atomic-update/au/internal/privilege"
	"github.com/atomic-update/au/internal/process"
	"github.com/atomic-update/au/internal/sandbox"
	"github.com/atomic-update/au/internal/snapshot"
	"github.com/atomic-update/au/internal/swap"
	"github.com/atomic-update/au/pkg/config"
)

// System bundles the components built from a configuration.
type System struct {
	Config    *config.Config
	Runner    process.Runner
	Tool      *btrfs.Tool
	Inspector *btrfs.Inspector
	Locks     *lock.Manager
	Audit     *audit.FileAppender
	Swapper   *swap.Swapper
	Allocator *snapshot.Allocator
}

// NewSystem builds the components for cfg on top of r.
func NewSystem(cfg *config.Config, r process.Runner) (*System, error) {
	tool := btrfs.NewTool(r)
	insp := btrfs.NewInspector(tool, cfg.RootSubvolume, cfg.RootPartition).WithLiveRoot(cfg.LiveRoot)
	appender := audit.NewFileAppender(cfg.AuditPath)

	auditRel, err := filepath.Rel(cfg.LiveRoot, cfg.AuditPath)
	if err != nil || strings.HasPrefix(auditRel, "..") {
		auditRel = ""
	}

	sw, err := swap.New(insp, tool, swap.Options{
		LiveRoot:    cfg.LiveRoot,
		SnapshotDir: cfg.SnapshotDir,
		MountPoint:  cfg.MountPoint,
		JournalPath: cfg.JournalPath,
		Audit:       appender,
		AuditPath:   cfg.AuditPath,
		AuditRel:    auditRel,
	})
	if err != nil {
		return nil, err
	}

	return &System{
		Config:    cfg,
		Runner:    r,
		Tool:      tool,
		Inspector: insp,
		Locks:     lock.NewManager(cfg.LockPath),
		Audit:     appender,
		Swapper:   sw,
		Allocator: snapshot.NewAllocator(cfg.SnapshotDir, privilege.Check(r)),
	}, nil
}

// Manager returns a transaction manager waiting up to wait for the lock.
func (s *System) Manager(wait time.Duration) *Manager {
	return &Manager{
		Locks:      s.Locks,
		Wait:       wait,
		Allocator:  s.Allocator,
		Creator:    snapshot.NewCreator(s.Tool, s.Config.LiveRoot),
		Executor:   sandbox.NewExecutor(s.Runner, s.Config.HostResolv),
		Swapper:    s.Swapper,
		Audit:      s.Audit,
		Privileged: privilege.Check(s.Runner),
		Pending:    s.Inspector.PendingPromotion,
	}
}
