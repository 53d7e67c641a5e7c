// Package doctor checks the health of an atomic-update installation.
package doctor

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"emperror.dev/errors"
	"github.com/prometheus/procfs"

	"github.com/atomic-update/au/internal/audit"
	"github.com/atomic-update/au/internal/btrfs"
	"github.com/atomic-update/au/internal/lock"
	"github.com/atomic-update/au/internal/privilege"
	"github.com/atomic-update/au/internal/process"
	"github.com/atomic-update/au/internal/snapshot"
	"github.com/atomic-update/au/internal/swap"
	"github.com/atomic-update/au/pkg/config"
	"github.com/atomic-update/au/pkg/model"
)

const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

const tmpPrefix = ".au-tmp-"

// Finding represents a detected issue.
type Finding struct {
	Category    string `json:"category"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
	Path        string `json:"path,omitempty"`
	Repair      string `json:"repair,omitempty"`
}

// Result contains doctor check results.
type Result struct {
	Healthy  bool      `json:"healthy"`
	Findings []Finding `json:"findings"`
}

func (r *Result) add(f Finding) {
	r.Findings = append(r.Findings, f)
	if f.Severity == SeverityError || f.Severity == SeverityCritical {
		r.Healthy = false
	}
}

// RepairAction is an automatic fix.
type RepairAction struct {
	ID          string `json:"id"`
	Description string `json:"description"`
}

// RepairResult reports one repair.
type RepairResult struct {
	Action  string `json:"action"`
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Doctor performs installation health checks.
type Doctor struct {
	cfg    *config.Config
	cfgErr error
	runner process.Runner
	tool   *btrfs.Tool
	insp   *btrfs.Inspector
	infos  btrfs.MountInfoFunc
}

// NewDoctor creates a doctor. cfgErr is the error from loading the configuration,
// in which case cfg should hold the defaults.
func NewDoctor(cfg *config.Config, cfgErr error, r process.Runner) *Doctor {
	tool := btrfs.NewTool(r)
	return &Doctor{
		cfg:    cfg,
		cfgErr: cfgErr,
		runner: r,
		tool:   tool,
		insp:   btrfs.NewInspector(tool, cfg.RootSubvolume, cfg.RootPartition).WithLiveRoot(cfg.LiveRoot),
		infos:  procfs.GetMounts,
	}
}

// WithMounts replaces the mount table source.
func (d *Doctor) WithMounts(fn btrfs.MountsFunc) *Doctor {
	d.insp.WithMounts(fn)
	return d
}

// WithMountInfo replaces the mountinfo source.
func (d *Doctor) WithMountInfo(fn btrfs.MountInfoFunc) *Doctor {
	d.infos = fn
	d.insp.WithMountInfo(fn)
	return d
}

// Check runs all diagnostic checks.
func (d *Doctor) Check() *Result {
	result := &Result{Healthy: true}

	d.checkSuperuser(result)
	d.checkConfig(result)
	d.checkDiscovery(result)
	d.checkScratchMount(result)
	d.checkJournal(result)
	d.checkLock(result)
	d.checkAudit(result)
	d.checkOrphanTmp(result)
	d.checkRollback(result)

	return result
}

func (d *Doctor) checkSuperuser(result *Result) {
	ok, err := privilege.IsSuperuser(d.runner)
	if err != nil || !ok {
		result.add(Finding{
			Category:    "privilege",
			Description: "not running as root; some checks may be incomplete and mutating commands will fail",
			Severity:    SeverityWarning,
		})
	}
}

func (d *Doctor) checkConfig(result *Result) {
	if d.cfgErr != nil {
		result.add(Finding{
			Category:    "config",
			Description: d.cfgErr.Error(),
			Severity:    SeverityCritical,
			Repair:      "au init",
		})
		return
	}
	if err := d.cfg.Validate(); err != nil {
		result.add(Finding{
			Category:    "config",
			Description: err.Error(),
			Severity:    SeverityError,
		})
	}
}

func (d *Doctor) checkDiscovery(result *Result) {
	if _, err := d.insp.RootSubvolume(); err != nil {
		result.add(Finding{Category: "discovery", Description: err.Error(), Severity: SeverityCritical})
	}
	if _, err := d.insp.RootDevice(); err != nil {
		result.add(Finding{Category: "discovery", Description: err.Error(), Severity: SeverityCritical})
	}
}

// leftoverMount returns the top-level btrfs mount a swap left at the scratch
// mount point. Other mounts there belong to someone else.
func (d *Doctor) leftoverMount() (*procfs.MountInfo, bool) {
	infos, err := d.infos()
	if err != nil {
		return nil, false
	}
	mi, ok := btrfs.MountInfoAt(infos, d.cfg.MountPoint)
	if !ok || mi.FSType != "btrfs" {
		return nil, false
	}
	if id, ok := btrfs.SubvolID(mi); !ok || id != btrfs.TopLevelSubvolID {
		return nil, false
	}
	return mi, true
}

func (d *Doctor) checkScratchMount(result *Result) {
	if mi, ok := d.leftoverMount(); ok {
		result.add(Finding{
			Category:    "mount",
			Description: fmt.Sprintf("%s is still mounted on %s from an earlier swap", mi.Source, d.cfg.MountPoint),
			Severity:    SeverityWarning,
			Path:        d.cfg.MountPoint,
			Repair:      "unmount",
		})
	}
}

func (d *Doctor) checkJournal(result *Result) {
	rec, err := swap.NewJournal(d.cfg.JournalPath).Read()
	if err != nil {
		result.add(Finding{Category: "journal", Description: err.Error(), Severity: SeverityError, Path: d.cfg.JournalPath})
		return
	}
	if rec == nil {
		return
	}
	result.add(Finding{
		Category: "journal",
		Description: fmt.Sprintf("interrupted %s (%s) left in state %s; to restore run: %s",
			rec.Operation, rec.OperationID, rec.State, strings.Join(swap.ManualSteps(rec), "; ")),
		Severity: SeverityCritical,
		Path:     d.cfg.JournalPath,
	})
}

func (d *Doctor) checkLock(result *Result) {
	state, rec, err := lock.NewManager(d.cfg.LockPath).Status()
	if err != nil || rec == nil {
		return
	}
	switch state {
	case model.LockStateStale:
		result.add(Finding{
			Category:    "lock",
			Description: fmt.Sprintf("stale lock from pid %d (%s since %s)", rec.PID, rec.Purpose, rec.AcquiredAt.Format(time.RFC3339)),
			Severity:    SeverityInfo,
			Path:        d.cfg.LockPath,
		})
	case model.LockStateHeld:
		result.add(Finding{
			Category:    "lock",
			Description: fmt.Sprintf("lock held by pid %d (%s)", rec.PID, rec.Purpose),
			Severity:    SeverityInfo,
			Path:        d.cfg.LockPath,
		})
	}
}

func (d *Doctor) checkAudit(result *Result) {
	idx, err := audit.NewFileAppender(d.cfg.AuditPath).Verify()
	if err != nil {
		result.add(Finding{Category: "audit", Description: err.Error(), Severity: SeverityWarning, Path: d.cfg.AuditPath})
		return
	}
	if idx >= 0 {
		result.add(Finding{
			Category:    "audit",
			Description: fmt.Sprintf("audit hash chain broken at record %d", idx+1),
			Severity:    SeverityError,
			Path:        d.cfg.AuditPath,
		})
	}
}

func (d *Doctor) checkOrphanTmp(result *Result) {
	for _, p := range d.orphanTmp() {
		result.add(Finding{
			Category:    "tmp",
			Description: fmt.Sprintf("orphan temp file: %s", filepath.Base(p)),
			Severity:    SeverityInfo,
			Path:        p,
			Repair:      "clean_tmp",
		})
	}
}

func (d *Doctor) checkRollback(result *Result) {
	pending, err := d.insp.PendingPromotion()
	if err == nil && pending {
		result.add(Finding{
			Category:    "rollback",
			Description: "a promoted root is waiting for a reboot, rollback is available",
			Severity:    SeverityInfo,
		})
		return
	}
	if !snapshot.HasRollback(d.cfg.SnapshotDir) {
		result.add(Finding{
			Category:    "rollback",
			Description: "no rollback target available",
			Severity:    SeverityInfo,
		})
	}
}

// orphanTmp lists leftover temp files from interrupted atomic writes.
func (d *Doctor) orphanTmp() []string {
	dirs := []string{
		d.cfg.SnapshotDir,
		filepath.Dir(d.cfg.JournalPath),
		filepath.Dir(d.cfg.AuditPath),
	}
	var out []string
	for _, dir := range dirs {
		matches, _ := filepath.Glob(filepath.Join(dir, tmpPrefix+"*"))
		out = append(out, matches...)
	}
	return out
}

// ListRepairActions returns the available automatic repairs.
func (d *Doctor) ListRepairActions() []RepairAction {
	return []RepairAction{
		{ID: "clean_tmp", Description: "Remove orphan temp files left by interrupted writes"},
		{ID: "unmount", Description: "Unmount the scratch mount point left by an interrupted swap"},
	}
}

// Repair runs the named repairs.
func (d *Doctor) Repair(actions []string) ([]RepairResult, error) {
	var results []RepairResult
	for _, action := range actions {
		switch action {
		case "clean_tmp":
			removed := 0
			for _, p := range d.orphanTmp() {
				if err := os.Remove(p); err == nil {
					removed++
				}
			}
			results = append(results, RepairResult{Action: action, Success: true, Message: fmt.Sprintf("removed %d temp files", removed)})
		case "unmount":
			if _, ok := d.leftoverMount(); !ok {
				results = append(results, RepairResult{Action: action, Success: false,
					Message: d.cfg.MountPoint + " is not a top-level btrfs mount, leaving it alone"})
				continue
			}
			if err := d.tool.Unmount(d.cfg.MountPoint); err != nil {
				results = append(results, RepairResult{Action: action, Success: false, Message: err.Error()})
				continue
			}
			results = append(results, RepairResult{Action: action, Success: true, Message: "unmounted " + d.cfg.MountPoint})
		default:
			return results, errors.Errorf("unknown repair action: %s", action)
		}
	}
	return results, nil
}
