// Package swap exchanges the live root subvolume with a prepared snapshot and back.
//
// Promotion and rollback are each a short sequence of renames performed on the
// volume's top-level subvolume mounted at a scratch directory. Every rename has a
// reverse rename; when a step fails the completed steps are undone in reverse
// order. Progress is journaled so an interrupted swap can be repaired by hand.
package swap

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"emperror.dev/errors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/atomic-update/au/internal/audit"
	"github.com/atomic-update/au/internal/snapshot"
	"github.com/atomic-update/au/pkg/errclass"
	"github.com/atomic-update/au/pkg/fsutil"
	"github.com/atomic-update/au/pkg/logging"
	"github.com/atomic-update/au/pkg/model"
)

// StagingName is the top-level entry used while the roots are exchanged.
const StagingName = "rollback"

// Resolver finds the live root subvolume and its device.
type Resolver interface {
	RootSubvolume() (string, error)
	RootDevice() (string, error)
}

// Mounter mounts and unmounts the volume's top level.
type Mounter interface {
	MountTopLevel(device, mountPoint string) error
	Unmount(mountPoint string) error
}

// Options configures a Swapper.
type Options struct {
	// LiveRoot is the running system's root, normally "/".
	LiveRoot string
	// SnapshotDir is the snapshot root as seen from the running system.
	SnapshotDir string
	// MountPoint is the scratch directory the top level is mounted on.
	MountPoint  string
	JournalPath string

	// Rename defaults to fsutil.RenameAndSync.
	Rename func(oldpath, newpath string) error
	Audit  audit.Recorder
	Now    func() time.Time

	// AuditPath is the live audit log. After a swap it is copied to AuditRel
	// inside the new root subvolume so the next boot sees the whole history.
	AuditPath string
	AuditRel  string
}

// Swapper performs promotions and rollbacks.
type Swapper struct {
	resolver Resolver
	mounter  Mounter
	opts     Options
	snapRel  string
	journal  *Journal
	logger   zerolog.Logger
}

// New creates a Swapper. SnapshotDir must lie inside LiveRoot.
func New(resolver Resolver, mounter Mounter, opts Options) (*Swapper, error) {
	if opts.LiveRoot == "" {
		opts.LiveRoot = "/"
	}
	if opts.JournalPath == "" {
		opts.JournalPath = DefaultJournalPath
	}
	if opts.Rename == nil {
		opts.Rename = fsutil.RenameAndSync
	}
	if opts.Audit == nil {
		opts.Audit = audit.Nop{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MountPoint == "" {
		return nil, errclass.ErrConfig.WithMessage("mount point is empty")
	}

	rel, err := relativeTo(opts.LiveRoot, opts.SnapshotDir)
	if err != nil {
		return nil, err
	}

	return &Swapper{
		resolver: resolver,
		mounter:  mounter,
		opts:     opts,
		snapRel:  rel,
		journal:  NewJournal(opts.JournalPath),
		logger:   logging.GetLogger("swap"),
	}, nil
}

// Journal returns the swap journal.
func (s *Swapper) Journal() *Journal {
	return s.journal
}

// Promote makes snapshotPath the root subvolume and nests the current root as
// the rollback subvolume of the new one.
func (s *Swapper) Promote(snapshotPath string) error {
	return s.PromoteAs(uuid.NewString(), snapshotPath)
}

// PromoteAs is Promote with a caller-chosen operation ID.
func (s *Swapper) PromoteAs(opID, snapshotPath string) error {
	rel, err := relativeTo(s.opts.LiveRoot, snapshotPath)
	if err != nil {
		return err
	}
	if _, err := os.Stat(snapshotPath); err != nil {
		return errclass.ErrSwapFailed.WithMessagef("snapshot %s not found", snapshotPath).Wrap(err)
	}
	id, _ := model.ParseSnapshotID(filepath.Base(snapshotPath))

	p := &plan{op: model.OperationPromote, opID: opID, snapshotID: id}
	if err := s.resolve(p); err != nil {
		return err
	}

	mnt := s.opts.MountPoint
	staging := filepath.Join(mnt, StagingName)
	current := filepath.Join(mnt, p.root)

	p.prepare = func() error {
		if !fsutil.Exists(current) {
			return errclass.ErrSwapFailed.WithMessagef("root subvolume %s not found on the top level", current)
		}
		if fsutil.Exists(staging) {
			return errclass.ErrSwapFailed.WithMessagef("%s already exists, remove it before promoting", staging)
		}
		p.moves = []model.Move{
			{State: model.StateRootDisplaced, From: current, To: staging},
			{State: model.StateNewRootPromoted, From: filepath.Join(staging, rel), To: current},
			{State: model.StateOldRootNested, From: staging, To: filepath.Join(current, s.snapRel, StagingName)},
		}
		return nil
	}
	p.finish = func() {
		rec := &model.PromotionRecord{
			OperationID:   opID,
			SnapshotID:    id,
			PromotedAt:    s.opts.Now().UTC(),
			Device:        p.device,
			RootSubvolume: p.root,
		}
		if err := WriteRecord(filepath.Join(current, s.snapRel), rec); err != nil {
			s.logger.Warn().Err(err).Msg("could not write promotion record")
		}
	}

	return s.execute(p)
}

// Rollback restores the rollback subvolume as root and puts the current root
// back into the snapshot slot it was promoted from.
func (s *Swapper) Rollback() error {
	return s.RollbackAs(uuid.NewString())
}

// RollbackAs is Rollback with a caller-chosen operation ID.
//
// The rollback target is looked up on the mounted top level rather than under
// the running root, which stays pinned to the old subvolume until reboot.
func (s *Swapper) RollbackAs(opID string) error {
	p := &plan{op: model.OperationRollback, opID: opID}
	if err := s.resolve(p); err != nil {
		return err
	}

	mnt := s.opts.MountPoint
	staging := filepath.Join(mnt, StagingName)
	current := filepath.Join(mnt, p.root)
	nested := filepath.Join(current, s.snapRel, StagingName)

	p.prepare = func() error {
		if !fsutil.Exists(nested) {
			return errclass.ErrNoRollback.WithMessagef("no rollback target at %s", nested)
		}
		if fsutil.Exists(staging) {
			return errclass.ErrSwapFailed.WithMessagef("%s already exists, remove it before rolling back", staging)
		}
		id, err := s.stashSlot(filepath.Join(current, s.snapRel), filepath.Join(nested, s.snapRel))
		if err != nil {
			return err
		}
		p.snapshotID = id
		p.moves = []model.Move{
			{State: model.StateRollbackExtracted, From: nested, To: staging},
			{State: model.StateCurrentRootStashed, From: current, To: filepath.Join(staging, s.snapRel, id.String())},
			{State: model.StatePreviousRootRestored, From: staging, To: current},
		}
		return nil
	}
	p.finish = func() {
		stashed := filepath.Join(current, s.snapRel, p.snapshotID.String(), s.snapRel)
		if err := RemoveRecord(stashed); err != nil {
			s.logger.Warn().Err(err).Msg("could not remove stale promotion record")
		}
	}

	return s.execute(p)
}

// stashSlot picks the ID under which the current root is put back. The promotion
// record names the slot it came from; otherwise the next free ID is used.
func (s *Swapper) stashSlot(currentSnapDir, previousSnapDir string) (model.SnapshotID, error) {
	rec, err := ReadRecord(currentSnapDir)
	if err != nil {
		s.logger.Warn().Err(err).Msg("ignoring unreadable promotion record")
	}
	if rec != nil && rec.SnapshotID > 0 && !fsutil.Exists(filepath.Join(previousSnapDir, rec.SnapshotID.String())) {
		return rec.SnapshotID, nil
	}
	id, err := snapshot.NextID(previousSnapDir)
	if err != nil {
		return 0, errclass.ErrSwapFailed.WithMessage("could not allocate a slot for the current root").Wrap(err)
	}
	return id, nil
}

type plan struct {
	op         model.Operation
	opID       string
	snapshotID model.SnapshotID
	root       string
	device     string
	moves      []model.Move
	prepare    func() error
	finish     func()
}

// resolve looks up the root subvolume and device. Never cached.
func (s *Swapper) resolve(p *plan) error {
	root, err := s.resolver.RootSubvolume()
	if err != nil {
		return err
	}
	dev, err := s.resolver.RootDevice()
	if err != nil {
		return err
	}
	p.root, p.device = root, dev
	return nil
}

func (s *Swapper) execute(p *plan) error {
	logger := s.logger.With().Str("operation", string(p.op)).Str("operation_id", p.opID).Logger()
	now := s.opts.Now().UTC()
	rec := &model.JournalRecord{
		OperationID:   p.opID,
		Operation:     p.op,
		Device:        p.device,
		RootSubvolume: p.root,
		MountPoint:    s.opts.MountPoint,
		State:         model.StateIdle,
		StartedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.journal.Write(rec); err != nil {
		return errclass.ErrSwapFailed.WithMessage("could not write swap journal").Wrap(err)
	}

	if err := s.mounter.MountTopLevel(p.device, s.opts.MountPoint); err != nil {
		s.clearJournal(logger)
		return errclass.ErrSwapFailed.WithMessagef("failed mounting %s to %s", p.device, s.opts.MountPoint).Wrap(err)
	}
	defer s.unmount(logger)
	s.transition(logger, rec, model.StateMounted)

	if err := p.prepare(); err != nil {
		s.clearJournal(logger)
		return err
	}

	for i, m := range p.moves {
		rec.Pending = p.moves[i:]
		s.writeJournal(logger, rec)

		logger.Debug().Str("from", m.From).Str("to", m.To).Msg("rename")
		if err := s.opts.Rename(m.From, m.To); err != nil {
			cause := errors.Wrapf(err, "%s: rename %s to %s", m.State, m.From, m.To)
			return s.compensate(logger, p, rec, cause)
		}
		rec.Completed = append(rec.Completed, m)
		rec.Pending = p.moves[i+1:]
		s.transition(logger, rec, m.State)
	}

	if p.finish != nil {
		p.finish()
	}
	s.clearJournal(logger)

	eventType := model.EventTypePromote
	if p.op == model.OperationRollback {
		eventType = model.EventTypeRollback
	}
	s.record(logger, eventType, p, map[string]any{"device": p.device, "root_subvolume": p.root})
	s.carryAuditLog(logger, filepath.Join(s.opts.MountPoint, p.root))
	logger.Info().Stringer("snapshot_id", p.snapshotID).Msg("swap complete, reboot to use the new root")
	return nil
}

// compensate undoes the completed moves in reverse order.
func (s *Swapper) compensate(logger zerolog.Logger, p *plan, rec *model.JournalRecord, cause error) error {
	logger.Error().Err(cause).Int("completed", len(rec.Completed)).Msg("swap step failed, compensating")
	s.transition(logger, rec, model.StateCompensating)
	s.record(logger, model.EventTypeCompensate, p, map[string]any{"cause": cause.Error(), "state": string(rec.State)})

	for i := len(rec.Completed) - 1; i >= 0; i-- {
		r := rec.Completed[i].Reverse()
		if err := s.opts.Rename(r.From, r.To); err != nil {
			s.transition(logger, rec, model.StateInconsistent)
			steps := ManualSteps(rec)
			logger.Error().Err(err).Strs("manual_steps", steps).Str("journal", s.journal.Path()).Msg("compensation failed")
			return errclass.ErrSwapInconsistent.
				WithMessagef("volume left inconsistent, restore manually: %s", strings.Join(steps, "; ")).
				Wrap(errors.Combine(cause, errors.Wrapf(err, "compensate %s", rec.Completed[i].State)))
		}
		rec.Completed = rec.Completed[:i]
		s.writeJournal(logger, rec)
	}

	s.clearJournal(logger)
	return errclass.ErrSwapFailed.WithMessagef("%s failed, previous state restored", p.op).Wrap(cause)
}

func (s *Swapper) transition(logger zerolog.Logger, rec *model.JournalRecord, state model.SwapState) {
	rec.State = state
	logger.Info().Str("state", string(state)).Msg("swap state")
	s.writeJournal(logger, rec)
}

func (s *Swapper) writeJournal(logger zerolog.Logger, rec *model.JournalRecord) {
	rec.UpdatedAt = s.opts.Now().UTC()
	if err := s.journal.Write(rec); err != nil {
		logger.Warn().Err(err).Msg("could not update swap journal")
	}
}

func (s *Swapper) clearJournal(logger zerolog.Logger) {
	if err := s.journal.Clear(); err != nil {
		logger.Warn().Err(err).Msg("could not remove swap journal")
	}
}

func (s *Swapper) unmount(logger zerolog.Logger) {
	if err := s.mounter.Unmount(s.opts.MountPoint); err != nil {
		logger.Warn().Err(err).Msgf("failed unmounting %s, please do this manually", s.opts.MountPoint)
		return
	}
	logger.Info().Str("state", string(model.StateUnmounted)).Msg("swap state")
}

func (s *Swapper) record(logger zerolog.Logger, eventType model.AuditEventType, p *plan, details map[string]any) {
	if err := s.opts.Audit.Append(eventType, p.opID, p.snapshotID, details); err != nil {
		logger.Warn().Err(err).Msg("could not write audit record")
	}
}

// carryAuditLog copies the live audit log into newRoot. Failures only warn.
func (s *Swapper) carryAuditLog(logger zerolog.Logger, newRoot string) {
	if s.opts.AuditPath == "" || s.opts.AuditRel == "" {
		return
	}
	src, err := os.Stat(s.opts.AuditPath)
	if err != nil {
		logger.Warn().Err(err).Msg("no audit log to carry into the new root")
		return
	}
	dst := filepath.Join(newRoot, s.opts.AuditRel)
	if fi, err := os.Stat(dst); err == nil && os.SameFile(src, fi) {
		return
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		logger.Warn().Err(err).Str("path", dst).Msg("could not carry audit log")
		return
	}
	if err := fsutil.ReplaceFile(s.opts.AuditPath, dst); err != nil {
		logger.Warn().Err(err).Str("path", dst).Msg("could not carry audit log")
		return
	}
	logger.Debug().Str("path", dst).Msg("audit log carried into new root")
}

// relativeTo returns path relative to root, rejecting root itself and paths outside it.
func relativeTo(root, path string) (string, error) {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errclass.ErrSnapshotPathEscape.WithMessagef("%s is not inside %s", path, root)
	}
	return rel, nil
}
