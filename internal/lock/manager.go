// Package lock serializes root-changing operations with an advisory flock(2) lock.
package lock

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"time"

	"emperror.dev/errors"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/atomic-update/au/pkg/errclass"
	"github.com/atomic-update/au/pkg/logging"
	"github.com/atomic-update/au/pkg/model"
)

// DefaultPath is the lock file location.
const DefaultPath = "/run/atomic-update.lock"

// Manager hands out the exclusive update lock.
type Manager struct {
	path   string
	logger zerolog.Logger
}

// NewManager creates a new lock manager for the lock file at path.
func NewManager(path string) *Manager {
	return &Manager{path: path, logger: logging.GetLogger("lock")}
}

// Path returns the lock file location.
func (m *Manager) Path() string {
	return m.path
}

// Lock is a held lock. The kernel drops it if the process dies.
type Lock struct {
	file   *os.File
	Record model.LockRecord
}

// Acquire takes the lock or fails immediately with E_LOCK_CONFLICT.
func (m *Manager) Acquire(purpose string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return nil, errors.Wrap(err, "create lock dir")
	}

	file, err := os.OpenFile(m.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "open lock file")
	}

	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		defer file.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, m.conflict(file)
		}
		return nil, errors.Wrap(err, "flock lock file")
	}

	l := &Lock{
		file: file,
		Record: model.LockRecord{
			HolderID:   uuid.NewString(),
			PID:        os.Getpid(),
			Purpose:    purpose,
			AcquiredAt: time.Now().UTC(),
		},
	}
	if err := l.writeRecord(); err != nil {
		l.Release() //nolint:errcheck
		return nil, err
	}

	m.logger.Debug().Str("holder", l.Record.HolderID).Str("purpose", purpose).Msg("lock acquired")
	return l, nil
}

// AcquireWait retries Acquire with exponential backoff until wait has elapsed.
// A non-positive wait behaves like Acquire.
func (m *Manager) AcquireWait(ctx context.Context, purpose string, wait time.Duration) (*Lock, error) {
	if wait <= 0 {
		return m.Acquire(purpose)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = wait

	var l *Lock
	err := backoff.RetryNotify(func() error {
		var err error
		l, err = m.Acquire(purpose)
		if err != nil && !errors.Is(err, errclass.ErrLockConflict) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(b, ctx), func(err error, next time.Duration) {
		m.logger.Info().Err(err).Dur("retry_in", next).Msg("waiting for lock")
	})
	if err != nil {
		return nil, err
	}
	return l, nil
}

// Release truncates the lock file and drops the lock. The file itself is kept.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	truncErr := l.file.Truncate(0)
	unlockErr := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil
	return errors.Combine(
		errors.WrapIf(truncErr, "truncate lock file"),
		errors.WrapIf(unlockErr, "unlock"),
		errors.WrapIf(closeErr, "close lock file"),
	)
}

// Status reports whether the lock is free, held by a live process, or was left
// behind by a process that exited without releasing it.
func (m *Manager) Status() (model.LockState, *model.LockRecord, error) {
	file, err := os.Open(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return model.LockStateFree, nil, nil
		}
		return model.LockStateFree, nil, errors.Wrap(err, "open lock file")
	}
	defer file.Close()

	rec, _ := readRecord(file)
	if err := unix.Flock(int(file.Fd()), unix.LOCK_SH|unix.LOCK_NB); err != nil {
		if errors.Is(err, unix.EWOULDBLOCK) {
			return model.LockStateHeld, rec, nil
		}
		return model.LockStateFree, nil, errors.Wrap(err, "flock lock file")
	}
	unix.Flock(int(file.Fd()), unix.LOCK_UN) //nolint:errcheck

	if rec != nil {
		return model.LockStateStale, rec, nil
	}
	return model.LockStateFree, nil, nil
}

func (m *Manager) conflict(file *os.File) error {
	rec, err := readRecord(file)
	if err != nil || rec == nil {
		return errclass.ErrLockConflict.WithMessage("another au process is running")
	}
	return errclass.ErrLockConflict.WithMessagef(
		"another au process is running (pid %d, %s since %s)",
		rec.PID, rec.Purpose, rec.AcquiredAt.Format(time.RFC3339))
}

func (l *Lock) writeRecord() error {
	data, err := json.MarshalIndent(&l.Record, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal lock")
	}
	if err := l.file.Truncate(0); err != nil {
		return errors.Wrap(err, "truncate lock file")
	}
	if _, err := l.file.WriteAt(data, 0); err != nil {
		return errors.Wrap(err, "write lock")
	}
	return errors.Wrap(l.file.Sync(), "sync lock")
}

func readRecord(file *os.File) (*model.LockRecord, error) {
	data, err := io.ReadAll(io.NewSectionReader(file, 0, 1<<20))
	if err != nil {
		return nil, errors.Wrap(err, "read lock")
	}
	if len(data) == 0 {
		return nil, nil
	}
	var rec model.LockRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, errors.Wrap(err, "parse lock")
	}
	return &rec, nil
}
