// Package snapshot allocates and creates numbered snapshots of the live root.
package snapshot

import (
	"os"
	"path/filepath"

	"emperror.dev/errors"
	"github.com/rs/zerolog"

	"github.com/atomic-update/au/pkg/logging"
	"github.com/atomic-update/au/pkg/model"
)

// Allocator computes the path of the next snapshot.
type Allocator struct {
	root       string
	privileged func() error
	logger     zerolog.Logger
}

// NewAllocator creates an Allocator for the snapshot root. privileged is called
// before the root is created and may be nil.
func NewAllocator(root string, privileged func() error) *Allocator {
	return &Allocator{
		root:       root,
		privileged: privileged,
		logger:     logging.GetLogger("allocator"),
	}
}

// Root returns the snapshot root.
func (a *Allocator) Root() string {
	return a.root
}

// NextPath returns <root>/<ID> for the next free ID. It creates the snapshot root
// on first use but never the snapshot itself.
func (a *Allocator) NextPath() (string, error) {
	id, err := a.NextID()
	if err != nil {
		return "", err
	}
	return filepath.Join(a.root, id.String()), nil
}

// NextID returns the next free ID, creating the snapshot root if it is missing.
func (a *Allocator) NextID() (model.SnapshotID, error) {
	if _, err := os.Stat(a.root); err != nil {
		if !os.IsNotExist(err) {
			return 0, errors.Wrapf(err, "stat snapshot root %s", a.root)
		}
		if err := a.EnsureRoot(); err != nil {
			return 0, err
		}
		return 1, nil
	}

	id, err := NextID(a.root)
	if err != nil {
		return 0, err
	}
	a.logger.Debug().Stringer("id", id).Msg("allocated snapshot id")
	return id, nil
}

// EnsureRoot creates the snapshot root if it does not exist.
func (a *Allocator) EnsureRoot() error {
	if _, err := os.Stat(a.root); err == nil {
		return nil
	}
	if a.privileged != nil {
		if err := a.privileged(); err != nil {
			return err
		}
	}
	a.logger.Info().Str("path", a.root).Msg("creating snapshot root")
	if err := os.MkdirAll(a.root, 0o755); err != nil {
		return errors.Wrapf(err, "create snapshot root %s", a.root)
	}
	return nil
}
