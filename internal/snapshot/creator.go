package snapshot

import (
	"os"

	"github.com/atomic-update/au/pkg/errclass"
)

// Snapshotter creates a writable snapshot of src at dst.
type Snapshotter interface {
	Snapshot(src, dst string) error
}

// Creator materializes snapshots of the live root.
type Creator struct {
	tool     Snapshotter
	liveRoot string
}

// NewCreator creates a Creator snapshotting liveRoot.
func NewCreator(tool Snapshotter, liveRoot string) *Creator {
	return &Creator{tool: tool, liveRoot: liveRoot}
}

// Create snapshots the live root at target. It fails if target already exists.
// There is no retry.
func (c *Creator) Create(target string) error {
	if _, err := os.Lstat(target); err == nil {
		return errclass.ErrSnapshotExists.WithMessagef("%s already exists", target)
	}
	return c.tool.Snapshot(c.liveRoot, target)
}
