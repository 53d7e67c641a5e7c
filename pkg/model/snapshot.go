package model

import (
	"strconv"
	"time"
)

// SnapshotID is the positive integer naming a directory under the snapshot root.
type SnapshotID int

// ParseSnapshotID parses a directory entry name. Only positive decimal integers are IDs.
func ParseSnapshotID(name string) (SnapshotID, bool) {
	n, err := strconv.Atoi(name)
	if err != nil || n <= 0 {
		return 0, false
	}
	return SnapshotID(n), true
}

func (id SnapshotID) String() string {
	return strconv.Itoa(int(id))
}

// Next returns the ID following id.
func (id SnapshotID) Next() SnapshotID {
	return id + 1
}

// SnapshotInfo describes one entry under the snapshot root.
type SnapshotInfo struct {
	ID         SnapshotID `json:"id"`
	Path       string     `json:"path"`
	ModifiedAt time.Time  `json:"modified_at"`
}

// PromotionRecord is written next to the rollback subvolume after a promotion.
// Rollback uses it to put the current root back into the slot it came from.
type PromotionRecord struct {
	OperationID   string     `yaml:"operation_id"`
	SnapshotID    SnapshotID `yaml:"snapshot_id"`
	PromotedAt    time.Time  `yaml:"promoted_at"`
	Device        string     `yaml:"device"`
	RootSubvolume string     `yaml:"root_subvolume"`
}
