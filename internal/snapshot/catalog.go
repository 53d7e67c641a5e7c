package snapshot

import (
	"os"
	"path/filepath"
	"sort"

	"emperror.dev/errors"
	"github.com/samber/lo"

	"github.com/atomic-update/au/pkg/model"
)

// RollbackName is the entry holding the previous root.
const RollbackName = "rollback"

// ListIDs returns the snapshot IDs under root in ascending order.
// Entries that are not positive integers are ignored. A missing root yields no IDs.
func ListIDs(root string) ([]model.SnapshotID, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "read snapshot root %s", root)
	}

	ids := lo.FilterMap(entries, func(e os.DirEntry, _ int) (model.SnapshotID, bool) {
		return model.ParseSnapshotID(e.Name())
	})
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// NextID returns one more than the largest ID under root, or 1 when there is none.
// Gaps are never filled.
func NextID(root string) (model.SnapshotID, error) {
	ids, err := ListIDs(root)
	if err != nil {
		return 0, err
	}
	return lo.Max(ids).Next(), nil
}

// List returns info for every snapshot under root, oldest ID first.
func List(root string) ([]model.SnapshotInfo, error) {
	ids, err := ListIDs(root)
	if err != nil {
		return nil, err
	}

	infos := make([]model.SnapshotInfo, 0, len(ids))
	for _, id := range ids {
		path := filepath.Join(root, id.String())
		info := model.SnapshotInfo{ID: id, Path: path}
		if st, err := os.Stat(path); err == nil {
			info.ModifiedAt = st.ModTime()
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// HasRollback reports whether root holds a rollback subvolume.
func HasRollback(root string) bool {
	st, err := os.Stat(filepath.Join(root, RollbackName))
	return err == nil && st.IsDir()
}
