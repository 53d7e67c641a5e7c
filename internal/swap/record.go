package swap

import (
	"os"
	"path/filepath"

	"emperror.dev/errors"
	"gopkg.in/yaml.v3"

	"github.com/atomic-update/au/pkg/fsutil"
	"github.com/atomic-update/au/pkg/model"
)

// RecordName is the promotion record file name inside the snapshot root.
const RecordName = "rollback.yaml"

// WriteRecord writes a promotion record into snapshotDir.
func WriteRecord(snapshotDir string, rec *model.PromotionRecord) error {
	data, err := yaml.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "marshal promotion record")
	}
	return errors.Wrap(
		fsutil.AtomicWrite(filepath.Join(snapshotDir, RecordName), data, 0o644),
		"write promotion record",
	)
}

// ReadRecord reads the promotion record in snapshotDir, or nil when there is none.
func ReadRecord(snapshotDir string) (*model.PromotionRecord, error) {
	data, err := os.ReadFile(filepath.Join(snapshotDir, RecordName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "read promotion record")
	}
	var rec model.PromotionRecord
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return nil, errors.Wrap(err, "parse promotion record")
	}
	return &rec, nil
}

// RemoveRecord deletes the promotion record in snapshotDir if present.
func RemoveRecord(snapshotDir string) error {
	err := os.Remove(filepath.Join(snapshotDir, RecordName))
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "remove promotion record")
	}
	return nil
}
