package swap

import (
	"os"
	"path/filepath"

	"emperror.dev/errors"
	"gopkg.in/yaml.v3"

	"github.com/atomic-update/au/pkg/fsutil"
	"github.com/atomic-update/au/pkg/model"
)

// DefaultJournalPath is where an in-flight swap is recorded.
const DefaultJournalPath = "/var/lib/atomic-update/journal.yaml"

// Journal persists the progress of a swap so an interrupted one can be repaired by hand.
type Journal struct {
	path string
}

// NewJournal creates a Journal at path.
func NewJournal(path string) *Journal {
	return &Journal{path: path}
}

// Path returns the journal location.
func (j *Journal) Path() string {
	return j.path
}

// Write replaces the journal with rec.
func (j *Journal) Write(rec *model.JournalRecord) error {
	data, err := yaml.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "marshal journal")
	}
	if err := os.MkdirAll(filepath.Dir(j.path), 0o755); err != nil {
		return errors.Wrap(err, "create journal dir")
	}
	return errors.Wrap(fsutil.AtomicWrite(j.path, data, 0o644), "write journal")
}

// Read returns the journal, or nil when there is none.
func (j *Journal) Read() (*model.JournalRecord, error) {
	data, err := os.ReadFile(j.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "read journal")
	}
	var rec model.JournalRecord
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return nil, errors.Wrapf(err, "parse journal %s", j.path)
	}
	return &rec, nil
}

// Clear removes the journal.
func (j *Journal) Clear() error {
	if err := os.Remove(j.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "remove journal")
	}
	return nil
}

// ManualSteps returns the shell commands that undo the completed moves of rec.
func ManualSteps(rec *model.JournalRecord) []string {
	steps := make([]string, 0, len(rec.Completed)+1)
	for i := len(rec.Completed) - 1; i >= 0; i-- {
		m := rec.Completed[i].Reverse()
		steps = append(steps, "mv "+m.From+" "+m.To)
	}
	if rec.MountPoint != "" {
		steps = append(steps, "umount "+rec.MountPoint)
	}
	return steps
}
