// Package audit keeps a hash-chained JSONL log of root-changing operations.
package audit

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"emperror.dev/errors"
	"golang.org/x/sys/unix"

	"github.com/atomic-update/au/pkg/jsonutil"
	"github.com/atomic-update/au/pkg/model"
)

// Recorder records audit events.
type Recorder interface {
	Append(eventType model.AuditEventType, operationID string, snapshotID model.SnapshotID, details map[string]any) error
}

// Nop discards every event.
type Nop struct{}

// Append implements Recorder.
func (Nop) Append(model.AuditEventType, string, model.SnapshotID, map[string]any) error { return nil }

// FileAppender appends audit records to a JSONL file with hash chain.
type FileAppender struct {
	path string
	mu   sync.Mutex
}

// NewFileAppender creates a new FileAppender.
func NewFileAppender(path string) *FileAppender {
	return &FileAppender{path: path}
}

// Path returns the log path.
func (a *FileAppender) Path() string {
	return a.path
}

// Append adds a new audit record to the log.
func (a *FileAppender) Append(eventType model.AuditEventType, operationID string, snapshotID model.SnapshotID, details map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(a.path), 0o755); err != nil {
		return errors.Wrap(err, "create audit dir")
	}

	file, err := os.OpenFile(a.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return errors.Wrap(err, "open audit log")
	}
	defer file.Close()

	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX); err != nil {
		return errors.Wrap(err, "flock audit log")
	}
	defer unix.Flock(int(file.Fd()), unix.LOCK_UN) //nolint:errcheck

	records, err := readRecords(file)
	if err != nil {
		return err
	}
	var prevHash model.HashValue
	if len(records) > 0 {
		prevHash = records[len(records)-1].RecordHash
	}

	record := &model.AuditRecord{
		Timestamp:   time.Now().UTC(),
		EventType:   eventType,
		OperationID: operationID,
		SnapshotID:  snapshotID,
		Details:     details,
		PrevHash:    prevHash,
	}
	if record.RecordHash, err = computeRecordHash(record); err != nil {
		return err
	}

	line, err := json.Marshal(record)
	if err != nil {
		return errors.Wrap(err, "marshal audit record")
	}
	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		return errors.Wrap(err, "seek to end")
	}
	if _, err := file.Write(append(line, '\n')); err != nil {
		return errors.Wrap(err, "write audit record")
	}
	return errors.Wrap(file.Sync(), "sync audit log")
}

// Records returns every well-formed record in the log.
func (a *FileAppender) Records() ([]model.AuditRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	file, err := os.Open(a.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "open audit log")
	}
	defer file.Close()
	return readRecords(file)
}

// Verify checks that every record links to its predecessor and hashes to its RecordHash.
// It returns the index of the first broken record, or -1.
func (a *FileAppender) Verify() (int, error) {
	records, err := a.Records()
	if err != nil {
		return -1, err
	}
	var prev model.HashValue
	for i := range records {
		r := records[i]
		want, err := computeRecordHash(&r)
		if err != nil {
			return i, err
		}
		if r.PrevHash != prev || r.RecordHash != want {
			return i, nil
		}
		prev = r.RecordHash
	}
	return -1, nil
}

func readRecords(file *os.File) ([]model.AuditRecord, error) {
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return nil, errors.Wrap(err, "seek to start")
	}

	var records []model.AuditRecord
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var record model.AuditRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue // skip malformed lines
		}
		records = append(records, record)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "scan audit log")
	}
	return records, nil
}

func computeRecordHash(record *model.AuditRecord) (model.HashValue, error) {
	hashRecord := *record
	hashRecord.RecordHash = ""

	data, err := jsonutil.CanonicalMarshal(&hashRecord)
	if err != nil {
		return "", errors.Wrap(err, "marshal audit record for hashing")
	}
	hash := sha256.Sum256(data)
	return model.HashValue(hex.EncodeToString(hash[:])), nil
}
