package audit_test

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atomic-update/au/internal/audit"
	"github.com/atomic-update/au/pkg/model"
)

func TestFileAppender_AppendCreatesJSONL(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "nested", "audit.jsonl")
	appender := audit.NewFileAppender(logPath)

	require.NoError(t, appender.Append(model.EventTypeSnapshotCreate, "op-1", 3, map[string]any{"path": "/.snapshots/3"}))

	records, err := appender.Records()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, model.EventTypeSnapshotCreate, records[0].EventType)
	assert.Equal(t, "op-1", records[0].OperationID)
	assert.Equal(t, model.SnapshotID(3), records[0].SnapshotID)
	assert.Empty(t, records[0].PrevHash)
	assert.Len(t, string(records[0].RecordHash), 64)
}

func TestFileAppender_HashChain(t *testing.T) {
	appender := audit.NewFileAppender(filepath.Join(t.TempDir(), "audit.jsonl"))

	require.NoError(t, appender.Append(model.EventTypeSnapshotCreate, "op", 1, nil))
	require.NoError(t, appender.Append(model.EventTypeSandboxRun, "op", 1, map[string]any{"command": "dnf"}))
	require.NoError(t, appender.Append(model.EventTypePromote, "op", 1, nil))

	records, err := appender.Records()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, records[0].RecordHash, records[1].PrevHash)
	assert.Equal(t, records[1].RecordHash, records[2].PrevHash)

	idx, err := appender.Verify()
	require.NoError(t, err)
	assert.Equal(t, -1, idx)
}

func TestFileAppender_VerifyDetectsTampering(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "audit.jsonl")
	appender := audit.NewFileAppender(logPath)
	require.NoError(t, appender.Append(model.EventTypePromote, "op", 1, nil))
	require.NoError(t, appender.Append(model.EventTypeRollback, "op2", 0, nil))

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	tampered := strings.Replace(string(data), `"op2"`, `"op3"`, 1)
	require.NoError(t, os.WriteFile(logPath, []byte(tampered), 0o644))

	idx, err := appender.Verify()
	require.NoError(t, err)
	assert.Equal(t, 1, idx)
}

func TestFileAppender_SkipsMalformedLines(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "audit.jsonl")
	require.NoError(t, os.WriteFile(logPath, []byte("not json\n"), 0o644))

	appender := audit.NewFileAppender(logPath)
	require.NoError(t, appender.Append(model.EventTypeCompensate, "op", 2, nil))

	records, err := appender.Records()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Empty(t, records[0].PrevHash)
}

func TestFileAppender_Concurrent(t *testing.T) {
	appender := audit.NewFileAppender(filepath.Join(t.TempDir(), "audit.jsonl"))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, appender.Append(model.EventTypeSnapshotCreate, "op", model.SnapshotID(i+1), nil))
		}(i)
	}
	wg.Wait()

	records, err := appender.Records()
	require.NoError(t, err)
	assert.Len(t, records, 10)
	idx, err := appender.Verify()
	require.NoError(t, err)
	assert.Equal(t, -1, idx)
}

func TestFileAppender_RecordsMissingFile(t *testing.T) {
	records, err := audit.NewFileAppender(filepath.Join(t.TempDir(), "none.jsonl")).Records()
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestNop(t *testing.T) {
	var r audit.Recorder = audit.Nop{}
	assert.NoError(t, r.Append(model.EventTypePromote, "", 0, nil))
}
