package model

import "time"

// AuditEventType identifies the type of auditable event.
type AuditEventType string

const (
	EventTypeSnapshotCreate AuditEventType = "snapshot_create"
	EventTypeSandboxRun     AuditEventType = "sandbox_run"
	EventTypePromote        AuditEventType = "promote"
	EventTypeRollback       AuditEventType = "rollback"
	EventTypeCompensate     AuditEventType = "compensate"
)

// AuditRecord is a single line in the audit log (JSONL format).
type AuditRecord struct {
	Timestamp   time.Time      `json:"timestamp"`
	EventType   AuditEventType `json:"event_type"`
	OperationID string         `json:"operation_id,omitempty"`
	SnapshotID  SnapshotID     `json:"snapshot_id,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
	PrevHash    HashValue      `json:"prev_hash"`
	RecordHash  HashValue      `json:"record_hash"`
}
