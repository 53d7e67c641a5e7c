package model

// HashValue is a SHA-256 hash stored as hex string.
type HashValue string

// LockState represents the current state of the update lock.
type LockState string

const (
	LockStateHeld  LockState = "held"
	LockStateStale LockState = "stale"
	LockStateFree  LockState = "free"
)

// Operation names a root-changing operation.
type Operation string

const (
	OperationPromote  Operation = "promote"
	OperationRollback Operation = "rollback"
)
