package model

import "time"

// SwapState is a state of the promotion/rollback state machine.
type SwapState string

const (
	StateIdle      SwapState = "idle"
	StateMounted   SwapState = "mounted"
	StateUnmounted SwapState = "unmounted"

	// promotion
	StateRootDisplaced   SwapState = "root_displaced"
	StateNewRootPromoted SwapState = "new_root_promoted"
	StateOldRootNested   SwapState = "old_root_nested"

	// rollback
	StateRollbackExtracted    SwapState = "rollback_extracted"
	StateCurrentRootStashed   SwapState = "current_root_stashed"
	StatePreviousRootRestored SwapState = "previous_root_restored"

	StateCompensating SwapState = "compensating"
	StateInconsistent SwapState = "inconsistent"
)

// Move is one rename in a swap plan. Reaching State means From has been renamed to To.
// Its compensation is the reverse rename.
type Move struct {
	State SwapState `yaml:"state" json:"state"`
	From  string    `yaml:"from" json:"from"`
	To    string    `yaml:"to" json:"to"`
}

// Reverse returns the compensating move.
func (m Move) Reverse() Move {
	return Move{State: m.State, From: m.To, To: m.From}
}

// JournalRecord is persisted while a swap is in flight.
type JournalRecord struct {
	OperationID   string    `yaml:"operation_id" json:"operation_id"`
	Operation     Operation `yaml:"operation" json:"operation"`
	Device        string    `yaml:"device" json:"device"`
	RootSubvolume string    `yaml:"root_subvolume" json:"root_subvolume"`
	MountPoint    string    `yaml:"mount_point" json:"mount_point"`
	State         SwapState `yaml:"state" json:"state"`
	Completed     []Move    `yaml:"completed,omitempty" json:"completed,omitempty"`
	Pending       []Move    `yaml:"pending,omitempty" json:"pending,omitempty"`
	StartedAt     time.Time `yaml:"started_at" json:"started_at"`
	UpdatedAt     time.Time `yaml:"updated_at" json:"updated_at"`
}
