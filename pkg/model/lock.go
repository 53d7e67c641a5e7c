package model

import "time"

// LockRecord is written into the lock file by the holder.
type LockRecord struct {
	HolderID   string    `json:"holder_id"`
	PID        int       `json:"pid"`
	Purpose    string    `json:"purpose,omitempty"`
	AcquiredAt time.Time `json:"acquired_at"`
}
