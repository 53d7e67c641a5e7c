// Package errclass defines the stable error classes reported by au.
package errclass

import "fmt"

// AUError is a stable, machine-readable error class.
// It may carry a cause, which is reachable through errors.Unwrap.
type AUError struct {
	Code    string
	Message string
	cause   error
}

func (e *AUError) Error() string {
	msg := e.Code
	if e.Message != "" {
		msg = fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	if e.cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.cause)
	}
	return msg
}

// Is reports whether target is an AUError of the same class.
func (e *AUError) Is(target error) bool {
	t, ok := target.(*AUError)
	return ok && e.Code == t.Code
}

func (e *AUError) Unwrap() error {
	return e.cause
}

// WithMessage returns a new AUError with the same Code but a specific message.
func (e *AUError) WithMessage(msg string) *AUError {
	return &AUError{Code: e.Code, Message: msg, cause: e.cause}
}

// WithMessagef returns a new AUError with a formatted message.
func (e *AUError) WithMessagef(format string, args ...any) *AUError {
	return &AUError{Code: e.Code, Message: fmt.Sprintf(format, args...), cause: e.cause}
}

// Wrap returns a copy of e with err attached as its cause.
func (e *AUError) Wrap(err error) *AUError {
	return &AUError{Code: e.Code, Message: e.Message, cause: err}
}

var (
	ErrNotRoot            = &AUError{Code: "E_NOT_ROOT"}
	ErrDiscovery          = &AUError{Code: "E_DISCOVERY"}
	ErrProcess            = &AUError{Code: "E_PROCESS"}
	ErrSwapFailed         = &AUError{Code: "E_SWAP_FAILED"}
	ErrSwapInconsistent   = &AUError{Code: "E_SWAP_INCONSISTENT"}
	ErrConfig             = &AUError{Code: "E_CONFIG"}
	ErrNoRollback         = &AUError{Code: "E_NO_ROLLBACK"}
	ErrLockConflict       = &AUError{Code: "E_LOCK_CONFLICT"}
	ErrSnapshotExists     = &AUError{Code: "E_SNAPSHOT_EXISTS"}
	ErrSnapshotPathEscape = &AUError{Code: "E_SNAPSHOT_PATH_ESCAPE"}
	ErrRebootPending      = &AUError{Code: "E_REBOOT_PENDING"}
)
