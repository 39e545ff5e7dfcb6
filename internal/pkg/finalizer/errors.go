package finalizer

import (
	"errors"
	"fmt"
)

// ErrShutdownDeadline is returned by Shutdown when queued jobs were abandoned
var ErrShutdownDeadline = errors.New("finalizer shutdown deadline exceeded")

// FinalizeFailedError aborts one call. Partial outputs stay on disk.
type FinalizeFailedError struct {
	CallID string
	Reason string
	Err    error
}

func (e *FinalizeFailedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("finalize %s failed: %s: %v", e.CallID, e.Reason, e.Err)
	}
	return fmt.Sprintf("finalize %s failed: %s", e.CallID, e.Reason)
}

func (e *FinalizeFailedError) Unwrap() error {
	return e.Err
}

func failed(callID, reason string, err error) error {
	return &FinalizeFailedError{CallID: callID, Reason: reason, Err: err}
}
