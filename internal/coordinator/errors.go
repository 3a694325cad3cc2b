package coordinator

import "fmt"

// NotReadyError reports that setup could not reach the blind yet.
// Callers are expected to retry setup later.
type NotReadyError struct {
	Address string
	Reason  string
	Err     error
}

func (e *NotReadyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("blind %s not ready: %s: %v", e.Address, e.Reason, e.Err)
	}
	return fmt.Sprintf("blind %s not ready: %s", e.Address, e.Reason)
}

func (e *NotReadyError) Unwrap() error {
	return e.Err
}

// UpdateFailedError wraps a failed periodic refresh.
type UpdateFailedError struct {
	Err error
}

func (e *UpdateFailedError) Error() string {
	return fmt.Sprintf("update failed: %v", e.Err)
}

func (e *UpdateFailedError) Unwrap() error {
	return e.Err
}
