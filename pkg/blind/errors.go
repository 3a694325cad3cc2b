package blind

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure coming out of the transport or the device protocol.
type ErrorKind string

const (
	// KindNotFound means the device is unreachable or out of range.
	KindNotFound ErrorKind = "device_not_found"
	// KindCharacteristicMissing means the connected device does not expose the
	// service or characteristics this controller needs (wrong device, firmware mismatch).
	KindCharacteristicMissing ErrorKind = "characteristic_missing"
	// KindSoftTransient is a known-flaky backend error that usually clears after a
	// short wait and a reconnect.
	KindSoftTransient ErrorKind = "soft_transient"
	// KindTransport is any other transport/communication failure.
	KindTransport ErrorKind = "transport"
	// KindDecode means a payload read from the device could not be decoded.
	KindDecode ErrorKind = "decode"
)

// Error is the structured error returned by the session and by transport adapters.
// errors.Is compares by Kind, so the predefined sentinels below match any Error of the
// same kind regardless of Op or the wrapped cause.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Is allows errors.Is to compare Error values by Kind.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Predefined sentinels, one per kind.
var (
	ErrDeviceNotFound        = &Error{Kind: KindNotFound}
	ErrCharacteristicMissing = &Error{Kind: KindCharacteristicMissing}
	ErrSoftTransient         = &Error{Kind: KindSoftTransient}
	ErrTransport             = &Error{Kind: KindTransport}
	ErrDecode                = &Error{Kind: KindDecode}
)

// ErrStopped is returned by every operation on a session after Stop.
var ErrStopped = errors.New("session stopped")

// NewError wraps err into an Error of the given kind.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf reports the Kind of the first Error in err's chain, or "" if there is none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsTransportFailure reports whether err is a retryable transport failure
// (soft-transient or generic transport).
func IsTransportFailure(err error) bool {
	switch KindOf(err) {
	case KindSoftTransient, KindTransport:
		return true
	default:
		return false
	}
}
