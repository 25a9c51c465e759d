package glucose

import (
	"errors"
	"fmt"
)

// ErrorKind classifies the failures the public surface reports.
type ErrorKind string

const (
	KindUnsupportedTransport ErrorKind = "unsupported_transport"
	KindScanInProgress       ErrorKind = "scan_in_progress"
	KindDeviceNotFound       ErrorKind = "device_not_found"
	KindConnectionTimeout    ErrorKind = "connection_timeout"
	KindConnectionFailed     ErrorKind = "connection_failed"
	KindNotConnected         ErrorKind = "not_connected"
	KindSyncInProgress       ErrorKind = "sync_in_progress"
	KindSyncAborted          ErrorKind = "sync_aborted"
)

// Error is any failure of a manager or session operation. Decode failures
// are deliberately absent: they are recovered locally by skipping the
// record, never surfaced.
type Error struct {
	Kind ErrorKind
	Msg  string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
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

// Predefined sentinel errors, one per kind.
var (
	ErrUnsupportedTransport = &Error{Kind: KindUnsupportedTransport}
	ErrScanInProgress       = &Error{Kind: KindScanInProgress}
	ErrDeviceNotFound       = &Error{Kind: KindDeviceNotFound}
	ErrConnectionTimeout    = &Error{Kind: KindConnectionTimeout}
	ErrConnectionFailed     = &Error{Kind: KindConnectionFailed}
	ErrNotConnected         = &Error{Kind: KindNotConnected}
	ErrSyncInProgress       = &Error{Kind: KindSyncInProgress}
	ErrSyncAborted          = &Error{Kind: KindSyncAborted}
)

// NewError builds an Error of the given kind with a formatted message.
func NewError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// IsKind reports whether err is an Error with the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr.Kind == kind
	}
	return false
}
