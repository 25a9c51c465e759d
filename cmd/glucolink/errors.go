package main

import (
	"context"
	"errors"

	"github.com/glucosync/glucolink/glucose"
)

// FormatUserError translates internal errors into messages suitable for
// terminal output, without stack traces or wrapped chains.
func FormatUserError(err error) string {
	switch {
	case errors.Is(err, glucose.ErrUnsupportedTransport):
		return "Bluetooth is not available on this platform (try --transport mock)"
	case errors.Is(err, glucose.ErrScanInProgress):
		return "a scan is already running"
	case errors.Is(err, glucose.ErrDeviceNotFound):
		return "device not found; run 'glucolink scan' first"
	case errors.Is(err, glucose.ErrConnectionTimeout):
		return "the device did not respond in time"
	case errors.Is(err, glucose.ErrNotConnected):
		return "device is not connected"
	case errors.Is(err, glucose.ErrSyncAborted):
		return "sync was aborted before completion"
	case errors.Is(err, context.DeadlineExceeded):
		return "operation timed out"
	}
	return err.Error()
}
