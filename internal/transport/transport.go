// Package transport defines the capability interface every BLE backend
// implements: scanning, connecting, characteristic I/O and notification
// subscriptions. The session and codec layers are backend-agnostic; the
// concrete realizations live in the goble (real central stack) and mock
// (deterministic simulator) subpackages.
package transport

import (
	"context"
	"time"

	"github.com/glucosync/glucolink/glucose"
)

// ScanOptions configures a discovery pass.
type ScanOptions struct {
	// Timeout bounds the scan; the scan returns whatever was found when
	// it elapses, even with zero results.
	Timeout time.Duration

	// ServiceUUIDs filters advertisements to devices advertising one of
	// these services. Empty means no service filter.
	ServiceUUIDs []string

	// NamePrefixes admits meters that do not advertise the glucose
	// service but match a known local-name prefix.
	NamePrefixes []string
}

// FoundFunc is invoked for each newly discovered device during a scan.
type FoundFunc func(glucose.DeviceRecord)

// Transport is the capability set a backend provides. Implementations
// must be safe for concurrent use by multiple sessions.
type Transport interface {
	// Kind identifies the backend ("ble", "mock") for logging and
	// reading provenance.
	Kind() string

	// Supported reports whether this backend can operate on the host.
	Supported() bool

	// Scan discovers candidate devices. It must stop and return when
	// opts.Timeout elapses or ctx is cancelled.
	Scan(ctx context.Context, opts ScanOptions, onFound FoundFunc) ([]glucose.DeviceRecord, error)

	// Connect establishes a link to the device and performs service and
	// characteristic discovery. It must fail with a timeout error rather
	// than hang when the device does not respond within timeout.
	Connect(ctx context.Context, deviceID string, timeout time.Duration) (Conn, error)
}

// Conn is one established link. All operations may fail; none retry
// internally.
type Conn interface {
	// Read reads a characteristic value.
	Read(service, characteristic string) ([]byte, error)

	// Write writes a characteristic value, with or without response.
	Write(service, characteristic string, data []byte, withResponse bool) error

	// Subscribe registers onValue for notifications/indications on the
	// characteristic until the subscription is released.
	Subscribe(service, characteristic string, onValue func([]byte)) (Subscription, error)

	// Disconnect tears the link down. Idempotent.
	Disconnect() error
}

// Subscription is an owned notification registration. The component that
// created it releases it; there is no shared global listener table.
type Subscription interface {
	Unsubscribe() error
}
