package glucose

import "time"

// ConnectionState tracks where a device is in its connection lifecycle.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateScanning     ConnectionState = "scanning"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateSyncing      ConnectionState = "syncing"
	StateError        ConnectionState = "error"
)

// DeviceRecord describes one discovered glucose meter. Exactly one record
// exists per device id; the registry enforces uniqueness and serializes
// mutation. Consumers receive copies.
type DeviceRecord struct {
	// ID is the opaque, transport-assigned identifier (BLE address for the
	// real backend).
	ID   string `json:"id"`
	Name string `json:"name"`

	// Manufacturer and Model are populated lazily from the Device
	// Information Service after connection.
	Manufacturer string `json:"manufacturer,omitempty"`
	Model        string `json:"model,omitempty"`

	State ConnectionState `json:"state"`

	// RSSI is the signal strength observed during the last scan, dBm.
	RSSI int `json:"rssi,omitempty"`

	// Battery is the last battery level read, percent. Nil until read.
	Battery *int `json:"battery,omitempty"`

	// LastSync is set if and only if a sync completed without being
	// aborted by error or timeout.
	LastSync *time.Time `json:"lastSync,omitempty"`

	// SupportsStreaming marks meters that also expose a CGM-style
	// streaming characteristic.
	SupportsStreaming bool `json:"supportsStreaming,omitempty"`
}
