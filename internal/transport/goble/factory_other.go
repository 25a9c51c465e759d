//go:build !darwin && !linux

package goble

import (
	"github.com/go-ble/ble"

	"github.com/glucosync/glucolink/glucose"
)

const supported = false

// DeviceFactory creates the host BLE device. No central stack exists on
// this platform.
var DeviceFactory = func() (ble.Device, error) {
	return nil, glucose.ErrUnsupportedTransport
}
