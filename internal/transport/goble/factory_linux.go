package goble

import (
	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
)

const supported = true

// DeviceFactory creates the host BLE device. A variable so tests can
// substitute a fake central.
var DeviceFactory = func() (ble.Device, error) {
	return linux.NewDevice()
}
