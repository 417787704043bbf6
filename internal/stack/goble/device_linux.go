//go:build linux

package goble

import (
	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
)

// DeviceFactory creates a ble.Device on the given HCI adapter. A variable so
// tests can substitute a mock device.
var DeviceFactory = func(adapterID int) (ble.Device, error) {
	return linux.NewDevice(ble.OptDeviceID(adapterID))
}
