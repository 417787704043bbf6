//go:build darwin

package goble

import (
	"github.com/go-ble/ble"
	"github.com/go-ble/ble/darwin"
)

// DeviceFactory creates a ble.Device. CoreBluetooth owns adapter selection,
// so adapterID is ignored on this platform.
var DeviceFactory = func(adapterID int) (ble.Device, error) {
	return darwin.NewDevice()
}
