package goble

import (
	"github.com/go-ble/ble"

	"github.com/srg/blemirror/internal/bridge"
)

// propsFromBLE converts the stack's property bitfield to the bridge's. Both
// follow the Core spec bit layout; the explicit mapping keeps us independent
// of that coincidence.
func propsFromBLE(p ble.Property) bridge.Props {
	var out bridge.Props
	if p&ble.CharBroadcast != 0 {
		out |= bridge.PropBroadcast
	}
	if p&ble.CharRead != 0 {
		out |= bridge.PropRead
	}
	if p&ble.CharWriteNR != 0 {
		out |= bridge.PropWriteNR
	}
	if p&ble.CharWrite != 0 {
		out |= bridge.PropWrite
	}
	if p&ble.CharNotify != 0 {
		out |= bridge.PropNotify
	}
	if p&ble.CharIndicate != 0 {
		out |= bridge.PropIndicate
	}
	if p&ble.CharSignedWrite != 0 {
		out |= bridge.PropSignedWrite
	}
	if p&ble.CharExtended != 0 {
		out |= bridge.PropExtended
	}
	return out
}
