package bridge

import "time"

// CentralPort drives the central-role link to the target device. Every call
// returns without waiting for the peer: completions arrive later as events
// through the dispatcher funnel. Implementations live in internal/stack.
type CentralPort interface {
	// Connect initiates a direct connection to the described target.
	// Emits TargetConnected or TargetConnectFailed.
	Connect(desc TargetDescriptor, timeout time.Duration)

	// DiscoverServices starts a full service enumeration, optionally
	// restricted to one service UUID. Emits a TargetServiceFound sequence
	// terminated by TargetServiceDiscoveryDone.
	DiscoverServices(filter string)

	// DiscoverCharacteristics enumerates the characteristics of one
	// discovered service. Emits TargetCharacteristicFound events terminated
	// by TargetCharDiscoveryDone for that service.
	DiscoverCharacteristics(serviceUUID string)

	// Subscribe enables notifications (or indications) for a target
	// characteristic; pushes arrive as TargetNotification events.
	Subscribe(char DiscoveredCharacteristic, indication bool)

	// Write relays a payload to a target value handle. Emits a
	// TargetWriteResult carrying seq once the ATT layer accepts or rejects
	// the write (immediately for write-without-response).
	Write(targetHandle uint16, payload []byte, withResponse bool, seq uint64)

	// Disconnect tears the central link down. Emits TargetDisconnected.
	Disconnect()
}

// PeripheralPort drives the peripheral-role link served to the mobile app.
// StartAdvertising and ServeTable validate synchronously; everything else is
// fire-and-forget with results delivered as events.
type PeripheralPort interface {
	// ServeTable installs the mirrored attribute table on the local GATT
	// server. Incoming app operations surface as MobileWrite / MobileRead
	// events tagged with the mirrored local handles.
	ServeTable(attrs []*MirroredAttribute) error

	// ClearTable removes the served table after the mirror is invalidated.
	ClearTable()

	// StartAdvertising begins advertising the spoofed identity. A payload
	// the radio rejects fails synchronously with an AdvertiseConfig error.
	StartAdvertising(identity AdvertisementIdentity) error

	// StopAdvertising halts advertising. Emits AdvertisingStopped.
	StopAdvertising()

	// Notify pushes a relayed value to the mobile app on a mirrored handle.
	Notify(localHandle uint16, payload []byte, indication bool) error

	// FinishWrite completes a pending write request. A nil err acknowledges;
	// a bridge error is translated to the matching ATT error response.
	FinishWrite(requestID uint64, err error)

	// FinishRead completes a pending read request with the cached value.
	FinishRead(requestID uint64, value []byte, err error)
}
