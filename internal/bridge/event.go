package bridge

// Class groups stack events by their origin: GAP (advertising), the
// central-role link (GATT client), or the peripheral-role link (GATT server).
type Class int

const (
	ClassGap Class = iota
	ClassCentral
	ClassPeripheral
	ClassControl
)

func (c Class) String() string {
	switch c {
	case ClassGap:
		return "gap"
	case ClassCentral:
		return "central"
	case ClassPeripheral:
		return "peripheral"
	case ClassControl:
		return "control"
	default:
		return "unknown"
	}
}

// Event is a tagged radio-stack or control event routed through the
// dispatcher. Every concrete event names its class so routing stays a
// single switch.
type Event interface {
	Class() Class
}

// ---- central-role events ----

// TargetConnected reports the central link to the target is up.
type TargetConnected struct {
	Handle uint16
	MTU    int
}

// TargetConnectFailed reports a failed connection attempt. Err carries a
// ConnectTimeout or ConnectRejected code.
type TargetConnectFailed struct {
	Err error
}

// TargetServiceFound delivers one service during enumeration. Discovery is
// multi-event; no state transition happens until the completion marker.
type TargetServiceFound struct {
	Service DiscoveredService
}

// TargetServiceDiscoveryDone marks the end of service enumeration.
type TargetServiceDiscoveryDone struct {
	Err error
}

// TargetCharacteristicFound delivers one characteristic of a service.
type TargetCharacteristicFound struct {
	ServiceUUID string
	Char        DiscoveredCharacteristic
}

// TargetCharDiscoveryDone marks the end of characteristic enumeration for
// the service named in the preceding request.
type TargetCharDiscoveryDone struct {
	ServiceUUID string
	Err         error
}

// TargetNotification carries a value push from the target.
type TargetNotification struct {
	TargetHandle uint16
	Payload      []byte
	Indication   bool
}

// TargetWriteResult reports completion of a relayed write identified by its
// forwarding sequence number.
type TargetWriteResult struct {
	Seq uint64
	Err error
}

// TargetDisconnected reports loss of the central link.
type TargetDisconnected struct {
	Reason error
}

func (TargetConnected) Class() Class            { return ClassCentral }
func (TargetConnectFailed) Class() Class        { return ClassCentral }
func (TargetServiceFound) Class() Class         { return ClassCentral }
func (TargetServiceDiscoveryDone) Class() Class { return ClassCentral }
func (TargetCharacteristicFound) Class() Class  { return ClassCentral }
func (TargetCharDiscoveryDone) Class() Class    { return ClassCentral }
func (TargetNotification) Class() Class         { return ClassCentral }
func (TargetWriteResult) Class() Class          { return ClassCentral }
func (TargetDisconnected) Class() Class         { return ClassCentral }

// ---- GAP / peripheral-role events ----

// AdvertisingStarted reports the spoofed advertisement is on air.
type AdvertisingStarted struct{}

// AdvertisingStopped reports advertising ended, normally or with an error.
type AdvertisingStopped struct {
	Err error
}

// MobileConnected reports a mobile client connected to the local server.
type MobileConnected struct {
	Handle uint16
	MTU    int
}

// MobileDisconnected reports the mobile client went away.
type MobileDisconnected struct {
	Handle uint16
}

// MobileWrite is a write request from the mobile app against a mirrored
// attribute. RequestID correlates the deferred response.
type MobileWrite struct {
	LocalHandle  uint16
	Payload      []byte
	WithResponse bool
	RequestID    uint64
}

// MobileRead is a read request from the mobile app against a mirrored
// attribute, answered from the cached last-known value.
type MobileRead struct {
	LocalHandle uint16
	RequestID   uint64
}

func (AdvertisingStarted) Class() Class { return ClassGap }
func (AdvertisingStopped) Class() Class { return ClassGap }
func (MobileConnected) Class() Class    { return ClassPeripheral }
func (MobileDisconnected) Class() Class { return ClassPeripheral }
func (MobileWrite) Class() Class        { return ClassPeripheral }
func (MobileRead) Class() Class         { return ClassPeripheral }

// ---- control events ----

// RetryRequested is the external trigger that restarts target connection
// attempts after the retry budget was exhausted.
type RetryRequested struct{}

// ServiceDataRefresh substitutes the advertised service-data payload at
// runtime, for targets that encode mutable state in their advertisement.
type ServiceDataRefresh struct {
	Payload []byte
}

// retryTimerFired is posted by the backoff timer between reconnect attempts.
type retryTimerFired struct{}

func (RetryRequested) Class() Class     { return ClassControl }
func (ServiceDataRefresh) Class() Class { return ClassControl }
func (retryTimerFired) Class() Class    { return ClassControl }
