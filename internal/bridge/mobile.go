package bridge

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// MobileState is the peripheral-role link lifecycle.
type MobileState int

const (
	MobileIdle MobileState = iota
	MobileAdvertising
	MobileConnectedState
	MobileBound
	MobileDisconnectedState
)

func (s MobileState) String() string {
	switch s {
	case MobileIdle:
		return "idle"
	case MobileAdvertising:
		return "advertising"
	case MobileConnectedState:
		return "connected"
	case MobileBound:
		return "bound"
	case MobileDisconnectedState:
		return "disconnected"
	default:
		return "unknown"
	}
}

// MobileLink owns the peripheral-role connection to the mobile app: the
// spoofed advertising, the served mirror table, and write/read request
// validation. All handlers run on the dispatcher goroutine.
type MobileLink struct {
	peripheral PeripheralPort
	identity   AdvertisementIdentity

	state MobileState
	conn  ConnectionState

	target    *TargetLink
	forwarder *Forwarder
	mirror    func() *Mirror

	// onConnect fires when a mobile client connects; the session uses it as
	// the external retry trigger for an exhausted target link.
	onConnect func()

	logger *logrus.Logger
}

// NewMobileLink creates the peripheral-role link manager. The forwarder is
// attached later by the session, after both managers exist.
func NewMobileLink(peripheral PeripheralPort, identity AdvertisementIdentity, target *TargetLink,
	mirror func() *Mirror, logger *logrus.Logger) *MobileLink {
	if logger == nil {
		logger = logrus.New()
	}
	return &MobileLink{
		peripheral: peripheral,
		identity:   identity,
		state:      MobileIdle,
		conn:       ConnectionState{Role: RolePeripheral},
		target:     target,
		mirror:     mirror,
		logger:     logger,
	}
}

// State returns the current link state.
func (m *MobileLink) State() MobileState { return m.state }

// Conn returns the link's connection state.
func (m *MobileLink) Conn() ConnectionState { return m.conn }

// Identity returns the advertised identity currently in effect.
func (m *MobileLink) Identity() AdvertisementIdentity { return m.identity }

// StartAdvertising begins peripheral-role advertising with the spoofed
// identity. Radio rejections surface synchronously as AdvertiseConfig
// errors.
func (m *MobileLink) StartAdvertising() error {
	if !m.identity.IsSet() {
		return codedError(AdvertiseConfig, fmt.Errorf("advertisement identity is not set"))
	}
	if err := m.identity.Validate(); err != nil {
		return err
	}
	if m.state == MobileAdvertising || m.state == MobileConnectedState || m.state == MobileBound {
		return fmt.Errorf("advertising requested in state %s", m.state)
	}

	if err := m.peripheral.StartAdvertising(m.identity); err != nil {
		return codedError(AdvertiseConfig, err)
	}
	m.state = MobileAdvertising

	m.logger.WithFields(logrus.Fields{
		"name":         m.identity.LocalName,
		"service_uuid": m.identity.ServiceUUID,
		"service_data": len(m.identity.ServiceData),
	}).Info("Advertising spoofed identity")
	return nil
}

// RefreshServiceData substitutes the advertised service-data payload, for
// targets that encode mutable state in their advertisement.
func (m *MobileLink) RefreshServiceData(payload []byte) error {
	refreshed := m.identity.WithServiceData(payload)
	if err := refreshed.Validate(); err != nil {
		return err
	}
	m.identity = refreshed

	if m.state == MobileAdvertising {
		m.peripheral.StopAdvertising()
		if err := m.peripheral.StartAdvertising(m.identity); err != nil {
			m.state = MobileIdle
			return codedError(AdvertiseConfig, err)
		}
	}
	m.logger.WithField("bytes", len(payload)).Debug("Advertised service data refreshed")
	return nil
}

func (m *MobileLink) handleAdvertisingStarted() {
	m.logger.Debug("Advertising confirmed on air")
}

func (m *MobileLink) handleAdvertisingStopped(ev AdvertisingStopped) {
	if ev.Err != nil && m.state == MobileAdvertising {
		m.logger.WithError(ev.Err).Warn("Advertising stopped unexpectedly")
		m.state = MobileIdle
	}
}

func (m *MobileLink) handleConnected(ev MobileConnected) {
	m.conn.Handle = ev.Handle
	m.conn.MTU = ev.MTU
	m.state = MobileConnectedState

	m.logger.WithFields(logrus.Fields{
		"handle": ev.Handle,
		"mtu":    ev.MTU,
	}).Info("Mobile client connected")

	if m.target.State() == TargetReady {
		m.bind()
	} else {
		// Served operations answer NotReady until target discovery
		// completes and bind() runs.
		m.logger.WithField("target_state", m.target.State().String()).
			Info("Target not ready, mobile operations deferred")
	}

	if m.onConnect != nil {
		m.onConnect()
	}
}

// bind exposes the mirrored table to the connected client. Called either on
// connect (target already Ready) or from the session once discovery
// completes.
func (m *MobileLink) bind() {
	if m.state != MobileConnectedState {
		return
	}
	m.state = MobileBound

	count := 0
	if mir := m.mirror(); mir != nil {
		count = mir.Len()
	}
	m.logger.WithField("attributes", count).Info("Mobile link bound, serving mirrored table")
}

func (m *MobileLink) handleWriteRequest(ev MobileWrite) {
	if m.state != MobileBound {
		m.peripheral.FinishWrite(ev.RequestID, ErrNotReady)
		return
	}
	mir := m.mirror()
	if mir == nil {
		m.peripheral.FinishWrite(ev.RequestID, ErrNotReady)
		return
	}

	attr, ok := mir.ByLocalHandle(ev.LocalHandle)
	if !ok {
		m.peripheral.FinishWrite(ev.RequestID, fmt.Errorf("no mirrored attribute at handle 0x%04x", ev.LocalHandle))
		return
	}
	if !attr.Props.Writable() {
		m.peripheral.FinishWrite(ev.RequestID, fmt.Errorf("attribute %s is not writable", attr.UUID))
		return
	}

	// Immediate acknowledgment when the target side accepts
	// write-without-response; otherwise the ack waits for the target's
	// confirmation through the forwarder.
	awaitAck := ev.WithResponse && !attr.Props.WriteWithoutResponse()

	if err := m.forwarder.EnqueueMobileWrite(attr, ev.Payload, awaitAck, ev.RequestID); err != nil {
		m.peripheral.FinishWrite(ev.RequestID, err)
		return
	}
	// Every accepted request is answered: the server-side handler blocks on
	// the completion whether or not an ATT response goes on air.
	if !awaitAck {
		m.peripheral.FinishWrite(ev.RequestID, nil)
	}

	m.logger.WithFields(logrus.Fields{
		"uuid":     attr.UUID,
		"bytes":    len(ev.Payload),
		"deferred": awaitAck,
	}).Trace("Mobile write accepted for relay")
}

func (m *MobileLink) handleReadRequest(ev MobileRead) {
	if m.state != MobileBound {
		m.peripheral.FinishRead(ev.RequestID, nil, ErrNotReady)
		return
	}
	mir := m.mirror()
	if mir == nil {
		m.peripheral.FinishRead(ev.RequestID, nil, ErrNotReady)
		return
	}

	attr, ok := mir.ByLocalHandle(ev.LocalHandle)
	if !ok {
		m.peripheral.FinishRead(ev.RequestID, nil, fmt.Errorf("no mirrored attribute at handle 0x%04x", ev.LocalHandle))
		return
	}
	if !attr.Props.Readable() {
		m.peripheral.FinishRead(ev.RequestID, nil, fmt.Errorf("attribute %s is not readable", attr.UUID))
		return
	}

	m.peripheral.FinishRead(ev.RequestID, attr.Value(), nil)
}

func (m *MobileLink) handleDisconnected(ev MobileDisconnected) {
	if m.state != MobileConnectedState && m.state != MobileBound {
		return
	}

	m.logger.WithField("handle", ev.Handle).Info("Mobile client disconnected")

	// Deferred acknowledgments have nowhere to go anymore.
	m.forwarder.DropPendingAcks()

	m.conn.Handle = 0
	m.conn.MTU = 0
	m.state = MobileDisconnectedState

	// A new client can connect as long as the mirrored content is live.
	if m.target.State() == TargetReady {
		if err := m.StartAdvertising(); err != nil {
			m.logger.WithError(err).Error("Failed to resume advertising after mobile disconnect")
		}
	}
}

// suspend withdraws the mirrored content after the target link dropped: the
// advertisement stops and a connected client degrades to NotReady answers.
func (m *MobileLink) suspend() {
	m.peripheral.ClearTable()

	switch m.state {
	case MobileAdvertising:
		m.peripheral.StopAdvertising()
		m.state = MobileIdle
		m.logger.Info("Advertising suspended, target link lost")
	case MobileBound:
		m.state = MobileConnectedState
		m.logger.Info("Mobile link unbound, target link lost")
	}
}
