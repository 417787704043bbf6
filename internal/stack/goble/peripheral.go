package goble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/blemirror/internal/bledb"
	"github.com/srg/blemirror/internal/bridge"
	"github.com/srg/blemirror/internal/groutine"
)

// requestTimeout bounds how long a GATT request handler waits for the bridge
// to answer before returning an ATT error to the mobile app.
const requestTimeout = 2 * time.Second

type readResult struct {
	value []byte
	err   error
}

// Peripheral implements bridge.PeripheralPort over a go-ble server device.
// Request handlers run on stack goroutines; they post events into the bridge
// funnel and block on the correlated Finish call.
type Peripheral struct {
	dev    ble.Device
	post   func(bridge.Event)
	logger *logrus.Logger

	mu         sync.Mutex
	notifiers  map[uint16]ble.Notifier // local handle -> notify subscriber
	indicators map[uint16]ble.Notifier // local handle -> indicate subscriber
	conns      map[string]uint16       // remote address -> synthetic handle
	connSeq    uint16

	reqMu         sync.Mutex
	reqSeq        uint64
	pendingWrites map[uint64]chan error
	pendingReads  map[uint64]chan readResult

	advMu     sync.Mutex
	advCancel context.CancelFunc
}

// NewPeripheral wraps a ble.Device as the bridge's peripheral-role port.
func NewPeripheral(dev ble.Device, post func(bridge.Event), logger *logrus.Logger) *Peripheral {
	if logger == nil {
		logger = logrus.New()
	}
	return &Peripheral{
		dev:           dev,
		post:          post,
		logger:        logger,
		notifiers:     make(map[uint16]ble.Notifier),
		indicators:    make(map[uint16]ble.Notifier),
		conns:         make(map[string]uint16),
		pendingWrites: make(map[uint64]chan error),
		pendingReads:  make(map[uint64]chan readResult),
	}
}

// ServeTable installs the mirrored attributes on the local GATT server,
// grouped back into their originating services.
func (p *Peripheral) ServeTable(attrs []*bridge.MirroredAttribute) error {
	if err := p.dev.RemoveAllServices(); err != nil {
		return fmt.Errorf("clearing previous table: %w", err)
	}

	var (
		services []*ble.Service
		current  *ble.Service
		currUUID string
	)
	for _, attr := range attrs {
		if current == nil || attr.ServiceUUID != currUUID {
			u, err := ble.Parse(bledb.NormalizeUUID(attr.ServiceUUID))
			if err != nil {
				return fmt.Errorf("service UUID %q: %w", attr.ServiceUUID, err)
			}
			current = ble.NewService(u)
			currUUID = attr.ServiceUUID
			services = append(services, current)
		}

		charUUID, err := ble.Parse(bledb.NormalizeUUID(attr.UUID))
		if err != nil {
			return fmt.Errorf("characteristic UUID %q: %w", attr.UUID, err)
		}
		char := current.NewCharacteristic(charUUID)
		p.attachHandlers(char, attr)
	}

	for _, svc := range services {
		if err := p.dev.AddService(svc); err != nil {
			return fmt.Errorf("adding service %s: %w", svc.UUID, err)
		}
	}

	p.logger.WithFields(logrus.Fields{
		"services":   len(services),
		"attributes": len(attrs),
	}).Debug("Mirrored table installed on local server")
	return nil
}

// attachHandlers wires one mirrored characteristic. The handler set follows
// the mirrored property bits so the app's discovery sees the same profile
// the target exposes.
func (p *Peripheral) attachHandlers(char *ble.Characteristic, attr *bridge.MirroredAttribute) {
	localHandle := attr.LocalHandle
	withResponse := attr.Props&bridge.PropWrite != 0

	if attr.Props.Readable() {
		char.HandleRead(ble.ReadHandlerFunc(func(req ble.Request, rsp ble.ResponseWriter) {
			p.trackConn(req.Conn())
			id, ch := p.newReadRequest()
			p.post(bridge.MobileRead{LocalHandle: localHandle, RequestID: id})

			select {
			case res := <-ch:
				if res.err != nil {
					rsp.SetStatus(attError(res.err))
					return
				}
				if _, err := rsp.Write(res.value); err != nil {
					p.logger.WithError(err).Debug("Read response write failed")
				}
			case <-time.After(requestTimeout):
				p.dropReadRequest(id)
				rsp.SetStatus(ble.ErrUnlikely)
			}
		}))
	}

	if attr.Props.Writable() {
		char.HandleWrite(ble.WriteHandlerFunc(func(req ble.Request, rsp ble.ResponseWriter) {
			p.trackConn(req.Conn())
			id, ch := p.newWriteRequest()
			p.post(bridge.MobileWrite{
				LocalHandle:  localHandle,
				Payload:      append([]byte(nil), req.Data()...),
				WithResponse: withResponse,
				RequestID:    id,
			})

			select {
			case err := <-ch:
				if err != nil {
					rsp.SetStatus(attError(err))
				}
			case <-time.After(requestTimeout):
				p.dropWriteRequest(id)
				rsp.SetStatus(ble.ErrUnlikely)
			}
		}))
	}

	if attr.Props.Notifiable() {
		char.HandleNotify(ble.NotifyHandlerFunc(func(req ble.Request, ntf ble.Notifier) {
			p.trackConn(req.Conn())
			p.registerNotifier(p.notifiers, localHandle, ntf)
			<-ntf.Context().Done()
			p.unregisterNotifier(p.notifiers, localHandle, ntf)
		}))
	}

	if attr.Props.Indicatable() {
		char.HandleIndicate(ble.NotifyHandlerFunc(func(req ble.Request, ntf ble.Notifier) {
			p.trackConn(req.Conn())
			p.registerNotifier(p.indicators, localHandle, ntf)
			<-ntf.Context().Done()
			p.unregisterNotifier(p.indicators, localHandle, ntf)
		}))
	}
}

// ClearTable removes all served services after the mirror is invalidated.
func (p *Peripheral) ClearTable() {
	if err := p.dev.RemoveAllServices(); err != nil {
		p.logger.WithError(err).Warn("Failed to clear served table")
	}

	p.mu.Lock()
	p.notifiers = make(map[uint16]ble.Notifier)
	p.indicators = make(map[uint16]ble.Notifier)
	p.mu.Unlock()
}

// StartAdvertising puts the spoofed identity on air until StopAdvertising or
// a stack error. Identity encoding problems fail synchronously.
func (p *Peripheral) StartAdvertising(identity bridge.AdvertisementIdentity) error {
	adv, err := newSpoofedAdv(identity)
	if err != nil {
		return err
	}

	p.advMu.Lock()
	if p.advCancel != nil {
		p.advCancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.advCancel = cancel
	p.advMu.Unlock()

	groutine.Go(ctx, "goble-peripheral-advertise", func(ctx context.Context) {
		p.post(bridge.AdvertisingStarted{})
		err := p.dev.Advertise(ctx, adv)
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		p.post(bridge.AdvertisingStopped{Err: err})
	})
	return nil
}

// StopAdvertising halts the advertising loop.
func (p *Peripheral) StopAdvertising() {
	p.advMu.Lock()
	defer p.advMu.Unlock()
	if p.advCancel != nil {
		p.advCancel()
		p.advCancel = nil
	}
}

// Notify pushes a relayed payload to the subscribed mobile app.
func (p *Peripheral) Notify(localHandle uint16, payload []byte, indication bool) error {
	p.mu.Lock()
	reg := p.notifiers
	if indication {
		reg = p.indicators
	}
	ntf := reg[localHandle]
	p.mu.Unlock()

	if ntf == nil {
		return fmt.Errorf("no subscriber on local handle 0x%04x", localHandle)
	}
	if _, err := ntf.Write(payload); err != nil {
		return fmt.Errorf("pushing to local handle 0x%04x: %w", localHandle, err)
	}
	return nil
}

// FinishWrite completes a pending write request.
func (p *Peripheral) FinishWrite(requestID uint64, err error) {
	p.reqMu.Lock()
	ch := p.pendingWrites[requestID]
	delete(p.pendingWrites, requestID)
	p.reqMu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- err:
	default:
	}
}

// FinishRead completes a pending read request.
func (p *Peripheral) FinishRead(requestID uint64, value []byte, err error) {
	p.reqMu.Lock()
	ch := p.pendingReads[requestID]
	delete(p.pendingReads, requestID)
	p.reqMu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- readResult{value: value, err: err}:
	default:
	}
}

func (p *Peripheral) newWriteRequest() (uint64, chan error) {
	ch := make(chan error, 1)
	p.reqMu.Lock()
	p.reqSeq++
	id := p.reqSeq
	p.pendingWrites[id] = ch
	p.reqMu.Unlock()
	return id, ch
}

func (p *Peripheral) newReadRequest() (uint64, chan readResult) {
	ch := make(chan readResult, 1)
	p.reqMu.Lock()
	p.reqSeq++
	id := p.reqSeq
	p.pendingReads[id] = ch
	p.reqMu.Unlock()
	return id, ch
}

func (p *Peripheral) dropWriteRequest(id uint64) {
	p.reqMu.Lock()
	delete(p.pendingWrites, id)
	p.reqMu.Unlock()
}

func (p *Peripheral) dropReadRequest(id uint64) {
	p.reqMu.Lock()
	delete(p.pendingReads, id)
	p.reqMu.Unlock()
}

func (p *Peripheral) registerNotifier(reg map[uint16]ble.Notifier, handle uint16, ntf ble.Notifier) {
	p.mu.Lock()
	reg[handle] = ntf
	p.mu.Unlock()
}

func (p *Peripheral) unregisterNotifier(reg map[uint16]ble.Notifier, handle uint16, ntf ble.Notifier) {
	p.mu.Lock()
	if reg[handle] == ntf {
		delete(reg, handle)
	}
	p.mu.Unlock()
}

// trackConn detects mobile connections from served requests. The stack does
// not surface connect events directly; the first request from a new peer is
// the connect signal, and its Disconnected channel is the disconnect signal.
func (p *Peripheral) trackConn(conn ble.Conn) {
	if conn == nil {
		return
	}
	addr := conn.RemoteAddr().String()

	p.mu.Lock()
	if _, known := p.conns[addr]; known {
		p.mu.Unlock()
		return
	}
	p.connSeq++
	handle := p.connSeq
	p.conns[addr] = handle
	p.mu.Unlock()

	mtu := conn.TxMTU()
	p.logger.WithFields(logrus.Fields{
		"address": addr,
		"mtu":     mtu,
	}).Debug("Mobile connection observed")
	p.post(bridge.MobileConnected{Handle: handle, MTU: mtu})

	groutine.Go(context.Background(), "goble-peripheral-conn-monitor", func(ctx context.Context) {
		<-conn.Disconnected()

		p.mu.Lock()
		delete(p.conns, addr)
		p.mu.Unlock()

		p.post(bridge.MobileDisconnected{Handle: handle})
	})
}

// attError translates a bridge error into the ATT response status served to
// the mobile app.
func attError(err error) ble.ATTError {
	switch {
	case bridge.IsCode(err, bridge.PayloadTooLarge):
		return ble.ErrInvalAttrValueLen
	case bridge.IsCode(err, bridge.Overloaded):
		return ble.ErrInsuffResources
	case bridge.IsCode(err, bridge.NotReady):
		return ble.ErrUnlikely
	default:
		return ble.ErrUnlikely
	}
}
