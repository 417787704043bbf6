// Package goble adapts the go-ble stack to the bridge's port interfaces.
// Central drives the link to the target device, Peripheral serves the
// mirrored profile to the mobile app. Each wraps its own ble.Device so the
// two roles can run on separate HCI adapters.
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
	"github.com/srg/blemirror/internal/ringchan"
)

// preferredMTU is requested from the target during the ATT MTU exchange.
const preferredMTU = 185

// writeQueueCapacity bounds the writer worker's inbox. The forwarder's
// outstanding-write window keeps the real depth far below this.
const writeQueueCapacity = 64

var errLinkLost = errors.New("target link lost")

// targetWrite is one queued ATT write toward the target.
type targetWrite struct {
	char    *ble.Characteristic
	payload []byte
	noRsp   bool
	seq     uint64
}

// Central implements bridge.CentralPort over a go-ble client connection.
// Every port method returns immediately; results are posted as bridge events
// from worker goroutines.
type Central struct {
	dev    ble.Device
	post   func(bridge.Event)
	logger *logrus.Logger

	mu       sync.Mutex
	client   ble.Client
	services map[string]*ble.Service
	chars    map[uint16]*ble.Characteristic
	connSeq  uint16

	// writeFn is the live client's WriteCharacteristic, nil while the link is
	// down. All writes funnel through a single worker so they reach the
	// target in the order the forwarder issued them.
	writeFn func(*ble.Characteristic, []byte, bool) error
	writes  *ringchan.RingChannel[targetWrite]
}

// NewCentral wraps a ble.Device as the bridge's central-role port.
func NewCentral(dev ble.Device, post func(bridge.Event), logger *logrus.Logger) *Central {
	if logger == nil {
		logger = logrus.New()
	}
	c := &Central{
		dev:      dev,
		post:     post,
		logger:   logger,
		services: make(map[string]*ble.Service),
		chars:    make(map[uint16]*ble.Characteristic),
		writes:   ringchan.New[targetWrite](writeQueueCapacity),
	}
	groutine.Go(context.Background(), "goble-central-writer", c.writeLoop)
	return c
}

// Connect dials the target and runs the MTU exchange. Emits TargetConnected
// or TargetConnectFailed.
func (c *Central) Connect(desc bridge.TargetDescriptor, timeout time.Duration) {
	groutine.Go(context.Background(), "goble-central-connect", func(ctx context.Context) {
		dialCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		client, err := c.dev.Dial(dialCtx, ble.NewAddr(desc.Address))
		if err != nil {
			code := bridge.ConnectRejected
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(dialCtx.Err(), context.DeadlineExceeded) {
				code = bridge.ConnectTimeout
			}
			c.post(bridge.TargetConnectFailed{Err: &bridge.Error{Code: code, Msg: err.Error()}})
			return
		}

		mtu, err := client.ExchangeMTU(preferredMTU)
		if err != nil {
			c.logger.WithError(err).Debug("MTU exchange failed, assuming default")
			mtu = bridge.DefaultMTU
		}

		c.mu.Lock()
		c.client = client
		c.writeFn = client.WriteCharacteristic
		c.services = make(map[string]*ble.Service)
		c.chars = make(map[uint16]*ble.Characteristic)
		c.connSeq++
		handle := c.connSeq
		c.mu.Unlock()

		c.watchDisconnect(client)

		c.logger.WithFields(logrus.Fields{
			"address": desc.Address,
			"mtu":     mtu,
		}).Debug("Central link established")
		c.post(bridge.TargetConnected{Handle: handle, MTU: mtu})
	})
}

// watchDisconnect posts TargetDisconnected when the stack reports the link
// gone, whether the peer dropped it or Disconnect tore it down.
func (c *Central) watchDisconnect(client ble.Client) {
	groutine.Go(context.Background(), "goble-central-monitor", func(ctx context.Context) {
		<-client.Disconnected()

		c.mu.Lock()
		if c.client == client {
			c.client = nil
			c.writeFn = nil
		}
		c.mu.Unlock()

		c.post(bridge.TargetDisconnected{Reason: errLinkLost})
	})
}

// DiscoverServices enumerates primary services, optionally restricted to one
// UUID. Emits TargetServiceFound events terminated by
// TargetServiceDiscoveryDone.
func (c *Central) DiscoverServices(filter string) {
	groutine.Go(context.Background(), "goble-central-svc-discovery", func(ctx context.Context) {
		client := c.currentClient()
		if client == nil {
			c.post(bridge.TargetServiceDiscoveryDone{Err: errLinkLost})
			return
		}

		var filterUUIDs []ble.UUID
		if filter != "" {
			u, err := ble.Parse(bledb.NormalizeUUID(filter))
			if err != nil {
				c.post(bridge.TargetServiceDiscoveryDone{Err: fmt.Errorf("service filter %q: %w", filter, err)})
				return
			}
			filterUUIDs = []ble.UUID{u}
		}

		svcs, err := client.DiscoverServices(filterUUIDs)
		if err != nil {
			c.post(bridge.TargetServiceDiscoveryDone{Err: err})
			return
		}

		for _, svc := range svcs {
			uuid := bledb.NormalizeUUID(svc.UUID.String())
			c.mu.Lock()
			c.services[uuid] = svc
			c.mu.Unlock()
			c.post(bridge.TargetServiceFound{Service: bridge.DiscoveredService{UUID: uuid}})
		}
		c.post(bridge.TargetServiceDiscoveryDone{})
	})
}

// DiscoverCharacteristics enumerates the characteristics of one previously
// discovered service.
func (c *Central) DiscoverCharacteristics(serviceUUID string) {
	groutine.Go(context.Background(), "goble-central-char-discovery", func(ctx context.Context) {
		client := c.currentClient()
		c.mu.Lock()
		svc := c.services[serviceUUID]
		c.mu.Unlock()

		if client == nil || svc == nil {
			c.post(bridge.TargetCharDiscoveryDone{
				ServiceUUID: serviceUUID,
				Err:         fmt.Errorf("service %s not available for discovery", serviceUUID),
			})
			return
		}

		chars, err := client.DiscoverCharacteristics(nil, svc)
		if err != nil {
			c.post(bridge.TargetCharDiscoveryDone{ServiceUUID: serviceUUID, Err: err})
			return
		}

		for _, char := range chars {
			c.mu.Lock()
			c.chars[char.ValueHandle] = char
			c.mu.Unlock()
			c.post(bridge.TargetCharacteristicFound{
				ServiceUUID: serviceUUID,
				Char: bridge.DiscoveredCharacteristic{
					UUID:   bledb.NormalizeUUID(char.UUID.String()),
					Handle: char.ValueHandle,
					Props:  propsFromBLE(char.Property),
				},
			})
		}
		c.post(bridge.TargetCharDiscoveryDone{ServiceUUID: serviceUUID})
	})
}

// Subscribe enables value pushes for a discovered characteristic. Incoming
// data surfaces as TargetNotification events.
func (c *Central) Subscribe(char bridge.DiscoveredCharacteristic, indication bool) {
	groutine.Go(context.Background(), "goble-central-subscribe", func(ctx context.Context) {
		client := c.currentClient()
		c.mu.Lock()
		bleChar := c.chars[char.Handle]
		c.mu.Unlock()
		if client == nil || bleChar == nil {
			c.logger.WithField("uuid", char.UUID).Warn("Subscribe requested for unavailable characteristic")
			return
		}

		handle := char.Handle
		err := client.Subscribe(bleChar, indication, func(data []byte) {
			c.post(bridge.TargetNotification{
				TargetHandle: handle,
				Payload:      append([]byte(nil), data...),
				Indication:   indication,
			})
		})
		if err != nil {
			c.logger.WithError(err).WithFields(logrus.Fields{
				"uuid":       char.UUID,
				"indication": indication,
			}).Warn("Failed to subscribe to target characteristic")
		}
	})
}

// Write queues a payload for the writer worker and returns immediately. The
// outcome arrives as a TargetWriteResult carrying seq. Queued writes reach
// the target strictly in submission order.
func (c *Central) Write(targetHandle uint16, payload []byte, withResponse bool, seq uint64) {
	c.mu.Lock()
	bleChar := c.chars[targetHandle]
	c.mu.Unlock()
	if bleChar == nil {
		c.post(bridge.TargetWriteResult{Seq: seq, Err: errLinkLost})
		return
	}

	w := targetWrite{char: bleChar, payload: payload, noRsp: !withResponse, seq: seq}
	if !c.writes.TrySend(w) {
		c.post(bridge.TargetWriteResult{Seq: seq, Err: &bridge.Error{
			Code: bridge.Overloaded,
			Msg:  "target write queue full",
		}})
	}
}

// writeLoop is the single writer toward the target's ATT layer, preserving
// the forwarder's FIFO order on the radio.
func (c *Central) writeLoop(ctx context.Context) {
	for w := range c.writes.C() {
		c.mu.Lock()
		write := c.writeFn
		c.mu.Unlock()

		if write == nil {
			c.post(bridge.TargetWriteResult{Seq: w.seq, Err: errLinkLost})
			continue
		}
		err := write(w.char, w.payload, w.noRsp)
		c.post(bridge.TargetWriteResult{Seq: w.seq, Err: err})
	}
}

// Disconnect tears the link down. The disconnect monitor emits the
// TargetDisconnected event once the stack confirms.
func (c *Central) Disconnect() {
	client := c.currentClient()
	if client == nil {
		return
	}
	if err := client.CancelConnection(); err != nil {
		c.logger.WithError(err).Warn("Failed to cancel target connection")
	}
}

func (c *Central) currentClient() ble.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client
}
