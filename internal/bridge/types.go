// Package bridge implements the dual-role interception engine: a central-role
// link to the real target device and a peripheral-role link serving an
// identical GATT profile to the mobile app, with attribute traffic relayed
// between the two.
//
// All state in this package is owned by a single Dispatcher goroutine; the
// radio stack adapters feed it through a serialized event funnel and never
// touch manager state directly.
package bridge

import (
	"fmt"
	"regexp"
	"strings"
)

// AddrType tags a BLE device address as public or random.
type AddrType string

const (
	AddrPublic AddrType = "public"
	AddrRandom AddrType = "random"
)

var addrPattern = regexp.MustCompile(`^(?i:[0-9a-f]{2}:){5}[0-9a-f]{2}$`)

// TargetDescriptor identifies the real device the bridge connects to.
// Immutable per session; set by configuration, never mutated at runtime.
type TargetDescriptor struct {
	Address       string   // canonical aa:bb:cc:dd:ee:ff form
	AddrType      AddrType // public or random
	ServiceFilter string   // optional: restrict mirroring to one service UUID
}

// Validate checks the descriptor is usable for a direct connection.
func (d TargetDescriptor) Validate() error {
	if d.Address == "" {
		return fmt.Errorf("target address is empty")
	}
	if !addrPattern.MatchString(d.Address) {
		return fmt.Errorf("target address %q is not a valid BLE address", d.Address)
	}
	switch d.AddrType {
	case AddrPublic, AddrRandom:
	case "":
		return fmt.Errorf("target address type is empty (must be public or random)")
	default:
		return fmt.Errorf("unknown address type %q", d.AddrType)
	}
	return nil
}

// IsSet reports whether the descriptor has been configured at all.
func (d TargetDescriptor) IsSet() bool {
	return d.Address != ""
}

// Props is the ATT characteristic property bitfield. The bit layout matches
// the Bluetooth Core spec so discovered properties can be mirrored verbatim.
type Props uint8

const (
	PropBroadcast Props = 1 << iota
	PropRead
	PropWriteNR
	PropWrite
	PropNotify
	PropIndicate
	PropSignedWrite
	PropExtended
)

// Readable reports whether the Read property bit is set.
func (p Props) Readable() bool { return p&PropRead != 0 }

// Writable reports whether either write property bit is set.
func (p Props) Writable() bool { return p&(PropWrite|PropWriteNR) != 0 }

// WriteWithoutResponse reports whether the WriteNR property bit is set.
func (p Props) WriteWithoutResponse() bool { return p&PropWriteNR != 0 }

// Notifiable reports whether the Notify property bit is set.
func (p Props) Notifiable() bool { return p&PropNotify != 0 }

// Indicatable reports whether the Indicate property bit is set.
func (p Props) Indicatable() bool { return p&PropIndicate != 0 }

func (p Props) String() string {
	names := []struct {
		bit  Props
		name string
	}{
		{PropBroadcast, "broadcast"},
		{PropRead, "read"},
		{PropWriteNR, "write-without-response"},
		{PropWrite, "write"},
		{PropNotify, "notify"},
		{PropIndicate, "indicate"},
		{PropSignedWrite, "signed-write"},
		{PropExtended, "extended"},
	}
	var set []string
	for _, n := range names {
		if p&n.bit != 0 {
			set = append(set, n.name)
		}
	}
	if len(set) == 0 {
		return "none"
	}
	return strings.Join(set, "|")
}

// DiscoveredCharacteristic is one characteristic enumerated on the target.
// Owned by the target link manager; read-only input to the mirror once
// discovery completes.
type DiscoveredCharacteristic struct {
	UUID   string
	Handle uint16 // value handle on the target
	Props  Props
}

// DiscoveredService is one service enumerated on the target.
type DiscoveredService struct {
	UUID            string
	Characteristics []DiscoveredCharacteristic
}

// LinkRole distinguishes the two connection states the bridge maintains.
type LinkRole string

const (
	RoleCentral    LinkRole = "central"
	RolePeripheral LinkRole = "peripheral"
)

// DefaultMTU is the ATT MTU assumed until an exchange completes.
const DefaultMTU = 23

// attHeaderLen is the ATT opcode+handle overhead of a notification or write
// PDU; the usable payload per PDU is MTU - attHeaderLen.
const attHeaderLen = 3

// ConnectionState tracks one link. Owned exclusively by its link manager;
// the forwarding engine only reads it.
type ConnectionState struct {
	Role   LinkRole
	Handle uint16
	MTU    int
}

// MaxPayload returns the largest attribute payload the link carries in a
// single PDU.
func (c ConnectionState) MaxPayload() int {
	mtu := c.MTU
	if mtu <= 0 {
		mtu = DefaultMTU
	}
	return mtu - attHeaderLen
}
