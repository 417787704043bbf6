package bridge

import (
	"fmt"
	"time"
)

// Legacy advertising PDU budget. The service-data AD structure spends
// 2 bytes on length+type and 2 on the 16-bit UUID, leaving this much for
// the payload before the radio rejects the packet.
const maxServiceDataPayload = 27

// AdvertisingParams are the peripheral-role advertising knobs. Zero values
// mean "stack default".
type AdvertisingParams struct {
	IntervalMin  time.Duration
	IntervalMax  time.Duration
	ChannelMap   uint8  // bitmask of advertising channels 37/38/39, 0 = all
	FilterPolicy string // "", "allow-any", "scan-whitelist", "conn-whitelist", "whitelist"
}

// AdvertisementIdentity is the spoofed identity presented to the mobile app:
// the advertised name, service UUID and service-data payload copied from the
// original device. The template is immutable at startup; the service-data
// payload may be substituted at runtime via WithServiceData.
type AdvertisementIdentity struct {
	LocalName       string
	ServiceUUID     string // 128-bit, transmitted little-endian by the stack
	ServiceDataUUID uint16
	ServiceData     []byte
	Params          AdvertisingParams
}

// Validate checks the identity can be encoded into a legal advertisement.
// Failures carry the AdvertiseConfig error code.
func (id AdvertisementIdentity) Validate() error {
	if id.LocalName == "" && id.ServiceUUID == "" {
		return codedError(AdvertiseConfig, fmt.Errorf("identity has neither local name nor service UUID"))
	}
	if len(id.ServiceData) > maxServiceDataPayload {
		return codedError(AdvertiseConfig, fmt.Errorf(
			"service data payload is %d bytes, advertising PDU allows at most %d",
			len(id.ServiceData), maxServiceDataPayload))
	}
	if len(id.ServiceData) > 0 && id.ServiceDataUUID == 0 {
		return codedError(AdvertiseConfig, fmt.Errorf("service data payload set but service data UUID is zero"))
	}
	if p := id.Params; p.IntervalMin > 0 && p.IntervalMax > 0 && p.IntervalMax < p.IntervalMin {
		return codedError(AdvertiseConfig, fmt.Errorf("advertising interval max %v below min %v", p.IntervalMax, p.IntervalMin))
	}
	if id.Params.ChannelMap > 0x07 {
		return codedError(AdvertiseConfig, fmt.Errorf("channel map 0x%02x has bits beyond channels 37/38/39", id.Params.ChannelMap))
	}
	switch id.Params.FilterPolicy {
	case "", "allow-any", "scan-whitelist", "conn-whitelist", "whitelist":
	default:
		return codedError(AdvertiseConfig, fmt.Errorf("unknown filter policy %q", id.Params.FilterPolicy))
	}
	return nil
}

// IsSet reports whether the identity template has been configured.
func (id AdvertisementIdentity) IsSet() bool {
	return id.LocalName != "" || id.ServiceUUID != ""
}

// WithServiceData returns a copy of the identity with the service-data
// payload replaced. The original template is left untouched.
func (id AdvertisementIdentity) WithServiceData(payload []byte) AdvertisementIdentity {
	clone := id
	clone.ServiceData = make([]byte, len(payload))
	copy(clone.ServiceData, payload)
	return clone
}
