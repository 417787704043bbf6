package goble

import (
	"fmt"

	"github.com/go-ble/ble"

	"github.com/srg/blemirror/internal/bledb"
	"github.com/srg/blemirror/internal/bridge"
)

// spoofedAdv implements ble.Advertisement with the captured identity of the
// target device, so the stack puts the original name, service UUID and
// service-data payload on air.
type spoofedAdv struct {
	localName   string
	services    []ble.UUID
	serviceData []ble.ServiceData
}

func newSpoofedAdv(identity bridge.AdvertisementIdentity) (*spoofedAdv, error) {
	adv := &spoofedAdv{localName: identity.LocalName}

	if identity.ServiceUUID != "" {
		u, err := ble.Parse(bledb.NormalizeUUID(identity.ServiceUUID))
		if err != nil {
			return nil, fmt.Errorf("service UUID %q: %w", identity.ServiceUUID, err)
		}
		adv.services = []ble.UUID{u}
	}
	if len(identity.ServiceData) > 0 {
		adv.serviceData = []ble.ServiceData{{
			UUID: ble.UUID16(identity.ServiceDataUUID),
			Data: append([]byte(nil), identity.ServiceData...),
		}}
	}
	return adv, nil
}

func (a *spoofedAdv) LocalName() string              { return a.localName }
func (a *spoofedAdv) ManufacturerData() []byte       { return nil }
func (a *spoofedAdv) ServiceData() []ble.ServiceData { return a.serviceData }
func (a *spoofedAdv) Services() []ble.UUID           { return a.services }
func (a *spoofedAdv) OverflowService() []ble.UUID    { return nil }
func (a *spoofedAdv) TxPowerLevel() int              { return 0 }
func (a *spoofedAdv) Connectable() bool              { return true }
func (a *spoofedAdv) SolicitedService() []ble.UUID   { return nil }
func (a *spoofedAdv) RSSI() int                      { return 0 }
func (a *spoofedAdv) Addr() ble.Addr                 { return nil }
