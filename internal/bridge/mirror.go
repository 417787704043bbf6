package bridge

import (
	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/blemirror/internal/bledb"
)

// mirrorHandleBase is the first local handle assigned to a mirrored
// attribute. Handles below it stay free for the GAP/GATT services the local
// stack owns.
const mirrorHandleBase uint16 = 0x0010

// MirroredAttribute pairs a local server-side attribute with the target
// characteristic it shadows. Created only after target discovery completes;
// invalidated en masse on target disconnect.
type MirroredAttribute struct {
	LocalHandle  uint16
	TargetHandle uint16
	ServiceUUID  string
	UUID         string
	Props        Props

	value []byte // cached last-known value, served to mobile reads
}

// Value returns the cached last-known value, nil if nothing was seen yet.
func (a *MirroredAttribute) Value() []byte {
	return a.value
}

// Mirror is the local attribute table built from a completed target
// discovery. UUIDs and properties are copied verbatim so the mobile app's
// own discovery sees a profile indistinguishable from the original device;
// handles are assigned locally.
type Mirror struct {
	byLocal  *orderedmap.OrderedMap[uint16, *MirroredAttribute]
	byTarget map[uint16]uint16 // target value handle -> local handle
}

// BuildMirror produces the local attribute table for a discovered
// service/characteristic set. It is a pure transformation and idempotent:
// the same input yields the same UUID/property structure and the same handle
// assignment, in discovery order.
func BuildMirror(services []DiscoveredService, logger *logrus.Logger) *Mirror {
	m := &Mirror{
		byLocal:  orderedmap.New[uint16, *MirroredAttribute](),
		byTarget: make(map[uint16]uint16),
	}

	next := mirrorHandleBase
	for _, svc := range services {
		for _, char := range svc.Characteristics {
			attr := &MirroredAttribute{
				LocalHandle:  next,
				TargetHandle: char.Handle,
				ServiceUUID:  svc.UUID,
				UUID:         char.UUID,
				Props:        char.Props,
			}
			m.byLocal.Set(attr.LocalHandle, attr)
			m.byTarget[attr.TargetHandle] = attr.LocalHandle
			next++

			if logger != nil {
				logger.WithFields(logrus.Fields{
					"service":       svc.UUID,
					"uuid":          char.UUID,
					"known_name":    bledb.LookupCharacteristic(char.UUID),
					"target_handle": char.Handle,
					"local_handle":  attr.LocalHandle,
					"props":         char.Props.String(),
				}).Debug("Mirrored characteristic")
			}
		}
	}

	return m
}

// ByLocalHandle returns the attribute serving the given local handle.
func (m *Mirror) ByLocalHandle(handle uint16) (*MirroredAttribute, bool) {
	return m.byLocal.Get(handle)
}

// ByTargetHandle returns the attribute shadowing the given target handle.
func (m *Mirror) ByTargetHandle(handle uint16) (*MirroredAttribute, bool) {
	local, ok := m.byTarget[handle]
	if !ok {
		return nil, false
	}
	return m.byLocal.Get(local)
}

// Attributes returns all mirrored attributes in stable handle order.
func (m *Mirror) Attributes() []*MirroredAttribute {
	attrs := make([]*MirroredAttribute, 0, m.byLocal.Len())
	for pair := m.byLocal.Oldest(); pair != nil; pair = pair.Next() {
		attrs = append(attrs, pair.Value)
	}
	return attrs
}

// Len returns the number of mirrored attributes.
func (m *Mirror) Len() int {
	return m.byLocal.Len()
}

// CacheValue stores the last-known value for a target handle so subsequent
// mobile reads are answered locally.
func (m *Mirror) CacheValue(targetHandle uint16, payload []byte) {
	attr, ok := m.ByTargetHandle(targetHandle)
	if !ok {
		return
	}
	attr.value = make([]byte, len(payload))
	copy(attr.value, payload)
}

// Services regroups the mirrored attributes by their originating service,
// preserving order. Used when installing the table on the local GATT server.
func (m *Mirror) Services() []DiscoveredService {
	var out []DiscoveredService
	index := make(map[string]int)
	for pair := m.byLocal.Oldest(); pair != nil; pair = pair.Next() {
		attr := pair.Value
		i, ok := index[attr.ServiceUUID]
		if !ok {
			i = len(out)
			index[attr.ServiceUUID] = i
			out = append(out, DiscoveredService{UUID: attr.ServiceUUID})
		}
		out[i].Characteristics = append(out[i].Characteristics, DiscoveredCharacteristic{
			UUID:   attr.UUID,
			Handle: attr.LocalHandle,
			Props:  attr.Props,
		})
	}
	return out
}
