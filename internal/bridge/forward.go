package bridge

import (
	"sync/atomic"
	"time"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/sirupsen/logrus"
)

// Direction tags which way a forwarded payload travels.
type Direction int

const (
	TargetToMobile Direction = iota
	MobileToTarget
)

func (d Direction) String() string {
	if d == TargetToMobile {
		return "target->mobile"
	}
	return "mobile->target"
}

// QueueEntry is one pending relay. Transient; exists only between receipt
// and relay.
type QueueEntry struct {
	Direction    Direction
	LocalHandle  uint16
	TargetHandle uint16
	Payload      []byte
	Seq          uint64
	WithResponse bool
	AwaitAck     bool   // mobile still waits for a deferred write response
	RequestID    uint64 // peripheral request to answer when AwaitAck
}

// TrafficEvent is the observer-facing record of one relayed payload.
type TrafficEvent struct {
	Direction    Direction `json:"-"`
	Dir          string    `json:"direction"`
	UUID         string    `json:"uuid"`
	LocalHandle  uint16    `json:"local_handle"`
	TargetHandle uint16    `json:"target_handle"`
	Payload      []byte    `json:"payload"`
	Seq          uint64    `json:"seq"`
	TsUs         int64     `json:"ts_us"`
}

// ForwardingStats counts relay outcomes. Written only from the dispatcher
// goroutine, read from anywhere.
type ForwardingStats struct {
	RelayedToTarget   uint64
	RelayedToMobile   uint64
	DroppedNotBound   uint64
	DroppedUnknown    uint64
	FailedWrites      uint64
	FailedNotifies    uint64
	OversizedNotifies uint64
}

// ForwarderOptions bounds the mobile->target queue and the outstanding-write
// window toward the target's ATT layer.
type ForwarderOptions struct {
	QueueCapacity uint32
	WriteWindow   int
}

// DefaultForwarderOptions returns the production defaults: a few dozen
// queued writes, four in flight.
func DefaultForwarderOptions() ForwarderOptions {
	return ForwarderOptions{
		QueueCapacity: 32,
		WriteWindow:   4,
	}
}

// Forwarder relays attribute values between the two links. Each direction is
// an independent FIFO: mobile writes pass through a bounded ring queue gated
// by the outstanding-write window, target notifications relay immediately or
// are dropped (counted) while the mobile link is not bound. Payloads are
// never mutated, truncated, or reordered within a direction.
//
// All methods run on the dispatcher goroutine except Stats.
type Forwarder struct {
	central    CentralPort
	peripheral PeripheralPort
	target     *TargetLink
	mobile     *MobileLink
	mirror     func() *Mirror

	queue       mpmc.RingBuffer[*QueueEntry]
	window      int
	outstanding int
	inFlight    map[uint64]*QueueEntry

	seqToTarget uint64
	seqToMobile uint64

	onTraffic func(TrafficEvent)
	stats     ForwardingStats
	logger    *logrus.Logger
}

// NewForwarder wires a forwarding engine between the two link managers.
// mirror is an accessor because the table is rebuilt on every target
// reconnect.
func NewForwarder(central CentralPort, peripheral PeripheralPort, target *TargetLink, mobile *MobileLink,
	mirror func() *Mirror, opts ForwarderOptions, logger *logrus.Logger) *Forwarder {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.QueueCapacity == 0 {
		opts.QueueCapacity = DefaultForwarderOptions().QueueCapacity
	}
	if opts.WriteWindow <= 0 {
		opts.WriteWindow = DefaultForwarderOptions().WriteWindow
	}

	return &Forwarder{
		central:    central,
		peripheral: peripheral,
		target:     target,
		mobile:     mobile,
		mirror:     mirror,
		queue:      mpmc.New[*QueueEntry](opts.QueueCapacity),
		window:     opts.WriteWindow,
		inFlight:   make(map[uint64]*QueueEntry),
		logger:     logger,
	}
}

// SetTrafficSink installs an observer for relayed payloads. The sink runs on
// the dispatcher goroutine and must not block.
func (f *Forwarder) SetTrafficSink(sink func(TrafficEvent)) {
	f.onTraffic = sink
}

// EnqueueMobileWrite accepts a validated mobile write for relay to the
// target. Returns NotReady, PayloadTooLarge, or Overloaded synchronously;
// acceptance guarantees exactly one target write in FIFO order.
func (f *Forwarder) EnqueueMobileWrite(attr *MirroredAttribute, payload []byte, awaitAck bool, requestID uint64) error {
	if f.target.State() != TargetReady {
		return ErrNotReady
	}
	if len(payload) > f.target.Conn().MaxPayload() {
		return ErrPayloadTooLarge
	}
	if f.queue.IsFull() {
		return ErrOverloaded
	}

	f.seqToTarget++
	entry := &QueueEntry{
		Direction:    MobileToTarget,
		LocalHandle:  attr.LocalHandle,
		TargetHandle: attr.TargetHandle,
		Payload:      append([]byte(nil), payload...),
		Seq:          f.seqToTarget,
		WithResponse: !attr.Props.WriteWithoutResponse(),
		AwaitAck:     awaitAck,
		RequestID:    requestID,
	}
	if err := f.queue.Enqueue(entry); err != nil {
		// Single producer, so a full queue is the only way Enqueue fails.
		f.seqToTarget--
		return codedError(Overloaded, err)
	}

	f.pump()
	return nil
}

// pump issues queued writes while the outstanding-write window has room.
func (f *Forwarder) pump() {
	for f.outstanding < f.window {
		entry, err := f.queue.Dequeue()
		if err != nil {
			return // queue drained
		}

		f.inFlight[entry.Seq] = entry
		f.outstanding++
		f.central.Write(entry.TargetHandle, entry.Payload, entry.WithResponse, entry.Seq)
		atomic.AddUint64(&f.stats.RelayedToTarget, 1)
		f.publish(entry, entry.TargetHandle)

		f.logger.WithFields(logrus.Fields{
			"seq":           entry.Seq,
			"target_handle": entry.TargetHandle,
			"bytes":         len(entry.Payload),
			"with_response": entry.WithResponse,
		}).Trace("Relayed mobile write to target")
	}
}

// HandleWriteResult processes the target's acceptance or rejection of a
// relayed write and releases window capacity.
func (f *Forwarder) HandleWriteResult(seq uint64, err error) {
	entry, ok := f.inFlight[seq]
	if !ok {
		// Stale completion from before a reset; the entry was discarded.
		return
	}
	delete(f.inFlight, seq)
	if f.outstanding > 0 {
		f.outstanding--
	}

	if entry.AwaitAck {
		f.peripheral.FinishWrite(entry.RequestID, err)
	}
	if err != nil {
		atomic.AddUint64(&f.stats.FailedWrites, 1)
		f.logger.WithError(err).WithField("seq", seq).Warn("Target rejected relayed write")
	}

	f.pump()
}

// RelayNotification forwards a target value push to the mobile link. While
// the mobile link is not bound the payload is dropped and counted, never
// queued.
func (f *Forwarder) RelayNotification(targetHandle uint16, payload []byte, indication bool) {
	mirror := f.mirror()
	if mirror == nil {
		atomic.AddUint64(&f.stats.DroppedUnknown, 1)
		return
	}
	attr, ok := mirror.ByTargetHandle(targetHandle)
	if !ok {
		atomic.AddUint64(&f.stats.DroppedUnknown, 1)
		f.logger.WithField("target_handle", targetHandle).Debug("Notification for unmirrored handle")
		return
	}

	mirror.CacheValue(targetHandle, payload)

	if f.mobile.State() != MobileBound {
		atomic.AddUint64(&f.stats.DroppedNotBound, 1)
		return
	}
	if len(payload) > f.mobile.Conn().MaxPayload() {
		atomic.AddUint64(&f.stats.OversizedNotifies, 1)
		f.logger.WithFields(logrus.Fields{
			"uuid":  attr.UUID,
			"bytes": len(payload),
			"mtu":   f.mobile.Conn().MTU,
		}).Warn("Notification exceeds mobile MTU, not relayed")
		return
	}

	f.seqToMobile++
	entry := &QueueEntry{
		Direction:    TargetToMobile,
		LocalHandle:  attr.LocalHandle,
		TargetHandle: targetHandle,
		Payload:      payload,
		Seq:          f.seqToMobile,
	}
	if err := f.peripheral.Notify(attr.LocalHandle, payload, indication); err != nil {
		atomic.AddUint64(&f.stats.FailedNotifies, 1)
		f.logger.WithError(err).WithField("uuid", attr.UUID).Warn("Failed to notify mobile link")
		return
	}

	atomic.AddUint64(&f.stats.RelayedToMobile, 1)
	f.publish(entry, targetHandle)
}

// DropPendingAcks abandons deferred write responses after the mobile link
// disconnected. In-flight target writes still complete; their results have
// nowhere to go.
func (f *Forwarder) DropPendingAcks() {
	for _, entry := range f.inFlight {
		entry.AwaitAck = false
	}
}

// Reset discards all queued and in-flight forwards after the target link
// dropped. Pending deferred acknowledgments fail with NotReady. This is an
// abrupt cancellation, not a drain.
func (f *Forwarder) Reset() {
	for {
		if _, err := f.queue.Dequeue(); err != nil {
			break
		}
	}
	for seq, entry := range f.inFlight {
		if entry.AwaitAck {
			f.peripheral.FinishWrite(entry.RequestID, ErrNotReady)
		}
		delete(f.inFlight, seq)
	}
	f.outstanding = 0
}

// QueueDepth returns the number of mobile writes waiting for window room.
func (f *Forwarder) QueueDepth() int {
	return int(f.queue.Size())
}

// Stats returns an atomic snapshot of the relay counters.
func (f *Forwarder) Stats() ForwardingStats {
	return ForwardingStats{
		RelayedToTarget:   atomic.LoadUint64(&f.stats.RelayedToTarget),
		RelayedToMobile:   atomic.LoadUint64(&f.stats.RelayedToMobile),
		DroppedNotBound:   atomic.LoadUint64(&f.stats.DroppedNotBound),
		DroppedUnknown:    atomic.LoadUint64(&f.stats.DroppedUnknown),
		FailedWrites:      atomic.LoadUint64(&f.stats.FailedWrites),
		FailedNotifies:    atomic.LoadUint64(&f.stats.FailedNotifies),
		OversizedNotifies: atomic.LoadUint64(&f.stats.OversizedNotifies),
	}
}

func (f *Forwarder) publish(entry *QueueEntry, targetHandle uint16) {
	if f.onTraffic == nil {
		return
	}
	uuid := ""
	if mirror := f.mirror(); mirror != nil {
		if attr, ok := mirror.ByTargetHandle(targetHandle); ok {
			uuid = attr.UUID
		}
	}
	f.onTraffic(TrafficEvent{
		Direction:    entry.Direction,
		Dir:          entry.Direction.String(),
		UUID:         uuid,
		LocalHandle:  entry.LocalHandle,
		TargetHandle: entry.TargetHandle,
		Payload:      entry.Payload,
		Seq:          entry.Seq,
		TsUs:         time.Now().UnixMicro(),
	})
}
