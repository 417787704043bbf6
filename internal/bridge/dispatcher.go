package bridge

import (
	"context"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/srg/blemirror/internal/ringchan"
)

// Dispatcher is the single entry point for radio-stack events. Producers
// (stack adapter callbacks, timers, external triggers) post into a bounded
// funnel from any goroutine; one consumer goroutine routes each event to
// exactly one handler, so every state transition in this package is observed
// as atomic.
type Dispatcher struct {
	session *Session
	funnel  *ringchan.RingChannel[Event]
	dropped uint64
	logger  *logrus.Logger
}

// NewDispatcher creates the dispatcher for a session.
func NewDispatcher(session *Session, capacity int, logger *logrus.Logger) *Dispatcher {
	if logger == nil {
		logger = logrus.New()
	}
	return &Dispatcher{
		session: session,
		funnel:  ringchan.New[Event](capacity),
		logger:  logger,
	}
}

// Post enqueues an event without blocking the caller. Stack callbacks must
// never stall, so when the funnel is saturated the event is dropped and
// counted instead.
func (d *Dispatcher) Post(ev Event) {
	if !d.funnel.TrySend(ev) {
		atomic.AddUint64(&d.dropped, 1)
		d.logger.WithFields(logrus.Fields{
			"class": ev.Class().String(),
			"event": eventName(ev),
		}).Warn("Event funnel saturated, event dropped")
	}
}

// Dropped returns the number of events lost to funnel saturation.
func (d *Dispatcher) Dropped() uint64 {
	return atomic.LoadUint64(&d.dropped)
}

// Run consumes the funnel until ctx is cancelled. This goroutine is the only
// writer of all session state.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-d.funnel.C():
			if !ok {
				return nil
			}
			d.dispatch(ev)
		}
	}
}

// dispatch routes one event to exactly one handler.
func (d *Dispatcher) dispatch(ev Event) {
	if d.logger.IsLevelEnabled(logrus.TraceLevel) {
		d.logger.WithFields(logrus.Fields{
			"class": ev.Class().String(),
			"event": eventName(ev),
		}).Trace("Dispatching event")
	}

	s := d.session
	switch e := ev.(type) {
	// central-role link
	case TargetConnected:
		s.target.handleConnected(e)
	case TargetConnectFailed:
		s.target.handleConnectFailed(e)
	case TargetServiceFound:
		s.target.handleServiceFound(e)
	case TargetServiceDiscoveryDone:
		s.target.handleServiceDiscoveryDone(e)
	case TargetCharacteristicFound:
		s.target.handleCharacteristicFound(e)
	case TargetCharDiscoveryDone:
		s.target.handleCharDiscoveryDone(e)
	case TargetNotification:
		s.forwarder.RelayNotification(e.TargetHandle, e.Payload, e.Indication)
	case TargetWriteResult:
		s.forwarder.HandleWriteResult(e.Seq, e.Err)
	case TargetDisconnected:
		s.target.handleDisconnected(e)

	// GAP / peripheral-role link
	case AdvertisingStarted:
		s.mobile.handleAdvertisingStarted()
	case AdvertisingStopped:
		s.mobile.handleAdvertisingStopped(e)
	case MobileConnected:
		s.mobile.handleConnected(e)
	case MobileDisconnected:
		s.mobile.handleDisconnected(e)
	case MobileWrite:
		s.mobile.handleWriteRequest(e)
	case MobileRead:
		s.mobile.handleReadRequest(e)

	// control
	case RetryRequested:
		s.target.RequestRetry()
	case ServiceDataRefresh:
		if err := s.mobile.RefreshServiceData(e.Payload); err != nil {
			d.logger.WithError(err).Warn("Service data refresh rejected")
		}
	case retryTimerFired:
		s.target.handleRetryTimer()

	default:
		d.logger.WithField("event", eventName(ev)).Warn("Unroutable event")
	}
}

func eventName(ev Event) string {
	switch ev.(type) {
	case TargetConnected:
		return "target_connected"
	case TargetConnectFailed:
		return "target_connect_failed"
	case TargetServiceFound:
		return "target_service_found"
	case TargetServiceDiscoveryDone:
		return "target_service_discovery_done"
	case TargetCharacteristicFound:
		return "target_characteristic_found"
	case TargetCharDiscoveryDone:
		return "target_char_discovery_done"
	case TargetNotification:
		return "target_notification"
	case TargetWriteResult:
		return "target_write_result"
	case TargetDisconnected:
		return "target_disconnected"
	case AdvertisingStarted:
		return "advertising_started"
	case AdvertisingStopped:
		return "advertising_stopped"
	case MobileConnected:
		return "mobile_connected"
	case MobileDisconnected:
		return "mobile_disconnected"
	case MobileWrite:
		return "mobile_write"
	case MobileRead:
		return "mobile_read"
	case RetryRequested:
		return "retry_requested"
	case ServiceDataRefresh:
		return "service_data_refresh"
	case retryTimerFired:
		return "retry_timer_fired"
	default:
		return "unknown"
	}
}
