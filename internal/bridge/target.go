package bridge

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/blemirror/internal/bledb"
)

// TargetState is the central-role link lifecycle.
type TargetState int

const (
	TargetIdle TargetState = iota
	TargetConnecting
	TargetServiceDiscovery
	TargetCharacteristicDiscovery
	TargetReady
	TargetDisconnectedState
)

func (s TargetState) String() string {
	switch s {
	case TargetIdle:
		return "idle"
	case TargetConnecting:
		return "connecting"
	case TargetServiceDiscovery:
		return "service_discovery"
	case TargetCharacteristicDiscovery:
		return "characteristic_discovery"
	case TargetReady:
		return "ready"
	case TargetDisconnectedState:
		return "disconnected"
	default:
		return "unknown"
	}
}

// RetryPolicy bounds reconnect attempts toward the target.
type RetryPolicy struct {
	MaxAttempts    int
	BackoffBase    time.Duration
	BackoffCap     time.Duration
	ConnectTimeout time.Duration
}

// DefaultRetryPolicy returns the production retry budget.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		BackoffBase:    500 * time.Millisecond,
		BackoffCap:     8 * time.Second,
		ConnectTimeout: 10 * time.Second,
	}
}

// TargetLink owns the central-role connection to the real device: connect,
// service and characteristic discovery, notification subscriptions, and the
// bounded reconnect policy. All handlers run on the dispatcher goroutine.
type TargetLink struct {
	central CentralPort
	desc    TargetDescriptor
	policy  RetryPolicy

	state     TargetState
	conn      ConnectionState
	services  []DiscoveredService
	svcCursor int

	attempts  int
	exhausted bool
	timer     *time.Timer
	post      func(Event)

	// onReady receives the completed discovery set; onLost fires on any
	// link teardown so the mirror and forwarder can be invalidated.
	onReady func([]DiscoveredService)
	onLost  func(reason error)

	logger *logrus.Logger
}

// NewTargetLink creates the central-role link manager. post feeds the
// dispatcher funnel and is used by the backoff timer.
func NewTargetLink(central CentralPort, desc TargetDescriptor, policy RetryPolicy, post func(Event), logger *logrus.Logger) *TargetLink {
	if logger == nil {
		logger = logrus.New()
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = DefaultRetryPolicy().MaxAttempts
	}
	if policy.BackoffBase <= 0 {
		policy.BackoffBase = DefaultRetryPolicy().BackoffBase
	}
	if policy.BackoffCap < policy.BackoffBase {
		policy.BackoffCap = DefaultRetryPolicy().BackoffCap
	}
	if policy.ConnectTimeout <= 0 {
		policy.ConnectTimeout = DefaultRetryPolicy().ConnectTimeout
	}

	return &TargetLink{
		central: central,
		desc:    desc,
		policy:  policy,
		state:   TargetIdle,
		conn:    ConnectionState{Role: RoleCentral},
		post:    post,
		logger:  logger,
	}
}

// State returns the current link state.
func (t *TargetLink) State() TargetState { return t.state }

// Conn returns the link's connection state. Read-only for everyone but the
// manager itself.
func (t *TargetLink) Conn() ConnectionState { return t.conn }

// Exhausted reports whether the retry budget has been spent.
func (t *TargetLink) Exhausted() bool { return t.exhausted }

// Services returns the discovered set; valid only in the Ready state.
func (t *TargetLink) Services() []DiscoveredService { return t.services }

// Connect starts the first connection attempt toward the configured target.
func (t *TargetLink) Connect() error {
	if err := t.desc.Validate(); err != nil {
		return fmt.Errorf("target descriptor: %w", err)
	}
	if t.state != TargetIdle && t.state != TargetDisconnectedState {
		return fmt.Errorf("connect attempted in state %s", t.state)
	}

	t.state = TargetConnecting
	t.attempts = 1
	t.exhausted = false

	t.logger.WithFields(logrus.Fields{
		"address":   t.desc.Address,
		"addr_type": t.desc.AddrType,
		"attempt":   t.attempts,
	}).Info("Connecting to target device...")

	t.central.Connect(t.desc, t.policy.ConnectTimeout)
	return nil
}

func (t *TargetLink) handleConnected(ev TargetConnected) {
	if t.state != TargetConnecting {
		t.logger.WithField("state", t.state.String()).Warn("Connected event in unexpected state")
		return
	}

	t.conn.Handle = ev.Handle
	t.conn.MTU = ev.MTU
	t.services = nil
	t.svcCursor = 0
	t.state = TargetServiceDiscovery

	t.logger.WithFields(logrus.Fields{
		"handle": ev.Handle,
		"mtu":    ev.MTU,
	}).Info("Target connected, enumerating services...")

	t.central.DiscoverServices(t.desc.ServiceFilter)
}

func (t *TargetLink) handleConnectFailed(ev TargetConnectFailed) {
	t.state = TargetDisconnectedState
	t.logger.WithError(ev.Err).WithField("attempt", t.attempts).Warn("Target connection attempt failed")
	t.scheduleRetry()
}

func (t *TargetLink) handleServiceFound(ev TargetServiceFound) {
	if t.state != TargetServiceDiscovery {
		return
	}
	svc := ev.Service
	svc.Characteristics = nil
	t.services = append(t.services, svc)

	t.logger.WithFields(logrus.Fields{
		"uuid":       svc.UUID,
		"known_name": bledb.LookupService(svc.UUID),
	}).Debug("Target service found")
}

func (t *TargetLink) handleServiceDiscoveryDone(ev TargetServiceDiscoveryDone) {
	if t.state != TargetServiceDiscovery {
		return
	}
	if ev.Err != nil {
		t.failDiscovery(codedError(DiscoveryFailed, ev.Err))
		return
	}
	if len(t.services) == 0 {
		t.failDiscovery(codedError(DiscoveryFailed, fmt.Errorf("target exposes no services matching filter %q", t.desc.ServiceFilter)))
		return
	}

	t.state = TargetCharacteristicDiscovery
	t.svcCursor = 0
	t.central.DiscoverCharacteristics(t.services[0].UUID)
}

func (t *TargetLink) handleCharacteristicFound(ev TargetCharacteristicFound) {
	if t.state != TargetCharacteristicDiscovery {
		return
	}
	for i := range t.services {
		if t.services[i].UUID == ev.ServiceUUID {
			t.services[i].Characteristics = append(t.services[i].Characteristics, ev.Char)
			return
		}
	}
	t.logger.WithFields(logrus.Fields{
		"service": ev.ServiceUUID,
		"uuid":    ev.Char.UUID,
	}).Warn("Characteristic reported for unknown service")
}

func (t *TargetLink) handleCharDiscoveryDone(ev TargetCharDiscoveryDone) {
	if t.state != TargetCharacteristicDiscovery {
		return
	}
	if ev.Err != nil {
		t.failDiscovery(codedError(DiscoveryFailed, ev.Err))
		return
	}

	t.svcCursor++
	if t.svcCursor < len(t.services) {
		t.central.DiscoverCharacteristics(t.services[t.svcCursor].UUID)
		return
	}

	t.becomeReady()
}

// becomeReady completes discovery: subscribe to every push-capable
// characteristic, then hand the read-only discovered set upward.
func (t *TargetLink) becomeReady() {
	t.state = TargetReady
	t.attempts = 0

	total := 0
	for _, svc := range t.services {
		for _, char := range svc.Characteristics {
			total++
			switch {
			case char.Props.Notifiable():
				t.central.Subscribe(char, false)
			case char.Props.Indicatable():
				t.central.Subscribe(char, true)
			}
		}
	}

	t.logger.WithFields(logrus.Fields{
		"services":        len(t.services),
		"characteristics": total,
	}).Info("Target discovery complete, link ready")

	if t.onReady != nil {
		t.onReady(t.services)
	}
}

func (t *TargetLink) handleDisconnected(ev TargetDisconnected) {
	if t.state == TargetIdle || t.state == TargetDisconnectedState {
		return
	}

	t.logger.WithError(ev.Reason).Info("Target link lost")
	t.teardown(ev.Reason)
	t.scheduleRetry()
}

// failDiscovery forces the link down after a discovery error. The stack
// still holds a connection; tear it down explicitly.
func (t *TargetLink) failDiscovery(reason error) {
	t.logger.WithError(reason).Warn("Target discovery failed")
	t.teardown(reason)
	t.central.Disconnect()
	t.scheduleRetry()
}

// teardown clears everything tied to the dead connection. Discovered sets
// and mirrored attributes never survive a disconnect.
func (t *TargetLink) teardown(reason error) {
	t.services = nil
	t.svcCursor = 0
	t.conn.Handle = 0
	t.conn.MTU = 0
	t.state = TargetDisconnectedState

	if t.onLost != nil {
		t.onLost(reason)
	}
}

// scheduleRetry arms the backoff timer for the next attempt, or gives up
// once the budget is spent.
func (t *TargetLink) scheduleRetry() {
	if t.exhausted {
		return
	}
	if t.attempts >= t.policy.MaxAttempts {
		t.exhausted = true
		t.logger.WithField("attempts", t.attempts).Error(
			"Target retry budget exhausted, staying disconnected until an external retry trigger")
		return
	}

	delay := t.backoff(t.attempts)
	t.logger.WithFields(logrus.Fields{
		"attempt": t.attempts + 1,
		"delay":   delay,
	}).Info("Scheduling target reconnect")

	t.timer = time.AfterFunc(delay, func() {
		t.post(retryTimerFired{})
	})
}

func (t *TargetLink) handleRetryTimer() {
	if t.state != TargetDisconnectedState || t.exhausted {
		return
	}
	t.state = TargetConnecting
	t.attempts++
	t.logger.WithField("attempt", t.attempts).Info("Retrying target connection...")
	t.central.Connect(t.desc, t.policy.ConnectTimeout)
}

// RequestRetry is the external trigger that restarts connection attempts
// after the budget was exhausted, e.g. when a new mobile client shows up.
func (t *TargetLink) RequestRetry() {
	if t.state != TargetDisconnectedState {
		return
	}
	if t.timer != nil {
		t.timer.Stop()
	}
	t.exhausted = false
	t.attempts = 1
	t.state = TargetConnecting
	t.logger.Info("External trigger, retrying target connection...")
	t.central.Connect(t.desc, t.policy.ConnectTimeout)
}

func (t *TargetLink) backoff(attempt int) time.Duration {
	d := t.policy.BackoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= t.policy.BackoffCap {
			return t.policy.BackoffCap
		}
	}
	if d > t.policy.BackoffCap {
		d = t.policy.BackoffCap
	}
	return d
}
