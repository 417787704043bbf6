package bridge

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// SessionOptions configures one bridging session.
type SessionOptions struct {
	Target         TargetDescriptor
	Identity       AdvertisementIdentity
	Retry          RetryPolicy
	Forwarding     ForwarderOptions
	FunnelCapacity int
}

// DefaultSessionOptions returns defaults for everything but the target
// descriptor and identity, which have no sensible defaults.
func DefaultSessionOptions() SessionOptions {
	return SessionOptions{
		Retry:          DefaultRetryPolicy(),
		Forwarding:     DefaultForwarderOptions(),
		FunnelCapacity: 256,
	}
}

// Session is the explicit context object owning all bridge state: the two
// link managers, the mirror, and the forwarding engine. Nothing in this
// package lives in package-level variables; the session is threaded through
// by the dispatcher.
type Session struct {
	central    CentralPort
	peripheral PeripheralPort

	dispatcher *Dispatcher
	target     *TargetLink
	mobile     *MobileLink
	forwarder  *Forwarder
	mirror     *Mirror

	logger *logrus.Logger
}

// NewSession wires a complete bridging session over the given stack ports.
func NewSession(central CentralPort, peripheral PeripheralPort, opts SessionOptions, logger *logrus.Logger) *Session {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.FunnelCapacity <= 0 {
		opts.FunnelCapacity = DefaultSessionOptions().FunnelCapacity
	}

	s := &Session{
		central:    central,
		peripheral: peripheral,
		logger:     logger,
	}
	s.dispatcher = NewDispatcher(s, opts.FunnelCapacity, logger)

	mirror := func() *Mirror { return s.mirror }

	s.target = NewTargetLink(central, opts.Target, opts.Retry, s.dispatcher.Post, logger)
	s.mobile = NewMobileLink(peripheral, opts.Identity, s.target, mirror, logger)
	s.forwarder = NewForwarder(central, peripheral, s.target, s.mobile, mirror, opts.Forwarding, logger)
	s.mobile.forwarder = s.forwarder

	s.target.onReady = s.targetReady
	s.target.onLost = s.targetLost
	s.mobile.onConnect = s.mobileConnected

	return s
}

// Post feeds a stack or control event into the serialized funnel. Safe from
// any goroutine.
func (s *Session) Post(ev Event) {
	s.dispatcher.Post(ev)
}

// Run connects to the target and processes events until ctx is cancelled.
func (s *Session) Run(ctx context.Context) error {
	if err := s.target.Connect(); err != nil {
		return fmt.Errorf("starting target link: %w", err)
	}
	return s.dispatcher.Run(ctx)
}

// Target returns the central-role link manager.
func (s *Session) Target() *TargetLink { return s.target }

// Mobile returns the peripheral-role link manager.
func (s *Session) Mobile() *MobileLink { return s.mobile }

// Forwarder returns the forwarding engine.
func (s *Session) Forwarder() *Forwarder { return s.forwarder }

// Mirror returns the current attribute mirror, nil while the target link is
// not ready.
func (s *Session) Mirror() *Mirror { return s.mirror }

// SetTrafficSink installs an observer for relayed payloads.
func (s *Session) SetTrafficSink(sink func(TrafficEvent)) {
	s.forwarder.SetTrafficSink(sink)
}

// targetReady runs once target discovery completes: build the mirror, serve
// it, and surface the spoofed identity to the air.
func (s *Session) targetReady(services []DiscoveredService) {
	s.mirror = BuildMirror(services, s.logger)
	if s.mirror.Len() == 0 {
		s.logger.Warn("Target discovery yielded no mirrorable characteristics")
	}

	if err := s.peripheral.ServeTable(s.mirror.Attributes()); err != nil {
		s.logger.WithError(err).Error("Failed to install mirrored table on local server")
		return
	}

	switch s.mobile.State() {
	case MobileIdle, MobileDisconnectedState:
		if err := s.mobile.StartAdvertising(); err != nil {
			s.logger.WithError(err).Error("Failed to start spoofed advertising")
		}
	case MobileConnectedState:
		s.mobile.bind()
	}
}

// targetLost cascades a target disconnect: mirrored handles are invalidated
// en masse, queued forwards are discarded, the mobile side withdraws the
// content.
func (s *Session) targetLost(reason error) {
	s.mirror = nil
	s.forwarder.Reset()
	s.mobile.suspend()
}

// mobileConnected doubles as the external retry trigger: a fresh mobile
// client revives an exhausted target link.
func (s *Session) mobileConnected() {
	if s.target.State() == TargetDisconnectedState && s.target.Exhausted() {
		s.target.RequestRetry()
	}
}
