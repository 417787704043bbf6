// Package scanner captures the advertising identity of the target device off
// the air, producing the template the bridge re-advertises.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/blemirror/internal/bledb"
	"github.com/srg/blemirror/internal/bridge"
	"github.com/srg/blemirror/internal/ringchan"
)

// Observation is one device sighted during a capture run.
type Observation struct {
	Address         string
	LocalName       string
	ServiceUUIDs    []string
	ServiceDataUUID uint16
	ServiceData     []byte
	RSSI            int
	Connectable     bool
	LastSeen        time.Time
}

// Identity converts the observation into the advertisement template the
// bridge re-advertises.
func (o Observation) Identity() bridge.AdvertisementIdentity {
	id := bridge.AdvertisementIdentity{
		LocalName:       o.LocalName,
		ServiceDataUUID: o.ServiceDataUUID,
		ServiceData:     append([]byte(nil), o.ServiceData...),
	}
	if len(o.ServiceUUIDs) > 0 {
		id.ServiceUUID = o.ServiceUUIDs[0]
	}
	return id
}

// complete reports whether the observation carries everything the spoofed
// advertisement needs. Advertisements and scan responses arrive separately,
// so early sightings may hold only part of the identity.
func (o Observation) complete() bool {
	return o.LocalName != "" && len(o.ServiceData) > 0
}

// Options configures a capture run.
type Options struct {
	// Address restricts the capture to one device; empty surveys everything.
	Address string

	// Duration bounds the scan. Zero means scan until the identity is
	// complete or the context ends.
	Duration time.Duration

	DuplicateFilter bool
}

// DefaultOptions returns the production capture settings.
func DefaultOptions() *Options {
	return &Options{
		Duration:        10 * time.Second,
		DuplicateFilter: false,
	}
}

// ScanningDevice is the subset of the stack the scanner needs. A variable
// factory so tests can substitute a fake.
type ScanningDevice interface {
	Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error
}

// Scanner accumulates observations from the air.
type Scanner struct {
	devices *hashmap.Map[string, *Observation]
	events  *ringchan.RingChannel[Observation]
	logger  *logrus.Logger

	opts   *Options
	target string
	found  context.CancelFunc
}

// NewScanner creates a capture scanner.
func NewScanner(logger *logrus.Logger) *Scanner {
	if logger == nil {
		logger = logrus.New()
	}
	return &Scanner{
		devices: hashmap.New[string, *Observation](),
		events:  ringchan.New[Observation](100),
		logger:  logger,
	}
}

// Events returns a read-only stream of observation updates.
func (s *Scanner) Events() <-chan Observation {
	return s.events.C()
}

// Observations returns a snapshot of everything sighted so far.
func (s *Scanner) Observations() []Observation {
	out := make([]Observation, 0, s.devices.Len())
	s.devices.Range(func(_ string, obs *Observation) bool {
		out = append(out, *obs)
		return true
	})
	return out
}

// Capture scans until the target's identity is complete, the duration
// elapses, or ctx ends. With an address filter set, the scan short-circuits
// as soon as name and service data have both been seen.
func (s *Scanner) Capture(ctx context.Context, dev ScanningDevice, opts *Options) (bridge.AdvertisementIdentity, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	s.opts = opts
	s.target = strings.ToLower(opts.Address)

	scanCtx := ctx
	var cancel context.CancelFunc
	if opts.Duration > 0 {
		scanCtx, cancel = context.WithTimeout(ctx, opts.Duration)
	} else {
		scanCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()
	s.found = cancel

	s.logger.WithFields(logrus.Fields{
		"address":  opts.Address,
		"duration": opts.Duration,
	}).Info("Capturing advertising identity...")

	err := dev.Scan(scanCtx, !opts.DuplicateFilter, s.handleAdvertisement)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return bridge.AdvertisementIdentity{}, fmt.Errorf("scan failed: %w", err)
	}

	if s.target == "" {
		return bridge.AdvertisementIdentity{}, nil
	}

	obs, ok := s.devices.Get(s.target)
	if !ok {
		return bridge.AdvertisementIdentity{}, fmt.Errorf("target %s was not seen on air", opts.Address)
	}

	s.logger.WithFields(logrus.Fields{
		"name":         obs.LocalName,
		"services":     obs.ServiceUUIDs,
		"service_data": len(obs.ServiceData),
		"rssi":         obs.RSSI,
	}).Info("Target identity captured")
	return obs.Identity(), nil
}

// handleAdvertisement merges one sighting into the observation table.
func (s *Scanner) handleAdvertisement(adv ble.Advertisement) {
	addr := strings.ToLower(adv.Addr().String())
	if s.target != "" && addr != s.target {
		return
	}

	obs, existed := s.devices.Get(addr)
	if !existed {
		obs = &Observation{Address: addr}
		obs, _ = s.devices.GetOrInsert(addr, obs)
	}

	merge(obs, adv)
	s.events.ForceSend(*obs)

	if !existed {
		s.logger.WithFields(logrus.Fields{
			"address": addr,
			"name":    obs.LocalName,
			"rssi":    obs.RSSI,
		}).Info("Device sighted")
	}

	if s.target != "" && obs.complete() && s.found != nil {
		s.found()
	}
}

// merge folds an advertisement (or scan response) into an observation. Empty
// fields never overwrite previously captured ones.
func merge(obs *Observation, adv ble.Advertisement) {
	if name := adv.LocalName(); name != "" {
		obs.LocalName = name
	}
	for _, u := range adv.Services() {
		uuid := bledb.NormalizeUUID(u.String())
		if !containsString(obs.ServiceUUIDs, uuid) {
			obs.ServiceUUIDs = append(obs.ServiceUUIDs, uuid)
		}
	}
	for _, sd := range adv.ServiceData() {
		if len(sd.Data) == 0 {
			continue
		}
		obs.ServiceDataUUID = uuid16(sd.UUID)
		obs.ServiceData = append([]byte(nil), sd.Data...)
		break
	}
	obs.RSSI = adv.RSSI()
	obs.Connectable = adv.Connectable()
	obs.LastSeen = time.Now()
}

// uuid16 extracts the 16-bit form of a service-data UUID, 0 when the UUID is
// not a short one.
func uuid16(u ble.UUID) uint16 {
	norm := bledb.NormalizeUUID(u.String())
	if len(norm) != 4 {
		return 0
	}
	v, err := strconv.ParseUint(norm, 16, 16)
	if err != nil {
		return 0
	}
	return uint16(v)
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
