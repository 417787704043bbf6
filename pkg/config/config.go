// Package config loads the bridge configuration from YAML, with struct-tag
// defaults applied before parsing.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"gopkg.in/yaml.v3"

	"github.com/srg/blemirror/internal/bridge"
)

// Duration parses YAML values like "500ms" or "10s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// HexBytes parses YAML values like "c1c500fe98..." or "c1 c5 00".
type HexBytes []byte

// UnmarshalYAML implements yaml.Unmarshaler.
func (h *HexBytes) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	raw = strings.ReplaceAll(strings.TrimPrefix(raw, "0x"), " ", "")
	decoded, err := hex.DecodeString(raw)
	if err != nil {
		return fmt.Errorf("invalid hex payload %q: %w", raw, err)
	}
	*h = decoded
	return nil
}

// LogConfig selects the log verbosity and format.
type LogConfig struct {
	Level  string `yaml:"level" default:"info"`
	Format string `yaml:"format" default:"text"`
}

// TargetConfig identifies the real device.
type TargetConfig struct {
	Address        string   `yaml:"address"`
	AddrType       string   `yaml:"addr_type" default:"public"`
	ServiceFilter  string   `yaml:"service_filter"`
	ConnectTimeout Duration `yaml:"connect_timeout"`
}

// IdentityConfig is the spoofed advertisement template. With Capture set the
// template is read off the air from the live target instead.
type IdentityConfig struct {
	Capture         bool     `yaml:"capture"`
	CaptureDuration Duration `yaml:"capture_duration"`

	LocalName       string   `yaml:"local_name"`
	ServiceUUID     string   `yaml:"service_uuid"`
	ServiceDataUUID string   `yaml:"service_data_uuid"`
	ServiceData     HexBytes `yaml:"service_data"`

	IntervalMin  Duration `yaml:"interval_min"`
	IntervalMax  Duration `yaml:"interval_max"`
	ChannelMap   uint8    `yaml:"channel_map"`
	FilterPolicy string   `yaml:"filter_policy"`
}

// RetryConfig bounds target reconnect attempts.
type RetryConfig struct {
	MaxAttempts int      `yaml:"max_attempts" default:"3"`
	BackoffBase Duration `yaml:"backoff_base"`
	BackoffCap  Duration `yaml:"backoff_cap"`
}

// ForwardingConfig bounds the relay queue and write window.
type ForwardingConfig struct {
	QueueCapacity uint32 `yaml:"queue_capacity" default:"32"`
	WriteWindow   int    `yaml:"write_window" default:"4"`
}

// AdaptersConfig assigns HCI adapters to the two roles. Dual-role operation
// on one adapter is fragile; two adapters is the supported layout.
type AdaptersConfig struct {
	Central    int `yaml:"central" default:"0"`
	Peripheral int `yaml:"peripheral" default:"1"`
}

// TapConfig enables the websocket traffic observer.
type TapConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr" default:":8080"`
}

// Config is the full bridge configuration.
type Config struct {
	Log        LogConfig        `yaml:"log"`
	Target     TargetConfig     `yaml:"target"`
	Identity   IdentityConfig   `yaml:"identity"`
	Retry      RetryConfig      `yaml:"retry"`
	Forwarding ForwardingConfig `yaml:"forwarding"`
	Adapters   AdaptersConfig   `yaml:"adapters"`
	Tap        TapConfig        `yaml:"tap"`
}

// New returns a config with all defaults applied.
func New() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads and validates a YAML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML config data over the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := New()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks everything that can be checked without touching radios.
func (c *Config) Validate() error {
	if err := c.targetDescriptor().Validate(); err != nil {
		return fmt.Errorf("target: %w", err)
	}
	if !c.Identity.Capture {
		identity, err := c.identity()
		if err != nil {
			return fmt.Errorf("identity: %w", err)
		}
		if err := identity.Validate(); err != nil {
			return fmt.Errorf("identity: %w", err)
		}
	}
	if c.Adapters.Central == c.Adapters.Peripheral {
		return fmt.Errorf("adapters: central and peripheral must use distinct HCI adapters")
	}
	if _, err := logLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

func (c *Config) targetDescriptor() bridge.TargetDescriptor {
	return bridge.TargetDescriptor{
		Address:       strings.ToLower(c.Target.Address),
		AddrType:      bridge.AddrType(c.Target.AddrType),
		ServiceFilter: c.Target.ServiceFilter,
	}
}

func (c *Config) identity() (bridge.AdvertisementIdentity, error) {
	identity := bridge.AdvertisementIdentity{
		LocalName:   c.Identity.LocalName,
		ServiceUUID: c.Identity.ServiceUUID,
		ServiceData: c.Identity.ServiceData,
		Params: bridge.AdvertisingParams{
			IntervalMin:  c.Identity.IntervalMin.Std(),
			IntervalMax:  c.Identity.IntervalMax.Std(),
			ChannelMap:   c.Identity.ChannelMap,
			FilterPolicy: c.Identity.FilterPolicy,
		},
	}
	if raw := c.Identity.ServiceDataUUID; raw != "" {
		v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(raw), "0x"), 16, 16)
		if err != nil {
			return identity, fmt.Errorf("service data UUID %q: %w", raw, err)
		}
		identity.ServiceDataUUID = uint16(v)
	}
	return identity, nil
}

// SessionOptions converts the config into the bridge's session options. With
// identity capture enabled the identity field is filled in later by the
// capture run.
func (c *Config) SessionOptions() (bridge.SessionOptions, error) {
	opts := bridge.DefaultSessionOptions()
	opts.Target = c.targetDescriptor()

	if !c.Identity.Capture {
		identity, err := c.identity()
		if err != nil {
			return opts, err
		}
		opts.Identity = identity
	}

	if c.Retry.MaxAttempts > 0 {
		opts.Retry.MaxAttempts = c.Retry.MaxAttempts
	}
	if d := c.Retry.BackoffBase.Std(); d > 0 {
		opts.Retry.BackoffBase = d
	}
	if d := c.Retry.BackoffCap.Std(); d > 0 {
		opts.Retry.BackoffCap = d
	}
	if d := c.Target.ConnectTimeout.Std(); d > 0 {
		opts.Retry.ConnectTimeout = d
	}
	if c.Forwarding.QueueCapacity > 0 {
		opts.Forwarding.QueueCapacity = c.Forwarding.QueueCapacity
	}
	if c.Forwarding.WriteWindow > 0 {
		opts.Forwarding.WriteWindow = c.Forwarding.WriteWindow
	}
	return opts, nil
}
