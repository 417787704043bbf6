package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/blemirror/internal/bridge"
)

const fullConfig = `
log:
  level: debug
  format: json
target:
  address: FE:98:00:30:39:45
  addr_type: public
  service_filter: "1809"
  connect_timeout: 5s
identity:
  local_name: TIAGO-U105
  service_uuid: "00001809-0000-1000-8000-00805f9b34fb"
  service_data_uuid: "0xC1C5"
  service_data: "0102030405060708090a0b0c0d0e0f1011121314"
  interval_min: 20ms
  interval_max: 40ms
  channel_map: 7
  filter_policy: allow-any
retry:
  max_attempts: 5
  backoff_base: 250ms
  backoff_cap: 4s
forwarding:
  queue_capacity: 64
  write_window: 8
adapters:
  central: 0
  peripheral: 1
tap:
  enabled: true
  addr: ":9090"
`

func TestParseFullConfig(t *testing.T) {
	cfg, err := Parse([]byte(fullConfig))
	require.NoError(t, err)

	opts, err := cfg.SessionOptions()
	require.NoError(t, err)

	assert.Equal(t, "fe:98:00:30:39:45", opts.Target.Address)
	assert.Equal(t, bridge.AddrPublic, opts.Target.AddrType)
	assert.Equal(t, "1809", opts.Target.ServiceFilter)

	assert.Equal(t, "TIAGO-U105", opts.Identity.LocalName)
	assert.Equal(t, uint16(0xc1c5), opts.Identity.ServiceDataUUID)
	assert.Len(t, opts.Identity.ServiceData, 20)
	assert.Equal(t, 20*time.Millisecond, opts.Identity.Params.IntervalMin)
	assert.Equal(t, 40*time.Millisecond, opts.Identity.Params.IntervalMax)
	assert.Equal(t, uint8(0x07), opts.Identity.Params.ChannelMap)
	assert.Equal(t, "allow-any", opts.Identity.Params.FilterPolicy)

	assert.Equal(t, 5, opts.Retry.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, opts.Retry.BackoffBase)
	assert.Equal(t, 4*time.Second, opts.Retry.BackoffCap)
	assert.Equal(t, 5*time.Second, opts.Retry.ConnectTimeout)

	assert.Equal(t, uint32(64), opts.Forwarding.QueueCapacity)
	assert.Equal(t, 8, opts.Forwarding.WriteWindow)

	assert.True(t, cfg.Tap.Enabled)
	assert.Equal(t, ":9090", cfg.Tap.Addr)
}

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
target:
  address: "fe:98:00:30:39:45"
identity:
  local_name: X
`))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "public", cfg.Target.AddrType)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, uint32(32), cfg.Forwarding.QueueCapacity)
	assert.Equal(t, 4, cfg.Forwarding.WriteWindow)
	assert.Equal(t, 0, cfg.Adapters.Central)
	assert.Equal(t, 1, cfg.Adapters.Peripheral)
	assert.Equal(t, ":8080", cfg.Tap.Addr)
	assert.False(t, cfg.Tap.Enabled)

	opts, err := cfg.SessionOptions()
	require.NoError(t, err)
	assert.Equal(t, bridge.DefaultRetryPolicy().BackoffBase, opts.Retry.BackoffBase)
	assert.Equal(t, bridge.DefaultRetryPolicy().ConnectTimeout, opts.Retry.ConnectTimeout)
}

func TestParseRejectsBadConfigs(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing target address", `
identity:
  local_name: X
`},
		{"bad address", `
target:
  address: "not-an-address"
identity:
  local_name: X
`},
		{"bad addr type", `
target:
  address: "fe:98:00:30:39:45"
  addr_type: static
identity:
  local_name: X
`},
		{"empty identity without capture", `
target:
  address: "fe:98:00:30:39:45"
`},
		{"oversized service data", `
target:
  address: "fe:98:00:30:39:45"
identity:
  local_name: X
  service_data_uuid: "c1c5"
  service_data: "0102030405060708090a0b0c0d0e0f101112131415161718191a1b1c"
`},
		{"bad duration", `
target:
  address: "fe:98:00:30:39:45"
  connect_timeout: soon
identity:
  local_name: X
`},
		{"bad hex payload", `
target:
  address: "fe:98:00:30:39:45"
identity:
  local_name: X
  service_data_uuid: "c1c5"
  service_data: "zz"
`},
		{"channel map beyond advertising channels", `
target:
  address: "fe:98:00:30:39:45"
identity:
  local_name: X
  channel_map: 8
`},
		{"unknown filter policy", `
target:
  address: "fe:98:00:30:39:45"
identity:
  local_name: X
  filter_policy: everyone
`},
		{"same adapter twice", `
target:
  address: "fe:98:00:30:39:45"
identity:
  local_name: X
adapters:
  central: 0
  peripheral: 0
`},
		{"bad log level", `
log:
  level: loud
target:
  address: "fe:98:00:30:39:45"
identity:
  local_name: X
`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestParseCaptureModeSkipsIdentityValidation(t *testing.T) {
	cfg, err := Parse([]byte(`
target:
  address: "fe:98:00:30:39:45"
identity:
  capture: true
  capture_duration: 15s
`))
	require.NoError(t, err)
	assert.True(t, cfg.Identity.Capture)
	assert.Equal(t, 15*time.Second, cfg.Identity.CaptureDuration.Std())
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fullConfig), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "TIAGO-U105", cfg.Identity.LocalName)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	cfg, err := Parse([]byte(fullConfig))
	require.NoError(t, err)

	logger := cfg.NewLogger()
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)
}

func TestHexBytesWhitespace(t *testing.T) {
	cfg, err := Parse([]byte(`
target:
  address: "fe:98:00:30:39:45"
identity:
  local_name: X
  service_data_uuid: "c1c5"
  service_data: "c1 c5 00"
`))
	require.NoError(t, err)
	assert.Equal(t, HexBytes{0xc1, 0xc5, 0x00}, cfg.Identity.ServiceData)
}
