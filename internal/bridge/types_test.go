package bridge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTargetDescriptorValidate(t *testing.T) {
	tests := []struct {
		name    string
		desc    TargetDescriptor
		wantErr bool
	}{
		{"valid public", TargetDescriptor{Address: "fe:98:00:30:39:45", AddrType: AddrPublic}, false},
		{"valid random uppercase", TargetDescriptor{Address: "C4:5D:83:0A:1B:2C", AddrType: AddrRandom}, false},
		{"empty address", TargetDescriptor{AddrType: AddrPublic}, true},
		{"malformed address", TargetDescriptor{Address: "fe:98:00:30:39", AddrType: AddrPublic}, true},
		{"not hex", TargetDescriptor{Address: "zz:98:00:30:39:45", AddrType: AddrPublic}, true},
		{"missing type", TargetDescriptor{Address: "fe:98:00:30:39:45"}, true},
		{"bogus type", TargetDescriptor{Address: "fe:98:00:30:39:45", AddrType: "static"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.desc.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPropsPredicates(t *testing.T) {
	p := PropRead | PropWriteNR | PropNotify
	assert.True(t, p.Readable())
	assert.True(t, p.Writable())
	assert.True(t, p.WriteWithoutResponse())
	assert.True(t, p.Notifiable())
	assert.False(t, p.Indicatable())

	q := PropWrite | PropIndicate
	assert.True(t, q.Writable())
	assert.False(t, q.WriteWithoutResponse())
	assert.True(t, q.Indicatable())
	assert.False(t, q.Notifiable())
	assert.False(t, q.Readable())
}

func TestPropsString(t *testing.T) {
	assert.Equal(t, "none", Props(0).String())
	assert.Equal(t, "read|notify", (PropRead | PropNotify).String())
	assert.Equal(t, "write-without-response|write", (PropWriteNR | PropWrite).String())
}

func TestConnectionStateMaxPayload(t *testing.T) {
	assert.Equal(t, 20, ConnectionState{MTU: 23}.MaxPayload())
	assert.Equal(t, 182, ConnectionState{MTU: 185}.MaxPayload())
	assert.Equal(t, 20, ConnectionState{}.MaxPayload(), "default MTU before exchange")
}

func TestRetryPolicyBackoff(t *testing.T) {
	link := NewTargetLink(&fakeCentral{}, testTarget(), RetryPolicy{
		MaxAttempts:    5,
		BackoffBase:    500 * time.Millisecond,
		BackoffCap:     2 * time.Second,
		ConnectTimeout: time.Second,
	}, func(Event) {}, nil)

	assert.Equal(t, 500*time.Millisecond, link.backoff(1))
	assert.Equal(t, time.Second, link.backoff(2))
	assert.Equal(t, 2*time.Second, link.backoff(3))
	assert.Equal(t, 2*time.Second, link.backoff(4), "capped")
}

func TestAdvertisementIdentityValidate(t *testing.T) {
	tests := []struct {
		name    string
		id      AdvertisementIdentity
		wantErr bool
	}{
		{"name and service", testIdentity(), false},
		{"name only", AdvertisementIdentity{LocalName: "X"}, false},
		{"empty", AdvertisementIdentity{}, true},
		{"service data at limit", AdvertisementIdentity{
			LocalName: "X", ServiceDataUUID: 0xc1c5, ServiceData: make([]byte, maxServiceDataPayload),
		}, false},
		{"service data over limit", AdvertisementIdentity{
			LocalName: "X", ServiceDataUUID: 0xc1c5, ServiceData: make([]byte, maxServiceDataPayload+1),
		}, true},
		{"service data without uuid", AdvertisementIdentity{
			LocalName: "X", ServiceData: []byte{0x01},
		}, true},
		{"inverted interval", AdvertisementIdentity{
			LocalName: "X",
			Params:    AdvertisingParams{IntervalMin: 40 * time.Millisecond, IntervalMax: 20 * time.Millisecond},
		}, true},
		{"all advertising channels", AdvertisementIdentity{
			LocalName: "X",
			Params:    AdvertisingParams{ChannelMap: 0x07, FilterPolicy: "allow-any"},
		}, false},
		{"channel map beyond 37/38/39", AdvertisementIdentity{
			LocalName: "X",
			Params:    AdvertisingParams{ChannelMap: 0x08},
		}, true},
		{"unknown filter policy", AdvertisementIdentity{
			LocalName: "X",
			Params:    AdvertisingParams{FilterPolicy: "everyone"},
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.id.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				assert.True(t, IsCode(err, AdvertiseConfig))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAdvertisementIdentityWithServiceData(t *testing.T) {
	orig := testIdentity()
	clone := orig.WithServiceData([]byte{0x01, 0x02})

	assert.Equal(t, []byte{0x01, 0x02}, clone.ServiceData)
	assert.Len(t, orig.ServiceData, 20, "template untouched")
	assert.Equal(t, orig.LocalName, clone.LocalName)
	assert.Equal(t, orig.ServiceDataUUID, clone.ServiceDataUUID)
}
