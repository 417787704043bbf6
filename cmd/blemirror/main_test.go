package main

import (
	"bytes"
	"errors"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"

	"github.com/srg/blemirror/internal/bridge"
	"github.com/srg/blemirror/internal/scanner"
)

func TestFormatVersion(t *testing.T) {
	assert.Equal(t, "v1.2.3", formatVersion("1.2.3"))
	assert.Equal(t, "dev", formatVersion("dev"))
	assert.Equal(t, "", formatVersion(""))
}

func TestFormatUserError(t *testing.T) {
	assert.Equal(t, "", FormatUserError(nil))
	assert.Equal(t, "plain failure", FormatUserError(errors.New("plain failure")))

	msg := FormatUserError(bridge.ErrConnectTimeout)
	assert.Contains(t, msg, "did not answer")

	msg = FormatUserError(bridge.ErrAdvertiseConfig)
	assert.Contains(t, msg, "capture")
}

func captureOutput(t *testing.T, fn func(cmd *cobra.Command)) string {
	t.Helper()
	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&buf)
	fn(cmd)
	return buf.String()
}

func TestPrintIdentityEmitsConfigBlock(t *testing.T) {
	out := captureOutput(t, func(cmd *cobra.Command) {
		printIdentity(cmd, bridge.AdvertisementIdentity{
			LocalName:       "TIAGO-U105",
			ServiceUUID:     "1809",
			ServiceDataUUID: 0xc1c5,
			ServiceData:     []byte{0x01, 0x02},
		})
	})

	assert.Contains(t, out, `local_name: "TIAGO-U105"`)
	assert.Contains(t, out, `service_uuid: "1809"`)
	assert.Contains(t, out, `service_data_uuid: "0xc1c5"`)
	assert.Contains(t, out, `service_data: "0102"`)
}

func TestPrintIdentitySkipsAbsentFields(t *testing.T) {
	out := captureOutput(t, func(cmd *cobra.Command) {
		printIdentity(cmd, bridge.AdvertisementIdentity{LocalName: "X"})
	})

	assert.Contains(t, out, `local_name: "X"`)
	assert.NotContains(t, out, "service_uuid")
	assert.NotContains(t, out, "service_data")
}

func TestPrintSurveySortsByRSSI(t *testing.T) {
	out := captureOutput(t, func(cmd *cobra.Command) {
		printSurvey(cmd, []scanner.Observation{
			{Address: "11:11:11:11:11:11", LocalName: "Far", RSSI: -90},
			{Address: "22:22:22:22:22:22", LocalName: "Near", RSSI: -40},
		})
	})

	near := bytes.Index([]byte(out), []byte("Near"))
	far := bytes.Index([]byte(out), []byte("Far"))
	assert.Greater(t, far, near, "stronger signal listed first")
	assert.Contains(t, out, "ADDRESS")
}
