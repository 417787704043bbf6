package main

import (
	"errors"
	"fmt"

	"github.com/srg/blemirror/internal/bridge"
)

// FormatUserError converts internal errors into actionable messages for the
// terminal. Anything unrecognized passes through unchanged.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	var berr *bridge.Error
	if errors.As(err, &berr) {
		switch berr.Code {
		case bridge.ConnectTimeout:
			return fmt.Sprintf("target did not answer the connection request (%s)\n"+
				"Check that the device is powered, in range, and not already connected to a phone.", err)
		case bridge.ConnectRejected:
			return fmt.Sprintf("target refused the connection (%s)", err)
		case bridge.DiscoveryFailed:
			return fmt.Sprintf("connected to the target but could not read its attribute table (%s)", err)
		case bridge.AdvertiseConfig:
			return fmt.Sprintf("advertising identity is unusable (%s)\n"+
				"Fix the identity section of the config, or use 'capture' to record one off the air.", err)
		}
	}

	return err.Error()
}
