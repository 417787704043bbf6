package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "blemirror",
	Short: "BLE device-in-the-middle bridge",
	Long: `BLE device-in-the-middle bridge that:

- Connects to a target device as a GATT client and mirrors its profile
- Advertises the target's identity and serves the mirror to a mobile app
- Relays writes and notifications between the two links unmodified
- Captures a target's advertising identity off the air
- Streams relayed traffic to websocket observers for inspection

Intended for protocol analysis of BLE accessories whose mobile apps
pin a specific peripheral identity.`,
	Version: formatVersion(version),
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}

func init() {
	// Silence Cobra's "Error:" prefix - main() prints clean errors
	rootCmd.SilenceErrors = true

	rootCmd.AddCommand(bridgeCmd)
	rootCmd.AddCommand(captureCmd)

	rootCmd.PersistentFlags().String("log-level", "", "Log level (trace, debug, info, warn, error)")

	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
}
