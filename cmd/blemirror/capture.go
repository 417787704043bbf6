package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/srg/blemirror/internal/bridge"
	"github.com/srg/blemirror/internal/scanner"
	"github.com/srg/blemirror/internal/stack/goble"
	"github.com/srg/blemirror/pkg/config"
)

var (
	captureAddress  string
	captureDuration time.Duration
	captureAdapter  int
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Record a device's advertising identity off the air",
	Long: `Scans for advertisements and prints what it hears.

With --address, waits until the device's name and service data have both
been seen, then prints an identity block ready to paste into the config.
Without --address, surveys every device in range for the scan duration.`,
	RunE: runCapture,
}

func init() {
	captureCmd.Flags().StringVarP(&captureAddress, "address", "a", "", "MAC address of the device to capture")
	captureCmd.Flags().DurationVarP(&captureDuration, "duration", "d", 10*time.Second, "How long to scan")
	captureCmd.Flags().IntVar(&captureAdapter, "adapter", 0, "HCI adapter to scan with")
}

func runCapture(cmd *cobra.Command, args []string) error {
	cfg := config.New()
	if flag, err := cmd.Flags().GetString("log-level"); err == nil && flag != "" {
		cfg.Log.Level = flag
	}
	logger := cfg.NewLogger()

	cmd.SilenceUsage = true

	dev, err := goble.DeviceFactory(captureAdapter)
	if err != nil {
		return fmt.Errorf("opening adapter hci%d: %w", captureAdapter, err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := scanner.NewScanner(logger)
	opts := scanner.DefaultOptions()
	opts.Address = captureAddress
	opts.Duration = captureDuration

	identity, err := s.Capture(ctx, dev, opts)
	if err != nil {
		return err
	}

	if captureAddress != "" {
		printIdentity(cmd, identity)
		return nil
	}
	printSurvey(cmd, s.Observations())
	return nil
}

// printIdentity emits a config identity block for the captured device.
func printIdentity(cmd *cobra.Command, identity bridge.AdvertisementIdentity) {
	heading := color.New(color.FgGreen, color.Bold)
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		heading.DisableColor()
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, heading.Sprint("Captured identity, paste into the config:"))
	fmt.Fprintln(out)
	fmt.Fprintln(out, "identity:")
	fmt.Fprintf(out, "  local_name: %q\n", identity.LocalName)
	if identity.ServiceUUID != "" {
		fmt.Fprintf(out, "  service_uuid: %q\n", identity.ServiceUUID)
	}
	if identity.ServiceDataUUID != 0 {
		fmt.Fprintf(out, "  service_data_uuid: \"0x%04x\"\n", identity.ServiceDataUUID)
		fmt.Fprintf(out, "  service_data: %q\n", hex.EncodeToString(identity.ServiceData))
	}
}

// printSurvey lists everything sighted, strongest signal first.
func printSurvey(cmd *cobra.Command, observations []scanner.Observation) {
	sort.Slice(observations, func(i, j int) bool {
		return observations[i].RSSI > observations[j].RSSI
	})

	// tabwriter counts ANSI escapes toward cell width, so the table stays plain
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ADDRESS\tNAME\tSERVICES\tRSSI\tCONNECTABLE")
	for _, obs := range observations {
		name := obs.LocalName
		if name == "" {
			name = "-"
		}
		services := strings.Join(obs.ServiceUUIDs, ",")
		if services == "" {
			services = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%v\n", obs.Address, name, services, obs.RSSI, obs.Connectable)
	}
	w.Flush()
}
