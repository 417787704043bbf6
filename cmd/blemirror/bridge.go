package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/srg/blemirror/internal/bridge"
	"github.com/srg/blemirror/internal/groutine"
	"github.com/srg/blemirror/internal/scanner"
	"github.com/srg/blemirror/internal/stack/goble"
	"github.com/srg/blemirror/internal/tap"
	"github.com/srg/blemirror/pkg/config"
)

var bridgeConfigPath string

var bridgeCmd = &cobra.Command{
	Use:   "bridge",
	Short: "Bridge a mobile app to the target device",
	Long: `Connects to the configured target as a GATT client, mirrors its
attribute table on a second adapter, advertises the target's identity,
and relays traffic between the mobile app and the real device.

Runs until interrupted. The target link reconnects with bounded backoff;
a fresh mobile connection revives an exhausted retry budget.`,
	RunE: runBridge,
}

func init() {
	bridgeCmd.Flags().StringVarP(&bridgeConfigPath, "config", "c", "blemirror.yaml", "Path to the YAML configuration file")
}

func runBridge(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(bridgeConfigPath)
	if err != nil {
		return err
	}

	logger, err := buildLogger(cmd, cfg)
	if err != nil {
		return err
	}

	opts, err := cfg.SessionOptions()
	if err != nil {
		return err
	}

	// Past this point errors are operational, not usage mistakes
	cmd.SilenceUsage = true

	centralDev, err := goble.DeviceFactory(cfg.Adapters.Central)
	if err != nil {
		return fmt.Errorf("opening central adapter hci%d: %w", cfg.Adapters.Central, err)
	}
	peripheralDev, err := goble.DeviceFactory(cfg.Adapters.Peripheral)
	if err != nil {
		return fmt.Errorf("opening peripheral adapter hci%d: %w", cfg.Adapters.Peripheral, err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Identity.Capture {
		identity, err := captureIdentity(ctx, cfg, centralDev, logger)
		if err != nil {
			return err
		}
		opts.Identity = identity
	}

	// The ports post into the session's funnel; the indirection breaks the
	// construction cycle between the two.
	var session *bridge.Session
	post := func(ev bridge.Event) { session.Post(ev) }

	central := goble.NewCentral(centralDev, post, logger)
	peripheral := goble.NewPeripheral(peripheralDev, post, logger)
	session = bridge.NewSession(central, peripheral, opts, logger)

	if cfg.Tap.Enabled {
		hub := tap.NewHub(cfg.Tap.Addr, session.Forwarder().Stats, logger)
		session.SetTrafficSink(hub.Sink())
		groutine.Go(ctx, "tap-hub", func(ctx context.Context) {
			if err := hub.Run(ctx); err != nil {
				logger.WithError(err).Error("Traffic tap stopped")
			}
		})
	}

	printRunBanner(cmd, cfg, opts)

	return session.Run(ctx)
}

// captureIdentity records the live target's advertising identity before the
// bridge takes its place on the air.
func captureIdentity(ctx context.Context, cfg *config.Config, dev scanner.ScanningDevice, logger *logrus.Logger) (bridge.AdvertisementIdentity, error) {
	capOpts := scanner.DefaultOptions()
	capOpts.Address = cfg.Target.Address
	if d := cfg.Identity.CaptureDuration.Std(); d > 0 {
		capOpts.Duration = d
	}

	identity, err := scanner.NewScanner(logger).Capture(ctx, dev, capOpts)
	if err != nil {
		return identity, fmt.Errorf("capturing identity: %w", err)
	}
	if err := identity.Validate(); err != nil {
		return identity, fmt.Errorf("captured identity: %w", err)
	}
	return identity, nil
}

// printRunBanner summarizes the session on stdout before log output starts.
func printRunBanner(cmd *cobra.Command, cfg *config.Config, opts bridge.SessionOptions) {
	label := color.New(color.FgCyan)
	value := color.New(color.FgHiWhite, color.Bold)
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		label.DisableColor()
		value.DisableColor()
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %s\n", label.Sprint("Target:     "), value.Sprint(opts.Target.Address))
	fmt.Fprintf(out, "%s %s\n", label.Sprint("Posing as:  "), value.Sprint(opts.Identity.LocalName))
	fmt.Fprintf(out, "%s hci%d (central) / hci%d (peripheral)\n",
		label.Sprint("Adapters:   "), cfg.Adapters.Central, cfg.Adapters.Peripheral)
	if cfg.Tap.Enabled {
		fmt.Fprintf(out, "%s ws://%s/ws\n", label.Sprint("Traffic tap:"), cfg.Tap.Addr)
	}
}
