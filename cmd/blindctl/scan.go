package main

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Discover nearby blinds",
	Long: `Scans for devices advertising the blind service and lists them, strongest signal first.

Examples:
  # Scan for 10 seconds
  blindctl scan

  # Scan for 5 seconds and list every BLE device
  blindctl scan --duration 5s --all`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var (
	scanDuration time.Duration
	scanAll      bool
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 10*time.Second, "Scan duration")
	scanCmd.Flags().BoolVar(&scanAll, "all", false, "List every device, not only blinds")
}

func runScan(cmd *cobra.Command, _ []string) error {
	env, err := newCommandEnv(cmd, "", logrus.PanicLevel)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	ctx, cancel := signalContext(cmd)
	defer cancel()
	defer func() { _ = env.transport.Close() }()

	service := env.cfg.ServiceUUID
	if scanAll {
		service = ""
	}

	progress := NewCountdownProgressPrinter(cmd.ErrOrStderr(), "Scanning for blinds", "Scanning", scanDuration)
	progress.Start()
	devices, err := env.transport.Discover(ctx, service, scanDuration)
	progress.Stop()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	out := cmd.OutOrStdout()
	if len(devices) == 0 {
		fmt.Fprintln(out, "No blinds found")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ADDRESS\tNAME\tRSSI")
	for _, d := range devices {
		rssi := "-"
		if d.RSSI != nil {
			rssi = fmt.Sprintf("%d dBm", *d.RSSI)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", d.Address, d.Name, rssi)
	}
	return w.Flush()
}
