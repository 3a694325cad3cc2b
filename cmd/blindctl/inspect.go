package main

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/blinds/inspector"
)

// inspectCmd represents the inspect command
var inspectCmd = &cobra.Command{
	Use:   "inspect [device-address]",
	Short: "List the services and characteristics of a blind",
	Long: fmt.Sprintf(`Connects to a device once, discovers its GATT services and characteristics and
marks the ones the blind profile uses. Useful when commands fail with a
characteristic-missing error.

Examples:
  blindctl inspect %s

  # Bypass the platform's GATT cache
  blindctl inspect %s --refresh

%s`, exampleDeviceAddress, exampleDeviceAddress, deviceAddressNote),
	Args: cobra.MaximumNArgs(1),
	RunE: runInspect,
}

var (
	inspectTimeout time.Duration
	inspectRefresh bool
	inspectVerbose bool
)

func init() {
	inspectCmd.Flags().DurationVar(&inspectTimeout, "timeout", 30*time.Second, "Overall inspection timeout")
	inspectCmd.Flags().BoolVar(&inspectRefresh, "refresh", false, "Force a live service re-discovery")
	inspectCmd.Flags().BoolVarP(&inspectVerbose, "verbose", "v", false, "Verbose output")
}

func runInspect(cmd *cobra.Command, args []string) error {
	address := ""
	if len(args) > 0 {
		address = args[0]
	}

	env, err := newCommandEnv(cmd, address, logrus.PanicLevel)
	if err != nil {
		return err
	}
	if inspectVerbose && !cmd.Flags().Changed("log-level") {
		env.logger.SetLevel(logrus.DebugLevel)
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, cancel := signalContext(cmd)
	defer cancel()
	defer func() { _ = env.transport.Close() }()

	progress := NewProgressPrinter(cmd.ErrOrStderr(), fmt.Sprintf("Inspecting device %s", env.cfg.Address), "Scanning", "Processing results", "Failed")
	progress.Start()
	defer progress.Stop()

	opts := &inspector.Options{
		Profile: env.cfg.Profile(),
		Refresh: inspectRefresh,
		Timeout: inspectTimeout,
	}
	report, err := inspector.Inspect(ctx, env.transport, env.cfg.Address, opts, env.logger, progress.Callback())
	if err != nil {
		return err
	}

	progress.Stop()
	printReport(cmd.OutOrStdout(), report)
	return nil
}

func printReport(out io.Writer, r *inspector.Report) {
	marker := color.New(color.FgGreen).SprintFunc()
	warn := color.New(color.FgYellow).SprintFunc()

	fmt.Fprintf(out, "Device: %s (%s)\n", r.Device.DisplayName(), r.Device.Address)
	for _, svc := range r.Services {
		if svc.BlindService {
			fmt.Fprintf(out, "Service %s %s\n", svc.UUID, marker("[blind]"))
		} else {
			fmt.Fprintf(out, "Service %s\n", svc.UUID)
		}
		for _, c := range svc.Characteristics {
			if c.Role != inspector.RoleNone {
				fmt.Fprintf(out, "  %s %s\n", c.UUID, marker("["+string(c.Role)+"]"))
			} else {
				fmt.Fprintf(out, "  %s\n", c.UUID)
			}
		}
	}

	if r.Resolved {
		fmt.Fprintln(out, marker("Position characteristics resolved"))
	} else {
		fmt.Fprintln(out, warn("Position characteristics NOT found; check the service and characteristic UUIDs in the config"))
	}
}
