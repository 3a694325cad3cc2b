package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/blinds/internal/coordinator"
	"github.com/srg/blinds/pkg/blind"
)

var runCmd = &cobra.Command{
	Use:   "run <device-address>",
	Short: "Keep a session with the blind and follow its position",
	Long: fmt.Sprintf(`Starts a long-running session: the blind is polled periodically, its
advertisements keep the signal strength current, and every position change
or availability change is printed until Ctrl+C.

Examples:
  # Follow a blind with the default 15s poll interval
  blindctl run %s

  # Poll every 5 seconds
  blindctl run %s --interval 5s

%s`, exampleDeviceAddress, exampleDeviceAddress, deviceAddressNote),
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

var runInterval time.Duration

func init() {
	runCmd.Flags().DurationVar(&runInterval, "interval", 0, "Poll interval (overrides update_interval from config)")
}

func runRun(cmd *cobra.Command, args []string) error {
	env, err := newCommandEnv(cmd, args[0], logrus.InfoLevel)
	if err != nil {
		return err
	}
	if runInterval > 0 {
		env.cfg.UpdateInterval = runInterval
	}
	cmd.SilenceUsage = true

	ctx, cancel := signalContext(cmd)
	defer cancel()
	defer func() { _ = env.transport.Close() }()

	var session *blind.DeviceSession
	coord := coordinator.New(env.transport, env.transport, func(h blind.DeviceHandle) coordinator.Session {
		session = blind.NewDeviceSession(env.transport, h, env.cfg.SessionOptions(env.logger))
		return session
	}, env.cfg.CoordinatorOptions(env.logger))

	printer := newUpdatePrinter(cmd.OutOrStdout())
	coord.AddListener(printer.print)

	if err := coord.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		if err := coord.Stop(stopCtx); err != nil {
			env.logger.WithField("error", err).Warn("Failed to stop coordinator")
		}
	}()

	unregister := session.RegisterCallback(func(pos uint16) {
		env.logger.WithField("position", pos).Debug("Position callback")
	})
	defer unregister()

	<-ctx.Done()
	fmt.Fprintln(cmd.OutOrStdout(), "\nStopping...")
	return nil
}

// updatePrinter prints coordinator updates, highlighting availability changes.
type updatePrinter struct {
	out       io.Writer
	available *bool
	last      *uint16

	ok   *color.Color
	warn *color.Color
	info *color.Color
}

func newUpdatePrinter(out io.Writer) *updatePrinter {
	return &updatePrinter{
		out:  out,
		ok:   color.New(color.FgGreen),
		warn: color.New(color.FgRed),
		info: color.New(color.FgCyan),
	}
}

func (p *updatePrinter) print(u coordinator.Update) {
	ts := u.At.Format(time.TimeOnly)
	available := u.Err == nil

	if p.available == nil || *p.available != available {
		if available {
			p.ok.Fprintf(p.out, "%s available\n", ts)
		} else {
			p.warn.Fprintf(p.out, "%s unavailable: %s\n", ts, FormatUserError(u.Err))
		}
		p.available = &available
	}
	if !available {
		return
	}

	if p.last == nil || *p.last != u.Position {
		pos := u.Position
		p.info.Fprintf(p.out, "%s position %d\n", ts, pos)
		p.last = &pos
	}
}
