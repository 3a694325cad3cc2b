package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	goble "github.com/srg/blinds/internal/device/go-ble"
	"github.com/srg/blinds/pkg/blind"
	"github.com/srg/blinds/pkg/config"
)

// deviceTransport is what the commands need from the BLE backend.
type deviceTransport interface {
	blind.Transport
	Watch(ctx context.Context, address string, handler func(blind.DeviceHandle)) error
	Discover(ctx context.Context, serviceUUID string, duration time.Duration) ([]blind.DeviceHandle, error)
	Close() error
}

// newTransport creates the BLE transport (can be overridden in tests)
var newTransport = func(cfg *config.Config, logger *logrus.Logger) deviceTransport {
	return goble.NewTransport(cfg.TransportOptions(), logger)
}

// commandEnv carries what every command builds before talking to a blind.
type commandEnv struct {
	cfg       *config.Config
	logger    *logrus.Logger
	transport deviceTransport
}

// newCommandEnv loads config, applies the address argument and builds the logger.
// fallback is the log level used when --log-level is not given.
func newCommandEnv(cmd *cobra.Command, address string, fallback logrus.Level) (*commandEnv, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if address != "" {
		cfg.Address = address
	}
	if path != "" && !cmd.Flags().Changed("log-level") {
		fallback = cfg.LogLevel
	}

	logger, err := configureLogger(cmd, "", fallback)
	if err != nil {
		return nil, err
	}
	return &commandEnv{
		cfg:       cfg,
		logger:    logger,
		transport: newTransport(cfg, logger),
	}, nil
}

// signalContext is cancelled on Ctrl+C or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

// withSession resolves the blind, runs fn with a fresh session and tears everything down afterwards.
func withSession(cmd *cobra.Command, address string, fn func(ctx context.Context, s *blind.DeviceSession) error) error {
	env, err := newCommandEnv(cmd, address, logrus.PanicLevel)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, cancel := signalContext(cmd)
	defer cancel()
	defer func() {
		if err := env.transport.Close(); err != nil {
			env.logger.WithField("error", err).Debug("Failed to close BLE transport")
		}
	}()

	h, err := env.transport.Resolve(ctx, env.cfg.Address)
	if err != nil {
		return err
	}

	session := blind.NewDeviceSession(env.transport, h, env.cfg.SessionOptions(env.logger))
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		if err := session.Stop(stopCtx); err != nil {
			env.logger.WithField("error", err).Debug("Failed to stop session")
		}
	}()

	return fn(ctx, session)
}

func printPosition(cmd *cobra.Command, h blind.DeviceHandle, pos uint16) {
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d\n", h.DisplayName(), pos)
}
