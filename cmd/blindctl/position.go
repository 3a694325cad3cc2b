package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/srg/blinds/pkg/blind"
)

var getCmd = &cobra.Command{
	Use:   "get <device-address>",
	Short: "Read the current blind position",
	Long: fmt.Sprintf(`Connects to the blind and reads its current position.

Examples:
  # Read position
  blindctl get %s

  # Also read the device name
  blindctl get %s --name

%s`, exampleDeviceAddress, exampleDeviceAddress, deviceAddressNote),
	Args: cobra.ExactArgs(1),
	RunE: runGet,
}

var setCmd = &cobra.Command{
	Use:   "set <device-address> <position>",
	Short: "Move the blind to a position",
	Long: fmt.Sprintf(`Writes a target position to the blind. 0 is closed, 100 is fully open.

Examples:
  # Half open
  blindctl set %s 50

  # Position may also be given as "open" or "closed"
  blindctl set %s open

%s`, exampleDeviceAddress, exampleDeviceAddress, deviceAddressNote),
	Args: cobra.ExactArgs(2),
	RunE: runSet,
}

var openCmd = &cobra.Command{
	Use:   "open <device-address>",
	Short: "Fully open the blind",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMove(cmd, args[0], blind.PositionOpen)
	},
}

var closeCmd = &cobra.Command{
	Use:   "close <device-address>",
	Short: "Fully close the blind",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMove(cmd, args[0], blind.PositionClosed)
	},
}

var getName bool

func init() {
	getCmd.Flags().BoolVar(&getName, "name", false, "Also read the device name characteristic")
}

func runGet(cmd *cobra.Command, args []string) error {
	return withSession(cmd, args[0], func(ctx context.Context, s *blind.DeviceSession) error {
		pos, err := s.GetPosition(ctx)
		if err != nil {
			return err
		}
		printPosition(cmd, s.Handle(), pos)

		if getName {
			name, err := s.Name(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Name: %s\n", name)
		}
		return nil
	})
}

func runSet(cmd *cobra.Command, args []string) error {
	pos, err := parsePosition(args[1])
	if err != nil {
		return err
	}
	return runMove(cmd, args[0], pos)
}

func runMove(cmd *cobra.Command, address string, pos uint16) error {
	return withSession(cmd, address, func(ctx context.Context, s *blind.DeviceSession) error {
		if err := s.SetPosition(ctx, pos); err != nil {
			return err
		}
		printPosition(cmd, s.Handle(), pos)
		return nil
	})
}

// parsePosition accepts a 16-bit integer or the words open/closed.
func parsePosition(arg string) (uint16, error) {
	switch strings.ToLower(strings.TrimSpace(arg)) {
	case "open":
		return blind.PositionOpen, nil
	case "close", "closed":
		return blind.PositionClosed, nil
	}

	v, err := strconv.ParseUint(strings.TrimSpace(arg), 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid position %q: must be an integer between 0 and 65535, \"open\" or \"closed\"", arg)
	}
	return uint16(v), nil
}
