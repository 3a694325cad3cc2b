package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/srg/blinds/internal/coordinator"
	"github.com/srg/blinds/pkg/blind"
)

// FormatUserError turns session errors into a short actionable message.
func FormatUserError(err error) string {
	var notReady *coordinator.NotReadyError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &notReady):
		return fmt.Sprintf("blind %s is not ready: %s", notReady.Address, notReady.Reason)
	case errors.Is(err, blind.ErrDeviceNotFound):
		return "blind not found: make sure it is powered and within Bluetooth range"
	case errors.Is(err, blind.ErrCharacteristicMissing):
		return "device does not expose the blind position characteristics (wrong device or firmware?)"
	case errors.Is(err, blind.ErrDecode):
		return fmt.Sprintf("blind returned an unexpected payload: %v", err)
	case errors.Is(err, blind.ErrSoftTransient), errors.Is(err, blind.ErrTransport):
		return fmt.Sprintf("communication with the blind failed, try again: %v", err)
	case errors.Is(err, context.DeadlineExceeded):
		return "operation timed out"
	default:
		return err.Error()
	}
}
