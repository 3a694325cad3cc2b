package goble

import (
	"context"
	"errors"
	"strings"

	"github.com/srg/blinds/pkg/blind"
)

// NormalizeError maps go-ble error strings onto the blind error taxonomy.
// It keeps the original error as the cause so callers can still inspect it.
func NormalizeError(op string, err error) error {
	if err == nil {
		return nil
	}

	var berr *blind.Error
	if errors.As(err, &berr) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	return blind.NewError(classify(err), op, err)
}

func classify(err error) blind.ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return blind.KindTransport
	}

	msg := err.Error()
	switch {
	case msg == "central manager has invalid state: have=4 want=5: is Bluetooth turned on?":
		return blind.KindNotFound
	case containsIgnoreCase(msg, "bluetooth is turned off"):
		return blind.KindNotFound
	case containsIgnoreCase(msg, "no such device"),
		containsIgnoreCase(msg, "device not found"),
		containsIgnoreCase(msg, "can't dial"):
		return blind.KindNotFound
	case containsIgnoreCase(msg, "in progress"),
		containsIgnoreCase(msg, "busy"),
		containsIgnoreCase(msg, "resource temporarily unavailable"),
		containsIgnoreCase(msg, "command disallowed"):
		return blind.KindSoftTransient
	default:
		// disconnected, not connected, ATT errors and everything else
		return blind.KindTransport
	}
}

// containsIgnoreCase checks the substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
