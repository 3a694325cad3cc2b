package blind

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
)

// OperationGate lets exactly one device operation run at a time. Waiters queue on a
// one-slot channel, which the runtime services in arrival order.
type OperationGate struct {
	slot   chan struct{}
	logger *logrus.Logger
}

func NewOperationGate(logger *logrus.Logger) *OperationGate {
	if logger == nil {
		logger = logrus.New()
	}
	return &OperationGate{
		slot:   make(chan struct{}, 1),
		logger: logger,
	}
}

// Do runs fn while holding the gate. Failures are logged by category and returned
// unchanged; the gate never retries.
func (g *OperationGate) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	select {
	case g.slot <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-g.slot }()

	err := fn(ctx)
	if err == nil {
		return nil
	}

	entry := g.logger.WithFields(logrus.Fields{
		"operation": op,
		"error":     err,
	})
	switch {
	case errors.Is(err, ErrDeviceNotFound):
		entry.Error("Device not found or unreachable")
	case errors.Is(err, ErrCharacteristicMissing):
		entry.Error("Required characteristic missing")
	case IsTransportFailure(err):
		entry.Warn("Communication with device failed")
	default:
		entry.Debug("Operation failed")
	}
	return err
}
