package goble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blinds/internal/groutine"
	"github.com/srg/blinds/pkg/blind"
)

const (
	DefaultConnectAttempts = 3
	DefaultConnectTimeout  = 20 * time.Second
	DefaultScanTimeout     = 10 * time.Second

	// resolvePollInterval is how often Resolve checks the advertisement table while a watch owns the radio
	resolvePollInterval = 100 * time.Millisecond
)

// Options configures the go-ble transport.
type Options struct {
	ConnectAttempts int
	ConnectTimeout  time.Duration
	ScanTimeout     time.Duration
}

// DefaultOptions returns transport options with package defaults applied.
func DefaultOptions() Options {
	return Options{
		ConnectAttempts: DefaultConnectAttempts,
		ConnectTimeout:  DefaultConnectTimeout,
		ScanTimeout:     DefaultScanTimeout,
	}
}

// Transport implements blind.Transport on top of github.com/go-ble/ble.
// A single ble.Device is created lazily and shared by every session.
type Transport struct {
	opts   Options
	logger *logrus.Logger

	mu       sync.Mutex
	dev      ble.Device
	watching bool

	// scanMu serializes scans; the HCI and CoreBluetooth backends allow only one at a time
	scanMu sync.Mutex

	// seen maps normalized addresses to the latest handle observed in an advertisement
	seen *hashmap.Map[string, blind.DeviceHandle]
}

// NewTransport creates a transport. Zero option fields fall back to defaults.
func NewTransport(opts Options, logger *logrus.Logger) *Transport {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.ConnectAttempts <= 0 {
		opts.ConnectAttempts = DefaultConnectAttempts
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.ScanTimeout <= 0 {
		opts.ScanTimeout = DefaultScanTimeout
	}
	return &Transport{
		opts:   opts,
		logger: logger,
		seen:   hashmap.New[string, blind.DeviceHandle](),
	}
}

// device returns the shared ble.Device, creating it on first use.
func (t *Transport) device() (ble.Device, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.dev != nil {
		return t.dev, nil
	}

	dev, err := DeviceFactory()
	if err != nil {
		t.logger.WithField("error", err).Error("Failed to create BLE device")
		return nil, NormalizeError("init", err)
	}
	t.dev = dev
	return dev, nil
}

// Seen returns the last advertised handle for address, if any.
func (t *Transport) Seen(address string) (blind.DeviceHandle, bool) {
	return t.seen.Get(blind.NormalizeAddress(address))
}

func (t *Transport) remember(h blind.DeviceHandle) {
	t.seen.Set(h.Address, h)
}

// Resolve finds the device with the given address in the advertisement table,
// scanning for up to ScanTimeout when it has not been seen yet.
func (t *Transport) Resolve(ctx context.Context, address string) (blind.DeviceHandle, error) {
	address = blind.NormalizeAddress(address)
	if address == "" {
		return blind.DeviceHandle{}, blind.NewError(blind.KindNotFound, "resolve", errors.New("device address is empty"))
	}
	if h, ok := t.seen.Get(address); ok {
		return h, nil
	}

	logger := t.logger.WithField("address", address)
	logger.Debug("Scanning for device...")

	scanCtx, cancel := context.WithTimeout(ctx, t.opts.ScanTimeout)
	defer cancel()

	var err error
	if t.isWatching() {
		err = t.awaitAdvertisement(scanCtx, address)
	} else {
		err = t.scan(scanCtx, func(adv ble.Advertisement) {
			h := NewDeviceHandle(adv)
			t.remember(h)
			if h.Address == address {
				cancel()
			}
		})
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return blind.DeviceHandle{}, ctxErr
	}
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return blind.DeviceHandle{}, NormalizeError("resolve", err)
	}

	h, ok := t.seen.Get(address)
	if !ok {
		logger.WithField("timeout", t.opts.ScanTimeout).Debug("Device not seen during scan")
		return blind.DeviceHandle{}, blind.NewError(blind.KindNotFound, "resolve",
			fmt.Errorf("no advertisement from %s within %s", address, t.opts.ScanTimeout))
	}
	return h, nil
}

// awaitAdvertisement polls the table populated by a running watch.
func (t *Transport) awaitAdvertisement(ctx context.Context, address string) error {
	ticker := time.NewTicker(resolvePollInterval)
	defer ticker.Stop()
	for {
		if _, ok := t.seen.Get(address); ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (t *Transport) isWatching() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.watching
}

func (t *Transport) scan(ctx context.Context, handler func(ble.Advertisement)) error {
	dev, err := t.device()
	if err != nil {
		return err
	}

	t.scanMu.Lock()
	defer t.scanMu.Unlock()

	return dev.Scan(ctx, true, handler)
}

// Connect dials the device, retrying up to ConnectAttempts times with a
// per-attempt ConnectTimeout, and discovers its GATT profile.
// onDisconnect is invoked once if the link drops without Disconnect being called.
func (t *Transport) Connect(ctx context.Context, h blind.DeviceHandle, onDisconnect func()) (blind.Session, error) {
	dev, err := t.device()
	if err != nil {
		return nil, err
	}

	logger := t.logger.WithFields(logrus.Fields{
		"address": h.Address,
		"name":    h.DisplayName(),
	})

	var lastErr error
	timeouts := 0
	for attempt := 1; attempt <= t.opts.ConnectAttempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		logger.WithFields(logrus.Fields{
			"attempt": attempt,
			"timeout": t.opts.ConnectTimeout,
		}).Debug("Dialing BLE device...")

		attemptCtx, cancel := context.WithTimeout(ctx, t.opts.ConnectTimeout)
		client, dialErr := dev.Dial(attemptCtx, ble.NewAddr(h.Address))
		timedOut := errors.Is(attemptCtx.Err(), context.DeadlineExceeded)
		cancel()

		if dialErr != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if timedOut {
				timeouts++
			}
			lastErr = dialErr
			logger.WithFields(logrus.Fields{
				"attempt": attempt,
				"error":   dialErr,
			}).Debug("Dial attempt failed")
			continue
		}

		session, sessErr := newSession(ctx, client, h.Address, onDisconnect, t.logger)
		if sessErr != nil {
			if cancelErr := client.CancelConnection(); cancelErr != nil {
				logger.WithField("cancel_error", cancelErr).Warn("Failed to cancel connection during profile discovery failure")
			}
			lastErr = sessErr
			continue
		}

		logger.WithField("attempt", attempt).Info("BLE device connected")
		return session, nil
	}

	if timeouts == t.opts.ConnectAttempts {
		return nil, blind.NewError(blind.KindNotFound, "connect",
			fmt.Errorf("device %s did not answer after %d attempts: %w", h.Address, timeouts, lastErr))
	}
	return nil, NormalizeError("connect", lastErr)
}

// Close stops the shared ble.Device.
func (t *Transport) Close() error {
	t.mu.Lock()
	dev := t.dev
	t.dev = nil
	t.mu.Unlock()

	if dev == nil {
		return nil
	}
	return NormalizeError("close", dev.Stop())
}

// watchState flips the watching flag and returns a release func.
func (t *Transport) watchState() func() {
	t.mu.Lock()
	t.watching = true
	t.mu.Unlock()
	return func() {
		t.mu.Lock()
		t.watching = false
		t.mu.Unlock()
	}
}

// await runs fn off the caller goroutine and stops waiting when ctx is done.
func await[T any](ctx context.Context, name string, fn func() (T, error)) (T, error) {
	type result struct {
		value T
		err   error
	}
	ch := make(chan result, 1)
	groutine.Go(ctx, name, func(context.Context) {
		v, err := fn()
		ch <- result{value: v, err: err}
	})

	select {
	case r := <-ch:
		return r.value, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
