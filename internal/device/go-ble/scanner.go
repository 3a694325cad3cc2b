package goble

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blinds/pkg/blind"
)

// Watch passively scans until ctx is done, reporting every advertisement from
// address to handler. Resolve calls made meanwhile are served from the same scan.
func (t *Transport) Watch(ctx context.Context, address string, handler func(blind.DeviceHandle)) error {
	address = blind.NormalizeAddress(address)
	release := t.watchState()
	defer release()

	t.logger.WithField("address", address).Debug("Watching advertisements")

	err := t.scan(ctx, func(adv ble.Advertisement) {
		h := NewDeviceHandle(adv)
		t.remember(h)
		if h.Address == address && handler != nil {
			handler(h)
		}
	})
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return NormalizeError("watch", err)
}

// Discover scans for duration and returns every device advertising serviceUUID,
// strongest signal first. An empty serviceUUID matches every device.
func (t *Transport) Discover(ctx context.Context, serviceUUID string, duration time.Duration) ([]blind.DeviceHandle, error) {
	if duration <= 0 {
		duration = t.opts.ScanTimeout
	}
	serviceUUID = blind.NormalizeUUID(serviceUUID)
	found := hashmap.New[string, blind.DeviceHandle]()

	scanCtx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	t.logger.WithFields(logrus.Fields{
		"service":  serviceUUID,
		"duration": duration,
	}).Info("Scanning for devices...")

	err := t.scan(scanCtx, func(adv ble.Advertisement) {
		h := NewDeviceHandle(adv)
		t.remember(h)
		if serviceUUID != "" && !advertisesService(adv, serviceUUID) {
			return
		}
		if prev, ok := found.Get(h.Address); ok && h.Name == "" {
			h.Name = prev.Name
		}
		found.Set(h.Address, h)
	})
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return nil, NormalizeError("scan", err)
	}

	devices := make([]blind.DeviceHandle, 0, found.Len())
	found.Range(func(_ string, h blind.DeviceHandle) bool {
		devices = append(devices, h)
		return true
	})
	sort.Slice(devices, func(i, j int) bool {
		return rssiOf(devices[i]) > rssiOf(devices[j])
	})
	return devices, nil
}

func rssiOf(h blind.DeviceHandle) int {
	if h.RSSI == nil {
		return -1 << 15
	}
	return *h.RSSI
}
