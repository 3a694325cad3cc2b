package goble

import (
	"github.com/go-ble/ble"
	"github.com/srg/blinds/pkg/blind"
)

// NewDeviceHandle builds a device handle from a received advertisement.
func NewDeviceHandle(adv ble.Advertisement) blind.DeviceHandle {
	rssi := adv.RSSI()
	return blind.DeviceHandle{
		Address: blind.NormalizeAddress(adv.Addr().String()),
		Name:    adv.LocalName(),
		RSSI:    &rssi,
	}
}

// advertisesService reports whether adv lists the given normalized service UUID.
func advertisesService(adv ble.Advertisement, uuid string) bool {
	for _, u := range adv.Services() {
		if blind.NormalizeUUID(u.String()) == uuid {
			return true
		}
	}
	return false
}
