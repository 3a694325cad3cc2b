package goble

import (
	"sort"

	"github.com/go-ble/ble"
	"github.com/srg/blinds/pkg/blind"
)

// BLECharacteristic exposes a discovered go-ble characteristic as a blind.Characteristic.
type BLECharacteristic struct {
	uuid    string
	BLEChar *ble.Characteristic
}

func (c *BLECharacteristic) UUID() string {
	return c.uuid
}

// CanRead reports whether the characteristic advertises the read property.
func (c *BLECharacteristic) CanRead() bool {
	return c.BLEChar.Property&ble.CharRead != 0
}

// CanNotify reports whether the characteristic supports notify or indicate.
func (c *BLECharacteristic) CanNotify() bool {
	return c.BLEChar.Property&(ble.CharNotify|ble.CharIndicate) != 0
}

// BLEService is one discovered GATT service.
type BLEService struct {
	uuid            string
	characteristics []blind.Characteristic
}

func (s *BLEService) UUID() string {
	return s.uuid
}

func (s *BLEService) Characteristics() []blind.Characteristic {
	return s.characteristics
}

// newCatalogue converts a go-ble profile into the blind catalogue, sorted by UUID.
func newCatalogue(profile *ble.Profile) []blind.Service {
	if profile == nil {
		return nil
	}

	services := make([]blind.Service, 0, len(profile.Services))
	for _, bleSvc := range profile.Services {
		svc := &BLEService{uuid: blind.NormalizeUUID(bleSvc.UUID.String())}
		for _, bleChar := range bleSvc.Characteristics {
			svc.characteristics = append(svc.characteristics, &BLECharacteristic{
				uuid:    blind.NormalizeUUID(bleChar.UUID.String()),
				BLEChar: bleChar,
			})
		}
		sort.Slice(svc.characteristics, func(i, j int) bool {
			return svc.characteristics[i].UUID() < svc.characteristics[j].UUID()
		})
		services = append(services, svc)
	}
	sort.Slice(services, func(i, j int) bool {
		return services[i].UUID() < services[j].UUID()
	})
	return services
}
